package audio

import (
	"os"
	"sync"
	"time"
)

const fakeBytesPerFrame = 2 // 16-bit mono

// FakeContext replaces the platform backends in test mode and unit tests.
// Capture either replays PCM (from a WAV file) or, in manual mode, only
// emits frames pushed through FakeCapture.Emit. Playback either pulls the
// renderer on a wall-clock ticker (realtime) or only when Advance is called.
type FakeContext struct {
	pcm      []byte
	realtime bool
	manual   bool

	// Injected acquisition failures.
	CaptureErr  error
	PlaybackErr error

	mu       sync.Mutex
	capture  *FakeCapture
	playback *FakePlayback
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

// NewManualContext returns a context whose devices only move when the test
// drives them.
func NewManualContext() *FakeContext {
	return &FakeContext{manual: true}
}

func (f *FakeContext) Devices(Kind) ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                             {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	if config.FrameSamples == 0 {
		config.FrameSamples = 1024
	}
	c := &FakeCapture{
		pcm:       f.pcm,
		realtime:  f.realtime,
		manual:    f.manual,
		config:    config,
		audioDone: make(chan struct{}),
	}
	f.mu.Lock()
	f.capture = c
	f.mu.Unlock()
	return c, nil
}

func (f *FakeContext) NewPlayback(_ *DeviceInfo, config PlaybackConfig, r Renderer) (PlaybackDevice, error) {
	if f.PlaybackErr != nil {
		return nil, f.PlaybackErr
	}
	p := &FakePlayback{config: config, renderer: r, realtime: f.realtime && !f.manual}
	f.mu.Lock()
	f.playback = p
	f.mu.Unlock()
	return p, nil
}

// Capture returns the most recently created capture device.
func (f *FakeContext) Capture() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capture
}

// Playback returns the most recently created playback device.
func (f *FakeContext) Playback() *FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playback
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	manual    bool
	config    CaptureConfig
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	started  bool
	stops    int
	closes   int
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

// Emit delivers one frame to the current callback, if any. It reports
// whether a callback was attached.
func (f *FakeCapture) Emit(frame []byte) bool {
	cb := f.callback()
	if cb == nil {
		return false
	}
	cb(frame, uint32(len(frame)/fakeBytesPerFrame))
	return true
}

// Attached reports whether a capture callback is wired.
func (f *FakeCapture) Attached() bool { return f.callback() != nil }

// Started reports whether Start ran and Stop has not.
func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Closes returns how many times Close was called.
func (f *FakeCapture) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, chunkBytes)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(chunkBytes/fakeBytesPerFrame))
	return end
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	if f.manual {
		close(f.feedDone)
		return nil
	}

	frameSamples := int(f.config.FrameSamples)
	chunkBytes := frameSamples * fakeBytesPerFrame
	rate := int(f.config.SampleRate)
	if rate == 0 {
		rate = 16000
	}
	interval := time.Duration(frameSamples) * time.Second / time.Duration(rate)
	if !f.realtime {
		interval = time.Millisecond
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			if cb := f.callback(); cb != nil {
				if pos < len(f.pcm) {
					pos = f.feedChunk(cb, pos, chunkBytes)
				} else {
					if !audioFinished {
						audioFinished = true
						close(f.audioDone)
					}
					cb(silence, uint32(frameSamples))
				}
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	f.started = false
	f.stops++
	f.mu.Unlock()
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

type FakePlayback struct {
	config   PlaybackConfig
	renderer Renderer
	realtime bool

	mu      sync.Mutex
	started bool
	closes  int
	peak    float32
	stopCh  chan struct{}
	done    chan struct{}
}

// Advance renders n output samples synchronously, as if the device pulled
// them.
func (p *FakePlayback) Advance(n int) {
	buf := make([]float32, n)
	p.renderer.Render(buf)
	p.mu.Lock()
	for _, v := range buf {
		if v < 0 {
			v = -v
		}
		if v > p.peak {
			p.peak = v
		}
	}
	p.mu.Unlock()
}

// Peak returns the largest absolute sample rendered so far.
func (p *FakePlayback) Peak() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

func (p *FakePlayback) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *FakePlayback) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *FakePlayback) Start() error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	if !p.realtime {
		return nil
	}
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	const tick = 20 * time.Millisecond
	n := int(p.config.SampleRate) * int(tick/time.Millisecond) / 1000
	go func() {
		defer close(p.done)
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-t.C:
				p.Advance(n)
			}
		}
	}()
	return nil
}

func (p *FakePlayback) Stop() {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
	if p.stopCh == nil {
		return
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.done
}

func (p *FakePlayback) Close() {
	p.Stop()
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
}

func (p *FakePlayback) DeviceName() string { return "fake" }
