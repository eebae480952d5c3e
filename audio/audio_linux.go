//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("jobm8"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices(kind Kind) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	if kind == KindPlayback {
		sinks, err := p.client.ListSinks()
		if err != nil {
			return nil, fmt.Errorf("pulse list sinks: %w", err)
		}
		for _, s := range sinks {
			devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
		}
		return devices, nil
	}
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if device != nil {
		if _, err := p.client.SourceByID(device.ID); err != nil {
			return nil, fmt.Errorf("pulse source %q: %w", device.Name, err)
		}
	}
	return &pulseCapture{
		client: p.client,
		device: device,
		config: config,
		framer: NewFramer(config.FrameSamples),
	}, nil
}

func (p *pulseContext) NewPlayback(device *DeviceInfo, config PlaybackConfig, r Renderer) (PlaybackDevice, error) {
	if device != nil {
		if _, err := p.client.SinkByID(device.ID); err != nil {
			return nil, fmt.Errorf("pulse sink %q: %w", device.Name, err)
		}
	}
	return &pulsePlayback{
		client:   p.client,
		device:   device,
		config:   config,
		renderer: r,
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]
	framer   *Framer

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := c.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		c.framer.Write(data, *cb)
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	}
	if c.device != nil {
		source, err := c.client.SourceByID(c.device.ID)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		<-c.stop
		stream.Stop()
		stream.Close()
	}()

	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}

type pulsePlayback struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   PlaybackConfig
	renderer Renderer

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (p *pulsePlayback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var scratch []float32
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cap(scratch) < len(buf) {
			scratch = make([]float32, len(buf))
		}
		out := scratch[:len(buf)]
		p.renderer.Render(out)
		for i, v := range out {
			buf[i] = floatToInt16(v)
		}
		return len(buf), nil
	})

	opts := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(int(p.config.SampleRate)),
		pulse.PlaybackLatency(0.08),
		pulse.PlaybackRawOption(func(r *proto.CreatePlaybackStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	}
	if p.device != nil {
		sink, err := p.client.SinkByID(p.device.ID)
		if err == nil && sink != nil {
			opts = append(opts, pulse.PlaybackSink(sink))
		}
	}

	stream, err := p.client.NewPlayback(reader, opts...)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}

	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		stream.Start()
		<-p.stop
		stream.Stop()
		stream.Close()
	}()

	return nil
}

func (p *pulsePlayback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		select {
		case <-p.stop:
		default:
			close(p.stop)
		}
		<-p.done
	}
}

func (p *pulsePlayback) Close() {
	p.Stop()
}

func (p *pulsePlayback) DeviceName() string {
	if p.device != nil {
		return p.device.Name
	}
	return "system default"
}
