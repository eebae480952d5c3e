package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"jobm8/audio"
	"jobm8/encoder"
	"jobm8/live"
	"jobm8/log"
	"jobm8/moderation"
	"jobm8/playback"
	"jobm8/transcript"
)

var (
	ErrAcquire       = errors.New("audio device unavailable")
	ErrTransportOpen = errors.New("transport open failed")
	ErrTransport     = errors.New("transport failed")
)

const (
	frameQueueSize = 64
	inboxSize      = 256
)

// A terminating session whose closing remark never arrives ends after this.
var terminateGrace = 10 * time.Second

// Transport is the part of a live connection the session drives.
type Transport interface {
	SendAudio(encoder.Chunk) bool
	SendToolResponse(...*genai.FunctionResponse) error
	Close() error
}

// Dialer opens a transport that reports to h. It is the only step of
// Start that waits on the network.
type Dialer func(ctx context.Context, setup live.Setup, h live.Handler) (Transport, error)

// LiveDialer adapts a live.Client.
func LiveDialer(c *live.Client) Dialer {
	return func(ctx context.Context, setup live.Setup, h live.Handler) (Transport, error) {
		conn, err := c.Open(ctx, setup, h)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type Config struct {
	Setup          live.Setup
	CaptureDevice  *audio.DeviceInfo
	PlaybackDevice *audio.DeviceInfo
	SampleRate     int // capture rate
	FrameSamples   int
	MuteRamp       time.Duration
	RecordDir      string // empty disables recording
}

type Deps struct {
	Audio audio.Context
	Dial  Dialer
	// NewRecorder creates the recording encoder when RecordDir is set.
	// Nil means FLAC.
	NewRecorder func() (encoder.Encoder, error)
}

// Observer is notified from the session goroutine. Implementations must not
// block.
type Observer interface {
	StatusChanged(Status)
	TranscriptUpdated([]transcript.Line)
}

// CaptionObserver is an optional Observer extension that receives the
// in-progress text of the current turn.
type CaptionObserver interface {
	CaptionsUpdated(user, agent string)
}

type nopObserver struct{}

func (nopObserver) StatusChanged(Status)                {}
func (nopObserver) TranscriptUpdated([]transcript.Line) {}

// Result is delivered to the completion handler exactly once.
type Result struct {
	ID          string
	Status      Status
	Lines       []transcript.Line
	Err         error
	Duration    time.Duration
	Moderations []moderation.Event
	Counts      map[moderation.ReasonCode]int // flags per reason
	Recording   string
}

type eventMsg struct{ ev live.Event }
type closeMsg struct{ err error }

// Session is one interview attempt. It is never restarted.
//
// All mutable state below the divider belongs to the run goroutine. Capture
// callbacks, transport events and playback completions only post to it.
type Session struct {
	id         string
	cfg        Config
	deps       Deps
	obs        Observer
	onComplete func(Result)

	sched    *playback.Scheduler
	status   atomic.Int32
	muted    atomic.Bool
	stopping atomic.Bool
	started  atomic.Bool

	frames   chan []byte
	inbox    chan any
	stopReq  chan struct{}
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}

	finishOnce  sync.Once
	releaseOnce sync.Once
	res         resources
	startedAt   time.Time

	droppedFrames atomic.Int64
	inputLevel    atomic.Uint64 // float64 bits

	// ---- owned by run ----
	enc          *encoder.FrameEncoder
	agg          *transcript.Aggregator
	mod          *moderation.Controller
	moderations  []moderation.Event
	terminating  bool
	grace        *time.Timer
	graceC       <-chan time.Time
	decodeErrors int
	recording    string
}

func New(cfg Config, deps Deps, obs Observer, onComplete func(Result)) *Session {
	if obs == nil {
		obs = nopObserver{}
	}
	if onComplete == nil {
		onComplete = func(Result) {}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = encoder.SampleRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = cfg.SampleRate / 10
	}
	s := &Session{
		id:         newID(),
		cfg:        cfg,
		deps:       deps,
		obs:        obs,
		onComplete: onComplete,
		sched:      playback.NewScheduler(playback.SampleRate),
		frames:     make(chan []byte, frameQueueSize),
		inbox:      make(chan any, inboxSize),
		stopReq:    make(chan struct{}),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		agg:        transcript.NewAggregator(),
		mod:        moderation.NewController(),
	}
	s.status.Store(int32(StatusConnecting))
	return s
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status { return Status(s.status.Load()) }

// Monitor exposes the output level and gain for visualizers.
func (s *Session) Monitor() playback.Monitor { return s.sched }

// Done is closed after the completion handler returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start acquires the devices and the transport and begins listening. On
// failure the session is already torn down, in status error, and the
// completion handler has run.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}
	s.startedAt = time.Now()
	log.SessionStart(s.id, s.cfg.Setup.Model, s.cfg.Setup.Voice, deviceName(s.cfg.CaptureDevice))

	if s.stopping.Load() {
		s.finish(StatusEnded, nil)
		return nil
	}
	if err := s.acquire(ctx); err != nil {
		s.finish(StatusError, err)
		return err
	}
	if s.muted.Load() {
		s.sched.SetMuted(true, 0)
	}

	s.setStatus(StatusListening)
	go s.run()
	return nil
}

func deviceName(d *audio.DeviceInfo) string {
	if d == nil {
		return "default"
	}
	return d.Name
}

// Stop ends the session. Capture stops feeding the transport immediately;
// playback is not drained. Safe to call any number of times from any
// goroutine.
func (s *Session) Stop() {
	s.stopping.Store(true)
	s.stopOnce.Do(func() { close(s.stopReq) })
}

// SetMuted ramps the interviewer's voice down or back up. It never touches
// capture or the transport.
func (s *Session) SetMuted(muted bool) {
	s.muted.Store(muted)
	s.sched.SetMuted(muted, s.cfg.MuteRamp)
}

func (s *Session) Muted() bool { return s.muted.Load() }

// InputLevel is the RMS of the last captured frame, in [0, 1].
func (s *Session) InputLevel() float64 {
	return math.Float64frombits(s.inputLevel.Load())
}

// onFrame runs on the capture thread.
func (s *Session) onFrame(data []byte, _ uint32) {
	if s.stopping.Load() {
		return
	}
	s.inputLevel.Store(math.Float64bits(audio.RMS(data)))
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case s.frames <- frame:
	default:
		s.droppedFrames.Add(1)
	}
}

// HandleEvent implements live.Handler.
func (s *Session) HandleEvent(ev live.Event) {
	s.post(eventMsg{ev})
}

// HandleClose implements live.Handler.
func (s *Session) HandleClose(err error) {
	s.post(closeMsg{err})
}

func (s *Session) post(m any) {
	select {
	case s.inbox <- m:
	case <-s.quit:
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.stopReq:
			s.finish(StatusEnded, nil)
			return
		case frame := <-s.frames:
			s.handleFrame(frame)
		case <-s.sched.Finished():
			s.handleFinished()
		case <-s.graceC:
			s.graceC = nil
			if s.sched.Pending() == 0 {
				log.Warnf("session %s: no closing remark after termination, ending", s.id)
				s.finish(StatusEnded, nil)
			}
		case m := <-s.inbox:
			switch m := m.(type) {
			case eventMsg:
				s.handleEvent(m.ev)
			case closeMsg:
				if m.err != nil {
					s.finish(StatusError, fmt.Errorf("%w: %w", ErrTransport, m.err))
				} else {
					s.finish(StatusEnded, nil)
				}
			}
		}
		if s.Status().Terminal() {
			return
		}
	}
}

func (s *Session) handleFrame(frame []byte) {
	if s.stopping.Load() {
		return
	}
	chunk, err := s.enc.Encode(frame)
	if err != nil {
		s.droppedFrames.Add(1)
		log.Warnf("session %s: encode frame: %v", s.id, err)
		return
	}
	s.res.transport.SendAudio(chunk)
	if s.res.recorder != nil {
		if err := s.res.recorder.Write(chunk.PCM); err != nil {
			log.Warnf("session %s: recorder: %v", s.id, err)
			s.res.recorder = nil
		}
	}
}

func (s *Session) handleEvent(ev live.Event) {
	switch ev := ev.(type) {
	case live.Transcript:
		s.agg.Append(ev.Speaker, ev.Text)
		if ev.Speaker == transcript.User && s.Status() == StatusListening {
			s.setStatus(StatusProcessing)
		}
		s.captions()

	case live.Audio:
		s.schedule(ev)

	case live.TurnComplete:
		if added := s.agg.Complete(); len(added) > 0 {
			for _, l := range added {
				log.TranscriptLine(s.id, l.Speaker.Label(), l.Text)
			}
			s.obs.TranscriptUpdated(s.agg.Lines())
		}
		s.captions()
		if s.Status() == StatusProcessing && s.sched.Pending() == 0 {
			s.setStatus(StatusListening)
		}

	case live.Interrupted:
		n := s.sched.Flush()
		log.Infof("session %s: barge-in, flushed %d items", s.id, n)
		s.drained()

	case live.ToolCall:
		for _, call := range ev.Calls {
			s.moderate(call)
		}

	case live.ToolCallCancelled:
		log.Infof("session %s: tool calls cancelled: %v", s.id, ev.IDs)

	case live.GoAway:
		log.Warnf("session %s: backend going away in %s", s.id, ev.TimeLeft)
	}
}

func (s *Session) captions() {
	if co, ok := s.obs.(CaptionObserver); ok {
		co.CaptionsUpdated(s.agg.Pending(transcript.User), s.agg.Pending(transcript.Agent))
	}
}

// schedule decodes one chunk in arrival order. A chunk that fails to decode
// is dropped without moving the watermark.
func (s *Session) schedule(a live.Audio) {
	buf, err := playback.Decode(a.MIMEType, a.Data)
	if err != nil {
		s.decodeErrors++
		log.Warnf("session %s: dropping audio chunk: %v", s.id, err)
		return
	}
	s.sched.Schedule(buf)
	s.stopGrace()
	if s.Status() != StatusSpeaking {
		s.setStatus(StatusSpeaking)
	}
}

func (s *Session) moderate(call *genai.FunctionCall) {
	if call == nil {
		return
	}
	d, err := s.mod.Handle(call)
	if err != nil {
		log.Warnf("session %s: moderation call %s: %v", s.id, call.ID, err)
	} else {
		s.moderations = append(s.moderations, d.Event)
		log.Moderation(s.id, call.ID, string(d.Event.Reason), d.Terminate)
	}
	if err := s.res.transport.SendToolResponse(d.Ack); err != nil {
		log.Warnf("session %s: ack %s: %v", s.id, call.ID, err)
	}
	if err != nil {
		return
	}

	s.setStatus(StatusModerating)
	if d.Terminate {
		if !s.terminating {
			s.terminating = true
			s.startGrace()
		}
		return
	}
	if s.terminating {
		return
	}
	if s.sched.Pending() > 0 {
		s.setStatus(StatusSpeaking)
	} else {
		s.setStatus(StatusListening)
	}
}

func (s *Session) startGrace() {
	if s.sched.Pending() > 0 {
		return
	}
	s.grace = time.NewTimer(terminateGrace)
	s.graceC = s.grace.C
}

func (s *Session) stopGrace() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
		s.graceC = nil
	}
}

func (s *Session) handleFinished() {
	done, _ := s.sched.Reap()
	if len(done) == 0 {
		return
	}
	s.drained()
}

// drained applies the empty-queue guard: a terminating session ends once
// its last item has played, otherwise the floor returns to the candidate.
func (s *Session) drained() {
	if s.sched.Pending() > 0 {
		return
	}
	if s.terminating {
		s.finish(StatusEnded, nil)
		return
	}
	if s.Status() == StatusSpeaking {
		s.setStatus(StatusListening)
	}
}

func (s *Session) setStatus(st Status) {
	for {
		old := Status(s.status.Load())
		if old == st || old.Terminal() {
			return
		}
		if s.status.CompareAndSwap(int32(old), int32(st)) {
			log.StatusChange(s.id, old.String(), st.String())
			s.obs.StatusChanged(st)
			return
		}
	}
}

// finish moves to a terminal status, tears everything down and reports the
// result. Only the first call has any effect.
func (s *Session) finish(st Status, err error) {
	s.finishOnce.Do(func() {
		s.stopping.Store(true)
		close(s.quit)
		s.stopGrace()
		s.setStatus(st)
		s.release()

		res := Result{
			ID:          s.id,
			Status:      st,
			Lines:       s.agg.Lines(),
			Err:         err,
			Duration:    time.Since(s.startedAt),
			Moderations: s.moderations,
			Counts:      s.mod.Counts(),
			Recording:   s.recording,
		}
		log.SessionEnd(s.id, st.String(), len(res.Lines), res.Duration, err)
		s.onComplete(res)
		close(s.done)
	})
}
