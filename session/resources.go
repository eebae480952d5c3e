package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jobm8/audio"
	"jobm8/encoder"
	"jobm8/live"
	"jobm8/log"
	"jobm8/playback"
)

// resources are acquired in field order and released in the order of the
// steps in release.
type resources struct {
	capture   audio.CaptureDevice
	transport Transport
	playback  audio.PlaybackDevice
	recorder  encoder.Encoder
	wired     bool
}

type statsReporter interface {
	Stats() live.Stats
}

func (s *Session) acquire(ctx context.Context) error {
	enc, err := encoder.NewFrameEncoder(s.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	s.enc = enc
	if !enc.Passthrough() {
		log.Infof("session %s: resampling capture from %d Hz to %d Hz", s.id, s.cfg.SampleRate, encoder.SampleRate)
	}

	capture, err := s.deps.Audio.NewCapture(s.cfg.CaptureDevice, audio.CaptureConfig{
		SampleRate:   uint32(s.cfg.SampleRate),
		Channels:     1,
		FrameSamples: uint32(s.cfg.FrameSamples),
	})
	if err != nil {
		return fmt.Errorf("%w: open capture: %w", ErrAcquire, err)
	}
	s.res.capture = capture
	if audio.IsBluetooth(capture.DeviceName()) {
		log.Warnf("session %s: %q looks like a Bluetooth headset; its mic profile lowers quality", s.id, capture.DeviceName())
	}

	t, err := s.deps.Dial(ctx, s.cfg.Setup, s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportOpen, err)
	}
	s.res.transport = t

	pb, err := s.deps.Audio.NewPlayback(s.cfg.PlaybackDevice, audio.PlaybackConfig{
		SampleRate: playback.SampleRate,
		Channels:   1,
	}, s.sched)
	if err != nil {
		return fmt.Errorf("%w: open playback: %w", ErrAcquire, err)
	}
	s.res.playback = pb
	if err := pb.Start(); err != nil {
		return fmt.Errorf("%w: start playback: %w", ErrAcquire, err)
	}

	if s.cfg.RecordDir != "" {
		rec, err := s.newRecorder()
		if err != nil {
			log.Warnf("session %s: recording disabled: %v", s.id, err)
		} else {
			s.res.recorder = rec
		}
	}

	capture.SetCallback(s.onFrame)
	s.res.wired = true
	if err := capture.Start(); err != nil {
		return fmt.Errorf("%w: start capture: %w", ErrAcquire, err)
	}
	return nil
}

// release tears down whatever acquire got to. Each step runs even if an
// earlier one failed or panicked.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		r := &s.res
		if r.capture != nil {
			if r.wired {
				s.step("clear capture callback", r.capture.ClearCallback)
			}
			s.step("stop capture", r.capture.Stop)
			s.step("close capture", r.capture.Close)
		}
		s.step("flush playback", func() {
			ahead := s.sched.Ahead()
			if n := s.sched.Flush(); n > 0 {
				log.Infof("session %s: dropped %d unplayed items (%s of audio)", s.id, n, ahead.Round(time.Millisecond))
			}
		})
		if r.playback != nil {
			s.step("stop playback", r.playback.Stop)
			s.step("close playback", r.playback.Close)
		}
		if r.transport != nil {
			if sr, ok := r.transport.(statsReporter); ok {
				s.logStats(sr.Stats())
			}
			s.step("close transport", func() {
				if err := r.transport.Close(); err != nil {
					log.Warnf("session %s: close transport: %v", s.id, err)
				}
			})
		}
		if r.recorder != nil {
			s.step("save recording", s.saveRecording)
		}
		if n := s.droppedFrames.Load(); n > 0 {
			log.Warnf("session %s: dropped %d capture frames", s.id, n)
		}
	})
}

func (s *Session) newRecorder() (encoder.Encoder, error) {
	if s.deps.NewRecorder != nil {
		return s.deps.NewRecorder()
	}
	return encoder.NewFlac()
}

func (s *Session) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("session %s: %s panicked: %v", s.id, name, r)
		}
	}()
	fn()
}

func (s *Session) saveRecording() {
	rec := s.res.recorder
	if err := rec.Close(); err != nil {
		log.Warnf("session %s: finish recording: %v", s.id, err)
		return
	}
	if rec.TotalFrames() == 0 {
		return
	}
	if err := os.MkdirAll(s.cfg.RecordDir, 0755); err != nil {
		log.Warnf("session %s: recording dir: %v", s.id, err)
		return
	}
	path := filepath.Join(s.cfg.RecordDir, "interview-"+s.startedAt.Format("20060102-150405")+".flac")
	if err := rec.Save(path); err != nil {
		log.Warnf("session %s: save recording: %v", s.id, err)
		return
	}
	s.recording = path
	log.Infof("session %s: recording saved to %s", s.id, path)
}

func (s *Session) logStats(st live.Stats) {
	log.TransportStats(s.id, log.TransportStatsData{
		ConnectMs:    float64(st.ConnectDur) / float64(time.Millisecond),
		SentChunks:   st.SentChunks,
		SentKB:       float64(st.SentBytes) / 1024,
		Dropped:      st.Dropped,
		ToolAcks:     st.ToolAcks,
		RecvMessages: st.RecvMessages,
		RecvAudio:    st.RecvAudio,
		DecodeErrors: s.decodeErrors,
	})
}
