package playback

import (
	"math"
	"sync"
	"time"
)

// Item is one scheduled buffer. Start and End are positions on the output
// clock, in samples.
type Item struct {
	Seq   uint64
	Start int64
	Len   int
}

func (i Item) End() int64 { return i.Start + int64(i.Len) }

// Monitor is the read-only view offered to level meters and visualizers.
type Monitor interface {
	Gain() float64
	Level() float64
	Audible() bool
}

type entry struct {
	item    Item
	samples []float32
}

// Scheduler is a software mixer pulled by the output device. It places each
// buffer at max(clock, watermark) so buffers never overlap and never leave a
// gap when they arrive early. The output clock counts samples rendered.
//
// Render runs on the device thread and only reads the queue; Reap and Flush
// are the only places items leave it.
type Scheduler struct {
	rate int

	mu       sync.Mutex
	clock    int64
	nextFree int64
	seq      uint64
	queue    []entry
	gain     Gain
	level    float64
	audible  bool

	finished chan struct{}
}

func NewScheduler(rate int) *Scheduler {
	if rate <= 0 {
		rate = SampleRate
	}
	return &Scheduler{
		rate:     rate,
		gain:     NewGain(1),
		finished: make(chan struct{}, 1),
	}
}

func (s *Scheduler) SampleRate() int { return s.rate }

// Schedule enqueues buf and returns where it landed on the output clock.
func (s *Scheduler) Schedule(buf Buffer) Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.clock, s.nextFree)
	s.seq++
	it := Item{Seq: s.seq, Start: start, Len: buf.Len()}
	s.nextFree = it.End()
	s.queue = append(s.queue, entry{item: it, samples: buf.Samples})
	return it
}

// Render mixes the queued items that overlap the next len(out) samples,
// applies the gain ramp and advances the clock.
func (s *Scheduler) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	s.mu.Lock()
	from := s.clock
	to := from + int64(len(out))
	ended := false
	audible := false
	for _, e := range s.queue {
		start, end := e.item.Start, e.item.End()
		if end <= from || start >= to {
			continue
		}
		lo, hi := max(start, from), min(end, to)
		for t := lo; t < hi; t++ {
			out[t-from] += e.samples[t-start]
		}
		if end <= to {
			ended = true
		}
		if hi > lo {
			audible = true
		}
	}

	var sum float64
	for i := range out {
		g := s.gain.Next()
		out[i] = float32(float64(out[i]) * g)
		sum += float64(out[i]) * float64(out[i])
	}
	if len(out) > 0 {
		s.level = math.Sqrt(sum / float64(len(out)))
	}
	s.audible = audible && s.gain.Current() > 0.001
	s.clock = to
	s.mu.Unlock()

	if ended {
		select {
		case s.finished <- struct{}{}:
		default:
		}
	}
}

// Finished signals, coalesced, that at least one item may have ended. The
// owner answers by calling Reap.
func (s *Scheduler) Finished() <-chan struct{} { return s.finished }

// Reap removes items whose end the clock has passed. It returns the removed
// items in start order and whether the queue is now empty.
func (s *Scheduler) Reap() (done []Item, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.item.End() <= s.clock {
			done = append(done, e.item)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = entry{}
	}
	s.queue = kept
	return done, len(s.queue) == 0
}

// Flush stops every queued item and pulls the watermark back to the clock.
// It returns how many items were dropped.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	s.nextFree = s.clock
	s.audible = false
	return n
}

// Pending returns the number of unfinished items.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Clock returns the output clock in samples.
func (s *Scheduler) Clock() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Watermark returns the next free start position in samples.
func (s *Scheduler) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFree
}

// Ahead returns how much scheduled audio is still to be played.
func (s *Scheduler) Ahead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextFree <= s.clock {
		return 0
	}
	return time.Duration(s.nextFree-s.clock) * time.Second / time.Duration(s.rate)
}

// SetMuted ramps the output gain to 0 or back to 1.
func (s *Scheduler) SetMuted(muted bool, ramp time.Duration) {
	target := 1.0
	if muted {
		target = 0
	}
	s.mu.Lock()
	s.gain.SetTarget(target, ramp, s.rate)
	s.mu.Unlock()
}

func (s *Scheduler) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain.Current()
}

// Level is the RMS of the last rendered block, after gain.
func (s *Scheduler) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Audible reports whether the last rendered block carried agent audio at a
// non-zero gain.
func (s *Scheduler) Audible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audible
}
