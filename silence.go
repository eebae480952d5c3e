package main

import "time"

const (
	tickInterval     = 100 * time.Millisecond
	silenceWarnEvery = 8 * time.Second
	speechLevel      = 0.01 // input RMS that counts as voice
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected while it is the candidate's turn
	SilenceWarnClear              // voice resumed after warning
	SilenceRepeat                 // still silent, every 8s
)

// silenceMonitor watches the microphone while the interviewer is waiting
// for an answer. Ticks where the candidate is not expected to speak are
// skipped, so the interviewer talking never counts as silence.
type silenceMonitor struct {
	warnAt int

	ticks    int
	window   []bool
	warned   bool
	lastWarn int
}

func newSilenceMonitor() *silenceMonitor {
	warnAt := int(silenceWarnEvery / tickInterval)
	return &silenceMonitor{
		warnAt: warnAt,
		window: make([]bool, warnAt),
	}
}

func (m *silenceMonitor) ratio() float64 {
	n := min(m.ticks, m.warnAt)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.warnAt)%m.warnAt] {
			count++
		}
	}
	return float64(count) / float64(n)
}

// Reset forgets history, e.g. when the floor passes to the interviewer.
func (m *silenceMonitor) Reset() SilenceEvent {
	wasWarned := m.warned
	m.ticks = 0
	m.warned = false
	clear(m.window)
	if wasWarned {
		return SilenceWarnClear
	}
	return SilenceNone
}

func (m *silenceMonitor) Tick(level float64) SilenceEvent {
	m.window[m.ticks%m.warnAt] = level >= speechLevel
	m.ticks++

	r := m.ratio()

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}
