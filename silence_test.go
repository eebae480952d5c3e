package main

import "testing"

const (
	quiet = 0.0
	voice = 0.2
)

func feedN(m *silenceMonitor, level float64, n int) SilenceEvent {
	var last SilenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(level)
	}
	return last
}

func TestSilenceWarnAfter8s(t *testing.T) {
	m := newSilenceMonitor()
	// 79 ticks of silence, no warning yet
	for i := 0; i < 79; i++ {
		if ev := m.Tick(quiet); ev != SilenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	// 80th tick triggers warning (8s)
	if ev := m.Tick(quiet); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn at tick 80, got %d", ev)
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := newSilenceMonitor()
	feedN(m, quiet, 80)

	// Sustained speech clears warning (need 25% of 80-tick window)
	for i := 0; i < 80; i++ {
		if m.Tick(voice) == SilenceWarnClear {
			return
		}
	}
	t.Fatal("expected SilenceWarnClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := newSilenceMonitor()
	for i := 0; i < 200; i++ {
		if ev := m.Tick(voice); ev == SilenceWarn {
			t.Fatalf("unexpected warn during speech at tick %d", i)
		}
	}
}

func TestSilenceRepeats(t *testing.T) {
	m := newSilenceMonitor()
	feedN(m, quiet, 80) // warn at tick 80

	for i := 0; i < 79; i++ {
		if ev := m.Tick(quiet); ev != SilenceNone {
			t.Fatalf("unexpected event %d at tick %d", ev, 81+i)
		}
	}
	if ev := m.Tick(quiet); ev != SilenceRepeat {
		t.Fatalf("expected SilenceRepeat at tick 160, got %d", ev)
	}
}

func TestBelowSpeechLevelIsSilence(t *testing.T) {
	m := newSilenceMonitor()
	if ev := feedN(m, speechLevel/2, 80); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn for sub-threshold level, got %d", ev)
	}
}

func TestResetClearsWarning(t *testing.T) {
	m := newSilenceMonitor()
	feedN(m, quiet, 80)

	if ev := m.Reset(); ev != SilenceWarnClear {
		t.Fatalf("expected SilenceWarnClear on reset, got %d", ev)
	}
	if ev := m.Reset(); ev != SilenceNone {
		t.Fatalf("expected SilenceNone on second reset, got %d", ev)
	}
	// Full window needed again before warning
	if ev := feedN(m, quiet, 79); ev != SilenceNone {
		t.Fatalf("warned too early after reset: %d", ev)
	}
}
