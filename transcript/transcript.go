package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Speaker string

const (
	User  Speaker = "user"
	Agent Speaker = "agent"
)

// Line is one finalized utterance. Lines are never modified after creation.
type Line struct {
	ID      string
	Speaker Speaker
	Text    string
	At      time.Time
}

// Aggregator collects transcription fragments for the current turn and turns
// them into lines when the turn completes. Not safe for concurrent use.
type Aggregator struct {
	user  strings.Builder
	agent strings.Builder
	lines []Line
	now   func() time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Append adds a fragment to the pending text of speaker.
func (a *Aggregator) Append(speaker Speaker, fragment string) {
	switch speaker {
	case User:
		a.user.WriteString(fragment)
	case Agent:
		a.agent.WriteString(fragment)
	}
}

// Pending returns the in-progress text for speaker.
func (a *Aggregator) Pending(speaker Speaker) string {
	if speaker == User {
		return a.user.String()
	}
	return a.agent.String()
}

// Complete flushes the pending text into new lines, user first, and clears
// both accumulators. It returns only the lines created by this call.
func (a *Aggregator) Complete() []Line {
	var added []Line
	for _, p := range []struct {
		speaker Speaker
		buf     *strings.Builder
	}{{User, &a.user}, {Agent, &a.agent}} {
		text := strings.TrimSpace(p.buf.String())
		p.buf.Reset()
		if text == "" {
			continue
		}
		line := Line{ID: newID(), Speaker: p.speaker, Text: text, At: a.now()}
		a.lines = append(a.lines, line)
		added = append(added, line)
	}
	return added
}

// Lines returns a copy of every line flushed so far, in order.
func (a *Aggregator) Lines() []Line {
	out := make([]Line, len(a.lines))
	copy(out, a.lines)
	return out
}

func (a *Aggregator) Len() int { return len(a.lines) }

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Format renders lines as plain text, one "Speaker: text" paragraph each.
func Format(lines []Line) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s\n", l.Speaker.Label(), l.Text)
	}
	return b.String()
}

func (s Speaker) Label() string {
	if s == Agent {
		return "Interviewer"
	}
	return "You"
}
