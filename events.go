package main

import (
	"fmt"
	"io"
	"sort"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"jobm8/session"
	"jobm8/transcript"
)

// EventSink abstracts the display layer so the Bubble Tea TUI and the plain
// line-oriented output receive the same session events.
type EventSink interface {
	Status(session.Status)
	Transcript(lines []transcript.Line)
	Captions(user, agent string)
	Notice(text string)
	Done(session.Result)
}

// sessionObserver adapts an EventSink to session.Observer.
type sessionObserver struct{ sink EventSink }

func (o sessionObserver) StatusChanged(s session.Status)            { o.sink.Status(s) }
func (o sessionObserver) TranscriptUpdated(lines []transcript.Line) { o.sink.Transcript(lines) }
func (o sessionObserver) CaptionsUpdated(user, agent string)        { o.sink.Captions(user, agent) }

// tuiSink forwards events to a Bubble Tea program through a pump goroutine.
// Events queue until attach; captions are dropped when the queue is full,
// other events wait for room. Once the program exits Send returns
// immediately, so the pump never stalls for long.
type tuiSink struct {
	msgs chan tea.Msg
}

func newTUISink() *tuiSink {
	return &tuiSink{msgs: make(chan tea.Msg, 256)}
}

func (s *tuiSink) attach(p *tea.Program) {
	go func() {
		for msg := range s.msgs {
			p.Send(msg)
		}
	}()
}

func (s *tuiSink) send(msg tea.Msg) {
	select {
	case s.msgs <- msg:
	default:
		if _, ok := msg.(CaptionsMsg); !ok {
			s.msgs <- msg
		}
	}
}

func (s *tuiSink) Status(st session.Status)           { s.send(StatusMsg{Status: st}) }
func (s *tuiSink) Transcript(lines []transcript.Line) { s.send(TranscriptMsg{Lines: lines}) }
func (s *tuiSink) Captions(user, agent string)        { s.send(CaptionsMsg{User: user, Agent: agent}) }
func (s *tuiSink) Notice(text string)                 { s.send(NoticeMsg{Text: text}) }
func (s *tuiSink) Done(r session.Result)              { s.send(SessionDoneMsg{Result: r}) }

// lineSink prints one line per event. Used without the TUI and in test mode,
// where the output is parsed.
type lineSink struct {
	mu      sync.Mutex
	w       io.Writer
	printed int
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{w: w}
}

func (s *lineSink) Status(st session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "STATUS %s\n", st)
}

// Transcript prints only lines not printed before.
func (s *lineSink) Transcript(lines []transcript.Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lines[min(s.printed, len(lines)):] {
		fmt.Fprintf(s.w, "LINE %s: %s\n", l.Speaker.Label(), l.Text)
	}
	s.printed = max(s.printed, len(lines))
}

func (s *lineSink) Captions(string, string) {}

func (s *lineSink) Notice(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "NOTICE %s\n", text)
}

func (s *lineSink) Done(r session.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range resultSummary(r) {
		fmt.Fprintf(s.w, "RESULT %s\n", l)
	}
}

// resultSummary describes a finished session in a few short lines.
func resultSummary(r session.Result) []string {
	out := []string{
		fmt.Sprintf("status=%s duration=%s lines=%d", r.Status, formatElapsed(r.Duration), len(r.Lines)),
	}
	if r.Err != nil {
		out = append(out, "error: "+r.Err.Error())
	}
	if len(r.Counts) > 0 {
		reasons := make([]string, 0, len(r.Counts))
		for reason, n := range r.Counts {
			reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
		}
		sort.Strings(reasons)
		out = append(out, fmt.Sprintf("flags %v", reasons))
	}
	if r.Recording != "" {
		out = append(out, "recording "+r.Recording)
	}
	return out
}
