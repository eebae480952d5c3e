package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobm8/audio"
	"jobm8/moderation"
	"jobm8/session"
	"jobm8/transcript"
)

func TestLineSinkPrintsNewLinesOnce(t *testing.T) {
	var buf bytes.Buffer
	s := newLineSink(&buf)

	first := []transcript.Line{{Speaker: transcript.Agent, Text: "Why this role?"}}
	s.Status(session.StatusSpeaking)
	s.Transcript(first)
	s.Transcript(append(first, transcript.Line{Speaker: transcript.User, Text: "I like systems."}))
	s.Notice("")
	s.Notice("no voice detected")

	want := "STATUS speaking\n" +
		"LINE Interviewer: Why this role?\n" +
		"LINE You: I like systems.\n" +
		"NOTICE no voice detected\n"
	if got := buf.String(); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestResultSummary(t *testing.T) {
	r := session.Result{
		Status:   session.StatusError,
		Err:      errors.New("transport failed: EOF"),
		Duration: 95 * time.Second,
		Lines:    make([]transcript.Line, 3),
		Counts: map[moderation.ReasonCode]int{
			moderation.Evasive:   2,
			moderation.Offensive: 1,
		},
		Recording: "/tmp/interview.flac",
	}

	got := resultSummary(r)
	want := []string{
		"status=error duration=01:35 lines=3",
		"error: transport failed: EOF",
		"flags [EVASIVE=2 OFFENSIVE=1]",
		"recording /tmp/interview.flac",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLineSinkDone(t *testing.T) {
	var buf bytes.Buffer
	newLineSink(&buf).Done(session.Result{Status: session.StatusEnded})
	if got := buf.String(); got != "RESULT status=ended duration=00:00 lines=0\n" {
		t.Fatalf("got %q", got)
	}
}

func TestLoadText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "role.txt")
	if err := os.WriteFile(path, []byte("\n  Staff engineer, payments\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if got, err := loadText(path, "ignored"); err != nil || got != "Staff engineer, payments" {
		t.Fatalf("file: got %q, %v", got, err)
	}
	if got, _ := loadText("", " inline "); got != "inline" {
		t.Fatalf("inline: got %q", got)
	}
	if _, err := loadText(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDeviceLineText(t *testing.T) {
	got := deviceLineText(&audio.DeviceInfo{Name: "AirPods Pro"}, nil)
	if got != "mic: AirPods Pro (BT!) · speaker: system default" {
		t.Fatalf("got %q", got)
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(session.Result{Status: session.StatusEnded}) != 0 {
		t.Error("ended should exit 0")
	}
	if exitCode(session.Result{Status: session.StatusError}) != 1 {
		t.Error("error should exit 1")
	}
}
