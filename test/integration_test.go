//go:build integration

package test_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jobm8/live/livetest"
	"jobm8/moderation"
)

var (
	testBinary string
	speechWAV  string
)

func TestMain(m *testing.M) {
	testBinary = os.Getenv("JOBM8_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "JOBM8_TEST_BIN not set; build the binary and point JOBM8_TEST_BIN at it")
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "jobm8-integration")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	speechWAV = filepath.Join(dir, "speech.wav")
	if err := generateToneWAV(speechWAV, 16000, 1.0); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate speech.wav: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func generateToneWAV(path string, sampleRate int, durationS float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i := 0; i < numSamples; i++ {
		v := int16(12000 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(v))
	}

	return os.WriteFile(path, buf, 0644)
}

// run is one jobm8 process in test mode.
type run struct {
	t      *testing.T
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    bytes.Buffer
	logDir string
	done   chan error
}

func startJobm8(t *testing.T, srv *livetest.Server, args ...string) *run {
	t.Helper()
	r := &run{t: t, logDir: t.TempDir(), done: make(chan error, 1)}
	cmdArgs := append([]string{
		"-logpath", r.logDir,
		"-endpoint", srv.URL(),
		"-role-text", "Backend engineer",
		"-test", speechWAV,
	}, args...)

	r.cmd = exec.Command(testBinary, cmdArgs...)
	r.cmd.Env = append(os.Environ(), "GEMINI_API_KEY=test-key")
	r.cmd.Stdout = &r.out
	r.cmd.Stderr = &r.out
	var err error
	if r.stdin, err = r.cmd.StdinPipe(); err != nil {
		t.Fatal(err)
	}
	if err := r.cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	go func() { r.done <- r.cmd.Wait() }()
	t.Cleanup(func() {
		if r.cmd.ProcessState == nil {
			r.cmd.Process.Kill()
		}
	})
	return r
}

func (r *run) send(lines ...string) {
	r.t.Helper()
	if _, err := io.WriteString(r.stdin, strings.Join(lines, "\n")+"\n"); err != nil {
		r.t.Fatalf("stdin: %v", err)
	}
}

// wait returns the exit code and combined output.
func (r *run) wait() (int, string) {
	r.t.Helper()
	select {
	case err := <-r.done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), r.out.String()
		}
		if err != nil {
			r.t.Fatalf("wait: %v", err)
		}
		return 0, r.out.String()
	case <-time.After(15 * time.Second):
		r.cmd.Process.Kill()
		r.t.Fatalf("jobm8 did not exit\noutput: %s", r.out.String())
		return -1, ""
	}
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func accept(t *testing.T, srv *livetest.Server) *livetest.Conn {
	t.Helper()
	conn := srv.Accept(10 * time.Second)
	if conn == nil {
		t.Fatal("client never completed setup")
	}
	return conn
}

func requireContains(t *testing.T, s string, subs ...string) {
	t.Helper()
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			t.Errorf("missing %q in:\n%s", sub, s)
		}
	}
}

func tone(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(float64(i)/8))
	}
	return samples
}

func TestInterviewTurns(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	r := startJobm8(t, srv)
	conn := accept(t, srv)

	opening, ok := conn.NextContent(2 * time.Second)
	if !ok || len(opening.Turns) == 0 {
		t.Fatal("expected an opening turn after setup")
	}
	if conn.Setup.SystemInstruction == nil {
		t.Error("expected a system instruction in setup")
	}

	chunk, ok := conn.NextAudio(2 * time.Second)
	if !ok {
		t.Fatal("no microphone audio received")
	}
	if chunk.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("mime type = %q", chunk.MIMEType)
	}

	conn.SendOutputTranscript("Tell me about yourself.")
	conn.SendAudio(tone(4800))
	conn.SendTurnComplete()
	conn.SendInputTranscript("I build ")
	conn.SendInputTranscript("backend systems.")
	conn.SendTurnComplete()

	r.send("WAIT_AUDIO_DONE", "WAIT_STATUS listening", "SLEEP 200", "STOP")
	code, out := r.wait()

	if code != 0 {
		t.Fatalf("exit code %d\noutput: %s", code, out)
	}
	requireContains(t, out,
		"STATUS listening",
		"STATUS speaking",
		"LINE Interviewer: Tell me about yourself.",
		"LINE You: I build backend systems.",
		"RESULT status=ended",
	)
	requireContains(t, readLog(t, r.logDir, "transcript_log.txt"), "\tYou\tI build backend systems.")
	requireContains(t, readLog(t, r.logDir, "diagnostics_log.txt"), "session_start", "sent_chunks=")

	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Error("connection not closed after stop")
	}
}

func TestTerminatingModeration(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	r := startJobm8(t, srv)
	conn := accept(t, srv)

	conn.SendToolCall("call-1", moderation.ToolName, string(moderation.Offensive))
	ack, ok := conn.NextAck(2 * time.Second)
	if !ok {
		t.Fatal("tool call not acknowledged")
	}
	if ack.ID != "call-1" {
		t.Errorf("ack id = %q", ack.ID)
	}
	conn.SendOutputTranscript("This interview is over.")
	conn.SendAudio(tone(2400))
	conn.SendTurnComplete()

	code, out := r.wait()
	if code != 0 {
		t.Fatalf("exit code %d\noutput: %s", code, out)
	}
	requireContains(t, out,
		"STATUS moderating",
		"LINE Interviewer: This interview is over.",
		"RESULT status=ended",
		"RESULT flags [OFFENSIVE=1]",
	)
}

func TestNonTerminatingModeration(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	r := startJobm8(t, srv)
	conn := accept(t, srv)

	conn.SendToolCall("call-1", moderation.ToolName, string(moderation.Evasive))
	if _, ok := conn.NextAck(2 * time.Second); !ok {
		t.Fatal("tool call not acknowledged")
	}
	r.send("WAIT_STATUS listening", "STOP")

	code, out := r.wait()
	if code != 0 {
		t.Fatalf("exit code %d\noutput: %s", code, out)
	}
	requireContains(t, out, "STATUS moderating", "RESULT flags [EVASIVE=1]")
}

func TestServerCloseEndsSession(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	r := startJobm8(t, srv)
	conn := accept(t, srv)

	conn.CloseWith(1000, "bye")
	code, out := r.wait()
	if code != 0 {
		t.Fatalf("exit code %d\noutput: %s", code, out)
	}
	requireContains(t, out, "RESULT status=ended")
}

func TestConnectionDropIsError(t *testing.T) {
	srv := livetest.NewServer()
	defer srv.Close()
	r := startJobm8(t, srv)
	conn := accept(t, srv)

	conn.Drop()
	code, out := r.wait()
	if code != 1 {
		t.Fatalf("exit code %d, want 1\noutput: %s", code, out)
	}
	requireContains(t, out, "RESULT status=error", "RESULT error: transport failed")
}

func TestRejectedKeyFailsStart(t *testing.T) {
	srv := livetest.NewServer()
	srv.APIKey = "other-key"
	defer srv.Close()
	r := startJobm8(t, srv)

	code, out := r.wait()
	if code != 1 {
		t.Fatalf("exit code %d, want 1\noutput: %s", code, out)
	}
	requireContains(t, out, "RESULT status=error")
}
