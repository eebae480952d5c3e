package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	diagLog        zerolog.Logger
	diagFile       io.WriteCloser
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

const (
	diagName       = "diagnostics_log.txt"
	transcriptName = "transcript_log.txt"
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: JOBM8_LOG_PATH environment variable
	if envPath := os.Getenv("JOBM8_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if logReady {
		return nil
	}
	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	transcriptFile, err = os.OpenFile(filepath.Join(dir, transcriptName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, diagName),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
	// Create the file up front so a fresh install has it before the first line.
	if _, err := rotator.Write(nil); err != nil {
		transcriptFile.Close()
		return err
	}
	diagFile = rotator

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func ready() bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logReady
}

func Info(msg string) {
	if ready() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if ready() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if ready() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if ready() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if ready() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if ready() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(id, model, voice, device string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("model", model).
		Str("voice", voice).
		Str("device", device).
		Msg("session_start")
}

func SessionEnd(id, status string, lines int, dur time.Duration, err error) {
	if !ready() {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Error().Err(err)
	}
	ev.Str("session", id).
		Str("status", status).
		Int("lines", lines).
		Float64("duration_s", dur.Seconds()).
		Msg("session_end")
}

func StatusChange(id, from, to string) {
	if !ready() {
		return
	}
	diagLog.Debug().
		Str("session", id).
		Str("from", from).
		Str("to", to).
		Msg("status")
}

func Moderation(id, callID, reason string, terminate bool) {
	if !ready() {
		return
	}
	diagLog.Warn().
		Str("session", id).
		Str("call_id", callID).
		Str("reason", reason).
		Bool("terminate", terminate).
		Msg("moderation")
}

type TransportStatsData struct {
	ConnectMs    float64
	SentChunks   int
	SentKB       float64
	Dropped      int
	ToolAcks     int
	RecvMessages int
	RecvAudio    int
	DecodeErrors int
}

func TransportStats(id string, m TransportStatsData) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Float64("connect_ms", m.ConnectMs).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("dropped", m.Dropped).
		Int("tool_acks", m.ToolAcks).
		Int("recv_messages", m.RecvMessages).
		Int("recv_audio", m.RecvAudio).
		Int("decode_errors", m.DecodeErrors).
		Msg("transport")
}

// TranscriptLine appends one finalized line to the transcript log.
func TranscriptLine(session, speaker, text string) {
	logMu.Lock()
	defer logMu.Unlock()
	if !logReady {
		return
	}
	line := fmt.Sprintf("%s\t[%s]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), session, speaker, text)
	transcriptFile.WriteString(line)
}
