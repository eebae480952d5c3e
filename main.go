package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"jobm8/audio"
	"jobm8/config"
	"jobm8/doctor"
	"jobm8/live"
	"jobm8/log"
	"jobm8/session"
	"jobm8/shutdown"
)

var version = "dev"

// openTimeout bounds connecting to the backend; nothing else in a session
// waits on the network.
const openTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

type options struct {
	background     string
	role           string
	backgroundText string
	roleText       string
	setup          bool
	device         string
	outputDevice   string
	model          string
	voice          string
	endpoint       string
	configPath     string
	logPath        string
	record         bool
	doctor         bool
	version        bool
	tui            bool
	test           string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.background, "background", "", "File with your background (CV, experience summary)")
	flag.StringVar(&o.role, "role", "", "File with the job description you are practicing for")
	flag.StringVar(&o.backgroundText, "background-text", "", "Your background, inline (instead of -background)")
	flag.StringVar(&o.roleText, "role-text", "", "Target role description, inline (instead of -role)")
	flag.BoolVar(&o.setup, "setup", false, "Select microphone and speaker (otherwise uses system defaults)")
	flag.StringVar(&o.device, "device", "", "Use named microphone device")
	flag.StringVar(&o.outputDevice, "output-device", "", "Use named output device")
	flag.StringVar(&o.model, "model", "", "Live model (overrides config)")
	flag.StringVar(&o.voice, "voice", "", "Interviewer voice (overrides config)")
	flag.StringVar(&o.endpoint, "endpoint", "", "Live websocket endpoint (overrides config)")
	flag.StringVar(&o.configPath, "config", "", "YAML config file")
	flag.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.BoolVar(&o.record, "record", false, "Save your side of the interview as FLAC under record_dir")
	flag.BoolVar(&o.doctor, "doctor", false, "Run audio and backend diagnostics and exit")
	flag.BoolVar(&o.version, "version", false, "Print version and exit")
	flag.BoolVar(&o.tui, "tui", true, "Run with terminal UI (false prints events line by line)")
	flag.StringVar(&o.test, "test", "", "Test mode: headless, mic replaced by this WAV file, stdin-driven")
	flag.Parse()
	return o
}

func run() int {
	opts := parseFlags()

	if opts.version {
		fmt.Printf("jobm8 %s\n", version)
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(cfg, opts)

	// Resolve log directory early
	logFlag := opts.logPath
	if logFlag == "" {
		logFlag = cfg.LogPath
	}
	logPath, err := log.ResolveDir(logFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	background, err := loadText(opts.background, opts.backgroundText)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	role, err := loadText(opts.role, opts.roleText)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	setup := live.NewSetup(cfg.Model, cfg.Voice, cfg.Language, background, role)

	if opts.doctor {
		dopts := doctor.Options{Setup: setup, CaptureDevice: opts.device, PlaybackDevice: opts.outputDevice}
		if cfg.GeminiAPIKey != "" {
			dopts.Client = live.NewClient(live.Config{APIKey: cfg.GeminiAPIKey, Endpoint: cfg.LiveEndpoint()})
		}
		return doctor.Run(dopts)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if cfg.GeminiAPIKey == "" {
			fmt.Fprintln(os.Stderr, "Set GEMINI_API_KEY to your Gemini API key.")
		}
		return 1
	}
	if strings.TrimSpace(role) == "" {
		fmt.Fprintln(os.Stderr, "Warning: no target role given (-role or -role-text); the interview will be generic")
	}

	if opts.test != "" {
		return runTestMode(opts.test, cfg, setup)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	capDev, pbDev := resolveDevices(actx, opts)
	return runInterview(cfg, setup, actx, capDev, pbDev, opts.tui)
}

func applyFlags(cfg *config.Config, o options) {
	if o.model != "" {
		cfg.Model = o.model
	}
	if o.voice != "" {
		cfg.Voice = o.voice
	}
	if o.endpoint != "" {
		cfg.Endpoint = o.endpoint
	}
	if !o.record {
		cfg.RecordDir = ""
	}
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

// loadText returns the contents of path, or inline when path is empty.
func loadText(path, inline string) (string, error) {
	if path == "" {
		return strings.TrimSpace(inline), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func resolveDevices(actx audio.Context, o options) (capDev, pbDev *audio.DeviceInfo) {
	pick := func(kind audio.Kind, name string) *audio.DeviceInfo {
		if name != "" {
			if d := audio.FindDevice(actx, kind, name); d != nil {
				return d
			}
			log.Warnf("%s device not found: %s", kind, name)
			fmt.Fprintf(os.Stderr, "Warning: %s device %q not found, using default\n", kind, name)
			return nil
		}
		if !o.setup {
			return nil
		}
		d, err := audio.SelectDevice(actx, kind)
		if err != nil {
			if errors.Is(err, audio.ErrSelectionCancelled) {
				os.Exit(0)
			}
			log.Warnf("%s device selection failed: %v", kind, err)
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\nFalling back to default device\n", err)
			return nil
		}
		return d
	}
	return pick(audio.KindCapture, o.device), pick(audio.KindPlayback, o.outputDevice)
}

func deviceLineText(capDev, pbDev *audio.DeviceInfo) string {
	name := func(d *audio.DeviceInfo) string {
		if d == nil {
			return "system default"
		}
		if audio.IsBluetooth(d.Name) {
			return d.Name + " (BT!)"
		}
		return d.Name
	}
	return "mic: " + name(capDev) + " · speaker: " + name(pbDev)
}

func sessionConfig(cfg *config.Config, setup live.Setup, capDev, pbDev *audio.DeviceInfo) session.Config {
	return session.Config{
		Setup:          setup,
		CaptureDevice:  capDev,
		PlaybackDevice: pbDev,
		SampleRate:     cfg.CaptureSampleRate,
		FrameSamples:   cfg.FrameSamples(),
		MuteRamp:       cfg.MuteRamp(),
		RecordDir:      cfg.RecordDir,
	}
}

func exitCode(r session.Result) int {
	if r.Status == session.StatusEnded {
		return 0
	}
	return 1
}

func runInterview(cfg *config.Config, setup live.Setup, actx audio.Context, capDev, pbDev *audio.DeviceInfo, withTUI bool) int {
	client := live.NewClient(live.Config{APIKey: cfg.GeminiAPIKey, Endpoint: cfg.LiveEndpoint()})

	var sink EventSink
	var tsink *tuiSink
	if withTUI {
		tsink = newTUISink()
		sink = tsink
	} else {
		sink = newLineSink(os.Stdout)
	}

	results := make(chan session.Result, 1)
	sess := session.New(sessionConfig(cfg, setup, capDev, pbDev),
		session.Deps{Audio: actx, Dial: session.LiveDialer(client)},
		sessionObserver{sink: sink},
		func(r session.Result) {
			sink.Done(r)
			results <- r
		})

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info("signal: stopping session")
			cancel()
			sess.Stop()
		case <-sess.Done():
		}
	}()

	for _, d := range []*audio.DeviceInfo{capDev, pbDev} {
		if d != nil && audio.IsBluetooth(d.Name) {
			sink.Notice("Bluetooth headset: the mic may sound muffled to the interviewer")
		}
	}
	go watchSilence(sess, sink)

	if !withTUI {
		if err := sess.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return exitCode(<-results)
	}

	p := NewTUIProgram(sess, deviceLineText(capDev, pbDev))
	tsink.attach(p)
	go func() {
		if err := sess.Start(ctx); err != nil {
			log.Errorf("session start: %v", err)
		}
	}()
	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}
	sess.Stop()

	select {
	case r := <-results:
		for _, l := range resultSummary(r) {
			fmt.Println(l)
		}
		return exitCode(r)
	case <-time.After(5 * time.Second):
		log.Error("session did not finish after stop")
		return 1
	}
}

// watchSilence warns when the candidate's microphone stays quiet while it
// is their turn to answer.
func watchSilence(sess *session.Session, sink EventSink) {
	mon := newSilenceMonitor()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Done():
			return
		case <-ticker.C:
		}
		var ev SilenceEvent
		if sess.Status() == session.StatusListening {
			ev = mon.Tick(sess.InputLevel())
		} else {
			ev = mon.Reset()
		}
		switch ev {
		case SilenceWarn:
			log.Info("no_voice_warning")
			sink.Notice("no voice detected: check your microphone")
		case SilenceWarnClear:
			sink.Notice("")
		case SilenceRepeat:
			log.Info("silence_during_warning")
		}
	}
}
