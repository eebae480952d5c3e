package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"jobm8/audio"
	"jobm8/beep"
	"jobm8/encoder"
	"jobm8/live"
	"jobm8/playback"
	"jobm8/shutdown"
)

const (
	// micLevel is the peak frame RMS that counts as "heard something".
	micLevel           = 0.01
	defaultMicDuration = 3 * time.Second
	speakerTimeout     = 5 * time.Second
	backendTimeout     = 20 * time.Second
)

// Options selects what the checks run against. Zero values mean the real
// system: platform audio, default devices, stdin and stdout.
type Options struct {
	Audio          audio.Context
	CaptureDevice  string
	PlaybackDevice string
	Client         *live.Client
	Setup          live.Setup
	In             io.Reader
	Out            io.Writer
	MicDuration    time.Duration
}

type doctor struct {
	opts Options
	in   *bufio.Reader
	out  io.Writer
}

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	if opts.In == nil {
		opts.In = os.Stdin
		resetTerminal()
		setupInterruptHandler()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.MicDuration == 0 {
		opts.MicDuration = defaultMicDuration
	}
	d := &doctor{opts: opts, in: bufio.NewReader(opts.In), out: opts.Out}

	d.println("jobm8 doctor - interactive system diagnostics")
	d.println("=============================================")

	if d.opts.Audio == nil {
		actx, err := audio.NewContext()
		if err != nil {
			d.printf("  FAIL: cannot connect to audio: %v\n", err)
			return 1
		}
		defer actx.Close()
		d.opts.Audio = actx
	}

	allPass := true
	for _, check := range []func() bool{d.checkMic, d.checkSpeaker, d.checkBackend} {
		if !check() {
			allPass = false
		}
	}

	d.println()
	if allPass {
		d.println("All checks passed!")
		return 0
	}
	d.println("Some checks failed. See details above.")
	return 1
}

func (d *doctor) println(a ...any)               { fmt.Fprintln(d.out, a...) }
func (d *doctor) printf(format string, a ...any) { fmt.Fprintf(d.out, format, a...) }

func (d *doctor) device(kind audio.Kind, name string) *audio.DeviceInfo {
	if name == "" {
		return nil
	}
	dev := audio.FindDevice(d.opts.Audio, kind, name)
	if dev == nil {
		d.printf("  Warning: %s device %q not found, using default\n", kind, name)
	}
	return dev
}

func (d *doctor) confirm(question string) bool {
	d.printf("%s [y/n]: ", question)
	answer, _ := d.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (d *doctor) checkMic() bool {
	d.println()
	d.println("[1/3] Microphone")

	dev := d.device(audio.KindCapture, d.opts.CaptureDevice)
	if dev != nil && audio.IsBluetooth(dev.Name) {
		d.println("  Warning: Bluetooth headset mics sound muffled while in use")
	}

	capture, err := d.opts.Audio.NewCapture(dev, audio.CaptureConfig{
		SampleRate:   encoder.SampleRate,
		Channels:     encoder.Channels,
		FrameSamples: encoder.SampleRate / 10,
	})
	if err != nil {
		d.printf("  FAIL: cannot open microphone: %v\n", err)
		return false
	}
	defer capture.Close()

	var mu sync.Mutex
	var peak float64
	frames := 0
	capture.SetCallback(func(data []byte, _ uint32) {
		level := audio.RMS(data)
		mu.Lock()
		frames++
		peak = max(peak, level)
		mu.Unlock()
	})
	if err := capture.Start(); err != nil {
		d.printf("  FAIL: cannot start microphone: %v\n", err)
		return false
	}

	d.printf("  Say something for %s...\n", d.opts.MicDuration)
	time.Sleep(d.opts.MicDuration)
	capture.ClearCallback()
	capture.Stop()

	mu.Lock()
	defer mu.Unlock()
	if frames == 0 {
		d.println("  FAIL: no audio captured")
		return false
	}
	if peak < micLevel {
		d.printf("  FAIL: microphone is silent (peak level %.4f)\n", peak)
		return false
	}
	d.printf("  PASS: microphone level %.3f\n", peak)
	return true
}

func (d *doctor) checkSpeaker() bool {
	d.println()
	d.println("[2/3] Speaker")

	sched := playback.NewScheduler(playback.SampleRate)
	out, err := d.opts.Audio.NewPlayback(d.device(audio.KindPlayback, d.opts.PlaybackDevice),
		audio.PlaybackConfig{SampleRate: playback.SampleRate, Channels: 1}, sched)
	if err != nil {
		d.printf("  FAIL: cannot open output device: %v\n", err)
		return false
	}
	defer out.Close()
	if err := out.Start(); err != nil {
		d.printf("  FAIL: cannot start output device: %v\n", err)
		return false
	}
	defer out.Stop()

	d.println("  Playing a chime, a tone, a chime and a double beep...")
	for _, buf := range []playback.Buffer{beep.Start(), beep.Tone(440, 0.3, 800*time.Millisecond), beep.End(), beep.Error()} {
		sched.Schedule(buf)
	}
	timeout := time.After(speakerTimeout)
	for sched.Pending() > 0 {
		select {
		case <-sched.Finished():
			sched.Reap()
		case <-timeout:
			d.println("  FAIL: output device is not consuming audio")
			return false
		}
	}

	if d.confirm("Did you hear all four sounds?") {
		d.println("  PASS: speaker verified by user")
		return true
	}
	d.println("  FAIL: tone not confirmed")
	return false
}

type discardHandler struct{}

func (discardHandler) HandleEvent(live.Event) {}
func (discardHandler) HandleClose(error)      {}

func (d *doctor) checkBackend() bool {
	d.println()
	d.println("[3/3] Interview backend")

	if d.opts.Client == nil {
		d.println("  FAIL: no backend configured (set GEMINI_API_KEY)")
		return false
	}

	setup := d.opts.Setup
	setup.Opening = ""
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()

	start := time.Now()
	conn, err := d.opts.Client.Open(ctx, setup, discardHandler{})
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	connect := time.Since(start)
	conn.Close()
	d.printf("  PASS: session opened in %dms\n", connect.Milliseconds())
	return true
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		resetTerminal()
		println("\nInterrupted")
		os.Exit(1)
	}()
}
