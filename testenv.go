package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"jobm8/audio"
	"jobm8/config"
	"jobm8/live"
	"jobm8/log"
	"jobm8/session"
)

const pollInterval = 10 * time.Millisecond

// runTestMode runs a headless interview whose microphone is the given WAV
// file. Events are printed line by line on stdout and stdin drives the
// session:
//
//	WAIT_AUDIO_DONE     block until the WAV has been fully fed
//	WAIT_STATUS <name>  block until the session reaches the status
//	MUTE / UNMUTE
//	SLEEP <ms>
//	STOP                request a local stop
//
// EOF on stdin waits for the session to end.
func runTestMode(wavPath string, cfg *config.Config, setup live.Setup) int {
	fakeCtx, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	client := live.NewClient(live.Config{APIKey: cfg.GeminiAPIKey, Endpoint: cfg.LiveEndpoint()})
	sink := newLineSink(os.Stdout)
	results := make(chan session.Result, 1)
	sess := session.New(sessionConfig(cfg, setup, nil, nil),
		session.Deps{Audio: fakeCtx, Dial: session.LiveDialer(client)},
		sessionObserver{sink: sink},
		func(r session.Result) {
			sink.Done(r)
			results <- r
		})

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := sess.Start(ctx); err != nil {
		log.Errorf("test mode start: %v", err)
		return exitCode(<-results)
	}

	go driveTestSession(os.Stdin, sess, fakeCtx)
	return exitCode(<-results)
}

func driveTestSession(in io.Reader, sess *session.Session, fakeCtx *audio.FakeContext) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "":
		case cmd == "WAIT_AUDIO_DONE":
			select {
			case <-fakeCtx.Capture().AudioDone():
			case <-sess.Done():
				return
			}
		case strings.HasPrefix(cmd, "WAIT_STATUS "):
			if !waitStatus(sess, strings.TrimSpace(cmd[len("WAIT_STATUS "):])) {
				return
			}
		case cmd == "MUTE":
			sess.SetMuted(true)
		case cmd == "UNMUTE":
			sess.SetMuted(false)
		case cmd == "STOP":
			sess.Stop()
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[len("SLEEP "):]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		default:
			log.Warnf("test mode: unknown command %q", cmd)
		}
	}
}

// waitStatus reports false when the session finished in some other status.
func waitStatus(sess *session.Session, name string) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		st := sess.Status()
		if st.String() == name {
			return true
		}
		if st.Terminal() {
			return false
		}
		select {
		case <-ticker.C:
		case <-sess.Done():
			return sess.Status().String() == name
		}
	}
}
