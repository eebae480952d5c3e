// Package beep synthesizes short cues and test tones for the output device.
package beep

import (
	"math"
	"time"

	"jobm8/playback"
)

const (
	// Start cue: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End cue: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error cue: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// Tick renders a decaying sine at the playback rate.
func Tick(freq, volume, decay float64, dur time.Duration) playback.Buffer {
	n := int(float64(playback.SampleRate) * dur.Seconds())
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / playback.SampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = float32(math.Sin(2*math.Pi*freq*t) * volume * envelope)
	}
	return playback.Buffer{Samples: samples}
}

// Tone is a steady sine with 10 ms fades so it starts and stops cleanly.
func Tone(freq, volume float64, dur time.Duration) playback.Buffer {
	n := int(float64(playback.SampleRate) * dur.Seconds())
	fade := playback.SampleRate / 100
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / playback.SampleRate
		env := 1.0
		if i < fade {
			env = float64(i) / float64(fade)
		} else if n-i < fade {
			env = float64(n-i) / float64(fade)
		}
		samples[i] = float32(math.Sin(2*math.Pi*freq*t) * volume * env)
	}
	return playback.Buffer{Samples: samples}
}

func Start() playback.Buffer {
	return Tick(startFreq, startVolume, startDecay, 200*time.Millisecond)
}

func End() playback.Buffer {
	return Tick(endFreq, endVolume, endDecay, 200*time.Millisecond)
}

func Error() playback.Buffer {
	beep := Tick(errorFreq, errorVolume, errorDecay, 80*time.Millisecond).Samples
	gap := make([]float32, playback.SampleRate*50/1000)
	out := make([]float32, 0, len(beep)*2+len(gap))
	out = append(out, beep...)
	out = append(out, gap...)
	out = append(out, beep...)
	return playback.Buffer{Samples: out}
}
