package playback

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"

	resampler "github.com/tphakala/go-audio-resampler"
)

const (
	SampleRate = 24000 // rate of the agent's voice on the wire and at the output device
	Channels   = 1

	// Quality of the conversion for chunks that arrive at another rate.
	Quality = resampler.QualityMedium
)

var ErrDecode = errors.New("decode audio chunk")

// Buffer is decoded mono audio at SampleRate.
type Buffer struct {
	Samples []float32
}

func (b Buffer) Len() int { return len(b.Samples) }

func (b Buffer) Duration() time.Duration {
	return time.Duration(len(b.Samples)) * time.Second / SampleRate
}

// Decode turns a base64 S16LE payload into a playable buffer. mimeType may
// carry a rate parameter ("audio/pcm;rate=24000"); other rates are
// resampled to SampleRate. An empty mimeType means audio/pcm at SampleRate.
func Decode(mimeType, data string) (Buffer, error) {
	rate := SampleRate
	if mimeType != "" {
		mt, params, err := mime.ParseMediaType(mimeType)
		if err != nil {
			return Buffer{}, fmt.Errorf("%w: mime type %q: %v", ErrDecode, mimeType, err)
		}
		if !strings.HasPrefix(mt, "audio/pcm") && mt != "audio/l16" {
			return Buffer{}, fmt.Errorf("%w: unsupported mime type %q", ErrDecode, mt)
		}
		if r, ok := params["rate"]; ok {
			rate, err = strconv.Atoi(r)
			if err != nil || rate <= 0 {
				return Buffer{}, fmt.Errorf("%w: bad rate %q", ErrDecode, r)
			}
		}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(raw) == 0 {
		return Buffer{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if len(raw)%2 != 0 {
		return Buffer{}, fmt.Errorf("%w: odd payload length %d", ErrDecode, len(raw))
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	if rate != SampleRate {
		samples, err = resampler.ResampleMonoFloat32(samples, float64(rate), SampleRate, Quality)
		if err != nil {
			return Buffer{}, fmt.Errorf("%w: resample %d Hz: %v", ErrDecode, rate, err)
		}
		if len(samples) == 0 {
			return Buffer{}, fmt.Errorf("%w: chunk too short to resample", ErrDecode)
		}
	}
	return Buffer{Samples: samples}, nil
}
