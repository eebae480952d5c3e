package encoder

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Quality trades filter length for latency on the capture path.
const Quality = resampler.QualityMedium

// Chunk is one capture frame ready for the wire.
type Chunk struct {
	MIMEType string
	Data     string  // base64 of 16 kHz mono S16LE
	PCM      []int16 // the same samples, for local recording
}

// FrameEncoder turns capture frames into wire chunks, one chunk per frame.
// Not safe for concurrent use.
type FrameEncoder struct {
	rs *resampler.SimpleResampler // nil when the capture rate is already SampleRate
}

func NewFrameEncoder(inputRate int) (*FrameEncoder, error) {
	if inputRate <= 0 || inputRate == SampleRate {
		return &FrameEncoder{}, nil
	}
	rs, err := resampler.NewEngine(float64(inputRate), SampleRate, Quality)
	if err != nil {
		return nil, fmt.Errorf("resampler %d->%d Hz: %w", inputRate, SampleRate, err)
	}
	return &FrameEncoder{rs: rs}, nil
}

// Passthrough reports whether frames go out without resampling.
func (e *FrameEncoder) Passthrough() bool { return e.rs == nil }

// Encode converts one mono S16LE frame at the capture rate. The resampler
// keeps its filter state between calls, so early chunks of a stream may
// carry fewer samples than the frame duration implies.
func (e *FrameEncoder) Encode(frame []byte) (Chunk, error) {
	pcm := make([]int16, len(frame)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	if e.rs != nil && len(pcm) > 0 {
		in := make([]float64, len(pcm))
		for i, s := range pcm {
			in[i] = float64(s) / 32768
		}
		out, err := e.rs.Process(in)
		if err != nil {
			return Chunk{}, fmt.Errorf("resample frame: %w", err)
		}
		pcm = make([]int16, len(out))
		for i, v := range out {
			pcm[i] = quantize(v)
		}
	}

	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return Chunk{
		MIMEType: MIMEType,
		Data:     base64.StdEncoding.EncodeToString(buf),
		PCM:      pcm,
	}, nil
}

func quantize(v float64) int16 {
	v *= 32768
	if v >= 32767 {
		return 32767
	}
	if v <= -32768 {
		return -32768
	}
	if v < 0 {
		return int16(v - 0.5)
	}
	return int16(v + 0.5)
}
