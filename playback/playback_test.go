package playback

import (
	"encoding/base64"
	"encoding/binary"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePCM(samples []int16) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func constBuffer(n int, v float32) Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return Buffer{Samples: s}
}

// =============================================================================
// Decode
// =============================================================================

func TestDecode(t *testing.T) {
	buf, err := Decode("audio/pcm;rate=24000", encodePCM([]int16{0, 16384, -32768}))
	require.NoError(t, err)
	require.Equal(t, 3, buf.Len())
	assert.Equal(t, float32(0), buf.Samples[0])
	assert.Equal(t, float32(0.5), buf.Samples[1])
	assert.Equal(t, float32(-1), buf.Samples[2])
}

func TestDecodeDuration(t *testing.T) {
	buf, err := Decode("", encodePCM(make([]int16, 2400)))
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, buf.Duration())
}

func TestDecodeResamples(t *testing.T) {
	for _, tt := range []struct {
		mimeType string
		samples  int
	}{
		{"audio/pcm;rate=16000", 1600},
		{"audio/pcm;rate=48000", 4800},
		{"audio/L16;rate=22050", 2205},
	} {
		t.Run(tt.mimeType, func(t *testing.T) {
			dc := make([]int16, tt.samples)
			for i := range dc {
				dc[i] = 8192
			}
			buf, err := Decode(tt.mimeType, encodePCM(dc))
			require.NoError(t, err)
			// 100ms at any rate is 2400 samples at SampleRate.
			assert.InDelta(t, 2400, buf.Len(), 240)
			mid := buf.Samples[buf.Len()/2]
			assert.InDelta(t, 0.25, mid, 0.01, "level must survive conversion")
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		data     string
	}{
		{"bad base64", "", "!!!not-base64"},
		{"empty", "", ""},
		{"odd length", "", base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
		{"wrong mime", "audio/mpeg", encodePCM([]int16{1, 2})},
		{"bad rate", "audio/pcm;rate=abc", encodePCM([]int16{1, 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.mimeType, tt.data)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

// =============================================================================
// Scheduling
// =============================================================================

func TestFirstChunkStartsNow(t *testing.T) {
	s := NewScheduler(SampleRate)
	s.Render(make([]float32, 480))

	it := s.Schedule(constBuffer(100, 0.1))
	assert.Equal(t, int64(480), it.Start)
}

func TestScheduleIsMonotonicAndGapless(t *testing.T) {
	s := NewScheduler(SampleRate)
	rng := rand.New(rand.NewSource(7))

	var items []Item
	for i := 0; i < 200; i++ {
		items = append(items, s.Schedule(constBuffer(1+rng.Intn(4000), 0.1)))
		// Irregular arrivals: the device sometimes pulls between chunks.
		if rng.Intn(3) == 0 {
			s.Render(make([]float32, rng.Intn(6000)))
			s.Reap()
		}
	}

	for i := 1; i < len(items); i++ {
		prev, cur := items[i-1], items[i]
		require.GreaterOrEqual(t, cur.Start, prev.Start, "item %d", i)
		require.GreaterOrEqual(t, cur.Start, prev.End(), "item %d overlaps item %d", i, i-1)
	}
}

func TestAheadTracksUnplayedAudio(t *testing.T) {
	s := NewScheduler(SampleRate)
	assert.Zero(t, s.Ahead())

	s.Schedule(constBuffer(SampleRate/2, 0.1))
	s.Schedule(constBuffer(SampleRate/2, 0.1))
	assert.Equal(t, time.Second, s.Ahead())

	s.Render(make([]float32, SampleRate/4))
	assert.Equal(t, 750*time.Millisecond, s.Ahead())

	s.Render(make([]float32, SampleRate))
	assert.Zero(t, s.Ahead(), "an idle clock past the watermark has nothing ahead")
}

func TestWatermarkIsSchedulingAuthority(t *testing.T) {
	s := NewScheduler(SampleRate)
	a := s.Schedule(constBuffer(1000, 0.1))
	b := s.Schedule(constBuffer(500, 0.1))
	assert.Equal(t, int64(0), a.Start)
	assert.Equal(t, a.End(), b.Start, "early arrival queues behind the watermark")

	// Clock runs past the watermark: the next item starts at the clock.
	s.Render(make([]float32, 4000))
	c := s.Schedule(constBuffer(10, 0.1))
	assert.Equal(t, int64(4000), c.Start)
}

func TestRenderPlaysItemsBackToBack(t *testing.T) {
	s := NewScheduler(SampleRate)
	s.Schedule(constBuffer(3, 0.25))
	s.Schedule(constBuffer(2, 0.5))

	out := make([]float32, 6)
	s.Render(out)
	assert.Equal(t, []float32{0.25, 0.25, 0.25, 0.5, 0.5, 0}, out)
}

func TestReapRemovesFinished(t *testing.T) {
	s := NewScheduler(SampleRate)
	s.Schedule(constBuffer(100, 0.1))
	s.Schedule(constBuffer(100, 0.1))

	s.Render(make([]float32, 150))
	select {
	case <-s.Finished():
	default:
		t.Fatal("expected a finished signal")
	}
	done, empty := s.Reap()
	require.Len(t, done, 1)
	assert.Equal(t, uint64(1), done[0].Seq)
	assert.False(t, empty)
	assert.Equal(t, 1, s.Pending())

	s.Render(make([]float32, 50))
	done, empty = s.Reap()
	require.Len(t, done, 1)
	assert.True(t, empty)
}

func TestFlushResetsWatermark(t *testing.T) {
	s := NewScheduler(SampleRate)
	s.Schedule(constBuffer(1000, 0.1))
	s.Schedule(constBuffer(1000, 0.1))
	s.Render(make([]float32, 100))

	assert.Equal(t, 2, s.Flush())
	assert.Equal(t, 0, s.Pending())
	it := s.Schedule(constBuffer(10, 0.1))
	assert.Equal(t, int64(100), it.Start)
}

// =============================================================================
// Gain
// =============================================================================

func TestMuteRampsGain(t *testing.T) {
	s := NewScheduler(1000)
	s.Schedule(constBuffer(1000, 1))

	s.SetMuted(true, 10*time.Millisecond) // 10 samples at 1 kHz
	out := make([]float32, 20)
	s.Render(out)

	assert.InDelta(t, 0.9, out[0], 1e-6, "ramp starts at the current level")
	for i := 1; i < 10; i++ {
		assert.Less(t, out[i], out[i-1], "sample %d", i)
	}
	for i := 10; i < 20; i++ {
		assert.Equal(t, float32(0), out[i])
	}
	assert.Equal(t, 0.0, s.Gain())
	assert.False(t, s.Audible())

	s.SetMuted(false, 0)
	s.Render(out)
	assert.Equal(t, 1.0, s.Gain())
	assert.True(t, s.Audible())
	assert.InDelta(t, 1.0, s.Level(), 1e-6)
}

func TestGainJump(t *testing.T) {
	g := NewGain(1)
	g.SetTarget(0.5, 0, SampleRate)
	assert.Equal(t, 0.5, g.Next())
	assert.Equal(t, 0.5, g.Target())
}
