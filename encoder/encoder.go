package encoder

const (
	SampleRate    = 16000 // rate the backend expects for microphone audio
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096 // FLAC block size for session recordings

	MIMEType = "audio/pcm;rate=16000"
)

// Encoder records 16 kHz mono samples to a file.
type Encoder interface {
	Write(samples []int16) error
	Close() error
	TotalFrames() uint64
	Save(path string) error
}

var _ Encoder = (*FlacEncoder)(nil)
