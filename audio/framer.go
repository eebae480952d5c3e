package audio

// Framer cuts a variable-size byte stream of mono S16LE samples into frames
// of a fixed sample count. Not safe for concurrent use; each capture device
// drives its framer from a single device thread.
type Framer struct {
	frameBytes int
	buf        []byte
}

func NewFramer(frameSamples uint32) *Framer {
	if frameSamples == 0 {
		frameSamples = 1
	}
	n := int(frameSamples) * 2
	return &Framer{frameBytes: n, buf: make([]byte, 0, n*2)}
}

// Write appends data and calls emit once per complete frame. The slice passed
// to emit is freshly allocated and owned by the receiver.
func (f *Framer) Write(data []byte, emit DataCallback) {
	f.buf = append(f.buf, data...)
	for len(f.buf) >= f.frameBytes {
		frame := make([]byte, f.frameBytes)
		copy(frame, f.buf[:f.frameBytes])
		n := copy(f.buf, f.buf[f.frameBytes:])
		f.buf = f.buf[:n]
		if emit != nil {
			emit(frame, uint32(f.frameBytes/2))
		}
	}
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
