// Package clipboard copies interview transcripts to the system clipboard.
package clipboard

import (
	cb "github.com/atotto/clipboard"

	"jobm8/transcript"
)

// Unsupported reports whether no clipboard utility is available (on Linux,
// xclip, xsel or wl-copy).
func Unsupported() bool {
	return cb.Unsupported
}

func Copy(text string) error {
	return cb.WriteAll(text)
}

// CopyTranscript puts the plain-text rendering of lines on the clipboard.
func CopyTranscript(lines []transcript.Line) error {
	return Copy(transcript.Format(lines))
}
