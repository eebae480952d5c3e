package session

type Status int32

const (
	StatusConnecting Status = iota
	StatusListening
	StatusProcessing
	StatusSpeaking
	StatusModerating
	StatusEnded
	StatusError
)

var statusNames = [...]string{
	StatusConnecting: "connecting",
	StatusListening:  "listening",
	StatusProcessing: "processing",
	StatusSpeaking:   "speaking",
	StatusModerating: "moderating",
	StatusEnded:      "ended",
	StatusError:      "error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusError
}
