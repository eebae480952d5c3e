package audio

import "strings"

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth reports whether a device name looks like a Bluetooth headset.
// Headsets drop to a narrowband profile while their mic is open, which the
// interviewer hears as muffled speech.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives one fixed-size capture frame of mono S16LE samples.
type DataCallback func(data []byte, frameCount uint32)

// Renderer fills out with mono float32 samples in [-1, 1]. It is called from
// the output device thread and must not block.
type Renderer interface {
	Render(out []float32)
}

type Kind int

const (
	KindCapture Kind = iota
	KindPlayback
)

func (k Kind) String() string {
	if k == KindPlayback {
		return "output"
	}
	return "input"
}

type CaptureConfig struct {
	SampleRate   uint32
	Channels     uint32
	FrameSamples uint32 // samples per delivered frame
}

type PlaybackConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices(kind Kind) ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(device *DeviceInfo, config PlaybackConfig, r Renderer) (PlaybackDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

type PlaybackDevice interface {
	Start() error
	Stop()
	Close()
	DeviceName() string
}

// FindDevice returns the device with the given name, or nil.
func FindDevice(ctx Context, kind Kind, name string) *DeviceInfo {
	if name == "" {
		return nil
	}
	devices, err := ctx.Devices(kind)
	if err != nil {
		return nil
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i]
		}
	}
	return nil
}
