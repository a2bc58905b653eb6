package audio

import "strings"

const WAVHeaderSize = 44

var micKeywords = []string{
	"microphone", "mic ", " mic", "mic)", "headset", "webcam",
	"airpods", "wh-1000", "wf-1000", "jabra", "galaxy buds", "pixel buds",
	"usb audio", "input", "capture", "built-in audio analog stereo",
}

var monitorKeywords = []string{
	"monitor of", ".monitor", "loopback", "blackhole", "soundflower",
	"stereo mix", "what u hear", "wave out mix",
}

// IsMicrophoneLabel reports whether a source label suggests a microphone
// rather than a loopback of the shared output.
func IsMicrophoneLabel(name string) bool {
	if IsMonitorLabel(name) {
		return false
	}
	lower := " " + strings.ToLower(name) + " "
	for _, kw := range micKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsMonitorLabel reports whether a source label looks like an output loopback.
func IsMonitorLabel(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range monitorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID      string // opaque platform-specific identifier
	Name    string
	Monitor bool // captures what the machine plays rather than a microphone
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
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

// endedSource is implemented by capture devices that know when their
// input has finished on its own (e.g. a replayed file).
type endedSource interface {
	Ended() <-chan struct{}
}
