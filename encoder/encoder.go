package encoder

import (
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatFLAC = "flac"
	FormatWAV  = "wav"
)

// PCMMIMEType describes raw frames sent to streaming backends.
const PCMMIMEType = "audio/pcm;rate=16000"

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	MIMEType() string
}

// New returns a fresh encoder for one chunk. Supported formats: "flac", "wav".
func New(format string) (Encoder, error) {
	switch format {
	case "", FormatFLAC:
		return NewFlac()
	case FormatWAV:
		return NewWav(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Duration converts a frame count at SampleRate into wall time.
func Duration(frames uint64) time.Duration {
	return time.Duration(frames) * time.Second / SampleRate
}
