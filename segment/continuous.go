package segment

import (
	"sync"

	"livenotes/encoder"
)

const (
	DefaultFrameSamples = 2048
	continuousBuffer    = 256
)

type ContinuousConfig struct {
	FrameSamples int // samples per emitted frame
}

// Continuous forwards every complete fixed-size PCM frame. It never drops
// frames; a partial frame left at Stop is discarded.
type Continuous struct {
	emitter
	frameBytes int

	mu      sync.Mutex
	started bool
	buf     []byte
}

func NewContinuous(cfg ContinuousConfig) *Continuous {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultFrameSamples
	}
	return &Continuous{
		emitter:    newEmitter(continuousBuffer),
		frameBytes: cfg.FrameSamples * 2,
	}
}

func (c *Continuous) Start() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
}

func (c *Continuous) Feed(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.isStopped() {
		return
	}
	c.buf = append(c.buf, pcm...)
	for len(c.buf) >= c.frameBytes {
		frame := make([]byte, c.frameBytes)
		copy(frame, c.buf[:c.frameBytes])
		c.buf = c.buf[c.frameBytes:]
		frames := uint64(c.frameBytes / 2)
		if !c.emit(Chunk{
			Seq:      c.nextSeq(),
			MIMEType: encoder.PCMMIMEType,
			Data:     frame,
			Frames:   frames,
			Duration: encoder.Duration(frames),
		}) {
			return
		}
	}
}

func (c *Continuous) Stop() {
	c.emitter.stop()
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
}
