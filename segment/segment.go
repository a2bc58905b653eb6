// Package segment cuts a continuous PCM stream into chunks for the
// summarization backends.
package segment

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// Chunk is one unit of audio handed to a transcriber. Data is encoded audio
// for batch chunks and raw little-endian PCM16 for continuous frames.
type Chunk struct {
	Seq      uint64
	MIMEType string
	Data     []byte
	Frames   uint64
	Duration time.Duration
}

// Segmenter consumes 16 kHz mono PCM16 via Feed and emits chunks on
// Chunks. The channel is closed by Stop; no chunk is sent after Stop returns.
type Segmenter interface {
	Start()
	Feed(pcm []byte)
	Chunks() <-chan Chunk
	Stop()
}

type Stats struct {
	Emitted uint64
	Skipped uint64
	Dropped uint64
}

// emitter owns the output channel. Stop closes done first so a blocked
// send gives up, then closes out once no send is in progress.
type emitter struct {
	out      chan Chunk
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	seq     atomic.Uint64
	emitted atomic.Uint64
	skipped atomic.Uint64
	dropped atomic.Uint64
}

func newEmitter(buffer int) emitter {
	return emitter{
		out:  make(chan Chunk, buffer),
		done: make(chan struct{}),
	}
}

func (e *emitter) nextSeq() uint64 { return e.seq.Add(1) }

func (e *emitter) emit(c Chunk) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return false
	}
	select {
	case e.out <- c:
		e.emitted.Add(1)
		return true
	case <-e.done:
		return false
	}
}

func (e *emitter) stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.mu.Lock()
		e.stopped = true
		close(e.out)
		e.mu.Unlock()
	})
}

func (e *emitter) isStopped() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *emitter) Chunks() <-chan Chunk { return e.out }

func (e *emitter) Stats() Stats {
	return Stats{
		Emitted: e.emitted.Load(),
		Skipped: e.skipped.Load(),
		Dropped: e.dropped.Load(),
	}
}

// PCM16 decodes little-endian 16-bit PCM into samples.
func PCM16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}
