package capture

import (
	"encoding/binary"
	"math"
	"sync"
)

// RMS returns the root mean square of little-endian PCM16 samples,
// normalized to 0..1.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}

// levelMeter accumulates audio energy between ticks. add runs on the audio
// callback, take on the controller loop.
type levelMeter struct {
	mu         sync.Mutex
	sumSquares float64
	samples    int
}

func (m *levelMeter) add(pcm []byte) {
	var sum float64
	n := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		sum += s * s
		n++
	}
	m.mu.Lock()
	m.sumSquares += sum
	m.samples += n
	m.mu.Unlock()
}

// take returns the RMS since the last call. ok is false if no audio
// arrived in between.
func (m *levelMeter) take() (rms float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samples == 0 {
		return 0, false
	}
	rms = math.Sqrt(m.sumSquares / float64(m.samples))
	m.sumSquares, m.samples = 0, 0
	return rms, true
}
