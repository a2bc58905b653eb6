package segment

import (
	"bytes"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"
)

func pcmRamp(n int) []byte {
	pcm := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i%1000))
	}
	return pcm
}

func waitChunk(t *testing.T, ch <-chan Chunk) Chunk {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("chunks closed")
		}
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}
	return Chunk{}
}

func TestBatchEmitsBoundedChunk(t *testing.T) {
	b := NewBatch(BatchConfig{Interval: time.Hour, Duration: time.Second, Format: "wav"})
	b.Start()
	defer b.Stop()

	if !b.Recording() {
		t.Fatal("first recording should start immediately")
	}
	b.Feed(pcmRamp(12000))
	b.Feed(pcmRamp(8000))

	c := waitChunk(t, b.Chunks())
	if c.Seq != 1 {
		t.Errorf("Seq = %d, want 1", c.Seq)
	}
	if c.Frames != 16000 {
		t.Errorf("Frames = %d, want 16000 (capped at Duration)", c.Frames)
	}
	if c.Duration != time.Second {
		t.Errorf("Duration = %v", c.Duration)
	}
	if c.MIMEType != "audio/wav" || !bytes.HasPrefix(c.Data, []byte("RIFF")) {
		t.Errorf("MIMEType = %q, data prefix %q", c.MIMEType, c.Data[:4])
	}
	if b.Recording() {
		t.Error("recording still active after emit")
	}
}

func TestBatchFlacChunk(t *testing.T) {
	b := NewBatch(BatchConfig{Interval: time.Hour, Duration: 500 * time.Millisecond})
	b.Start()
	defer b.Stop()
	b.Feed(pcmRamp(8000))

	c := waitChunk(t, b.Chunks())
	if c.MIMEType != "audio/flac" || !bytes.HasPrefix(c.Data, []byte("fLaC")) {
		t.Fatalf("MIMEType = %q", c.MIMEType)
	}
}

func TestBatchSkipsWhenBusy(t *testing.T) {
	var busy atomic.Bool
	busy.Store(true)
	b := NewBatch(BatchConfig{
		Interval: 10 * time.Millisecond,
		Duration: 5 * time.Millisecond,
		Format:   "wav",
		Busy:     busy.Load,
	})
	b.Start()
	defer b.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for b.Stats().Skipped < 3 && time.Now().Before(deadline) {
		b.Feed(pcmRamp(160))
		time.Sleep(time.Millisecond)
	}
	if b.Stats().Skipped < 3 {
		t.Fatalf("skipped = %d, want >= 3", b.Stats().Skipped)
	}
	select {
	case c := <-b.Chunks():
		t.Fatalf("chunk %d emitted while busy", c.Seq)
	default:
	}
	if b.Stats().Emitted != 0 {
		t.Fatalf("emitted = %d", b.Stats().Emitted)
	}
}

func TestBatchDropsEmptyChunk(t *testing.T) {
	b := NewBatch(BatchConfig{Interval: time.Hour, Duration: 20 * time.Millisecond, Format: "wav"})
	b.Start()
	defer b.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for b.Stats().Dropped == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Stats().Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", b.Stats().Dropped)
	}
	if b.Stats().Emitted != 0 {
		t.Fatal("empty chunk was emitted")
	}
}

func TestBatchStopIsFinal(t *testing.T) {
	b := NewBatch(BatchConfig{Interval: time.Hour, Duration: time.Second, Format: "wav"})
	b.Start()
	b.Feed(pcmRamp(4000))

	b.Stop()
	b.Stop()
	b.Feed(pcmRamp(20000))

	if _, ok := <-b.Chunks(); ok {
		t.Fatal("chunk delivered after Stop")
	}
	if b.Recording() {
		t.Fatal("recording survived Stop")
	}
}

func TestBatchStopWithoutStart(t *testing.T) {
	b := NewBatch(BatchConfig{})
	b.Stop()
	b.Start()
	if b.Recording() {
		t.Fatal("Start after Stop began recording")
	}
}

func TestContinuousFrames(t *testing.T) {
	c := NewContinuous(ContinuousConfig{})
	c.Start()

	input := pcmRamp(5000)
	c.Feed(input[:1000])
	c.Feed(input[1000:7000])
	c.Feed(input[7000:])

	for i := range 2 {
		got := waitChunk(t, c.Chunks())
		if got.Seq != uint64(i+1) {
			t.Errorf("frame %d Seq = %d", i, got.Seq)
		}
		if got.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("MIMEType = %q", got.MIMEType)
		}
		want := input[i*DefaultFrameSamples*2 : (i+1)*DefaultFrameSamples*2]
		if !bytes.Equal(got.Data, want) {
			t.Errorf("frame %d data mismatch", i)
		}
		if got.Frames != DefaultFrameSamples || got.Duration != 128*time.Millisecond {
			t.Errorf("frame %d frames=%d duration=%v", i, got.Frames, got.Duration)
		}
	}

	c.Stop()
	c.Stop()
	if _, ok := <-c.Chunks(); ok {
		t.Fatal("partial tail emitted at Stop")
	}
}

func TestContinuousIgnoresFeedBeforeStart(t *testing.T) {
	c := NewContinuous(ContinuousConfig{FrameSamples: 4})
	c.Feed(pcmRamp(16))
	c.Start()
	c.Feed(pcmRamp(4))
	got := waitChunk(t, c.Chunks())
	if got.Seq != 1 || len(got.Data) != 8 {
		t.Fatalf("got seq=%d len=%d", got.Seq, len(got.Data))
	}
	c.Stop()
}

func TestPCM16(t *testing.T) {
	samples := PCM16([]byte{0x01, 0x00, 0xff, 0xff, 0x7f})
	if len(samples) != 2 || samples[0] != 1 || samples[1] != -1 {
		t.Fatalf("PCM16 = %v", samples)
	}
}
