package segment

import (
	"sync"
	"time"

	"livenotes/encoder"
	"livenotes/log"
)

type BatchConfig struct {
	Interval time.Duration // time between the starts of two recordings
	Duration time.Duration // length of each recording
	Format   string        // encoder format, see encoder.New

	// Busy reports whether the previous chunk is still being processed. A
	// cycle that comes due while Busy is true is skipped, not queued.
	Busy func() bool
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Second
	}
	if c.Duration <= 0 {
		c.Duration = 4 * time.Second
	}
	if c.Duration > c.Interval {
		c.Duration = c.Interval
	}
	if c.Format == "" {
		c.Format = "flac"
	}
	return c
}

// Batch records a bounded clip every Interval and emits it encoded. Audio
// that arrives between recordings is discarded.
type Batch struct {
	emitter
	cfg BatchConfig

	mu        sync.Mutex
	rec       *recording
	started   bool
	haltOnce  sync.Once
	quit      chan struct{}
	loopDone  chan struct{}
	finishers sync.WaitGroup
}

type recording struct {
	seq        uint64
	enc        encoder.Encoder
	want       uint64
	frames     uint64
	pending    []int16
	blocks     chan []int16
	encodeDone chan struct{}
	timer      *time.Timer
}

func NewBatch(cfg BatchConfig) *Batch {
	return &Batch{
		emitter: newEmitter(0),
		cfg:     cfg.withDefaults(),
		quit:    make(chan struct{}),
	}
}

// Start begins the first recording immediately and schedules the rest.
func (b *Batch) Start() {
	b.mu.Lock()
	if b.started || b.isStopped() {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.loopDone = make(chan struct{})
	b.mu.Unlock()

	b.beginCycle()
	go b.loop()
}

func (b *Batch) loop() {
	defer close(b.loopDone)
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.quit:
			return
		case <-ticker.C:
			b.beginCycle()
		}
	}
}

func (b *Batch) beginCycle() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isStopped() {
		return
	}
	next := b.seq.Load() + 1
	if b.rec != nil {
		b.skipped.Add(1)
		log.ChunkSkipped(next, "recording_active")
		return
	}
	if b.cfg.Busy != nil && b.cfg.Busy() {
		b.skipped.Add(1)
		log.ChunkSkipped(next, "request_in_flight")
		return
	}

	enc, err := encoder.New(b.cfg.Format)
	if err != nil {
		log.Errorf("segment: %v", err)
		return
	}
	want := uint64(b.cfg.Duration.Seconds() * encoder.SampleRate)
	rec := &recording{
		seq:        b.nextSeq(),
		enc:        enc,
		want:       want,
		blocks:     make(chan []int16, int(want)/encoder.BlockSize+2),
		encodeDone: make(chan struct{}),
	}
	go rec.encode()
	b.finishers.Add(1)
	rec.timer = time.AfterFunc(b.cfg.Duration, func() {
		defer b.finishers.Done()
		b.finish(rec)
	})
	b.rec = rec
}

func (r *recording) encode() {
	defer close(r.encodeDone)
	for block := range r.blocks {
		start := time.Now()
		if err := r.enc.EncodeBlock(block); err != nil {
			log.Errorf("segment: encode: %v", err)
		}
		r.enc.AddEncodeTime(time.Since(start))
	}
}

// Feed hands PCM to the active recording, if any. It never blocks on the
// consumer of Chunks.
func (b *Batch) Feed(pcm []byte) {
	b.mu.Lock()
	rec := b.rec
	if rec == nil {
		b.mu.Unlock()
		return
	}

	samples := PCM16(pcm)
	if room := rec.want - rec.frames; uint64(len(samples)) > room {
		samples = samples[:room]
	}
	rec.frames += uint64(len(samples))
	rec.pending = append(rec.pending, samples...)
	for len(rec.pending) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, rec.pending[:encoder.BlockSize])
		rec.pending = rec.pending[encoder.BlockSize:]
		rec.blocks <- block
	}
	full := rec.frames >= rec.want
	b.mu.Unlock()

	if full && rec.timer.Stop() {
		go func() {
			defer b.finishers.Done()
			b.finish(rec)
		}()
	}
}

// detach removes rec from the segmenter and closes its block queue. It
// reports false if rec was already detached.
func (b *Batch) detach(rec *recording) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec != rec {
		return false
	}
	b.rec = nil
	if len(rec.pending) > 0 {
		rec.blocks <- rec.pending
		rec.pending = nil
	}
	close(rec.blocks)
	return true
}

func (b *Batch) finish(rec *recording) {
	if !b.detach(rec) {
		return
	}
	<-rec.encodeDone
	if err := rec.enc.Close(); err != nil {
		log.Errorf("segment: close encoder: %v", err)
		b.dropped.Add(1)
		return
	}

	frames := rec.enc.TotalFrames()
	if frames == 0 {
		b.dropped.Add(1)
		return
	}
	b.emit(Chunk{
		Seq:      rec.seq,
		MIMEType: rec.enc.MIMEType(),
		Data:     rec.enc.Bytes(),
		Frames:   frames,
		Duration: encoder.Duration(frames),
	})
}

// Recording reports whether a clip is currently being captured.
func (b *Batch) Recording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec != nil
}

// Stop halts the schedule and abandons the recording in progress. It is
// safe to call more than once.
func (b *Batch) Stop() {
	b.haltOnce.Do(b.halt)
}

func (b *Batch) halt() {
	// Closing done first makes any finish blocked in emit return and keeps
	// beginCycle from opening a new recording.
	b.emitter.stop()

	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if started {
		close(b.quit)
		<-b.loopDone
	}

	b.mu.Lock()
	rec := b.rec
	b.mu.Unlock()
	if rec != nil {
		if rec.timer.Stop() {
			b.finishers.Done()
		}
		if b.detach(rec) {
			<-rec.encodeDone
			rec.enc.Close()
		}
	}
	b.finishers.Wait()
}
