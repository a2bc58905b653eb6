package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livenotes/audio"
	"livenotes/encoder"
	"livenotes/log"
	"livenotes/segment"
	"livenotes/transcriber"
	"livenotes/transcript"
)

// NoAudioWarning is the Sink warning shown while the source is silent.
const NoAudioWarning = "no audio from source"

const microphoneWarning = "source %q looks like a microphone, not a loopback of the shared audio"

type Backends struct {
	Summarizer transcriber.Summarizer // batch mode
	Streamer   transcriber.Streamer   // stream mode
}

// Controller runs capture sessions one at a time. All transcript
// mutations happen under mu, from Start, the session loop or its teardown.
type Controller struct {
	cfg        Config
	acquirer   Acquirer
	summarizer transcriber.Summarizer
	streamer   transcriber.Streamer
	sink       Sink

	mu        sync.Mutex
	state     State
	asm       *transcript.Assembler
	sess      *session
	starting  chan struct{}
	cancelAcq context.CancelFunc
	source    string
	startedAt time.Time
	elapsed   time.Duration
	counters  Counters
}

type segmenter interface {
	segment.Segmenter
	Stats() segment.Stats
}

type session struct {
	stream *audio.Stream
	track  *audio.Track
	seg    segmenter
	live   transcriber.Stream
	reqCtx context.Context

	// inFlight is held from dispatching a chunk until its result has been
	// applied.
	inFlight atomic.Bool
	results  chan chunkResult
	meter    levelMeter

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type chunkResult struct {
	chunk   segment.Chunk
	result  *transcriber.Result
	err     error
	elapsed time.Duration
}

func New(acq Acquirer, b Backends, cfg Config, sink Sink) *Controller {
	if sink == nil {
		sink = NopSink{}
	}
	c := &Controller{
		cfg:        cfg.withDefaults(),
		acquirer:   acq,
		summarizer: b.Summarizer,
		streamer:   b.Streamer,
		sink:       sink,
		asm:        transcript.NewAssembler(),
	}
	c.asm.OnSentence(log.TranscriptSentence)
	return c
}

func (c *Controller) provider() string {
	if c.cfg.Mode == ModeStream {
		if c.streamer != nil {
			return c.streamer.Name()
		}
	} else if c.summarizer != nil {
		return c.summarizer.Name()
	}
	return "none"
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the source and begins capturing. It returns once the
// session is running or has failed; on failure everything acquired so far
// has been released and the controller is Idle again.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if (c.cfg.Mode == ModeStream && c.streamer == nil) || (c.cfg.Mode != ModeStream && c.summarizer == nil) {
		c.mu.Unlock()
		return fmt.Errorf("%w %s", ErrNoBackend, c.cfg.Mode)
	}
	actx, cancel := context.WithCancel(ctx)
	starting := make(chan struct{})
	c.state = StateRequesting
	c.cancelAcq = cancel
	c.starting = starting
	c.asm.Reset()
	c.counters = Counters{}
	c.source = ""
	c.elapsed = 0
	c.mu.Unlock()

	c.sink.StateChanged(StateRequesting)
	c.sink.TranscriptChanged(nil, "")

	s, err := c.open(actx)
	if err == nil && actx.Err() != nil {
		s.release()
		err = actx.Err()
	}
	cancel()

	c.mu.Lock()
	c.cancelAcq = nil
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		close(starting)
		log.Errorf("capture start: %v", err)
		c.sink.StateChanged(StateIdle)
		return err
	}
	c.sess = s
	c.state = StateCapturing
	c.source = s.track.Label()
	c.startedAt = time.Now()
	c.mu.Unlock()
	close(starting)

	log.SessionStart(c.provider(), string(c.cfg.Mode), s.track.Label())
	c.sink.StateChanged(StateCapturing)
	if s.track.LooksLikeMicrophone() {
		msg := fmt.Sprintf(microphoneWarning, s.track.Label())
		log.Warn(msg)
		c.sink.Warning(msg)
	}
	go c.run(s)
	return nil
}

func (c *Controller) open(ctx context.Context) (*session, error) {
	stream, err := c.acquirer.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{
		stream:  stream,
		track:   stream.AudioTrack(),
		reqCtx:  context.WithoutCancel(ctx),
		results: make(chan chunkResult, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	switch c.cfg.Mode {
	case ModeStream:
		cfg := c.cfg.Stream
		if cfg.MIMEType == "" {
			cfg.MIMEType = encoder.PCMMIMEType
		}
		live, err := c.streamer.Open(ctx, cfg)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		s.live = live
		s.seg = segment.NewContinuous(segment.ContinuousConfig{FrameSamples: c.cfg.FrameSamples})
	default:
		bc := c.cfg.Batch
		bc.Busy = s.inFlight.Load
		s.seg = segment.NewBatch(bc)
	}

	s.seg.Start()
	if err := s.track.Start(s.onAudio); err != nil {
		s.release()
		return nil, fmt.Errorf("starting %q: %w", s.track.Label(), err)
	}
	return s, nil
}

func (s *session) onAudio(data []byte, _ uint32) {
	s.seg.Feed(data)
	s.meter.add(data)
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// release stops the segmenter before the track so a callback blocked on a
// full chunk queue can return.
func (s *session) release() {
	s.seg.Stop()
	s.stream.Stop()
	if s.live != nil {
		if err := s.live.Close(); err != nil {
			log.Warnf("closing stream: %v", err)
		}
	}
}

// Stop ends the current session and waits for teardown. It is safe to call
// in any state and more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch c.state {
	case StateRequesting:
		cancel, starting := c.cancelAcq, c.starting
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-starting
		// The start may have completed before the cancel landed.
		c.Stop()
	case StateCapturing:
		s := c.sess
		c.mu.Unlock()
		s.requestStop()
		<-s.done
	default:
		c.mu.Unlock()
	}
}

func (c *Controller) run(s *session) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	mon := newSilenceMonitor(c.cfg.SilenceWarnAfter, c.cfg.SilenceAutoStop)

	chunks := s.seg.Chunks()
	var events <-chan transcriber.Event
	if s.live != nil {
		events = s.live.Events()
	}

	var cause error
loop:
	for {
		select {
		case <-s.stopCh:
			break loop
		case <-s.track.Ended():
			cause = ErrSourceEnded
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			c.dispatch(s, chunk)
		case r := <-s.results:
			c.applyResult(r)
			s.inFlight.Store(false)
		case ev, ok := <-events:
			if !ok {
				cause = fmt.Errorf("%w: session closed", transcriber.ErrStreamingSession)
				break loop
			}
			if err := c.applyEvent(ev); err != nil {
				cause = err
				break loop
			}
		case <-ticker.C:
			if c.tick(s, mon) {
				cause = ErrSilenceTimeout
				break loop
			}
		}
	}
	c.teardown(s, cause)
}

func (c *Controller) dispatch(s *session, chunk segment.Chunk) {
	if s.live != nil {
		s.live.Send(chunk)
		c.mu.Lock()
		c.counters.Chunks++
		c.mu.Unlock()
		return
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		log.ChunkSkipped(chunk.Seq, "request_in_flight")
		c.mu.Lock()
		c.counters.Skipped++
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	tctx := transcriber.Context{
		Commentary: c.asm.Commentary(),
		Topics:     c.asm.TopicTitles(),
	}
	c.counters.Chunks++
	c.mu.Unlock()

	// The request outlives Stop; its result is dropped if the loop is gone.
	go func() {
		ctx, cancel := context.WithTimeout(s.reqCtx, c.cfg.RequestTimeout)
		defer cancel()
		start := time.Now()
		res, err := c.summarizer.Summarize(ctx, chunk, tctx)
		s.results <- chunkResult{chunk: chunk, result: res, err: err, elapsed: time.Since(start)}
	}()
}

func (c *Controller) applyResult(r chunkResult) {
	if r.err != nil {
		if errors.Is(r.err, transcriber.ErrMalformedResponse) {
			log.Warnf("chunk %d: %v", r.chunk.Seq, r.err)
			c.mu.Lock()
			c.counters.Malformed++
			c.mu.Unlock()
			return
		}
		log.Errorf("chunk %d: %v", r.chunk.Seq, r.err)
		c.mu.Lock()
		c.counters.Failed++
		c.mu.Unlock()
		c.sink.ChunkFailed(r.chunk.Seq, r.err)
		return
	}
	res := r.result
	if res == nil {
		return
	}
	log.ChunkMetrics(chunkMetrics(c.provider(), r.chunk, res, r.elapsed))
	if res.RateLimit != "" {
		log.Info("rate_limit: " + res.RateLimit)
	}

	c.mu.Lock()
	changed := false
	// A new topic opens before this chunk's commentary lands in it.
	if res.NewTopic != "" {
		c.asm.NewTopic(res.NewTopic)
		changed = true
	}
	if !res.Empty() {
		c.asm.AddFragment(res.Commentary)
		changed = true
	}
	topics, live := c.asm.Topics(), c.asm.Live()
	c.mu.Unlock()

	if changed {
		c.sink.TranscriptChanged(topics, live)
	}
}

func chunkMetrics(provider string, chunk segment.Chunk, res *transcriber.Result, elapsed time.Duration) log.ChunkMetricsData {
	d := log.ChunkMetricsData{
		Seq:      chunk.Seq,
		Provider: provider,
		Format:   chunk.MIMEType,
		AudioS:   chunk.Duration.Seconds(),
		SizeKB:   float64(len(chunk.Data)) / 1024,
		TotalMs:  float64(elapsed.Milliseconds()),
		NewTopic: res.NewTopic != "",
		Silent:   res.Empty(),
	}
	if m := res.Metrics; m != nil {
		d.DNSMs = float64(m.DNS.Milliseconds())
		d.TLSMs = float64(m.TLS.Milliseconds())
		d.TTFBMs = float64(m.TTFB.Milliseconds())
		d.ConnReused = m.ConnReused
	}
	return d
}

// applyEvent folds one stream event into the transcript. A non-nil error
// means the session is over.
func (c *Controller) applyEvent(ev transcriber.Event) error {
	switch ev.Kind {
	case transcriber.EventEnd:
		return fmt.Errorf("%w: %s ended the session", transcriber.ErrStreamingSession, c.provider())
	case transcriber.EventError:
		return ev.Err
	}

	c.mu.Lock()
	switch ev.Kind {
	case transcriber.EventText:
		c.asm.AddFragment(ev.Text)
	case transcriber.EventTopic:
		c.asm.NewTopic(ev.Topic)
	}
	topics, live := c.asm.Topics(), c.asm.Live()
	c.mu.Unlock()

	c.sink.TranscriptChanged(topics, live)
	return nil
}

// tick reports the audio level and runs the silence monitor. It returns
// true when the session should auto-stop.
func (c *Controller) tick(s *session, mon *silenceMonitor) bool {
	rms, ok := s.meter.take()
	c.sink.AudioLevel(rms)
	switch mon.Tick(ok && rms >= c.cfg.SilenceThreshold) {
	case SilenceWarn:
		log.Info("no_audio_warning")
		c.sink.Warning(NoAudioWarning)
	case SilenceRepeat:
		log.Info("silence_during_warning")
		c.sink.Warning(NoAudioWarning)
	case SilenceWarnClear:
		c.sink.Warning("")
	case SilenceAutoStop:
		log.Info("silence_auto_stop")
		return true
	}
	return false
}

func (c *Controller) teardown(s *session, cause error) {
	s.release()
	st := s.seg.Stats()

	c.mu.Lock()
	c.asm.Flush()
	c.counters.Skipped += int(st.Skipped)
	c.counters.Dropped += int(st.Dropped)
	c.elapsed = time.Since(c.startedAt)
	topics, live := c.asm.Topics(), c.asm.Live()
	sentences := c.asm.SentenceCount()
	c.sess = nil
	c.state = StateIdle
	c.mu.Unlock()

	why := ""
	if cause != nil {
		why = cause.Error()
	}
	log.Info("teardown: " + StatusText(cause))
	log.SessionEnd(len(topics), sentences, why)

	c.sink.TranscriptChanged(topics, live)
	c.sink.StateChanged(StateIdle)
	c.sink.Stopped(cause)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:    c.state,
		Source:   c.source,
		Topics:   c.asm.Topics(),
		Live:     c.asm.Live(),
		Elapsed:  c.elapsed,
		Counters: c.counters,
	}
	if s := c.sess; s != nil {
		st := s.seg.Stats()
		snap.Counters.Skipped += int(st.Skipped)
		snap.Counters.Dropped += int(st.Dropped)
		snap.Elapsed = time.Since(c.startedAt)
	}
	return snap
}
