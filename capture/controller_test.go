package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"
	"testing"
	"time"

	"livenotes/audio"
	"livenotes/segment"
	"livenotes/transcriber"
	"livenotes/transcript"
)

type fakeDevice struct {
	name  string
	ended chan struct{}

	mu       sync.Mutex
	cb       audio.DataCallback
	starts   int
	stops    int
	closes   int
	endOnce  sync.Once
	startErr error
}

func newFakeDevice(name string) *fakeDevice {
	return &fakeDevice{name: name, ended: make(chan struct{})}
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.starts++
	return nil
}

func (d *fakeDevice) Stop() {
	d.mu.Lock()
	d.stops++
	d.mu.Unlock()
}

func (d *fakeDevice) Close() {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
}

func (d *fakeDevice) SetCallback(cb audio.DataCallback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *fakeDevice) ClearCallback() {
	d.mu.Lock()
	d.cb = nil
	d.mu.Unlock()
}

func (d *fakeDevice) DeviceName() string { return d.name }

func (d *fakeDevice) Ended() <-chan struct{} { return d.ended }

// feed delivers pcm to the callback, if one is set.
func (d *fakeDevice) feed(pcm []byte) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(pcm, uint32(len(pcm)/2))
	}
}

func (d *fakeDevice) finish() { d.endOnce.Do(func() { close(d.ended) }) }

func (d *fakeDevice) counts() (starts, stops, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.closes
}

type fakeContext struct {
	devices    []audio.DeviceInfo
	dev        *fakeDevice
	captureErr error
}

func (c *fakeContext) Devices() ([]audio.DeviceInfo, error) { return c.devices, nil }

func (c *fakeContext) NewCapture(*audio.DeviceInfo, audio.CaptureConfig) (audio.CaptureDevice, error) {
	if c.captureErr != nil {
		return nil, c.captureErr
	}
	return c.dev, nil
}

func (c *fakeContext) Close() {}

func newFakeContext(name string) *fakeContext {
	return &fakeContext{
		devices: []audio.DeviceInfo{{ID: "mon", Name: name, Monitor: true}},
		dev:     newFakeDevice(name),
	}
}

type recordingSink struct {
	mu       sync.Mutex
	states   []State
	warnings []string
	failed   []uint64
	stopped  []error
	topics   []transcript.Topic
	live     string
	stopCh   chan struct{}
	once     sync.Once
}

func newRecordingSink() *recordingSink {
	return &recordingSink{stopCh: make(chan struct{})}
}

func (s *recordingSink) StateChanged(st State) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *recordingSink) TranscriptChanged(topics []transcript.Topic, live string) {
	s.mu.Lock()
	s.topics, s.live = topics, live
	s.mu.Unlock()
}

func (s *recordingSink) AudioLevel(float64) {}

func (s *recordingSink) Warning(msg string) {
	s.mu.Lock()
	s.warnings = append(s.warnings, msg)
	s.mu.Unlock()
}

func (s *recordingSink) ChunkFailed(seq uint64, _ error) {
	s.mu.Lock()
	s.failed = append(s.failed, seq)
	s.mu.Unlock()
}

func (s *recordingSink) Stopped(cause error) {
	s.mu.Lock()
	s.stopped = append(s.stopped, cause)
	s.mu.Unlock()
	s.once.Do(func() { close(s.stopCh) })
}

func (s *recordingSink) waitStopped(t *testing.T) error {
	t.Helper()
	select {
	case <-s.stopCh:
	case <-time.After(3 * time.Second):
		t.Fatal("session never stopped")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped[0]
}

func (s *recordingSink) snapshot() (warnings []string, failed []uint64, stopped []error, live string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...), append([]uint64(nil), s.failed...),
		append([]error(nil), s.stopped...), s.live
}

func tone(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// pump feeds 10 ms of tone every 2 ms until stop is closed.
func pump(dev *fakeDevice, stop <-chan struct{}) {
	pcm := tone(160)
	for {
		select {
		case <-stop:
			return
		case <-time.After(2 * time.Millisecond):
			dev.feed(pcm)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func batchConfig() Config {
	return Config{
		Mode: ModeBatch,
		Batch: segment.BatchConfig{
			Interval: 40 * time.Millisecond,
			Duration: 20 * time.Millisecond,
			Format:   "wav",
		},
		SilenceWarnAfter: time.Minute,
	}
}

func newBatchController(fctx *fakeContext, sum transcriber.Summarizer, cfg Config, sink Sink) *Controller {
	acq := audio.NewAcquirer(fctx, audio.CaptureConfig{SampleRate: 16000, Channels: 1}, "")
	return New(acq, Backends{Summarizer: sum}, cfg, sink)
}

func TestBatchNeverOverlapsRequests(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	sum := transcriber.NewFakeSummarizer(90 * time.Millisecond)
	sum.Respond = func(chunk segment.Chunk, _ transcriber.Context) (*transcriber.Result, error) {
		return &transcriber.Result{Commentary: fmt.Sprintf("Sentence %d. ", chunk.Seq), Status: transcriber.StatusSuccess}, nil
	}
	sink := newRecordingSink()
	c := newBatchController(fctx, sum, batchConfig(), sink)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	go pump(fctx.dev, stop)
	waitFor(t, "three requests", func() bool { return sum.Calls() >= 3 })
	c.Stop()
	close(stop)

	if got := sum.MaxInFlight(); got != 1 {
		t.Errorf("MaxInFlight = %d, want 1", got)
	}
	snap := c.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("state = %v, want idle", snap.State)
	}
	if snap.Counters.Skipped == 0 {
		t.Error("expected skipped cycles while a request was in flight")
	}

	// Each request sees the commentary of the one before it.
	ctxs := sum.Contexts()
	for i := 1; i < len(ctxs); i++ {
		if len(ctxs[i].Commentary) < len(ctxs[i-1].Commentary)+1 {
			t.Errorf("request %d context %v does not extend %v", i+1, ctxs[i].Commentary, ctxs[i-1].Commentary)
		}
	}
	if len(snap.Topics) != 1 || snap.Topics[0].Title != transcript.DefaultTopicTitle {
		t.Fatalf("topics = %+v", snap.Topics)
	}
}

func TestLateResultIsDiscarded(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	sum := transcriber.NewFakeSummarizer(150 * time.Millisecond)
	sum.Respond = func(segment.Chunk, transcriber.Context) (*transcriber.Result, error) {
		return &transcriber.Result{Commentary: "Too late. ", Status: transcriber.StatusSuccess}, nil
	}
	c := newBatchController(fctx, sum, batchConfig(), nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	go pump(fctx.dev, stop)
	waitFor(t, "first request", func() bool { return sum.Calls() >= 1 })
	c.Stop()
	close(stop)

	time.Sleep(250 * time.Millisecond)
	snap := c.Snapshot()
	if len(snap.Topics) != 0 || snap.Live != "" {
		t.Errorf("late result applied: %+v live %q", snap.Topics, snap.Live)
	}
}

func TestNewTopicAppliedBeforeCommentary(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	sum := transcriber.NewFakeSummarizer(0)
	sum.Respond = func(segment.Chunk, transcriber.Context) (*transcriber.Result, error) {
		return &transcriber.Result{Commentary: "We cut costs. Then", NewTopic: "Budget", Status: transcriber.StatusSuccess}, nil
	}
	c := newBatchController(fctx, sum, batchConfig(), nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	go pump(fctx.dev, stop)
	waitFor(t, "first result", func() bool { return c.Snapshot().Live != "" })
	close(stop)
	c.Stop()

	snap := c.Snapshot()
	if len(snap.Topics) == 0 || snap.Topics[0].Title != "Budget" {
		t.Fatalf("topics = %+v, want Budget first", snap.Topics)
	}
	got := snap.Topics[0].Commentaries
	if len(got) < 2 || got[0] != "We cut costs." || got[1] != "Then" {
		t.Errorf("commentaries = %q", got)
	}
	if snap.Live != "" {
		t.Errorf("live = %q after stop, want flushed", snap.Live)
	}
}

func TestStopFlushesPartialThought(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	sum := transcriber.NewFakeSummarizer(0)
	var once sync.Once
	sum.Respond = func(segment.Chunk, transcriber.Context) (*transcriber.Result, error) {
		r := &transcriber.Result{Commentary: transcriber.SilenceMarker, Status: transcriber.StatusSuccess}
		once.Do(func() { r.Commentary = "Partial thought" })
		return r, nil
	}
	sink := newRecordingSink()
	c := newBatchController(fctx, sum, batchConfig(), sink)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	go pump(fctx.dev, stop)
	waitFor(t, "partial thought", func() bool { return c.Snapshot().Live == "Partial thought" })
	close(stop)
	c.Stop()

	snap := c.Snapshot()
	if len(snap.Topics) != 1 || len(snap.Topics[0].Commentaries) != 1 || snap.Topics[0].Commentaries[0] != "Partial thought" {
		t.Fatalf("topics = %+v", snap.Topics)
	}
	if err := sink.waitStopped(t); err != nil {
		t.Errorf("stop cause = %v, want nil", err)
	}
}

func TestFailedChunkKeepsCapturing(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	sum := transcriber.NewFakeSummarizer(0)
	sum.Respond = func(segment.Chunk, transcriber.Context) (*transcriber.Result, error) {
		switch sum.Calls() {
		case 1:
			return nil, &transcriber.RequestError{Provider: "fake", StatusCode: 500}
		case 2:
			return nil, &transcriber.MalformedResponseError{Provider: "fake", Err: errors.New("bad json")}
		}
		return &transcriber.Result{Commentary: "Still here. ", Status: transcriber.StatusSuccess}, nil
	}
	sink := newRecordingSink()
	c := newBatchController(fctx, sum, batchConfig(), sink)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	go pump(fctx.dev, stop)
	waitFor(t, "a good result", func() bool {
		snap := c.Snapshot()
		return len(snap.Topics) > 0
	})
	if c.State() != StateCapturing {
		t.Errorf("state = %v, want capturing", c.State())
	}
	close(stop)
	c.Stop()

	snap := c.Snapshot()
	if snap.Counters.Failed != 1 || snap.Counters.Malformed != 1 {
		t.Errorf("counters = %+v", snap.Counters)
	}
	_, failed, _, _ := sink.snapshot()
	if len(failed) != 1 {
		t.Errorf("ChunkFailed calls = %v, want one", failed)
	}
}

func TestEndedAndStopReleaseOnce(t *testing.T) {
	for i := range 20 {
		fctx := newFakeContext("Monitor of Speakers")
		sink := newRecordingSink()
		c := newBatchController(fctx, transcriber.NewFakeSummarizer(0), batchConfig(), sink)
		if err := c.Start(context.Background()); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); fctx.dev.finish() }()
		go func() { defer wg.Done(); c.Stop() }()
		wg.Wait()
		sink.waitStopped(t)
		c.Stop()

		if _, stops, closes := fctx.dev.counts(); stops != 1 || closes != 1 {
			t.Fatalf("run %d: device stopped %d and closed %d times, want 1 and 1", i, stops, closes)
		}
		if _, _, stopped, _ := sink.snapshot(); len(stopped) != 1 {
			t.Fatalf("run %d: Stopped called %d times", i, len(stopped))
		}
		if c.State() != StateIdle {
			t.Fatalf("run %d: state = %v", i, c.State())
		}
	}
}

func TestSourceEndedTearsDown(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	sink := newRecordingSink()
	c := newBatchController(fctx, transcriber.NewFakeSummarizer(0), batchConfig(), sink)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	fctx.dev.finish()
	if err := sink.waitStopped(t); !errors.Is(err, ErrSourceEnded) {
		t.Fatalf("cause = %v, want ErrSourceEnded", err)
	}
	waitFor(t, "idle", func() bool { return c.State() == StateIdle })
	if _, _, closes := fctx.dev.counts(); closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}
}

func TestStartErrors(t *testing.T) {
	for _, tt := range []struct {
		name    string
		setup   func(*fakeContext)
		want    error
		closes  int
		summary bool
	}{
		{"permission", func(f *fakeContext) { f.captureErr = fs.ErrPermission }, audio.ErrPermissionDenied, 0, true},
		{"no loopback", func(f *fakeContext) { f.devices[0].Monitor = false }, audio.ErrNoAudioTrack, 0, true},
		{"device start", func(f *fakeContext) { f.dev.startErr = errors.New("device busy") }, nil, 1, true},
		{"no backend", func(*fakeContext) {}, ErrNoBackend, 0, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fctx := newFakeContext("Monitor of Speakers")
			tt.setup(fctx)
			var sum transcriber.Summarizer
			if tt.summary {
				sum = transcriber.NewFakeSummarizer(0)
			}
			c := newBatchController(fctx, sum, batchConfig(), nil)
			err := c.Start(context.Background())
			if err == nil {
				t.Fatal("Start succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if c.State() != StateIdle {
				t.Errorf("state = %v, want idle", c.State())
			}
			if _, _, closes := fctx.dev.counts(); closes != tt.closes {
				t.Errorf("closes = %d, want %d", closes, tt.closes)
			}
			if StatusText(err) == "" {
				t.Error("empty status text")
			}
		})
	}
}

func TestStartTwice(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	c := newBatchController(fctx, transcriber.NewFakeSummarizer(0), batchConfig(), nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStopWhenIdle(t *testing.T) {
	c := newBatchController(newFakeContext("Monitor of Speakers"), transcriber.NewFakeSummarizer(0), batchConfig(), nil)
	c.Stop()
	c.Stop()
	if c.State() != StateIdle {
		t.Errorf("state = %v", c.State())
	}
}

func TestRestartClearsTranscript(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	sum := transcriber.NewFakeSummarizer(0)
	sum.Respond = func(segment.Chunk, transcriber.Context) (*transcriber.Result, error) {
		return &transcriber.Result{Commentary: "One. ", Status: transcriber.StatusSuccess}, nil
	}
	c := newBatchController(fctx, sum, batchConfig(), nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	go pump(fctx.dev, stop)
	waitFor(t, "a sentence", func() bool { return len(c.Snapshot().Topics) > 0 })
	close(stop)
	c.Stop()

	fctx.dev = newFakeDevice("Monitor of Speakers")
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	if snap := c.Snapshot(); len(snap.Topics) != 0 || snap.Counters.Chunks != 0 || snap.Counters.Failed != 0 {
		t.Errorf("restart kept state: %+v", snap)
	}
}

func TestMicrophoneWarning(t *testing.T) {
	fctx := newFakeContext("USB Microphone")
	sink := newRecordingSink()
	c := newBatchController(fctx, transcriber.NewFakeSummarizer(0), batchConfig(), sink)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Stop()
	warnings, _, _, _ := sink.snapshot()
	if len(warnings) == 0 {
		t.Fatal("no warning for a microphone-like source")
	}
}

func TestSilenceWarningAndAutoStop(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	sink := newRecordingSink()
	cfg := batchConfig()
	cfg.SilenceWarnAfter = 200 * time.Millisecond
	cfg.SilenceAutoStop = 500 * time.Millisecond
	c := newBatchController(fctx, transcriber.NewFakeSummarizer(0), cfg, sink)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sink.waitStopped(t); !errors.Is(err, ErrSilenceTimeout) {
		t.Fatalf("cause = %v, want ErrSilenceTimeout", err)
	}
	warnings, _, _, _ := sink.snapshot()
	if len(warnings) == 0 || warnings[0] != NoAudioWarning {
		t.Errorf("warnings = %q", warnings)
	}
}

func newStreamController(fctx *fakeContext, st transcriber.Streamer, sink Sink) *Controller {
	acq := audio.NewAcquirer(fctx, audio.CaptureConfig{SampleRate: 16000, Channels: 1}, "")
	return New(acq, Backends{Streamer: st}, Config{
		Mode:             ModeStream,
		FrameSamples:     160,
		SilenceWarnAfter: time.Minute,
	}, sink)
}

func TestStreamSession(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	st := transcriber.NewFakeStreamer()
	sink := newRecordingSink()
	c := newStreamController(fctx, st, sink)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn, err := st.Conn(time.Second)
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	go pump(fctx.dev, stop)
	waitFor(t, "frames", func() bool { return conn.Frames() >= 5 })

	conn.Push(transcriber.Event{Kind: transcriber.EventText, Text: "Welcome everyone. Today"})
	conn.Push(transcriber.Event{Kind: transcriber.EventTopic, Topic: "Roadmap"})
	conn.Push(transcriber.Event{Kind: transcriber.EventText, Text: "We ship in May."})
	waitFor(t, "roadmap topic", func() bool {
		snap := c.Snapshot()
		return len(snap.Topics) == 2 && len(snap.Topics[1].Commentaries) == 1
	})

	conn.Fail(errors.New("connection reset"))
	cause := sink.waitStopped(t)
	close(stop)
	if !errors.Is(cause, transcriber.ErrStreamingSession) {
		t.Fatalf("cause = %v, want ErrStreamingSession", cause)
	}
	if !conn.Closed() {
		t.Error("stream connection left open")
	}
	if _, _, closes := fctx.dev.counts(); closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}

	snap := c.Snapshot()
	want := []transcript.Topic{
		{Title: transcript.DefaultTopicTitle, Commentaries: []string{"Welcome everyone.", "Today"}},
		{Title: "Roadmap", Commentaries: []string{"We ship in May."}},
	}
	if len(snap.Topics) != len(want) {
		t.Fatalf("topics = %+v", snap.Topics)
	}
	for i := range want {
		if snap.Topics[i].Title != want[i].Title || fmt.Sprint(snap.Topics[i].Commentaries) != fmt.Sprint(want[i].Commentaries) {
			t.Errorf("topic %d = %+v, want %+v", i, snap.Topics[i], want[i])
		}
	}
	if StatusText(cause) == "" {
		t.Error("empty status text")
	}
}

func TestStreamServerEnd(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	st := transcriber.NewFakeStreamer()
	sink := newRecordingSink()
	c := newStreamController(fctx, st, sink)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	conn, err := st.Conn(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	conn.Push(transcriber.Event{Kind: transcriber.EventText, Text: "Goodbye"}, transcriber.Event{Kind: transcriber.EventEnd})
	if cause := sink.waitStopped(t); !errors.Is(cause, transcriber.ErrStreamingSession) {
		t.Fatalf("cause = %v", cause)
	}
	waitFor(t, "idle", func() bool { return c.State() == StateIdle })
	snap := c.Snapshot()
	if len(snap.Topics) != 1 || snap.Topics[0].Commentaries[0] != "Goodbye" {
		t.Errorf("topics = %+v", snap.Topics)
	}
}

func TestStreamOpenFailureReleasesTrack(t *testing.T) {
	fctx := newFakeContext("Monitor of Speakers")
	st := transcriber.NewFakeStreamer()
	st.OpenErr = errors.New("handshake refused")
	c := newStreamController(fctx, st, nil)

	err := c.Start(context.Background())
	if !errors.Is(err, transcriber.ErrStreamingSession) {
		t.Fatalf("err = %v, want ErrStreamingSession", err)
	}
	if _, _, closes := fctx.dev.counts(); closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v", c.State())
	}
}

func TestStatusText(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want string
	}{
		{nil, "Capture stopped."},
		{fmt.Errorf("x: %w", audio.ErrPermissionDenied), "Permission to capture audio was denied. Allow access and start again."},
		{ErrSourceEnded, "The source stopped sharing audio. Capture ended."},
		{errors.New("boom"), "Error: boom"},
	} {
		if got := StatusText(tt.err); got != tt.want {
			t.Errorf("StatusText(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(make([]byte, 320)); got != 0 {
		t.Errorf("RMS(silence) = %v", got)
	}
	if got := RMS(tone(1600)); got < 0.15 || got > 0.2 {
		t.Errorf("RMS(tone) = %v, want about 0.17", got)
	}
	var m levelMeter
	if _, ok := m.take(); ok {
		t.Error("take on empty meter reported audio")
	}
	m.add(tone(1600))
	if rms, ok := m.take(); !ok || rms < 0.15 {
		t.Errorf("take = %v, %v", rms, ok)
	}
}
