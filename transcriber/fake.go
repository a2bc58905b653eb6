package transcriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livenotes/segment"
)

// FakeSummarizer answers every chunk locally. Respond decides the reply;
// when nil, each chunk yields one numbered sentence.
type FakeSummarizer struct {
	Respond func(chunk segment.Chunk, c Context) (*Result, error)
	Delay   time.Duration

	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	contexts    []Context
}

func NewFakeSummarizer(delay time.Duration) *FakeSummarizer {
	return &FakeSummarizer{Delay: delay}
}

func (f *FakeSummarizer) Name() string { return "fake" }

func (f *FakeSummarizer) Summarize(ctx context.Context, chunk segment.Chunk, c Context) (*Result, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.contexts = append(f.contexts, c)
	respond := f.Respond
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, requestError(f.Name(), ctx.Err())
		case <-time.After(f.Delay):
		}
	}
	if respond != nil {
		return respond(chunk, c)
	}
	return &Result{
		Commentary: fmt.Sprintf("Chunk %d covered %.1f seconds. ", chunk.Seq, chunk.Duration.Seconds()),
		Status:     StatusSuccess,
		Metrics:    &NetworkMetrics{Total: f.Delay},
	}, nil
}

func (f *FakeSummarizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MaxInFlight reports the highest number of concurrent Summarize calls seen.
func (f *FakeSummarizer) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *FakeSummarizer) Contexts() []Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Context(nil), f.contexts...)
}

// FakeStreamer opens sessions backed by FakeConn, driven by the test.
type FakeStreamer struct {
	OpenErr error

	mu    sync.Mutex
	conns []*FakeConn
	ready chan struct{}
}

func NewFakeStreamer() *FakeStreamer {
	return &FakeStreamer{ready: make(chan struct{})}
}

func (f *FakeStreamer) Name() string { return "fake-stream" }

func (f *FakeStreamer) Open(_ context.Context, _ StreamConfig) (Stream, error) {
	if f.OpenErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamingSession, f.OpenErr)
	}
	conn := NewFakeConn()
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	if len(f.conns) == 1 {
		close(f.ready)
	}
	f.mu.Unlock()
	return newStreamSession(f.Name(), conn, 0), nil
}

// Conn waits for the first opened session and returns its connection.
func (f *FakeStreamer) Conn(timeout time.Duration) (*FakeConn, error) {
	select {
	case <-f.ready:
	case <-time.After(timeout):
		return nil, errors.New("no session opened")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[0], nil
}

func (f *FakeStreamer) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeRecv struct {
	events []Event
	err    error
}

type FakeConn struct {
	inbound   chan fakeRecv
	closed    chan struct{}
	closeOnce sync.Once
	SendErr   error

	mu     sync.Mutex
	frames int
	bytes  int
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		inbound: make(chan fakeRecv),
		closed:  make(chan struct{}),
	}
}

// Push delivers one server message carrying events.
func (c *FakeConn) Push(events ...Event) {
	select {
	case c.inbound <- fakeRecv{events: events}:
	case <-c.closed:
	}
}

// Fail makes the next receive return err.
func (c *FakeConn) Fail(err error) {
	select {
	case c.inbound <- fakeRecv{err: err}:
	case <-c.closed:
	}
}

func (c *FakeConn) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *FakeConn) Send(frame []byte, _ string) error {
	if c.Closed() {
		return errors.New("fake: send on closed connection")
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	c.frames++
	c.bytes += len(frame)
	c.mu.Unlock()
	return nil
}

func (c *FakeConn) Recv() ([]Event, error) {
	select {
	case r := <-c.inbound:
		return r.events, r.err
	case <-c.closed:
		return nil, errors.New("fake: connection closed")
	}
}

func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
