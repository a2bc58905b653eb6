package transcriber

import (
	"context"
	"fmt"
	"sync"
	"time"

	"livenotes/log"
	"livenotes/segment"
)

const (
	streamQueue       = 64
	streamEventBuffer = 64
	streamDrainWait   = 2 * time.Second
)

type EventKind int

const (
	EventText EventKind = iota
	EventTopic
	EventEnd
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventTopic:
		return "topic"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type Event struct {
	Kind  EventKind
	Text  string
	Topic string
	Err   error
}

type StreamConfig struct {
	Model       string
	Instruction string
	MIMEType    string
}

// Streamer opens one persistent session per capture.
type Streamer interface {
	Name() string
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is a live session. Send never blocks; Events is closed once the
// session is over, after an EventEnd or EventError if the server ended it.
type Stream interface {
	Send(chunk segment.Chunk)
	Events() <-chan Event
	Close() error
}

// rawStream is the transport behind a streamSession.
type rawStream interface {
	Send(frame []byte, mimeType string) error
	Recv() ([]Event, error)
	Close() error
}

type streamSession struct {
	provider  string
	raw       rawStream
	frames    chan segment.Chunk
	events    chan Event
	done      chan struct{}
	startedAt time.Time

	sendDone chan struct{}
	recvDone chan struct{}

	mu        sync.Mutex
	sendErr   error
	closing   bool
	closeOnce sync.Once
	stats     streamStats
}

type streamStats struct {
	ConnectDur   time.Duration
	SentFrames   int
	SentBytes    uint64
	Dropped      int
	RecvMessages int
	RecvText     int
	RecvTopics   int
}

func newStreamSession(provider string, raw rawStream, connectDur time.Duration) *streamSession {
	s := &streamSession{
		provider:  provider,
		raw:       raw,
		frames:    make(chan segment.Chunk, streamQueue),
		events:    make(chan Event, streamEventBuffer),
		done:      make(chan struct{}),
		startedAt: time.Now(),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
	}
	s.stats.ConnectDur = connectDur
	go s.runSender()
	go s.runReceiver()
	return s
}

// Send queues a frame. When the queue is full the oldest frame is dropped.
func (s *streamSession) Send(chunk segment.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.sendErr != nil {
		return
	}
	select {
	case s.frames <- chunk:
		return
	default:
	}
	select {
	case <-s.frames:
		s.stats.Dropped++
	default:
	}
	select {
	case s.frames <- chunk:
	default:
		s.stats.Dropped++
	}
}

func (s *streamSession) Events() <-chan Event { return s.events }

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for {
		select {
		case <-s.done:
			return
		case chunk, ok := <-s.frames:
			if !ok {
				return
			}
			if err := s.raw.Send(chunk.Data, chunk.MIMEType); err != nil {
				s.mu.Lock()
				closing := s.closing
				if !closing {
					s.sendErr = err
				}
				s.mu.Unlock()
				if !closing {
					// Unblock the receiver so it reports the failure.
					s.raw.Close()
				}
				return
			}
			s.mu.Lock()
			s.stats.SentFrames++
			s.stats.SentBytes += uint64(len(chunk.Data))
			s.mu.Unlock()
		}
	}
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	defer close(s.events)
	for {
		events, err := s.raw.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			if s.sendErr != nil {
				err = s.sendErr
			}
			s.mu.Unlock()
			if !closing {
				s.deliver(Event{Kind: EventError, Err: fmt.Errorf("%w: %s: %v", ErrStreamingSession, s.provider, err)})
			}
			return
		}

		s.mu.Lock()
		s.stats.RecvMessages++
		s.mu.Unlock()

		for _, ev := range events {
			s.mu.Lock()
			switch ev.Kind {
			case EventText:
				s.stats.RecvText++
			case EventTopic:
				s.stats.RecvTopics++
			}
			s.mu.Unlock()

			if !s.deliver(ev) {
				return
			}
			if ev.Kind == EventEnd || ev.Kind == EventError {
				return
			}
		}
	}
}

func (s *streamSession) deliver(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Close ends the session. Queued frames that were not sent yet are dropped.
func (s *streamSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		close(s.frames)
		s.mu.Unlock()
		close(s.done)

		<-s.sendDone
		err = s.raw.Close()
		select {
		case <-s.recvDone:
		case <-time.After(streamDrainWait):
			log.Warn("stream receiver drain timeout")
		}

		s.mu.Lock()
		stats := s.stats
		s.mu.Unlock()
		log.StreamMetrics(log.StreamMetricsData{
			Provider:     s.provider,
			ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
			TotalMs:      float64(time.Since(s.startedAt).Milliseconds()),
			SentFrames:   stats.SentFrames,
			SentKB:       float64(stats.SentBytes) / 1024,
			DroppedFrame: stats.Dropped,
			RecvMessages: stats.RecvMessages,
			RecvText:     stats.RecvText,
			RecvTopics:   stats.RecvTopics,
		})
	})
	return err
}

func (s *streamSession) Stats() streamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
