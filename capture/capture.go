// Package capture drives one live note-taking session: it acquires the
// loopback source, feeds a segmenter, forwards chunks or frames to a
// backend and folds the replies into the transcript.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livenotes/audio"
	"livenotes/segment"
	"livenotes/transcriber"
	"livenotes/transcript"
)

type State int

const (
	StateIdle State = iota
	StateRequesting
	StateCapturing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateCapturing:
		return "capturing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeStream Mode = "stream"
)

var (
	ErrAlreadyRunning = errors.New("capture already running")
	ErrNoBackend      = errors.New("no backend configured for mode")
	// ErrSourceEnded is the stop cause when the source finished on its own.
	ErrSourceEnded = errors.New("capture source ended")
	// ErrSilenceTimeout is the stop cause of a silence auto-stop.
	ErrSilenceTimeout = errors.New("no audio for too long")
)

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultSilenceThreshold = 0.005
)

type Config struct {
	Mode  Mode
	Batch segment.BatchConfig
	// FrameSamples is the continuous frame size in stream mode.
	FrameSamples   int
	RequestTimeout time.Duration
	Stream         transcriber.StreamConfig

	// SilenceThreshold is the RMS level (0..1) under which a tick counts
	// as silent.
	SilenceThreshold float64
	SilenceWarnAfter time.Duration
	// SilenceAutoStop ends the capture after this long without audio. Zero
	// disables it.
	SilenceAutoStop time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeBatch
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = defaultSilenceThreshold
	}
	if c.SilenceWarnAfter <= 0 {
		c.SilenceWarnAfter = defaultSilenceWarn
	}
	return c
}

// Acquirer hands out the capture source for one session.
type Acquirer interface {
	Acquire(ctx context.Context) (*audio.Stream, error)
}

// Sink receives session updates for display. Calls come from the
// controller's goroutines and must not block for long.
type Sink interface {
	StateChanged(state State)
	TranscriptChanged(topics []transcript.Topic, live string)
	AudioLevel(rms float64)
	// Warning shows msg; an empty msg clears the previous warning.
	Warning(msg string)
	ChunkFailed(seq uint64, err error)
	// Stopped is called once per session after teardown. cause is nil for
	// an explicit Stop.
	Stopped(cause error)
}

type NopSink struct{}

func (NopSink) StateChanged(State) {}
func (NopSink) TranscriptChanged([]transcript.Topic, string) {}
func (NopSink) AudioLevel(float64) {}
func (NopSink) Warning(string) {}
func (NopSink) ChunkFailed(uint64, error) {}
func (NopSink) Stopped(error) {}

type Counters struct {
	Chunks    int // chunks or frames handed to the backend
	Skipped   int // cycles or chunks skipped because a request was in flight
	Failed    int // chunks whose request failed
	Malformed int // replies that could not be parsed
	Dropped   int // empty chunks and frames dropped by the transport queue
}

type Snapshot struct {
	State    State
	Source   string
	Topics   []transcript.Topic
	Live     string
	Elapsed  time.Duration
	Counters Counters
}

// StatusText turns a start error or stop cause into a status line.
func StatusText(err error) string {
	switch {
	case err == nil:
		return "Capture stopped."
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Permission to capture audio was denied. Allow access and start again."
	case errors.Is(err, audio.ErrNoAudioTrack):
		return "The selected source has no audio. Pick a loopback (monitor) source and start again."
	case errors.Is(err, transcriber.ErrStreamingSession):
		return "The live session ended unexpectedly. Start again to continue."
	case errors.Is(err, transcriber.ErrTranscriptionRequest):
		return "A chunk could not be transcribed; capture continues."
	case errors.Is(err, ErrSourceEnded):
		return "The source stopped sharing audio. Capture ended."
	case errors.Is(err, ErrSilenceTimeout):
		return "No audio for too long. Capture ended."
	case errors.Is(err, ErrAlreadyRunning):
		return "Capture is already running."
	case errors.Is(err, ErrNoBackend):
		return "No transcription backend is configured for this mode."
	case errors.Is(err, context.Canceled):
		return "Capture was cancelled."
	}
	return "Error: " + err.Error()
}
