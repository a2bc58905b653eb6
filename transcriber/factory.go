package transcriber

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Options selects and configures a backend.
type Options struct {
	Provider        string
	APIKey          string
	URL             string
	Model           string
	TranscribeModel string
	Instruction     string
	RetryAttempts   int
	RetryBackoff    time.Duration
	FakeDelay       time.Duration
}

var (
	SummarizerProviders = []string{"gemini", "openai", "endpoint", "fake"}
	StreamerProviders   = []string{"gemini-live", "websocket", "fake"}
)

func NewSummarizer(ctx context.Context, o Options) (Summarizer, error) {
	var s Summarizer
	switch o.Provider {
	case "gemini", "":
		if o.APIKey == "" {
			return nil, errors.New("gemini: missing API key")
		}
		g, err := NewGemini(ctx, o.APIKey, o.URL, o.Model, o.Instruction)
		if err != nil {
			return nil, err
		}
		s = g
	case "openai":
		oa, err := NewOpenAI(OpenAIConfig{
			APIKey:          o.APIKey,
			BaseURL:         o.URL,
			TranscribeModel: o.TranscribeModel,
			ChatModel:       o.Model,
			Instruction:     o.Instruction,
		})
		if err != nil {
			return nil, err
		}
		s = oa
	case "endpoint":
		if o.URL == "" {
			return nil, errors.New("endpoint: missing URL")
		}
		e := NewEndpoint(o.URL, o.APIKey)
		go e.Warm(context.WithoutCancel(ctx))
		s = e
	case "fake":
		s = NewFakeSummarizer(o.FakeDelay)
	default:
		return nil, fmt.Errorf("unknown provider %q (want one of %v)", o.Provider, SummarizerProviders)
	}
	return WithRetry(s, o.RetryAttempts, o.RetryBackoff), nil
}

func NewStreamer(ctx context.Context, o Options) (Streamer, error) {
	switch o.Provider {
	case "gemini-live", "":
		if o.APIKey == "" {
			return nil, errors.New("gemini-live: missing API key")
		}
		return NewGeminiLive(ctx, o.APIKey, o.URL, o.Model)
	case "websocket":
		if o.URL == "" {
			return nil, errors.New("websocket: missing URL")
		}
		return NewWebSocket(o.URL, o.APIKey), nil
	case "fake":
		return NewFakeStreamer(), nil
	default:
		return nil, fmt.Errorf("unknown stream provider %q (want one of %v)", o.Provider, StreamerProviders)
	}
}
