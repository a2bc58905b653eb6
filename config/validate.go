package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"livenotes/capture"
	"livenotes/encoder"
	"livenotes/log"
	"livenotes/transcriber"
)

const (
	minInterval     = time.Second
	maxInterval     = 5 * time.Minute
	minFrameSamples = 160
	maxFrameSamples = 16000
)

// ValidationResult separates settings that prevent a capture from starting
// from ones that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// Err joins the fatal errors, or returns nil.
func (r ValidationResult) Err() error {
	if !r.HasFatals() {
		return nil
	}
	if len(r.Fatals) == 1 {
		return r.Fatals[0]
	}
	return fmt.Errorf("%d config errors: %v", len(r.Fatals), r.Fatals)
}

// Validate checks the mode, provider and credential combination and clamps
// out-of-range timings. Warnings are logged.
func (c *Config) Validate() ValidationResult {
	var r ValidationResult
	fatal := func(format string, args ...any) { r.Fatals = append(r.Fatals, fmt.Errorf(format, args...)) }
	warn := func(format string, args ...any) { r.Warnings = append(r.Warnings, fmt.Errorf(format, args...)) }

	switch capture.Mode(c.Mode) {
	case capture.ModeBatch:
		if !slices.Contains(transcriber.SummarizerProviders, c.Provider) {
			fatal("provider %q is not valid (use one of %v)", c.Provider, transcriber.SummarizerProviders)
		}
		c.checkCredentials(c.Provider, fatal)
		if c.Format != encoder.FormatFLAC && c.Format != encoder.FormatWAV {
			fatal("format %q is not valid (use flac or wav)", c.Format)
		}
	case capture.ModeStream:
		if !slices.Contains(transcriber.StreamerProviders, c.StreamProvider) {
			fatal("stream_provider %q is not valid (use one of %v)", c.StreamProvider, transcriber.StreamerProviders)
		}
		c.checkCredentials(c.StreamProvider, fatal)
	default:
		fatal("mode %q is not valid (use batch or stream)", c.Mode)
	}

	if c.Interval < minInterval {
		warn("interval %s is below minimum %s, clamping", c.Interval, minInterval)
		c.Interval = minInterval
	} else if c.Interval > maxInterval {
		warn("interval %s exceeds maximum %s, clamping", c.Interval, maxInterval)
		c.Interval = maxInterval
	}
	if c.Duration <= 0 || c.Duration > c.Interval {
		warn("duration %s must be within (0, %s], clamping", c.Duration, c.Interval)
		c.Duration = c.Interval
	}

	if c.FrameSamples < minFrameSamples {
		warn("frame_samples %d is below minimum %d, clamping", c.FrameSamples, minFrameSamples)
		c.FrameSamples = minFrameSamples
	} else if c.FrameSamples > maxFrameSamples {
		warn("frame_samples %d exceeds maximum %d, clamping", c.FrameSamples, maxFrameSamples)
		c.FrameSamples = maxFrameSamples
	}

	if c.RequestTimeout <= 0 {
		warn("request_timeout %s must be positive, using 30s", c.RequestTimeout)
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts < 1 {
		warn("retry_attempts %d is below minimum 1, clamping", c.RetryAttempts)
		c.RetryAttempts = 1
	}
	if c.SilenceAutoStop < 0 {
		warn("silence_auto_stop %s is negative, disabling", c.SilenceAutoStop)
		c.SilenceAutoStop = 0
	}

	for _, err := range r.Warnings {
		log.Warnf("config validation: %v", err)
	}
	return r
}

func (c *Config) checkCredentials(provider string, fatal func(string, ...any)) {
	switch provider {
	case "gemini", "gemini-live", "openai":
		if c.KeyFor(provider) == "" {
			fatal("%s needs an API key (set api_key or %s)", provider, keyVariable(provider))
		}
	case "endpoint", "websocket":
		if c.URL == "" {
			fatal("%s needs url", provider)
			return
		}
		u, err := url.Parse(c.URL)
		if err != nil {
			fatal("url %q is not a valid URL: %w", c.URL, err)
			return
		}
		want := []string{"http", "https"}
		if provider == "websocket" {
			want = []string{"ws", "wss"}
		}
		if !slices.Contains(want, u.Scheme) {
			fatal("url scheme for %s must be one of %v, got %q", provider, want, u.Scheme)
		}
	}
}

func keyVariable(provider string) string {
	if provider == "openai" {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}
