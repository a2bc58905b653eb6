// Package transcriber sends audio chunks to summarization backends and
// returns commentary fragments and topic signals.
package transcriber

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"livenotes/segment"
	"livenotes/transcript"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

const SilenceMarker = transcript.SilenceMarker

func IsSilence(s string) bool { return transcript.IsSilence(s) }

// Context is the running session context sent along with every chunk.
type Context struct {
	Commentary []string // finalized sentences, in emission order
	Topics     []string // topic titles, in creation order
}

func (c Context) JoinedCommentary() string {
	return strings.Join(c.Commentary, "\n")
}

func (c Context) TopicsJSON() string {
	topics := c.Topics
	if topics == nil {
		topics = []string{}
	}
	b, _ := json.Marshal(topics)
	return string(b)
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Result struct {
	Commentary string
	NewTopic   string
	Status     Status
	RateLimit  string
	Metrics    *NetworkMetrics
}

// Empty reports whether the result has no commentary to append.
func (r *Result) Empty() bool {
	return r == nil || r.Commentary == "" || IsSilence(r.Commentary)
}

// Summarizer is the request/response transport: one call per chunk.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, chunk segment.Chunk, c Context) (*Result, error)
}
