package transcriber

import (
	"context"
	"errors"
	"time"

	"livenotes/log"
	"livenotes/segment"
)

type retrying struct {
	Summarizer
	attempts int
	backoff  time.Duration
}

// WithRetry wraps s so failed requests are retried up to attempts times in
// total, waiting backoff (doubling) between tries. Malformed replies are not
// retried. With attempts <= 1, s is returned unchanged.
func WithRetry(s Summarizer, attempts int, backoff time.Duration) Summarizer {
	if attempts <= 1 {
		return s
	}
	return &retrying{Summarizer: s, attempts: attempts, backoff: backoff}
}

func (r *retrying) Summarize(ctx context.Context, chunk segment.Chunk, c Context) (*Result, error) {
	wait := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var result *Result
		result, err = r.Summarizer.Summarize(ctx, chunk, c)
		if err == nil || errors.Is(err, ErrMalformedResponse) {
			return result, err
		}
		if attempt == r.attempts {
			break
		}
		log.Warnf("%s: chunk %d attempt %d failed: %v", r.Name(), chunk.Seq, attempt, err)
		select {
		case <-ctx.Done():
			return nil, requestError(r.Name(), ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, err
}
