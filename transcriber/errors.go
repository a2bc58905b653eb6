package transcriber

import (
	"errors"
	"fmt"
)

var (
	// ErrTranscriptionRequest marks a single failed chunk. The session goes on.
	ErrTranscriptionRequest = errors.New("transcription request failed")
	// ErrStreamingSession marks a streaming session that errored or closed
	// unexpectedly. The session is over.
	ErrStreamingSession = errors.New("streaming session failed")
	// ErrMalformedResponse marks a backend reply that could not be parsed.
	// Callers treat it as an empty fragment.
	ErrMalformedResponse = errors.New("malformed transcription response")
)

type RequestError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	var msg string
	switch {
	case e.StatusCode != 0:
		msg = fmt.Sprintf("%s API error %d", e.Provider, e.StatusCode)
	default:
		msg = e.Provider + " request failed"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Is(target error) bool { return target == ErrTranscriptionRequest }

func (e *RequestError) Unwrap() error { return e.Err }

type MalformedResponseError struct {
	Provider string
	Body     string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	body := e.Body
	if len(body) > 120 {
		body = body[:120] + "..."
	}
	return fmt.Sprintf("%s response parse error: %v (body %q)", e.Provider, e.Err, body)
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse || target == ErrTranscriptionRequest
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func requestError(provider string, err error) error {
	var re *RequestError
	var me *MalformedResponseError
	if errors.As(err, &re) || errors.As(err, &me) {
		return err
	}
	return &RequestError{Provider: provider, Err: err}
}
