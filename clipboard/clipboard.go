// Package clipboard copies finished notes to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"time"

	cb "github.com/atotto/clipboard"
)

// ErrUnsupported means no clipboard utility is available on this system.
var ErrUnsupported = errors.New("clipboard unsupported: install xclip, xsel or wl-clipboard")

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

// RoundTrip writes text and reads it back. The clipboard helper can hang
// when no compositor is reachable, so it gives up after timeout.
func RoundTrip(text string, timeout time.Duration) (string, error) {
	type result struct {
		readback string
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		if err := Copy(text); err != nil {
			ch <- result{err: fmt.Errorf("clipboard write failed: %w", err)}
			return
		}
		got, err := Read()
		if err != nil {
			ch <- result{err: fmt.Errorf("clipboard read failed: %w", err)}
			return
		}
		ch <- result{readback: got}
	}()

	select {
	case r := <-ch:
		return r.readback, r.err
	case <-time.After(timeout):
		return "", errors.New("clipboard timed out")
	}
}
