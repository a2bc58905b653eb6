package main

import (
	"fmt"
	"io"
	"sync"

	"livenotes/capture"
	"livenotes/transcript"
)

// printer is the plain-terminal sink: it prints every sentence once, as
// soon as it is finalized, under its topic heading.
type printer struct {
	out, errOut io.Writer

	mu      sync.Mutex
	printed map[string]int // topic ID -> sentences already printed
	current string         // ID of the topic whose heading was printed last
	warning string
	stopErr error

	done     chan struct{}
	doneOnce sync.Once
}

func newPrinter(out, errOut io.Writer) *printer {
	return &printer{
		out:     out,
		errOut:  errOut,
		printed: make(map[string]int),
		done:    make(chan struct{}),
	}
}

func (p *printer) StateChanged(state capture.State) {
	if state == capture.StateIdle {
		p.mu.Lock()
		p.printed = make(map[string]int)
		p.current = ""
		p.mu.Unlock()
	}
}

func (p *printer) TranscriptChanged(topics []transcript.Topic, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range topics {
		n := p.printed[t.ID]
		if n >= len(t.Commentaries) {
			continue
		}
		if p.current != t.ID {
			if p.current != "" {
				fmt.Fprintln(p.out)
			}
			fmt.Fprintf(p.out, "## %s\n\n", t.Title)
			p.current = t.ID
		}
		for _, c := range t.Commentaries[n:] {
			fmt.Fprintf(p.out, "- %s\n", c)
		}
		p.printed[t.ID] = len(t.Commentaries)
	}
}

func (p *printer) AudioLevel(float64) {}

func (p *printer) Warning(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case msg != "":
		fmt.Fprintf(p.errOut, "Warning: %s\n", msg)
	case p.warning == capture.NoAudioWarning:
		fmt.Fprintln(p.errOut, "Audio resumed.")
	}
	p.warning = msg
}

func (p *printer) ChunkFailed(seq uint64, err error) {
	fmt.Fprintf(p.errOut, "Chunk %d failed: %v\n", seq, err)
}

func (p *printer) Stopped(cause error) {
	p.mu.Lock()
	p.stopErr = cause
	p.mu.Unlock()
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *printer) cause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopErr
}
