package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"livenotes/capture"
	"livenotes/transcript"
)

func TestPrinterPrintsEachSentenceOnce(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newPrinter(&out, &errOut)

	general := transcript.Topic{ID: "a", Title: "General Discussion", Commentaries: []string{"One."}}
	p.TranscriptChanged([]transcript.Topic{general}, "Two is")

	general.Commentaries = append(general.Commentaries, "Two is here.")
	budget := transcript.Topic{ID: "b", Title: "Budget", Commentaries: []string{"Costs rose."}}
	p.TranscriptChanged([]transcript.Topic{general, budget}, "")
	p.TranscriptChanged([]transcript.Topic{general, budget}, "")

	want := "## General Discussion\n\n- One.\n- Two is here.\n\n## Budget\n\n- Costs rose.\n"
	if out.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestPrinterResetsOnIdle(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newPrinter(&out, &errOut)

	topics := []transcript.Topic{{ID: "a", Title: "Intro", Commentaries: []string{"Hi."}}}
	p.TranscriptChanged(topics, "")
	p.StateChanged(capture.StateIdle)
	out.Reset()

	topics = []transcript.Topic{{ID: "c", Title: "Intro", Commentaries: []string{"Hello again."}}}
	p.TranscriptChanged(topics, "")
	if want := "## Intro\n\n- Hello again.\n"; out.String() != want {
		t.Errorf("output after restart = %q, want %q", out.String(), want)
	}
}

func TestPrinterWarnings(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newPrinter(&out, &errOut)

	p.Warning(capture.NoAudioWarning)
	p.Warning(capture.NoAudioWarning)
	p.Warning("")
	p.Warning("")
	p.ChunkFailed(4, errors.New("503"))

	got := errOut.String()
	if n := strings.Count(got, "Warning: "+capture.NoAudioWarning); n != 2 {
		t.Errorf("warning printed %d times, want 2:\n%s", n, got)
	}
	if n := strings.Count(got, "Audio resumed."); n != 1 {
		t.Errorf("resume printed %d times, want 1:\n%s", n, got)
	}
	if !strings.Contains(got, "Chunk 4 failed: 503") {
		t.Errorf("missing chunk failure:\n%s", got)
	}
	if out.Len() != 0 {
		t.Errorf("warnings leaked to stdout: %q", out.String())
	}
}

func TestPrinterStopped(t *testing.T) {
	p := newPrinter(&bytes.Buffer{}, &bytes.Buffer{})
	p.Stopped(capture.ErrSourceEnded)

	select {
	case <-p.done:
	default:
		t.Fatal("done not closed after Stopped")
	}
	if !errors.Is(p.cause(), capture.ErrSourceEnded) {
		t.Errorf("cause = %v, want ErrSourceEnded", p.cause())
	}
}
