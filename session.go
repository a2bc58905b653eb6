package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"livenotes/audio"
	"livenotes/capture"
	"livenotes/clipboard"
	"livenotes/config"
	"livenotes/encoder"
	"livenotes/log"
	"livenotes/transcript"
)

type sessionOptions struct {
	source string
	tui    bool
	copy   bool
	out    string
}

// runSession captures until ctx is cancelled, the user quits the TUI or the
// session stops on its own, then exports the notes.
func runSession(ctx context.Context, cfg *config.Config, actx audio.Context, opts sessionOptions) error {
	backends, err := cfg.Backends(ctx)
	if err != nil {
		return err
	}
	acq := audio.NewAcquirer(actx, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	}, opts.source)
	label := fmt.Sprintf("[%s | %s]", cfg.Mode, cfg.ActiveProvider())

	var ctrl *capture.Controller
	if opts.tui {
		sink := &tuiSink{}
		ctrl = capture.New(acq, backends, cfg.CaptureConfig(), sink)
		p := newTUIProgram(ctx, ctrl, label)
		sink.setProgram(p)
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			log.Errorf("TUI error: %v", err)
		}
		ctrl.Stop()
	} else {
		pr := newPrinter(os.Stdout, os.Stderr)
		ctrl = capture.New(acq, backends, cfg.CaptureConfig(), pr)
		if err := ctrl.Start(ctx); err != nil {
			return errors.New(capture.StatusText(err))
		}
		fmt.Fprintf(os.Stderr, "Capturing %s %s. Press Ctrl+C to stop.\n", ctrl.Snapshot().Source, label)
		select {
		case <-ctx.Done():
		case <-pr.done:
		}
		ctrl.Stop()
		fmt.Fprintln(os.Stderr, capture.StatusText(pr.cause()))
	}

	return export(ctrl.Snapshot(), opts)
}

func export(snap capture.Snapshot, opts sessionOptions) error {
	var errs []error
	if opts.out != "" {
		data, err := transcript.Render(filepath.Ext(opts.out), snap.Topics, snap.Live, snap.Source)
		if err == nil {
			err = os.WriteFile(opts.out, data, 0644)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("writing %s: %w", opts.out, err))
		} else {
			fmt.Fprintf(os.Stderr, "Notes written to %s\n", opts.out)
		}
	}
	if opts.copy {
		notes := transcript.Markdown(snap.Topics, snap.Live)
		if strings.TrimSpace(notes) == "" {
			fmt.Fprintln(os.Stderr, "Nothing to copy.")
		} else if err := clipboard.Copy(notes); err != nil {
			errs = append(errs, fmt.Errorf("copying notes: %w", err))
		} else {
			fmt.Fprintln(os.Stderr, "Notes copied to the clipboard.")
		}
	}
	return errors.Join(errs...)
}

// tuiSink forwards controller updates to the bubbletea program.
type tuiSink struct {
	p *tea.Program
}

func (s *tuiSink) setProgram(p *tea.Program) { s.p = p }

func (s *tuiSink) StateChanged(state capture.State) { s.p.Send(stateMsg{state}) }

func (s *tuiSink) TranscriptChanged(topics []transcript.Topic, live string) {
	s.p.Send(transcriptMsg{topics: topics, live: live})
}

func (s *tuiSink) AudioLevel(rms float64) { s.p.Send(audioLevelMsg{rms}) }

func (s *tuiSink) Warning(msg string) { s.p.Send(warningMsg{msg}) }

func (s *tuiSink) ChunkFailed(seq uint64, err error) { s.p.Send(chunkFailedMsg{seq: seq, err: err}) }

func (s *tuiSink) Stopped(cause error) { s.p.Send(stoppedMsg{cause}) }
