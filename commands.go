package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"livenotes/audio"
	"livenotes/shutdown"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take live notes from a loopback source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		actx, err := audio.NewContext()
		if err != nil {
			return fmt.Errorf("initializing audio: %w", err)
		}
		defer actx.Close()
		return runCommand(cmd, actx, cfg.Source)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE.wav",
	Short: "Run the note-taking pipeline over a WAV file",
	Long: `replay feeds a 16-bit PCM WAV file through the same pipeline as capture.
The file is resampled to 16 kHz mono. Batch mode records on a wall clock
schedule, so keep --realtime on unless the backend streams.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		realtime, _ := cmd.Flags().GetBool("realtime")
		fctx, err := audio.NewFileContext(args[0], realtime)
		if err != nil {
			return err
		}
		defer fctx.Close()
		return runCommand(cmd, fctx, "")
	},
}

func init() {
	for _, c := range []*cobra.Command{captureCmd, replayCmd} {
		f := c.Flags()
		f.String("mode", "batch", "batch (one request per chunk) or stream (one live session)")
		f.String("provider", "gemini", "batch backend: gemini, openai, endpoint or fake")
		f.String("stream-provider", "gemini-live", "stream backend: gemini-live, websocket or fake")
		f.String("url", "", "endpoint or relay URL, or an API base URL override for gemini and openai")
		f.String("model", "", "model override for the backend")
		f.Duration("interval", 0, "time between chunk recordings in batch mode (default 6s)")
		f.Duration("duration", 0, "length of each chunk in batch mode (default 4s)")
		f.String("format", "flac", "batch chunk encoding: flac or wav")
		f.Duration("silence-auto-stop", 0, "stop after this long without audio (0 disables)")
		f.String("out", "", "write the notes to this file at stop (.md or .yaml)")
		f.Bool("copy", false, "copy the notes to the clipboard at stop")
		f.Bool("tui", term.IsTerminal(int(os.Stdout.Fd())), "full-screen terminal UI")
	}
	captureCmd.Flags().String("source", "", "source ID or name (default: first loopback source)")
	replayCmd.Flags().Bool("realtime", true, "pace the file at real time")
}

func runCommand(cmd *cobra.Command, actx audio.Context, source string) error {
	res := cfg.Validate()
	if err := res.Err(); err != nil {
		return err
	}

	ctx, stop := shutdown.Context(cmd.Context())
	defer stop()

	useTUI, _ := cmd.Flags().GetBool("tui")
	copyNotes, _ := cmd.Flags().GetBool("copy")
	opts := sessionOptions{
		source: source,
		tui:    useTUI,
		copy:   copyNotes,
		out:    cfg.Out,
	}
	if opts.out != "" {
		abs, err := filepath.Abs(opts.out)
		if err == nil {
			opts.out = abs
		}
	}
	return runSession(ctx, cfg, actx, opts)
}
