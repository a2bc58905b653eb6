package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"livenotes/audio"
	"livenotes/capture"
	"livenotes/clipboard"
	"livenotes/config"
	"livenotes/encoder"
	"livenotes/shutdown"
	"livenotes/transcript"
)

const sampleLength = 10 * time.Second

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg *config.Config) int {
	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	fmt.Println("livenotes doctor - capture and backend diagnostics")
	fmt.Println("==================================================")

	allPass := checkConfig(cfg)

	actx, ok := checkSources(cfg)
	if !ok {
		allPass = false
	}
	if actx != nil {
		defer actx.Close()
	}
	if allPass && !checkSession(ctx, cfg, actx) {
		allPass = false
	}
	if !checkClipboard() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkConfig(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[1/4] Configuration")
	fmt.Printf("  mode=%s provider=%s source=%q\n", cfg.Mode, cfg.ActiveProvider(), cfg.Source)

	r := cfg.Validate()
	for _, w := range r.Warnings {
		fmt.Printf("  WARN: %v\n", w)
	}
	for _, err := range r.Fatals {
		fmt.Printf("  FAIL: %v\n", err)
	}
	if r.HasFatals() {
		return false
	}
	fmt.Println("  PASS: configuration is usable")
	return true
}

func checkSources(cfg *config.Config) (audio.Context, bool) {
	fmt.Println()
	fmt.Println("[2/4] Capture sources")

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return nil, false
	}
	devices, err := actx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list sources: %v\n", err)
		return actx, false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture sources found")
		return actx, false
	}

	monitors := 0
	for _, d := range devices {
		tag := audio.SourceTag(d)
		if d.Monitor {
			monitors++
		}
		fmt.Printf("  - %s %s\n", d.Name, tag)
	}
	if cfg.Source == "" && monitors == 0 {
		fmt.Println("  FAIL: no loopback (monitor) source; only microphones are available")
		return actx, false
	}
	fmt.Printf("  PASS: %d source(s), %d loopback\n", len(devices), monitors)
	return actx, true
}

// checkSession runs a short capture against the configured backend while
// the user plays something with speech in it.
func checkSession(ctx context.Context, cfg *config.Config, actx audio.Context) bool {
	fmt.Println()
	fmt.Println("[3/4] Capture session")

	backends, err := cfg.Backends(ctx)
	if err != nil {
		fmt.Printf("  FAIL: backend: %v\n", err)
		return false
	}

	fmt.Printf("Start playing audio with speech, then press Enter (captures %s)...", sampleLength)
	bufio.NewReader(os.Stdin).ReadString('\n')

	acq := audio.NewAcquirer(actx, audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels}, cfg.Source)
	sink := &doctorSink{}
	ctrl := capture.New(acq, backends, cfg.CaptureConfig(), sink)
	if err := ctrl.Start(ctx); err != nil {
		fmt.Printf("  FAIL: %s\n", capture.StatusText(err))
		return false
	}

	fmt.Print("  Capturing")
	ticker := time.NewTicker(time.Second)
	deadline := time.After(sampleLength)
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case <-ticker.C:
			fmt.Print(".")
		}
	}
	ticker.Stop()
	ctrl.Stop()
	fmt.Println(" done")

	snap := ctrl.Snapshot()
	n := snap.Counters
	fmt.Printf("  chunks=%d skipped=%d failed=%d malformed=%d dropped=%d peak=%.3f\n",
		n.Chunks, n.Skipped, n.Failed, n.Malformed, n.Dropped, sink.peak)
	if n.Chunks == 0 {
		fmt.Println("  FAIL: no audio reached the backend")
		return false
	}
	if sink.peak == 0 {
		fmt.Println("  WARN: the source delivered only silence")
	}
	if n.Failed > 0 {
		fmt.Printf("  FAIL: %d chunk(s) failed, last error: %v\n", n.Failed, sink.lastErr)
		return false
	}

	notes := strings.TrimSpace(transcript.Markdown(snap.Topics, snap.Live))
	if notes == "" {
		notes = "(no commentary produced)"
	}
	fmt.Printf("\n%s\n\n", notes)
	fmt.Println("  PASS: backend answered every chunk")
	return true
}

// doctorSink records what checkSession reports. The controller calls it
// from one goroutine at a time and the fields are read after Stop returns.
type doctorSink struct {
	capture.NopSink
	peak    float64
	lastErr error
}

func (s *doctorSink) AudioLevel(rms float64) {
	if rms > s.peak {
		s.peak = rms
	}
}

func (s *doctorSink) ChunkFailed(_ uint64, err error) { s.lastErr = err }

func (s *doctorSink) Warning(msg string) {
	if msg != "" {
		fmt.Printf("\n  WARN: %s\n  ", msg)
	}
}

func checkClipboard() bool {
	fmt.Println()
	fmt.Println("[4/4] Clipboard")

	testStr := fmt.Sprintf("livenotes-doctor-%d", time.Now().UnixNano())
	got, err := clipboard.RoundTrip(testStr, 3*time.Second)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if got != testStr {
		fmt.Printf("  FAIL: clipboard mismatch: wrote %q, got %q\n", testStr, got)
		return false
	}
	fmt.Println("  PASS: clipboard write/read verified")
	return true
}
