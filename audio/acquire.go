package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"livenotes/log"
)

var (
	// ErrPermissionDenied means the platform refused access to the capture source.
	ErrPermissionDenied = errors.New("permission to capture audio was denied")
	// ErrNoAudioTrack means the selected source carries no capturable audio.
	ErrNoAudioTrack = errors.New("selected source has no audio track")
)

const defaultPollInterval = 2 * time.Second

// Acquirer opens exactly one loopback source per call to Acquire.
type Acquirer struct {
	ctx          Context
	config       CaptureConfig
	source       string
	pollInterval time.Duration
}

// NewAcquirer returns an Acquirer for ctx. An empty source picks the first
// monitor (loopback) device; otherwise source must match a device ID or name.
func NewAcquirer(ctx Context, config CaptureConfig, source string) *Acquirer {
	return &Acquirer{
		ctx:          ctx,
		config:       config,
		source:       source,
		pollInterval: defaultPollInterval,
	}
}

// SetPollInterval controls how often the device list is checked for the
// disappearance of an acquired source.
func (a *Acquirer) SetPollInterval(d time.Duration) {
	if d > 0 {
		a.pollInterval = d
	}
}

func (a *Acquirer) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices, err := a.ctx.Devices()
	if err != nil {
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("enumerating sources: %w", err)
	}

	info, err := pickSource(devices, a.source)
	if err != nil {
		return nil, err
	}

	dev, err := a.ctx.NewCapture(&info, a.config)
	if err != nil {
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("opening %q: %w", info.Name, err)
	}

	// The caller may have given up while the device was opening.
	if err := ctx.Err(); err != nil {
		dev.Close()
		return nil, err
	}

	log.Info("acquire: " + info.Name)
	t := newTrack(dev, info)
	go a.watch(t)
	return &Stream{track: t}, nil
}

func pickSource(devices []DeviceInfo, source string) (DeviceInfo, error) {
	if source != "" {
		for _, d := range devices {
			if d.ID == source || strings.EqualFold(d.Name, source) {
				return d, nil
			}
		}
		return DeviceInfo{}, fmt.Errorf("%w: source %q not found", ErrNoAudioTrack, source)
	}
	for _, d := range devices {
		if d.Monitor {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: no loopback source available", ErrNoAudioTrack)
}

func isPermissionError(err error) bool {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, fs.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "not authorized")
}

// watch ends the track when its source goes away. It exits once the track
// is stopped.
func (a *Acquirer) watch(t *Track) {
	var done <-chan struct{}
	if es, ok := t.device.(endedSource); ok {
		done = es.Ended()
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-done:
			t.end("source finished")
			return
		case <-ticker.C:
			devices, err := a.ctx.Devices()
			if err != nil {
				continue
			}
			if !containsDevice(devices, t.info.ID) {
				t.end("source disappeared")
				return
			}
		}
	}
}

func containsDevice(devices []DeviceInfo, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Stream wraps the single audio track handed out by Acquire.
type Stream struct {
	track *Track
}

func (s *Stream) AudioTrack() *Track { return s.track }

func (s *Stream) Tracks() []*Track { return []*Track{s.track} }

// Stop releases every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Track is an acquired capture source. The owner must call Stop.
type Track struct {
	device CaptureDevice
	info   DeviceInfo

	ended    chan struct{}
	endOnce  sync.Once
	stopCh   chan struct{}
	stopOnce sync.Once
	releases atomic.Int32
}

func newTrack(device CaptureDevice, info DeviceInfo) *Track {
	return &Track{
		device: device,
		info:   info,
		ended:  make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

func (t *Track) Label() string { return t.info.Name }

func (t *Track) Info() DeviceInfo { return t.info }

func (t *Track) LooksLikeMicrophone() bool { return IsMicrophoneLabel(t.info.Name) }

// Start begins delivering PCM to cb.
func (t *Track) Start(cb DataCallback) error {
	select {
	case <-t.stopCh:
		return fmt.Errorf("track %q already stopped", t.info.Name)
	default:
	}
	t.device.SetCallback(cb)
	if err := t.device.Start(); err != nil {
		t.device.ClearCallback()
		return err
	}
	return nil
}

// Ended is closed when the source stops on its own.
func (t *Track) Ended() <-chan struct{} { return t.ended }

func (t *Track) end(reason string) {
	t.endOnce.Do(func() {
		log.Info("track_ended: " + t.info.Name + " (" + reason + ")")
		close(t.ended)
	})
}

// Stop releases the device and detaches the ended watcher. Only the first
// call does anything; it reports whether this call performed the release.
func (t *Track) Stop() bool {
	first := false
	t.stopOnce.Do(func() {
		first = true
		close(t.stopCh)
		t.device.Stop()
		t.device.ClearCallback()
		t.device.Close()
		t.releases.Add(1)
	})
	return first
}

// Releases reports how many times the underlying device was released.
func (t *Track) Releases() int { return int(t.releases.Load()) }
