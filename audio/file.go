package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

const (
	fileFrameSize     = 1024
	fileBytesPerFrame = 2 // 16-bit mono
	fileDeviceID      = "file"
)

var errNotWAV = errors.New("not a 16-bit PCM WAV file")

// FileContext replays a WAV file as if it were a loopback source. The file is
// converted to 16-bit mono at the requested capture rate when opened.
type FileContext struct {
	name     string
	pcm      []byte
	rate     uint32
	realtime bool
}

func NewFileContext(wavPath string, realtime bool) (*FileContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	return newFileContext(wavPath, data, realtime)
}

func newFileContext(name string, data []byte, realtime bool) (*FileContext, error) {
	w, err := parseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &FileContext{name: name, pcm: w.mono(), rate: w.sampleRate, realtime: realtime}, nil
}

func (f *FileContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: fileDeviceID, Name: "Replay of " + f.name, Monitor: true}}, nil
}

func (f *FileContext) Close() {}

func (f *FileContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	pcm := f.pcm
	rate := f.rate
	if config.SampleRate != 0 && config.SampleRate != f.rate {
		var err error
		pcm, err = resamplePCM(pcm, float64(f.rate), float64(config.SampleRate))
		if err != nil {
			return nil, err
		}
		rate = config.SampleRate
	}
	return &FileCapture{
		name:       f.name,
		pcm:        pcm,
		realtime:   f.realtime,
		sampleRate: rate,
		ended:      make(chan struct{}),
	}, nil
}

// SampleRate reports the rate of the decoded file before any conversion.
func (f *FileContext) SampleRate() uint32 { return f.rate }

type wavData struct {
	sampleRate uint32
	channels   uint16
	pcm        []byte
}

// mono downmixes interleaved 16-bit frames to a single channel.
func (w wavData) mono() []byte {
	if w.channels <= 1 {
		return w.pcm
	}
	ch := int(w.channels)
	frames := len(w.pcm) / (2 * ch)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range ch {
			off := (i*ch + c) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(w.pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(ch))))
	}
	return out
}

func parseWAV(data []byte) (wavData, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return wavData{}, errNotWAV
	}
	var w wavData
	var haveFmt bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := pos + 8
		end := min(body+size, len(data))
		switch id {
		case "fmt ":
			if end-body < 16 {
				return wavData{}, errNotWAV
			}
			format := binary.LittleEndian.Uint16(data[body:])
			w.channels = binary.LittleEndian.Uint16(data[body+2:])
			w.sampleRate = binary.LittleEndian.Uint32(data[body+4:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || bits != 16 || w.channels == 0 {
				return wavData{}, errNotWAV
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return wavData{}, errNotWAV
			}
			w.pcm = data[body:end]
			return w, nil
		}
		pos = body + size + size%2
	}
	return wavData{}, fmt.Errorf("%w: missing data chunk", errNotWAV)
}

func resamplePCM(pcm []byte, from, to float64) ([]byte, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  from,
		OutputRate: to,
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(pcm)/2)
	for i := range input {
		input[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, s := range output {
		sample := int16(s * 32767.0)
		if s > 1.0 {
			sample = 32767
		} else if s < -1.0 {
			sample = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out, nil
}

// FileCapture feeds the decoded file to its callback, paced at real time
// when requested. Ended is closed once every sample has been delivered.
type FileCapture struct {
	name       string
	pcm        []byte
	realtime   bool
	sampleRate uint32
	ended      chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FileCapture) Ended() <-chan struct{} { return f.ended }

func (f *FileCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FileCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FileCapture) DeviceName() string { return f.name }

func (f *FileCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FileCapture) Start() error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("%s: already started", f.name)
	}
	f.started = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	rate := f.sampleRate
	if rate == 0 {
		rate = 16000
	}
	interval := time.Duration(fileFrameSize) * time.Second / time.Duration(rate)
	chunkBytes := fileFrameSize * fileBytesPerFrame

	go func() {
		defer close(f.feedDone)
		for pos := 0; pos < len(f.pcm); {
			select {
			case <-f.stopCh:
				return
			default:
			}

			end := min(pos+chunkBytes, len(f.pcm))
			if cb := f.callback(); cb != nil {
				chunk := make([]byte, end-pos)
				copy(chunk, f.pcm[pos:end])
				cb(chunk, uint32(len(chunk)/fileBytesPerFrame))
			}
			pos = end

			if f.realtime {
				select {
				case <-f.stopCh:
					return
				case <-time.After(interval):
				}
			}
		}
		close(f.ended)
	}()
	return nil
}

func (f *FileCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	f.stopOnce.Do(func() { close(stopCh) })
	<-feedDone
}

func (f *FileCapture) Close() { f.Stop() }
