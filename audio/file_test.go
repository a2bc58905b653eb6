package audio

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
)

func makeWAV(rate uint32, channels uint16, samples []int16) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, WAVHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], rate)
	binary.LittleEndian.PutUint32(buf[28:32], rate*uint32(channels)*2)
	binary.LittleEndian.PutUint16(buf[32:34], channels*2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[WAVHeaderSize+i*2:], uint16(s))
	}
	return buf
}

func TestParseWAVDownmix(t *testing.T) {
	data := makeWAV(16000, 2, []int16{100, 300, -200, -400})
	fc, err := newFileContext("stereo.wav", data, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.pcm) != 4 {
		t.Fatalf("mono pcm = %d bytes, want 4", len(fc.pcm))
	}
	first := int16(binary.LittleEndian.Uint16(fc.pcm[0:]))
	second := int16(binary.LittleEndian.Uint16(fc.pcm[2:]))
	if first != 200 || second != -300 {
		t.Errorf("downmix = %d,%d want 200,-300", first, second)
	}
}

func TestParseWAVRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not riff", []byte("this is not a wav file at all")},
		{"8-bit", func() []byte {
			b := makeWAV(16000, 1, []int16{1})
			binary.LittleEndian.PutUint16(b[34:36], 8)
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseWAV(tt.data); !errors.Is(err, errNotWAV) {
				t.Errorf("err = %v, want errNotWAV", err)
			}
		})
	}
}

func TestFileCaptureDeliversAllAndEnds(t *testing.T) {
	samples := make([]int16, 5000)
	for i := range samples {
		samples[i] = int16(i)
	}
	fc, err := newFileContext("clip.wav", makeWAV(16000, 1, samples), false)
	if err != nil {
		t.Fatal(err)
	}
	devices, _ := fc.Devices()
	if len(devices) != 1 || !devices[0].Monitor {
		t.Fatalf("devices = %+v", devices)
	}
	dev, err := fc.NewCapture(&devices[0], CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var frames uint32
	dev.SetCallback(func(_ []byte, n uint32) {
		mu.Lock()
		frames += n
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-dev.(*FileCapture).Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("file capture never ended")
	}
	dev.Close()
	dev.Close()

	mu.Lock()
	defer mu.Unlock()
	if frames != 5000 {
		t.Errorf("delivered %d frames, want 5000", frames)
	}
}
