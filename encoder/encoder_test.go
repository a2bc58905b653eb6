package encoder

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	for _, tt := range []struct{ format, mime string }{
		{"", "audio/flac"},
		{"flac", "audio/flac"},
		{"wav", "audio/wav"},
	} {
		t.Run(tt.format, func(t *testing.T) {
			enc, err := New(tt.format)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.format, err)
			}
			if got := enc.MIMEType(); got != tt.mime {
				t.Errorf("MIMEType() = %q, want %q", got, tt.mime)
			}
		})
	}
	t.Run("unknown", func(t *testing.T) {
		if _, err := New("ogg"); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestWavEncoder(t *testing.T) {
	enc := NewWav()
	block := make([]int16, 1600)
	for i := range block {
		block[i] = int16(i)
	}
	if err := enc.EncodeBlock(block); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out := enc.Bytes()
	if len(out) != wavHeaderSize+len(block)*2 {
		t.Fatalf("len = %d, want %d", len(out), wavHeaderSize+len(block)*2)
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != SampleRate {
		t.Errorf("sample rate = %d, want %d", got, SampleRate)
	}
	if got := int16(binary.LittleEndian.Uint16(out[wavHeaderSize+2*10:])); got != 10 {
		t.Errorf("sample 10 = %d, want 10", got)
	}
	if enc.TotalFrames() != uint64(len(block)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(block))
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(SampleRate * 4); got != 4*time.Second {
		t.Errorf("Duration = %v, want 4s", got)
	}
}
