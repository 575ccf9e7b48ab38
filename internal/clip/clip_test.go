// SPDX-License-Identifier: MIT
package clip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"voicestudio/internal/audio"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, FramesPerBuffer: 4}

func ramp(n int, start int32) []int32 {
	out := make([]int32, n)
	for i := range out {
		// Multiples of 1<<16 survive the reduction to 16 bits exactly.
		out[i] = (start + int32(i)) << 16
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	enc, err := NewWAVEncoder(testFormat, 16)
	if err != nil {
		t.Fatalf("NewWAVEncoder: %v", err)
	}
	if err := enc.Write(ramp(4, -2)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Write(ramp(4, 100)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if enc.Frames() != 8 {
		t.Errorf("Frames() = %d, want 8", enc.Frames())
	}

	c, err := enc.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if c.MIMEType != MIMEType || c.Frames != 8 {
		t.Errorf("clip metadata = %q/%d", c.MIMEType, c.Frames)
	}
	if !bytes.HasPrefix(c.Data, []byte("RIFF")) {
		t.Fatalf("missing RIFF header")
	}

	buf, err := Decode(c)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Format.SampleRate != 16000 || buf.Format.NumChannels != 1 {
		t.Errorf("decoded format = %+v", buf.Format)
	}
	want := []int{-2, -1, 0, 1, 100, 101, 102, 103}
	if len(buf.Data) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestClipsDecodeIndependently(t *testing.T) {
	factory := WAVFactory(16)
	var clips []Clip
	for i := range 3 {
		enc, err := factory(testFormat)
		if err != nil {
			t.Fatal(err)
		}
		if err := enc.Write(ramp(16, int32(i*16))); err != nil {
			t.Fatal(err)
		}
		c, err := enc.Finalize()
		if err != nil {
			t.Fatal(err)
		}
		clips = append(clips, c)
	}

	// Decode in reverse order to show no clip depends on another.
	for i := len(clips) - 1; i >= 0; i-- {
		buf, err := Decode(clips[i])
		if err != nil {
			t.Fatalf("clip %d: %v", i, err)
		}
		if buf.Data[0] != i*16 {
			t.Errorf("clip %d first sample = %d", i, buf.Data[0])
		}
	}
}

func TestFinalizeEmpty(t *testing.T) {
	enc, _ := NewWAVEncoder(testFormat, 16)
	if _, err := enc.Finalize(); !errors.Is(err, ErrEmpty) {
		t.Errorf("Finalize() = %v, want ErrEmpty", err)
	}
	if err := enc.Write(ramp(1, 0)); err == nil {
		t.Error("write after finalize should fail")
	}
}

func TestNewWAVEncoderValidation(t *testing.T) {
	tests := []struct {
		name   string
		format audio.Format
		depth  int
	}{
		{"No channels", audio.Format{SampleRate: 16000}, 16},
		{"No rate", audio.Format{Channels: 1}, 16},
		{"Odd depth", testFormat, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWAVEncoder(tt.format, tt.depth); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClipHelpers(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Clip{Data: []byte("abc"), Start: start, End: start.Add(5 * time.Second)}
	if c.Duration() != 5*time.Second {
		t.Errorf("Duration() = %s", c.Duration())
	}
	b, _ := io.ReadAll(c.Reader())
	if string(b) != "abc" {
		t.Errorf("Reader() = %q", b)
	}
}

func TestContainerSizesPatched(t *testing.T) {
	enc, err := NewWAVEncoder(testFormat, 16)
	if err != nil {
		t.Fatalf("NewWAVEncoder: %v", err)
	}
	enc.Write(ramp(10, 1))
	enc.Write(ramp(6, 11))
	c, err := enc.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if string(c.Data[0:4]) != "RIFF" || string(c.Data[8:12]) != "WAVE" {
		t.Fatalf("not a RIFF/WAVE container: %q", c.Data[:12])
	}
	if got := binary.LittleEndian.Uint32(c.Data[4:8]); int(got) != len(c.Data)-8 {
		t.Errorf("RIFF size = %d, want %d", got, len(c.Data)-8)
	}
	if string(c.Data[36:40]) != "data" {
		t.Fatalf("data chunk not at offset 36: %q", c.Data[36:40])
	}
	if got := binary.LittleEndian.Uint32(c.Data[40:44]); got != 16*2 {
		t.Errorf("data size = %d, want %d", got, 16*2)
	}
}
