// SPDX-License-Identifier: MIT
package clip

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"voicestudio/internal/audio"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// MIMEType is the container type of every clip produced by NewWAVEncoder.
const MIMEType = "audio/wav"

// ErrEmpty is returned by Finalize when the encoder never received a sample.
var ErrEmpty = errors.New("clip: no audio captured")

// Clip is one self-contained encoded recording segment. It carries its own
// container header and can be decoded without any other clip.
type Clip struct {
	Seq      int
	Data     []byte
	MIMEType string
	Start    time.Time
	End      time.Time
	Frames   int
}

// Reader returns a fresh reader over the encoded bytes.
func (c Clip) Reader() io.Reader {
	return bytes.NewReader(c.Data)
}

// Duration is the wall-clock span the clip was captured over.
func (c Clip) Duration() time.Duration {
	return c.End.Sub(c.Start)
}

// Encoder accumulates interleaved PCM into a single container.
type Encoder interface {
	Write(samples []int32) error
	// Finalize closes the container and returns the clip. The encoder is
	// unusable afterwards.
	Finalize() (Clip, error)
	Frames() int
}

// Factory builds a fresh encoder for a stream format.
type Factory func(audio.Format) (Encoder, error)

// WAVFactory returns a Factory producing PCM WAV encoders of the given depth.
func WAVFactory(bitDepth int) Factory {
	return func(f audio.Format) (Encoder, error) {
		return NewWAVEncoder(f, bitDepth)
	}
}

type wavEncoder struct {
	out      *writerseeker.WriterSeeker
	enc      *wav.Encoder
	buf      *goaudio.IntBuffer
	channels int
	shift    uint
	samples  int
	done     bool
}

// NewWAVEncoder returns an encoder writing integer PCM WAV into memory.
// Samples are expected at full int32 scale and are reduced to bitDepth.
func NewWAVEncoder(format audio.Format, bitDepth int) (Encoder, error) {
	if format.Channels <= 0 {
		return nil, fmt.Errorf("clip: invalid channel count %d", format.Channels)
	}
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("clip: invalid sample rate %.0f", format.SampleRate)
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("clip: unsupported bit depth %d", bitDepth)
	}

	out := &writerseeker.WriterSeeker{}
	return &wavEncoder{
		out: out,
		// Format 1 is integer PCM.
		enc: wav.NewEncoder(out, int(format.SampleRate), bitDepth, format.Channels, 1),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: format.Channels,
				SampleRate:  int(format.SampleRate),
			},
			SourceBitDepth: bitDepth,
			Data:           make([]int, 0, max(format.FramesPerBuffer, 1)*format.Channels),
		},
		channels: format.Channels,
		shift:    uint(32 - bitDepth),
	}, nil
}

func (e *wavEncoder) Write(samples []int32) error {
	if e.done {
		return errors.New("clip: write after finalize")
	}
	if len(samples) == 0 {
		return nil
	}
	data := e.buf.Data[:0]
	for _, s := range samples {
		data = append(data, int(s>>e.shift))
	}
	e.buf.Data = data
	if err := e.enc.Write(e.buf); err != nil {
		return fmt.Errorf("clip: encode: %w", err)
	}
	e.samples += len(samples)
	return nil
}

func (e *wavEncoder) Frames() int {
	return e.samples / e.channels
}

func (e *wavEncoder) Finalize() (Clip, error) {
	if e.done {
		return Clip{}, errors.New("clip: already finalized")
	}
	e.done = true
	if e.samples == 0 {
		return Clip{}, ErrEmpty
	}
	if err := e.enc.Close(); err != nil {
		return Clip{}, fmt.Errorf("clip: close container: %w", err)
	}
	data, err := io.ReadAll(e.out.BytesReader())
	if err != nil {
		return Clip{}, fmt.Errorf("clip: read container: %w", err)
	}
	return Clip{
		Data:     data,
		MIMEType: MIMEType,
		Frames:   e.Frames(),
	}, nil
}

// Decode parses a clip back into PCM samples at the clip's bit depth.
func Decode(c Clip) (*goaudio.IntBuffer, error) {
	d := wav.NewDecoder(bytes.NewReader(c.Data))
	if !d.IsValidFile() {
		return nil, errors.New("clip: not a valid WAV container")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("clip: decode: %w", err)
	}
	return buf, nil
}
