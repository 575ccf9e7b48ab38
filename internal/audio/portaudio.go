// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"fmt"
	"sync"

	"voicestudio/internal/log"

	"github.com/gordonklaus/portaudio"
)

// paOpenStream is swapped by tests.
var paOpenStream = func(p portaudio.StreamParameters, cb func(in []int32)) (paStream, error) {
	return portaudio.OpenStream(p, cb)
}

type paStream interface {
	Start() error
	Stop() error
	Close() error
}

// PortAudioDevice opens the microphone through PortAudio. At most one stream
// per device is live at a time.
type PortAudioDevice struct {
	deviceID   int
	format     Format
	lowLatency bool

	mu   sync.Mutex
	live *Stream
}

var _ Device = (*PortAudioDevice)(nil)

// NewPortAudioDevice returns a device for the given PortAudio index
// (config.MinDeviceID selects the system default input).
func NewPortAudioDevice(deviceID int, format Format, lowLatency bool) *PortAudioDevice {
	return &PortAudioDevice{deviceID: deviceID, format: format, lowLatency: lowLatency}
}

// Open starts capture and returns the owner handle of the stream. Every
// failure wraps ErrDeviceUnavailable.
func (d *PortAudioDevice) Open(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.live != nil && d.live.LiveTracks() > 0 {
		return nil, ErrDeviceBusy
	}

	info, err := InputDevice(d.deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if info.MaxInputChannels < d.format.Channels {
		return nil, fmt.Errorf("%w: %s supports %d input channels, %d requested",
			ErrDeviceUnavailable, info.Name, info.MaxInputChannels, d.format.Channels)
	}

	latency := info.DefaultHighInputLatency
	if d.lowLatency {
		latency = info.DefaultLowInputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: d.format.Channels,
			Device:   info,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // Capture only
			Device:   nil,
		},
		FramesPerBuffer: d.format.FramesPerBuffer,
		SampleRate:      d.format.SampleRate,
	}

	// The stream is created before the callback can fire, the callback
	// publishes without copying so the PortAudio thread never allocates.
	var stream *Stream
	pa, err := paOpenStream(params, func(in []int32) {
		stream.Publish(in)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	track := NewTrack(fmt.Sprintf("pa-%d", d.deviceID), info.Name, func() error {
		stopErr := pa.Stop()
		closeErr := pa.Close()
		if stopErr != nil {
			return fmt.Errorf("failed to stop input stream: %w", stopErr)
		}
		if closeErr != nil {
			return fmt.Errorf("failed to close input stream: %w", closeErr)
		}
		log.Debugf("Audio: released %s", info.Name)
		return nil
	})
	stream = NewStream(d.format, track)

	if err := pa.Start(); err != nil {
		_ = pa.Close()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	log.Infof("Audio: capturing from %s (%.0f Hz, %d ch, latency %s)",
		info.Name, d.format.SampleRate, d.format.Channels, latency)
	d.live = stream
	return stream, nil
}
