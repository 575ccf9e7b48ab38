// SPDX-License-Identifier: MIT

// Package audiotest provides an in-process microphone for tests.
package audiotest

import (
	"context"
	"fmt"
	"sync"

	"voicestudio/internal/audio"
)

// Device is a fake audio.Device. Samples are pushed with Emit.
type Device struct {
	format audio.Format

	mu      sync.Mutex
	err     error
	opens   int
	streams []*audio.Stream
	release func()
}

var _ audio.Device = (*Device)(nil)

// NewDevice returns a granting device with the given format.
func NewDevice(format audio.Format) *Device {
	return &Device{format: format}
}

// Deny makes subsequent opens fail with err wrapped in ErrDeviceUnavailable.
// A nil err grants access again.
func (d *Device) Deny(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Block makes the next Open wait until the returned function is called, to
// simulate a pending permission prompt.
func (d *Device) Block() (unblock func()) {
	ch := make(chan struct{})
	var once sync.Once
	d.mu.Lock()
	d.release = func() { <-ch }
	d.mu.Unlock()
	return func() { once.Do(func() { close(ch) }) }
}

// Open implements audio.Device.
func (d *Device) Open(ctx context.Context) (*audio.Stream, error) {
	d.mu.Lock()
	wait := d.release
	d.release = nil
	d.mu.Unlock()
	if wait != nil {
		wait()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, d.err)
	}
	track := audio.NewTrack(fmt.Sprintf("fake-%d", d.opens), "Fake Microphone", nil)
	s := audio.NewStream(d.format, track)
	d.streams = append(d.streams, s)
	return s, nil
}

// Emit publishes samples on the most recent stream.
func (d *Device) Emit(samples []int32) {
	d.mu.Lock()
	var s *audio.Stream
	if n := len(d.streams); n > 0 {
		s = d.streams[n-1]
	}
	d.mu.Unlock()
	if s != nil {
		s.Publish(samples)
	}
}

// Opens counts calls to Open, granted or not.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Granted counts streams handed out.
func (d *Device) Granted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// LiveTracks counts tracks still holding the fake hardware across every
// stream this device has opened.
func (d *Device) LiveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		n += s.LiveTracks()
	}
	return n
}
