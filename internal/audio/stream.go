// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrDeviceUnavailable reports that microphone access was denied or that no
	// usable input device exists. Recording never leaves idle when it occurs.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrDeviceBusy is returned when a device is opened while a previous stream
	// from it still holds live tracks. It wraps ErrDeviceUnavailable.
	ErrDeviceBusy = fmt.Errorf("%w: device already in use", ErrDeviceUnavailable)
)

// Format describes the interleaved int32 PCM delivered by a stream.
type Format struct {
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
}

// Device acquires exclusive access to a microphone. Open blocks until the
// hardware (or the user) grants or denies access.
type Device interface {
	Open(ctx context.Context) (*Stream, error)
}

// Source is a read-only view of a live stream. Holders may observe samples
// but cannot stop tracks.
type Source interface {
	Format() Format
	// Subscribe registers fn for every published buffer. The buffer is only
	// valid for the duration of the call; fn must copy what it keeps. The
	// returned function removes the subscription and must not be called from
	// inside fn.
	Subscribe(fn func(samples []int32)) (unsubscribe func())
}

// Track is one hardware capture channel of a stream.
type Track struct {
	ID    string
	Label string

	live    atomic.Bool
	once    sync.Once
	release func() error
	err     error
}

// NewTrack returns a live track. release runs exactly once, on the first Stop.
func NewTrack(id, label string, release func() error) *Track {
	t := &Track{ID: id, Label: label, release: release}
	t.live.Store(true)
	return t
}

// Stop releases the hardware behind the track. It is idempotent and returns
// the error of the first release.
func (t *Track) Stop() error {
	t.once.Do(func() {
		t.live.Store(false)
		if t.release != nil {
			t.err = t.release()
		}
	})
	return t.err
}

// Live reports whether the track still holds its device.
func (t *Track) Live() bool {
	return t.live.Load()
}

// Stream is the owner handle of a live capture. Only the owner may Stop it;
// everything else receives a Source.
type Stream struct {
	format Format
	tracks []*Track

	mu     sync.RWMutex
	subs   map[uint64]func([]int32)
	nextID uint64

	stopped atomic.Bool
}

// NewStream creates a stream over the given tracks. Device backends call
// Publish from their capture callback.
func NewStream(format Format, tracks ...*Track) *Stream {
	return &Stream{
		format: format,
		tracks: tracks,
		subs:   make(map[uint64]func([]int32)),
	}
}

// Format returns the PCM layout of the stream.
func (s *Stream) Format() Format {
	return s.format
}

// Subscribe implements Source.
func (s *Stream) Subscribe(fn func(samples []int32)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Publish fans samples out to every subscriber, synchronously and without
// copying. It is a no-op once the stream has been stopped.
func (s *Stream) Publish(samples []int32) {
	if s.stopped.Load() {
		return
	}
	s.mu.RLock()
	for _, fn := range s.subs {
		fn(samples)
	}
	s.mu.RUnlock()
}

// Tracks returns the tracks of the stream.
func (s *Stream) Tracks() []*Track {
	return s.tracks
}

// LiveTracks counts the tracks that still hold their device.
func (s *Stream) LiveTracks() int {
	n := 0
	for _, t := range s.tracks {
		if t.Live() {
			n++
		}
	}
	return n
}

// Active reports whether the stream has not been stopped.
func (s *Stream) Active() bool {
	return !s.stopped.Load()
}

// Stop stops every track and detaches all subscribers. Safe to call more
// than once; the first error of any track is returned.
func (s *Stream) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	var errs []error
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Lock()
	clear(s.subs)
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Source returns a read-only view of the stream.
func (s *Stream) Source() Source {
	return tap{s}
}

// tap hides Stop from holders of a Source.
type tap struct {
	s *Stream
}

func (t tap) Format() Format { return t.s.Format() }

func (t tap) Subscribe(fn func([]int32)) func() { return t.s.Subscribe(fn) }
