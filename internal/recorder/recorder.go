// SPDX-License-Identifier: MIT
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voicestudio/internal/audio"
	"voicestudio/internal/clip"
	"voicestudio/internal/config"
	"voicestudio/internal/log"
	"voicestudio/internal/metrics"

	"github.com/jonboulle/clockwork"
)

// State is the lifecycle state of a Recorder.
type State int32

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithInterval sets the segment boundary interval.
func WithInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithMetrics records session and clip counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// session is one continuous capture from Start to Stop.
type session struct {
	stream      *audio.Stream
	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
}

// Recorder captures a microphone stream into a sequence of independently
// decodable clips, one per boundary interval.
type Recorder struct {
	device   audio.Device
	factory  clip.Factory
	interval time.Duration
	clock    clockwork.Clock
	metrics  *metrics.Metrics

	// lifeMu serializes Start, Stop and Close.
	lifeMu  sync.Mutex
	closed  bool
	current atomic.Pointer[session]
	state   atomic.Int32

	// mu guards the active encoder. The capture callback and the boundary
	// swap both take it, so every buffer lands in exactly one encoder.
	mu       sync.Mutex
	enc      clip.Encoder
	segStart time.Time
	seq      int
	writeErr error

	handlersMu    sync.RWMutex
	clipHandlers  []func(clip.Clip)
	stateHandlers []func(State)
	lossHandlers  []func(error)

	events *dispatcher
}

// New returns an idle recorder.
func New(device audio.Device, factory clip.Factory, opts ...Option) *Recorder {
	r := &Recorder{
		device:   device,
		factory:  factory,
		interval: config.DefaultSegmentInterval,
		clock:    clockwork.NewRealClock(),
		events:   newDispatcher(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnClip registers a consumer of emitted clips.
func (r *Recorder) OnClip(fn func(clip.Clip)) {
	r.handlersMu.Lock()
	r.clipHandlers = append(r.clipHandlers, fn)
	r.handlersMu.Unlock()
}

// OnStateChange registers an observer of Idle/Recording transitions.
func (r *Recorder) OnStateChange(fn func(State)) {
	r.handlersMu.Lock()
	r.stateHandlers = append(r.stateHandlers, fn)
	r.handlersMu.Unlock()
}

// OnSegmentLoss registers an observer of lost segments. Errors are
// *SegmentLossError.
func (r *Recorder) OnSegmentLoss(fn func(error)) {
	r.handlersMu.Lock()
	r.lossHandlers = append(r.lossHandlers, fn)
	r.handlersMu.Unlock()
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	return State(r.state.Load())
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	return r.State() == Recording
}

// Interval returns the boundary interval.
func (r *Recorder) Interval() time.Duration {
	return r.interval
}

// Source returns a read-only view of the live stream, or nil when idle.
func (r *Recorder) Source() audio.Source {
	s := r.current.Load()
	if s == nil {
		return nil
	}
	return s.stream.Source()
}

// Start acquires the microphone and begins a session. It blocks until the
// device grants or denies access. Calling Start while recording is a no-op.
func (r *Recorder) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.current.Load() != nil {
		return nil
	}

	stream, err := r.device.Open(ctx)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		log.Warnf("Recorder: microphone unavailable: %v", err)
		return err
	}

	enc, err := r.factory(stream.Format())
	if err != nil {
		err = fmt.Errorf("failed to create encoder: %w", err)
		if serr := stream.Stop(); serr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release microphone: %w", serr))
		}
		return err
	}

	r.mu.Lock()
	r.enc = enc
	r.segStart = r.clock.Now()
	r.seq = 0
	r.writeErr = nil
	r.mu.Unlock()

	s := &session{
		stream: stream,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.unsubscribe = stream.Subscribe(r.onSamples)

	// The first boundary is armed before Start returns.
	timer := r.clock.NewTimer(r.interval)
	r.current.Store(s)
	r.state.Store(int32(Recording))
	go r.run(s, stream.Format(), timer)

	r.metrics.RecordSessionStarted()
	log.Infof("Recorder: session started (interval %s)", r.interval)
	r.emitState(Recording)
	return nil
}

// onSamples runs on the capture thread.
func (r *Recorder) onSamples(samples []int32) {
	r.mu.Lock()
	if r.enc != nil {
		if err := r.enc.Write(samples); err != nil && r.writeErr == nil {
			r.writeErr = err
		}
	}
	r.mu.Unlock()
}

// run fires boundaries until the session is stopped. A boundary already in
// progress when Stop is called completes, including its clip.
func (r *Recorder) run(s *session, format audio.Format, timer clockwork.Timer) {
	defer close(s.done)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.Chan():
			select {
			case <-s.stop:
				return
			default:
			}
			r.boundary(format, timer)
		}
	}
}

func (r *Recorder) boundary(format audio.Format, timer clockwork.Timer) {
	next, err := r.factory(format)
	if err != nil {
		// Keep writing into the current encoder; it is finalized at the next
		// boundary instead.
		log.Errorf("Recorder: failed to create encoder, extending segment: %v", err)
		timer.Reset(r.interval)
		return
	}

	now := r.clock.Now()
	r.mu.Lock()
	old, start, seq, writeErr := r.enc, r.segStart, r.seq, r.writeErr
	r.enc = next
	r.segStart = now
	r.seq++
	r.writeErr = nil
	r.mu.Unlock()

	timer.Reset(r.interval)
	r.finalize(old, seq, start, now, writeErr, false)
}

// finalize closes enc and emits its clip, or a segment loss. An empty final
// segment is not a loss.
func (r *Recorder) finalize(enc clip.Encoder, seq int, start, end time.Time, writeErr error, final bool) {
	if enc == nil {
		return
	}
	if writeErr != nil {
		log.Warnf("Recorder: segment %d had write errors: %v", seq, writeErr)
	}

	c, err := enc.Finalize()
	if err != nil {
		if final && errors.Is(err, clip.ErrEmpty) {
			return
		}
		lossErr := &SegmentLossError{Seq: seq, Err: err}
		log.Warnf("Recorder: %v", lossErr)
		r.metrics.RecordSegmentLoss()
		r.emitLoss(lossErr)
		return
	}

	c.Seq = seq
	c.Start = start
	c.End = end
	r.metrics.RecordClip(len(c.Data))
	log.Debugf("Recorder: clip %d (%d frames, %d bytes)", c.Seq, c.Frames, len(c.Data))
	r.emitClip(c)
}

// Stop ends the session: the boundary timer is cancelled, the current
// segment is finalized and every track is released. Safe when idle.
func (r *Recorder) Stop() error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	return r.stopLocked()
}

func (r *Recorder) stopLocked() error {
	s := r.current.Load()
	if s == nil {
		return nil
	}

	close(s.stop)
	<-s.done
	s.unsubscribe()

	end := r.clock.Now()
	r.mu.Lock()
	enc, start, seq, writeErr := r.enc, r.segStart, r.seq, r.writeErr
	r.enc = nil
	r.mu.Unlock()

	stopErr := s.stream.Stop()
	r.current.Store(nil)
	r.state.Store(int32(Idle))

	r.finalize(enc, seq, start, end, writeErr, true)
	log.Infof("Recorder: session stopped after %d segment(s)", seq+1)
	r.emitState(Idle)

	if stopErr != nil {
		return fmt.Errorf("failed to release microphone: %w", stopErr)
	}
	return nil
}

// Close stops any session and delivers pending events. The recorder cannot
// be started again.
func (r *Recorder) Close() error {
	r.lifeMu.Lock()
	err := r.stopLocked()
	r.closed = true
	r.lifeMu.Unlock()

	r.events.close()
	return err
}

func (r *Recorder) emitClip(c clip.Clip) {
	r.events.post(func() {
		r.handlersMu.RLock()
		handlers := r.clipHandlers
		r.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(c)
		}
	})
}

func (r *Recorder) emitState(st State) {
	r.events.post(func() {
		r.handlersMu.RLock()
		handlers := r.stateHandlers
		r.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(st)
		}
	})
}

func (r *Recorder) emitLoss(err error) {
	r.events.post(func() {
		r.handlersMu.RLock()
		handlers := r.lossHandlers
		r.handlersMu.RUnlock()
		for _, fn := range handlers {
			fn(err)
		}
	})
}
