// SPDX-License-Identifier: MIT
package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voicestudio/internal/audio"
	"voicestudio/internal/audio/audiotest"
	"voicestudio/internal/clip"
	"voicestudio/internal/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	testInterval = 5 * time.Second
	waitTimeout  = 2 * time.Second
)

var (
	testFormat = audio.Format{SampleRate: 16000, Channels: 1, FramesPerBuffer: 160}
	epoch      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	dev    *audiotest.Device
	clock  clockwork.FakeClock
	rec    *Recorder
	clips  chan clip.Clip
	states chan State
	losses chan error
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithFactory(t, clip.WAVFactory(16), opts...)
}

func newHarnessWithFactory(t *testing.T, factory clip.Factory, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		dev:    audiotest.NewDevice(testFormat),
		clock:  clockwork.NewFakeClockAt(epoch),
		clips:  make(chan clip.Clip, 16),
		states: make(chan State, 16),
		losses: make(chan error, 16),
	}
	opts = append([]Option{WithInterval(testInterval), WithClock(h.clock)}, opts...)
	h.rec = New(h.dev, factory, opts...)
	h.rec.OnClip(func(c clip.Clip) { h.clips <- c })
	h.rec.OnStateChange(func(s State) { h.states <- s })
	h.rec.OnSegmentLoss(func(err error) { h.losses <- err })
	t.Cleanup(func() { h.rec.Close() })
	return h
}

func (h *harness) emit(frames int) {
	buf := make([]int32, frames*testFormat.Channels)
	for i := range buf {
		buf[i] = int32(i%64) << 20
	}
	h.dev.Emit(buf)
}

// tick advances to the next boundary and waits until the loop has re-armed.
func (h *harness) tick(d time.Duration) {
	h.clock.Advance(d)
	h.clock.BlockUntil(1)
}

func (h *harness) nextClip(t *testing.T) clip.Clip {
	t.Helper()
	select {
	case c := <-h.clips:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for clip")
		return clip.Clip{}
	}
}

func (h *harness) nextState(t *testing.T) State {
	t.Helper()
	select {
	case s := <-h.states:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for state change")
		return Idle
	}
}

func (h *harness) noClip(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.clips:
		t.Fatalf("unexpected clip %d", c.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSegmentsPerInterval(t *testing.T) {
	h := newHarness(t)

	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s := h.nextState(t); s != Recording {
		t.Fatalf("state = %s, want recording", s)
	}

	// D = 12, I = 5: boundaries at 5 and 10, final clip at 12.
	h.emit(160)
	h.tick(5 * time.Second)
	h.emit(320)
	h.tick(5 * time.Second)
	h.emit(80)
	h.clock.Advance(2 * time.Second)

	if err := h.rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	wantFrames := []int{160, 320, 80}
	wantEnd := []time.Duration{5 * time.Second, 10 * time.Second, 12 * time.Second}
	for i := range wantFrames {
		c := h.nextClip(t)
		if c.Seq != i {
			t.Errorf("clip %d: seq = %d", i, c.Seq)
		}
		if c.Frames != wantFrames[i] {
			t.Errorf("clip %d: frames = %d, want %d", i, c.Frames, wantFrames[i])
		}
		if got := c.End.Sub(epoch); got != wantEnd[i] {
			t.Errorf("clip %d: end = +%s, want +%s", i, got, wantEnd[i])
		}
		if _, err := clip.Decode(c); err != nil {
			t.Errorf("clip %d does not decode alone: %v", i, err)
		}
	}
	if s := h.nextState(t); s != Idle {
		t.Errorf("state = %s, want idle", s)
	}
	h.noClip(t)

	if h.dev.LiveTracks() != 0 {
		t.Errorf("tracks still live after Stop")
	}
}

func TestEmptyFinalSegmentIsSkipped(t *testing.T) {
	h := newHarness(t)
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// D = 10, I = 5 with nothing captured after the last boundary.
	h.emit(160)
	h.tick(5 * time.Second)
	h.emit(160)
	h.tick(5 * time.Second)
	if err := h.rec.Stop(); err != nil {
		t.Fatal(err)
	}

	h.nextClip(t)
	h.nextClip(t)
	h.noClip(t)
	select {
	case err := <-h.losses:
		t.Errorf("empty final segment reported as loss: %v", err)
	default:
	}
}

func TestEmptyBoundarySegmentIsLoss(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, WithMetrics(m))
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.tick(5 * time.Second)

	select {
	case err := <-h.losses:
		var lossErr *SegmentLossError
		if !errors.Is(err, ErrSegmentLoss) || !errors.As(err, &lossErr) {
			t.Fatalf("loss = %v, want SegmentLossError", err)
		}
		if lossErr.Seq != 0 || !errors.Is(err, clip.ErrEmpty) {
			t.Errorf("loss = %+v", lossErr)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for segment loss")
	}

	// Recording continues after a loss.
	if !h.rec.Recording() {
		t.Fatal("recorder stopped after segment loss")
	}
	h.emit(160)
	if err := h.rec.Stop(); err != nil {
		t.Fatal(err)
	}
	if c := h.nextClip(t); c.Seq != 1 {
		t.Errorf("seq after loss = %d, want 1", c.Seq)
	}

	if got := testutil.ToFloat64(m.SegmentLosses); got != 1 {
		t.Errorf("segment losses = %v", got)
	}
	if got := testutil.ToFloat64(m.ClipsEmitted); got != 1 {
		t.Errorf("clips = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsStarted); got != 1 {
		t.Errorf("sessions = %v", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.rec.Start(context.Background()); err != nil {
				t.Errorf("Start: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := h.dev.Opens(); n != 1 {
		t.Errorf("device opened %d times, want 1", n)
	}
	if n := h.dev.LiveTracks(); n != 1 {
		t.Errorf("live tracks = %d, want 1", n)
	}
}

func TestStopThenStartReleasesPreviousTracks(t *testing.T) {
	h := newHarness(t)

	for i := range 3 {
		if err := h.rec.Start(context.Background()); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if n := h.dev.LiveTracks(); n != 1 {
			t.Fatalf("session %d: live tracks = %d, want 1", i, n)
		}
		if err := h.rec.Stop(); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
		if n := h.dev.LiveTracks(); n != 0 {
			t.Fatalf("session %d: live tracks after Stop = %d", i, n)
		}
	}
	if h.dev.Granted() != 3 {
		t.Errorf("granted = %d, want 3", h.dev.Granted())
	}
}

func TestStartDenied(t *testing.T) {
	h := newHarness(t)
	h.dev.Deny(errors.New("permission denied"))

	err := h.rec.Start(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Start() = %v, want ErrDeviceUnavailable", err)
	}
	if h.rec.State() != Idle || h.rec.Source() != nil {
		t.Error("recorder left idle after denial")
	}
	select {
	case s := <-h.states:
		t.Errorf("unexpected state change %s", s)
	case <-time.After(50 * time.Millisecond):
	}

	h.dev.Deny(nil)
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatalf("Start after grant: %v", err)
	}
	if h.rec.Source() == nil {
		t.Error("Source() nil while recording")
	}
}

func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t)
	if err := h.rec.Stop(); err != nil {
		t.Errorf("Stop() when idle = %v", err)
	}
	if err := h.rec.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func TestNoBoundaryAfterStop(t *testing.T) {
	h := newHarness(t)
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.emit(160)
	if err := h.rec.Stop(); err != nil {
		t.Fatal(err)
	}
	h.nextClip(t)

	// The timer is gone; advancing the clock must not produce anything.
	h.clock.BlockUntil(0)
	h.clock.Advance(time.Minute)
	h.noClip(t)
}

func TestCloseDrainsAndRejectsStart(t *testing.T) {
	h := newHarness(t)
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.emit(160)
	if err := h.rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close delivers the final clip before returning.
	select {
	case <-h.clips:
	default:
		t.Error("final clip not delivered by Close")
	}
	if err := h.rec.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestSourceFollowsSession(t *testing.T) {
	h := newHarness(t)
	if h.rec.Source() != nil {
		t.Fatal("Source() non-nil before Start")
	}
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	src := h.rec.Source()
	if src == nil {
		t.Fatal("Source() nil while recording")
	}
	seen := 0
	unsub := src.Subscribe(func(in []int32) { seen += len(in) })
	h.emit(10)
	unsub()
	if seen != 10 {
		t.Errorf("observer saw %d samples, want 10", seen)
	}
	h.rec.Stop()
	if h.rec.Source() != nil {
		t.Error("Source() non-nil after Stop")
	}
}

// faultyFactory wraps the WAV factory. Calls are numbered from zero: the
// first is made by Start, then one per boundary.
type faultyFactory struct {
	mu          sync.Mutex
	calls       int
	failCall    map[int]error
	finalizeErr map[int]error
}

func (f *faultyFactory) New(format audio.Format) (clip.Encoder, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if err := f.failCall[i]; err != nil {
		return nil, err
	}
	enc, err := clip.NewWAVEncoder(format, 16)
	if err != nil {
		return nil, err
	}
	if err := f.finalizeErr[i]; err != nil {
		return &brokenEncoder{Encoder: enc, err: err}, nil
	}
	return enc, nil
}

// brokenEncoder accepts samples but cannot produce a clip.
type brokenEncoder struct {
	clip.Encoder
	err error
}

func (e *brokenEncoder) Finalize() (clip.Clip, error) {
	return clip.Clip{}, e.err
}

func (h *harness) noLoss(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.losses:
		t.Fatalf("unexpected segment loss: %v", err)
	default:
	}
}

func TestBoundaryFactoryFailureExtendsSegment(t *testing.T) {
	f := &faultyFactory{failCall: map[int]error{1: errors.New("out of memory")}}
	h := newHarnessWithFactory(t, f.New)
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.emit(160)
	h.tick(5 * time.Second) // encoder creation fails, segment continues
	h.noClip(t)
	h.noLoss(t)
	if !h.rec.Recording() {
		t.Fatal("recorder stopped after encoder failure")
	}

	h.emit(160)
	h.tick(5 * time.Second)
	c := h.nextClip(t)
	if c.Seq != 0 || c.Frames != 320 {
		t.Errorf("clip = seq %d, %d frames; want seq 0, 320 frames", c.Seq, c.Frames)
	}
	if !c.Start.Equal(epoch) || c.End.Sub(epoch) != 10*time.Second {
		t.Errorf("clip spans %s..%s, want the extended 10s segment", c.Start, c.End)
	}

	if err := h.rec.Stop(); err != nil {
		t.Fatal(err)
	}
	h.noClip(t)
	h.noLoss(t)
}

func TestStartFactoryFailureReleasesStream(t *testing.T) {
	errFactory := errors.New("no encoder")
	f := &faultyFactory{failCall: map[int]error{0: errFactory}}
	h := newHarnessWithFactory(t, f.New)

	err := h.rec.Start(context.Background())
	if !errors.Is(err, errFactory) {
		t.Fatalf("Start() = %v, want factory error", err)
	}
	if h.rec.State() != Idle || h.rec.Source() != nil {
		t.Error("recorder not idle after encoder failure")
	}
	if n := h.dev.LiveTracks(); n != 0 {
		t.Errorf("live tracks = %d, want 0", n)
	}
	select {
	case s := <-h.states:
		t.Errorf("unexpected state change %s", s)
	case <-time.After(50 * time.Millisecond):
	}

	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if h.dev.Granted() != 2 || h.dev.LiveTracks() != 1 {
		t.Errorf("granted = %d live = %d, want 2 and 1", h.dev.Granted(), h.dev.LiveTracks())
	}
}

func TestFinalizeErrorIsSegmentLoss(t *testing.T) {
	errDisk := errors.New("container write failed")
	f := &faultyFactory{finalizeErr: map[int]error{0: errDisk}}
	h := newHarnessWithFactory(t, f.New)
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.emit(160)
	h.tick(5 * time.Second)

	select {
	case err := <-h.losses:
		var lossErr *SegmentLossError
		if !errors.As(err, &lossErr) || lossErr.Seq != 0 {
			t.Fatalf("loss = %v, want SegmentLossError for segment 0", err)
		}
		if !errors.Is(err, ErrSegmentLoss) || !errors.Is(err, errDisk) {
			t.Errorf("loss %v does not wrap both causes", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for segment loss")
	}
	h.noClip(t)

	if !h.rec.Recording() {
		t.Fatal("recorder stopped after segment loss")
	}
	h.emit(80)
	if err := h.rec.Stop(); err != nil {
		t.Fatal(err)
	}
	if c := h.nextClip(t); c.Seq != 1 || c.Frames != 80 {
		t.Errorf("next clip = seq %d, %d frames; want seq 1, 80 frames", c.Seq, c.Frames)
	}
}

func TestNextEncoderArmedBeforeSlowConsumer(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	h.rec.OnClip(func(clip.Clip) {
		entered <- struct{}{}
		<-gate
	})
	if err := h.rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.emit(160)
	h.tick(5 * time.Second)
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("consumer never received the first clip")
	}

	// The consumer is stuck; capture and boundaries carry on.
	h.emit(320)
	h.tick(5 * time.Second)
	h.emit(40)

	close(gate)
	if err := h.rec.Stop(); err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{160, 320, 40} {
		if c := h.nextClip(t); c.Seq != i || c.Frames != want {
			t.Errorf("clip %d = seq %d, %d frames; want %d frames", i, c.Seq, c.Frames, want)
		}
	}
}
