// SPDX-License-Identifier: MIT
package visualizer

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func TestBuildFrameGeometry(t *testing.T) {
	snapshot := make([]uint8, 128)
	snapshot[0] = 255
	snapshot[30] = 51 // bar 15 points straight down

	f := BuildFrame(snapshot, DefaultLayout())

	if len(f.Bars) != 60 {
		t.Fatalf("bars = %d, want 60", len(f.Bars))
	}
	if f.Center != (Point{200, 200}) || f.MarkerRadius != 45 {
		t.Errorf("marker = %+v r=%g", f.Center, f.MarkerRadius)
	}

	b0 := f.Bars[0]
	if !near(b0.Length, 100) || !near(b0.From.X, 250) || !near(b0.To.X, 350) || !near(b0.To.Y, 200) {
		t.Errorf("bar 0 = %+v", b0)
	}
	if !near(Hue(b0.Value), 50) {
		t.Errorf("full scale hue = %g, want 50", Hue(b0.Value))
	}

	b15 := f.Bars[15]
	if !near(b15.Length, 20) || !near(b15.From.Y, 250) || !near(b15.To.Y, 270) || !near(b15.To.X, 200) {
		t.Errorf("bar 15 = %+v", b15)
	}
	if b15.Color.Alpha != 0.8 {
		t.Errorf("alpha = %g", b15.Color.Alpha)
	}

	if f.Bars[1].Length != 0 || f.Bars[1].Value != 0 {
		t.Errorf("quiet bar = %+v", f.Bars[1])
	}
}

func TestBuildFrameShortSnapshot(t *testing.T) {
	snapshot := []uint8{200, 200, 200, 200}
	f := BuildFrame(snapshot, DefaultLayout())
	for i, b := range f.Bars {
		want := uint8(0)
		if i*2 < len(snapshot) {
			want = 200
		}
		if b.Value != want {
			t.Errorf("bar %d value = %d, want %d", i, b.Value, want)
		}
	}
}

func TestLengthAndHueMonotone(t *testing.T) {
	layout := DefaultLayout()
	prevLen, prevHue := -1.0, -1.0
	for v := range 256 {
		f := BuildFrame([]uint8{uint8(v)}, layout)
		b := f.Bars[0]
		h := Hue(b.Value)
		if b.Length < prevLen || h < prevHue {
			t.Fatalf("value %d not monotone: len %g after %g, hue %g after %g", v, b.Length, prevLen, h, prevHue)
		}
		prevLen, prevHue = b.Length, h
	}
}

func TestFrameBuildReusesBars(t *testing.T) {
	var f Frame
	f.Build(nil, DefaultLayout())
	first := &f.Bars[0]
	f.Build([]uint8{9}, DefaultLayout())
	if &f.Bars[0] != first {
		t.Error("Build reallocated bars")
	}
	c := f.Clone()
	c.Bars[0].Value = 1
	if f.Bars[0].Value != 9 {
		t.Error("Clone aliases bars")
	}
}

type call struct {
	op string
	w  float64
}

type recordingSurface struct {
	calls []call
}

func (s *recordingSurface) Clear() { s.calls = append(s.calls, call{op: "clear"}) }
func (s *recordingSurface) FillCircle(x, y, r float64, c Color) {
	s.calls = append(s.calls, call{op: "circle", w: r})
}
func (s *recordingSurface) StrokeLine(x1, y1, x2, y2, width float64, c Color) {
	s.calls = append(s.calls, call{op: "line", w: width})
}

func TestPaintOrder(t *testing.T) {
	s := &recordingSurface{}
	Paint(s, BuildFrame(nil, DefaultLayout()))

	if len(s.calls) != 62 {
		t.Fatalf("calls = %d, want 62", len(s.calls))
	}
	if s.calls[0].op != "clear" || s.calls[1].op != "circle" || s.calls[1].w != 45 {
		t.Errorf("prelude = %+v", s.calls[:2])
	}
	for _, c := range s.calls[2:] {
		if c.op != "line" || c.w != 4 {
			t.Fatalf("bar call = %+v", c)
		}
	}
}

func TestImageSurface(t *testing.T) {
	s := NewImageSurface(400, 400)
	snapshot := make([]uint8, 128)
	snapshot[0] = 255
	Paint(s, BuildFrame(snapshot, DefaultLayout()))

	r, g, b, a := s.Image().At(200, 200).RGBA()
	if a == 0 || r <= g || r <= b {
		t.Errorf("center pixel should be opaque red, got %d %d %d %d", r, g, b, a)
	}
	if _, _, _, a := s.Image().At(5, 5).RGBA(); a != 0 {
		t.Errorf("corner should stay transparent, alpha %d", a)
	}
	if _, _, _, a := s.Image().At(300, 200).RGBA(); a == 0 {
		t.Error("full scale bar 0 not painted")
	}

	path := filepath.Join(t.TempDir(), "frame.png")
	if err := s.SavePNG(path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("png not written: %v", err)
	}
}

// manualScheduler holds pending requests until fired.
type manualScheduler struct {
	mu      sync.Mutex
	pending map[int]func(time.Time)
	next    int
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: make(map[int]func(time.Time))}
}

func (m *manualScheduler) RequestFrame(fn func(time.Time)) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.pending[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}
}

func (m *manualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// fire runs every pending callback once.
func (m *manualScheduler) fire() {
	m.mu.Lock()
	fns := m.pending
	m.pending = make(map[int]func(time.Time))
	m.mu.Unlock()
	for _, fn := range fns {
		fn(time.Now())
	}
}

type constSource struct {
	value uint8
	calls int
}

func (c *constSource) FrequencyBinCount() int { return 128 }
func (c *constSource) ByteFrequencyData(dst []uint8) int {
	c.calls++
	for i := range dst {
		dst[i] = c.value
	}
	return len(dst)
}

func TestRendererLoop(t *testing.T) {
	sched := newManualScheduler()
	surface := &recordingSurface{}
	r := NewRenderer(DefaultLayout(), sched, WithSurface(surface))

	var seen []Frame
	r.OnFrame(func(f Frame) { seen = append(seen, f.Clone()) })

	if sched.Pending() != 0 {
		t.Fatal("frame scheduled before Start")
	}

	src := &constSource{value: 128}
	r.Start(src)
	if sched.Pending() != 1 {
		t.Fatalf("pending after Start = %d, want 1", sched.Pending())
	}

	for range 3 {
		sched.fire()
		if sched.Pending() != 1 {
			t.Fatalf("pending while running = %d, want 1", sched.Pending())
		}
	}
	if src.calls != 3 || r.Frames() != 3 || len(seen) != 3 {
		t.Errorf("snapshots=%d frames=%d observed=%d, want 3", src.calls, r.Frames(), len(seen))
	}
	if seen[0].Bars[0].Value != 128 {
		t.Errorf("observed bar value = %d", seen[0].Bars[0].Value)
	}

	r.Stop()
	if sched.Pending() != 0 {
		t.Errorf("pending after Stop = %d, want 0", sched.Pending())
	}
	if r.Running() {
		t.Error("Running() after Stop")
	}
	r.Stop()
}

func TestRendererIgnoresStaleCallback(t *testing.T) {
	sched := newManualScheduler()
	r := NewRenderer(DefaultLayout(), sched)
	src := &constSource{}

	r.Start(src)
	var stale func(time.Time)
	sched.mu.Lock()
	for _, fn := range sched.pending {
		stale = fn
	}
	sched.mu.Unlock()
	r.Stop()

	// A callback that was already in flight when Stop ran.
	stale(time.Now())
	if src.calls != 0 || sched.Pending() != 0 {
		t.Errorf("stale callback drew a frame: calls=%d pending=%d", src.calls, sched.Pending())
	}
}

func TestRendererRestartSwitchesSource(t *testing.T) {
	sched := newManualScheduler()
	r := NewRenderer(DefaultLayout(), sched)
	a, b := &constSource{}, &constSource{}

	r.Start(a)
	r.Start(b)
	if sched.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", sched.Pending())
	}
	sched.fire()
	if a.calls != 0 || b.calls != 1 {
		t.Errorf("calls a=%d b=%d", a.calls, b.calls)
	}
	r.Stop()
}

func waitExit(t *testing.T, exited <-chan struct{}) {
	t.Helper()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("frame goroutine did not exit")
	}
}

func TestClockScheduler(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewClockScheduler(clock, 60)
	if s.Interval() != time.Second/60 {
		t.Fatalf("interval = %s", s.Interval())
	}

	fired := make(chan struct{}, 1)
	s.RequestFrame(func(time.Time) { fired <- struct{}{} })
	clock.BlockUntil(1)
	clock.Advance(s.Interval())
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	var ran atomic.Bool
	exited := make(chan struct{})
	cancel := s.requestFrame(func(time.Time) { ran.Store(true) }, exited)
	clock.BlockUntil(1)
	cancel()
	waitExit(t, exited)
	clock.Advance(time.Second)
	cancel()
	if ran.Load() {
		t.Error("cancelled frame ran")
	}

	// Timer and cancel are both ready: the cancel wins.
	ran.Store(false)
	exited = make(chan struct{})
	cancel = s.requestFrame(func(time.Time) { ran.Store(true) }, exited)
	clock.BlockUntil(1)
	cancel()
	clock.Advance(s.Interval())
	waitExit(t, exited)
	if ran.Load() {
		t.Error("frame ran after cancel")
	}

	if NewClockScheduler(nil, 0).Interval() != time.Second/60 {
		t.Error("invalid frame rate should fall back to 60")
	}
}
