// SPDX-License-Identifier: MIT
package visualizer

import (
	"sync"
	"time"

	"voicestudio/internal/log"
	"voicestudio/internal/metrics"
)

// SnapshotSource yields frequency snapshots on demand.
type SnapshotSource interface {
	ByteFrequencyData(dst []uint8) int
	FrequencyBinCount() int
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithSurface paints every frame onto s.
func WithSurface(s Surface) RendererOption {
	return func(r *Renderer) { r.surface = s }
}

// WithRendererMetrics counts painted frames.
func WithRendererMetrics(m *metrics.Metrics) RendererOption {
	return func(r *Renderer) { r.metrics = m }
}

// Renderer runs the frame loop. While stopped no frame is ever scheduled.
type Renderer struct {
	layout    Layout
	scheduler Scheduler
	surface   Surface
	metrics   *metrics.Metrics

	mu        sync.Mutex
	running   bool
	gen       uint64
	src       SnapshotSource
	snapshot  []uint8
	frame     Frame
	cancel    func()
	frames    uint64
	observers []func(Frame)
}

// NewRenderer returns a stopped renderer.
func NewRenderer(layout Layout, scheduler Scheduler, opts ...RendererOption) *Renderer {
	r := &Renderer{layout: layout, scheduler: scheduler}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnFrame registers an observer called after every painted frame. The frame
// is only valid during the call (use Frame.Clone to keep it). Observers must
// not call Start or Stop.
func (r *Renderer) OnFrame(fn func(Frame)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Start begins drawing snapshots from src. Starting a running renderer
// switches it to the new source.
func (r *Renderer) Start(src SnapshotSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
	r.running = true
	r.src = src
	if n := src.FrequencyBinCount(); cap(r.snapshot) < n {
		r.snapshot = make([]uint8, n)
	} else {
		r.snapshot = r.snapshot[:n]
	}
	log.Debugf("Visualizer: started (%d bins, %d bars)", len(r.snapshot), r.layout.Bars)
	r.scheduleLocked()
}

// Stop cancels the pending frame. The last painted frame stays on the
// surface.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		log.Debugf("Visualizer: stopped after %d frames", r.frames)
	}
	r.stopLocked()
}

func (r *Renderer) stopLocked() {
	r.running = false
	r.gen++
	r.src = nil
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Running reports whether the loop is active.
func (r *Renderer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Frames counts frames painted since creation.
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Renderer) scheduleLocked() {
	gen := r.gen
	r.cancel = r.scheduler.RequestFrame(func(now time.Time) {
		r.tick(gen, now)
	})
}

func (r *Renderer) tick(gen uint64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A callback from a cancelled request that raced with Stop.
	if !r.running || gen != r.gen {
		return
	}

	n := r.src.ByteFrequencyData(r.snapshot)
	clear(r.snapshot[n:])
	r.frame.Build(r.snapshot, r.layout)
	if r.surface != nil {
		Paint(r.surface, r.frame)
	}
	r.frames++
	r.metrics.RecordFrame()
	for _, fn := range r.observers {
		fn(r.frame)
	}
	r.scheduleLocked()
}
