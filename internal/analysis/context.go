// SPDX-License-Identifier: MIT
package analysis

import (
	"sync"
	"sync/atomic"

	"voicestudio/internal/log"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Context owns the transform plans shared by every analyzer of the process.
// It is created on first use and lives until the process exits; sessions
// attach and detach analyzers without ever tearing it down.
type Context struct {
	mu    sync.Mutex
	plans map[planKey]*plan

	attached atomic.Int64
}

type planKey struct {
	size   int
	window WindowFunc
}

// plan is one FFT size with its window and scratch buffers. Analyzers of the
// same size share a plan, so computations are serialized on mu.
type plan struct {
	mu     sync.Mutex
	size   int
	fft    *fourier.FFT
	window []float64
	in     []float64
	out    []complex128
}

var (
	defaultOnce    sync.Once
	defaultContext *Context
)

// DefaultContext returns the process-wide context, creating it on the first
// call.
func DefaultContext() *Context {
	defaultOnce.Do(func() {
		defaultContext = NewContext()
		log.Debugf("Analysis: audio context created")
	})
	return defaultContext
}

// NewContext returns an independent context. Applications use
// DefaultContext; separate contexts keep tests isolated.
func NewContext() *Context {
	return &Context{plans: make(map[planKey]*plan)}
}

// Attached counts the analyzers currently connected to a source.
func (c *Context) Attached() int {
	return int(c.attached.Load())
}

// Plans counts the cached transform plans.
func (c *Context) Plans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.plans)
}

func (c *Context) plan(size int, w WindowFunc) *plan {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := planKey{size: size, window: w}
	if p, ok := c.plans[key]; ok {
		return p
	}
	p := &plan{
		size:   size,
		fft:    fourier.NewFFT(size),
		window: windowCoefficients(size, w),
		in:     make([]float64, size),
		// Real input yields N/2 + 1 coefficients.
		out: make([]complex128, size/2+1),
	}
	c.plans[key] = p
	log.Debugf("Analysis: new FFT plan (size %d, window %s)", size, w)
	return p
}
