// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"voicestudio/internal/audio"
	"voicestudio/internal/config"
	"voicestudio/pkg/bitint"
)

// AnalyzerOptions configures an Analyzer.
type AnalyzerOptions struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
	Window      WindowFunc
}

// DefaultAnalyzerOptions returns 256-point analysis with 0.8 smoothing over
// the -100..-30 dB range.
func DefaultAnalyzerOptions() AnalyzerOptions {
	return AnalyzerOptions{
		FFTSize:     config.DefaultFFTSize,
		Smoothing:   config.DefaultSmoothing,
		MinDecibels: config.DefaultMinDecibels,
		MaxDecibels: config.DefaultMaxDecibels,
		Window:      Blackman,
	}
}

// OptionsFromConfig maps the analysis config section onto analyzer options.
func OptionsFromConfig(c config.AnalysisConfig) AnalyzerOptions {
	opts := DefaultAnalyzerOptions()
	opts.FFTSize = c.FFTSize
	opts.Smoothing = c.Smoothing
	opts.MinDecibels = c.MinDecibels
	opts.MaxDecibels = c.MaxDecibels
	return opts
}

// Validate checks the options.
func (o AnalyzerOptions) Validate() error {
	var errs []error
	if o.FFTSize < 32 || o.FFTSize > 2*config.MaxFrequencyBins || !bitint.IsPowerOfTwo(o.FFTSize) {
		errs = append(errs, fmt.Errorf("fft size must be a power of 2 between 32 and %d, got %d", 2*config.MaxFrequencyBins, o.FFTSize))
	}
	if o.Smoothing < 0 || o.Smoothing > 1 || math.IsNaN(o.Smoothing) {
		errs = append(errs, fmt.Errorf("smoothing must be in [0, 1], got %g", o.Smoothing))
	}
	if !(o.MinDecibels < o.MaxDecibels) {
		errs = append(errs, fmt.Errorf("min decibels (%g) must be below max decibels (%g)", o.MinDecibels, o.MaxDecibels))
	}
	return errors.Join(errs...)
}

// Analyzer turns the most recent window of a stream into a frequency
// snapshot on demand. It only reads the stream.
type Analyzer struct {
	ctx        *Context
	plan       *plan
	opts       AnalyzerOptions
	sampleRate float64
	channels   int

	mu       sync.Mutex
	ring     []float64
	pos      int
	smoothed []float64

	unsubscribe func()
	once        sync.Once
}

// NewAnalyzer attaches an analyzer to src.
func (c *Context) NewAnalyzer(src audio.Source, opts AnalyzerOptions) (*Analyzer, error) {
	if src == nil {
		return nil, errors.New("analysis: nil source")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	format := src.Format()
	channels := max(format.Channels, 1)

	a := &Analyzer{
		ctx:        c,
		plan:       c.plan(opts.FFTSize, opts.Window),
		opts:       opts,
		sampleRate: format.SampleRate,
		channels:   channels,
		ring:       make([]float64, opts.FFTSize),
		smoothed:   make([]float64, opts.FFTSize/2),
	}
	a.unsubscribe = src.Subscribe(a.onSamples)
	c.attached.Add(1)
	return a, nil
}

// onSamples downmixes interleaved frames into the ring. It runs on the
// capture thread and does not allocate.
func (a *Analyzer) onSamples(samples []int32) {
	const norm = 1.0 / float64(1<<31)
	scale := norm / float64(a.channels)

	a.mu.Lock()
	for i := 0; i+a.channels <= len(samples); i += a.channels {
		var sum float64
		for ch := range a.channels {
			sum += float64(samples[i+ch])
		}
		a.ring[a.pos] = sum * scale
		a.pos++
		if a.pos == len(a.ring) {
			a.pos = 0
		}
	}
	a.mu.Unlock()
}

// FrequencyBinCount is half the FFT size.
func (a *Analyzer) FrequencyBinCount() int {
	return a.opts.FFTSize / 2
}

// FrequencyForBin returns the center frequency in Hz of bin i.
func (a *Analyzer) FrequencyForBin(i int) float64 {
	if i < 0 || i >= a.FrequencyBinCount() {
		return 0
	}
	return float64(i) * a.sampleRate / float64(a.opts.FFTSize)
}

// ByteFrequencyData writes the current snapshot into dst, one byte per bin,
// and returns the number of bins written. Bins beyond len(dst) are still
// smoothed so successive snapshots stay consistent.
func (a *Analyzer) ByteFrequencyData(dst []uint8) int {
	p := a.plan
	n := len(a.ring)

	a.mu.Lock()
	defer a.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	// Oldest sample first.
	for i := range n {
		p.in[i] = a.ring[(a.pos+i)%n] * p.window[i]
	}
	p.fft.Coefficients(p.out, p.in)

	tau := a.opts.Smoothing
	rangeScale := 255 / (a.opts.MaxDecibels - a.opts.MinDecibels)
	written := min(len(dst), len(a.smoothed))
	for k := range a.smoothed {
		mag := cmplx.Abs(p.out[k]) / float64(n)
		s := tau*a.smoothed[k] + (1-tau)*mag
		a.smoothed[k] = s
		if k >= written {
			continue
		}
		dst[k] = toByte((20*math.Log10(s) - a.opts.MinDecibels) * rangeScale)
	}
	return written
}

func toByte(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// Disconnect detaches the analyzer from its source. The context is kept.
func (a *Analyzer) Disconnect() {
	a.once.Do(func() {
		a.unsubscribe()
		a.ctx.attached.Add(-1)
	})
}
