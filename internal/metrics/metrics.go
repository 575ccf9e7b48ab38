// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the studio collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry.
type Metrics struct {
	// Recorder
	SessionsStarted prometheus.Counter
	ClipsEmitted    prometheus.Counter
	ClipBytes       prometheus.Histogram
	SegmentLosses   prometheus.Counter

	// Status channel
	StatusMessages    prometheus.Counter
	MalformedMessages prometheus.Counter
	ReconnectAttempts prometheus.Counter
	Connected         prometheus.Gauge

	// Visualizer
	FramesRendered prometheus.Counter

	// Backend
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "voicestudio_recording_sessions_total",
			Help: "Total number of recording sessions started",
		}),
		ClipsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "voicestudio_clips_emitted_total",
			Help: "Total number of encoded clips emitted",
		}),
		ClipBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicestudio_clip_size_bytes",
			Help:    "Size of emitted clips in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		SegmentLosses: f.NewCounter(prometheus.CounterOpts{
			Name: "voicestudio_segment_losses_total",
			Help: "Total number of segments that could not be finalized",
		}),

		StatusMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "voicestudio_status_messages_total",
			Help: "Total number of status messages applied",
		}),
		MalformedMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "voicestudio_status_malformed_total",
			Help: "Total number of status messages discarded as malformed",
		}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "voicestudio_status_reconnects_total",
			Help: "Total number of status channel reconnection attempts",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicestudio_status_connected",
			Help: "1 while the status channel is open",
		}),

		FramesRendered: f.NewCounter(prometheus.CounterOpts{
			Name: "voicestudio_frames_rendered_total",
			Help: "Total number of visualizer frames painted",
		}),

		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voicestudio_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicestudio_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
	}
}

// RecordSessionStarted counts a new recording session.
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordClip records an emitted clip of the given size.
func (m *Metrics) RecordClip(sizeBytes int) {
	if m == nil {
		return
	}
	m.ClipsEmitted.Inc()
	m.ClipBytes.Observe(float64(sizeBytes))
}

// RecordSegmentLoss counts a dropped segment.
func (m *Metrics) RecordSegmentLoss() {
	if m == nil {
		return
	}
	m.SegmentLosses.Inc()
}

// RecordStatusMessage counts an applied status update.
func (m *Metrics) RecordStatusMessage() {
	if m == nil {
		return
	}
	m.StatusMessages.Inc()
}

// RecordMalformedMessage counts a discarded status message.
func (m *Metrics) RecordMalformedMessage() {
	if m == nil {
		return
	}
	m.MalformedMessages.Inc()
}

// RecordReconnect counts a scheduled reconnection.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// SetConnected tracks status channel connectivity.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// RecordFrame counts a painted visualizer frame.
func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.FramesRendered.Inc()
}

// RecordTranscription records the outcome of one transcription request.
func (m *Metrics) RecordTranscription(durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Observe(durationSeconds)
	if err != nil {
		m.TranscriptionFailures.Inc()
	}
}
