// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults for
// the capture engine, the analyzer, and the status channel.
const (
	DefaultDeviceID        = MinDeviceID // System default input device
	DefaultChannels        = 1           // Mono capture
	DefaultSampleRate      = 16000       // Speech recognition friendly rate
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultLowLatency      = false

	DefaultSegmentInterval = 5 * time.Second // Encoder restart interval
	DefaultBitDepth        = 16

	DefaultFFTSize     = 256 // 128 frequency bins
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0

	DefaultCanvasSize = 400
	DefaultBars       = 60
	DefaultFrameRate  = 60

	DefaultStatusURL      = "ws://localhost:8000"
	DefaultStatusBackoff  = 3 * time.Second
	DefaultBackendURL     = "http://localhost:8000"
	DefaultBackendTimeout = 2 * time.Minute
	DefaultEngine         = "f5"

	DefaultLogLevel = "info"

	// Hardware and processing limits
	MinDeviceID       = -1 // -1 represents system default device
	MinSampleRate     = 8000
	MaxSampleRate     = 192000
	MaxBufferFrames   = 8192
	MinSegmentLength  = 500 * time.Millisecond
	MaxFrequencyBins  = 16384
	MaxStatusBackoff  = 5 * time.Minute
	MaxFrameRate      = 240
	SupportedBitDepth = 16
)

// Config represents the application configuration, loaded from YAML and
// adjusted by environment variables and command line flags.
type Config struct {
	Debug      bool             `yaml:"debug"`
	LogLevel   string           `yaml:"log_level"`
	Audio      AudioConfig      `yaml:"audio"`
	Recording  RecordingConfig  `yaml:"recording"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Visualizer VisualizerConfig `yaml:"visualizer"`
	Status     StatusConfig     `yaml:"status"`
	Backend    BackendConfig    `yaml:"backend"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AudioConfig holds settings related to the microphone input.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per PortAudio callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from the device.
	InputChannels   int     `yaml:"input_channels"`    // 1 for mono, 2 for stereo.
}

// RecordingConfig holds settings of the segmenting recorder.
type RecordingConfig struct {
	Interval time.Duration `yaml:"interval"`  // Segment boundary interval.
	BitDepth int           `yaml:"bit_depth"` // Bit depth of the emitted WAV clips.
}

// AnalysisConfig holds the frequency analyzer parameters.
type AnalysisConfig struct {
	FFTSize     int     `yaml:"fft_size"`
	Smoothing   float64 `yaml:"smoothing"`
	MinDecibels float64 `yaml:"min_decibels"`
	MaxDecibels float64 `yaml:"max_decibels"`
}

// VisualizerConfig holds the radial visualizer layout.
type VisualizerConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	Bars      int `yaml:"bars"`
	FrameRate int `yaml:"frame_rate"`
}

// StatusConfig holds settings of the synthesis status channel.
type StatusConfig struct {
	URL     string        `yaml:"url"`     // Base websocket URL, the client id is appended as /ws/{id}.
	Backoff time.Duration `yaml:"backoff"` // Fixed delay before each reconnection attempt.
}

// BackendConfig holds settings of the transcription/synthesis API.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Engine  string        `yaml:"engine"`   // Synthesis engine selector.
	VoiceID string        `yaml:"voice_id"` // Optional voice profile.
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the endpoint.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultChannels,
		},
		Recording: RecordingConfig{
			Interval: DefaultSegmentInterval,
			BitDepth: DefaultBitDepth,
		},
		Analysis: AnalysisConfig{
			FFTSize:     DefaultFFTSize,
			Smoothing:   DefaultSmoothing,
			MinDecibels: DefaultMinDecibels,
			MaxDecibels: DefaultMaxDecibels,
		},
		Visualizer: VisualizerConfig{
			Width:     DefaultCanvasSize,
			Height:    DefaultCanvasSize,
			Bars:      DefaultBars,
			FrameRate: DefaultFrameRate,
		},
		Status: StatusConfig{
			URL:     DefaultStatusURL,
			Backoff: DefaultStatusBackoff,
		},
		Backend: BackendConfig{
			URL:     DefaultBackendURL,
			Timeout: DefaultBackendTimeout,
			Engine:  DefaultEngine,
		},
	}
}
