// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"voicestudio/internal/log"
	"voicestudio/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file specified by path. If path is
// empty, it searches the default locations ("voicestudio.yaml", "config.yaml").
// If no file is found, it uses built-in defaults. Environment overrides are
// applied last, then the final configuration is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range []string{"voicestudio.yaml", "config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not a known level", c.LogLevel))
	}

	if c.Audio.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device must be >= %d", MinDeviceID))
	}
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside [%d, %d]", c.Audio.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d outside (0, %d]", c.Audio.FramesPerBuffer, MaxBufferFrames))
	}
	if c.Audio.InputChannels < 1 || c.Audio.InputChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.input_channels must be 1 or 2, got %d", c.Audio.InputChannels))
	}

	if c.Recording.Interval < MinSegmentLength {
		errs = append(errs, fmt.Errorf("recording.interval %s is shorter than %s", c.Recording.Interval, MinSegmentLength))
	}
	if c.Recording.BitDepth != SupportedBitDepth {
		errs = append(errs, fmt.Errorf("recording.bit_depth %d is not supported", c.Recording.BitDepth))
	}

	if !bitint.IsPowerOfTwo(c.Analysis.FFTSize) || c.Analysis.FFTSize > 2*MaxFrequencyBins {
		errs = append(errs, fmt.Errorf("analysis.fft_size must be a power of 2 up to %d, got %d", 2*MaxFrequencyBins, c.Analysis.FFTSize))
	}
	if c.Analysis.Smoothing < 0 || c.Analysis.Smoothing > 1 {
		errs = append(errs, fmt.Errorf("analysis.smoothing must be within [0, 1], got %g", c.Analysis.Smoothing))
	}
	if c.Analysis.MinDecibels >= c.Analysis.MaxDecibels {
		errs = append(errs, fmt.Errorf("analysis.min_decibels must be below max_decibels"))
	}

	if c.Visualizer.Width <= 0 || c.Visualizer.Height <= 0 {
		errs = append(errs, fmt.Errorf("visualizer dimensions must be positive"))
	}
	if c.Visualizer.Bars <= 0 {
		errs = append(errs, fmt.Errorf("visualizer.bars must be positive"))
	}
	if c.Visualizer.FrameRate <= 0 || c.Visualizer.FrameRate > MaxFrameRate {
		errs = append(errs, fmt.Errorf("visualizer.frame_rate %d outside (0, %d]", c.Visualizer.FrameRate, MaxFrameRate))
	}

	if err := checkURL("status.url", c.Status.URL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if c.Status.Backoff <= 0 || c.Status.Backoff > MaxStatusBackoff {
		errs = append(errs, fmt.Errorf("status.backoff %s outside (0, %s]", c.Status.Backoff, MaxStatusBackoff))
	}

	if err := checkURL("backend.url", c.Backend.URL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("backend.timeout must be positive"))
	}

	return errors.Join(errs...)
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s %q must use one of %v with a host", field, raw, schemes)
}

// applyEnvOverrides reads ENV_* variables. Unparseable values are ignored
// with a warning so a typo never prevents startup.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			log.Debugf("configuration: overriding debug from env: %v", bVal)
		} else {
			log.Warnf("configuration: ignoring ENV_DEBUG=%q: %v", val, err)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
	}
	// ENV_INPUT_DEVICE
	if val, ok := os.LookupEnv("ENV_INPUT_DEVICE"); ok {
		if id, err := strconv.Atoi(val); err == nil {
			cfg.Audio.InputDevice = id
		} else {
			log.Warnf("configuration: ignoring ENV_INPUT_DEVICE=%q: %v", val, err)
		}
	}
	// ENV_SEGMENT_INTERVAL
	if val, ok := os.LookupEnv("ENV_SEGMENT_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Recording.Interval = dur
		} else {
			log.Warnf("configuration: ignoring ENV_SEGMENT_INTERVAL=%q: %v", val, err)
		}
	}
	// ENV_STATUS_URL
	if val, ok := os.LookupEnv("ENV_STATUS_URL"); ok {
		cfg.Status.URL = val
	}
	// ENV_STATUS_BACKOFF
	if val, ok := os.LookupEnv("ENV_STATUS_BACKOFF"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Status.Backoff = dur
		} else {
			log.Warnf("configuration: ignoring ENV_STATUS_BACKOFF=%q: %v", val, err)
		}
	}
	// ENV_BACKEND_URL
	if val, ok := os.LookupEnv("ENV_BACKEND_URL"); ok {
		cfg.Backend.URL = val
	}
	// ENV_METRICS_ADDR
	if val, ok := os.LookupEnv("ENV_METRICS_ADDR"); ok {
		cfg.Metrics.Addr = val
	}
}
