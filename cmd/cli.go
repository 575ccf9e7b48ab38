// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"time"

	"voicestudio/internal/config"
	"voicestudio/internal/log"
	"voicestudio/pkg/build"

	"github.com/spf13/cobra"
)

// options holds the persistent flags. A flag only overrides the loaded
// configuration when it was set on the command line.
type options struct {
	configPath      string
	deviceID        int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	interval        time.Duration
	statusURL       string
	backendURL      string
	engine          string
	voiceID         string
	metricsAddr     string
	logLevel        string
	verbose         bool
}

// Execute runs the command line. ctx is cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{}
	var speechDir string

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runStudio(cmd.Context(), cfg, speechDir)
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.Flags().StringVar(&speechDir, "speech-dir", "",
		"Directory where synthesized speech is saved")

	opts.bind(rootCmd)

	rootCmd.AddCommand(
		newListCommand(),
		newRecordCommand(opts),
		newRelayCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

// bind registers the persistent flags on cmd.
func (o *options) bind(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "",
		"Path to a YAML configuration file")

	// Audio Device Configuration
	flags.IntVarP(&o.deviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.IntVarP(&o.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to record (1=mono, 2=stereo)")
	flags.Float64VarP(&o.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&o.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	flags.BoolVarP(&o.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use low latency mode for real-time processing")

	// Recording Configuration
	flags.DurationVarP(&o.interval, "interval", "i", config.DefaultSegmentInterval,
		"Length of each transcribed clip")

	// Collaborators
	flags.StringVar(&o.statusURL, "status-url", config.DefaultStatusURL,
		"Base websocket URL of the synthesis status channel")
	flags.StringVar(&o.backendURL, "backend-url", config.DefaultBackendURL,
		"Base URL of the transcription and synthesis API")
	flags.StringVar(&o.engine, "engine", config.DefaultEngine,
		"Synthesis engine")
	flags.StringVar(&o.voiceID, "voice", "",
		"Voice profile used for synthesis")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address")

	// Debug Configuration
	flags.StringVar(&o.logLevel, "log-level", config.DefaultLogLevel,
		"Log level (debug, info, warn, error)")
	flags.BoolVarP(&o.verbose, "verbose", "v", false,
		"Show verbose output")
}

// load reads the configuration file and applies the flags that were set.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Audio.InputDevice = o.deviceID
	}
	if f.Changed("channels") {
		cfg.Audio.InputChannels = o.channels
	}
	if f.Changed("sample-rate") {
		cfg.Audio.SampleRate = o.sampleRate
	}
	if f.Changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = o.framesPerBuffer
	}
	if f.Changed("low-latency") {
		cfg.Audio.LowLatency = o.lowLatency
	}
	if f.Changed("interval") {
		cfg.Recording.Interval = o.interval
	}
	if f.Changed("status-url") {
		cfg.Status.URL = o.statusURL
	}
	if f.Changed("backend-url") {
		cfg.Backend.URL = o.backendURL
	}
	if f.Changed("engine") {
		cfg.Backend.Engine = o.engine
	}
	if f.Changed("voice") {
		cfg.Backend.VoiceID = o.voiceID
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if f.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if o.verbose || cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	return cfg, nil
}
