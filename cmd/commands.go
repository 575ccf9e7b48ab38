// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"voicestudio/internal/audio"
	"voicestudio/internal/config"
	"voicestudio/internal/studio"
	"voicestudio/internal/transport"
	"voicestudio/internal/tui"
	"voicestudio/internal/visualizer"
	"voicestudio/pkg/build"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return audio.ListDevices(cmd.OutOrStdout())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.GetBuildFlags().String())
		},
	}
}

func newRecordCommand(opts *options) *cobra.Command {
	var (
		duration   time.Duration
		framesDir  string
		frameEvery int
		speak      bool
		speechDir  string
	)

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record and transcribe without the TUI",
		Long: "Record from the input device until --duration elapses or the process is\n" +
			"interrupted, printing transcripts as clips are recognized.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if frameEvery < 1 {
				return fmt.Errorf("--frame-every must be at least 1")
			}
			return runRecord(cmd.Context(), cfg, recordOptions{
				duration:   duration,
				framesDir:  framesDir,
				frameEvery: frameEvery,
				speak:      speak,
				speechDir:  speechDir,
			})
		},
	}

	f := recordCmd.Flags()
	f.DurationVar(&duration, "duration", 0, "Stop after this long (0 records until interrupted)")
	f.StringVar(&framesDir, "frames-dir", "", "Write visualizer frames as PNG files to this directory")
	f.IntVar(&frameEvery, "frame-every", 30, "Write every nth visualizer frame")
	f.BoolVar(&speak, "speak", false, "Synthesize the transcript when recording ends")
	f.StringVar(&speechDir, "speech-dir", ".", "Directory where synthesized speech is saved")
	return recordCmd
}

func newRelayCommand(opts *options) *cobra.Command {
	var addr string

	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the synthesis status hub",
		Long: "Serve GET /ws/{clientID} for status subscribers and POST /status/{clientID}\n" +
			"for job workers publishing progress.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg, addr)
		},
	}
	relayCmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address of the status hub")
	return relayCmd
}

// runStudio shows the interactive studio.
func runStudio(ctx context.Context, cfg *config.Config, speechDir string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	relay := &tui.FrameRelay{}
	a.renderer.OnFrame(relay.Observe)

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	g.Go(func() error {
		defer cancel()
		return tui.Run(ctx, a.session, relay, speechDir)
	})
	g.Go(func() error {
		return serveMetrics(ctx, cfg.Metrics.Addr, a.registry)
	})

	err = g.Wait()
	if cerr := a.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

type recordOptions struct {
	duration   time.Duration
	framesDir  string
	frameEvery int
	speak      bool
	speechDir  string
}

// runRecord records headless until the duration elapses or ctx is done.
func runRecord(ctx context.Context, cfg *config.Config, opts recordOptions) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.framesDir != "" {
		if err := os.MkdirAll(opts.framesDir, 0o755); err != nil {
			return fmt.Errorf("failed to create frames dir: %w", err)
		}
		a.renderer.OnFrame(frameWriter(opts.framesDir, opts.frameEvery, a.layout))
	}

	var (
		mu      sync.Mutex
		printed string
	)
	a.session.OnChange(func(v studio.View) {
		mu.Lock()
		defer mu.Unlock()
		if v.Transcript != printed && strings.HasPrefix(v.Transcript, printed) {
			fmt.Println(strings.TrimSpace(strings.TrimPrefix(v.Transcript, printed)))
			printed = v.Transcript
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	recCtx, stop := context.WithCancel(gctx)
	g.Go(func() error {
		defer stop()
		return serveMetrics(recCtx, cfg.Metrics.Addr, a.registry)
	})
	g.Go(func() error {
		defer stop()
		if err := a.session.StartRecording(recCtx); err != nil {
			return err
		}
		fmt.Println("Recording... press Ctrl+C to stop.")

		if opts.duration > 0 {
			select {
			case <-time.After(opts.duration):
			case <-recCtx.Done():
			}
		} else {
			<-recCtx.Done()
		}
		return a.session.StopRecording()
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Wait for the queued clips before speaking.
	if err := a.Close(); err != nil {
		return err
	}
	v := a.session.Snapshot()
	fmt.Printf("\nTranscript: %s\n", v.Transcript)

	if !opts.speak || strings.TrimSpace(v.Transcript) == "" {
		return nil
	}
	speech, err := a.session.Synthesize(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if len(speech.Data) == 0 {
		fmt.Printf("Synthesis queued as task %s\n", speech.TaskID)
		return nil
	}
	path := filepath.Join(opts.speechDir, "speech-"+time.Now().UTC().Format("02-01-2006-150405")+".wav")
	if err := os.WriteFile(path, speech.Data, 0o644); err != nil {
		return fmt.Errorf("failed to save speech: %w", err)
	}
	fmt.Printf("Speech saved to: %s\n", path)
	return nil
}

// frameWriter paints every nth frame into a PNG file in dir.
func frameWriter(dir string, every int, layout visualizer.Layout) func(visualizer.Frame) {
	surface := visualizer.NewImageSurface(layout.Width, layout.Height)
	n := 0
	return func(f visualizer.Frame) {
		n++
		if n%every != 0 {
			return
		}
		visualizer.Paint(surface, f)
		path := filepath.Join(dir, fmt.Sprintf("frame-%06d.png", n))
		if err := surface.SavePNG(path); err != nil {
			fmt.Fprintf(os.Stderr, "frame %d: %v\n", n, err)
		}
	}
}

// runRelay serves the status hub until ctx is done.
func runRelay(ctx context.Context, cfg *config.Config, addr string) error {
	reg := newRegistry()
	hub := transport.NewStatusHub()
	if err := hub.Start(addr); err != nil {
		return err
	}
	fmt.Printf("Status hub listening on %s\n", hub.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveMetrics(ctx, cfg.Metrics.Addr, reg)
	})
	g.Go(func() error {
		<-ctx.Done()
		return hub.Close()
	})
	return g.Wait()
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func NotifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
