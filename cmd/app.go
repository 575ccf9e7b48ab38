// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"voicestudio/internal/analysis"
	"voicestudio/internal/audio"
	"voicestudio/internal/backend"
	"voicestudio/internal/clip"
	"voicestudio/internal/config"
	"voicestudio/internal/log"
	"voicestudio/internal/metrics"
	"voicestudio/internal/recorder"
	"voicestudio/internal/status"
	"voicestudio/internal/studio"
	"voicestudio/internal/visualizer"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app is the wired studio for one command invocation.
type app struct {
	registry *prometheus.Registry
	layout   visualizer.Layout
	renderer *visualizer.Renderer
	channel  *status.Channel
	session  *studio.Session

	closeOnce sync.Once
	closeErr  error
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newApp(cfg *config.Config) (*app, error) {
	reg := newRegistry()
	m := metrics.New(reg)
	clock := clockwork.NewRealClock()

	format := audio.Format{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.InputChannels,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
	}
	device := audio.NewPortAudioDevice(cfg.Audio.InputDevice, format, cfg.Audio.LowLatency)

	rec := recorder.New(device, clip.WAVFactory(cfg.Recording.BitDepth),
		recorder.WithInterval(cfg.Recording.Interval),
		recorder.WithClock(clock),
		recorder.WithMetrics(m),
	)

	layout := visualizer.LayoutFromConfig(cfg.Visualizer)
	renderer := visualizer.NewRenderer(layout,
		visualizer.NewClockScheduler(clock, cfg.Visualizer.FrameRate),
		visualizer.WithRendererMetrics(m),
	)

	clientID := status.NewClientID()
	channel := status.New(cfg.Status.URL, clientID,
		status.WithBackoff(cfg.Status.Backoff),
		status.WithClock(clock),
		status.WithMetrics(m),
	)

	client := backend.NewClient(cfg.Backend.URL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithMetrics(m),
	)

	session, err := studio.New(studio.Deps{
		Recorder:        rec,
		Analysis:        analysis.DefaultContext(),
		AnalyzerOptions: analysis.OptionsFromConfig(cfg.Analysis),
		Renderer:        renderer,
		Channel:         channel,
		Transcriber:     client,
		Synthesizer:     client,
		ClientID:        clientID,
		Engine:          cfg.Backend.Engine,
		VoiceID:         cfg.Backend.VoiceID,
	})
	if err != nil {
		rec.Close()
		return nil, err
	}

	channel.Open()
	log.Infof("Studio: client %s, status %s, backend %s", clientID, channel.URL(), cfg.Backend.URL)

	return &app{
		registry: reg,
		layout:   layout,
		renderer: renderer,
		channel:  channel,
		session:  session,
	}, nil
}

// Close stops recording, drains transcriptions and closes the status channel.
func (a *app) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.session.Close()
	})
	return a.closeErr
}

// serveMetrics serves reg on addr until ctx is done. An empty addr only
// waits for ctx.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Metrics: serving on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
