// SPDX-License-Identifier: MIT
package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"voicestudio/internal/analysis"
	"voicestudio/internal/backend"
	"voicestudio/internal/clip"
	"voicestudio/internal/log"
	"voicestudio/internal/recorder"
	"voicestudio/internal/status"
	"voicestudio/internal/visualizer"
)

var (
	// ErrNothingToSynthesize is returned when the transcript is blank.
	ErrNothingToSynthesize = errors.New("studio: transcript is empty")

	// ErrBusy is returned by Synthesize while recording or while a previous
	// synthesis is still running.
	ErrBusy = errors.New("studio: busy")
)

// Transcriber turns one clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, c clip.Clip) (string, error)
}

// Synthesizer speaks text.
type Synthesizer interface {
	Synthesize(ctx context.Context, r backend.SynthesisRequest) (backend.Speech, error)
}

// Deps are the components a Session wires together. Channel and Renderer
// are optional.
type Deps struct {
	Recorder        *recorder.Recorder
	Analysis        *analysis.Context
	AnalyzerOptions analysis.AnalyzerOptions
	Renderer        *visualizer.Renderer
	Channel         *status.Channel
	Transcriber     Transcriber
	Synthesizer     Synthesizer
	ClientID        string
	Engine          string
	VoiceID         string
}

// View is a consistent snapshot of the session for display.
type View struct {
	Recording    bool
	Uploading    bool
	Synthesizing bool
	Validated    bool
	Connected    bool
	Status       string
	Transcript   string
	Pending      int
	LastError    string
}

// Session is the studio application state: recorded clips are transcribed
// in order and accumulated into one transcript that can then be spoken.
type Session struct {
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// visMu orders analyzer attach and detach against StopRecording.
	visMu    sync.Mutex
	analyzer *analysis.Analyzer

	mu           sync.Mutex
	wake         *sync.Cond
	queue        []clip.Clip
	closing      bool
	transcript   string
	pending      int
	uploading    bool
	synthesizing bool
	validated    bool
	lastErr      string
	listeners    []func(View)

	closeOnce sync.Once
}

// New wires deps and starts the transcription worker.
func New(deps Deps) (*Session, error) {
	if deps.Recorder == nil {
		return nil, errors.New("studio: recorder is required")
	}
	if deps.Transcriber == nil {
		return nil, errors.New("studio: transcriber is required")
	}
	if deps.Analysis == nil {
		deps.Analysis = analysis.DefaultContext()
	}
	if deps.AnalyzerOptions.FFTSize == 0 {
		deps.AnalyzerOptions = analysis.DefaultAnalyzerOptions()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
	s.wake = sync.NewCond(&s.mu)

	deps.Recorder.OnClip(s.enqueue)
	deps.Recorder.OnStateChange(s.onRecorderState)
	deps.Recorder.OnSegmentLoss(func(err error) {
		s.setError(err)
	})
	if deps.Channel != nil {
		deps.Channel.OnStatus(func(string) { s.notify() })
		deps.Channel.OnConnectivity(func(bool) { s.notify() })
	}

	s.wg.Add(1)
	go s.transcribeLoop()
	return s, nil
}

// OnChange registers an observer called after every change of the View.
func (s *Session) OnChange(fn func(View)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns the current View.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	v := View{
		Uploading:    s.uploading,
		Synthesizing: s.synthesizing,
		Validated:    s.validated,
		Transcript:   s.transcript,
		Pending:      s.pending,
		LastError:    s.lastErr,
	}
	s.mu.Unlock()

	v.Recording = s.deps.Recorder.Recording()
	if ch := s.deps.Channel; ch != nil {
		v.Connected = ch.Connected()
		v.Status = ch.Status()
	}
	return v
}

func (s *Session) notify() {
	v := s.Snapshot()
	s.mu.Lock()
	fns := s.listeners
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// StartRecording clears the transcript and starts a recording session. It
// blocks until the microphone is granted or denied.
func (s *Session) StartRecording(ctx context.Context) error {
	if s.deps.Recorder.Recording() {
		return nil
	}
	s.mu.Lock()
	s.transcript = ""
	s.validated = false
	s.lastErr = ""
	s.mu.Unlock()

	if err := s.deps.Recorder.Start(ctx); err != nil {
		s.setError(err)
		return err
	}
	return nil
}

// StopRecording ends the recording session. The visualizer is stopped and
// the analyzer detached before it returns. Clips already captured are still
// transcribed.
func (s *Session) StopRecording() error {
	err := s.deps.Recorder.Stop()
	s.stopVisuals()
	return err
}

// ToggleRecording starts or stops recording.
func (s *Session) ToggleRecording(ctx context.Context) error {
	if s.deps.Recorder.Recording() {
		return s.StopRecording()
	}
	return s.StartRecording(ctx)
}

// SetTranscript replaces the transcript with a manual correction.
func (s *Session) SetTranscript(text string) {
	s.mu.Lock()
	s.transcript = text
	s.validated = false
	s.mu.Unlock()
	s.notify()
}

// Synthesize speaks the current transcript. It is refused while recording,
// while a synthesis is running, and when the transcript is blank.
func (s *Session) Synthesize(ctx context.Context) (backend.Speech, error) {
	if s.deps.Synthesizer == nil {
		return backend.Speech{}, errors.New("studio: no synthesizer configured")
	}
	if s.deps.Recorder.Recording() {
		return backend.Speech{}, fmt.Errorf("%w: recording", ErrBusy)
	}

	s.mu.Lock()
	text := strings.TrimSpace(s.transcript)
	switch {
	case text == "":
		s.mu.Unlock()
		return backend.Speech{}, ErrNothingToSynthesize
	case s.synthesizing:
		s.mu.Unlock()
		return backend.Speech{}, fmt.Errorf("%w: synthesis in progress", ErrBusy)
	}
	s.synthesizing = true
	s.validated = true
	s.mu.Unlock()
	s.notify()

	speech, err := s.deps.Synthesizer.Synthesize(ctx, backend.SynthesisRequest{
		Text:     text,
		Engine:   s.deps.Engine,
		VoiceID:  s.deps.VoiceID,
		ClientID: s.deps.ClientID,
	})

	s.mu.Lock()
	s.synthesizing = false
	if err != nil {
		s.validated = false
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		log.Errorf("Studio: synthesis failed: %v", err)
		return backend.Speech{}, err
	}
	return speech, nil
}

// Close stops recording, finishes queued transcriptions and closes the
// status channel.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.deps.Recorder.Stop()
		s.stopVisuals()
		if cerr := s.deps.Recorder.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}

		s.mu.Lock()
		s.closing = true
		s.wake.Broadcast()
		s.mu.Unlock()
		s.wg.Wait()
		s.cancel()

		if s.deps.Channel != nil {
			if cerr := s.deps.Channel.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

// enqueue runs on the recorder's event goroutine. The queue has no bound so
// a slow backend never holds back recorder events.
func (s *Session) enqueue(c clip.Clip) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.pending++
	s.wake.Signal()
	s.mu.Unlock()
	s.notify()
}

// next blocks for the oldest queued clip. It returns false once the session
// is closing and the queue is empty.
func (s *Session) next() (clip.Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closing {
		s.wake.Wait()
	}
	if len(s.queue) == 0 {
		return clip.Clip{}, false
	}
	c := s.queue[0]
	s.queue[0] = clip.Clip{}
	s.queue = s.queue[1:]
	s.uploading = true
	return c, true
}

// transcribeLoop transcribes clips one at a time so text is appended in
// capture order.
func (s *Session) transcribeLoop() {
	defer s.wg.Done()
	for {
		c, ok := s.next()
		if !ok {
			return
		}
		s.notify()

		text, err := s.deps.Transcriber.Transcribe(s.ctx, c)

		s.mu.Lock()
		s.pending--
		s.uploading = s.pending > 0
		if err != nil {
			s.lastErr = err.Error()
		} else if text != "" {
			if s.transcript == "" {
				s.transcript = text
			} else {
				s.transcript += " " + text
			}
		}
		s.mu.Unlock()

		if err != nil {
			log.Warnf("Studio: transcription of clip %d failed: %v", c.Seq, err)
		}
		s.notify()
	}
}

func (s *Session) onRecorderState(st recorder.State) {
	switch st {
	case recorder.Recording:
		s.attachAnalyzer()
	case recorder.Idle:
		// Usually already done by StopRecording.
		s.stopVisuals()
	}
	s.notify()
}

func (s *Session) attachAnalyzer() {
	s.visMu.Lock()
	defer s.visMu.Unlock()

	// Recorder.Stop clears the source before it returns, so an attach that
	// lost the race with StopRecording sees nil here.
	src := s.deps.Recorder.Source()
	if src == nil {
		return
	}
	a, err := s.deps.Analysis.NewAnalyzer(src, s.deps.AnalyzerOptions)
	if err != nil {
		log.Errorf("Studio: analyzer unavailable: %v", err)
		s.setError(err)
		return
	}

	old := s.analyzer
	s.analyzer = a
	if s.deps.Renderer != nil {
		s.deps.Renderer.Start(a)
	}
	if old != nil {
		old.Disconnect()
	}
}

// stopVisuals stops the frame loop and detaches the analyzer.
func (s *Session) stopVisuals() {
	s.visMu.Lock()
	defer s.visMu.Unlock()

	if s.deps.Renderer != nil {
		s.deps.Renderer.Stop()
	}
	if s.analyzer != nil {
		s.analyzer.Disconnect()
		s.analyzer = nil
	}
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.notify()
}
