// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"voicestudio/internal/backend"
	"voicestudio/internal/studio"
	"voicestudio/internal/visualizer"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	meterRows    = 8
	refreshEvery = time.Second / 30
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	recordingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#ef4444")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7A7A7A"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ef4444"))
)

type keyMap struct {
	Record     key.Binding
	Synthesize key.Binding
	Quit       key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Synthesize, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultKeys() keyMap {
	return keyMap{
		Record: key.NewBinding(
			key.WithKeys(" ", "space", "r"),
			key.WithHelp("space", "record/stop"),
		),
		Synthesize: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "speak transcript"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

type (
	viewMsg   studio.View
	tickMsg   time.Time
	errMsg    struct{ err error }
	speechMsg struct {
		speech backend.Speech
		path   string
	}
)

// FrameRelay keeps the most recent visualizer frame for the TUI to poll.
// Register Observe with Renderer.OnFrame.
type FrameRelay struct {
	latest atomic.Pointer[visualizer.Frame]
}

// Observe stores a copy of f.
func (r *FrameRelay) Observe(f visualizer.Frame) {
	c := f.Clone()
	r.latest.Store(&c)
}

// Latest returns the last observed frame, or nil.
func (r *FrameRelay) Latest() *visualizer.Frame {
	return r.latest.Load()
}

// Model is the bubbletea model of the studio screen.
type Model struct {
	session  *studio.Session
	frames   *FrameRelay
	ctx      context.Context
	speechTo string

	view     studio.View
	frame    *visualizer.Frame
	keys     keyMap
	help     help.Model
	viewport viewport.Model
	ready    bool
	notice   string
	err      error
}

// NewModel returns the studio screen. Synthesized speech is written to
// speechDir when it is not empty.
func NewModel(ctx context.Context, s *studio.Session, frames *FrameRelay, speechDir string) Model {
	m := Model{
		session:  s,
		frames:   frames,
		ctx:      ctx,
		speechTo: speechDir,
		keys:     defaultKeys(),
		help:     help.New(),
	}
	if s != nil {
		m.view = s.Snapshot()
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := max(msg.Height-meterRows-8, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.help.Width = msg.Width
		m.viewport.SetContent(m.renderTranscript())

	case viewMsg:
		m.view = studio.View(msg)
		if m.ready {
			m.viewport.SetContent(m.renderTranscript())
			m.viewport.GotoBottom()
		}

	case tickMsg:
		if m.frames != nil {
			m.frame = m.frames.Latest()
		}
		return m, tick()

	case errMsg:
		m.err = msg.err

	case speechMsg:
		m.err = nil
		if msg.path != "" {
			m.notice = fmt.Sprintf("Speech saved to %s", msg.path)
		} else {
			m.notice = fmt.Sprintf("Received %d bytes of %s", len(msg.speech.Data), msg.speech.MIMEType)
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Record):
			m.err = nil
			m.notice = ""
			return m, m.toggle()

		case key.Matches(msg, m.keys.Synthesize):
			if m.view.Recording || m.view.Synthesizing || strings.TrimSpace(m.view.Transcript) == "" {
				m.notice = "Nothing to speak yet"
				return m, nil
			}
			m.notice = "Synthesizing..."
			return m, m.synthesize()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) toggle() tea.Cmd {
	s, ctx := m.session, m.ctx
	return func() tea.Msg {
		if err := s.ToggleRecording(ctx); err != nil {
			return errMsg{err}
		}
		return viewMsg(s.Snapshot())
	}
}

func (m Model) synthesize() tea.Cmd {
	s, ctx, dir := m.session, m.ctx, m.speechTo
	return func() tea.Msg {
		speech, err := s.Synthesize(ctx)
		if err != nil {
			return errMsg{err}
		}
		path, err := saveSpeech(dir, speech)
		if err != nil {
			return errMsg{err}
		}
		return speechMsg{speech: speech, path: path}
	}
}

// saveSpeech writes audio speech into dir. Task only responses and an
// empty dir are not written.
func saveSpeech(dir string, speech backend.Speech) (string, error) {
	if dir == "" || len(speech.Data) == 0 {
		return "", nil
	}
	name := "speech-" + time.Now().UTC().Format("02-01-2006-150405") + ".wav"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, speech.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save speech: %w", err)
	}
	return path, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	title := titleStyle.Render("Voice Studio")
	if m.view.Recording {
		title = recordingStyle.Render("● Recording")
	}

	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("  ")
	sb.WriteString(statusLine(m.view))
	sb.WriteString("\n\n")
	sb.WriteString(renderMeter(m.frame, meterRows))
	sb.WriteString("\n")
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")

	switch {
	case m.err != nil:
		sb.WriteString(errorStyle.Render("Error: " + m.err.Error()))
	case m.notice != "":
		sb.WriteString(infoStyle.Render(m.notice))
	case m.view.LastError != "":
		sb.WriteString(errorStyle.Render(m.view.LastError))
	}
	sb.WriteString("\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m Model) renderTranscript() string {
	if m.view.Transcript == "" {
		return dimStyle.Render("Press space and start talking.")
	}
	return lipgloss.NewStyle().Width(m.viewport.Width).Render(m.view.Transcript)
}

// statusLine summarizes connectivity, uploads and the synthesis status.
func statusLine(v studio.View) string {
	var parts []string
	if v.Connected {
		parts = append(parts, "● online")
	} else {
		parts = append(parts, "○ offline")
	}
	if v.Pending > 0 {
		parts = append(parts, fmt.Sprintf("transcribing %d", v.Pending))
	}
	if v.Synthesizing {
		parts = append(parts, "synthesizing")
	}
	if v.Status != "" {
		parts = append(parts, "status: "+v.Status)
	}
	return infoStyle.Render(strings.Join(parts, " • "))
}

// renderMeter draws one column per bar, rows high, coloured like the
// radial visualizer. A nil frame renders an empty meter.
func renderMeter(f *visualizer.Frame, rows int) string {
	if f == nil || len(f.Bars) == 0 {
		return strings.Repeat("\n", rows)
	}

	cells := make([]string, len(f.Bars))
	heights := make([]int, len(f.Bars))
	for i, b := range f.Bars {
		heights[i] = int(b.Value) * rows / 255
		cells[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(b.Color.Hex())).Render("█")
	}

	var sb strings.Builder
	for row := rows; row > 0; row-- {
		for i := range f.Bars {
			if heights[i] >= row {
				sb.WriteString(cells[i])
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Run shows the studio screen until the user quits.
func Run(ctx context.Context, s *studio.Session, frames *FrameRelay, speechDir string) error {
	p := tea.NewProgram(
		NewModel(ctx, s, frames, speechDir),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	s.OnChange(func(v studio.View) { p.Send(viewMsg(v)) })
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
