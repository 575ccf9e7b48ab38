// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voicestudio/internal/backend"
	"voicestudio/internal/studio"
	"voicestudio/internal/visualizer"

	tea "github.com/charmbracelet/bubbletea"
)

func keyMsg(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func readyModel(t *testing.T) Model {
	t.Helper()
	m := NewModel(context.Background(), nil, &FrameRelay{}, "")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func TestQuitKey(t *testing.T) {
	m := readyModel(t)
	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestRecordKeyReturnsCommand(t *testing.T) {
	m := readyModel(t)
	for _, k := range []string{" ", "r"} {
		if _, cmd := m.Update(keyMsg(k)); cmd == nil {
			t.Errorf("%q returned no command", k)
		}
	}
}

func TestSynthesizeKeyGating(t *testing.T) {
	tests := []struct {
		name    string
		view    studio.View
		wantCmd bool
	}{
		{"Empty transcript", studio.View{}, false},
		{"Blank transcript", studio.View{Transcript: "   "}, false},
		{"Recording", studio.View{Recording: true, Transcript: "hi"}, false},
		{"Synthesizing", studio.View{Synthesizing: true, Transcript: "hi"}, false},
		{"Ready", studio.View{Transcript: "hi"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := readyModel(t)
			next, _ := m.Update(viewMsg(tt.view))
			_, cmd := next.(Model).Update(keyMsg("v"))
			if (cmd != nil) != tt.wantCmd {
				t.Errorf("command returned = %v, want %v", cmd != nil, tt.wantCmd)
			}
		})
	}
}

func TestViewShowsTranscriptAndState(t *testing.T) {
	m := readyModel(t)
	if !strings.Contains(m.View(), "Press space") {
		t.Error("empty transcript hint missing")
	}

	next, _ := m.Update(viewMsg(studio.View{
		Recording:  true,
		Connected:  true,
		Status:     "Generating audio",
		Transcript: "the quick brown fox",
		Pending:    2,
	}))
	out := next.(Model).View()
	for _, want := range []string{"Recording", "the quick brown fox", "online", "transcribing 2", "status: Generating audio"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestErrorMessageShown(t *testing.T) {
	m := readyModel(t)
	next, _ := m.Update(errMsg{backend.ErrSynthesis})
	if !strings.Contains(next.(Model).View(), "Error:") {
		t.Error("error not rendered")
	}
}

func TestFrameRelayCopies(t *testing.T) {
	var relay FrameRelay
	if relay.Latest() != nil {
		t.Fatal("empty relay should have no frame")
	}
	f := visualizer.BuildFrame([]uint8{255, 0, 128}, visualizer.DefaultLayout())
	relay.Observe(f)
	f.Bars[0].Value = 1

	got := relay.Latest()
	if got == nil || got.Bars[0].Value != 255 {
		t.Errorf("relay frame was not copied")
	}
}

func TestRenderMeter(t *testing.T) {
	if got := renderMeter(nil, 4); got != "\n\n\n\n" {
		t.Errorf("nil frame = %q", got)
	}

	layout := visualizer.DefaultLayout()
	layout.Bars = 3
	layout.Stride = 1
	f := visualizer.BuildFrame([]uint8{255, 0, 128}, layout)

	lines := strings.Split(strings.TrimSuffix(renderMeter(&f, 4), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("rows = %d, want 4", len(lines))
	}
	// Full bar on every row, half bar on the bottom two only.
	for i, line := range lines {
		if strings.Count(line, "█") != map[bool]int{true: 2, false: 1}[i >= 2] {
			t.Errorf("row %d = %q", i, line)
		}
	}
}

func TestSaveSpeech(t *testing.T) {
	if path, err := saveSpeech("", backend.Speech{Data: []byte("x")}); path != "" || err != nil {
		t.Errorf("empty dir: (%q, %v)", path, err)
	}
	if path, err := saveSpeech(t.TempDir(), backend.Speech{TaskID: "t1"}); path != "" || err != nil {
		t.Errorf("task only: (%q, %v)", path, err)
	}

	dir := t.TempDir()
	path, err := saveSpeech(dir, backend.Speech{Data: []byte("RIFF")})
	if err != nil {
		t.Fatalf("saveSpeech: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("path = %s, want inside %s", path, dir)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "RIFF" {
		t.Errorf("saved data = %q, %v", data, err)
	}
}
