// SPDX-License-Identifier: MIT
package visualizer

import (
	"math"

	"voicestudio/internal/config"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is an RGB color with alpha.
type Color struct {
	colorful.Color
	Alpha float64
}

// MarkerColor is the fill of the center disc (Tailwind red-500).
var MarkerColor = Color{Color: colorful.Color{R: 0xef / 255.0, G: 0x44 / 255.0, B: 0x44 / 255.0}, Alpha: 1}

// BarColor maps a magnitude to a stroke color: hue runs from red (0°) at
// silence to orange (50°) at full scale.
func BarColor(value uint8) Color {
	return Color{Color: colorful.Hsl(Hue(value), 1, 0.5), Alpha: 0.8}
}

// Hue returns the stroke hue in degrees for a magnitude.
func Hue(value uint8) float64 {
	return float64(value) / 255 * 50
}

// Layout is the geometry of the radial bar display.
type Layout struct {
	Width, Height int
	Radius        float64
	MarkerInset   float64
	Bars          int
	Stride        int
	MaxBarLength  float64
	LineWidth     float64
}

// DefaultLayout returns a 400x400 canvas with 60 bars around a 50px circle.
func DefaultLayout() Layout {
	return Layout{
		Width:        config.DefaultCanvasSize,
		Height:       config.DefaultCanvasSize,
		Radius:       50,
		MarkerInset:  5,
		Bars:         config.DefaultBars,
		Stride:       2,
		MaxBarLength: 100,
		LineWidth:    4,
	}
}

// LayoutFromConfig applies the visualizer config section to DefaultLayout.
func LayoutFromConfig(c config.VisualizerConfig) Layout {
	l := DefaultLayout()
	if c.Width > 0 {
		l.Width = c.Width
	}
	if c.Height > 0 {
		l.Height = c.Height
	}
	if c.Bars > 0 {
		l.Bars = c.Bars
	}
	return l
}

// Point is a canvas coordinate.
type Point struct {
	X, Y float64
}

// Bar is one stroke from the circle edge outwards.
type Bar struct {
	Value  uint8
	Angle  float64
	Length float64
	From   Point
	To     Point
	Color  Color
}

// Frame is the drawable result of one snapshot.
type Frame struct {
	Width, Height int
	Center        Point
	MarkerRadius  float64
	MarkerColor   Color
	LineWidth     float64
	Bars          []Bar
}

// BuildFrame turns a snapshot into a frame. Bar i samples bin i*Stride;
// bins past the end of the snapshot read as zero.
func BuildFrame(snapshot []uint8, layout Layout) Frame {
	var f Frame
	f.Build(snapshot, layout)
	return f
}

// Build is BuildFrame reusing f's bar storage.
func (f *Frame) Build(snapshot []uint8, layout Layout) {
	f.Width, f.Height = layout.Width, layout.Height
	f.Center = Point{X: float64(layout.Width) / 2, Y: float64(layout.Height) / 2}
	f.MarkerRadius = layout.Radius - layout.MarkerInset
	f.MarkerColor = MarkerColor
	f.LineWidth = layout.LineWidth

	if cap(f.Bars) < layout.Bars {
		f.Bars = make([]Bar, layout.Bars)
	}
	f.Bars = f.Bars[:layout.Bars]

	step := 2 * math.Pi / float64(max(layout.Bars, 1))
	for i := range f.Bars {
		var value uint8
		if bin := i * layout.Stride; bin < len(snapshot) {
			value = snapshot[bin]
		}
		angle := float64(i) * step
		length := float64(value) / 255 * layout.MaxBarLength
		cos, sin := math.Cos(angle), math.Sin(angle)

		f.Bars[i] = Bar{
			Value:  value,
			Angle:  angle,
			Length: length,
			From:   Point{X: f.Center.X + cos*layout.Radius, Y: f.Center.Y + sin*layout.Radius},
			To:     Point{X: f.Center.X + cos*(layout.Radius+length), Y: f.Center.Y + sin*(layout.Radius+length)},
			Color:  BarColor(value),
		}
	}
}

// Clone returns a deep copy whose bars do not alias f.
func (f Frame) Clone() Frame {
	f.Bars = append([]Bar(nil), f.Bars...)
	return f
}
