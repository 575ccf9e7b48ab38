// SPDX-License-Identifier: MIT
package visualizer

import (
	"image"
	"image/png"
	"io"

	"github.com/fogleman/gg"
)

// Surface is a 2D drawing target.
type Surface interface {
	Clear()
	FillCircle(x, y, r float64, c Color)
	StrokeLine(x1, y1, x2, y2, width float64, c Color)
}

// Paint draws frame onto s: clear, center marker, then the bars.
func Paint(s Surface, frame Frame) {
	s.Clear()
	s.FillCircle(frame.Center.X, frame.Center.Y, frame.MarkerRadius, frame.MarkerColor)
	for _, b := range frame.Bars {
		s.StrokeLine(b.From.X, b.From.Y, b.To.X, b.To.Y, frame.LineWidth, b.Color)
	}
}

// ImageSurface rasterizes onto an RGBA image.
type ImageSurface struct {
	dc *gg.Context
}

var _ Surface = (*ImageSurface)(nil)

// NewImageSurface returns a transparent surface of the given size.
func NewImageSurface(width, height int) *ImageSurface {
	s := &ImageSurface{dc: gg.NewContext(width, height)}
	s.dc.SetLineCapRound()
	return s
}

func (s *ImageSurface) setColor(c Color) {
	s.dc.SetRGBA(c.R, c.G, c.B, c.Alpha)
}

// Clear resets every pixel to transparent.
func (s *ImageSurface) Clear() {
	s.dc.SetRGBA(0, 0, 0, 0)
	s.dc.Clear()
}

// FillCircle fills a disc.
func (s *ImageSurface) FillCircle(x, y, r float64, c Color) {
	s.setColor(c)
	s.dc.DrawCircle(x, y, r)
	s.dc.Fill()
}

// StrokeLine strokes a round-capped line.
func (s *ImageSurface) StrokeLine(x1, y1, x2, y2, width float64, c Color) {
	s.setColor(c)
	s.dc.SetLineWidth(width)
	s.dc.DrawLine(x1, y1, x2, y2)
	s.dc.Stroke()
}

// Image returns the backing image.
func (s *ImageSurface) Image() image.Image {
	return s.dc.Image()
}

// SavePNG writes the surface to a PNG file.
func (s *ImageSurface) SavePNG(path string) error {
	return s.dc.SavePNG(path)
}

// EncodePNG writes the surface as PNG to w.
func (s *ImageSurface) EncodePNG(w io.Writer) error {
	return png.Encode(w, s.dc.Image())
}
