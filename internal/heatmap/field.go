// Package heatmap baut das einkanalige Intensitätsfeld für das Heatmap-Overlay.
package heatmap

import (
	"fmt"

	"crowdscope/internal/detection"
)

// Stempel-Modi
const (
	StampDisc = "disc"
	StampRect = "rect"
)

// Grenzen des Scheibenradius in Pixeln
const (
	MinDiscRadius = 50
	MaxDiscRadius = 200
)

// Field ist ein zeilenweises float32-Raster. Data kann fremden Speicher
// referenzieren, z.B. eine OpenCV-Matrix.
type Field struct {
	Width, Height int
	Data          []float32
}

// NewField legt ein mit Nullen gefülltes Feld an
func NewField(width, height int) *Field {
	return &Field{Width: width, Height: height, Data: make([]float32, width*height)}
}

// Wrap nutzt einen vorhandenen Puffer als Feldspeicher
func Wrap(width, height int, data []float32) (*Field, error) {
	if width < 0 || height < 0 || len(data) < width*height {
		return nil, fmt.Errorf("buffer of %d values does not fit %dx%d field", len(data), width, height)
	}
	return &Field{Width: width, Height: height, Data: data[:width*height]}, nil
}

func (f *Field) At(x, y int) float32 {
	return f.Data[y*f.Width+x]
}

// DiscRadius ist 80% der längeren Boxseite, begrenzt auf [MinDiscRadius, MaxDiscRadius]
func DiscRadius(b detection.Box) int {
	r := int(0.8 * float64(max(b.Width(), b.Height())))
	return min(max(r, MinDiscRadius), MaxDiscRadius)
}

// StampDisc setzt alle Pixel im Radius r um (cx, cy) auf 1
func (f *Field) StampDisc(cx, cy, r int) {
	y0, y1 := max(cy-r, 0), min(cy+r, f.Height-1)
	x0, x1 := max(cx-r, 0), min(cx+r, f.Width-1)
	rr := r * r
	for y := y0; y <= y1; y++ {
		dy := y - cy
		row := f.Data[y*f.Width : (y+1)*f.Width]
		for x := x0; x <= x1; x++ {
			dx := x - cx
			if dx*dx+dy*dy <= rr {
				row[x] = 1
			}
		}
	}
}

// AddRect addiert 1 auf jedes Pixel in b
func (f *Field) AddRect(b detection.Box) {
	b = b.Clamp(f.Width, f.Height)
	for y := b.Y1; y < b.Y2; y++ {
		row := f.Data[y*f.Width : (y+1)*f.Width]
		for x := b.X1; x < b.X2; x++ {
			row[x]++
		}
	}
}

// Stamp stempelt jede Erkennung einmal
func (f *Field) Stamp(mode string, dets []detection.Detection) error {
	for _, d := range dets {
		switch mode {
		case "", StampDisc:
			cx, cy := d.Center()
			f.StampDisc(cx, cy, DiscRadius(d.Box))
		case StampRect:
			f.AddRect(d.Box)
		default:
			return fmt.Errorf("unknown stamp mode %q", mode)
		}
	}
	return nil
}

// Max liefert den größten Wert, 0 für ein leeres Feld
func (f *Field) Max() float32 {
	var m float32
	for _, v := range f.Data {
		if v > m {
			m = v
		}
	}
	return m
}

// Normalize skaliert auf [0,1]. Ein reines Nullfeld bleibt unverändert.
func (f *Field) Normalize() {
	m := f.Max()
	if m <= 0 {
		return
	}
	for i := range f.Data {
		f.Data[i] /= m
	}
}

// OddKernel rundet k auf die nächste ungerade Zahl auf, mindestens 1
func OddKernel(k int) int {
	if k < 1 {
		return 1
	}
	if k%2 == 0 {
		return k + 1
	}
	return k
}
