// Package detection enthält die Typen der Personenerkennung und die Regeln,
// nach denen Durchläufe zu einer Menge ohne Duplikate zusammengeführt werden.
package detection

import (
	"encoding/json"
	"fmt"
	"math"
)

// TypePerson ist der einzige Objekttyp, den die Detektoren melden
const TypePerson = "person"

// Box ist ein achsenparalleles Rechteck in Pixelkoordinaten, X2/Y2 exklusiv
type Box struct {
	X1, Y1, X2, Y2 int
}

func (b Box) Width() int { return b.X2 - b.X1 }

func (b Box) Height() int { return b.Y2 - b.Y1 }

// Area liefert Breite*Höhe, 0 für entartete Boxen
func (b Box) Area() int {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Center liefert den ganzzahligen Mittelpunkt
func (b Box) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Valid meldet, ob die Box eine positive Fläche hat
func (b Box) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Clamp beschränkt die Box auf ein Bild der Größe width x height
func (b Box) Clamp(width, height int) Box {
	return Box{
		X1: clampInt(b.X1, 0, width),
		Y1: clampInt(b.Y1, 0, height),
		X2: clampInt(b.X2, 0, width),
		Y2: clampInt(b.Y2, 0, height),
	}
}

// IoU berechnet Schnittfläche durch Vereinigungsfläche
func (b Box) IoU(o Box) float64 {
	ix1, iy1 := max(b.X1, o.X1), max(b.Y1, o.Y1)
	ix2, iy2 := min(b.X2, o.X2), min(b.Y2, o.Y2)
	inter := Box{ix1, iy1, ix2, iy2}.Area()
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

// Detection ist eine mögliche Person im Bild
type Detection struct {
	Box        Box
	Confidence float64
}

// New erstellt eine Detection, die Konfidenz wird auf [0,1] begrenzt
func New(box Box, confidence float64) Detection {
	return Detection{Box: box, Confidence: math.Max(0, math.Min(1, confidence))}
}

func (d Detection) Center() (int, int) { return d.Box.Center() }

func (d Detection) Area() int { return d.Box.Area() }

// wireDetection ist das JSON-Format in detection_objects und in der API-Antwort
type wireDetection struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
	Center     [2]int  `json:"center"`
	Area       int     `json:"area"`
}

// MarshalJSON schreibt Mittelpunkt und Fläche mit, die Konfidenz auf 3 Stellen gerundet
func (d Detection) MarshalJSON() ([]byte, error) {
	cx, cy := d.Center()
	return json.Marshal(wireDetection{
		Type:       TypePerson,
		Confidence: math.Round(d.Confidence*1000) / 1000,
		BBox:       [4]int{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2},
		Center:     [2]int{cx, cy},
		Area:       d.Area(),
	})
}

// UnmarshalJSON liest das JSON-Format, Mittelpunkt und Fläche werden aus der Box neu berechnet
func (d *Detection) UnmarshalJSON(data []byte) error {
	var w wireDetection
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Box = Box{X1: w.BBox[0], Y1: w.BBox[1], X2: w.BBox[2], Y2: w.BBox[3]}
	d.Confidence = w.Confidence
	return nil
}

// TotalArea summiert die Boxflächen. Überlappungen zählen doppelt.
func TotalArea(dets []Detection) int {
	total := 0
	for _, d := range dets {
		total += d.Area()
	}
	return total
}

// Sanitize beschränkt alle Boxen auf das Bild und verwirft entartete
func Sanitize(dets []Detection, width, height int) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		d.Box = d.Box.Clamp(width, height)
		if !d.Box.Valid() {
			continue
		}
		out = append(out, d)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
