package detection

import "fmt"

// YOLOOutput beschreibt einen rohen YOLOv8-Ausgang: Tensor [1, 4+Klassen, Anker],
// zeilenweise abgeflacht. Zeilen sind cx, cy, w, h und danach ein Score je Klasse.
type YOLOOutput struct {
	Data       []float32
	NumClasses int
	NumAnchors int
}

// YOLOParams steuert die Auswertung des YOLOv8-Ausgangs
type YOLOParams struct {
	ClassID       int
	MinConfidence float32
	// Skalierung von Modellkoordinaten zurück auf Bildpixel
	ScaleX, ScaleY float64
	FrameWidth     int
	FrameHeight    int
}

// ParseYOLOv8 liefert alle Anker, deren beste Klasse ClassID ist und deren Score
// mindestens MinConfidence beträgt, als begrenzte Bildboxen. Ohne NMS.
func ParseYOLOv8(out YOLOOutput, p YOLOParams) ([]Detection, error) {
	rows := 4 + out.NumClasses
	if out.NumClasses <= 0 || out.NumAnchors <= 0 {
		return nil, fmt.Errorf("invalid yolo output shape: classes=%d anchors=%d", out.NumClasses, out.NumAnchors)
	}
	if len(out.Data) < rows*out.NumAnchors {
		return nil, fmt.Errorf("yolo output too short: got %d values, want %d", len(out.Data), rows*out.NumAnchors)
	}
	if p.ClassID < 0 || p.ClassID >= out.NumClasses {
		return nil, fmt.Errorf("class id %d out of range", p.ClassID)
	}

	at := func(row, anchor int) float32 { return out.Data[row*out.NumAnchors+anchor] }

	var dets []Detection
	for i := 0; i < out.NumAnchors; i++ {
		best, bestScore := 0, at(4, i)
		for c := 1; c < out.NumClasses; c++ {
			if s := at(4+c, i); s > bestScore {
				best, bestScore = c, s
			}
		}
		if best != p.ClassID || bestScore < p.MinConfidence {
			continue
		}

		cx, cy := float64(at(0, i)), float64(at(1, i))
		w, h := float64(at(2, i)), float64(at(3, i))
		box := Box{
			X1: int((cx - w/2) * p.ScaleX),
			Y1: int((cy - h/2) * p.ScaleY),
			X2: int((cx + w/2) * p.ScaleX),
			Y2: int((cy + h/2) * p.ScaleY),
		}.Clamp(p.FrameWidth, p.FrameHeight)
		if !box.Valid() {
			continue
		}
		dets = append(dets, New(box, float64(bestScore)))
	}
	return dets, nil
}
