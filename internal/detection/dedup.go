package detection

import "fmt"

// Dedup-Modi
const (
	ModeOffset = "offset"
	ModeIoU    = "iou"
)

// Deduplicator führt die Ergebnisse mehrerer Erkennungsdurchläufe zusammen.
// Die Durchläufe werden in Reihenfolge verarbeitet, die zuerst akzeptierte Box gewinnt.
type Deduplicator interface {
	Merge(passes ...[]Detection) []Detection
}

// OffsetDeduplicator wertet eine Box als Duplikat, wenn beide Abstände der linken
// oberen Ecke zu einer akzeptierten Box unter Threshold Pixeln liegen.
type OffsetDeduplicator struct {
	Threshold int
}

// Merge implementiert Deduplicator
func (o OffsetDeduplicator) Merge(passes ...[]Detection) []Detection {
	return merge(passes, func(a, b Box) bool {
		return absInt(a.X1-b.X1) < o.Threshold && absInt(a.Y1-b.Y1) < o.Threshold
	})
}

// IoUDeduplicator wertet eine Box als Duplikat, wenn ihre Überlappung (IoU) mit einer
// akzeptierten Box über Threshold liegt.
type IoUDeduplicator struct {
	Threshold float64
}

// Merge implements Deduplicator.
func (d IoUDeduplicator) Merge(passes ...[]Detection) []Detection {
	return merge(passes, func(a, b Box) bool {
		return a.IoU(b) > d.Threshold
	})
}

// NewDeduplicator liefert den Deduplicator für den konfigurierten Modus
func NewDeduplicator(mode string, offsetPixels int, iouThreshold float64) (Deduplicator, error) {
	switch mode {
	case "", ModeOffset:
		if offsetPixels <= 0 {
			return nil, fmt.Errorf("offset threshold must be positive, got %d", offsetPixels)
		}
		return OffsetDeduplicator{Threshold: offsetPixels}, nil
	case ModeIoU:
		if iouThreshold <= 0 || iouThreshold >= 1 {
			return nil, fmt.Errorf("iou threshold must be in (0,1), got %v", iouThreshold)
		}
		return IoUDeduplicator{Threshold: iouThreshold}, nil
	default:
		return nil, fmt.Errorf("unknown dedup mode %q", mode)
	}
}

func merge(passes [][]Detection, duplicate func(a, b Box) bool) []Detection {
	accepted := make([]Detection, 0)
	for _, pass := range passes {
	candidates:
		for _, cand := range pass {
			for _, acc := range accepted {
				if duplicate(cand.Box, acc.Box) {
					continue candidates
				}
			}
			accepted = append(accepted, cand)
		}
	}
	return accepted
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
