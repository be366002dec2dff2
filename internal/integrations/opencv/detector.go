package opencv

import (
	"context"
	"errors"
	"fmt"

	"crowdscope/internal/detection"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

// Detektionsmethoden
const (
	MethodYOLO    = "yolo"    // YOLOv8 auf dem ganzen Bild, nur Klasse "person"
	MethodCascade = "cascade" // Haar-Kaskaden für Ganzkörper und Oberkörper
)

// ErrDetectorUnavailable wird beim Start zurückgegeben, wenn ein Modell nicht geladen werden kann
var ErrDetectorUnavailable = errors.New("detector unavailable")

// Detector ist ein einzelner Erkennungsdurchlauf über ein Bild
type Detector interface {
	Name() string
	Detect(ctx context.Context, img gocv.Mat) ([]detection.Detection, error)
	Stats() PoolStats
	Close() error
}

// Ensemble führt mehrere Durchläufe aus und führt sie zu einer deduplizierten Menge zusammen.
// Die Reihenfolge der Zusammenführung ist die Reihenfolge der Durchläufe, unabhängig davon,
// welcher zuerst fertig wird.
type Ensemble struct {
	passes           []Detector
	dedup            detection.Deduplicator
	parallel         bool
	tolerateFailures bool
}

// NewEnsemble erstellt ein Ensemble aus den gegebenen Durchläufen
func NewEnsemble(dedup detection.Deduplicator, parallel, tolerateFailures bool, passes ...Detector) *Ensemble {
	return &Ensemble{
		passes:           passes,
		dedup:            dedup,
		parallel:         parallel,
		tolerateFailures: tolerateFailures,
	}
}

// Detect führt alle Durchläufe aus. Schlägt ein Durchlauf fehl und sind Fehler toleriert,
// trägt er nichts zum Ergebnis bei; andernfalls wird der Fehler zurückgegeben.
func (e *Ensemble) Detect(ctx context.Context, img gocv.Mat) ([]detection.Detection, error) {
	if img.Empty() {
		return nil, fmt.Errorf("cannot detect on an empty image")
	}

	results := make([][]detection.Detection, len(e.passes))
	run := func(ctx context.Context, i int) error {
		dets, err := e.passes[i].Detect(ctx, img)
		if err != nil {
			if e.tolerateFailures && ctx.Err() == nil {
				log.WithFields(log.Fields{
					"pass":  e.passes[i].Name(),
					"error": err,
				}).Warn("Erkennungsdurchlauf fehlgeschlagen, fahre ohne ihn fort")
				return nil
			}
			return fmt.Errorf("%s pass failed: %w", e.passes[i].Name(), err)
		}
		results[i] = dets
		return nil
	}

	if e.parallel && len(e.passes) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := range e.passes {
			g.Go(func() error { return run(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range e.passes {
			if err := run(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	width, height := img.Cols(), img.Rows()
	for i := range results {
		results[i] = detection.Sanitize(results[i], width, height)
	}
	// Ein einzelner Durchlauf (YOLO) hat bereits NMS angewendet und wird nicht zusammengeführt
	if len(results) == 1 {
		return results[0], nil
	}
	return e.dedup.Merge(results...), nil
}

// Passes gibt die Namen der Durchläufe in Reihenfolge zurück
func (e *Ensemble) Passes() []string {
	names := make([]string, len(e.passes))
	for i, p := range e.passes {
		names[i] = p.Name()
	}
	return names
}

// Stats liefert die Pool-Statistiken je Durchlauf
func (e *Ensemble) Stats() map[string]PoolStats {
	stats := make(map[string]PoolStats, len(e.passes))
	for _, p := range e.passes {
		stats[p.Name()] = p.Stats()
	}
	return stats
}

// Close gibt alle Durchläufe frei
func (e *Ensemble) Close() error {
	var errs []error
	for _, p := range e.passes {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
