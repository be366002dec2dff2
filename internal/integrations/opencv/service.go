package opencv

import (
	"fmt"

	"crowdscope/config"
	"crowdscope/internal/detection"

	log "github.com/sirupsen/logrus"
)

// Namen der Kaskaden-Durchläufe, in Zusammenführungsreihenfolge
const (
	PassFullBody  = "full_body"
	PassUpperBody = "upper_body"
)

// NewEnsembleFromConfig lädt alle Modelle für die konfigurierte Methode.
// Jeder Ladefehler ist ein ErrDetectorUnavailable und soll den Start abbrechen.
func NewEnsembleFromConfig(cfg config.DetectorConfig) (*Ensemble, error) {
	dedup, err := detection.NewDeduplicator(cfg.Dedup.Mode, cfg.Dedup.OffsetPixels, cfg.Dedup.IoUThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid dedup configuration: %w", err)
	}

	log.Infof("Initialisiere Personenerkennung (Methode: %s, Pool: %d, Dedup: %s)",
		cfg.Method, cfg.PoolSize, cfg.Dedup.Mode)

	var passes []Detector
	switch cfg.Method {
	case MethodYOLO:
		y, err := NewYOLODetector(cfg.YOLO, cfg.PoolSize)
		if err != nil {
			return nil, err
		}
		passes = append(passes, y)

	case MethodCascade:
		full, err := NewCascadePass(PassFullBody, cfg.Cascade.FullBody, cfg.PoolSize)
		if err != nil {
			return nil, err
		}
		upper, err := NewCascadePass(PassUpperBody, cfg.Cascade.UpperBody, cfg.PoolSize)
		if err != nil {
			full.Close()
			return nil, err
		}
		passes = append(passes, full, upper)

	default:
		return nil, fmt.Errorf("%w: unknown detector method %q", ErrDetectorUnavailable, cfg.Method)
	}

	return NewEnsemble(dedup, cfg.Parallel, cfg.TolerateFailures, passes...), nil
}
