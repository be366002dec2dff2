package opencv

import (
	"context"
	"fmt"
	"image"

	"crowdscope/config"
	"crowdscope/internal/detection"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// CascadePass ist ein Haar-Kaskaden-Durchlauf mit fester Konfidenz je Treffer
// (Kaskaden liefern keine eigenen Konfidenzwerte).
type CascadePass struct {
	name string
	cfg  config.CascadePassConfig
	pool *handlePool[*gocv.CascadeClassifier]
}

// NewCascadePass lädt poolSize unabhängige Klassifikatoren aus cfg.Path
func NewCascadePass(name string, cfg config.CascadePassConfig, poolSize int) (*CascadePass, error) {
	if !fileExists(cfg.Path) {
		return nil, fmt.Errorf("%w: cascade file not found: %s", ErrDetectorUnavailable, cfg.Path)
	}

	pool, err := newHandlePool(poolSize, func(int) (*gocv.CascadeClassifier, error) {
		c := gocv.NewCascadeClassifier()
		if !c.Load(cfg.Path) {
			c.Close()
			return nil, fmt.Errorf("konnte Kaskade nicht laden: %s", cfg.Path)
		}
		return &c, nil
	}, func(c *gocv.CascadeClassifier) {
		c.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}

	log.Infof("Kaskade %s geladen: %s (scale %.2f, minNeighbors %d, minSize %dx%d)",
		name, cfg.Path, cfg.ScaleFactor, cfg.MinNeighbors, cfg.MinSizeWidth, cfg.MinSizeHeight)

	return &CascadePass{name: name, cfg: cfg, pool: pool}, nil
}

// Name implementiert Detector
func (c *CascadePass) Name() string { return c.name }

// Detect sucht auf dem Graustufenbild nach Treffern
func (c *CascadePass) Detect(ctx context.Context, img gocv.Mat) ([]detection.Detection, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	classifier, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(classifier)

	rects := classifier.DetectMultiScaleWithParams(
		gray,
		c.cfg.ScaleFactor,
		c.cfg.MinNeighbors,
		0,
		image.Pt(c.cfg.MinSizeWidth, c.cfg.MinSizeHeight),
		image.Pt(0, 0),
	)

	dets := make([]detection.Detection, 0, len(rects))
	for _, r := range rects {
		box := detection.Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
		dets = append(dets, detection.New(box, c.cfg.Confidence))
	}

	log.Debugf("Kaskade %s: %d Treffer", c.name, len(dets))
	return dets, nil
}

// Stats implementiert Detector
func (c *CascadePass) Stats() PoolStats { return c.pool.Stats() }

// Close implementiert Detector
func (c *CascadePass) Close() error {
	c.pool.Close()
	return nil
}
