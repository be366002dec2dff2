package processor

import (
	"context"
	"fmt"
	"time"

	"crowdscope/internal/artifacts"
	"crowdscope/internal/core/models"
	"crowdscope/internal/db/repository"
	"crowdscope/internal/density"
	"crowdscope/internal/detection"
	"crowdscope/internal/integrations/opencv"
	"crowdscope/internal/util/timezone"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// FrameDetector liefert die deduplizierte Detektionsmenge eines Bildes
type FrameDetector interface {
	Detect(ctx context.Context, img gocv.Mat) ([]detection.Detection, error)
}

// HeatmapRenderer erzeugt das Heatmap-JPEG eines Bildes
type HeatmapRenderer interface {
	Render(img gocv.Mat, dets []detection.Detection) ([]byte, error)
}

// Recorder speichert ein Analyseergebnis
type Recorder interface {
	RecordAnalysis(rec *models.AnalysisRecord, opts repository.RecordOptions) (*models.Analysis, error)
}

// Publisher verteilt fertige Analysen (SSE, MQTT, ...)
type Publisher interface {
	PublishAnalysis(res *models.AnalysisResult)
}

// Options enthält die Abhängigkeiten des ImageProcessor. Renderer, Store und
// Recorder sind optional.
type Options struct {
	Detector   FrameDetector
	Estimator  density.Estimator
	Renderer   HeatmapRenderer
	Store      artifacts.Store
	Recorder   Recorder
	RecordOpts repository.RecordOptions
	Publishers []Publisher
}

// ImageProcessor führt die Analyse eines einzelnen Bildes aus:
// Dekodieren, Erkennen, Dichte, Heatmap, Ergebnis, Speichern
type ImageProcessor struct {
	detector   FrameDetector
	estimator  density.Estimator
	renderer   HeatmapRenderer
	store      artifacts.Store
	recorder   Recorder
	recordOpts repository.RecordOptions
	publishers []Publisher
	now        func() time.Time
}

// NewImageProcessor erstellt einen neuen Bildverarbeitungsprozessor
func NewImageProcessor(opts Options) (*ImageProcessor, error) {
	if opts.Detector == nil {
		return nil, fmt.Errorf("image processor requires a detector")
	}
	if opts.Estimator == nil {
		opts.Estimator = density.AreaRatio{}
	}
	if opts.Renderer != nil && opts.Store == nil {
		return nil, fmt.Errorf("heatmap renderer configured without artifact store")
	}
	return &ImageProcessor{
		detector:   opts.Detector,
		estimator:  opts.Estimator,
		renderer:   opts.Renderer,
		store:      opts.Store,
		recorder:   opts.Recorder,
		recordOpts: opts.RecordOpts,
		publishers: opts.Publishers,
		now:        timezone.Now,
	}, nil
}

// AddPublisher registriert einen weiteren Empfänger für fertige Analysen
func (p *ImageProcessor) AddPublisher(pub Publisher) {
	p.publishers = append(p.publishers, pub)
}

// Analyze verarbeitet ein Bild synchron. Ungültige Bilddaten ergeben einen *opencv.DecodeError;
// Fehler beim Heatmap-Schreiben und beim Speichern werden nur protokolliert.
func (p *ImageProcessor) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	start := time.Now()
	req.Normalize()
	requestID := uuid.NewString()

	logger := log.WithFields(log.Fields{
		"request_id": requestID,
		"camera_id":  req.CameraID,
		"zone":       req.LocationZone,
		"source":     req.Source,
	})

	img, err := opencv.Decode(req.Image)
	if err != nil {
		logger.Warnf("Rejected image: %v", err)
		return nil, err
	}
	defer img.Close()

	// Ab hier läuft die Analyse zu Ende, auch wenn der Client nicht mehr wartet
	ctx = context.WithoutCancel(ctx)

	width, height := img.Cols(), img.Rows()

	dets, err := p.detector.Detect(ctx, img)
	if err != nil {
		logger.Errorf("Detection failed: %v", err)
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	if dets == nil {
		dets = []detection.Detection{}
	}

	est := p.estimator.Estimate(dets, width, height)
	timestamp := p.now()

	var heatmapURL *string
	if len(dets) > 0 && p.renderer != nil {
		heatmapURL = p.writeHeatmap(ctx, logger, img, dets, req, timestamp, requestID)
	}

	rec := &models.AnalysisRecord{
		RequestID:        requestID,
		CameraID:         req.CameraID,
		LocationZone:     req.LocationZone,
		PersonCount:      len(dets),
		CrowdDensity:     est.CrowdDensity,
		DensityLevel:     string(est.Level),
		DensityScore:     est.Score,
		Detections:       dets,
		HeatmapURL:       heatmapURL,
		ImageSizeBytes:   len(req.Image),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ImageResolution:  fmt.Sprintf("%dx%d", width, height),
		Timestamp:        timestamp,
	}

	result := &models.AnalysisResult{Record: rec}
	if p.recorder != nil {
		saved, err := p.recorder.RecordAnalysis(rec, p.recordOpts)
		if err != nil {
			logger.Errorf("Failed to save analysis: %v", err)
		} else {
			result.Saved = true
			result.ID = saved.ID
		}
	}

	logger.WithFields(log.Fields{
		"persons":  rec.PersonCount,
		"density":  density.Round2(rec.CrowdDensity),
		"level":    rec.DensityLevel,
		"duration": rec.ProcessingTimeMs,
		"saved":    result.Saved,
	}).Info("Analysis completed")

	for _, pub := range p.publishers {
		pub.PublishAnalysis(result)
	}

	return result, nil
}

func (p *ImageProcessor) writeHeatmap(ctx context.Context, logger *log.Entry, img gocv.Mat, dets []detection.Detection,
	req models.AnalysisRequest, ts time.Time, requestID string) *string {

	data, err := p.renderer.Render(img, dets)
	if err != nil {
		logger.Errorf("Failed to render heatmap: %v", err)
		return nil
	}

	key := artifacts.HeatmapKey(req.CameraID, req.LocationZone, ts, requestID)
	if err := p.store.Put(ctx, key, data); err != nil {
		logger.Errorf("Failed to store heatmap %s: %v", key, err)
		return nil
	}

	url := p.store.URL(key)
	return &url
}
