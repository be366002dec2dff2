package opencv

import (
	"context"
	"fmt"
	"image"

	"crowdscope/config"
	"crowdscope/internal/detection"
	"crowdscope/internal/integrations/onnx"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// YOLO-Engines
const (
	EngineOpenCV      = "opencv"
	EngineONNXRuntime = "onnxruntime"
)

// yoloEngine liefert den rohen YOLOv8-Ausgabekopf [4+Klassen, Anker]
type yoloEngine interface {
	Infer(ctx context.Context, img gocv.Mat) (detection.YOLOOutput, error)
	Stats() PoolStats
	Close()
}

// YOLODetector erkennt Personen mit einem YOLOv8-Modell auf dem ganzen Bild
type YOLODetector struct {
	cfg    config.YOLOConfig
	engine yoloEngine
}

// NewYOLODetector lädt das Modell mit der konfigurierten Engine
func NewYOLODetector(cfg config.YOLOConfig, poolSize int) (*YOLODetector, error) {
	if !fileExists(cfg.ModelPath) {
		return nil, fmt.Errorf("%w: model not found: %s", ErrDetectorUnavailable, cfg.ModelPath)
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.NumClasses <= 0 {
		cfg.NumClasses = 80
	}

	var engine yoloEngine
	var err error
	switch cfg.Engine {
	case "", EngineOpenCV:
		engine, err = newDNNEngine(cfg, poolSize)
	case EngineONNXRuntime:
		engine, err = newORTEngine(cfg, poolSize)
	default:
		err = fmt.Errorf("unknown yolo engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}

	log.Infof("YOLO-Modell geladen: %s (Engine %s, Konfidenz %.2f)", cfg.ModelPath, cfg.Engine, cfg.ConfidenceThreshold)
	return &YOLODetector{cfg: cfg, engine: engine}, nil
}

// Name implementiert Detector
func (y *YOLODetector) Name() string { return MethodYOLO }

// Detect führt die Inferenz aus, filtert auf die Personenklasse und wendet NMS an
func (y *YOLODetector) Detect(ctx context.Context, img gocv.Mat) ([]detection.Detection, error) {
	out, err := y.engine.Infer(ctx, img)
	if err != nil {
		return nil, err
	}

	width, height := img.Cols(), img.Rows()
	candidates, err := detection.ParseYOLOv8(out, detection.YOLOParams{
		ClassID:       y.cfg.PersonClassID,
		MinConfidence: float32(y.cfg.ConfidenceThreshold),
		ScaleX:        float64(width) / float64(y.cfg.InputSize),
		ScaleY:        float64(height) / float64(y.cfg.InputSize),
		FrameWidth:    width,
		FrameHeight:   height,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		rects[i] = image.Rect(c.Box.X1, c.Box.Y1, c.Box.X2, c.Box.Y2)
		scores[i] = float32(c.Confidence)
	}
	keep := gocv.NMSBoxes(rects, scores, float32(y.cfg.ConfidenceThreshold), float32(y.cfg.NMSThreshold))

	dets := make([]detection.Detection, 0, len(keep))
	for _, idx := range keep {
		dets = append(dets, candidates[idx])
	}
	log.Debugf("YOLO: %d Kandidaten, %d nach NMS", len(candidates), len(dets))
	return dets, nil
}

// Stats implementiert Detector
func (y *YOLODetector) Stats() PoolStats { return y.engine.Stats() }

// Close implementiert Detector
func (y *YOLODetector) Close() error {
	y.engine.Close()
	return nil
}

// dnnEngine nutzt das OpenCV-DNN-Modul
type dnnEngine struct {
	cfg  config.YOLOConfig
	pool *handlePool[*gocv.Net]
}

func newDNNEngine(cfg config.YOLOConfig, poolSize int) (*dnnEngine, error) {
	backend, target := selectBackend(cfg.UseGPU)
	pool, err := newHandlePool(poolSize, func(int) (*gocv.Net, error) {
		net := gocv.ReadNetFromONNX(cfg.ModelPath)
		if net.Empty() {
			net.Close()
			return nil, fmt.Errorf("konnte DNN-Modell nicht laden: %s", cfg.ModelPath)
		}
		net.SetPreferableBackend(backend)
		net.SetPreferableTarget(target)
		return &net, nil
	}, func(n *gocv.Net) {
		n.Close()
	})
	if err != nil {
		return nil, err
	}
	return &dnnEngine{cfg: cfg, pool: pool}, nil
}

func (e *dnnEngine) Infer(ctx context.Context, img gocv.Mat) (detection.YOLOOutput, error) {
	size := e.cfg.InputSize
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	net, err := e.pool.Acquire(ctx)
	if err != nil {
		return detection.YOLOOutput{}, err
	}
	defer e.pool.Release(net)

	net.SetInput(blob, "")
	prob := net.Forward("")
	defer prob.Close()

	dims := prob.Size()
	if len(dims) != 3 || dims[1] != 4+e.cfg.NumClasses {
		return detection.YOLOOutput{}, fmt.Errorf("unexpected yolo output shape %v", dims)
	}
	data, err := prob.DataPtrFloat32()
	if err != nil {
		return detection.YOLOOutput{}, fmt.Errorf("failed to read yolo output: %w", err)
	}
	head := make([]float32, len(data))
	copy(head, data)

	return detection.YOLOOutput{Data: head, NumClasses: e.cfg.NumClasses, NumAnchors: dims[2]}, nil
}

func (e *dnnEngine) Stats() PoolStats { return e.pool.Stats() }

func (e *dnnEngine) Close() { e.pool.Close() }

// ortEngine nutzt ONNX Runtime; das Bild wird dafür in ein image.Image umgewandelt
type ortEngine struct {
	cfg  config.YOLOConfig
	pool *onnx.SessionPool
}

func newORTEngine(cfg config.YOLOConfig, poolSize int) (*ortEngine, error) {
	if err := onnx.InitEnvironment(cfg.RuntimeLibrary); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}
	pool, err := onnx.NewSessionPool(onnx.Options{
		ModelPath:  cfg.ModelPath,
		InputSize:  cfg.InputSize,
		NumClasses: cfg.NumClasses,
		PoolSize:   poolSize,
	})
	if err != nil {
		return nil, err
	}
	return &ortEngine{cfg: cfg, pool: pool}, nil
}

func (e *ortEngine) Infer(ctx context.Context, img gocv.Mat) (detection.YOLOOutput, error) {
	pic, err := img.ToImage()
	if err != nil {
		return detection.YOLOOutput{}, fmt.Errorf("failed to convert frame: %w", err)
	}
	head, anchors, err := e.pool.Infer(ctx, pic)
	if err != nil {
		return detection.YOLOOutput{}, err
	}
	return detection.YOLOOutput{Data: head, NumClasses: e.cfg.NumClasses, NumAnchors: anchors}, nil
}

func (e *ortEngine) Stats() PoolStats {
	m := e.pool.Metrics()
	return PoolStats{Size: m.Size, InUse: m.InUse, TotalAcquired: m.TotalAcquired, Timeouts: m.Timeouts}
}

func (e *ortEngine) Close() { e.pool.Destroy() }
