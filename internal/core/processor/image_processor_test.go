package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"crowdscope/config"
	"crowdscope/internal/artifacts"
	"crowdscope/internal/core/models"
	"crowdscope/internal/db/repository"
	"crowdscope/internal/density"
	"crowdscope/internal/detection"
	"crowdscope/internal/integrations/opencv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gocv "gocv.io/x/gocv"
)

func grayJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

type fixedDetector struct {
	dets []detection.Detection
	err  error
}

func (f fixedDetector) Detect(ctx context.Context, img gocv.Mat) ([]detection.Detection, error) {
	return f.dets, f.err
}

type memoryRecorder struct {
	records []*models.AnalysisRecord
	opts    repository.RecordOptions
	err     error
}

func (m *memoryRecorder) RecordAnalysis(rec *models.AnalysisRecord, opts repository.RecordOptions) (*models.Analysis, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.records = append(m.records, rec)
	m.opts = opts
	return &models.Analysis{ID: uint(len(m.records))}, nil
}

type capturePublisher struct{ got []*models.AnalysisResult }

func (c *capturePublisher) PublishAnalysis(res *models.AnalysisResult) { c.got = append(c.got, res) }

// failingStore hält sich wie der FS-Store an ctx und kann Put gezielt scheitern lassen
type failingStore struct {
	*artifacts.MemoryStore
	putErr error
}

func (s *failingStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.Put(ctx, key, data)
}

func newProcessor(t *testing.T, det FrameDetector, rec Recorder) (*ImageProcessor, *artifacts.MemoryStore, *capturePublisher) {
	t.Helper()
	store := artifacts.NewMemoryStore(10, "/static")
	p, pub := newProcessorWithStore(t, det, rec, store)
	return p, store, pub
}

func newProcessorWithStore(t *testing.T, det FrameDetector, rec Recorder, store artifacts.Store) (*ImageProcessor, *capturePublisher) {
	t.Helper()
	renderer, err := opencv.NewHeatmapRenderer(config.HeatmapConfig{
		Enabled: true, Stamp: "disc", BlurKernel: 51, Alpha: 0.5, Quality: 90,
	})
	require.NoError(t, err)
	pub := &capturePublisher{}
	p, err := NewImageProcessor(Options{
		Detector:   det,
		Estimator:  density.AreaRatio{},
		Renderer:   renderer,
		Store:      store,
		Recorder:   rec,
		RecordOpts: repository.RecordOptions{AlertsEnabled: true, AlertMinLevel: density.LevelHigh},
		Publishers: []Publisher{pub},
	})
	require.NoError(t, err)
	return p, pub
}

func TestAnalyzeEmptyGrayFrame(t *testing.T) {
	rec := &memoryRecorder{}
	p, store, pub := newProcessor(t, fixedDetector{}, rec)

	res, err := p.Analyze(context.Background(), models.AnalysisRequest{Image: grayJPEG(t, 640, 480)})
	require.NoError(t, err)

	r := res.Record
	assert.Equal(t, 0, r.PersonCount)
	assert.Equal(t, 0.0, r.CrowdDensity)
	assert.Equal(t, string(density.LevelLow), r.DensityLevel)
	assert.Nil(t, r.HeatmapURL)
	assert.Equal(t, "640x480", r.ImageResolution)
	assert.Equal(t, models.DefaultLocationZone, r.LocationZone)
	assert.NotEmpty(t, r.RequestID)
	assert.NotNil(t, r.Detections)
	assert.Equal(t, 0, store.Len())

	assert.True(t, res.Saved)
	assert.Equal(t, uint(1), res.ID)
	assert.Len(t, pub.got, 1)
}

func TestAnalyzeTwoPersons(t *testing.T) {
	det := fixedDetector{dets: []detection.Detection{
		detection.New(detection.Box{X1: 100, Y1: 100, X2: 180, Y2: 260}, 0.85),
		detection.New(detection.Box{X1: 400, Y1: 200, X2: 470, Y2: 340}, 0.85),
	}}
	rec := &memoryRecorder{}
	p, store, _ := newProcessor(t, det, rec)

	res, err := p.Analyze(context.Background(), models.AnalysisRequest{
		Image: grayJPEG(t, 640, 480), CameraID: 7, LocationZone: "Hall",
	})
	require.NoError(t, err)

	r := res.Record
	assert.Equal(t, 2, r.PersonCount)
	assert.InDelta(t, 7.36, density.Round2(r.CrowdDensity), 1e-9)
	assert.Equal(t, "medium-low", r.DensityLevel)
	assert.Equal(t, 3, r.DensityScore)
	require.NotNil(t, r.HeatmapURL)
	assert.Contains(t, *r.HeatmapURL, "/static/heatmap_7_Hall_")

	data, err := store.Get(context.Background(), artifacts.KeyFromURL(*r.HeatmapURL))
	require.NoError(t, err)
	out, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 640, out.Bounds().Dx())
	assert.Equal(t, 480, out.Bounds().Dy())

	require.Len(t, rec.records, 1)
	assert.Equal(t, density.LevelHigh, rec.opts.AlertMinLevel)
}

func TestAnalyzeDistinctHeatmapKeys(t *testing.T) {
	det := fixedDetector{dets: []detection.Detection{
		detection.New(detection.Box{X1: 10, Y1: 10, X2: 60, Y2: 120}, 0.9),
	}}
	p, store, _ := newProcessor(t, det, nil)

	img := grayJPEG(t, 320, 240)
	for i := 0; i < 3; i++ {
		res, err := p.Analyze(context.Background(), models.AnalysisRequest{Image: img, CameraID: 1})
		require.NoError(t, err)
		require.NotNil(t, res.Record.HeatmapURL)
		assert.False(t, res.Saved)
	}
	assert.Equal(t, 3, store.Len())
}

func TestAnalyzeMalformedInput(t *testing.T) {
	p, _, pub := newProcessor(t, fixedDetector{}, &memoryRecorder{})

	full := grayJPEG(t, 64, 64)
	inputs := map[string][]byte{
		"empty":     {},
		"text":      []byte("not an image"),
		"truncated": full[:20],
		"half scan": full[:len(full)/2],
	}
	for name, data := range inputs {
		_, err := p.Analyze(context.Background(), models.AnalysisRequest{Image: data})
		assert.True(t, opencv.IsDecodeError(err), name)
	}
	assert.Empty(t, pub.got)
}

func TestAnalyzePersistenceFailureDegrades(t *testing.T) {
	p, _, _ := newProcessor(t, fixedDetector{}, &memoryRecorder{err: errors.New("db down")})

	res, err := p.Analyze(context.Background(), models.AnalysisRequest{Image: grayJPEG(t, 64, 64)})
	require.NoError(t, err)
	assert.False(t, res.Saved)
	assert.Zero(t, res.ID)
}

func twoPersons() fixedDetector {
	return fixedDetector{dets: []detection.Detection{
		detection.New(detection.Box{X1: 100, Y1: 100, X2: 180, Y2: 260}, 0.85),
		detection.New(detection.Box{X1: 400, Y1: 200, X2: 470, Y2: 340}, 0.85),
	}}
}

func TestAnalyzeHeatmapWriteFailureDegrades(t *testing.T) {
	rec := &memoryRecorder{}
	store := &failingStore{MemoryStore: artifacts.NewMemoryStore(10, "/static"), putErr: errors.New("disk full")}
	p, pub := newProcessorWithStore(t, twoPersons(), rec, store)

	res, err := p.Analyze(context.Background(), models.AnalysisRequest{Image: grayJPEG(t, 640, 480)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Record.PersonCount)
	assert.Nil(t, res.Record.HeatmapURL)
	assert.True(t, res.Saved)
	require.Len(t, rec.records, 1)
	assert.Nil(t, rec.records[0].HeatmapURL)
	assert.Len(t, pub.got, 1)
	assert.Equal(t, 0, store.Len())
}

func TestAnalyzeRunsToCompletionAfterCancel(t *testing.T) {
	rec := &memoryRecorder{}
	store := &failingStore{MemoryStore: artifacts.NewMemoryStore(10, "/static")}
	p, _ := newProcessorWithStore(t, twoPersons(), rec, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.Analyze(ctx, models.AnalysisRequest{Image: grayJPEG(t, 640, 480)})
	require.NoError(t, err)
	assert.NotNil(t, res.Record.HeatmapURL)
	assert.True(t, res.Saved)
	assert.Equal(t, 1, store.Len())
}

func TestAnalyzeDetectorFailure(t *testing.T) {
	boom := errors.New("net exploded")
	p, _, _ := newProcessor(t, fixedDetector{err: boom}, nil)

	_, err := p.Analyze(context.Background(), models.AnalysisRequest{Image: grayJPEG(t, 64, 64)})
	assert.ErrorIs(t, err, boom)
}

func TestNewImageProcessorValidation(t *testing.T) {
	_, err := NewImageProcessor(Options{})
	assert.Error(t, err)

	renderer, err := opencv.NewHeatmapRenderer(config.HeatmapConfig{Stamp: "rect", BlurKernel: 50, Alpha: 0.4})
	require.NoError(t, err)
	_, err = NewImageProcessor(Options{Detector: fixedDetector{}, Renderer: renderer})
	assert.Error(t, err)
}
