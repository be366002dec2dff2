package opencv

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync/atomic"
	"testing"
	"time"

	"crowdscope/config"
	"crowdscope/internal/detection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gocv "gocv.io/x/gocv"
)

type fakePass struct {
	name   string
	dets   []detection.Detection
	err    error
	delay  time.Duration
	closed atomic.Bool
}

func (f *fakePass) Name() string { return f.name }

func (f *fakePass) Detect(ctx context.Context, img gocv.Mat) ([]detection.Detection, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.dets, f.err
}

func (f *fakePass) Stats() PoolStats { return PoolStats{Size: 1} }

func (f *fakePass) Close() error {
	f.closed.Store(true)
	return nil
}

func blank(t *testing.T, w, h int) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func box(x1, y1, x2, y2 int, conf float64) detection.Detection {
	return detection.New(detection.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, conf)
}

func TestDecode(t *testing.T) {
	_, err := Decode(nil)
	assert.True(t, IsDecodeError(err))

	_, err = Decode([]byte("definitely not a jpeg"))
	assert.True(t, IsDecodeError(err))

	src := image.NewRGBA(image.Rect(0, 0, 32, 24))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, nil))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, "32x24", Resolution(img))
	assert.Equal(t, 3, img.Channels())

	padded, err := Decode(append(append([]byte{}, buf.Bytes()...), 0, 0))
	require.NoError(t, err)
	padded.Close()
}

func TestDecodeRejectsTruncatedJPEG(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range src.Pix {
		src.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}))
	full := buf.Bytes()

	for name, data := range map[string][]byte{
		"header only": full[:20],
		"half scan":   full[:len(full)/2],
		"no eoi":      full[:len(full)-2],
	} {
		_, err := Decode(data)
		assert.True(t, IsDecodeError(err), name)
	}
}

func TestEnsembleMergesInPassOrder(t *testing.T) {
	full := &fakePass{name: "full", dets: []detection.Detection{box(100, 100, 200, 300, 0.8)}, delay: 20 * time.Millisecond}
	upper := &fakePass{name: "upper", dets: []detection.Detection{
		box(110, 105, 190, 200, 0.6),
		box(400, 100, 480, 250, 0.6),
	}}

	for _, parallel := range []bool{false, true} {
		e := NewEnsemble(detection.OffsetDeduplicator{Threshold: 50}, parallel, true, full, upper)
		got, err := e.Detect(context.Background(), blank(t, 640, 480))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, detection.Box{X1: 100, Y1: 100, X2: 200, Y2: 300}, got[0].Box)
		assert.Equal(t, detection.Box{X1: 400, Y1: 100, X2: 480, Y2: 250}, got[1].Box)
	}
}

func TestEnsembleSinglePassKeepsCloseBoxes(t *testing.T) {
	yolo := &fakePass{name: "yolo", dets: []detection.Detection{
		box(100, 100, 160, 260, 0.9),
		box(140, 110, 200, 270, 0.8),
	}}
	e := NewEnsemble(detection.OffsetDeduplicator{Threshold: 50}, true, true, yolo)
	got, err := e.Detect(context.Background(), blank(t, 640, 480))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 140, got[1].Box.X1)
}

func TestEnsembleToleratesFailedPass(t *testing.T) {
	boom := errors.New("model crashed")
	broken := &fakePass{name: "full", err: boom}
	ok := &fakePass{name: "upper", dets: []detection.Detection{box(10, 10, 60, 120, 0.6)}}

	e := NewEnsemble(detection.OffsetDeduplicator{Threshold: 50}, true, true, broken, ok)
	got, err := e.Detect(context.Background(), blank(t, 320, 240))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	strict := NewEnsemble(detection.OffsetDeduplicator{Threshold: 50}, false, false, broken, ok)
	_, err = strict.Detect(context.Background(), blank(t, 320, 240))
	assert.ErrorIs(t, err, boom)
}

func TestEnsembleClampsBoxes(t *testing.T) {
	p := &fakePass{name: "yolo", dets: []detection.Detection{
		box(-20, -10, 700, 500, 0.9),
		box(50, 50, 50, 90, 0.9),
	}}
	e := NewEnsemble(detection.IoUDeduplicator{Threshold: 0.5}, false, true, p)
	got, err := e.Detect(context.Background(), blank(t, 640, 480))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, detection.Box{X1: 0, Y1: 0, X2: 640, Y2: 480}, got[0].Box)
}

func TestEnsembleRejectsEmptyImage(t *testing.T) {
	e := NewEnsemble(detection.OffsetDeduplicator{Threshold: 50}, false, true, &fakePass{name: "x"})
	empty := gocv.NewMat()
	defer empty.Close()
	_, err := e.Detect(context.Background(), empty)
	assert.Error(t, err)
}

func TestEnsembleCloseAndStats(t *testing.T) {
	a, b := &fakePass{name: "a"}, &fakePass{name: "b"}
	e := NewEnsemble(detection.OffsetDeduplicator{Threshold: 50}, false, true, a, b)
	assert.Equal(t, []string{"a", "b"}, e.Passes())
	assert.Len(t, e.Stats(), 2)
	require.NoError(t, e.Close())
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
}

func TestHandlePool(t *testing.T) {
	destroyed := 0
	pool, err := newHandlePool(2, func(i int) (int, error) { return i, nil }, func(int) { destroyed++ })
	require.NoError(t, err)

	h1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Stats().InUse)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(h1)
	pool.Close()
	assert.Equal(t, 1, destroyed)
	pool.Release(h2)
	assert.Equal(t, 2, destroyed)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Equal(t, int64(2), pool.Stats().TotalAcquired)
}

func TestHandlePoolLoadFailure(t *testing.T) {
	destroyed := 0
	_, err := newHandlePool(3, func(i int) (int, error) {
		if i == 2 {
			return 0, errors.New("missing model")
		}
		return i, nil
	}, func(int) { destroyed++ })
	assert.Error(t, err)
	assert.Equal(t, 2, destroyed)
}

func TestRenderHeatmap(t *testing.T) {
	r, err := NewHeatmapRenderer(config.HeatmapConfig{Stamp: "disc", BlurKernel: 51, Alpha: 0.5, Quality: 85})
	require.NoError(t, err)

	img := blank(t, 320, 240)
	data, err := r.Render(img, []detection.Detection{box(20, 20, 120, 200, 0.7)})
	require.NoError(t, err)

	out, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, out.Bounds().Dx())
	assert.Equal(t, 240, out.Bounds().Dy())
}

func TestNewHeatmapRendererValidation(t *testing.T) {
	_, err := NewHeatmapRenderer(config.HeatmapConfig{Stamp: "star", Alpha: 0.5})
	assert.Error(t, err)
	_, err = NewHeatmapRenderer(config.HeatmapConfig{Stamp: "rect", Alpha: 1.5})
	assert.Error(t, err)
}
