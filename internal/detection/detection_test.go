package detection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxGeometry(t *testing.T) {
	b := Box{X1: 100, Y1: 100, X2: 180, Y2: 260}
	assert.Equal(t, 80, b.Width())
	assert.Equal(t, 160, b.Height())
	assert.Equal(t, 12800, b.Area())
	cx, cy := b.Center()
	assert.Equal(t, 140, cx)
	assert.Equal(t, 180, cy)

	assert.Equal(t, 0, Box{X1: 10, Y1: 10, X2: 10, Y2: 20}.Area())
}

func TestBoxClamp(t *testing.T) {
	b := Box{X1: -20, Y1: 400, X2: 700, Y2: 520}.Clamp(640, 480)
	assert.Equal(t, Box{X1: 0, Y1: 400, X2: 640, Y2: 480}, b)

	outside := Box{X1: 700, Y1: 10, X2: 800, Y2: 50}.Clamp(640, 480)
	assert.False(t, outside.Valid())
}

func TestBoxIoU(t *testing.T) {
	a := Box{0, 0, 10, 10}
	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.InDelta(t, 0.0, a.IoU(Box{20, 20, 30, 30}), 1e-9)
	// 5x10 Überlappung, Vereinigung 150
	assert.InDelta(t, 50.0/150.0, a.IoU(Box{5, 0, 15, 10}), 1e-9)
}

func TestSanitizeDropsDegenerate(t *testing.T) {
	dets := []Detection{
		New(Box{10, 10, 50, 90}, 0.9),
		New(Box{600, 10, 700, 90}, 0.8),
		New(Box{900, 10, 950, 90}, 0.7),
	}
	out := Sanitize(dets, 640, 480)
	require.Len(t, out, 2)
	assert.Equal(t, 640, out[1].Box.X2)
}

func TestNewClampsConfidence(t *testing.T) {
	assert.Equal(t, 1.0, New(Box{0, 0, 1, 1}, 1.7).Confidence)
	assert.Equal(t, 0.0, New(Box{0, 0, 1, 1}, -0.2).Confidence)
}

func TestDetectionJSON(t *testing.T) {
	d := New(Box{100, 100, 180, 260}, 0.85432)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"person","confidence":0.854,"bbox":[100,100,180,260],"center":[140,180],"area":12800}`, string(data))

	var back Detection
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d.Box, back.Box)
	assert.InDelta(t, 0.854, back.Confidence, 1e-9)
}

func TestTotalArea(t *testing.T) {
	dets := []Detection{
		New(Box{100, 100, 180, 260}, 0.85),
		New(Box{400, 200, 470, 340}, 0.85),
	}
	assert.Equal(t, 80*160+70*140, TotalArea(dets))
	assert.Equal(t, 0, TotalArea(nil))
}
