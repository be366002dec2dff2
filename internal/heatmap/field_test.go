package heatmap

import (
	"testing"

	"crowdscope/internal/detection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscRadius(t *testing.T) {
	assert.Equal(t, 50, DiscRadius(detection.Box{X1: 0, Y1: 0, X2: 20, Y2: 30}))
	assert.Equal(t, 128, DiscRadius(detection.Box{X1: 100, Y1: 100, X2: 180, Y2: 260}))
	assert.Equal(t, 200, DiscRadius(detection.Box{X1: 0, Y1: 0, X2: 300, Y2: 400}))
}

func TestStampDisc(t *testing.T) {
	f := NewField(200, 200)
	f.StampDisc(100, 100, 50)

	assert.Equal(t, float32(1), f.At(100, 100))
	assert.Equal(t, float32(1), f.At(150, 100))
	assert.Equal(t, float32(0), f.At(151, 100))
	assert.Equal(t, float32(0), f.At(140, 140))

	// überlappende Scheiben sättigen bei 1
	f.StampDisc(110, 100, 50)
	assert.Equal(t, float32(1), f.Max())
}

func TestStampDiscClipsAtEdges(t *testing.T) {
	f := NewField(60, 40)
	f.StampDisc(0, 0, 100)
	assert.Equal(t, float32(1), f.At(59, 39))
}

func TestAddRect(t *testing.T) {
	f := NewField(10, 10)
	f.AddRect(detection.Box{X1: 2, Y1: 2, X2: 6, Y2: 6})
	f.AddRect(detection.Box{X1: 4, Y1: 4, X2: 20, Y2: 20})

	assert.Equal(t, float32(0), f.At(1, 1))
	assert.Equal(t, float32(1), f.At(2, 2))
	assert.Equal(t, float32(2), f.At(5, 5))
	assert.Equal(t, float32(1), f.At(9, 9))
	assert.Equal(t, float32(0), f.At(6, 2))
}

func TestNormalize(t *testing.T) {
	f := NewField(10, 10)
	f.AddRect(detection.Box{X1: 0, Y1: 0, X2: 5, Y2: 5})
	f.AddRect(detection.Box{X1: 0, Y1: 0, X2: 2, Y2: 2})
	f.Normalize()
	assert.Equal(t, float32(1), f.At(0, 0))
	assert.Equal(t, float32(0.5), f.At(3, 3))

	empty := NewField(4, 4)
	empty.Normalize()
	assert.Equal(t, float32(0), empty.Max())
}

func TestStampModes(t *testing.T) {
	dets := []detection.Detection{detection.New(detection.Box{X1: 10, Y1: 10, X2: 20, Y2: 30}, 0.9)}

	disc := NewField(100, 100)
	require.NoError(t, disc.Stamp(StampDisc, dets))
	assert.Equal(t, float32(1), disc.At(15, 70))

	rect := NewField(100, 100)
	require.NoError(t, rect.Stamp(StampRect, dets))
	assert.Equal(t, float32(0), rect.At(15, 70))
	assert.Equal(t, float32(1), rect.At(15, 15))

	assert.Error(t, NewField(1, 1).Stamp("gauss", dets))
}

func TestWrap(t *testing.T) {
	buf := make([]float32, 12)
	f, err := Wrap(4, 3, buf)
	require.NoError(t, err)
	f.StampDisc(0, 0, 0)
	assert.Equal(t, float32(1), buf[0])

	_, err = Wrap(4, 4, buf)
	assert.Error(t, err)
}

func TestOddKernel(t *testing.T) {
	assert.Equal(t, 51, OddKernel(51))
	assert.Equal(t, 51, OddKernel(50))
	assert.Equal(t, 1, OddKernel(0))
	assert.Equal(t, 1, OddKernel(-3))
}
