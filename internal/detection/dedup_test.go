package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetMergeKeepsFirstPass(t *testing.T) {
	full := []Detection{New(Box{100, 100, 180, 260}, 0.85)}
	upper := []Detection{New(Box{110, 105, 170, 200}, 0.75)}

	merged := OffsetDeduplicator{Threshold: 50}.Merge(full, upper)
	require.Len(t, merged, 1)
	assert.Equal(t, full[0], merged[0])
}

func TestOffsetMergeAppendsDistinctInPassOrder(t *testing.T) {
	full := []Detection{New(Box{100, 100, 180, 260}, 0.85)}
	upper := []Detection{
		New(Box{400, 200, 470, 340}, 0.75),
		New(Box{150, 100, 200, 200}, 0.75), // dx == 50, kein Duplikat
	}

	merged := OffsetDeduplicator{Threshold: 50}.Merge(full, upper)
	require.Len(t, merged, 3)
	assert.Equal(t, 100, merged[0].Box.X1)
	assert.Equal(t, 400, merged[1].Box.X1)
	assert.Equal(t, 150, merged[2].Box.X1)
}

func TestOffsetMergeRequiresBothAxes(t *testing.T) {
	a := []Detection{New(Box{100, 100, 180, 260}, 0.85)}
	b := []Detection{New(Box{110, 300, 180, 400}, 0.75)}
	assert.Len(t, OffsetDeduplicator{Threshold: 50}.Merge(a, b), 2)
}

func TestMergeIsIdempotent(t *testing.T) {
	passes := [][]Detection{
		{New(Box{0, 0, 40, 80}, 0.9), New(Box{30, 30, 90, 120}, 0.9), New(Box{200, 0, 260, 90}, 0.9)},
		{New(Box{10, 10, 50, 60}, 0.7), New(Box{300, 300, 340, 380}, 0.7), New(Box{240, 20, 280, 90}, 0.7)},
	}

	for _, d := range []Deduplicator{OffsetDeduplicator{Threshold: 50}, IoUDeduplicator{Threshold: 0.3}} {
		once := d.Merge(passes...)
		twice := d.Merge(once)
		assert.Equal(t, once, twice)
	}
}

func TestIoUMerge(t *testing.T) {
	a := []Detection{New(Box{0, 0, 100, 100}, 0.9)}
	b := []Detection{
		New(Box{10, 10, 100, 100}, 0.8), // IoU 0.81
		New(Box{40, 0, 140, 100}, 0.8),  // IoU 0.43
	}
	merged := IoUDeduplicator{Threshold: 0.5}.Merge(a, b)
	require.Len(t, merged, 2)
	assert.Equal(t, 40, merged[1].Box.X1)
}

func TestMergeEmpty(t *testing.T) {
	merged := OffsetDeduplicator{Threshold: 50}.Merge(nil, []Detection{})
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestNewDeduplicator(t *testing.T) {
	d, err := NewDeduplicator("", 50, 0.5)
	require.NoError(t, err)
	assert.IsType(t, OffsetDeduplicator{}, d)

	d, err = NewDeduplicator(ModeIoU, 50, 0.5)
	require.NoError(t, err)
	assert.IsType(t, IoUDeduplicator{}, d)

	_, err = NewDeduplicator("nms", 50, 0.5)
	assert.Error(t, err)
	_, err = NewDeduplicator(ModeOffset, 0, 0.5)
	assert.Error(t, err)
	_, err = NewDeduplicator(ModeIoU, 50, 1.5)
	assert.Error(t, err)
}
