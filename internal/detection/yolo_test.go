package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// yoloTensor baut einen [4+Klassen, Anker]-Ausgang aus Zeilen je Anker
func yoloTensor(classes int, anchors [][]float32) YOLOOutput {
	n := len(anchors)
	data := make([]float32, (4+classes)*n)
	for i, a := range anchors {
		for row, v := range a {
			data[row*n+i] = v
		}
	}
	return YOLOOutput{Data: data, NumClasses: classes, NumAnchors: n}
}

func TestParseYOLOv8(t *testing.T) {
	out := yoloTensor(3, [][]float32{
		{320, 320, 64, 128, 0.9, 0.1, 0.0}, // person
		{100, 100, 20, 20, 0.3, 0.0, 0.0},  // unter Schwelle
		{200, 200, 40, 40, 0.5, 0.8, 0.0},  // andere Klasse gewinnt
		{630, 630, 40, 40, 0.6, 0.0, 0.0},  // am Bildrand begrenzt
	})

	dets, err := ParseYOLOv8(out, YOLOParams{
		ClassID:       0,
		MinConfidence: 0.4,
		ScaleX:        1280.0 / 640.0,
		ScaleY:        960.0 / 640.0,
		FrameWidth:    1280,
		FrameHeight:   960,
	})
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, Box{X1: 576, Y1: 384, X2: 704, Y2: 576}, dets[0].Box)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, 1280, dets[1].Box.X2)
	assert.Equal(t, 960, dets[1].Box.Y2)
}

func TestParseYOLOv8ShapeErrors(t *testing.T) {
	_, err := ParseYOLOv8(YOLOOutput{Data: make([]float32, 10), NumClasses: 80, NumAnchors: 8400}, YOLOParams{})
	assert.Error(t, err)

	_, err = ParseYOLOv8(YOLOOutput{NumClasses: 0, NumAnchors: 1}, YOLOParams{})
	assert.Error(t, err)

	_, err = ParseYOLOv8(yoloTensor(2, [][]float32{{1, 1, 1, 1, 1, 0}}), YOLOParams{ClassID: 5})
	assert.Error(t, err)
}
