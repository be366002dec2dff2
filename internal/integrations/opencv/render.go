package opencv

import (
	"fmt"
	"image"
	"image/color"

	"crowdscope/config"
	"crowdscope/internal/detection"
	"crowdscope/internal/heatmap"

	gocv "gocv.io/x/gocv"
)

var (
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	labelScale = 0.5
)

// HeatmapRenderer erzeugt das eingefärbte, überlagerte und beschriftete Heatmap-JPEG
type HeatmapRenderer struct {
	stamp      string
	blurKernel int
	alpha      float64
	quality    int
}

// NewHeatmapRenderer übernimmt die Heatmap-Konfiguration
func NewHeatmapRenderer(cfg config.HeatmapConfig) (*HeatmapRenderer, error) {
	switch cfg.Stamp {
	case "", heatmap.StampDisc, heatmap.StampRect:
	default:
		return nil, fmt.Errorf("unknown heatmap stamp %q", cfg.Stamp)
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		return nil, fmt.Errorf("heatmap alpha must be in (0,1), got %v", cfg.Alpha)
	}
	quality := cfg.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &HeatmapRenderer{
		stamp:      cfg.Stamp,
		blurKernel: heatmap.OddKernel(cfg.BlurKernel),
		alpha:      cfg.Alpha,
		quality:    quality,
	}, nil
}

// Render zeichnet die Heatmap über img und gibt das JPEG zurück. img bleibt unverändert.
func (r *HeatmapRenderer) Render(img gocv.Mat, dets []detection.Detection) ([]byte, error) {
	width, height := img.Cols(), img.Rows()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("cannot render heatmap on an empty image")
	}

	// 1-4: Intensitätsfeld direkt im Speicher der Matrix aufbauen
	intensity := gocv.Zeros(height, width, gocv.MatTypeCV32F)
	defer intensity.Close()
	if err := r.stampInto(&intensity, dets); err != nil {
		return nil, err
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(intensity, &blurred, image.Pt(r.blurKernel, r.blurKernel), 0, 0, gocv.BorderDefault)

	data, err := blurred.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to access heatmap buffer: %w", err)
	}
	field, err := heatmap.Wrap(width, height, data)
	if err != nil {
		return nil, err
	}
	field.Normalize()

	// 5: Farbskala
	gray := gocv.NewMat()
	defer gray.Close()
	blurred.ConvertToWithParams(&gray, gocv.MatTypeCV8U, 255, 0)

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(gray, &colored, gocv.ColormapJet)

	// 6: Überlagerung
	overlay := gocv.NewMat()
	defer overlay.Close()
	gocv.AddWeighted(img, 1-r.alpha, colored, r.alpha, 0, &overlay)

	// 7: Boxen und Beschriftung
	for _, d := range dets {
		rect := image.Rect(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
		gocv.Rectangle(&overlay, rect, boxColor, 2)
		label := fmt.Sprintf("Person %.2f", d.Confidence)
		gocv.PutText(&overlay, label, image.Pt(d.Box.X1, d.Box.Y1-10), gocv.FontHersheySimplex, labelScale, boxColor, 2)
	}

	// 8: JPEG
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, overlay, []int{gocv.IMWriteJpegQuality, r.quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode heatmap: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func (r *HeatmapRenderer) stampInto(m *gocv.Mat, dets []detection.Detection) error {
	data, err := m.DataPtrFloat32()
	if err != nil {
		return fmt.Errorf("failed to access heatmap buffer: %w", err)
	}
	field, err := heatmap.Wrap(m.Cols(), m.Rows(), data)
	if err != nil {
		return err
	}
	return field.Stamp(r.stamp, dets)
}
