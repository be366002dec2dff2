// Package density bewertet anhand der Erkennungen, wie voll ein Bild ist.
package density

import (
	"fmt"
	"math"

	"crowdscope/internal/detection"
)

// Level ist eine Dichtestufe
type Level string

const (
	LevelLow       Level = "low"
	LevelMediumLow Level = "medium-low"
	LevelMedium    Level = "medium"
	LevelHigh      Level = "high"
	LevelCritical  Level = "critical"
)

var levelRank = map[Level]int{
	LevelLow:       0,
	LevelMediumLow: 1,
	LevelMedium:    2,
	LevelHigh:      3,
	LevelCritical:  4,
}

// AtLeast meldet, ob l mindestens so hoch wie floor eingestuft ist. Die Stufen beider
// Formeln teilen sich eine Rangfolge, unbekannte Stufen zählen als low.
func (l Level) AtLeast(floor Level) bool {
	return levelRank[l] >= levelRank[floor]
}

// Formeln für New
const (
	FormulaAreaRatio    = "area_ratio"
	FormulaCountPerArea = "count_per_area"
)

type Result struct {
	CrowdDensity float64
	Level        Level
	Score        int
}

// Estimator berechnet aus den Erkennungen eine Dichte. Implementierungen sind seiteneffektfrei.
type Estimator interface {
	Name() string
	Estimate(dets []detection.Detection, width, height int) Result
}

type band struct {
	upper float64 // exklusiv
	level Level
	score int
}

// classify wählt das erste Band mit oberer Grenze über v, das letzte ist nach oben offen
func classify(v float64, bands []band) (Level, int) {
	for _, b := range bands {
		if v < b.upper {
			return b.level, b.score
		}
	}
	last := bands[len(bands)-1]
	return last.level, last.score
}

var areaRatioBands = []band{
	{5, LevelLow, 1},
	{15, LevelMediumLow, 3},
	{30, LevelMedium, 5},
	{50, LevelHigh, 7},
	{math.Inf(1), LevelCritical, 10},
}

var countPerAreaBands = []band{
	{0.5, LevelLow, 1},
	{1.5, LevelMedium, 2},
	{math.Inf(1), LevelHigh, 3},
}

// AreaRatio misst den von Boxen bedeckten Bildanteil in Prozent.
// Überlappungen zählen doppelt, Werte über 100 sind möglich.
type AreaRatio struct{}

func (AreaRatio) Name() string { return FormulaAreaRatio }

func (AreaRatio) Estimate(dets []detection.Detection, width, height int) Result {
	frame := width * height
	if frame <= 0 || len(dets) == 0 {
		return Result{Level: LevelLow, Score: 1}
	}
	v := 100 * float64(detection.TotalArea(dets)) / float64(frame)
	level, score := classify(v, areaRatioBands)
	return Result{CrowdDensity: v, Level: level, Score: score}
}

// CountPerArea zählt Personen je 10000 Quadratpixel
type CountPerArea struct{}

func (CountPerArea) Name() string { return FormulaCountPerArea }

func (CountPerArea) Estimate(dets []detection.Detection, width, height int) Result {
	frame := width * height
	if frame <= 0 || len(dets) == 0 {
		return Result{Level: LevelLow, Score: 1}
	}
	v := 10000 * float64(len(dets)) / float64(frame)
	level, score := classify(v, countPerAreaBands)
	return Result{CrowdDensity: v, Level: level, Score: score}
}

// New liefert den Estimator für die konfigurierte Formel
func New(formula string) (Estimator, error) {
	switch formula {
	case "", FormulaAreaRatio:
		return AreaRatio{}, nil
	case FormulaCountPerArea:
		return CountPerArea{}, nil
	default:
		return nil, fmt.Errorf("unknown density formula %q", formula)
	}
}

// Round2 rundet auf zwei Nachkommastellen
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
