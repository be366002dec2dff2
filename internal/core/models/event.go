package models

import (
	"time"

	"crowdscope/internal/density"
)

// AnalysisEvent ist die kompakte Form einer Analyse für SSE und MQTT
type AnalysisEvent struct {
	ID           uint      `json:"id,omitempty"`
	RequestID    string    `json:"request_id"`
	CameraID     int       `json:"camera_id"`
	LocationZone string    `json:"location_zone"`
	PersonCount  int       `json:"person_count"`
	CrowdDensity float64   `json:"crowd_density"`
	DensityLevel string    `json:"density_level"`
	DensityScore int       `json:"density_score"`
	HeatmapURL   *string   `json:"heatmap_url"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewAnalysisEvent fasst ein Ergebnis zusammen, die Dichte auf zwei Stellen gerundet
func NewAnalysisEvent(res *AnalysisResult) AnalysisEvent {
	rec := res.Record
	return AnalysisEvent{
		ID:           res.ID,
		RequestID:    rec.RequestID,
		CameraID:     rec.CameraID,
		LocationZone: rec.LocationZone,
		PersonCount:  rec.PersonCount,
		CrowdDensity: density.Round2(rec.CrowdDensity),
		DensityLevel: rec.DensityLevel,
		DensityScore: rec.DensityScore,
		HeatmapURL:   rec.HeatmapURL,
		Timestamp:    rec.Timestamp,
	}
}
