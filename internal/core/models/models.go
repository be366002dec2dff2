package models

import (
	"encoding/json"
	"fmt"
	"time"

	"crowdscope/internal/detection"

	"gorm.io/datatypes"
)

// DefaultLocationZone wird verwendet, wenn der Aufrufer keine Zone angibt
const DefaultLocationZone = "Unknown"

// Analysis ist die gespeicherte Form eines Analyseergebnisses
type Analysis struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	RequestID        string         `gorm:"size:36;uniqueIndex" json:"request_id"`
	CameraID         int            `gorm:"index;not null" json:"camera_id"`
	LocationZone     string         `gorm:"size:100;index" json:"location_zone"`
	PersonCount      int            `gorm:"index;default:0" json:"person_count"`
	CrowdDensity     float64        `gorm:"default:0" json:"crowd_density"`
	DensityLevel     string         `gorm:"size:20" json:"density_level"`
	DensityScore     int            `json:"density_score"`
	DetectionObjects datatypes.JSON `json:"detection_objects"` // JSON-Liste der Detektionen
	HeatmapURL       *string        `json:"heatmap_url"`
	ImageSize        int            `json:"image_size"`
	ImageResolution  string         `gorm:"size:20" json:"image_resolution"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
}

// TableName behält den Tabellennamen der bestehenden Installationen bei
func (Analysis) TableName() string { return "iot_ai_analysis" }

// AnalysisRequest ist ein einzelnes Bild mit optionalen Kamera-Metadaten
type AnalysisRequest struct {
	Image        []byte
	CameraID     int
	LocationZone string
	Source       string // "http", "esp32", "mqtt"
}

// Normalize setzt die Standardzone
func (r *AnalysisRequest) Normalize() {
	if r.LocationZone == "" {
		r.LocationZone = DefaultLocationZone
	}
}

// AnalysisRecord ist das unveränderliche Ergebnis einer Analyse
type AnalysisRecord struct {
	RequestID        string
	CameraID         int
	LocationZone     string
	PersonCount      int
	CrowdDensity     float64
	DensityLevel     string
	DensityScore     int
	Detections       []detection.Detection
	HeatmapURL       *string
	ImageSizeBytes   int
	ProcessingTimeMs int64
	ImageResolution  string
	Timestamp        time.Time
}

// ToAnalysis wandelt das Ergebnis in die Datenbankform um
func (r *AnalysisRecord) ToAnalysis() (*Analysis, error) {
	dets := r.Detections
	if dets == nil {
		dets = []detection.Detection{}
	}
	raw, err := json.Marshal(dets)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detections: %w", err)
	}
	return &Analysis{
		RequestID:        r.RequestID,
		CameraID:         r.CameraID,
		LocationZone:     r.LocationZone,
		PersonCount:      r.PersonCount,
		CrowdDensity:     r.CrowdDensity,
		DensityLevel:     r.DensityLevel,
		DensityScore:     r.DensityScore,
		DetectionObjects: datatypes.JSON(raw),
		HeatmapURL:       r.HeatmapURL,
		ImageSize:        r.ImageSizeBytes,
		ImageResolution:  r.ImageResolution,
		ProcessingTimeMs: r.ProcessingTimeMs,
		CreatedAt:        r.Timestamp,
	}, nil
}

// AnalysisResult ist ein Ergebnis samt Speicherstatus
type AnalysisResult struct {
	Record *AnalysisRecord
	Saved  bool
	ID     uint
}

// Statistics fasst den Datenbestand zusammen
type Statistics struct {
	TotalAnalyses  int64      `json:"total_analyses"`
	TotalPersons   int64      `json:"total_persons"`
	OpenAlerts     int64      `json:"open_alerts"`
	Cameras        int64      `json:"cameras"`
	LatestAnalysis *time.Time `json:"latest_analysis,omitempty"`
}
