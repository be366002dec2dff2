package models

import (
	"fmt"
	"time"
)

// CrowdAlert wird angelegt, wenn eine Analyse den Alarm-Schwellwert erreicht.
// Alarme bleiben offen, bis sie aufgelöst werden.
type CrowdAlert struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AnalysisID   uint       `gorm:"index" json:"analysis_id"`
	CameraID     int        `gorm:"index:idx_alert_camera,priority:1;not null" json:"camera_id"`
	LocationZone string     `gorm:"size:100" json:"location_zone"`
	AlertType    string     `gorm:"size:50" json:"alert_type"` // Dichtestufe, z.B. "high"
	PersonCount  int        `json:"person_count"`
	CrowdDensity float64    `json:"crowd_density"`
	AlertMessage string     `json:"alert_message"`
	IsResolved   bool       `gorm:"index:idx_alert_unresolved,priority:1;default:false" json:"is_resolved"`
	ResolvedAt   *time.Time `json:"resolved_at"`
	CreatedAt    time.Time  `gorm:"index:idx_alert_camera,priority:2;index:idx_alert_unresolved,priority:2" json:"created_at"`
}

// TableName behält den Tabellennamen der bestehenden Installationen bei
func (CrowdAlert) TableName() string { return "iot_crowd_alerts" }

// NewCrowdAlert erstellt einen Alarm aus einer gespeicherten Analyse
func NewCrowdAlert(analysisID uint, r *AnalysisRecord) *CrowdAlert {
	return &CrowdAlert{
		AnalysisID:   analysisID,
		CameraID:     r.CameraID,
		LocationZone: r.LocationZone,
		AlertType:    r.DensityLevel,
		PersonCount:  r.PersonCount,
		CrowdDensity: r.CrowdDensity,
		AlertMessage: fmt.Sprintf("Crowd density %s at camera %d (%s): %d persons, %.2f%%",
			r.DensityLevel, r.CameraID, r.LocationZone, r.PersonCount, r.CrowdDensity),
		CreatedAt: r.Timestamp,
	}
}

// OccupancyLog hält die Änderung der Personenzahl je Kamera und Zone fest.
// Ein Anstieg zählt als Eintritt, ein Rückgang als Austritt.
type OccupancyLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	AnalysisID       uint      `gorm:"index" json:"analysis_id"`
	CameraID         int       `gorm:"index:idx_entry_camera,priority:1;not null" json:"camera_id"`
	LocationZone     string    `gorm:"size:100;index" json:"location_zone"`
	EntryCount       int       `gorm:"default:0" json:"entry_count"`
	ExitCount        int       `gorm:"default:0" json:"exit_count"`
	CurrentOccupancy int       `gorm:"default:0" json:"current_occupancy"`
	Timestamp        time.Time `gorm:"index:idx_entry_camera,priority:2" json:"timestamp"`
}

// TableName behält den Tabellennamen der bestehenden Installationen bei
func (OccupancyLog) TableName() string { return "iot_entry_exit_logs" }

// NextOccupancy berechnet den Logeintrag aus der vorherigen Belegung
func NextOccupancy(previous int, analysisID uint, r *AnalysisRecord) *OccupancyLog {
	entry := &OccupancyLog{
		AnalysisID:       analysisID,
		CameraID:         r.CameraID,
		LocationZone:     r.LocationZone,
		CurrentOccupancy: r.PersonCount,
		Timestamp:        r.Timestamp,
	}
	if diff := r.PersonCount - previous; diff > 0 {
		entry.EntryCount = diff
	} else {
		entry.ExitCount = -diff
	}
	return entry
}
