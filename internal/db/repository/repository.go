package repository

import (
	"errors"
	"fmt"
	"time"

	"crowdscope/internal/core/models"
	"crowdscope/internal/density"

	"gorm.io/gorm"
)

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Analyse-Methoden
	RecordAnalysis(rec *models.AnalysisRecord, opts RecordOptions) (*models.Analysis, error)
	GetAnalysisByID(id uint) (*models.Analysis, error)
	ListAnalyses(filter AnalysisFilter) ([]models.Analysis, error)
	DeleteAnalysesBefore(cutoff time.Time) ([]models.Analysis, error)

	// Alarm-Methoden
	ListAlerts(unresolvedOnly bool, limit int) ([]models.CrowdAlert, error)
	ResolveAlert(id uint) (*models.CrowdAlert, error)

	// Belegungs-Methoden
	ListOccupancy(cameraID int, limit int) ([]models.OccupancyLog, error)

	// Statistik-Methoden
	GetStatistics() (models.Statistics, error)
}

// RecordOptions steuert die Nebenprodukte einer gespeicherten Analyse
type RecordOptions struct {
	AlertsEnabled bool
	AlertMinLevel density.Level // Alarm ab dieser Stufe

}

// AnalysisFilter schränkt ListAnalyses ein
type AnalysisFilter struct {
	CameraID *int
	Limit    int
}

// MaxListLimit begrenzt Listenabfragen
const MaxListLimit = 500

// GormRepository implementiert die Repository-Schnittstelle mit GORM (SQLite oder PostgreSQL)
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository erstellt eine neue Repository-Instanz
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// RecordAnalysis speichert die Analyse, ggf. einen Alarm und den Belegungseintrag in einer Transaktion
func (r *GormRepository) RecordAnalysis(rec *models.AnalysisRecord, opts RecordOptions) (*models.Analysis, error) {
	analysis, err := rec.ToAnalysis()
	if err != nil {
		return nil, err
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(analysis).Error; err != nil {
			return fmt.Errorf("failed to save analysis: %w", err)
		}

		if opts.AlertsEnabled && density.Level(rec.DensityLevel).AtLeast(opts.AlertMinLevel) {
			if err := tx.Create(models.NewCrowdAlert(analysis.ID, rec)).Error; err != nil {
				return fmt.Errorf("failed to save crowd alert: %w", err)
			}
		}

		var last models.OccupancyLog
		previous := 0
		res := tx.Where("camera_id = ? AND location_zone = ?", rec.CameraID, rec.LocationZone).
			Order("timestamp DESC, id DESC").Limit(1).Find(&last)
		if res.Error != nil {
			return fmt.Errorf("failed to load previous occupancy: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			previous = last.CurrentOccupancy
		}
		if err := tx.Create(models.NextOccupancy(previous, analysis.ID, rec)).Error; err != nil {
			return fmt.Errorf("failed to save occupancy log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// GetAnalysisByID holt eine Analyse anhand ihrer ID, nil wenn nicht vorhanden
func (r *GormRepository) GetAnalysisByID(id uint) (*models.Analysis, error) {
	var analysis models.Analysis
	result := r.db.First(&analysis, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &analysis, nil
}

// ListAnalyses holt die neuesten Analysen, optional für eine Kamera
func (r *GormRepository) ListAnalyses(filter AnalysisFilter) ([]models.Analysis, error) {
	var analyses []models.Analysis
	q := r.db.Order("created_at DESC, id DESC").Limit(clampLimit(filter.Limit))
	if filter.CameraID != nil {
		q = q.Where("camera_id = ?", *filter.CameraID)
	}
	if err := q.Find(&analyses).Error; err != nil {
		return nil, err
	}
	return analyses, nil
}

// DeleteAnalysesBefore löscht alte Analysen samt Belegungseinträgen und gibt die gelöschten zurück
func (r *GormRepository) DeleteAnalysesBefore(cutoff time.Time) ([]models.Analysis, error) {
	var old []models.Analysis
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("created_at < ?", cutoff).Find(&old).Error; err != nil {
			return err
		}
		if len(old) == 0 {
			return nil
		}
		ids := make([]uint, len(old))
		for i, a := range old {
			ids[i] = a.ID
		}
		if err := tx.Where("analysis_id IN ?", ids).Delete(&models.OccupancyLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("analysis_id IN ? AND is_resolved = ?", ids, true).Delete(&models.CrowdAlert{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Analysis{}, ids).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete old analyses: %w", err)
	}
	return old, nil
}

// ListAlerts holt die neuesten Alarme
func (r *GormRepository) ListAlerts(unresolvedOnly bool, limit int) ([]models.CrowdAlert, error) {
	var alerts []models.CrowdAlert
	q := r.db.Order("created_at DESC, id DESC").Limit(clampLimit(limit))
	if unresolvedOnly {
		q = q.Where("is_resolved = ?", false)
	}
	if err := q.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// ResolveAlert markiert einen Alarm als aufgelöst, nil wenn nicht vorhanden
func (r *GormRepository) ResolveAlert(id uint) (*models.CrowdAlert, error) {
	var alert models.CrowdAlert
	if err := r.db.First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if alert.IsResolved {
		return &alert, nil
	}
	now := time.Now()
	alert.IsResolved = true
	alert.ResolvedAt = &now
	if err := r.db.Model(&alert).Updates(map[string]interface{}{
		"is_resolved": true,
		"resolved_at": now,
	}).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListOccupancy holt die neuesten Belegungseinträge einer Kamera
func (r *GormRepository) ListOccupancy(cameraID int, limit int) ([]models.OccupancyLog, error) {
	var logs []models.OccupancyLog
	err := r.db.Where("camera_id = ?", cameraID).
		Order("timestamp DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// GetStatistics gibt Statistiken über die gespeicherten Daten zurück
func (r *GormRepository) GetStatistics() (models.Statistics, error) {
	var stats models.Statistics

	if err := r.db.Model(&models.Analysis{}).Count(&stats.TotalAnalyses).Error; err != nil {
		return stats, err
	}

	var persons struct{ Total int64 }
	if err := r.db.Model(&models.Analysis{}).Select("COALESCE(SUM(person_count), 0) AS total").Scan(&persons).Error; err != nil {
		return stats, err
	}
	stats.TotalPersons = persons.Total

	if err := r.db.Model(&models.CrowdAlert{}).Where("is_resolved = ?", false).Count(&stats.OpenAlerts).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&models.Analysis{}).Distinct("camera_id").Count(&stats.Cameras).Error; err != nil {
		return stats, err
	}

	var latest models.Analysis
	res := r.db.Order("created_at DESC").Limit(1).Find(&latest)
	if res.Error != nil {
		return stats, res.Error
	}
	if res.RowsAffected > 0 {
		stats.LatestAnalysis = &latest.CreatedAt
	}

	return stats, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
