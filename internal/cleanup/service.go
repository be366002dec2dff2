package cleanup

import (
	"context"
	"errors"
	"time"

	"crowdscope/internal/artifacts"
	"crowdscope/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Repository is the part of the persistence layer the cleanup needs.
type Repository interface {
	DeleteAnalysesBefore(cutoff time.Time) ([]models.Analysis, error)
}

// Result summarizes one cleanup cycle.
type Result struct {
	Analyses         int
	Artifacts        int
	ArtifactFailures int
}

// Service handles the automatic cleanup of old analyses and their heatmaps.
type Service struct {
	repo          Repository
	store         artifacts.Store
	retentionDays int
	checkInterval time.Duration
	now           func() time.Time
	stopChan      chan struct{} // Channel to signal stopping the background routine
	done          chan struct{}
}

// NewService creates a new cleanup service. It returns nil when retention is disabled.
func NewService(repo Repository, store artifacts.Store, retentionDays int, checkInterval time.Duration) *Service {
	if retentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0).")
		return nil
	}
	if repo == nil {
		log.Info("Automatic cleanup disabled: database is disabled")
		return nil
	}
	if checkInterval <= 0 {
		checkInterval = 24 * time.Hour
	}
	log.Infof("Initializing CleanupService: RetentionDays=%d, CheckInterval=%s", retentionDays, checkInterval)
	return &Service{
		repo:          repo,
		store:         store,
		retentionDays: retentionDays,
		checkInterval: checkInterval,
		now:           time.Now,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// StartBackgroundCleanup runs one cycle immediately and then every check interval.
func (s *Service) StartBackgroundCleanup() {
	if s == nil {
		return // cleanup disabled
	}
	log.Info("Starting background cleanup routine...")

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		s.RunCleanupCycle(context.Background())
		for {
			select {
			case <-ticker.C:
				log.Info("Running scheduled cleanup cycle...")
				s.RunCleanupCycle(context.Background())
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup signals the background routine to stop and waits for it.
func (s *Service) StopBackgroundCleanup() {
	if s == nil {
		return
	}
	select {
	case <-s.stopChan:
		return // already stopped
	default:
		close(s.stopChan)
	}
	<-s.done
}

// RunCleanupCycle deletes analyses older than the retention period and then their heatmaps.
// A heatmap that is already gone counts as deleted.
func (s *Service) RunCleanupCycle(ctx context.Context) Result {
	var res Result
	if s == nil {
		return res
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	log.Infof("Cleanup: Deleting records older than %s", cutoff.Format(time.RFC3339))

	deleted, err := s.repo.DeleteAnalysesBefore(cutoff)
	if err != nil {
		log.Errorf("Cleanup: %v", err)
		return res
	}
	res.Analyses = len(deleted)
	if len(deleted) == 0 {
		log.Info("Cleanup: No old analyses found to delete.")
		return res
	}

	for _, a := range deleted {
		if a.HeatmapURL == nil || s.store == nil {
			continue
		}
		key := artifacts.KeyFromURL(*a.HeatmapURL)
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, artifacts.ErrNotFound) {
			log.Warnf("Cleanup: Failed to delete heatmap %s of analysis %d: %v", key, a.ID, err)
			res.ArtifactFailures++
			continue
		}
		res.Artifacts++
	}

	log.Infof("Cleanup cycle finished. Analyses: %d, heatmaps: %d, failed: %d",
		res.Analyses, res.Artifacts, res.ArtifactFailures)
	return res
}
