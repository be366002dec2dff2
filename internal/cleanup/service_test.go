package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"crowdscope/internal/artifacts"
	"crowdscope/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	cutoff  time.Time
	deleted []models.Analysis
	err     error
}

func (f *fakeRepo) DeleteAnalysesBefore(cutoff time.Time) ([]models.Analysis, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

func strPtr(s string) *string { return &s }

func TestNewServiceDisabled(t *testing.T) {
	assert.Nil(t, NewService(&fakeRepo{}, nil, 0, time.Hour))
	assert.Nil(t, NewService(nil, nil, 30, time.Hour))

	var s *Service
	s.StartBackgroundCleanup()
	s.StopBackgroundCleanup()
	assert.Equal(t, Result{}, s.RunCleanupCycle(context.Background()))
}

func TestRunCleanupCycleDeletesHeatmaps(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemoryStore(10, "/static")
	require.NoError(t, store.Put(ctx, "heatmap_a.jpg", []byte("a")))
	require.NoError(t, store.Put(ctx, "heatmap_keep.jpg", []byte("k")))

	repo := &fakeRepo{deleted: []models.Analysis{
		{ID: 1, HeatmapURL: strPtr("/static/heatmap_a.jpg")},
		{ID: 2, HeatmapURL: strPtr("/static/heatmap_gone.jpg")},
		{ID: 3},
	}}
	s := NewService(repo, store, 30, time.Hour)
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	res := s.RunCleanupCycle(ctx)
	assert.Equal(t, Result{Analyses: 3, Artifacts: 2}, res)
	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), repo.cutoff)

	_, err := store.Get(ctx, "heatmap_a.jpg")
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
	_, err = store.Get(ctx, "heatmap_keep.jpg")
	assert.NoError(t, err)
}

func TestRunCleanupCycleRepositoryError(t *testing.T) {
	s := NewService(&fakeRepo{err: errors.New("locked")}, nil, 7, time.Hour)
	assert.Equal(t, Result{}, s.RunCleanupCycle(context.Background()))
}

func TestBackgroundCleanupStops(t *testing.T) {
	repo := &fakeRepo{}
	s := NewService(repo, nil, 7, time.Hour)
	s.StartBackgroundCleanup()
	s.StopBackgroundCleanup()
	s.StopBackgroundCleanup()
	assert.False(t, repo.cutoff.IsZero())
}
