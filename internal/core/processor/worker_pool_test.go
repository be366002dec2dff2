package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crowdscope/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAnalyzer struct {
	running atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	err     error
}

func (a *countingAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	n := a.running.Add(1)
	defer a.running.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(a.delay)
	if a.err != nil {
		return nil, a.err
	}
	return &models.AnalysisResult{Record: &models.AnalysisRecord{CameraID: req.CameraID}}, nil
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	analyzer := &countingAnalyzer{delay: 20 * time.Millisecond}
	pool := NewWorkerPool(analyzer, 2)
	defer pool.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := pool.Analyze(context.Background(), models.AnalysisRequest{CameraID: i})
			assert.NoError(t, err)
			if assert.NotNil(t, res) {
				assert.Equal(t, i, res.Record.CameraID)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, analyzer.peak.Load(), int32(2))
	stats := pool.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, int64(8), stats.CompletedJobs)
	assert.Equal(t, 0, stats.ActiveJobs)
}

func TestWorkerPoolPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	pool := NewWorkerPool(&countingAnalyzer{err: boom}, 1)
	defer pool.Shutdown()

	_, err := pool.Analyze(context.Background(), models.AnalysisRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestWorkerPoolCancelledContext(t *testing.T) {
	pool := NewWorkerPool(&countingAnalyzer{}, 1)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Analyze(ctx, models.AnalysisRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(&countingAnalyzer{}, 1)
	pool.Shutdown()
	pool.Shutdown()

	_, err := pool.Analyze(context.Background(), models.AnalysisRequest{})
	require.ErrorIs(t, err, ErrPoolShutdown)
}
