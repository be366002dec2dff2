package processor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"crowdscope/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Analyzer analysiert ein einzelnes Bild
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// ErrPoolShutdown wird zurückgegeben, wenn der Pool keine Jobs mehr annimmt
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool begrenzt, wie viele CPU-intensive Analysen gleichzeitig laufen
type WorkerPool struct {
	analyzer        Analyzer
	jobs            chan *analysisJob
	workerCount     int
	activeJobs      int
	completedJobs   int64
	activeJobsMutex sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	wg              sync.WaitGroup
}

// analysisJob repräsentiert einen Analysejob
type analysisJob struct {
	ctx      context.Context
	req      models.AnalysisRequest
	resultCh chan analysisResult
}

type analysisResult struct {
	res *models.AnalysisResult
	err error
}

// WorkerStats beschreibt den Zustand des Pools
type WorkerStats struct {
	Workers       int   `json:"workers"`
	ActiveJobs    int   `json:"active_jobs"`
	QueuedJobs    int   `json:"queued_jobs"`
	QueueCapacity int   `json:"queue_capacity"`
	CompletedJobs int64 `json:"completed_jobs"`
}

// NewWorkerPool erstellt einen neuen Worker-Pool. workers <= 0 verwendet 75% der CPUs, mindestens 2.
func NewWorkerPool(analyzer Analyzer, workers int) *WorkerPool {
	if workers <= 0 {
		workers = max(2, (runtime.NumCPU()*3)/4)
	}

	log.Infof("Initializing analysis worker pool with %d workers", workers)

	pool := &WorkerPool{
		analyzer:    analyzer,
		jobs:        make(chan *analysisJob, workers*2),
		workerCount: workers,
		shutdown:    make(chan struct{}),
	}
	pool.startWorkers()
	return pool
}

func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debugf("Worker %d started", workerID)

			for {
				select {
				case job := <-p.jobs:
					p.run(workerID, job)
				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

func (p *WorkerPool) run(workerID int, job *analysisJob) {
	// Abgebrochene Anfragen nicht mehr verarbeiten
	if err := job.ctx.Err(); err != nil {
		job.resultCh <- analysisResult{err: err}
		return
	}

	p.activeJobsMutex.Lock()
	p.activeJobs++
	active := p.activeJobs
	p.activeJobsMutex.Unlock()

	log.Debugf("Worker %d analyzing image from %s (active jobs: %d)", workerID, job.req.Source, active)
	startTime := time.Now()

	res, err := p.analyzer.Analyze(job.ctx, job.req)

	p.activeJobsMutex.Lock()
	p.activeJobs--
	p.completedJobs++
	p.activeJobsMutex.Unlock()

	// resultCh ist gepuffert, der Sender blockiert nie
	job.resultCh <- analysisResult{res: res, err: err}
	log.Debugf("Worker %d completed analysis in %v", workerID, time.Since(startTime))
}

// Analyze reiht die Anfrage ein und wartet auf das Ergebnis
func (p *WorkerPool) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	resultCh := make(chan analysisResult, 1)
	job := &analysisJob{ctx: ctx, req: req, resultCh: resultCh}

	select {
	case <-p.shutdown:
		return nil, ErrPoolShutdown
	default:
	}

	select {
	case p.jobs <- job:
	case <-p.shutdown:
		return nil, ErrPoolShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-resultCh:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats gibt die aktuelle Auslastung zurück
func (p *WorkerPool) Stats() WorkerStats {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return WorkerStats{
		Workers:       p.workerCount,
		ActiveJobs:    p.activeJobs,
		QueuedJobs:    len(p.jobs),
		QueueCapacity: cap(p.jobs),
		CompletedJobs: p.completedJobs,
	}
}

// Shutdown nimmt keine neuen Jobs mehr an und wartet auf laufende Worker
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()
}
