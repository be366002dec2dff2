package opencv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AcquireTimeout begrenzt das Warten auf ein freies Handle.
const AcquireTimeout = 30 * time.Second

// ErrPoolClosed wird zurückgegeben, wenn der Pool bereits geschlossen ist
var ErrPoolClosed = errors.New("handle pool is closed")

// handlePool verwaltet eine feste Anzahl unabhängig geladener, nicht
// reentranter OpenCV/ONNX-Handles (Net, CascadeClassifier, Session).
type handlePool[T any] struct {
	handles chan T
	size    int
	destroy func(T)

	mu     sync.Mutex
	closed bool

	metricsMu     sync.RWMutex
	inUse         int
	totalAcquired int64
	timeouts      int64
}

// PoolStats beschreibt die Auslastung eines Pools
type PoolStats struct {
	Size          int   `json:"size"`
	InUse         int   `json:"in_use"`
	TotalAcquired int64 `json:"total_acquired"`
	Timeouts      int64 `json:"timeouts"`
}

// newHandlePool lädt size Handles über load. Schlägt ein Ladevorgang fehl,
// werden die bereits geladenen Handles wieder freigegeben.
func newHandlePool[T any](size int, load func(i int) (T, error), destroy func(T)) (*handlePool[T], error) {
	if size <= 0 {
		size = 1
	}
	p := &handlePool[T]{
		handles: make(chan T, size),
		size:    size,
		destroy: destroy,
	}
	for i := 0; i < size; i++ {
		h, err := load(i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to load handle %d: %w", i, err)
		}
		p.handles <- h
	}
	return p, nil
}

// Acquire holt ein freies Handle oder wartet, bis eines frei wird
func (p *handlePool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return zero, ErrPoolClosed
	}

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case h, ok := <-p.handles:
		if !ok {
			return zero, ErrPoolClosed
		}
		p.metricsMu.Lock()
		p.inUse++
		p.totalAcquired++
		p.metricsMu.Unlock()
		return h, nil
	case <-timer.C:
		p.metricsMu.Lock()
		p.timeouts++
		p.metricsMu.Unlock()
		return zero, fmt.Errorf("timeout waiting for a free detector handle")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release gibt ein Handle an den Pool zurück
func (p *handlePool[T]) Release(h T) {
	p.metricsMu.Lock()
	p.inUse--
	p.metricsMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.destroy(h)
		return
	}
	p.handles <- h
}

// Stats liefert eine Momentaufnahme der Pool-Metriken
func (p *handlePool[T]) Stats() PoolStats {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return PoolStats{
		Size:          p.size,
		InUse:         p.inUse,
		TotalAcquired: p.totalAcquired,
		Timeouts:      p.timeouts,
	}
}

// Close gibt alle freien Handles frei. Ausgeliehene Handles werden bei Release freigegeben.
func (p *handlePool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.handles)
	for h := range p.handles {
		p.destroy(h)
	}
}
