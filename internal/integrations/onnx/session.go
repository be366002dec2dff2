// Package onnx führt das YOLOv8-Personenmodell über ONNX Runtime aus.
package onnx

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// AcquireTimeout begrenzt das Warten auf eine freie Session
const AcquireTimeout = 30 * time.Second

var envOnce sync.Once
var envErr error

// InitEnvironment lädt die ONNX-Runtime-Bibliothek einmal pro Prozess
func InitEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// ModelSession ist ein geladenes Modell mit gebundenen Ein- und Ausgabetensoren.
// Nicht für gleichzeitige Nutzung geeignet.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// Destroy gibt Session und Tensoren frei
func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// Options beschreibt die Modellgeometrie
type Options struct {
	ModelPath  string
	InputSize  int
	NumClasses int
	PoolSize   int
}

func (o Options) numAnchors() int {
	// YOLOv8-Köpfe mit Strides 8, 16 und 32
	s := o.InputSize
	return (s/8)*(s/8) + (s/16)*(s/16) + (s/32)*(s/32)
}

func initSession(o Options) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(1)

	inputShape := ort.NewShape(1, 3, int64(o.InputSize), int64(o.InputSize))
	outputShape := ort.NewShape(1, int64(4+o.NumClasses), int64(o.numAnchors()))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		o.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{Session: session, Input: inputTensor, Output: outputTensor}, nil
}

// SessionPool verteilt unabhängig geladene Sessions
type SessionPool struct {
	sessions chan *ModelSession
	opts     Options

	mu     sync.Mutex
	closed bool

	metricsMu     sync.RWMutex
	inUse         int
	totalAcquired int64
	timeouts      int64
}

// PoolMetrics ist eine Momentaufnahme der Pool-Auslastung
type PoolMetrics struct {
	Size          int
	InUse         int
	TotalAcquired int64
	Timeouts      int64
}

// NewSessionPool lädt opts.PoolSize Sessions. InitEnvironment muss vorher gelaufen sein.
func NewSessionPool(opts Options) (*SessionPool, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if opts.InputSize <= 0 || opts.InputSize%32 != 0 {
		return nil, fmt.Errorf("input size must be a positive multiple of 32, got %d", opts.InputSize)
	}

	pool := &SessionPool{
		sessions: make(chan *ModelSession, opts.PoolSize),
		opts:     opts,
	}
	for i := 0; i < opts.PoolSize; i++ {
		s, err := initSession(opts)
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- s
	}

	log.WithFields(log.Fields{
		"model":     opts.ModelPath,
		"pool_size": opts.PoolSize,
		"anchors":   opts.numAnchors(),
	}).Info("ONNX Runtime sessions ready")
	return pool, nil
}

// Acquire holt eine freie Session und wartet höchstens AcquireTimeout
func (p *SessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("pool is closed")
	}

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case s, ok := <-p.sessions:
		if !ok {
			return nil, fmt.Errorf("pool is closed")
		}
		p.metricsMu.Lock()
		p.inUse++
		p.totalAcquired++
		p.metricsMu.Unlock()
		return s, nil
	case <-timer.C:
		p.metricsMu.Lock()
		p.timeouts++
		p.metricsMu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release gibt eine Session an den Pool zurück
func (p *SessionPool) Release(s *ModelSession) {
	p.metricsMu.Lock()
	p.inUse--
	p.metricsMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		s.Destroy()
		return
	}
	p.sessions <- s
}

func (p *SessionPool) Metrics() PoolMetrics {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return PoolMetrics{
		Size:          p.opts.PoolSize,
		InUse:         p.inUse,
		TotalAcquired: p.totalAcquired,
		Timeouts:      p.timeouts,
	}
}

// Destroy gibt alle freien Sessions frei
func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.sessions)
	for s := range p.sessions {
		s.Destroy()
	}
}

// Infer führt das Modell auf img aus und liefert eine Kopie des rohen Ausgangs
// [4+Klassen, Anker] samt Ankeranzahl.
func (p *SessionPool) Infer(ctx context.Context, img image.Image) ([]float32, int, error) {
	s, err := p.Acquire(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer p.Release(s)

	resized := imaging.Resize(img, p.opts.InputSize, p.opts.InputSize, imaging.Linear)
	FillInput(resized, s.Input.GetData(), p.opts.InputSize)

	if err := s.Session.Run(); err != nil {
		return nil, 0, fmt.Errorf("model inference: %w", err)
	}

	out := s.Output.GetData()
	head := make([]float32, len(out))
	copy(head, out)
	return head, p.opts.numAnchors(), nil
}

// FillInput schreibt img als planares RGB in [0,1] nach dst (NCHW, Batch 1)
func FillInput(img *image.NRGBA, dst []float32, size int) {
	plane := size * size
	for y := 0; y < size; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			px := row[x*4 : x*4+3]
			dst[i] = float32(px[0]) / 255.0
			dst[plane+i] = float32(px[1]) / 255.0
			dst[2*plane+i] = float32(px[2]) / 255.0
		}
	}
}
