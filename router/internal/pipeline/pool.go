package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sentinel errors for pool operations
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
)

// Pool is a bounded worker pool processing items of type T.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	// submitMu is held shared by Submit and exclusively by Stop, so the
	// work channel is never closed under a pending send.
	submitMu    sync.RWMutex
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	depth prometheus.Gauge
}

// PoolOption configures a Pool.
type PoolOption[T any] func(*Pool[T])

// WithQueueGauges reports queue depth and capacity through the given gauges.
func WithQueueGauges[T any](depth, capacity prometheus.Gauge) PoolOption[T] {
	return func(p *Pool[T]) {
		p.depth = depth
		if capacity != nil {
			capacity.Set(float64(p.queueSize))
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 8 workers and a
// queue of 1024.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...PoolOption[T]) *Pool[T] {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They exit when ctx is cancelled or the pool
// is stopped and drained.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit enqueues work, blocking while the queue is full. It returns early
// when ctx is cancelled or the pool stops.
func (p *Pool[T]) Submit(ctx context.Context, work T) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if err := p.state(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		p.setDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// TrySubmit enqueues work without blocking. A full queue drops the work.
func (p *Pool[T]) TrySubmit(work T) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if err := p.state(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		p.setDepth()
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

func (p *Pool[T]) state() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

// Stop refuses new work, lets the workers drain the queue and waits up to
// timeout for them to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.quitOnce.Do(func() { close(p.quit) })

	p.submitMu.Lock()
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.lifecycleMu.Unlock()
		p.submitMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()
	p.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.setDepth()
			if err := p.processor(ctx, work); err != nil {
				p.failed.Add(1)
			}
			p.processed.Add(1)
		}
	}
}

func (p *Pool[T]) setDepth() {
	if p.depth != nil {
		p.depth.Set(float64(len(p.workChan)))
	}
}
