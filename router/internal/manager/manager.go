// Package manager owns the routing engine currently in use and replaces it
// when the stream catalog changes.
package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/engine"
	"github.com/telhawk-systems/telhawk-router/router/internal/faults"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// Catalog supplies the enabled streams with their rules attached.
type Catalog interface {
	LoadEnabledStreams(ctx context.Context) ([]*streams.Stream, error)
}

// Manager publishes immutable engines through an atomic pointer. Readers
// call Current without blocking; rebuilds run one at a time.
type Manager struct {
	catalog Catalog
	metrics *metrics.Metrics
	logger  *logging.Logger

	current  atomic.Pointer[engine.Engine]
	requests chan struct{}

	// rebuildMu serializes rebuilds; generation is only touched under it.
	rebuildMu  sync.Mutex
	generation uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics sets the metrics the manager records.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(mgr *Manager) {
		mgr.logger = l
	}
}

// New builds the first engine from catalog before returning. A catalog
// that cannot be read is a startup fault.
func New(ctx context.Context, catalog Catalog, opts ...Option) (*Manager, error) {
	if catalog == nil {
		return nil, faults.New(faults.Startup, "manager.new", errors.New("catalog is nil"))
	}

	m := &Manager{
		catalog:  catalog,
		requests: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewUnregistered()
	}
	m.logger = logging.OrDefault(m.logger)

	if _, err := m.Rebuild(ctx); err != nil {
		return nil, faults.New(faults.Startup, "manager.new", err)
	}
	return m, nil
}

// Current returns the engine in use. It never returns nil after New succeeds.
func (m *Manager) Current() *engine.Engine {
	return m.current.Load()
}

// Notify requests a rebuild without blocking. Requests made while one is
// already pending collapse into it.
func (m *Manager) Notify() {
	select {
	case m.requests <- struct{}{}:
	default:
	}
}

// Run executes requested rebuilds until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.requests:
			if _, err := m.Rebuild(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Watch turns every value received on changes into a rebuild request. It
// returns when ctx is done or changes is closed.
func (m *Manager) Watch(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			m.Notify()
		}
	}
}

// Rebuild reads the whole catalog, builds a new engine and publishes it.
// On failure the current engine stays in place and a rebuild fault is
// returned.
func (m *Manager) Rebuild(ctx context.Context) (*engine.Engine, error) {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	start := time.Now()

	defs, err := m.catalog.LoadEnabledStreams(ctx)
	if err != nil {
		m.metrics.RebuildFailures.Inc()
		err = faults.New(faults.Rebuild, "catalog.load", err)
		m.logger.ErrorContext(ctx, "routing engine rebuild failed, keeping current engine",
			logging.Generation(m.generation), logging.Error(err))
		return nil, err
	}

	gen := m.generation + 1
	e := engine.Build(defs, engine.WithGeneration(gen), engine.WithLogger(m.logger))

	m.current.Store(e)
	m.generation = gen

	elapsed := time.Since(start)
	m.metrics.Rebuilds.Inc()
	m.metrics.RebuildDuration.Observe(elapsed.Seconds())
	m.metrics.EngineGeneration.Set(float64(gen))
	m.metrics.EngineStreams.Set(float64(e.StreamCount()))
	m.metrics.RejectedStreams.Set(float64(len(e.Rejected())))

	m.logger.InfoContext(ctx, "routing engine published",
		logging.Generation(gen),
		"streams", e.StreamCount(),
		"rejected", len(e.Rejected()),
		logging.Duration(elapsed.Milliseconds()))

	return e, nil
}
