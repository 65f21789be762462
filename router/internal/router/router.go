// Package router matches decoded messages against the current routing engine.
package router

import (
	"github.com/telhawk-systems/telhawk-router/router/internal/engine"
	"github.com/telhawk-systems/telhawk-router/router/internal/faults"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// EngineSource hands out the engine currently in use.
type EngineSource interface {
	Current() *engine.Engine
}

// Router is safe for concurrent use.
type Router struct {
	source  EngineSource
	metrics *metrics.Metrics
}

// New returns a Router reading engines from source. It fails when source
// has no engine yet, which means it was wired before its first build.
func New(source EngineSource, m *metrics.Metrics) (*Router, error) {
	if source == nil || source.Current() == nil {
		return nil, faults.New(faults.Startup, "router.new", faults.ErrNotInitialized)
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Router{source: source, metrics: m}, nil
}

// Route returns the streams msg matches, in catalog order, and records
// their ids on msg. The engine is read once so the whole call sees a
// single consistent snapshot.
func (r *Router) Route(msg *model.Message) []*streams.Stream {
	e := r.source.Current()

	r.metrics.StreamsEvaluated.Add(float64(e.StreamCount()))
	matched := e.Match(msg)
	r.metrics.MatchedStreams.Observe(float64(len(matched)))

	if msg != nil {
		msg.Streams = make([]string, 0, len(matched))
		for _, s := range matched {
			msg.Streams = append(msg.Streams, s.ID)
		}
	}
	return matched
}

// Engine returns the engine Route would use right now.
func (r *Router) Engine() *engine.Engine {
	return r.source.Current()
}
