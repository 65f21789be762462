// Package engine compiles stream definitions into an immutable matcher.
package engine

import (
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/faults"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// Rejection records a stream left out of an engine because its rules did
// not compile.
type Rejection struct {
	StreamID string `json:"stream_id"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

type compiledStream struct {
	stream *streams.Stream
	any    bool
	rules  []*compiledRule
}

func (cs *compiledStream) matches(msg *model.Message) bool {
	if len(cs.rules) == 0 {
		return false
	}
	for _, r := range cs.rules {
		value, exists := msg.Field(r.field)
		ok := r.matches(value, exists)
		if cs.any && ok {
			return true
		}
		if !cs.any && !ok {
			return false
		}
	}
	return !cs.any
}

// Engine is a compiled, read-only view of the enabled streams. All methods
// are safe for concurrent use.
type Engine struct {
	compiled   []*compiledStream
	evaluated  []*streams.Stream
	rejected   []Rejection
	generation uint64
	builtAt    time.Time
}

type buildOptions struct {
	generation uint64
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures Build.
type Option func(*buildOptions)

// WithGeneration stamps the engine with a generation number.
func WithGeneration(gen uint64) Option {
	return func(o *buildOptions) {
		o.generation = gen
	}
}

// WithLogger sets the logger used to report rejected streams.
func WithLogger(l *logging.Logger) Option {
	return func(o *buildOptions) {
		o.logger = l
	}
}

// WithClock overrides the build timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) {
		o.now = now
	}
}

// Build compiles defs in order. Disabled streams are skipped. A stream with
// a rule that does not compile is left out and reported by Rejected; the
// rest of the build continues. defs are copied and never modified.
func Build(defs []*streams.Stream, opts ...Option) *Engine {
	o := buildOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDefault(o.logger)

	e := &Engine{
		generation: o.generation,
		builtAt:    o.now(),
	}

	for _, def := range defs {
		if def == nil || def.Disabled {
			continue
		}
		s := def.Clone()

		cs, err := compileStream(s)
		if err != nil {
			logger.Warn("skipping stream with rules that do not compile",
				logging.StreamID(s.ID), "title", s.Title, logging.Error(err))
			e.rejected = append(e.rejected, Rejection{
				StreamID: s.ID,
				Title:    s.Title,
				Reason:   err.Error(),
				Err:      err,
			})
			continue
		}

		e.compiled = append(e.compiled, cs)
		e.evaluated = append(e.evaluated, s)
	}

	return e
}

func compileStream(s *streams.Stream) (*compiledStream, error) {
	cs := &compiledStream{stream: s}

	mt, err := streams.ParseMatchingType(string(s.MatchingType))
	if err != nil {
		return nil, faults.Newf(faults.Configuration, "engine.compile", "%w: unknown matching type %q", faults.ErrRuleCompile, s.MatchingType)
	}
	s.MatchingType = mt
	cs.any = mt == streams.MatchAny

	for _, rule := range s.Rules {
		cr, err := compileRule(rule)
		if err != nil {
			return nil, faults.New(faults.Configuration, "engine.compile", fmt.Errorf("%w: %w", faults.ErrRuleCompile, err))
		}
		cs.rules = append(cs.rules, cr)
	}
	return cs, nil
}

// Match returns copies of the streams msg belongs to, in catalog order.
func (e *Engine) Match(msg *model.Message) []*streams.Stream {
	if msg == nil {
		return nil
	}
	var matched []*streams.Stream
	for _, cs := range e.compiled {
		if cs.matches(msg) {
			matched = append(matched, cs.stream.Clone())
		}
	}
	return matched
}

// Streams returns copies of the streams Match evaluates.
func (e *Engine) Streams() []*streams.Stream {
	out := make([]*streams.Stream, len(e.evaluated))
	for i, s := range e.evaluated {
		out[i] = s.Clone()
	}
	return out
}

// StreamCount returns the number of streams Match evaluates.
func (e *Engine) StreamCount() int {
	return len(e.compiled)
}

// Rejected returns the streams left out of this engine.
func (e *Engine) Rejected() []Rejection {
	return append([]Rejection(nil), e.rejected...)
}

// Generation returns the build generation.
func (e *Engine) Generation() uint64 {
	return e.generation
}

// BuiltAt returns when the engine was built.
func (e *Engine) BuiltAt() time.Time {
	return e.builtAt
}
