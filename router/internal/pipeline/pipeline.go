// Package pipeline runs decode, route and output for every raw envelope on a
// bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/dlq"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// Envelope result label values.
const (
	ResultRouted       = "routed"
	ResultDropped      = "dropped"
	ResultDeadLettered = "dead_lettered"
	ResultFailed       = "failed"
)

// Decoder turns an event's raw envelope into a message.
type Decoder interface {
	Process(ctx context.Context, ev *model.Event) error
}

// Router selects the streams a message belongs to.
type Router interface {
	Route(msg *model.Message) []*streams.Stream
}

// Writer delivers a routed message downstream.
type Writer interface {
	Write(ctx context.Context, msg *model.Message, matched []*streams.Stream) error
}

// Result is the outcome of handling one envelope.
type Result struct {
	Message *model.Message
	Matched []*streams.Stream
}

// Dropped reports whether the decoder discarded the envelope.
func (r *Result) Dropped() bool {
	return r == nil || r.Message == nil
}

// StreamIDs returns the ids of the matched streams.
func (r *Result) StreamIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.Matched))
	for i, s := range r.Matched {
		ids[i] = s.ID
	}
	return ids
}

// Job is one envelope plus the callback that reports its completion.
type Job struct {
	Envelope *model.RawEnvelope
	Done     func(error)
}

// Config sizes the worker pool.
type Config struct {
	Workers     int
	QueueSize   int
	StopTimeout time.Duration
}

// Pipeline processes envelopes concurrently.
type Pipeline struct {
	decoder Decoder
	router  Router
	output  Writer
	dlq     dlq.Queue
	metrics *metrics.Metrics
	logger  *logging.Logger
	pool    *Pool[Job]
	stopIn  time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOutput sets the downstream writer. Without one, routed messages are
// only counted.
func WithOutput(w Writer) Option {
	return func(p *Pipeline) { p.output = w }
}

// WithDLQ sets the dead letter queue for faulted envelopes.
func WithDLQ(q dlq.Queue) Option {
	return func(p *Pipeline) { p.dlq = q }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline. Start must be called before Submit.
func New(dec Decoder, rtr Router, m *metrics.Metrics, cfg Config, opts ...Option) *Pipeline {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	p := &Pipeline{
		decoder: dec,
		router:  rtr,
		metrics: m,
		stopIn:  cfg.StopTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDefault(p.logger)
	if p.stopIn <= 0 {
		p.stopIn = 30 * time.Second
	}
	p.pool = NewPool(cfg.Workers, cfg.QueueSize, p.process,
		WithQueueGauges[Job](m.QueueDepth, m.QueueCapacity))
	return p
}

// Start launches the workers.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.pool.Start(ctx)
}

// Stop drains queued envelopes and waits for the workers.
func (p *Pipeline) Stop() error {
	return p.pool.Stop(p.stopIn)
}

// Stats returns worker pool statistics.
func (p *Pipeline) Stats() PoolStats {
	return p.pool.Stats()
}

// Submit queues env, blocking while the queue is full. done, if set, is
// called exactly once after the envelope is handled. A nil error means the
// envelope is finished with and may be acknowledged.
func (p *Pipeline) Submit(ctx context.Context, env *model.RawEnvelope, done func(error)) error {
	return p.pool.Submit(ctx, Job{Envelope: env, Done: done})
}

// Handle decodes and routes env synchronously. Nothing is published.
func (p *Pipeline) Handle(ctx context.Context, env *model.RawEnvelope) (*Result, error) {
	ev := &model.Event{Raw: env}
	if err := p.decoder.Process(ctx, ev); err != nil {
		return nil, err
	}
	if ev.Message == nil {
		return &Result{}, nil
	}
	return &Result{Message: ev.Message, Matched: p.router.Route(ev.Message)}, nil
}

func (p *Pipeline) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.PipelinePanics.Inc()
			p.logger.ErrorContext(ctx, "panic while processing envelope",
				logging.EnvelopeID(envelopeID(job.Envelope)), "panic", r, "stack", string(debug.Stack()))
			err = p.deadLetter(ctx, job.Envelope, fmt.Errorf("panic: %v", r), dlq.ReasonPanic)
		}
		if job.Done != nil {
			job.Done(err)
		}
	}()

	res, err := p.Handle(ctx, job.Envelope)
	if err != nil {
		return p.deadLetter(ctx, job.Envelope, err, dlq.ReasonFor(err))
	}
	if res.Dropped() {
		p.metrics.EnvelopesTotal.WithLabelValues(ResultDropped).Inc()
		return nil
	}

	if p.output != nil {
		if err := p.output.Write(ctx, res.Message, res.Matched); err != nil {
			p.metrics.EnvelopesTotal.WithLabelValues(ResultFailed).Inc()
			return fmt.Errorf("output: %w", err)
		}
	}
	p.metrics.EnvelopesTotal.WithLabelValues(ResultRouted).Inc()
	return nil
}

// deadLetter records a faulted envelope. The envelope counts as handled once
// the DLQ accepts it; without a DLQ the fault is logged and dropped.
func (p *Pipeline) deadLetter(ctx context.Context, env *model.RawEnvelope, cause error, reason string) error {
	log := p.logger.With(logging.EnvelopeID(envelopeID(env)), "reason", reason)
	if p.dlq == nil {
		p.metrics.EnvelopesTotal.WithLabelValues(ResultDropped).Inc()
		log.WarnContext(ctx, "dropping faulted envelope", logging.Error(cause))
		return nil
	}
	if err := p.dlq.Write(ctx, env, cause, reason); err != nil {
		p.metrics.EnvelopesTotal.WithLabelValues(ResultFailed).Inc()
		log.ErrorContext(ctx, "failed to dead letter envelope", logging.Error(err))
		return fmt.Errorf("dead letter: %w", err)
	}
	p.metrics.DeadLetteredTotal.WithLabelValues(reason).Inc()
	p.metrics.EnvelopesTotal.WithLabelValues(ResultDeadLettered).Inc()
	return nil
}

func envelopeID(env *model.RawEnvelope) string {
	if env == nil {
		return ""
	}
	return env.ID
}
