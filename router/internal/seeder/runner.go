package seeder

import (
	"context"
	"time"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/common/messaging"
	"github.com/telhawk-systems/telhawk-router/router/internal/intake"
)

// Stats summarises a seeding run.
type Stats struct {
	Published int
	Failed    int
	Elapsed   time.Duration
}

// Runner publishes generated envelopes onto the raw ingest subjects.
type Runner struct {
	pub      messaging.Publisher
	gen      *Generator
	interval time.Duration
	logger   *logging.Logger
}

// NewRunner creates a runner. interval paces publishing; zero publishes as
// fast as the bus accepts.
func NewRunner(pub messaging.Publisher, gen *Generator, interval time.Duration, logger *logging.Logger) *Runner {
	return &Runner{pub: pub, gen: gen, interval: interval, logger: logging.OrDefault(logger)}
}

// Run publishes count envelopes, stopping early when ctx is cancelled.
// Publish failures are counted and logged; the run continues.
func (r *Runner) Run(ctx context.Context, count int) (stats Stats, err error) {
	start := time.Now()
	defer func() { stats.Elapsed = time.Since(start) }()

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	progress := count / 10
	if progress < 100 {
		progress = 100
	}

	for i := 0; i < count; i++ {
		if tick != nil && i > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		env, genErr := r.gen.Envelope()
		if genErr != nil {
			return stats, genErr
		}
		if err := intake.Publish(ctx, r.pub, env); err != nil {
			stats.Failed++
			r.logger.WarnContext(ctx, "failed to publish envelope", logging.EnvelopeID(env.ID), logging.Error(err))
			continue
		}
		stats.Published++
		if stats.Published%progress == 0 {
			r.logger.InfoContext(ctx, "seeding progress", "published", stats.Published, "total", count)
		}
	}

	r.logger.InfoContext(ctx, "seeding complete", "published", stats.Published, "failed", stats.Failed)
	return stats, nil
}
