package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-router/common/config"
	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/common/messaging"
	"github.com/telhawk-systems/telhawk-router/common/messaging/nats"
	"github.com/telhawk-systems/telhawk-router/router/internal/catalog"
	"github.com/telhawk-systems/telhawk-router/router/internal/codec"
	"github.com/telhawk-systems/telhawk-router/router/internal/decoder"
	"github.com/telhawk-systems/telhawk-router/router/internal/dlq"
	"github.com/telhawk-systems/telhawk-router/router/internal/handlers"
	"github.com/telhawk-systems/telhawk-router/router/internal/intake"
	"github.com/telhawk-systems/telhawk-router/router/internal/manager"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/notify"
	"github.com/telhawk-systems/telhawk-router/router/internal/output"
	"github.com/telhawk-systems/telhawk-router/router/internal/pipeline"
	"github.com/telhawk-systems/telhawk-router/router/internal/router"
	"github.com/telhawk-systems/telhawk-router/router/internal/server"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the router",
		Long: `Consume raw envelopes, decode and route them, and publish routed messages.
The admin API (health, metrics, streams, route, rebuild, dlq) listens on
server.port.

SIGHUP forces a catalog rebuild. SIGINT and SIGTERM drain in-flight
envelopes and exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := root.logger(cfg, os.Stdout)
			logging.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("starting router",
		"catalog", cfg.Router.Catalog.Backend,
		"notifier", cfg.Router.Notifier.Kind,
		"workers", cfg.Router.Workers,
		"queue_size", cfg.Router.QueueSize)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var checks []handlers.Check

	cat, closeCat, err := openCatalog(ctx, cfg, "")
	if err != nil {
		return fmt.Errorf("failed to open stream catalog: %w", err)
	}
	defer closeCat()
	if pg, ok := cat.(*catalog.PostgresCatalog); ok {
		checks = append(checks, handlers.Check{Name: "postgres", Fn: pg.Ping})
	}

	var js *nats.JetStreamClient
	if cfg.NATS.Enabled {
		js, err = nats.NewJetStreamClient(natsConfig(cfg, logger, "telhawk-router"))
		if err != nil {
			return err
		}
		defer func() {
			if err := js.Drain(); err != nil {
				logger.Warn("failed to drain NATS connection", logging.Error(err))
			}
		}()
		logger.Info("connected to NATS", "url", cfg.NATS.URL)
		checks = append(checks, handlers.Check{Name: "nats", Fn: func(ctx context.Context) error {
			if status := messaging.CheckClientHealth(ctx, js); !status.Healthy() {
				return errors.New(status.Error)
			}
			return nil
		}})
	} else {
		logger.Warn("NATS disabled, envelopes are only accepted through the admin API")
	}

	mgr, err := manager.New(ctx, cat, manager.WithMetrics(m), manager.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("routing engine ready",
		logging.Generation(mgr.Current().Generation()),
		"streams", mgr.Current().StreamCount(),
		"rejected", len(mgr.Current().Rejected()))

	notifier, closeNotifier, err := newNotifier(ctx, cfg, js, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	rtr, err := router.New(mgr, m)
	if err != nil {
		return err
	}
	dec := decoder.New(codec.DefaultRegistry(), m, decoder.WithLogger(logger))

	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	handlerOpts := []handlers.Option{handlers.WithLogger(logger), handlers.WithChecks(checks...)}

	var q dlq.Queue
	if cfg.Router.DLQ.Enabled {
		q, err = openDLQ(ctx, cfg, js, logger)
		if err != nil {
			return err
		}
		pipeOpts = append(pipeOpts, pipeline.WithDLQ(q))
		handlerOpts = append(handlerOpts, handlers.WithDLQ(q))
	}
	if cfg.Router.Output.Enabled && js != nil {
		pipeOpts = append(pipeOpts, pipeline.WithOutput(output.New(js, m, logger)))
	}

	p := pipeline.New(dec, rtr, m, pipeline.Config{
		Workers:   cfg.Router.Workers,
		QueueSize: cfg.Router.QueueSize,
	}, pipeOpts...)
	// workers outlive the signal so Stop can drain queued envelopes
	if err := p.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer func() {
		if err := p.Stop(); err != nil {
			logger.Error("pipeline did not stop cleanly", logging.Error(err))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		mgr.Watch(ctx, notify.Channel(ctx, notifier, func(err error) {
			logger.Warn("catalog change notifier stopped", logging.Error(err))
		}))
		return nil
	})
	g.Go(func() error {
		watchHangup(ctx, mgr, logger)
		return nil
	})

	if js != nil {
		icfg := intake.Config{
			Stream:        cfg.Router.Input.Stream,
			Consumer:      cfg.Router.Input.Consumer,
			AckWait:       cfg.Router.Input.AckWait,
			MaxDeliver:    cfg.Router.Input.MaxDeliver,
			MaxAckPending: cfg.Router.Input.MaxAckPending,
		}
		if err := intake.Setup(ctx, js, icfg); err != nil {
			return err
		}
		in := intake.New(js, p, q, icfg, logger)
		g.Go(func() error { return in.Run(ctx) })
	}

	h := handlers.New(mgr, mgr, p, handlerOpts...)
	srv := server.New(cfg.Server, server.NewRouter(h, reg), logger)
	g.Go(func() error { return srv.Run(ctx) })

	err = g.Wait()
	logger.Info("router stopped", "processed", p.Stats().Processed)
	return err
}

// newNotifier picks the catalog change source. The file backend has no
// announcer; SIGHUP and the admin API trigger its rebuilds.
func newNotifier(ctx context.Context, cfg *config.Config, js *nats.JetStreamClient, logger *logging.Logger) (notify.Notifier, func(), error) {
	noop := func() {}
	switch cfg.Router.Notifier.Kind {
	case config.NotifierNATS:
		if js == nil {
			logger.Warn("nats notifier selected but NATS is disabled, catalog changes will not be observed")
			return notify.Noop{}, noop, nil
		}
		return notify.NewSubjectNotifier(js, messaging.SubjectStreamsCatalogChanged, logger), noop, nil
	case config.NotifierRedis:
		rdb, err := notify.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.MaxRetries, cfg.Redis.PoolSize)
		if err != nil {
			return nil, nil, err
		}
		poller := notify.NewRedisPoller(rdb, cfg.Router.Notifier.VersionKey, cfg.Router.Notifier.PollInterval, logger)
		return poller, func() { _ = rdb.Close() }, nil
	default:
		return notify.Noop{}, noop, nil
	}
}

func openDLQ(ctx context.Context, cfg *config.Config, js *nats.JetStreamClient, logger *logging.Logger) (dlq.Queue, error) {
	if cfg.Router.DLQ.Backend == config.DLQJetStream {
		if js == nil {
			return nil, errors.New("router.dlq.backend jetstream requires nats.enabled")
		}
		return dlq.NewJetStreamQueue(ctx, js, logger)
	}
	return dlq.NewFileQueue(cfg.Router.DLQ.BasePath, logger)
}

func watchHangup(ctx context.Context, mgr *manager.Manager, logger *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, rebuilding routing engine")
			mgr.Notify()
		}
	}
}
