package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-router/common/config"
	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/common/messaging/nats"
	"github.com/telhawk-systems/telhawk-router/router/internal/catalog"
	"github.com/telhawk-systems/telhawk-router/router/internal/handlers"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/notify"
	"github.com/telhawk-systems/telhawk-router/router/internal/seeder"
)

type seedOptions struct {
	count       int
	interval    time.Duration
	seed        int64
	inputs      string
	rawRatio    float64
	dryRun      bool
	withStreams bool
	streamsOut  string
}

func newSeedCommand(root *rootOptions) *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish synthetic envelopes for testing",
		Long: `Generate GELF style JSON and syslog style raw envelopes and publish them
on the raw ingest subjects, as an input would.

--with-streams also stores a set of sample streams matching the generated
data in the PostgreSQL catalog and announces the change. --streams-out
writes the same streams as a YAML catalog file.`,
		Example: `  telhawk-router seed --count 1000
  telhawk-router seed --count 10 --interval 500ms --inputs syslog-tcp
  telhawk-router seed --dry-run --count 3 --streams-out ./streams.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.count < 0 {
				return fmt.Errorf("--count must not be negative, got %d", opts.count)
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := root.logger(cfg, cmd.ErrOrStderr())
			return runSeed(cmd, cfg, logger, opts)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.count, "count", "n", 100, "number of envelopes to generate")
	f.DurationVar(&opts.interval, "interval", 0, "delay between envelopes (0 publishes as fast as possible)")
	f.Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one from the clock)")
	f.StringVar(&opts.inputs, "inputs", "", "comma separated input ids (default: gelf-udp,syslog-tcp)")
	f.Float64Var(&opts.rawRatio, "raw-ratio", 0.25, "share of envelopes using the raw codec")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print envelopes as route requests instead of publishing")
	f.BoolVar(&opts.withStreams, "with-streams", false, "store sample streams in the PostgreSQL catalog")
	f.StringVar(&opts.streamsOut, "streams-out", "", "write sample streams to this YAML file")
	return cmd
}

func runSeed(cmd *cobra.Command, cfg *config.Config, logger *logging.Logger, opts *seedOptions) error {
	ctx := cmd.Context()

	if opts.streamsOut != "" {
		if err := writeSampleStreams(opts.streamsOut); err != nil {
			return err
		}
		logger.InfoContext(ctx, "sample streams written", "path", opts.streamsOut)
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gen := seeder.NewGenerator(seed, seeder.WithInputs(splitList(opts.inputs)...), seeder.WithRawRatio(opts.rawRatio))

	if opts.dryRun {
		return printEnvelopes(cmd, gen, opts.count)
	}

	client, err := nats.NewClient(natsConfig(cfg, logger, "telhawk-router-seed"))
	if err != nil {
		return err
	}
	defer func() { _ = client.Drain() }()

	if opts.withStreams {
		if err := seedStreams(ctx, cfg, client, logger); err != nil {
			return err
		}
	}

	stats, err := seeder.NewRunner(client, gen, opts.interval, logger).Run(ctx, opts.count)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d envelope(s), %d failed, in %s\n",
		stats.Published, stats.Failed, stats.Elapsed.Round(time.Millisecond))
	return nil
}

func writeSampleStreams(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeYAML(f, catalog.Document{Streams: seeder.SampleStreams()}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printEnvelopes writes one route request per line, the input format of the
// route command.
func printEnvelopes(cmd *cobra.Command, gen *seeder.Generator, count int) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	for i := 0; i < count; i++ {
		env, err := gen.Envelope()
		if err != nil {
			return err
		}
		if err := enc.Encode(routeRequest(env)); err != nil {
			return err
		}
	}
	return nil
}

func routeRequest(env *model.RawEnvelope) handlers.RouteRequest {
	return handlers.RouteRequest{
		ID:            env.ID,
		Codec:         env.CodecName,
		CodecConfig:   env.CodecConfig,
		Payload:       string(env.Payload),
		SourceNodes:   env.SourceNodes,
		RemoteAddress: env.RemoteAddress,
		ReceivedAt:    env.ReceivedAt,
	}
}

// seedStreams stores the sample streams and tells running routers to rebuild.
func seedStreams(ctx context.Context, cfg *config.Config, client *nats.Client, logger *logging.Logger) error {
	pg, err := catalog.NewPostgresCatalog(ctx, cfg.Database.Postgres.ConnString())
	if err != nil {
		return err
	}
	defer pg.Close()

	n, err := seeder.SaveStreams(ctx, pg, seeder.SampleStreams())
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "sample streams stored", "count", n)

	switch cfg.Router.Notifier.Kind {
	case config.NotifierNATS:
		return notify.Announce(ctx, client, "seed")
	case config.NotifierRedis:
		rdb, err := notify.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.MaxRetries, cfg.Redis.PoolSize)
		if err != nil {
			return err
		}
		defer rdb.Close()
		version, err := notify.BumpVersion(ctx, rdb, cfg.Router.Notifier.VersionKey)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "catalog version bumped", "version", version)
	}
	return nil
}

func natsConfig(cfg *config.Config, logger *logging.Logger, name string) nats.Config {
	nc := nats.DefaultConfig()
	nc.URL = cfg.NATS.URL
	nc.Name = name
	nc.MaxReconnects = cfg.NATS.MaxReconnects
	if cfg.NATS.ReconnectWait > 0 {
		nc.ReconnectWait = cfg.NATS.ReconnectWait
	}
	nc.Logger = logger
	return nc
}
