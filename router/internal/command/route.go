package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-router/router/internal/codec"
	"github.com/telhawk-systems/telhawk-router/router/internal/decoder"
	"github.com/telhawk-systems/telhawk-router/router/internal/handlers"
	"github.com/telhawk-systems/telhawk-router/router/internal/manager"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/pipeline"
	"github.com/telhawk-systems/telhawk-router/router/internal/router"
)

// RouteOutcome is one line of route output.
type RouteOutcome struct {
	ID      string         `json:"id"`
	Dropped bool           `json:"dropped"`
	Streams []string       `json:"streams"`
	Fields  map[string]any `json:"fields,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func newRouteCommand(root *rootOptions) *cobra.Command {
	var (
		format string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "route [envelopes.jsonl]",
		Short: "Decode and route envelopes offline",
		Long: `Decode and route a stream of envelopes against the catalog without
consuming from or publishing to the bus. Input is a sequence of JSON objects
in the same shape POST /api/v1/route accepts, read from the named file or
from stdin.`,
		Example: `  telhawk-router route --file ./streams.yaml envelopes.jsonl
  telhawk-router seed --dry-run --count 5 | telhawk-router route --file ./streams.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format, formatTable, formatJSON); err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := root.logger(cfg, cmd.ErrOrStderr())
			ctx := cmd.Context()

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			cat, closeCat, err := openCatalog(ctx, cfg, file)
			if err != nil {
				return err
			}
			defer closeCat()

			m := metrics.NewUnregistered()
			mgr, err := manager.New(ctx, cat, manager.WithMetrics(m), manager.WithLogger(logger))
			if err != nil {
				return err
			}
			rtr, err := router.New(mgr, m)
			if err != nil {
				return err
			}
			dec := decoder.New(codec.DefaultRegistry(), m, decoder.WithLogger(logger))
			p := pipeline.New(dec, rtr, m, pipeline.Config{}, pipeline.WithLogger(logger))

			var outcomes []RouteOutcome
			d := json.NewDecoder(in)
			for {
				var req handlers.RouteRequest
				if err := d.Decode(&req); err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					return fmt.Errorf("failed to read envelope %d: %w", len(outcomes)+1, err)
				}
				outcomes = append(outcomes, routeOne(cmd, p, &req))
			}

			return printOutcomes(cmd.OutOrStdout(), format, outcomes)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatJSON, "output format: json, table")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read streams from this YAML file instead of the configured catalog")
	return cmd
}

func routeOne(cmd *cobra.Command, p *pipeline.Pipeline, req *handlers.RouteRequest) RouteOutcome {
	env, err := req.Envelope()
	if err != nil {
		return RouteOutcome{ID: req.ID, Streams: []string{}, Error: err.Error()}
	}
	res, err := p.Handle(cmd.Context(), env)
	if err != nil {
		return RouteOutcome{ID: env.ID, Streams: []string{}, Error: err.Error()}
	}
	out := RouteOutcome{ID: env.ID, Dropped: res.Dropped(), Streams: res.StreamIDs()}
	if !res.Dropped() {
		out.Fields = res.Message.Snapshot()
	}
	return out
}

func printOutcomes(w io.Writer, format string, outcomes []RouteOutcome) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		for _, o := range outcomes {
			if err := enc.Encode(o); err != nil {
				return err
			}
		}
		return nil
	}

	t := newTable("ID", "RESULT", "STREAMS")
	for _, o := range outcomes {
		result := "routed"
		switch {
		case o.Error != "":
			result = "error: " + o.Error
		case o.Dropped:
			result = "dropped"
		}
		t.addRow(o.ID, result, strings.Join(o.Streams, ","))
	}
	return t.render(w)
}
