package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-router/common/config"
	"github.com/telhawk-systems/telhawk-router/router/internal/catalog"
	"github.com/telhawk-systems/telhawk-router/router/internal/engine"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// openCatalog returns the catalog selected by cfg, or the YAML file at
// override when set. The returned func releases its resources.
func openCatalog(ctx context.Context, cfg *config.Config, override string) (catalog.Catalog, func(), error) {
	if override != "" {
		return catalog.NewFileCatalog(override), func() {}, nil
	}
	switch cfg.Router.Catalog.Backend {
	case config.CatalogFile:
		return catalog.NewFileCatalog(cfg.Router.Catalog.File), func() {}, nil
	default:
		pg, err := catalog.NewPostgresCatalog(ctx, cfg.Database.Postgres.ConnString())
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
}

// Snapshot is the printable form of a compiled engine.
type Snapshot struct {
	BuiltAt  time.Time          `json:"built_at"`
	Streams  []*streams.Stream  `json:"streams"`
	Rejected []engine.Rejection `json:"rejected"`
}

func newStreamsCommand(root *rootOptions) *cobra.Command {
	var (
		format string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "streams",
		Short: "Compile the stream catalog and print the result",
		Long: `Load every enabled stream from the catalog, compile it the way the
running router would, and print the streams that compiled along with the
ones that were rejected.

The yaml format prints only the compiled streams, as a document the file
catalog backend can load.`,
		Example: `  telhawk-router streams
  telhawk-router streams --file ./streams.yaml --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format, formatTable, formatJSON, formatYAML); err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := root.logger(cfg, cmd.ErrOrStderr())

			cat, closeCat, err := openCatalog(cmd.Context(), cfg, file)
			if err != nil {
				return err
			}
			defer closeCat()

			defs, err := cat.LoadEnabledStreams(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load streams: %w", err)
			}
			e := engine.Build(defs, engine.WithLogger(logger))
			return printSnapshot(cmd, format, e)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format: table, json, yaml")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read streams from this YAML file instead of the configured catalog")
	return cmd
}

func printSnapshot(cmd *cobra.Command, format string, e *engine.Engine) error {
	w := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		return writeJSON(w, Snapshot{BuiltAt: e.BuiltAt(), Streams: e.Streams(), Rejected: e.Rejected()})
	case formatYAML:
		return writeYAML(w, catalog.Document{Streams: e.Streams()})
	}

	t := newTable("ID", "TITLE", "MATCH", "RULES", "DEFAULT")
	for _, s := range e.Streams() {
		def := "keep"
		if s.RemoveMatchesFromDefaultStream {
			def = "remove"
		}
		t.addRow(s.ID, s.Title, string(s.MatchingType), strconv.Itoa(len(s.Rules)), def)
	}
	if err := t.render(w); err != nil {
		return err
	}

	if rejected := e.Rejected(); len(rejected) > 0 {
		fmt.Fprintf(w, "\n%d stream(s) rejected:\n", len(rejected))
		r := newTable("ID", "TITLE", "REASON")
		for _, rej := range rejected {
			r.addRow(rej.StreamID, rej.Title, rej.Reason)
		}
		if err := r.render(w); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "\n%d stream(s) compiled\n", e.StreamCount())
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
