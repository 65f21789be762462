package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/telhawk-router/common/database"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// PostgresCatalog loads streams from the streams and stream_rules tables.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog connects to PostgreSQL and verifies the connection.
func NewPostgresCatalog(ctx context.Context, connString string) (*PostgresCatalog, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// The catalog is read only on rebuilds; a small pool is plenty.
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresCatalog{pool: pool}, nil
}

// Close releases the connection pool.
func (c *PostgresCatalog) Close() {
	c.pool.Close()
}

// Ping checks database connectivity.
func (c *PostgresCatalog) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return c.pool.Ping(ctx)
}

const selectEnabledStreams = `
	SELECT id, title, description, matching_type, remove_matches_from_default_stream
	FROM streams
	WHERE disabled_at IS NULL
	ORDER BY position, id
`

const selectEnabledRules = `
	SELECT r.id, r.stream_id, r.field, r.rule_type, r.value, r.inverted, r.description
	FROM stream_rules r
	JOIN streams s ON s.id = r.stream_id
	WHERE s.disabled_at IS NULL
	ORDER BY r.stream_id, r.position, r.id
`

// LoadEnabledStreams implements Catalog. Streams and rules are read in one
// read-only repeatable-read transaction so a rebuild never mixes catalog
// versions.
func (c *PostgresCatalog) LoadEnabledStreams(ctx context.Context) ([]*streams.Stream, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	defs, err := loadStreams(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := attachRules(ctx, tx, defs); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return normalize(defs)
}

func loadStreams(ctx context.Context, tx pgx.Tx) ([]*streams.Stream, error) {
	rows, err := tx.Query(ctx, selectEnabledStreams)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var defs []*streams.Stream
	for rows.Next() {
		var s streams.Stream
		var matching string
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &matching, &s.RemoveMatchesFromDefaultStream); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		s.MatchingType = streams.MatchingType(matching)
		defs = append(defs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streams: %w", err)
	}
	return defs, nil
}

func attachRules(ctx context.Context, tx pgx.Tx, defs []*streams.Stream) error {
	byID := make(map[string]*streams.Stream, len(defs))
	for _, s := range defs {
		byID[s.ID] = s
	}

	rows, err := tx.Query(ctx, selectEnabledRules)
	if err != nil {
		return fmt.Errorf("failed to query stream rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r streams.Rule
		var ruleType int
		if err := rows.Scan(&r.ID, &r.StreamID, &r.Field, &ruleType, &r.Value, &r.Inverted, &r.Description); err != nil {
			return fmt.Errorf("failed to scan stream rule: %w", err)
		}
		r.Type = streams.RuleType(ruleType)
		if s, ok := byID[r.StreamID]; ok {
			s.Rules = append(s.Rules, r)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating stream rules: %w", err)
	}
	return nil
}

// SaveStream upserts a stream and replaces its rules in one transaction.
// Rules keep their slice order as position. Used by the seed command and tests.
func (c *PostgresCatalog) SaveStream(ctx context.Context, s *streams.Stream, position int) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var disabledAt *time.Time
	if s.Disabled {
		now := time.Now().UTC()
		disabledAt = &now
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO streams (id, title, description, matching_type, remove_matches_from_default_stream, position, disabled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			matching_type = EXCLUDED.matching_type,
			remove_matches_from_default_stream = EXCLUDED.remove_matches_from_default_stream,
			position = EXCLUDED.position,
			disabled_at = EXCLUDED.disabled_at
	`, s.ID, s.Title, s.Description, string(s.MatchingType), s.RemoveMatchesFromDefaultStream, position, disabledAt)
	if err != nil {
		return fmt.Errorf("failed to save stream: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM stream_rules WHERE stream_id = $1`, s.ID); err != nil {
		return fmt.Errorf("failed to clear stream rules: %w", err)
	}

	for i, r := range s.Rules {
		_, err := tx.Exec(ctx, `
			INSERT INTO stream_rules (id, stream_id, field, rule_type, value, inverted, description, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, s.ID, r.Field, int(r.Type), r.Value, r.Inverted, r.Description, i)
		if err != nil {
			return fmt.Errorf("failed to save stream rule %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
