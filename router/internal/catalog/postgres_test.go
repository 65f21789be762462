package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// setupPostgresCatalog starts a PostgreSQL container and applies the schema.
func setupPostgresCatalog(t *testing.T) *PostgresCatalog {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("telhawk_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, Migrate(connStr, ""))
	// Applying twice is a no-op.
	require.NoError(t, Migrate(connStr, ""))

	c, err := NewPostgresCatalog(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestPostgresCatalog_LoadEnabledStreams(t *testing.T) {
	c := setupPostgresCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.SaveStream(ctx, &streams.Stream{
		ID:           "errors",
		Title:        "Errors",
		MatchingType: streams.MatchAny,
		Rules: []streams.Rule{
			{ID: "r2", Field: "message", Type: streams.RuleContains, Value: "error"},
			{ID: "r1", Field: "level", Type: streams.RuleGreater, Value: "3", Inverted: true},
		},
	}, 1))
	require.NoError(t, c.SaveStream(ctx, &streams.Stream{
		ID:    "disabled",
		Title: "Disabled",
		Rules: []streams.Rule{{ID: "r3", Field: "x", Type: streams.RulePresence}},
	}, 0))
	require.NoError(t, c.SaveStream(ctx, &streams.Stream{
		ID:       "disabled",
		Title:    "Disabled",
		Disabled: true,
		Rules:    []streams.Rule{{ID: "r3", Field: "x", Type: streams.RulePresence}},
	}, 0))
	require.NoError(t, c.SaveStream(ctx, &streams.Stream{
		ID:                             "web",
		Title:                          "Web",
		RemoveMatchesFromDefaultStream: true,
	}, 2))

	require.NoError(t, c.Ping(ctx))

	defs, err := c.LoadEnabledStreams(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "errors", defs[0].ID)
	assert.Equal(t, streams.MatchAny, defs[0].MatchingType)
	require.Len(t, defs[0].Rules, 2)
	assert.Equal(t, "r2", defs[0].Rules[0].ID, "rules keep their saved order")
	assert.Equal(t, "r1", defs[0].Rules[1].ID)
	assert.True(t, defs[0].Rules[1].Inverted)
	assert.Equal(t, streams.RuleGreater, defs[0].Rules[1].Type)

	assert.Equal(t, "web", defs[1].ID)
	assert.Empty(t, defs[1].Rules)
	assert.True(t, defs[1].RemoveMatchesFromDefaultStream)
}

func TestPostgresCatalog_PassesUncompilableStreamsThrough(t *testing.T) {
	c := setupPostgresCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.SaveStream(ctx, &streams.Stream{
		ID:    "good",
		Title: "Good",
		Rules: []streams.Rule{{ID: "g1", Field: "source", Type: streams.RulePresence}},
	}, 0))
	require.NoError(t, c.SaveStream(ctx, &streams.Stream{
		ID:           "bad-matching",
		Title:        "Bad matching",
		MatchingType: "XOR",
		Rules:        []streams.Rule{{ID: "b1", Field: "source", Type: streams.RulePresence}},
	}, 1))
	require.NoError(t, c.SaveStream(ctx, &streams.Stream{
		ID:    "bad-rule",
		Title: "Bad rule",
		Rules: []streams.Rule{{ID: "b2", Field: "source", Type: streams.RuleType(42)}},
	}, 2))

	defs, err := c.LoadEnabledStreams(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, streams.MatchAll, defs[0].MatchingType)
	assert.Equal(t, streams.MatchingType("XOR"), defs[1].MatchingType)
	assert.Equal(t, streams.RuleType(42), defs[2].Rules[0].Type)

	// repeated loads each open and release their own snapshot
	for i := 0; i < 3; i++ {
		again, err := c.LoadEnabledStreams(ctx)
		require.NoError(t, err)
		assert.Len(t, again, 3)
	}
}
