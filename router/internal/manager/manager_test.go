package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/catalog"
	"github.com/telhawk-systems/telhawk-router/router/internal/faults"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

// gatedCatalog optionally blocks each load until the test releases it.
type gatedCatalog struct {
	mu      sync.Mutex
	defs    []*streams.Stream
	err     error
	loads   int
	gate    chan struct{}
	started chan int
}

func newGatedCatalog(defs ...*streams.Stream) *gatedCatalog {
	return &gatedCatalog{defs: defs, started: make(chan int, 16)}
}

func (c *gatedCatalog) LoadEnabledStreams(ctx context.Context) ([]*streams.Stream, error) {
	c.mu.Lock()
	c.loads++
	n, gate := c.loads, c.gate
	c.mu.Unlock()

	if gate != nil {
		c.started <- n
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return append([]*streams.Stream(nil), c.defs...), nil
}

func (c *gatedCatalog) set(defs []*streams.Stream, err error) {
	c.mu.Lock()
	c.defs, c.err = defs, err
	c.mu.Unlock()
}

func (c *gatedCatalog) setGate(gate chan struct{}) {
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
}

func (c *gatedCatalog) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func presenceStream(id string) *streams.Stream {
	return &streams.Stream{
		ID:           id,
		Title:        id,
		MatchingType: streams.MatchAll,
		Rules:        []streams.Rule{{ID: id + "-r", Field: "message", Type: streams.RulePresence}},
	}
}

func newManager(t *testing.T, catalog Catalog) (*Manager, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewUnregistered()
	mgr, err := New(context.Background(), catalog, WithMetrics(m), WithLogger(logging.Discard()))
	require.NoError(t, err)
	return mgr, m
}

func TestNew_BuildsInitialEngine(t *testing.T) {
	mgr, m := newManager(t, newGatedCatalog(presenceStream("s1")))

	e := mgr.Current()
	require.NotNil(t, e)
	assert.Equal(t, uint64(1), e.Generation())
	assert.Equal(t, 1, e.StreamCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Rebuilds))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EngineGeneration))
}

func TestNew_CatalogFailureIsStartupFault(t *testing.T) {
	cat := newGatedCatalog()
	cat.set(nil, errors.New("connection refused"))

	mgr, err := New(context.Background(), cat, WithLogger(logging.Discard()))
	require.Error(t, err)
	assert.Nil(t, mgr)
	assert.True(t, faults.IsClass(err, faults.Startup))

	_, err = New(context.Background(), nil)
	assert.True(t, faults.IsClass(err, faults.Startup))
}

func TestRebuild_FailureKeepsCurrentEngine(t *testing.T) {
	cat := newGatedCatalog(presenceStream("s1"))
	mgr, m := newManager(t, cat)
	before := mgr.Current()

	cat.set(nil, errors.New("catalog unavailable"))
	e, err := mgr.Rebuild(context.Background())

	require.Error(t, err)
	assert.Nil(t, e)
	assert.True(t, faults.IsClass(err, faults.Rebuild))
	assert.Same(t, before, mgr.Current())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RebuildFailures))

	cat.set([]*streams.Stream{presenceStream("s1"), presenceStream("s2")}, nil)
	e, err = mgr.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Generation(), "failed rebuilds do not consume a generation")
	assert.Same(t, e, mgr.Current())
}

func TestRebuild_ReportsRejectedStreams(t *testing.T) {
	bad := &streams.Stream{ID: "bad", MatchingType: streams.MatchAll, Rules: []streams.Rule{{ID: "r", Field: "x", Type: streams.RuleRegex, Value: "["}}}
	mgr, m := newManager(t, newGatedCatalog(presenceStream("ok"), bad))

	assert.Equal(t, 1, mgr.Current().StreamCount())
	assert.Len(t, mgr.Current().Rejected(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RejectedStreams))
}

func TestNew_SkipsStreamsTheCatalogCannotCompile(t *testing.T) {
	xor := presenceStream("bad-matching")
	xor.MatchingType = "XOR"
	unknownRule := presenceStream("bad-rule")
	unknownRule.Rules[0].Type = 0

	mgr, m := newManager(t, catalog.NewMemoryCatalog(presenceStream("good"), xor, unknownRule))

	e := mgr.Current()
	require.NotNil(t, e)
	assert.Equal(t, 1, e.StreamCount())
	assert.Equal(t, "good", e.Streams()[0].ID)

	var rejected []string
	for _, r := range e.Rejected() {
		rejected = append(rejected, r.StreamID)
	}
	assert.Equal(t, []string{"bad-matching", "bad-rule"}, rejected)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RejectedStreams))
}

func TestRun_CoalescesRequests(t *testing.T) {
	cat := newGatedCatalog(presenceStream("s1"))
	mgr, _ := newManager(t, cat)

	gate := make(chan struct{})
	cat.setGate(gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	mgr.Notify()
	require.Equal(t, 2, <-cat.started)

	// a burst while the rebuild is in flight collapses into one request
	for i := 0; i < 5; i++ {
		mgr.Notify()
	}
	cat.set([]*streams.Stream{presenceStream("s1"), presenceStream("s2")}, nil)
	gate <- struct{}{}

	require.Equal(t, 3, <-cat.started)
	gate <- struct{}{}

	require.Eventually(t, func() bool {
		return mgr.Current().Generation() == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, mgr.Current().StreamCount())

	select {
	case n := <-cat.started:
		t.Fatalf("unexpected rebuild %d", n)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 3, cat.loadCount())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatch_ForwardsNotifications(t *testing.T) {
	cat := newGatedCatalog(presenceStream("s1"))
	mgr, _ := newManager(t, cat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mgr.Run(ctx) }()

	changes := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		mgr.Watch(ctx, changes)
		close(watchDone)
	}()

	cat.set([]*streams.Stream{presenceStream("s1"), presenceStream("s2"), presenceStream("s3")}, nil)
	changes <- struct{}{}

	require.Eventually(t, func() bool {
		return mgr.Current().StreamCount() == 3
	}, time.Second, 5*time.Millisecond)

	close(changes)
	select {
	case <-watchDone:
	case <-time.After(time.Second):
		t.Fatal("watch did not return after the channel closed")
	}
}

func TestNotify_NeverBlocks(t *testing.T) {
	mgr, _ := newManager(t, newGatedCatalog())

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			mgr.Notify()
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a running loop")
	}
}
