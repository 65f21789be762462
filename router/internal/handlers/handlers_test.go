package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/catalog"
	"github.com/telhawk-systems/telhawk-router/router/internal/codec"
	"github.com/telhawk-systems/telhawk-router/router/internal/decoder"
	"github.com/telhawk-systems/telhawk-router/router/internal/dlq"
	"github.com/telhawk-systems/telhawk-router/router/internal/manager"
	"github.com/telhawk-systems/telhawk-router/router/internal/metrics"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/pipeline"
	"github.com/telhawk-systems/telhawk-router/router/internal/router"
	"github.com/telhawk-systems/telhawk-router/router/internal/streams"
)

type fixture struct {
	handler *Handler
	catalog *catalog.MemoryCatalog
	manager *manager.Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cat := catalog.NewMemoryCatalog(
		&streams.Stream{
			ID: "errors", Title: "Errors",
			Rules: []streams.Rule{{ID: "r1", Field: "level", Type: streams.RuleGreater, Value: "3"}},
		},
		&streams.Stream{
			ID: "broken", Title: "Broken",
			Rules: []streams.Rule{{ID: "r2", Field: "message", Type: streams.RuleRegex, Value: "("}},
		},
	)
	m := metrics.NewUnregistered()
	mgr, err := manager.New(context.Background(), cat, manager.WithMetrics(m), manager.WithLogger(logging.Discard()))
	require.NoError(t, err)

	rtr, err := router.New(mgr, m)
	require.NoError(t, err)
	dec := decoder.New(codec.DefaultRegistry(), m, decoder.WithLogger(logging.Discard()))
	p := pipeline.New(dec, rtr, m, pipeline.Config{Workers: 1, QueueSize: 1})

	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return &fixture{handler: New(mgr, mgr, p, opts...), catalog: cat, manager: mgr}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	f.handler.Health(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decodeBody(t, rr)["status"])
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Check
		wantStatus int
		wantState  string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantState:  "ready",
		},
		{
			name: "all passing",
			checks: []Check{
				{Name: "nats", Fn: func(context.Context) error { return nil }},
			},
			wantStatus: http.StatusOK,
			wantState:  "ready",
		},
		{
			name: "one failing",
			checks: []Check{
				{Name: "nats", Fn: func(context.Context) error { return nil }},
				{Name: "postgres", Fn: func(context.Context) error { return errors.New("connection refused") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithChecks(tt.checks...))
			rr := httptest.NewRecorder()
			f.handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			body := decodeBody(t, rr)
			assert.Equal(t, tt.wantState, body["status"])
			assert.EqualValues(t, 1, body["generation"])
		})
	}
}

func TestListStreams(t *testing.T) {
	f := newFixture(t)
	rr := httptest.NewRecorder()
	f.handler.ListStreams(rr, httptest.NewRequest(http.MethodGet, "/api/v1/streams", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)

	data := body["data"].([]any)
	require.Len(t, data, 1)
	first := data[0].(map[string]any)
	assert.Equal(t, "stream", first["type"])
	assert.Equal(t, "errors", first["id"])

	meta := body["meta"].(map[string]any)
	assert.EqualValues(t, 1, meta["generation"])
	rejected := meta["rejected"].([]any)
	require.Len(t, rejected, 1)
	assert.Equal(t, "broken", rejected[0].(map[string]any)["stream_id"])
}

func TestRebuild(t *testing.T) {
	f := newFixture(t)
	f.catalog.Set(&streams.Stream{ID: "only", Title: "Only"})

	rr := httptest.NewRecorder()
	f.handler.Rebuild(rr, httptest.NewRequest(http.MethodPost, "/api/v1/rebuild", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeBody(t, rr)["data"].(map[string]any)
	assert.Equal(t, "2", data["id"])
	assert.Equal(t, uint64(2), f.manager.Current().Generation())

	f.catalog.FailWith(errors.New("database unavailable"))
	rr = httptest.NewRecorder()
	f.handler.Rebuild(rr, httptest.NewRequest(http.MethodPost, "/api/v1/rebuild", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "database unavailable")
	assert.Equal(t, uint64(2), f.manager.Current().Generation(), "failed rebuild keeps the engine")
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantDropped bool
		wantStreams []any
	}{
		{
			name:        "matching json message",
			body:        `{"id":"e1","codec":"json","payload":"{\"short_message\":\"disk full\",\"host\":\"web-01\",\"level\":5}"}`,
			wantStatus:  http.StatusOK,
			wantStreams: []any{"errors"},
		},
		{
			name:        "base64 raw payload",
			body:        `{"codec":"raw","encoding":"base64","payload":"aGVsbG8gd29ybGQ="}`,
			wantStatus:  http.StatusOK,
			wantStreams: []any{},
		},
		{
			name:        "unknown codec is dropped",
			body:        `{"codec":"netflow","payload":"x"}`,
			wantStatus:  http.StatusOK,
			wantDropped: true,
			wantStreams: []any{},
		},
		{
			name:       "codec error",
			body:       `{"codec":"json","payload":"{oops"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "missing codec",
			body:       `{"payload":"x"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad base64",
			body:       `{"codec":"raw","encoding":"base64","payload":"%%%"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/route", bytes.NewBufferString(tt.body))
			f.handler.Route(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			data := decodeBody(t, rr)["data"].(map[string]any)
			assert.Equal(t, "routed-message", data["type"])
			attrs := data["attributes"].(map[string]any)
			assert.Equal(t, tt.wantDropped, attrs["dropped"])
			assert.Equal(t, tt.wantStreams, attrs["streams"])
		})
	}
}

func TestRouteRequest_Envelope(t *testing.T) {
	req := RouteRequest{Codec: "raw", Payload: "line"}
	env, err := req.Envelope()
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.ReceivedAt.IsZero())
	assert.Equal(t, []byte("line"), env.Payload)

	received := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	req = RouteRequest{ID: "fixed", Codec: "raw", ReceivedAt: received, SourceNodes: []model.SourceNode{{Role: model.RoleServer, InputID: "in"}}}
	env, err = req.Envelope()
	require.NoError(t, err)
	assert.Equal(t, "fixed", env.ID)
	assert.Equal(t, received, env.ReceivedAt)

	_, err = (&RouteRequest{Codec: "raw", Encoding: "hex"}).Envelope()
	assert.ErrorContains(t, err, "unknown encoding")
}

func TestDLQEndpoints(t *testing.T) {
	q, err := dlq.NewFileQueue(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, q.Write(context.Background(), &model.RawEnvelope{ID: "e9", CodecName: "json"}, errors.New("bad"), dlq.ReasonDecode))

	f := newFixture(t, WithDLQ(q))

	rr := httptest.NewRecorder()
	f.handler.DLQStats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/dlq/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decodeBody(t, rr)["pending_files"])

	rr = httptest.NewRecorder()
	f.handler.ListDLQ(rr, httptest.NewRequest(http.MethodGet, "/api/v1/dlq?limit=10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeBody(t, rr)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "e9", data[0].(map[string]any)["id"])

	rr = httptest.NewRecorder()
	f.handler.ListDLQ(rr, httptest.NewRequest(http.MethodGet, "/api/v1/dlq?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	disabled := newFixture(t)
	rr = httptest.NewRecorder()
	disabled.handler.ListDLQ(rr, httptest.NewRequest(http.MethodGet, "/api/v1/dlq", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	disabled.handler.DLQStats(rr, httptest.NewRequest(http.MethodGet, "/api/v1/dlq/stats", nil))
	assert.Equal(t, false, decodeBody(t, rr)["enabled"])
}
