// Package handlers implements the router's HTTP admin API.
package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-router/common/httputil"
	"github.com/telhawk-systems/telhawk-router/common/logging"
	"github.com/telhawk-systems/telhawk-router/router/internal/dlq"
	"github.com/telhawk-systems/telhawk-router/router/internal/engine"
	"github.com/telhawk-systems/telhawk-router/router/internal/model"
	"github.com/telhawk-systems/telhawk-router/router/internal/pipeline"
)

// EngineSource exposes the routing engine currently in use.
type EngineSource interface {
	Current() *engine.Engine
}

// Rebuilder rebuilds the routing engine from the catalog.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*engine.Engine, error)
}

// EnvelopeHandler decodes and routes a single envelope without publishing.
type EnvelopeHandler interface {
	Handle(ctx context.Context, env *model.RawEnvelope) (*pipeline.Result, error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handler serves the admin API.
type Handler struct {
	engines   EngineSource
	rebuilder Rebuilder
	envelopes EnvelopeHandler
	dlq       dlq.Queue
	checks    []Check
	logger    *logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithDLQ exposes dead letter queue statistics.
func WithDLQ(q dlq.Queue) Option {
	return func(h *Handler) { h.dlq = q }
}

// WithChecks adds readiness probes.
func WithChecks(checks ...Check) Option {
	return func(h *Handler) { h.checks = append(h.checks, checks...) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates the admin API handler.
func New(engines EngineSource, rebuilder Rebuilder, envelopes EnvelopeHandler, opts ...Option) *Handler {
	h := &Handler{engines: engines, rebuilder: rebuilder, envelopes: envelopes}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrDefault(h.logger)
	return h
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready runs every readiness probe and reports 503 when one fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Fn(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[c.Name] = err.Error()
			continue
		}
		results[c.Name] = "ok"
	}

	body := map[string]any{"status": "ready", "checks": results}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	if e := h.engines.Current(); e != nil {
		body["generation"] = e.Generation()
	}
	httputil.WriteJSON(w, status, body)
}

// StreamAttributes is the JSON:API attribute set of a stream resource.
type StreamAttributes struct {
	Title                          string `json:"title"`
	Description                    string `json:"description,omitempty"`
	MatchingType                   string `json:"matching_type"`
	RemoveMatchesFromDefaultStream bool   `json:"remove_matches_from_default_stream"`
	Rules                          any    `json:"rules"`
}

// ListStreams returns the streams compiled into the current engine.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	e := h.engines.Current()
	if e == nil {
		httputil.WriteJSONAPIError(w, http.StatusServiceUnavailable, "not_initialized", "Service Unavailable", "routing engine not initialized")
		return
	}

	defs := e.Streams()
	resources := make([]httputil.JSONAPIResource, 0, len(defs))
	for _, s := range defs {
		resources = append(resources, httputil.JSONAPIResource{
			Type: "stream",
			ID:   s.ID,
			Attributes: StreamAttributes{
				Title:                          s.Title,
				Description:                    s.Description,
				MatchingType:                   string(s.MatchingType),
				RemoveMatchesFromDefaultStream: s.RemoveMatchesFromDefaultStream,
				Rules:                          s.Rules,
			},
		})
	}
	httputil.WriteJSONAPICollection(w, http.StatusOK, resources, engineMeta(e))
}

func engineMeta(e *engine.Engine) map[string]any {
	rejected := make([]map[string]string, 0, len(e.Rejected()))
	for _, rej := range e.Rejected() {
		rejected = append(rejected, map[string]string{
			"stream_id": rej.StreamID,
			"title":     rej.Title,
			"reason":    rej.Reason,
		})
	}
	return map[string]any{
		"generation": e.Generation(),
		"built_at":   e.BuiltAt(),
		"streams":    e.StreamCount(),
		"rejected":   rejected,
	}
}

// Rebuild forces an engine rebuild from the catalog.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	e, err := h.rebuilder.Rebuild(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual rebuild failed", logging.Error(err))
		httputil.WriteJSONAPIError(w, http.StatusInternalServerError, "rebuild_failed", "Rebuild Failed", err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "manual rebuild completed", logging.Generation(e.Generation()))
	httputil.WriteJSONAPIResource(w, http.StatusOK, httputil.JSONAPIResource{
		Type:       "engine",
		ID:         strconv.FormatUint(e.Generation(), 10),
		Attributes: map[string]any{"streams": e.StreamCount(), "built_at": e.BuiltAt()},
	}, engineMeta(e))
}

// RouteRequest is the body of POST /api/v1/route.
type RouteRequest struct {
	ID            string               `json:"id"`
	Codec         string               `json:"codec"`
	CodecConfig   map[string]any       `json:"codec_config"`
	Payload       string               `json:"payload"`
	Encoding      string               `json:"encoding"` // "text" (default) or "base64"
	SourceNodes   []model.SourceNode   `json:"source_nodes"`
	RemoteAddress *model.RemoteAddress `json:"remote_address"`
	ReceivedAt    time.Time            `json:"received_at"`
}

// Envelope converts the request to a raw envelope.
func (req *RouteRequest) Envelope() (*model.RawEnvelope, error) {
	if req.Codec == "" {
		return nil, errors.New("codec is required")
	}

	var payload []byte
	switch req.Encoding {
	case "", "text":
		payload = []byte(req.Payload)
	case "base64":
		b, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("payload is not valid base64: %w", err)
		}
		payload = b
	default:
		return nil, fmt.Errorf("unknown encoding %q", req.Encoding)
	}

	env := &model.RawEnvelope{
		ID:            req.ID,
		CodecName:     req.Codec,
		CodecConfig:   req.CodecConfig,
		SourceNodes:   req.SourceNodes,
		RemoteAddress: req.RemoteAddress,
		ReceivedAt:    req.ReceivedAt,
		Payload:       payload,
	}
	if env.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		env.ID = id.String()
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now().UTC()
	}
	return env, nil
}

// RouteAttributes is the JSON:API attribute set of a route result.
type RouteAttributes struct {
	Dropped bool             `json:"dropped"`
	Streams []string         `json:"streams"`
	Fields  map[string]any   `json:"fields,omitempty"`
	Timings map[string]int64 `json:"timings_us,omitempty"`
}

// Route decodes and routes one envelope. Nothing is published.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := httputil.DecodeJSON(w, r, httputil.DefaultMaxBodyBytes, &req); err != nil {
		httputil.WriteJSONAPIValidationError(w, err.Error())
		return
	}
	env, err := req.Envelope()
	if err != nil {
		httputil.WriteJSONAPIValidationError(w, err.Error())
		return
	}

	res, err := h.envelopes.Handle(r.Context(), env)
	if err != nil {
		httputil.WriteJSONAPIError(w, http.StatusUnprocessableEntity, "decode_failed", "Decode Failed", err.Error())
		return
	}

	attrs := RouteAttributes{Dropped: res.Dropped(), Streams: res.StreamIDs()}
	if !res.Dropped() {
		attrs.Fields = res.Message.Snapshot()
		attrs.Timings = make(map[string]int64, len(res.Message.Timings))
		for stage, d := range res.Message.Timings {
			attrs.Timings[stage] = d.Microseconds()
		}
	}
	httputil.WriteJSONAPIResource(w, http.StatusOK, httputil.JSONAPIResource{
		Type:       "routed-message",
		ID:         env.ID,
		Attributes: attrs,
	}, nil)
}

// DLQStats reports dead letter queue statistics.
func (h *Handler) DLQStats(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.dlq.Stats(r.Context()))
}

// ListDLQ returns recent dead lettered envelopes. ?limit= caps the result.
func (h *Handler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteJSONAPIError(w, http.StatusNotFound, "dlq_disabled", "Not Found", dlq.ErrDisabled.Error())
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteJSONAPIValidationError(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.dlq.List(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONAPIInternalError(w, err.Error())
		return
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })

	resources := make([]httputil.JSONAPIResource, 0, len(entries))
	for i, e := range entries {
		id := strconv.Itoa(i)
		if e.Envelope != nil && e.Envelope.ID != "" {
			id = e.Envelope.ID
		}
		resources = append(resources, httputil.JSONAPIResource{Type: "failed-envelope", ID: id, Attributes: e})
	}
	httputil.WriteJSONAPICollection(w, http.StatusOK, resources, map[string]any{"count": len(resources)})
}
