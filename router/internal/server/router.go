package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-router/common/middleware"
	"github.com/telhawk-systems/telhawk-router/router/internal/handlers"
)

// NewRouter constructs a ServeMux with the admin API routes registered.
// gatherer serves /metrics; nil means the default registry.
func NewRouter(h *handlers.Handler, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	mux.HandleFunc("GET /api/v1/streams", h.ListStreams)
	mux.HandleFunc("POST /api/v1/route", h.Route)
	mux.HandleFunc("POST /api/v1/rebuild", h.Rebuild)
	mux.HandleFunc("GET /api/v1/dlq", h.ListDLQ)
	mux.HandleFunc("GET /api/v1/dlq/stats", h.DLQStats)

	if gatherer == nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	} else {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return middleware.RequestID(mux)
}
