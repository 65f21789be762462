// Package metrics holds the Prometheus instruments of the router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decode outcomes, used as the outcome label.
const (
	OutcomeProcessed  = "processedMessages"
	OutcomeFailures   = "failures"
	OutcomeIncomplete = "incomplete"
)

// Metrics bundles every instrument the router records. Create one per
// registry with New; components receive it explicitly.
type Metrics struct {
	// Decoder metrics
	DecodeDuration  *prometheus.HistogramVec
	ParseDuration   *prometheus.HistogramVec
	DecodedMessages *prometheus.CounterVec

	// Router metrics
	StreamsEvaluated prometheus.Counter
	MatchedStreams   prometheus.Histogram

	// Engine manager metrics
	Rebuilds         prometheus.Counter
	RebuildFailures  prometheus.Counter
	RebuildDuration  prometheus.Histogram
	EngineGeneration prometheus.Gauge
	EngineStreams    prometheus.Gauge
	RejectedStreams  prometheus.Gauge

	// Pipeline metrics
	QueueDepth        prometheus.Gauge
	QueueCapacity     prometheus.Gauge
	EnvelopesTotal    *prometheus.CounterVec
	PipelinePanics    prometheus.Counter
	PublishedTotal    *prometheus.CounterVec
	DeadLetteredTotal *prometheus.CounterVec
}

// New registers the router instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		DecodeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telhawk_router_decode_duration_seconds",
				Help:    "Duration of a whole envelope decode, enrichment included",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"codec"},
		),
		ParseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telhawk_router_parse_duration_seconds",
				Help:    "Duration of the codec decode call",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"codec"},
		),
		DecodedMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telhawk_router_decoded_messages_total",
				Help: "Decoded envelopes by codec, input and outcome",
			},
			[]string{"codec", "input", "outcome"},
		),

		StreamsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Name: "telhawk_router_streams_evaluated_total",
			Help: "Total number of stream evaluations performed while routing",
		}),
		MatchedStreams: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "telhawk_router_matched_streams",
			Help:    "Number of streams a routed message matched",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),

		Rebuilds: f.NewCounter(prometheus.CounterOpts{
			Name: "telhawk_router_rebuilds_total",
			Help: "Total number of successful routing engine rebuilds",
		}),
		RebuildFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "telhawk_router_rebuild_failures_total",
			Help: "Total number of failed routing engine rebuilds",
		}),
		RebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "telhawk_router_rebuild_duration_seconds",
			Help:    "Duration of routing engine rebuilds",
			Buckets: prometheus.DefBuckets,
		}),
		EngineGeneration: f.NewGauge(prometheus.GaugeOpts{
			Name: "telhawk_router_engine_generation",
			Help: "Generation of the routing engine currently in use",
		}),
		EngineStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "telhawk_router_engine_streams",
			Help: "Number of streams in the current routing engine",
		}),
		RejectedStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "telhawk_router_engine_rejected_streams",
			Help: "Number of streams skipped by the last build because their rules did not compile",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "telhawk_router_queue_depth",
			Help: "Current depth of the pipeline queue",
		}),
		QueueCapacity: f.NewGauge(prometheus.GaugeOpts{
			Name: "telhawk_router_queue_capacity",
			Help: "Maximum capacity of the pipeline queue",
		}),
		EnvelopesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telhawk_router_envelopes_total",
				Help: "Envelopes handled by the pipeline by result",
			},
			[]string{"result"},
		),
		PipelinePanics: f.NewCounter(prometheus.CounterOpts{
			Name: "telhawk_router_pipeline_panics_total",
			Help: "Total number of panics recovered while processing envelopes",
		}),
		PublishedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telhawk_router_published_messages_total",
				Help: "Routed messages published downstream by status",
			},
			[]string{"status"},
		),
		DeadLetteredTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telhawk_router_dead_lettered_total",
				Help: "Envelopes written to the dead letter queue by reason",
			},
			[]string{"reason"},
		),
	}
}

// NewUnregistered returns instruments bound to a throwaway registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
