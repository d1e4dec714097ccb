// Package metrics exposes Prometheus collectors for the ingestion
// pipeline: API traffic, cycle outcomes, rows landed and stage latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequests counts upstream API calls by endpoint and outcome
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tornflow_api_requests_total",
		Help: "Upstream API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	// APIRetries counts retried API attempts by error type
	APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tornflow_api_retries_total",
		Help: "Retried API attempts by error type",
	}, []string{"error_type"})

	// Cycles counts processing cycles by endpoint and outcome
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tornflow_cycles_total",
		Help: "Processing cycles by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	// RowsWritten counts rows landed in the warehouse
	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tornflow_rows_written_total",
		Help: "Rows written to the warehouse by endpoint and mode",
	}, []string{"endpoint", "mode"})

	// CycleDuration tracks end-to-end cycle latency per endpoint
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tornflow_cycle_duration_seconds",
		Help:    "End-to-end cycle duration",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"endpoint"})

	// StageDuration tracks per-stage latency (fetch, transform, write)
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tornflow_stage_duration_seconds",
		Help:    "Per-stage duration within a cycle",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"endpoint", "stage"})

	// SchemaChanges counts schema evolution events by kind
	SchemaChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tornflow_schema_changes_total",
		Help: "Schema evolution events by table and kind",
	}, []string{"table", "kind"})
)

// Timer measures one stage and records it on Stop
type Timer struct {
	start    time.Time
	endpoint string
	stage    string
}

// NewTimer starts a stage timer
func NewTimer(endpoint, stage string) *Timer {
	return &Timer{start: time.Now(), endpoint: endpoint, stage: stage}
}

// Stop records the elapsed time and returns it
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	StageDuration.WithLabelValues(t.endpoint, t.stage).Observe(elapsed.Seconds())
	return elapsed
}

// Handler returns the HTTP handler serving the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
