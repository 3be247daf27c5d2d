package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion pipeline counters and histograms, partitioned by run mode (mock/real).

var (
	// Fetch client
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "spapi",
		Name:      "requests_total",
		Help:      "Total HTTP requests issued to the transactions endpoint, by response status",
	}, []string{"status"})

	APIRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "spapi",
		Name:      "retries_total",
		Help:      "Total retries scheduled by the fetch client, by outcome",
	}, []string{"outcome"})

	APITokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "spapi",
		Name:      "token_refreshes_total",
		Help:      "Total LWA access token exchanges",
	})

	APIRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "spapi",
		Name:      "rate_limit_waits_total",
		Help:      "Total times the client-side pacer delayed a request",
	})

	APIRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ledger_ingest",
		Subsystem: "spapi",
		Name:      "request_duration_seconds",
		Help:      "Duration of a single HTTP attempt",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// Validator
	RecordsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "validator",
		Name:      "records_total",
		Help:      "Total records seen by the validator, by result (valid/rejected)",
	}, []string{"result"})

	ValidationWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "validator",
		Name:      "warnings_total",
		Help:      "Total warnings attached to accepted records",
	})

	// Store
	StoreRowsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "store",
		Name:      "rows_upserted_total",
		Help:      "Total rows written by the idempotent upsert",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Total store failures, by operation",
	}, []string{"operation"})

	// Pipeline
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger_ingest",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total ingestion runs, by mode and status (ok/failed)",
	}, []string{"mode", "status"})

	RunLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ledger_ingest",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "End-to-end ingestion run duration",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"mode"})
)
