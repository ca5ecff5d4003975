package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "obsync"

var (
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC requests by method and result.",
	}, []string{"method", "status"})

	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_request_duration_seconds",
		Help:      "JSON-RPC request latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Sync engine stage latency.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	SyncOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Engine runs by target and result.",
	}, []string{"chain_id", "orderbook", "result"})

	LastSyncedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_synced_block",
		Help:      "Checkpoint block per target after the latest successful run.",
	}, []string{"chain_id", "orderbook"})

	DecodedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decoded_events_total",
		Help:      "Decoded events by type.",
	}, []string{"event_type"})

	TokenFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_metadata_failures_total",
		Help:      "ERC-20 metadata fetches that failed after retries.",
	})
)

// ObserveRPC records one RPC call outcome.
func ObserveRPC(method string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RPCRequests.WithLabelValues(method, status).Inc()
	RPCDuration.WithLabelValues(method).Observe(seconds)
}
