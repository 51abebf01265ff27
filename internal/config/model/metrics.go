package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Update results used as metric labels.
const (
	resultApplied = "applied"
	resultNoop    = "noop"
	resultError   = "error"
)

var (
	// updatesTotal counts model updates by operation and result.
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfgtree_model_updates_total",
		Help: "Total node model updates by operation and result",
	}, []string{"operation", "result"})

	// casRetriesTotal counts lost compare-and-swap races.
	casRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfgtree_model_cas_retries_total",
		Help: "Total snapshot swaps retried after a concurrent update",
	}, []string{"operation"})

	// updateDuration tracks update latency including retries.
	updateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cfgtree_model_update_duration_seconds",
		Help:    "Node model update duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
	}, []string{"operation"})
)
