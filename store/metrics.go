package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess      = "success"
	outcomeConnectivity = "connectivity"
	outcomeError        = "error"
)

// Metrics counts table operations. One instance can be shared by many tables.
type Metrics struct {
	// Operations counts operations by table, operation and outcome.
	Operations *prometheus.CounterVec
	// BulkItemFailures counts bulk-write items the store rejected.
	BulkItemFailures *prometheus.CounterVec
	// ConnectivityFaults counts dropped connections.
	ConnectivityFaults *prometheus.CounterVec
	// IndexDrift counts expected indexes found missing or different at verification.
	IndexDrift *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of table operations",
			},
			[]string{"table", "operation", "outcome"},
		),
		BulkItemFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bulk_item_failures_total",
				Help:      "Total number of bulk-write items rejected by the store",
			},
			[]string{"table", "kind"},
		),
		ConnectivityFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connectivity_faults_total",
				Help:      "Total number of connections dropped after a connectivity fault",
			},
			[]string{"table"},
		),
		IndexDrift: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_drift_total",
				Help:      "Total number of expected indexes that differ from the collection",
			},
			[]string{"table"},
		),
	}
}
