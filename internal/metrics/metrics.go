// Package metrics holds the process-wide Prometheus registry and the
// collectors the record engine feeds.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldcore"

var (
	Registry = prometheus.NewRegistry()

	// RecordInserts counts record insert attempts by collection and outcome.
	RecordInserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "record_inserts_total",
		Help:      "Record insert attempts by collection and outcome.",
	}, []string{"kind", "status"})

	// RecordsScanned counts rows fetched from the record tables by query
	// cursors, before post-filters.
	RecordsScanned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_scanned_total",
		Help:      "Rows scanned from the record tables by query cursors, per collection.",
	}, []string{"kind"})

	// PayloadBytes counts payload bytes written to blob storage.
	PayloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payload_bytes_total",
		Help:      "Payload bytes written to blob storage.",
	})

	// OperationDuration times engine operations by name and outcome.
	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Engine operation latency by operation and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

func init() {
	Registry.MustRegister(
		RecordInserts,
		RecordsScanned,
		PayloadBytes,
		OperationDuration,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one engine operation outcome.
func ObserveOperation(operation string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}
