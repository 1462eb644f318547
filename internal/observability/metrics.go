package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	localMutationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "learnsync",
		Subsystem: "local",
		Name:      "last_mutation_timestamp_seconds",
		Help:      "Unix timestamp of the most recent local change committed to the device store.",
	})
	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "learnsync",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent sync session that completed without error.",
	})
)

func init() {
	prometheus.MustRegister(localMutationGauge, lastSyncGauge)
}

// RecordLocalMutation updates the local mutation watermark gauge.
func RecordLocalMutation(ts time.Time) {
	if ts.IsZero() {
		return
	}
	localMutationGauge.Set(float64(ts.Unix()))
}

// RecordSyncSucceeded updates the last successful sync watermark gauge.
func RecordSyncSucceeded(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}
