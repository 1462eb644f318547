package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnsync",
		Subsystem: "telemetry",
		Name:      "events_published_total",
		Help:      "Number of sync session events written to Kafka, labeled by session outcome.",
	}, []string{"outcome"})

	publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "learnsync",
		Subsystem: "telemetry",
		Name:      "events_failed_total",
		Help:      "Number of sync session events that could not be published.",
	})
)

func init() {
	prometheus.MustRegister(published, publishFailures)
}
