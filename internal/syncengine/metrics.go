package syncengine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/learnsync/internal/domain"
)

var (
	sessionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnsync",
		Subsystem: "sync",
		Name:      "sessions_total",
		Help:      "Number of sync attempts, labeled by outcome.",
	}, []string{"outcome"})

	sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "learnsync",
		Subsystem: "sync",
		Name:      "session_duration_seconds",
		Help:      "Time spent running sync sessions that acquired the guard.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	pushedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnsync",
		Subsystem: "sync",
		Name:      "records_pushed_total",
		Help:      "Number of records acknowledged by the backend, labeled by kind.",
	}, []string{"kind"})

	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnsync",
		Subsystem: "sync",
		Name:      "records_skipped_total",
		Help:      "Number of malformed records left dirty instead of pushed, labeled by kind.",
	}, []string{"kind"})

	adoptedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnsync",
		Subsystem: "sync",
		Name:      "records_adopted_total",
		Help:      "Number of records reassigned to the signed-in identity, labeled by kind.",
	}, []string{"kind"})

	triggerCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnsync",
		Subsystem: "sync",
		Name:      "triggers_total",
		Help:      "Number of sync triggers received, labeled by signal.",
	}, []string{"signal"})
)

func init() {
	prometheus.MustRegister(sessionsCounter, sessionDuration, pushedCounter, skippedCounter, adoptedCounter, triggerCounter)
}

func recordSession(outcome Outcome) {
	sessionsCounter.WithLabelValues(string(outcome)).Inc()
}

func recordDuration(d time.Duration) {
	sessionDuration.Observe(d.Seconds())
}

func recordPushed(kind domain.Kind, n int) {
	if n > 0 {
		pushedCounter.WithLabelValues(string(kind)).Add(float64(n))
	}
}

func recordSkipped(kind domain.Kind, n int) {
	if n > 0 {
		skippedCounter.WithLabelValues(string(kind)).Add(float64(n))
	}
}

func recordAdopted(kind domain.Kind, n int) {
	if n > 0 {
		adoptedCounter.WithLabelValues(string(kind)).Add(float64(n))
	}
}

func recordTrigger(signal Signal) {
	triggerCounter.WithLabelValues(string(signal)).Inc()
}
