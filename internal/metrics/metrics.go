// Package metrics holds the prometheus collectors of the scheduling service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_admission_decisions_total",
			Help: "Admission controller decisions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	lockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinic_lock_wait_seconds",
			Help:    "Time spent waiting for a doctor/day lock",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_notifications_total",
			Help: "Notification deliveries by sink and result",
		},
		[]string{"sink", "result"},
	)

	notificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch buffer was full or closed",
		},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinic_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func ObserveDecision(operation, outcome string) {
	admissionDecisions.WithLabelValues(operation, outcome).Inc()
}

func ObserveLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

func ObserveNotification(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notifications.WithLabelValues(sink, result).Inc()
}

func NotificationDropped() {
	notificationsDropped.Inc()
}

func ObserveHTTP(method, route, status string, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
