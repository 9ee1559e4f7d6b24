// Package metrics exposes Prometheus metrics of the tracker service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backfill outcomes.
const (
	OutcomeFound          = "found"
	OutcomeNotFound       = "not_found"
	OutcomeDecodeFailure  = "decode_failure"
	OutcomeGatewayFailure = "gateway_failure"
)

var (
	BackfillTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtracker_backfill_total",
			Help: "History backfills of live device state by field and outcome",
		},
		[]string{"field", "outcome"},
	)

	HistoryQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidtracker_history_query_duration_seconds",
			Help:    "Latency of history store queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtracker_reports_total",
			Help: "Report requests by result",
		},
		[]string{"result"},
	)

	MessagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidtracker_messages_ingested_total",
			Help: "Device messages received from MQTT by type and result",
		},
		[]string{"type", "result"},
	)

	LiveDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kidtracker_live_devices",
			Help: "Devices present in the live registry",
		},
	)
)

func init() {
	prometheus.MustRegister(BackfillTotal)
	prometheus.MustRegister(HistoryQueryDuration)
	prometheus.MustRegister(ReportsTotal)
	prometheus.MustRegister(MessagesIngested)
	prometheus.MustRegister(LiveDevices)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in h.
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
