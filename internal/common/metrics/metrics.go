// internal/common/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_verifications_total",
			Help: "Total number of completed verification calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rejections_total",
			Help: "Total number of rejected verification requests by reason",
		},
		[]string{"reason"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_seconds",
			Help:    "Duration of siteverify calls in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "status"},
	)

	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_requests_in_flight",
			Help: "Number of verification requests currently being relayed",
		},
	)
)

// ObserveUpstream records one siteverify round trip. status is the HTTP
// status class ("2xx", "5xx") or "error" when no response arrived.
func ObserveUpstream(provider, status string, elapsed time.Duration) {
	UpstreamDuration.WithLabelValues(provider, status).Observe(elapsed.Seconds())
}

// StatusClass buckets an HTTP status code for metric labels.
func StatusClass(code int) string {
	switch {
	case code <= 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
