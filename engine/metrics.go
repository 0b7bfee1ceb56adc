package engine

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes per-API invocation counters and latencies.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	deniedTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics builds the metric set and registers it on reg. A nil reg
// leaves the metrics unregistered, which tests use to avoid collisions on
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgemock",
			Name:      "requests_total",
			Help:      "Invocations handled, by API and response status code.",
		}, []string{"api_id", "code"}),
		deniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgemock",
			Name:      "requests_denied_total",
			Help:      "Invocations rejected by the usage gate, by API and error type.",
		}, []string{"api_id", "reason"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edgemock",
			Name:      "request_duration_seconds",
			Help:      "Invocation latency from receipt to response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"api_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.deniedTotal, m.requestDuration)
	}
	return m
}

func (m *Metrics) observe(apiID string, status int, errorType string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(apiID, strconv.Itoa(status)).Inc()
	if status == 403 || status == 429 {
		m.deniedTotal.WithLabelValues(apiID, errorType).Inc()
	}
	m.requestDuration.WithLabelValues(apiID).Observe(elapsed.Seconds())
}
