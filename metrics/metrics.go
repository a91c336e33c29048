// Package metrics holds the Prometheus collectors for tapcount.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Increment outcomes used as the "result" label.
const (
	ResultSuccess     = "success"
	ResultProbe       = "probe"
	ResultInvalid     = "invalid"
	ResultCooldown    = "cooldown"
	ResultConsecutive = "consecutive"
	ResultError       = "error"
)

// Metrics holds all Prometheus metrics for tapcount.
// Pass to components that need to record metrics.
type Metrics struct {
	IncrementsTotal *prometheus.CounterVec
	TxRetriesTotal  prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		IncrementsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tapcount",
				Name:      "increments_total",
				Help:      "Increment attempts by outcome",
			},
			[]string{"result"},
		),
		TxRetriesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "tapcount",
				Name:      "tx_retries_total",
				Help:      "Increment transactions retried after a watched key changed",
			},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tapcount",
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tapcount",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// Increment records one increment attempt outcome. Safe on a nil receiver.
func (m *Metrics) Increment(result string) {
	if m == nil {
		return
	}
	m.IncrementsTotal.WithLabelValues(result).Inc()
}

// TxRetry records one transaction conflict. Safe on a nil receiver.
func (m *Metrics) TxRetry() {
	if m == nil {
		return
	}
	m.TxRetriesTotal.Inc()
}
