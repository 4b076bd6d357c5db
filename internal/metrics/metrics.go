// Package metrics exposes Prometheus collectors for the lotto layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the application collectors. A nil *Metrics is valid and
// records nothing, so services can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	roundsCreated   prometheus.Counter
	roundsClosed    prometheus.Counter
	roundsDeleted   prometheus.Counter
	deposits        prometheus.Counter
	depositVolume   prometheus.Counter
	drawsFulfilled  prometheus.Counter
	winnersSelected prometheus.Counter
	payouts         prometheus.Counter
	payoutVolume    prometheus.Counter
}

// New constructs the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lotto_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotto_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lotto_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		roundsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "rounds", Name: "created_total",
			Help: "Total lottery rounds created.",
		}),
		roundsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "rounds", Name: "closed_total",
			Help: "Total lottery rounds closed.",
		}),
		roundsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "rounds", Name: "deleted_total",
			Help: "Total lottery rounds deleted.",
		}),
		deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "deposits", Name: "total",
			Help: "Total deposits recorded.",
		}),
		depositVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "deposits", Name: "volume_total",
			Help: "Total deposited value in the pool accounting unit.",
		}),
		drawsFulfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "randomness", Name: "draws_fulfilled_total",
			Help: "Total random draws received.",
		}),
		winnersSelected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "selection", Name: "winners_total",
			Help: "Total winners committed by the selection scan.",
		}),
		payouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "payouts", Name: "total",
			Help: "Total winner payouts executed.",
		}),
		payoutVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lotto_layer", Subsystem: "payouts", Name: "volume_total",
			Help: "Total value paid out to winners.",
		}),
	}

	registry.MustRegister(m.httpInFlight, m.httpRequests, m.httpDuration,
		m.roundsCreated, m.roundsClosed, m.roundsDeleted,
		m.deposits, m.depositVolume, m.drawsFulfilled,
		m.winnersSelected, m.payouts, m.payoutVolume)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() {
	if m != nil {
		m.httpInFlight.Inc()
	}
}

func (m *Metrics) DecrementInFlight() {
	if m != nil {
		m.httpInFlight.Dec()
	}
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordRoundCreated() {
	if m != nil {
		m.roundsCreated.Inc()
	}
}

func (m *Metrics) RecordRoundClosed() {
	if m != nil {
		m.roundsClosed.Inc()
	}
}

func (m *Metrics) RecordRoundDeleted() {
	if m != nil {
		m.roundsDeleted.Inc()
	}
}

func (m *Metrics) RecordDeposit(amount int64) {
	if m == nil {
		return
	}
	m.deposits.Inc()
	m.depositVolume.Add(float64(amount))
}

func (m *Metrics) RecordDrawFulfilled() {
	if m != nil {
		m.drawsFulfilled.Inc()
	}
}

func (m *Metrics) RecordWinnerSelected() {
	if m != nil {
		m.winnersSelected.Inc()
	}
}

func (m *Metrics) RecordPayout(amount int64) {
	if m == nil {
		return
	}
	m.payouts.Inc()
	m.payoutVolume.Add(float64(amount))
}
