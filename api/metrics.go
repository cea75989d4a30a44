package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// Metrics holds the collectors exported on /metrics. Each instance owns its
// registry so tests can build as many servers as they like.
type Metrics struct {
	registry *prometheus.Registry

	Decisions       *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	BalancesFixed   prometheus.Counter
	LedgerRevision  prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leal",
			Name:      "decisions_total",
			Help:      "Staff and admin decisions by claim kind, target status and outcome.",
		}, []string{"kind", "to", "outcome"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leal",
			Name:      "claims_total",
			Help:      "Customer claims by kind and outcome.",
		}, []string{"kind", "outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "leal",
			Name:      "queue_depth",
			Help:      "Pending claims waiting for staff.",
		}, []string{"kind"}),
		BalancesFixed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leal",
			Name:      "balance_corrections_total",
			Help:      "Cached balances rewritten by reconciliation.",
		}),
		LedgerRevision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leal",
			Name:      "ledger_revision",
			Help:      "Latest ledger revision seen by the staff queue.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leal",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP latency by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.Decisions,
		m.Requests,
		m.QueueDepth,
		m.BalancesFixed,
		m.LedgerRevision,
		m.RequestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) decision(kind loyalty.ClaimKind, to loyalty.Status, err error) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(string(kind), string(to), string(loyalty.Classify(err))).Inc()
}

func (m *Metrics) claim(kind loyalty.ClaimKind, err error) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(string(kind), string(loyalty.Classify(err))).Inc()
}

// ObserveQueue records the depth and revision of a staff queue snapshot.
func (m *Metrics) ObserveQueue(revision int64, visits, redemptions int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(string(loyalty.KindVisit)).Set(float64(visits))
	m.QueueDepth.WithLabelValues(string(loyalty.KindRedemption)).Set(float64(redemptions))
	m.LedgerRevision.Set(float64(revision))
}

func (m *Metrics) corrected(n int) {
	if m == nil || n == 0 {
		return
	}
	m.BalancesFixed.Add(float64(n))
}
