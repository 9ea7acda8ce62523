package api

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/bakery-scheduler/capacity"
)

// Commit paths.
const (
	PathCheckout = "checkout"
	PathAdmin    = "admin"
)

// Metrics holds the scheduler's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Commits         *prometheus.CounterVec
	Overrides       prometheus.Counter
	StaleConflicts  prometheus.Counter
	OverbookedDates prometheus.Gauge
}

// NewMetrics registers the collectors plus Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bakery_order_commits_total",
			Help: "Delivery-date commits by path and result.",
		}, []string{"path", "result"}),
		Overrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakery_capacity_overrides_total",
			Help: "Dates forced past capacity by an admin override.",
		}),
		StaleConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bakery_stale_snapshot_conflicts_total",
			Help: "Commits rejected because availability changed since the snapshot.",
		}),
		OverbookedDates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bakery_overbooked_dates",
			Help: "Dates in the lookahead window with negative remaining minutes.",
		}),
	}
	m.Registry.MustRegister(
		m.Commits, m.Overrides, m.StaleConflicts, m.OverbookedDates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveCommit records one commit attempt.
func (m *Metrics) ObserveCommit(path string, overridden int, err error) {
	m.Commits.WithLabelValues(path, commitResult(err)).Inc()
	if errors.Is(err, capacity.ErrStaleSnapshot) {
		m.StaleConflicts.Inc()
	}
	if err == nil && overridden > 0 {
		m.Overrides.Add(float64(overridden))
	}
}

func commitResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, capacity.ErrStaleSnapshot):
		return "stale"
	case errors.Is(err, capacity.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, capacity.ErrDateUnavailable):
		return "date_unavailable"
	case capacity.IsClientError(err), capacity.IsNotFound(err):
		return "rejected"
	default:
		return "error"
	}
}
