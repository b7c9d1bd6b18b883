// Package metrics holds the Prometheus instrumentation for sync cycles,
// alerting, reconciliation and governance decisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for platform observability. All recording
// helpers are nil-receiver safe, so components can carry an optional
// *Metrics without branching.
type Metrics struct {
	registry prometheus.Registerer

	SyncCyclesTotal  prometheus.Counter     // completed monitor sync cycles
	SyncErrorsTotal  prometheus.Counter     // sync cycles that failed outright
	SyncDuration     prometheus.Histogram   // wall time per sync cycle
	NodesTracked     prometheus.Gauge       // nodes in the graph after last sync
	AlertsTotal      *prometheus.CounterVec // dispatched alerts by category
	AlertsSuppressed prometheus.Counter     // alerts suppressed by cooldown

	ReconcileCyclesTotal prometheus.Counter     // completed reconcile cycles
	DriftsTotal          prometheus.Counter     // drifts detected
	RemediationsTotal    *prometheus.CounterVec // remediation attempts by outcome

	RequestsTotal *prometheus.CounterVec // change requests by resulting status
	RiskScore     prometheus.Histogram   // risk score distribution
}

// NewMetrics creates and registers all metrics with the given registerer.
// Tests pass a fresh registry; the serve command passes the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registry: reg,
		SyncCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartograph_sync_cycles_total",
			Help: "Total number of completed sync cycles",
		}),
		SyncErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartograph_sync_errors_total",
			Help: "Total number of sync cycles that failed",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cartograph_sync_duration_seconds",
			Help:    "Wall time per sync cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		NodesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cartograph_nodes_tracked",
			Help: "Nodes in the graph after the last sync cycle",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartograph_alerts_total",
			Help: "Total number of dispatched alerts",
		}, []string{"category"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartograph_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by rule cooldown",
		}),
		ReconcileCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartograph_reconcile_cycles_total",
			Help: "Total number of completed reconcile cycles",
		}),
		DriftsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cartograph_drifts_detected_total",
			Help: "Total number of detected resource drifts",
		}),
		RemediationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartograph_remediations_total",
			Help: "Total number of auto-remediation attempts",
		}, []string{"outcome"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cartograph_change_requests_total",
			Help: "Total number of submitted change requests",
		}, []string{"status"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cartograph_risk_score",
			Help:    "Risk score distribution of submitted change requests",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}

	reg.MustRegister(
		m.SyncCyclesTotal, m.SyncErrorsTotal, m.SyncDuration, m.NodesTracked,
		m.AlertsTotal, m.AlertsSuppressed,
		m.ReconcileCyclesTotal, m.DriftsTotal, m.RemediationsTotal,
		m.RequestsTotal, m.RiskScore,
	)
	return m
}

// Default registers against the global Prometheus registry.
func Default() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// Handler serves the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSyncCycle records one completed sync cycle.
func (m *Metrics) ObserveSyncCycle(duration time.Duration, totalNodes int) {
	if m == nil {
		return
	}
	m.SyncCyclesTotal.Inc()
	m.SyncDuration.Observe(duration.Seconds())
	m.NodesTracked.Set(float64(totalNodes))
}

// ObserveSyncError records a failed sync cycle.
func (m *Metrics) ObserveSyncError() {
	if m == nil {
		return
	}
	m.SyncErrorsTotal.Inc()
}

// ObserveAlerts records dispatched and suppressed alert counts.
func (m *Metrics) ObserveAlerts(byCategory map[string]int, suppressed int) {
	if m == nil {
		return
	}
	for category, n := range byCategory {
		m.AlertsTotal.WithLabelValues(category).Add(float64(n))
	}
	m.AlertsSuppressed.Add(float64(suppressed))
}

// ObserveReconcileCycle records one reconcile cycle.
func (m *Metrics) ObserveReconcileCycle(drifts int) {
	if m == nil {
		return
	}
	m.ReconcileCyclesTotal.Inc()
	m.DriftsTotal.Add(float64(drifts))
}

// ObserveRemediation records one auto-remediation attempt.
func (m *Metrics) ObserveRemediation(outcome string) {
	if m == nil {
		return
	}
	m.RemediationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRequest records a submitted change request's resulting status and
// risk score.
func (m *Metrics) ObserveRequest(status string, riskScore int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.RiskScore.Observe(float64(riskScore))
}
