package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserversRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveSyncCycle(250*time.Millisecond, 42)
	m.ObserveSyncCycle(100*time.Millisecond, 40)
	m.ObserveSyncError()
	m.ObserveAlerts(map[string]int{"orphan": 2, "spof": 1}, 3)
	m.ObserveReconcileCycle(4)
	m.ObserveRemediation("success")
	m.ObserveRemediation("failure")
	m.ObserveRequest("approved", 20)
	m.ObserveRequest("pending", 69)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncCyclesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncErrorsTotal))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.NodesTracked))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("orphan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("spof")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AlertsSuppressed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileCyclesTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DriftsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemediationsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemediationsTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("approved")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSyncCycle(time.Second, 1)
	m.ObserveSyncError()
	m.ObserveAlerts(map[string]int{"orphan": 1}, 1)
	m.ObserveReconcileCycle(1)
	m.ObserveRemediation("success")
	m.ObserveRequest("approved", 10)
}
