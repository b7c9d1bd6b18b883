package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moorhen/cartograph/internal/monitor"
	"github.com/moorhen/cartograph/internal/reconciler"
)

// ReconcileNowTool triggers one reconcile cycle for the configured plan.
type ReconcileNowTool struct {
	reconciler *reconciler.Reconciler
	plan       *reconciler.Plan
	execution  *reconciler.Execution
}

// NewReconcileNowTool wraps the reconciler with its configured plan and
// execution. Both may be nil when no plan is configured.
func NewReconcileNowTool(r *reconciler.Reconciler, plan *reconciler.Plan, exec *reconciler.Execution) *ReconcileNowTool {
	return &ReconcileNowTool{reconciler: r, plan: plan, execution: exec}
}

type reconcileNowInput struct {
	AutoRemediate *bool `json:"autoRemediate,omitempty"`
}

// Execute implements Tool.
func (t *ReconcileNowTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params reconcileNowInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if t.plan == nil || t.execution == nil {
		return Fail("no reconciliation plan is configured", nil), nil
	}

	result, err := t.reconciler.Reconcile(ctx, t.plan, t.execution, reconciler.CycleOptions{
		AutoRemediate: params.AutoRemediate,
	})
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d drifts, %d violations, %d anomalies, %d actions",
		len(result.Drifts), len(result.Violations), len(result.Anomalies),
		len(result.RecommendedActions)), result), nil
}

// RunMonitorCycleTool triggers one monitor sync/alert cycle.
type RunMonitorCycleTool struct {
	monitor *monitor.Monitor
}

// NewRunMonitorCycleTool wraps the monitor.
func NewRunMonitorCycleTool(m *monitor.Monitor) *RunMonitorCycleTool {
	return &RunMonitorCycleTool{monitor: m}
}

// Execute implements Tool.
func (t *RunMonitorCycleTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	result, err := t.monitor.RunOneCycle(ctx)
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d alerts dispatched, %d suppressed",
		len(result.Alerts), result.Suppressed), result), nil
}
