package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/adapter/fake"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/governor"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store/memory"
)

type fakeGuard struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (g *fakeGuard) TakeSnapshot(ctx context.Context, trigger models.SnapshotTrigger, label string) (*models.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.calls = append(g.calls, label)
	return &models.Snapshot{ID: "snap", Trigger: trigger, Label: label}, nil
}

func newHarness(t *testing.T, opts Options) (*Reconciler, *fake.Adapter, *MemorySink, *fakeGuard) {
	t.Helper()
	st := memory.New()
	eng := engine.New(st, engine.Options{})
	aws := fake.New("aws-fixture", models.ProviderAWS)
	eng.RegisterAdapter(aws)
	gov := governor.New(st, eng, governor.Options{})
	sink := NewMemorySink()
	guard := &fakeGuard{}
	if opts.Sink == nil {
		opts.Sink = sink
	}
	return New(eng, gov, guard, opts), aws, sink, guard
}

func dbPlan(props map[string]interface{}, cost float64) (*Plan, *Execution) {
	plan := &Plan{
		ID:   "plan-1",
		Name: "payments stack",
		Resources: []PlannedResource{{
			ID:                   "db-1",
			Name:                 "payments-db",
			ResourceType:         models.ResourceDatabase,
			Provider:             models.ProviderAWS,
			Region:               "us-east-1",
			Properties:           props,
			EstimatedCostMonthly: cost,
		}},
	}
	exec := &Execution{
		ID:     "exec-1",
		PlanID: "plan-1",
		Resources: []ProvisionedResource{{
			PlanResourceID: "db-1",
			NativeID:       "rds-123",
		}},
	}
	return plan, exec
}

func TestParsePlanValidation(t *testing.T) {
	_, err := ParsePlan([]byte("name: no-id\n"))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = ParsePlan([]byte(`
id: p1
resources:
  - id: a
  - id: a
`))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	p, err := ParsePlan([]byte(`
id: p1
resources:
  - id: a
    type: database
    provider: aws
    properties:
      publiclyAccessible: false
`))
	require.NoError(t, err)
	require.NotNil(t, p.Resource("a"))
	assert.Equal(t, models.ResourceDatabase, p.Resource("a").ResourceType)
	assert.Nil(t, p.Resource("missing"))
}

func TestDeletedResourceYieldsRecreateAction(t *testing.T) {
	r, _, _, _ := newHarness(t, Options{Rules: []Rule{}})
	plan, exec := dbPlan(map[string]interface{}{"publiclyAccessible": false}, 0)
	// nothing described: the resource is gone

	res, err := r.Reconcile(context.Background(), plan, exec, CycleOptions{})
	require.NoError(t, err)
	require.Len(t, res.Drifts, 1)
	assert.Equal(t, DriftDeleted, res.Drifts[0].Type)
	assert.True(t, res.DriftDetected)

	require.Len(t, res.RecommendedActions, 1)
	got := res.RecommendedActions[0]
	assert.Equal(t, ActionRecreate, got.Type)
	assert.Equal(t, PriorityHigh, got.Priority)
	assert.False(t, got.AutoExecutable)
	assert.True(t, got.ApprovalRequired)
}

func TestCriticalDriftAutoRemediates(t *testing.T) {
	r, aws, _, _ := newHarness(t, Options{AutoRemediate: true, Rules: []Rule{}})
	plan, exec := dbPlan(map[string]interface{}{
		"publiclyAccessible": false,
		"instanceClass":      "db.t3.medium",
	}, 0)
	aws.SetDescribed("rds-123", map[string]interface{}{
		"publiclyAccessible": true,
		"instanceClass":      "db.t3.medium",
		"engine":             "postgres",
	})
	aws.SetMutateApplies(true)

	ctx := context.Background()
	res, err := r.Reconcile(ctx, plan, exec, CycleOptions{})
	require.NoError(t, err)

	require.Len(t, res.Drifts, 1)
	drift := res.Drifts[0]
	assert.Equal(t, DriftConfiguration, drift.Type)
	require.Len(t, drift.Entries, 1)
	assert.Equal(t, "publiclyAccessible", drift.Entries[0].Path)
	assert.Equal(t, engine.SeverityCritical, drift.Entries[0].Severity)

	require.Len(t, res.RecommendedActions, 1)
	action := res.RecommendedActions[0]
	assert.Equal(t, ActionUpdate, action.Type)
	assert.Equal(t, PriorityCritical, action.Priority)
	assert.True(t, action.AutoExecutable)
	assert.False(t, action.ApprovalRequired)

	assert.True(t, res.AutoRemediationApplied)
	muts := aws.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, models.ActionUpdate, muts[0].Action)
	assert.Equal(t, "rds-123", muts[0].NativeID)
	assert.Equal(t, false, muts[0].Properties["publiclyAccessible"])

	// next cycle is clean
	res2, err := r.Reconcile(ctx, plan, exec, CycleOptions{})
	require.NoError(t, err)
	assert.False(t, res2.DriftDetected)
	assert.Empty(t, res2.Drifts)
	assert.Empty(t, res2.RecommendedActions)
}

func TestMediumDriftIsNotAutoExecutable(t *testing.T) {
	r, aws, _, _ := newHarness(t, Options{AutoRemediate: true, Rules: []Rule{}})
	plan, exec := dbPlan(map[string]interface{}{"instanceClass": "db.t3.medium"}, 0)
	aws.SetDescribed("rds-123", map[string]interface{}{"instanceClass": "db.r5.large"})

	res, err := r.Reconcile(context.Background(), plan, exec, CycleOptions{})
	require.NoError(t, err)
	require.Len(t, res.RecommendedActions, 1)
	action := res.RecommendedActions[0]
	assert.Equal(t, ActionUpdate, action.Type)
	assert.Equal(t, PriorityMedium, action.Priority)
	assert.False(t, action.AutoExecutable)
	assert.False(t, res.AutoRemediationApplied)
	assert.Empty(t, aws.Mutations())
}

func TestComplianceViolations(t *testing.T) {
	r, aws, _, _ := newHarness(t, Options{})
	plan, exec := dbPlan(map[string]interface{}{}, 0)
	aws.SetDescribed("rds-123", map[string]interface{}{
		"publiclyAccessible": true,
		"encryption":         false,
		"deletionProtection": false,
	})

	res, err := r.Reconcile(context.Background(), plan, exec, CycleOptions{})
	require.NoError(t, err)
	require.Len(t, res.Violations, 3)

	bySeverity := map[RuleSeverity]int{}
	for _, v := range res.Violations {
		bySeverity[v.Severity]++
	}
	assert.Equal(t, 2, bySeverity[SeverityCritical])
	assert.Equal(t, 1, bySeverity[SeverityMedium])

	var updates, alerts int
	for _, a := range res.RecommendedActions {
		switch a.Type {
		case ActionUpdate:
			updates++
			assert.True(t, a.ApprovalRequired)
		case ActionAlert:
			alerts++
		}
	}
	assert.Equal(t, 2, updates)
	assert.Equal(t, 1, alerts)
}

func TestCostAnomalySpikeAndTrend(t *testing.T) {
	r, aws, _, _ := newHarness(t, Options{Rules: []Rule{}})
	plan, exec := dbPlan(map[string]interface{}{}, 100)
	aws.SetDescribed("rds-123", map[string]interface{}{})

	aws.SetCost("rds-123", 150)
	res, err := r.Reconcile(context.Background(), plan, exec, CycleOptions{})
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	spike := res.Anomalies[0]
	assert.Equal(t, AnomalySpike, spike.Type)
	assert.InDelta(t, 50.0, spike.DeltaPercent, 0.01)
	assert.NotEmpty(t, spike.PossibleCauses)
	// 50% > 2*20% threshold: scale advisory
	require.Len(t, res.RecommendedActions, 1)
	assert.Equal(t, ActionScale, res.RecommendedActions[0].Type)

	aws.SetCost("rds-123", 75)
	res, err = r.Reconcile(context.Background(), plan, exec, CycleOptions{})
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	trend := res.Anomalies[0]
	assert.Equal(t, AnomalyTrend, trend.Type)
	assert.InDelta(t, -25.0, trend.DeltaPercent, 0.01)
	// within 2x threshold: informational alert only
	require.Len(t, res.RecommendedActions, 1)
	assert.Equal(t, ActionAlert, res.RecommendedActions[0].Type)
}

func TestPerResourceFailureIsContained(t *testing.T) {
	r, aws, _, _ := newHarness(t, Options{Rules: []Rule{}})
	plan, exec := dbPlan(map[string]interface{}{"publiclyAccessible": false}, 0)
	plan.Resources = append(plan.Resources, PlannedResource{
		ID:           "cache-1",
		ResourceType: models.ResourceCache,
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		Properties:   map[string]interface{}{"nodes": 2},
	})
	exec.Resources = append(exec.Resources, ProvisionedResource{
		PlanResourceID: "cache-1",
		NativeID:       "cache-abc",
	})
	aws.FailDescribe(errors.New("access denied"))
	aws.SetDescribed("cache-abc", map[string]interface{}{"nodes": 2})

	res, err := r.Reconcile(context.Background(), plan, exec, CycleOptions{})
	require.NoError(t, err)
	require.Len(t, res.ResourceErrors, 1)
	assert.Contains(t, res.ResourceErrors[0], "db-1")
	assert.Empty(t, res.Drifts)
}

func TestReportPublishedToSink(t *testing.T) {
	r, aws, sink, _ := newHarness(t, Options{Rules: []Rule{}})
	plan, exec := dbPlan(map[string]interface{}{"publiclyAccessible": false}, 0)
	aws.SetDescribed("rds-123", map[string]interface{}{"publiclyAccessible": true})

	_, err := r.Reconcile(context.Background(), plan, exec, CycleOptions{})
	require.NoError(t, err)

	reports := sink.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "plan-1", reports[0].PlanID)
	assert.Equal(t, "exec-1", reports[0].ExecutionID)
	assert.Equal(t, 1, reports[0].DriftCount)
}

func TestDecommissionGuardsStatefulResources(t *testing.T) {
	r, aws, _, guard := newHarness(t, Options{Rules: []Rule{}})
	plan, _ := dbPlan(map[string]interface{}{"publiclyAccessible": false}, 0)
	aws.SetDescribed("rds-123", map[string]interface{}{})

	err := r.ExecuteAction(context.Background(), plan, Action{
		Type:           ActionDelete,
		PlanResourceID: "db-1",
		NativeID:       "rds-123",
	})
	require.NoError(t, err)
	require.Len(t, guard.calls, 1)
	assert.Contains(t, guard.calls[0], "pre-destroy")

	// shutdown update executed; the delete itself is high risk and holds
	muts := aws.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, models.ActionUpdate, muts[0].Action)
	assert.Equal(t, "stopped", muts[0].Properties["desiredStatus"])
}

func TestDecommissionAbortsWhenGuardFails(t *testing.T) {
	r, aws, _, guard := newHarness(t, Options{Rules: []Rule{}})
	guard.err = errors.New("snapshot store unavailable")
	plan, _ := dbPlan(map[string]interface{}{}, 0)

	err := r.ExecuteAction(context.Background(), plan, Action{
		Type:           ActionDelete,
		PlanResourceID: "db-1",
		NativeID:       "rds-123",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final snapshot guard")
	assert.Empty(t, aws.Mutations())
}

func TestUnsupportedUpdateDegradesToAlert(t *testing.T) {
	sink := NewMemorySink()
	r, _, _, _ := newHarness(t, Options{Rules: []Rule{}, Sink: sink})
	plan := &Plan{
		ID: "plan-net",
		Resources: []PlannedResource{{
			ID:           "net-1",
			ResourceType: models.ResourceNetwork,
			Provider:     models.ProviderAWS,
			Region:       "us-east-1",
		}},
	}

	err := r.ExecuteAction(context.Background(), plan, Action{
		Type:           ActionUpdate,
		PlanResourceID: "net-1",
		NativeID:       "vpc-1",
	})
	require.NoError(t, err)
	reports := sink.Reports()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Message, "update not supported")
}
