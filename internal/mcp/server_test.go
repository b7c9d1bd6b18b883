package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/adapter/fake"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/governor"
	"github.com/moorhen/cartograph/internal/iql"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/monitor"
	"github.com/moorhen/cartograph/internal/reconciler"
	"github.com/moorhen/cartograph/internal/store/memory"
	"github.com/moorhen/cartograph/internal/temporal"
)

func newHarness(t *testing.T) (*Server, *governor.Governor, *fake.Adapter) {
	t.Helper()
	st := memory.New()
	eng := engine.New(st, engine.Options{})
	aws := fake.New("aws-fixture", models.ProviderAWS)
	eng.RegisterAdapter(aws)

	ts := temporal.New(st)
	gov := governor.New(st, eng, governor.Options{})
	rec := reconciler.New(eng, gov, ts, reconciler.Options{Sink: reconciler.NewMemorySink()})
	mon := monitor.New(eng, monitor.Options{
		Dispatchers: []monitor.Dispatcher{monitor.NewCallbackDispatcher(func([]monitor.Alert) {})},
	})

	srv := NewServer(Options{
		Engine:     eng,
		Executor:   iql.NewExecutor(st),
		Temporal:   ts,
		Governor:   gov,
		Reconciler: rec,
		Monitor:    mon,
		Version:    "test",
	})
	return srv, gov, aws
}

func seedFixture(t *testing.T, srv *Server, aws *fake.Adapter) {
	t.Helper()
	aws.SetDiscovery([]adapter.NodeInput{{
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		ResourceType: models.ResourceDatabase,
		NativeID:     "db-1",
		Name:         "orders-db",
		Status:       models.StatusRunning,
		CostMonthly:  250,
	}}, nil)
	res, err := srv.Execute(context.Background(), "run_monitor_cycle", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestServerRegistersAllTools(t *testing.T) {
	srv, _, _ := newHarness(t)
	expected := []string{
		"graph_query", "graph_stats", "blast_radius", "dependency_chain",
		"detect_drift", "cost_by_filter", "time_travel", "snapshot_diff",
		"pending_requests", "approve_request", "reject_request", "audit_trail",
		"reconcile_now", "run_monitor_cycle",
	}
	assert.ElementsMatch(t, expected, srv.ToolNames())
	assert.NotNil(t, srv.GetMCPServer())
}

func TestGraphQueryTool(t *testing.T) {
	srv, _, aws := newHarness(t)
	seedFixture(t, srv, aws)

	res, err := srv.Execute(context.Background(),
		"graph_query", json.RawMessage(`{"query":"FIND resources WHERE type = \"database\""}`))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "1 results")
}

func TestGraphQuerySyntaxErrorReturnsExamples(t *testing.T) {
	srv, _, _ := newHarness(t)

	res, err := srv.Execute(context.Background(),
		"graph_query", json.RawMessage(`{"query":"FIND WHERE ="}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	data, ok := res.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["exampleQueries"])
}

func TestBlastRadiusUnknownNodeFails(t *testing.T) {
	srv, _, _ := newHarness(t)

	res, err := srv.Execute(context.Background(),
		"blast_radius", json.RawMessage(`{"nodeId":"aws::us-east-1:database:nope"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestReconcileNowWithoutPlan(t *testing.T) {
	srv, _, _ := newHarness(t)

	res, err := srv.Execute(context.Background(), "reconcile_now", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no reconciliation plan")
}

func TestApprovalWorkflowTools(t *testing.T) {
	srv, gov, aws := newHarness(t)
	seedFixture(t, srv, aws)
	ctx := context.Background()

	req, err := gov.Submit(ctx, governor.SubmitRequest{
		TargetResourceID: "aws::us-east-1:database:db-1",
		ResourceType:     models.ResourceDatabase,
		Provider:         models.ProviderAWS,
		Action:           models.ActionDelete,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
	})
	require.NoError(t, err)
	require.Equal(t, models.RequestPending, req.Status)

	res, err := srv.Execute(ctx, "pending_requests", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "1 requests pending")

	input, _ := json.Marshal(map[string]string{
		"requestId": req.ID, "rejecter": "bob", "reason": "too risky",
	})
	res, err = srv.Execute(ctx, "reject_request", json.RawMessage(input))
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = srv.Execute(ctx, "audit_trail", json.RawMessage(`{"action":"delete"}`))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "1 requests")
}

func TestApproveRequestUnknownIDFails(t *testing.T) {
	srv, _, _ := newHarness(t)

	res, err := srv.Execute(context.Background(),
		"approve_request", json.RawMessage(`{"requestId":"missing","approver":"alice"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestUnknownToolIsAnError(t *testing.T) {
	srv, _, _ := newHarness(t)

	_, err := srv.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestGraphStatsAfterSync(t *testing.T) {
	srv, _, aws := newHarness(t)
	seedFixture(t, srv, aws)

	res, err := srv.Execute(context.Background(), "graph_stats", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "1 nodes")
}
