package governor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/adapter/fake"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
	"github.com/moorhen/cartograph/internal/store/memory"
)

func newHarness(t *testing.T, opts Options) (*Governor, store.Store, *fake.Adapter) {
	t.Helper()
	st := memory.New()
	eng := engine.New(st, engine.Options{})
	aws := fake.New("aws-fixture", models.ProviderAWS)
	eng.RegisterAdapter(aws)
	return New(st, eng, opts), st, aws
}

func seedNode(t *testing.T, st store.Store, nativeID string, tags map[string]string) models.Node {
	t.Helper()
	n := models.Node{
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		ResourceType: models.ResourceDatabase,
		NativeID:     nativeID,
		Name:         nativeID,
		Status:       models.StatusRunning,
		Tags:         tags,
	}.WithID()
	require.NoError(t, st.UpsertNodes(context.Background(), []models.Node{n}))
	return n
}

func submit(t *testing.T, g *Governor, sub SubmitRequest) *models.ChangeRequest {
	t.Helper()
	req, err := g.Submit(context.Background(), sub)
	require.NoError(t, err)
	return req
}

func TestRiskScoreActionWeights(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	n := seedNode(t, st, "db-weights", nil)

	cases := []struct {
		action models.RequestAction
		score  int
		level  models.RiskLevel
	}{
		{models.ActionUpdate, 20, models.RiskLow},
		{models.ActionScale, 15, models.RiskLow},
		{models.ActionReconfigure, 25, models.RiskMedium},
		{models.ActionDelete, 55, models.RiskHigh},
	}
	for _, tc := range cases {
		req := &models.ChangeRequest{
			TargetResourceID: n.ID,
			Action:           tc.action,
			InitiatorType:    models.InitiatorHuman,
		}
		risk, err := g.ScoreRisk(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, tc.score, risk.Score, "action %s", tc.action)
		assert.Equal(t, tc.level, risk.Level, "action %s", tc.action)
	}
}

func TestRiskScoreCreateWithoutTarget(t *testing.T) {
	g, _, _ := newHarness(t, Options{})
	risk, err := g.ScoreRisk(context.Background(), &models.ChangeRequest{
		Action:        models.ActionCreate,
		InitiatorType: models.InitiatorHuman,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, risk.Score)
	assert.Equal(t, models.RiskLow, risk.Level)
}

func TestRiskScoreBlastRadiusAndProduction(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	ctx := context.Background()

	root := seedNode(t, st, "db-prod", map[string]string{"env": "prod"})
	a := seedNode(t, st, "svc-a", nil)
	b := seedNode(t, st, "svc-b", nil)
	require.NoError(t, st.UpsertEdges(ctx, []models.Edge{
		models.Edge{SourceNodeID: root.ID, TargetNodeID: a.ID, RelationshipType: models.RelDependsOn}.WithID(),
		models.Edge{SourceNodeID: root.ID, TargetNodeID: b.ID, RelationshipType: models.RelDependsOn}.WithID(),
	}))

	risk, err := g.ScoreRisk(ctx, &models.ChangeRequest{
		TargetResourceID: root.ID,
		Action:           models.ActionDelete,
		InitiatorType:    models.InitiatorHuman,
	})
	require.NoError(t, err)
	// 55 delete + 2 nodes * 2 blast + 10 production
	assert.Equal(t, 69, risk.Score)
	assert.Equal(t, models.RiskHigh, risk.Level)
	assert.Len(t, risk.Factors, 3)
}

func TestRiskScoreAgentWithoutCorrelation(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	n := seedNode(t, st, "db-agent", nil)

	uncorrelated, err := g.ScoreRisk(context.Background(), &models.ChangeRequest{
		TargetResourceID: n.ID,
		Action:           models.ActionUpdate,
		InitiatorType:    models.InitiatorAgent,
	})
	require.NoError(t, err)
	assert.Equal(t, 35, uncorrelated.Score)

	correlated, err := g.ScoreRisk(context.Background(), &models.ChangeRequest{
		TargetResourceID: n.ID,
		Action:           models.ActionUpdate,
		InitiatorType:    models.InitiatorAgent,
		CorrelationID:    "ticket-123",
	})
	require.NoError(t, err)
	assert.Equal(t, 20, correlated.Score)
}

func TestRiskScoreCriticalProperty(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	n := seedNode(t, st, "db-critical", nil)

	risk, err := g.ScoreRisk(context.Background(), &models.ChangeRequest{
		TargetResourceID: n.ID,
		Action:           models.ActionUpdate,
		InitiatorType:    models.InitiatorHuman,
		Properties:       map[string]interface{}{"publiclyAccessible": false},
	})
	require.NoError(t, err)
	assert.Equal(t, 40, risk.Score)
	assert.Equal(t, models.RiskMedium, risk.Level)
}

func TestSubmitAutoApprovesLowAndMediumRisk(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	n := seedNode(t, st, "db-auto", nil)

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		Provider:         models.ProviderAWS,
		Action:           models.ActionUpdate,
		Initiator:        "reconciler",
		InitiatorType:    models.InitiatorSystem,
		Properties:       map[string]interface{}{"publiclyAccessible": false},
	})
	assert.Equal(t, models.RequestApproved, req.Status)
	assert.Equal(t, "policy", req.ApprovedBy)
}

func TestSubmitHoldsHighRiskPending(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	n := seedNode(t, st, "db-hold", nil)

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		Provider:         models.ProviderAWS,
		Action:           models.ActionDelete,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
	})
	assert.Equal(t, models.RequestPending, req.Status)

	pending, err := g.GetPendingRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}

func TestSubmitRejectsPolicyDeniedRequest(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	n := seedNode(t, st, "db-protected", nil)

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		Provider:         models.ProviderAWS,
		Action:           models.ActionDelete,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
		Properties:       map[string]interface{}{"deletionProtection": true},
	})
	assert.Equal(t, models.RequestRejected, req.Status)
	assert.Contains(t, req.FailureReason, "policy violation")
	assert.Contains(t, req.FailureReason, "deny-protected-delete")
}

func TestApproveExecuteCorrelatesChanges(t *testing.T) {
	g, st, aws := newHarness(t, Options{})
	ctx := context.Background()
	n := seedNode(t, st, "db-exec", nil)
	aws.SetDescribed("db-exec", map[string]interface{}{"status": "available"})

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		ResourceType:     models.ResourceDatabase,
		Provider:         models.ProviderAWS,
		Action:           models.ActionDelete,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
	})
	require.Equal(t, models.RequestPending, req.Status)

	approved, err := g.Approve(ctx, req.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, approved.Status)
	assert.Equal(t, "bob", approved.ApprovedBy)

	executed, err := g.Execute(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestExecuted, executed.Status)
	assert.False(t, executed.ExecutedAt.IsZero())

	muts := aws.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, models.ActionDelete, muts[0].Action)
	assert.Equal(t, "db-exec", muts[0].NativeID)

	// Every governor transition on the resource carries the request id.
	changes, err := st.GetChanges(ctx, &models.ChangeFilter{
		TargetID:    n.ID,
		DetectedVia: models.DetectedViaManual,
	})
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	var sawExecution bool
	for _, c := range changes {
		assert.Equal(t, req.ID, c.CorrelationID)
		assert.Equal(t, models.InitiatorSystem, c.InitiatorType)
		if c.ChangeType == models.ChangeNodeDeleted {
			sawExecution = true
		}
	}
	assert.True(t, sawExecution, "execution change missing")
}

func TestExecuteFailureMarksRequestFailed(t *testing.T) {
	g, st, aws := newHarness(t, Options{})
	ctx := context.Background()
	n := seedNode(t, st, "db-fail", nil)
	aws.FailMutate(errors.New("api throttled hard"))

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		ResourceType:     models.ResourceDatabase,
		Provider:         models.ProviderAWS,
		Action:           models.ActionUpdate,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
	})
	require.Equal(t, models.RequestApproved, req.Status)

	failed, err := g.Execute(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestFailed, failed.Status)
	assert.Contains(t, failed.FailureReason, "api throttled hard")
}

func TestExecuteRequiresApprovedState(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	ctx := context.Background()
	n := seedNode(t, st, "db-notyet", nil)

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		Provider:         models.ProviderAWS,
		Action:           models.ActionDelete,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
	})
	require.Equal(t, models.RequestPending, req.Status)

	_, err := g.Execute(ctx, req.ID)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = g.Execute(ctx, "no-such-request")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRejectIsTerminal(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	ctx := context.Background()
	n := seedNode(t, st, "db-reject", nil)

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		Provider:         models.ProviderAWS,
		Action:           models.ActionDelete,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
	})
	rejected, err := g.Reject(ctx, req.ID, "bob", "not during freeze")
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, rejected.Status)
	assert.Equal(t, "not during freeze", rejected.FailureReason)

	_, err = g.Approve(ctx, req.ID, "bob")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestExpireStaleRejectsOldPending(t *testing.T) {
	g, st, _ := newHarness(t, Options{PendingTTL: 10 * time.Millisecond})
	ctx := context.Background()
	n := seedNode(t, st, "db-stale", nil)

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		Provider:         models.ProviderAWS,
		Action:           models.ActionDelete,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
	})
	require.Equal(t, models.RequestPending, req.Status)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, g.ExpireStale(ctx))

	got, err := st.GetChangeRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, got.Status)
	assert.Equal(t, "expired", got.FailureReason)

	pending, err := g.GetPendingRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExpireStaleKeepsFreshPending(t *testing.T) {
	g, st, _ := newHarness(t, Options{PendingTTL: time.Hour})
	ctx := context.Background()
	n := seedNode(t, st, "db-fresh", nil)

	req := submit(t, g, SubmitRequest{
		TargetResourceID: n.ID,
		Provider:         models.ProviderAWS,
		Action:           models.ActionDelete,
		Initiator:        "alice",
		InitiatorType:    models.InitiatorHuman,
	})
	require.NoError(t, g.ExpireStale(ctx))

	got, err := st.GetChangeRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, got.Status)
}

func TestAuditTrailAndSummary(t *testing.T) {
	g, st, _ := newHarness(t, Options{})
	ctx := context.Background()
	a := seedNode(t, st, "db-audit-a", nil)
	b := seedNode(t, st, "db-audit-b", nil)

	submit(t, g, SubmitRequest{ // approved, score 20
		TargetResourceID: a.ID, Provider: models.ProviderAWS,
		Action: models.ActionUpdate, Initiator: "alice", InitiatorType: models.InitiatorHuman,
	})
	submit(t, g, SubmitRequest{ // pending, score 55
		TargetResourceID: b.ID, Provider: models.ProviderAWS,
		Action: models.ActionDelete, Initiator: "alice", InitiatorType: models.InitiatorHuman,
	})
	submit(t, g, SubmitRequest{ // rejected by policy, score 75
		TargetResourceID: b.ID, Provider: models.ProviderAWS,
		Action: models.ActionDelete, Initiator: "alice", InitiatorType: models.InitiatorHuman,
		Properties: map[string]interface{}{"deletionProtection": true},
	})

	byTarget, err := g.GetAuditTrail(ctx, AuditFilter{TargetResourceID: b.ID})
	require.NoError(t, err)
	assert.Len(t, byTarget, 2)

	byAction, err := g.GetAuditTrail(ctx, AuditFilter{Action: models.ActionUpdate})
	require.NoError(t, err)
	assert.Len(t, byAction, 1)

	limited, err := g.GetAuditTrail(ctx, AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	sum, err := g.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalRequests)
	assert.Equal(t, 1, sum.ByStatus[models.RequestApproved])
	assert.Equal(t, 1, sum.ByStatus[models.RequestPending])
	assert.Equal(t, 1, sum.ByStatus[models.RequestRejected])
	assert.Equal(t, 1, sum.PolicyViolationCount)
	assert.InDelta(t, 50.0, sum.AvgRiskScore, 0.01)
}
