package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/adapter/fake"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store/memory"
)

func computeInput(nativeID string, cost float64) adapter.NodeInput {
	return adapter.NodeInput{
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		ResourceType: models.ResourceCompute,
		NativeID:     nativeID,
		Name:         nativeID,
		Status:       models.StatusRunning,
		CostMonthly:  cost,
	}
}

func ref(resourceType models.ResourceType, nativeID string) adapter.NodeRef {
	return adapter.NodeRef{
		Provider: models.ProviderAWS, Region: "us-east-1",
		ResourceType: resourceType, NativeID: nativeID,
	}
}

func TestSyncUpsertsNodesThenEdges(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	a := fake.New("aws", models.ProviderAWS)
	a.SetDiscovery(
		[]adapter.NodeInput{computeInput("i-1", 10), computeInput("i-2", 20)},
		[]adapter.EdgeInput{{
			Source:           ref(models.ResourceCompute, "i-1"),
			Target:           ref(models.ResourceCompute, "i-2"),
			RelationshipType: models.RelConnectedTo,
		}},
	)
	eng.RegisterAdapter(a)

	records, err := eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.SyncCompleted, records[0].Status)
	assert.Equal(t, 2, records[0].NodesDiscovered)
	assert.Equal(t, 0, records[0].NodesDrifted)

	stats, err := st.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalNodes)
	assert.Equal(t, 1, stats.TotalEdges)
}

func TestSyncOrdersAdaptersByDependency(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	// The kubernetes adapter's edges reference the aws adapter's nodes, so
	// aws must be upserted first.
	aws := fake.New("aws", models.ProviderAWS)
	aws.SetDiscovery([]adapter.NodeInput{computeInput("i-1", 10)}, nil)

	k8s := fake.New("kubernetes", models.ProviderKubernetes, "aws")
	k8s.SetDiscovery(
		[]adapter.NodeInput{{
			Provider:     models.ProviderKubernetes,
			Region:       "us-east-1",
			ResourceType: models.ResourceContainer,
			NativeID:     "pod-1",
			Name:         "pod-1",
			Status:       models.StatusRunning,
		}},
		[]adapter.EdgeInput{{
			Source: adapter.NodeRef{
				Provider: models.ProviderKubernetes, Region: "us-east-1",
				ResourceType: models.ResourceContainer, NativeID: "pod-1",
			},
			Target:           ref(models.ResourceCompute, "i-1"),
			RelationshipType: models.RelRunsIn,
		}},
	)
	eng.RegisterAdapter(k8s)
	eng.RegisterAdapter(aws)

	records, err := eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, models.SyncCompleted, rec.Status, "provider %s", rec.Provider)
	}

	edges, err := st.QueryEdges(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestSyncContainsAdapterFailure(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	good := fake.New("aws", models.ProviderAWS)
	good.SetDiscovery([]adapter.NodeInput{computeInput("i-1", 10)}, nil)
	bad := fake.New("gcp", models.ProviderGCP)
	bad.FailDiscover(errors.New("credentials expired"))

	eng.RegisterAdapter(good)
	eng.RegisterAdapter(bad)

	records, err := eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	byProvider := map[models.Provider]models.SyncRecord{}
	for _, rec := range records {
		byProvider[rec.Provider] = rec
	}
	assert.Equal(t, models.SyncCompleted, byProvider[models.ProviderAWS].Status)
	assert.Equal(t, models.SyncFailed, byProvider[models.ProviderGCP].Status)
	assert.Contains(t, byProvider[models.ProviderGCP].Error, "credentials expired")
}

// A cycle aborted before discovery still persists an identifiable record
// per adapter.
func TestSyncCancelledBeforeDiscoveryRecordsProvider(t *testing.T) {
	st := memory.New()
	eng := New(st, Options{})

	a := fake.New("aws", models.ProviderAWS)
	a.SetDiscovery([]adapter.NodeInput{computeInput("i-1", 10)}, nil)
	eng.RegisterAdapter(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.ProviderAWS, rec.Provider)
	assert.False(t, rec.StartedAt.IsZero())
	assert.Equal(t, models.SyncPartial, rec.Status)
}

// A node must miss two consecutive cycles, with describe confirming absence,
// before it is declared disappeared.
func TestSyncTwoMissDisappearance(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	a := fake.New("aws", models.ProviderAWS)
	a.SetDiscovery([]adapter.NodeInput{computeInput("i-abc", 10)}, nil)
	eng.RegisterAdapter(a)

	_, err := eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	nodeID := models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceCompute, "i-abc")

	// First miss: no disappearance yet.
	a.RemoveNode("i-abc")
	records, err := eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, records[0].NodesDisappeared)
	changes, err := st.GetChanges(ctx, &models.ChangeFilter{
		TargetID:    nodeID,
		ChangeTypes: []models.ChangeType{models.ChangeNodeDisappeared},
	})
	require.NoError(t, err)
	assert.Empty(t, changes)

	// Second consecutive miss: disappeared.
	records, err = eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, records[0].NodesDisappeared)
	changes, err = st.GetChanges(ctx, &models.ChangeFilter{
		TargetID:    nodeID,
		ChangeTypes: []models.ChangeType{models.ChangeNodeDisappeared},
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)

	node, err := st.GetNode(ctx, nodeID)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, models.StatusUnknown, node.Status)
}

func TestSyncMissResetWhenSeenAgain(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	a := fake.New("aws", models.ProviderAWS)
	inventory := []adapter.NodeInput{computeInput("i-abc", 10)}
	a.SetDiscovery(inventory, nil)
	eng.RegisterAdapter(a)

	_, err := eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	// Miss once, reappear, then miss once more: still alive.
	a.RemoveNode("i-abc")
	_, err = eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	a.SetDiscovery(inventory, nil)
	_, err = eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	a.RemoveNode("i-abc")
	records, err := eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, records[0].NodesDisappeared)
}

func TestBlastRadiusBucketsPerHop(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	lb := models.Node{Provider: models.ProviderAWS, Region: "us-east-1", ResourceType: models.ResourceLoadBalancer, NativeID: "lb", Name: "lb", Status: models.StatusRunning, CostMonthly: 30}.WithID()
	api := models.Node{Provider: models.ProviderAWS, Region: "us-east-1", ResourceType: models.ResourceAPI, NativeID: "api", Name: "api", Status: models.StatusRunning, CostMonthly: 50}.WithID()
	db := models.Node{Provider: models.ProviderAWS, Region: "us-east-1", ResourceType: models.ResourceDatabase, NativeID: "db", Name: "db", Status: models.StatusRunning, CostMonthly: 200}.WithID()
	require.NoError(t, st.UpsertNodes(ctx, []models.Node{lb, api, db}))
	require.NoError(t, st.UpsertEdges(ctx, []models.Edge{
		models.Edge{SourceNodeID: lb.ID, TargetNodeID: api.ID, RelationshipType: models.RelConnectedTo}.WithID(),
		models.Edge{SourceNodeID: api.ID, TargetNodeID: db.ID, RelationshipType: models.RelDependsOn}.WithID(),
	}))

	br, err := eng.GetBlastRadius(ctx, lb.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, br.TotalCount)
	assert.InDelta(t, 250, br.TotalCostMonthly, 0.01)
	require.Len(t, br.NodeIDsByDepth, 2)
	assert.Equal(t, []string{api.ID}, br.NodeIDsByDepth[0])
	assert.Equal(t, []string{db.ID}, br.NodeIDsByDepth[1])
}

func TestDetectDriftSeverities(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	rds := models.Node{
		Provider: models.ProviderAWS, Region: "us-east-1",
		ResourceType: models.ResourceDatabase, NativeID: "orders-db",
		Name: "orders-db", Status: models.StatusRunning,
		Metadata: map[string]interface{}{
			"publiclyAccessible": false,
			"instanceClass":      "db.m5.large",
		},
	}.WithID()
	require.NoError(t, st.UpsertNodes(ctx, []models.Node{rds}))

	a := fake.New("aws", models.ProviderAWS)
	a.SetDescribed("orders-db", map[string]interface{}{
		"publiclyAccessible": true,
		"instanceClass":      "db.m5.xlarge",
	})
	eng.RegisterAdapter(a)

	report, err := eng.DetectDrift(ctx, models.ProviderAWS)
	require.NoError(t, err)
	require.Len(t, report.DriftedNodes, 1)
	require.Len(t, report.DriftedNodes[0].Changes, 2)

	byPath := map[string]PropertyDiff{}
	for _, d := range report.DriftedNodes[0].Changes {
		byPath[d.Path] = d
	}
	assert.Equal(t, SeverityCritical, byPath["publiclyAccessible"].Severity)
	assert.Equal(t, SeverityMedium, byPath["instanceClass"].Severity)

	changes, err := st.GetChanges(ctx, &models.ChangeFilter{
		TargetID:    rds.ID,
		ChangeTypes: []models.ChangeType{models.ChangeNodeDrifted},
	})
	require.NoError(t, err)
	assert.Len(t, changes, 2)
}

func TestDetectDriftReportsDisappeared(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	n := models.Node{
		Provider: models.ProviderAWS, Region: "us-east-1",
		ResourceType: models.ResourceCompute, NativeID: "i-gone",
		Name: "i-gone", Status: models.StatusRunning,
	}.WithID()
	require.NoError(t, st.UpsertNodes(ctx, []models.Node{n}))
	eng.RegisterAdapter(fake.New("aws", models.ProviderAWS))

	report, err := eng.DetectDrift(ctx, models.ProviderAWS)
	require.NoError(t, err)
	assert.Empty(t, report.DriftedNodes)
	assert.Equal(t, []string{n.ID}, report.DisappearedNodes)
}

func TestCostByFilter(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	require.NoError(t, st.UpsertNodes(ctx, []models.Node{
		models.Node{Provider: models.ProviderAWS, Account: "prod-acct", Region: "us-east-1", ResourceType: models.ResourceCompute, NativeID: "i-1", Name: "i-1", Status: models.StatusRunning, CostMonthly: 100}.WithID(),
		models.Node{Provider: models.ProviderAWS, Account: "prod-acct", Region: "eu-west-1", ResourceType: models.ResourceDatabase, NativeID: "db-1", Name: "db-1", Status: models.StatusRunning, CostMonthly: 400}.WithID(),
		models.Node{Provider: models.ProviderGCP, Account: "dev-acct", Region: "us-central1", ResourceType: models.ResourceCompute, NativeID: "vm-1", Name: "vm-1", Status: models.StatusRunning, CostMonthly: 50}.WithID(),
	}))

	report, err := eng.GetCostByFilter(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 550, report.TotalMonthly, 0.01)
	assert.InDelta(t, 500, report.ByProvider[models.ProviderAWS], 0.01)
	assert.InDelta(t, 150, report.ByResourceType[models.ResourceCompute], 0.01)
	assert.InDelta(t, 400, report.ByRegion["eu-west-1"], 0.01)
	assert.InDelta(t, 500, report.ByAccount["prod-acct"], 0.01)
}

func TestStatsMemoizedUntilSync(t *testing.T) {
	ctx := t.Context()
	st := memory.New()
	eng := New(st, Options{})

	a := fake.New("aws", models.ProviderAWS)
	a.SetDiscovery([]adapter.NodeInput{computeInput("i-1", 10)}, nil)
	eng.RegisterAdapter(a)

	stats, err := eng.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalNodes)

	// Direct store writes are invisible until a sync invalidates the memo.
	require.NoError(t, st.UpsertNodes(ctx, []models.Node{
		models.Node{Provider: models.ProviderAWS, Region: "us-east-1", ResourceType: models.ResourceCompute, NativeID: "i-9", Name: "i-9", Status: models.StatusRunning}.WithID(),
	}))
	stats, err = eng.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalNodes)

	_, err = eng.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	stats, err = eng.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalNodes)
}

func TestOnSyncCompleteHookRuns(t *testing.T) {
	st := memory.New()
	eng := New(st, Options{})
	eng.RegisterAdapter(fake.New("aws", models.ProviderAWS))

	fired := 0
	eng.OnSyncComplete(func() { fired++ })
	_, err := eng.Sync(t.Context(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}
