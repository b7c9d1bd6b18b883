package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store/memory"
)

func node(nativeID string, status models.NodeStatus) models.Node {
	return models.Node{
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		ResourceType: models.ResourceCompute,
		NativeID:     nativeID,
		Name:         nativeID,
		Status:       status,
		CostMonthly:  100,
	}.WithID()
}

// settle keeps successive change timestamps strictly ordered around the
// probe instants the tests capture.
func settle() { time.Sleep(5 * time.Millisecond) }

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := t.Context()
	graph := memory.New()
	ts := New(graph)

	a, b := node("a", models.StatusRunning), node("b", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{a, b}))
	require.NoError(t, graph.UpsertEdges(ctx, []models.Edge{models.Edge{
		SourceNodeID: a.ID, TargetNodeID: b.ID, RelationshipType: models.RelDependsOn,
	}.WithID()}))

	snap, err := ts.TakeSnapshot(ctx, models.SnapshotTriggerManual, "baseline")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.NodeCount)
	assert.Equal(t, 1, snap.EdgeCount)
	assert.Equal(t, "baseline", snap.Label)

	snaps, err := ts.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, snap.ID, snaps[0].ID)

	nodes, edges, err := graph.GetSnapshotGraph(ctx, snap.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Len(t, edges, 1)
}

func TestTopologyAtReplaysPastState(t *testing.T) {
	ctx := t.Context()
	graph := memory.New()
	ts := New(graph)

	a := node("a", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{a}))
	_, err := ts.TakeSnapshot(ctx, models.SnapshotTriggerScheduled, "")
	require.NoError(t, err)
	settle()
	beforeMutations := time.Now()
	settle()

	// Mutations after the probe instant: new node, status transition.
	b := node("b", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{b}))
	stopped := a
	stopped.Status = models.StatusStopped
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{stopped}))
	settle()

	past, err := ts.GetTopologyAt(ctx, beforeMutations, nil)
	require.NoError(t, err)
	require.Len(t, past.Nodes, 1)
	assert.Equal(t, a.ID, past.Nodes[0].ID)
	assert.Equal(t, models.StatusRunning, past.Nodes[0].Status)

	now, err := ts.GetTopologyAt(ctx, time.Now(), nil)
	require.NoError(t, err)
	require.Len(t, now.Nodes, 2)
	for _, n := range now.Nodes {
		if n.ID == a.ID {
			assert.Equal(t, models.StatusStopped, n.Status)
		}
	}
}

func TestTopologyAtWithoutSnapshotReplaysFromEmpty(t *testing.T) {
	ctx := t.Context()
	graph := memory.New()
	ts := New(graph)

	a, b, c := node("a", models.StatusRunning), node("b", models.StatusRunning), node("c", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{a, b, c}))
	require.NoError(t, graph.UpsertEdges(ctx, []models.Edge{models.Edge{
		SourceNodeID: a.ID, TargetNodeID: b.ID, RelationshipType: models.RelDependsOn,
	}.WithID()}))
	require.NoError(t, graph.DeleteNode(ctx, c.ID))
	settle()

	topo, err := ts.GetTopologyAt(ctx, time.Now(), nil)
	require.NoError(t, err)
	assert.Len(t, topo.Nodes, 2)
	assert.Len(t, topo.Edges, 1)
	for _, n := range topo.Nodes {
		assert.NotEqual(t, c.ID, n.ID)
	}
}

func TestTopologyAtAppliesFilter(t *testing.T) {
	ctx := t.Context()
	graph := memory.New()
	ts := New(graph)

	aws := node("a", models.StatusRunning)
	gcp := models.Node{
		Provider:     models.ProviderGCP,
		Region:       "us-central1",
		ResourceType: models.ResourceCompute,
		NativeID:     "g",
		Name:         "g",
		Status:       models.StatusRunning,
	}.WithID()
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{aws, gcp}))
	_, err := ts.TakeSnapshot(ctx, models.SnapshotTriggerManual, "")
	require.NoError(t, err)
	settle()

	topo, err := ts.GetTopologyAt(ctx, time.Now(), &models.NodeFilter{Provider: models.ProviderGCP})
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 1)
	assert.Equal(t, gcp.ID, topo.Nodes[0].ID)
}

func TestDiffSnapshots(t *testing.T) {
	ctx := t.Context()
	graph := memory.New()
	ts := New(graph)

	a, b := node("a", models.StatusRunning), node("b", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{a, b}))
	first, err := ts.TakeSnapshot(ctx, models.SnapshotTriggerManual, "before")
	require.NoError(t, err)

	// Add c, stop a, remove b.
	c := node("c", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{c}))
	stopped := a
	stopped.Status = models.StatusStopped
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{stopped}))
	require.NoError(t, graph.DeleteNode(ctx, b.ID))
	second, err := ts.TakeSnapshot(ctx, models.SnapshotTriggerManual, "after")
	require.NoError(t, err)

	diff, err := ts.DiffSnapshots(ctx, first.ID, second.ID)
	require.NoError(t, err)

	require.Len(t, diff.AddedNodes, 1)
	assert.Equal(t, c.ID, diff.AddedNodes[0].ID)
	require.Len(t, diff.RemovedNodes, 1)
	assert.Equal(t, b.ID, diff.RemovedNodes[0].ID)
	require.Len(t, diff.ChangedNodes, 1)
	assert.Equal(t, a.ID, diff.ChangedNodes[0].ID)
	require.Len(t, diff.ChangedNodes[0].FieldChanges, 1)
	fc := diff.ChangedNodes[0].FieldChanges[0]
	assert.Equal(t, "status", fc.Field)
	assert.Equal(t, string(models.StatusRunning), fc.Previous)
	assert.Equal(t, string(models.StatusStopped), fc.New)
}

func TestDiffTimestamps(t *testing.T) {
	ctx := t.Context()
	graph := memory.New()
	ts := New(graph)

	a := node("a", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{a}))
	settle()
	before := time.Now()
	settle()
	b := node("b", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{b}))
	settle()

	diff, err := ts.DiffTimestamps(ctx, before, time.Now())
	require.NoError(t, err)
	require.Len(t, diff.AddedNodes, 1)
	assert.Equal(t, b.ID, diff.AddedNodes[0].ID)
	assert.Empty(t, diff.RemovedNodes)
}

func TestEvolutionSummary(t *testing.T) {
	ctx := t.Context()
	graph := memory.New()
	ts := New(graph)
	start := time.Now().Add(-time.Minute)

	a, b := node("a", models.StatusRunning), node("b", models.StatusRunning)
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{a, b}))
	stopped := a
	stopped.Status = models.StatusStopped
	require.NoError(t, graph.UpsertNodes(ctx, []models.Node{stopped}))
	require.NoError(t, graph.DeleteNode(ctx, b.ID))

	summary, err := ts.GetEvolutionSummary(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalChanges)
	assert.Equal(t, 2, summary.ByType[models.ChangeNodeCreated])
	assert.Equal(t, 1, summary.ByType[models.ChangeNodeUpdated])
	assert.Equal(t, 1, summary.ByType[models.ChangeNodeDeleted])
	require.NotEmpty(t, summary.MostActive)
	assert.Equal(t, a.ID, summary.MostActive[0].NodeID)
	assert.Equal(t, 2, summary.MostActive[0].Changes)
	assert.False(t, summary.FirstChangeAt.IsZero())
	assert.True(t, !summary.LastChangeAt.Before(summary.FirstChangeAt))
}
