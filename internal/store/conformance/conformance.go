// Package conformance holds the shared behavioral test suite every graph
// store backend must pass. Backends call Run from their own _test.go with a
// factory that yields a fresh, empty store per subtest.
package conformance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

// Factory yields a fresh, empty store for one subtest. Cleanup is the
// factory's responsibility (t.Cleanup).
type Factory func(t *testing.T) store.Store

// Run executes the full conformance suite against a backend.
func Run(t *testing.T, factory Factory) {
	t.Run("UpsertIdempotent", func(t *testing.T) { testUpsertIdempotent(t, factory(t)) })
	t.Run("UpsertMergesFields", func(t *testing.T) { testUpsertMergesFields(t, factory(t)) })
	t.Run("RecreateCycle", func(t *testing.T) { testRecreateCycle(t, factory(t)) })
	t.Run("DanglingEdgeRejected", func(t *testing.T) { testDanglingEdge(t, factory(t)) })
	t.Run("DeleteCascadesEdges", func(t *testing.T) { testDeleteCascades(t, factory(t)) })
	t.Run("PaginationExactlyOnce", func(t *testing.T) { testPaginationExactlyOnce(t, factory(t)) })
	t.Run("PaginationBoundaries", func(t *testing.T) { testPaginationBoundaries(t, factory(t)) })
	t.Run("InvalidCursor", func(t *testing.T) { testInvalidCursor(t, factory(t)) })
	t.Run("NeighborsBFS", func(t *testing.T) { testNeighborsBFS(t, factory(t)) })
	t.Run("NeighborsCyclicGraph", func(t *testing.T) { testNeighborsCycle(t, factory(t)) })
	t.Run("ChangeOrderingMonotonic", func(t *testing.T) { testChangeOrdering(t, factory(t)) })
	t.Run("NodeTimelineNewestFirst", func(t *testing.T) { testNodeTimeline(t, factory(t)) })
	t.Run("Groups", func(t *testing.T) { testGroups(t, factory(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, factory(t)) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, factory(t)) })
	t.Run("SyncRecords", func(t *testing.T) { testSyncRecords(t, factory(t)) })
	t.Run("ChangeRequests", func(t *testing.T) { testChangeRequests(t, factory(t)) })
}

func node(name string, opts ...func(*models.Node)) models.Node {
	n := models.Node{
		Provider:     models.ProviderAWS,
		Account:      "123456789012",
		Region:       "us-east-1",
		ResourceType: models.ResourceCompute,
		NativeID:     name,
		Name:         name,
		Status:       models.StatusRunning,
		Tags:         map[string]string{"env": "prod"},
		CostMonthly:  10,
	}
	for _, opt := range opts {
		opt(&n)
	}
	return n.WithID()
}

func edge(src, dst models.Node, rel models.RelationshipType) models.Edge {
	return models.Edge{
		SourceNodeID:     src.ID,
		TargetNodeID:     dst.ID,
		RelationshipType: rel,
		Confidence:       1,
		DiscoveredVia:    models.DiscoveredViaAPIField,
	}.WithID()
}

func testUpsertIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	n := node("i-111")

	require.NoError(t, s.UpsertNodes(ctx, []models.Node{n}))
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{n}))

	all, err := s.QueryNodes(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)

	changes, err := s.GetNodeTimeline(ctx, n.ID, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1, "identical re-upsert must not emit a change")
	assert.Equal(t, models.ChangeNodeCreated, changes[0].ChangeType)
}

func testUpsertMergesFields(t *testing.T, s store.Store) {
	ctx := context.Background()
	n := node("i-222")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{n}))

	updated := n
	updated.Status = models.StatusStopped
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{updated}))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusStopped, got.Status)
	assert.Equal(t, "i-222", got.Name, "unchanged fields survive merge")

	changes, err := s.GetNodeTimeline(ctx, n.ID, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, models.ChangeNodeUpdated, changes[0].ChangeType)
	assert.Equal(t, "status", changes[0].Field)
	assert.Equal(t, string(models.StatusRunning), changes[0].PreviousValue)
	assert.Equal(t, string(models.StatusStopped), changes[0].NewValue)
}

func testRecreateCycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	n := node("i-333")

	require.NoError(t, s.UpsertNodes(ctx, []models.Node{n}))
	require.NoError(t, s.DeleteNode(ctx, n.ID))
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{n}))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	changes, err := s.GetNodeTimeline(ctx, n.ID, 0)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	// Newest first: re-created, deleted, created.
	assert.Equal(t, models.ChangeNodeCreated, changes[0].ChangeType)
	assert.Equal(t, models.ChangeNodeDeleted, changes[1].ChangeType)
	assert.Equal(t, models.ChangeNodeCreated, changes[2].ChangeType)
}

func testDanglingEdge(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := node("i-a")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{a}))

	ghost := node("i-ghost")
	err := s.UpsertEdges(ctx, []models.Edge{edge(a, ghost, models.RelDependsOn)})
	assert.ErrorIs(t, err, models.ErrDanglingEdge)
}

func testDeleteCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b, c := node("i-a"), node("i-b"), node("i-c")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{a, b, c}))
	require.NoError(t, s.UpsertEdges(ctx, []models.Edge{
		edge(a, b, models.RelDependsOn),
		edge(b, c, models.RelDependsOn),
		edge(c, b, models.RelConnectedTo),
	}))

	require.NoError(t, s.DeleteNode(ctx, b.ID))

	// No direction of b returns anything.
	for _, dir := range []models.Direction{models.DirectionUpstream, models.DirectionDownstream, models.DirectionBoth} {
		edges, err := s.GetEdgesForNode(ctx, b.ID, dir)
		require.NoError(t, err)
		assert.Empty(t, edges)
	}

	// No surviving edge references b.
	for _, id := range []string{a.ID, c.ID} {
		edges, err := s.GetEdgesForNode(ctx, id, models.DirectionBoth)
		require.NoError(t, err)
		for _, e := range edges {
			assert.NotEqual(t, b.ID, e.SourceNodeID)
			assert.NotEqual(t, b.ID, e.TargetNodeID)
		}
	}
}

func testPaginationExactlyOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	const total = 25
	nodes := make([]models.Node, 0, total)
	for i := 0; i < total; i++ {
		nodes = append(nodes, node(fmt.Sprintf("i-%03d", i)))
	}
	require.NoError(t, s.UpsertNodes(ctx, nodes))

	filter := &models.NodeFilter{Provider: models.ProviderAWS}
	seen := map[string]int{}
	cursor := ""
	pages := 0
	for {
		page, err := s.QueryNodesPaginated(ctx, filter, models.PageRequest{Limit: 10, Cursor: cursor})
		require.NoError(t, err)
		assert.Equal(t, total, page.TotalCount)
		for _, n := range page.Items {
			seen[n.ID]++
		}
		pages++
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "node %s returned %d times", id, count)
	}
}

func testPaginationBoundaries(t *testing.T, s store.Store) {
	ctx := context.Background()
	var nodes []models.Node
	for i := 0; i < 5; i++ {
		nodes = append(nodes, node(fmt.Sprintf("i-%d", i)))
	}
	require.NoError(t, s.UpsertNodes(ctx, nodes))

	// Zero limit uses the default.
	page, err := s.QueryNodesPaginated(ctx, nil, models.PageRequest{Limit: 0})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.False(t, page.HasMore)

	// Negative limit clamps to one.
	page, err = s.QueryNodesPaginated(ctx, nil, models.PageRequest{Limit: -7})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.True(t, page.HasMore)
}

func testInvalidCursor(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{node("i-1")}))

	_, err := s.QueryNodesPaginated(ctx, nil, models.PageRequest{Cursor: "%%%not-a-cursor%%%"})
	assert.ErrorIs(t, err, models.ErrInvalidCursor)

	// Cursor issued for one filter must be rejected by another.
	prodFilter := &models.NodeFilter{TagMatch: map[string]string{"env": "prod"}}
	page, err := s.QueryNodesPaginated(ctx, prodFilter, models.PageRequest{Limit: 1})
	require.NoError(t, err)
	cursor := page.NextCursor
	if cursor == "" {
		// Single match; fabricate a continuation by re-using page one's cursor shape.
		h, herr := models.FilterHash(prodFilter)
		require.NoError(t, herr)
		cursor = models.EncodeCursor(h, 0)
	}
	_, err = s.QueryNodesPaginated(ctx, &models.NodeFilter{Region: "eu-west-1"}, models.PageRequest{Cursor: cursor})
	assert.ErrorIs(t, err, models.ErrInvalidCursor)
}

func testNeighborsBFS(t *testing.T, s store.Store) {
	ctx := context.Background()
	// root -> a -> b -> c, root -> d
	root := node("root")
	a, b, c, d := node("n-a"), node("n-b"), node("n-c"), node("n-d")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{root, a, b, c, d}))
	require.NoError(t, s.UpsertEdges(ctx, []models.Edge{
		edge(root, a, models.RelDependsOn),
		edge(a, b, models.RelDependsOn),
		edge(b, c, models.RelDependsOn),
		edge(root, d, models.RelDependsOn),
	}))

	// Depth 0 is exactly the root.
	sg, err := s.GetNeighbors(ctx, root.ID, 0, models.DirectionDownstream)
	require.NoError(t, err)
	require.Len(t, sg.Nodes, 1)
	assert.Equal(t, root.ID, sg.Nodes[0].ID)

	// Depth 2 includes a, b, d but not c.
	sg, err = s.GetNeighbors(ctx, root.ID, 2, models.DirectionDownstream)
	require.NoError(t, err)
	ids := nodeIDs(sg.Nodes)
	assert.ElementsMatch(t, []string{root.ID, a.ID, b.ID, d.ID}, ids)

	// Determinism: repeated calls return identical ordering.
	again, err := s.GetNeighbors(ctx, root.ID, 2, models.DirectionDownstream)
	require.NoError(t, err)
	assert.Equal(t, nodeIDs(sg.Nodes), nodeIDs(again.Nodes))

	// Upstream from c reaches b then a.
	sg, err = s.GetNeighbors(ctx, c.ID, 2, models.DirectionUpstream)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c.ID, b.ID, a.ID}, nodeIDs(sg.Nodes))
}

func testNeighborsCycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	// a -> b -> c -> a (cycle, like peered VPCs)
	a, b, c := node("cyc-a"), node("cyc-b"), node("cyc-c")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{a, b, c}))
	require.NoError(t, s.UpsertEdges(ctx, []models.Edge{
		edge(a, b, models.RelConnectedTo),
		edge(b, c, models.RelConnectedTo),
		edge(c, a, models.RelConnectedTo),
	}))

	sg, err := s.GetNeighbors(ctx, a.ID, 10, models.DirectionDownstream)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, nodeIDs(sg.Nodes))
	assert.Len(t, sg.Edges, 3)
}

func testChangeOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	n := node("i-timeline")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{n}))

	// Rapid-fire appends; timestamps must be strictly ordered per target.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendChanges(ctx, []models.Change{{
			TargetID:    n.ID,
			ChangeType:  models.ChangeNodeUpdated,
			Field:       "status",
			DetectedVia: models.DetectedViaEventStream,
		}}))
	}

	changes, err := s.GetNodeTimeline(ctx, n.ID, 0)
	require.NoError(t, err)
	require.Len(t, changes, 11)
	for i := 1; i < len(changes); i++ {
		assert.False(t, changes[i-1].DetectedAt.Before(changes[i].DetectedAt),
			"timeline must be newest-first and monotonic")
	}
}

func testNodeTimeline(t *testing.T, s store.Store) {
	ctx := context.Background()
	n := node("i-tl")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{n}))
	for i := 0; i < 5; i++ {
		u := n
		u.CostMonthly = float64(100 + i)
		require.NoError(t, s.UpsertNodes(ctx, []models.Node{u}))
	}

	limited, err := s.GetNodeTimeline(ctx, n.ID, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
	assert.Equal(t, models.ChangeCostChanged, limited[0].ChangeType)
}

func testGroups(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := node("g-a"), node("g-b")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{a, b}))

	group := models.Group{ID: uuid.NewString(), Name: "payments-vpc", GroupType: "vpc", Provider: models.ProviderAWS}
	require.NoError(t, s.UpsertGroup(ctx, group))
	require.NoError(t, s.AddGroupMember(ctx, group.ID, a.ID))
	require.NoError(t, s.AddGroupMember(ctx, group.ID, b.ID))
	require.NoError(t, s.AddGroupMember(ctx, group.ID, b.ID)) // idempotent

	members, err := s.GetGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, members)

	require.NoError(t, s.RemoveGroupMember(ctx, group.ID, a.ID))
	members, err = s.GetGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, members)

	// Node deletion removes the membership row but not the group.
	require.NoError(t, s.DeleteNode(ctx, b.ID))
	members, err = s.GetGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
	g, err := s.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{
		node("s-1", func(n *models.Node) { n.CostMonthly = 100 }),
		node("s-2", func(n *models.Node) { n.CostMonthly = 50; n.Status = models.StatusStopped }),
		node("s-3", func(n *models.Node) {
			n.Provider = models.ProviderGCP
			n.ResourceType = models.ResourceDatabase
			n.CostMonthly = 25
		}),
	}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalNodes)
	assert.Equal(t, 2, stats.NodesByProvider[models.ProviderAWS])
	assert.Equal(t, 1, stats.NodesByProvider[models.ProviderGCP])
	assert.Equal(t, 1, stats.NodesByResourceType[models.ResourceDatabase])
	assert.Equal(t, 1, stats.NodesByStatus[models.StatusStopped])
	assert.InDelta(t, 175.0, stats.TotalCostMonthly, 0.001)
}

func testSnapshots(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := node("sn-a"), node("sn-b")
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{a, b}))
	e := edge(a, b, models.RelDependsOn)
	require.NoError(t, s.UpsertEdges(ctx, []models.Edge{e}))

	snap := models.Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Label:     "pre-change",
		Trigger:   models.SnapshotTriggerManual,
		NodeCount: 2,
		EdgeCount: 1,
	}
	require.NoError(t, s.PutSnapshot(ctx, snap, []models.Node{a, b}, []models.Edge{e}))

	got, err := s.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pre-change", got.Label)

	nodes, edges, err := s.GetSnapshotGraph(ctx, snap.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Len(t, edges, 1)

	list, err := s.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, snap.ID, list[0].ID)
}

func testSyncRecords(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := models.SyncRecord{
		ID:              uuid.NewString(),
		Provider:        models.ProviderAWS,
		StartedAt:       time.Now().Add(-time.Minute),
		Status:          models.SyncRunning,
		NodesDiscovered: 10,
	}
	require.NoError(t, s.PutSyncRecord(ctx, rec))

	rec.Status = models.SyncCompleted
	rec.CompletedAt = time.Now()
	require.NoError(t, s.PutSyncRecord(ctx, rec))

	recs, err := s.ListSyncRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1, "PutSyncRecord with same id must update in place")
	assert.Equal(t, models.SyncCompleted, recs[0].Status)
}

func testChangeRequests(t *testing.T, s store.Store) {
	ctx := context.Background()
	req := models.ChangeRequest{
		ID:               uuid.NewString(),
		TargetResourceID: "aws::us-east-1:database:db-1",
		ResourceType:     models.ResourceDatabase,
		Provider:         models.ProviderAWS,
		Action:           models.ActionUpdate,
		Initiator:        "reconciler",
		InitiatorType:    models.InitiatorSystem,
		Risk:             models.Risk{Score: 40, Level: models.RiskMedium},
		Status:           models.RequestPending,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, s.PutChangeRequest(ctx, req))

	got, err := s.GetChangeRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RequestPending, got.Status)

	pending, err := s.ListChangeRequests(ctx, models.RequestPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	req.Status = models.RequestApproved
	req.ApprovedBy = "alice"
	require.NoError(t, s.PutChangeRequest(ctx, req))

	pending, err = s.ListChangeRequests(ctx, models.RequestPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func nodeIDs(nodes []models.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
