// Package store defines the typed graph storage contract: nodes, edges,
// append-only changes, groups, snapshots, sync records and change requests.
//
// Three interchangeable backends implement the contract (in-memory, bbolt,
// postgres); all of them are exercised by the shared conformance suite in
// store/conformance.
package store

import (
	"context"

	"github.com/moorhen/cartograph/internal/models"
)

// Subgraph is the visited portion of the graph returned by traversals.
type Subgraph struct {
	Nodes []models.Node `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

// Store is the graph storage contract. All mutations are durable before the
// call returns (the in-memory backend is explicitly volatile). Implementations
// must be safe for concurrent callers: single-writer per logical batch,
// multi-reader.
type Store interface {
	// UpsertNodes idempotently inserts or merges a batch of nodes.
	// Re-upserting an identical payload is a no-op that emits no change.
	// Status transitions and field updates are recorded as changes.
	UpsertNodes(ctx context.Context, nodes []models.Node) error

	// UpsertEdges idempotently inserts a batch of edges. Both endpoints must
	// already exist or the upsert fails with models.ErrDanglingEdge; callers
	// batch nodes before edges.
	UpsertEdges(ctx context.Context, edges []models.Edge) error

	// GetNode returns the node or nil if absent.
	GetNode(ctx context.Context, id string) (*models.Node, error)

	// GetEdge returns the edge or nil if absent.
	GetEdge(ctx context.Context, id string) (*models.Edge, error)

	// DeleteNode removes the node, cascades every edge where it is source or
	// target, and emits a node-deleted change. Deleting an absent node is a
	// no-op.
	DeleteNode(ctx context.Context, id string) error

	// QueryNodes returns all nodes matching the filter, in the backend's
	// deterministic iteration order. Unbounded; large graphs should use
	// QueryNodesPaginated.
	QueryNodes(ctx context.Context, filter *models.NodeFilter) ([]models.Node, error)

	// QueryNodesPaginated returns one page of matching nodes. Cursors are
	// opaque and bound to the filter; a cursor issued for a different filter
	// fails with models.ErrInvalidCursor.
	QueryNodesPaginated(ctx context.Context, filter *models.NodeFilter, page models.PageRequest) (*models.Page[models.Node], error)

	// QueryEdges returns all edges matching the filter.
	QueryEdges(ctx context.Context, filter *models.EdgeFilter) ([]models.Edge, error)

	// QueryEdgesPaginated returns one page of matching edges.
	QueryEdgesPaginated(ctx context.Context, filter *models.EdgeFilter, page models.PageRequest) (*models.Page[models.Edge], error)

	// GetEdgesForNode returns the edges incident to a node. Downstream means
	// edges where the node is the source, upstream where it is the target.
	GetEdgesForNode(ctx context.Context, id string, direction models.Direction) ([]models.Edge, error)

	// GetNeighbors runs a breadth-first traversal from id. The root is part
	// of the visited set at depth 0; traversal terminates on cycles and
	// never exceeds maxDepth. Equal-depth neighbors are visited in
	// lexicographic node-id order so output is deterministic.
	GetNeighbors(ctx context.Context, id string, maxDepth int, direction models.Direction) (*Subgraph, error)

	// AppendChanges appends to the change log. The log is append-only;
	// a failed append must surface so the enclosing sync cycle aborts.
	AppendChanges(ctx context.Context, changes []models.Change) error

	// GetChanges returns matching changes newest-first.
	GetChanges(ctx context.Context, filter *models.ChangeFilter) ([]models.Change, error)

	// GetChangesPaginated returns one page of matching changes newest-first.
	GetChangesPaginated(ctx context.Context, filter *models.ChangeFilter, page models.PageRequest) (*models.Page[models.Change], error)

	// GetNodeTimeline returns the newest-first change history of one node.
	GetNodeTimeline(ctx context.Context, id string, limit int) ([]models.Change, error)

	// UpsertGroup inserts or updates a logical group.
	UpsertGroup(ctx context.Context, group models.Group) error

	// GetGroup returns the group or nil if absent.
	GetGroup(ctx context.Context, id string) (*models.Group, error)

	// AddGroupMember adds a node to a group. Adding twice is a no-op.
	AddGroupMember(ctx context.Context, groupID, nodeID string) error

	// RemoveGroupMember removes a node from a group.
	RemoveGroupMember(ctx context.Context, groupID, nodeID string) error

	// GetGroupMembers returns the node ids in a group, sorted.
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)

	// GetStats returns totals and per-dimension node counts.
	GetStats(ctx context.Context) (*models.GraphStats, error)

	// PutSnapshot persists a snapshot header plus its member nodes and edges.
	PutSnapshot(ctx context.Context, snap models.Snapshot, nodes []models.Node, edges []models.Edge) error

	// GetSnapshot returns the snapshot header or nil if absent.
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)

	// ListSnapshots returns snapshot headers newest-first, up to limit
	// (0 = all).
	ListSnapshots(ctx context.Context, limit int) ([]models.Snapshot, error)

	// GetSnapshotGraph returns the nodes and edges captured by a snapshot.
	GetSnapshotGraph(ctx context.Context, id string) ([]models.Node, []models.Edge, error)

	// PutSyncRecord inserts or updates a sync record.
	PutSyncRecord(ctx context.Context, rec models.SyncRecord) error

	// ListSyncRecords returns sync records newest-first, up to limit (0 = all).
	ListSyncRecords(ctx context.Context, limit int) ([]models.SyncRecord, error)

	// PutChangeRequest inserts or updates a governor change request.
	PutChangeRequest(ctx context.Context, req models.ChangeRequest) error

	// GetChangeRequest returns the change request or nil if absent.
	GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error)

	// ListChangeRequests returns change requests newest-first, optionally
	// filtered by status ("" = all), up to limit (0 = all).
	ListChangeRequests(ctx context.Context, status models.RequestStatus, limit int) ([]models.ChangeRequest, error)

	// Close releases backend resources.
	Close() error
}
