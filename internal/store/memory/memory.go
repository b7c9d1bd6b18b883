// Package memory provides the volatile in-memory graph store backend.
// Iteration order is insertion order, which keeps cursor pagination
// deterministic across calls on a quiescent store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

type snapshotRecord struct {
	snap  models.Snapshot
	nodes []models.Node
	edges []models.Edge
}

// Store is the in-memory store.Store implementation.
type Store struct {
	mu sync.RWMutex

	nodes     map[string]models.Node
	nodeOrder []string

	edges     map[string]models.Edge
	edgeOrder []string
	bySource  map[string][]string
	byTarget  map[string][]string

	changes []models.Change

	groups       map[string]models.Group
	groupMembers map[string]map[string]struct{}

	snapshots     map[string]snapshotRecord
	snapshotOrder []string

	syncRecords  []models.SyncRecord
	requests     map[string]models.ChangeRequest
	requestOrder []string

	clock  *store.Clock
	logger *logging.Logger
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nodes:        make(map[string]models.Node),
		edges:        make(map[string]models.Edge),
		bySource:     make(map[string][]string),
		byTarget:     make(map[string][]string),
		groups:       make(map[string]models.Group),
		groupMembers: make(map[string]map[string]struct{}),
		snapshots:    make(map[string]snapshotRecord),
		requests:     make(map[string]models.ChangeRequest),
		clock:        store.NewClock(),
		logger:       logging.GetLogger("store.memory"),
	}
}

var _ store.Store = (*Store)(nil)

// UpsertNodes implements store.Store.
func (s *Store) UpsertNodes(ctx context.Context, nodes []models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, incoming := range nodes {
		if incoming.ID == "" {
			incoming = incoming.WithID()
		}
		if incoming.LastSyncedAt.IsZero() {
			incoming.LastSyncedAt = time.Now()
		}

		existing, ok := s.nodes[incoming.ID]
		if !ok {
			if incoming.CreatedAt.IsZero() {
				incoming.CreatedAt = time.Now()
			}
			s.nodes[incoming.ID] = incoming
			s.nodeOrder = append(s.nodeOrder, incoming.ID)
			s.appendLocked([]models.Change{{
				TargetID:      incoming.ID,
				ChangeType:    models.ChangeNodeCreated,
				DetectedVia:   models.DetectedViaSync,
				InitiatorType: models.InitiatorSystem,
			}})
			continue
		}

		merged, fieldChanges := store.MergeNode(existing, incoming)
		s.nodes[incoming.ID] = merged
		if len(fieldChanges) == 0 {
			continue
		}
		changes := make([]models.Change, 0, len(fieldChanges))
		for _, fc := range fieldChanges {
			changes = append(changes, models.Change{
				TargetID:      incoming.ID,
				ChangeType:    fc.ChangeType,
				Field:         fc.Field,
				PreviousValue: fc.Previous,
				NewValue:      fc.New,
				DetectedVia:   models.DetectedViaSync,
				InitiatorType: models.InitiatorSystem,
			})
		}
		s.appendLocked(changes)
	}
	return nil
}

// UpsertEdges implements store.Store.
func (s *Store) UpsertEdges(ctx context.Context, edges []models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, incoming := range edges {
		if incoming.ID == "" {
			incoming = incoming.WithID()
		}
		if _, ok := s.nodes[incoming.SourceNodeID]; !ok {
			return models.ErrDanglingEdge
		}
		if _, ok := s.nodes[incoming.TargetNodeID]; !ok {
			return models.ErrDanglingEdge
		}
		if _, ok := s.edges[incoming.ID]; ok {
			s.edges[incoming.ID] = incoming
			continue
		}
		s.edges[incoming.ID] = incoming
		s.edgeOrder = append(s.edgeOrder, incoming.ID)
		s.bySource[incoming.SourceNodeID] = append(s.bySource[incoming.SourceNodeID], incoming.ID)
		s.byTarget[incoming.TargetNodeID] = append(s.byTarget[incoming.TargetNodeID], incoming.ID)
		s.appendLocked([]models.Change{{
			TargetID:      incoming.ID,
			ChangeType:    models.ChangeEdgeCreated,
			DetectedVia:   models.DetectedViaSync,
			InitiatorType: models.InitiatorSystem,
		}})
	}
	return nil
}

// GetNode implements store.Store.
func (s *Store) GetNode(ctx context.Context, id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[id]; ok {
		return &n, nil
	}
	return nil, nil
}

// GetEdge implements store.Store.
func (s *Store) GetEdge(ctx context.Context, id string) (*models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.edges[id]; ok {
		return &e, nil
	}
	return nil, nil
}

// DeleteNode implements store.Store.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return nil
	}

	incident := append([]string(nil), s.bySource[id]...)
	incident = append(incident, s.byTarget[id]...)
	seen := map[string]struct{}{}
	var changes []models.Change
	for _, edgeID := range incident {
		if _, dup := seen[edgeID]; dup {
			continue
		}
		seen[edgeID] = struct{}{}
		edge, ok := s.edges[edgeID]
		if !ok {
			continue
		}
		delete(s.edges, edgeID)
		s.edgeOrder = removeString(s.edgeOrder, edgeID)
		s.bySource[edge.SourceNodeID] = removeString(s.bySource[edge.SourceNodeID], edgeID)
		s.byTarget[edge.TargetNodeID] = removeString(s.byTarget[edge.TargetNodeID], edgeID)
		changes = append(changes, models.Change{
			TargetID:      edgeID,
			ChangeType:    models.ChangeEdgeDeleted,
			DetectedVia:   models.DetectedViaSync,
			InitiatorType: models.InitiatorSystem,
		})
	}

	delete(s.nodes, id)
	s.nodeOrder = removeString(s.nodeOrder, id)
	for _, members := range s.groupMembers {
		delete(members, id)
	}

	changes = append(changes, models.Change{
		TargetID:      id,
		ChangeType:    models.ChangeNodeDeleted,
		DetectedVia:   models.DetectedViaSync,
		InitiatorType: models.InitiatorSystem,
	})
	s.appendLocked(changes)
	return nil
}

// QueryNodes implements store.Store.
func (s *Store) QueryNodes(ctx context.Context, filter *models.NodeFilter) ([]models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryNodesLocked(filter), nil
}

func (s *Store) queryNodesLocked(filter *models.NodeFilter) []models.Node {
	matched := make([]models.Node, 0)
	for _, id := range s.nodeOrder {
		node := s.nodes[id]
		if filter.Matches(&node) {
			matched = append(matched, node)
		}
	}
	return matched
}

// QueryNodesPaginated implements store.Store.
func (s *Store) QueryNodesPaginated(ctx context.Context, filter *models.NodeFilter, page models.PageRequest) (*models.Page[models.Node], error) {
	s.mu.RLock()
	matched := s.queryNodesLocked(filter)
	s.mu.RUnlock()
	return store.Paginate(matched, filter, page)
}

// QueryEdges implements store.Store.
func (s *Store) QueryEdges(ctx context.Context, filter *models.EdgeFilter) ([]models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEdgesLocked(filter), nil
}

func (s *Store) queryEdgesLocked(filter *models.EdgeFilter) []models.Edge {
	matched := make([]models.Edge, 0)
	for _, id := range s.edgeOrder {
		edge := s.edges[id]
		if filter.Matches(&edge) {
			matched = append(matched, edge)
		}
	}
	return matched
}

// QueryEdgesPaginated implements store.Store.
func (s *Store) QueryEdgesPaginated(ctx context.Context, filter *models.EdgeFilter, page models.PageRequest) (*models.Page[models.Edge], error) {
	s.mu.RLock()
	matched := s.queryEdgesLocked(filter)
	s.mu.RUnlock()
	return store.Paginate(matched, filter, page)
}

// GetEdgesForNode implements store.Store.
func (s *Store) GetEdgesForNode(ctx context.Context, id string, direction models.Direction) ([]models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	switch direction {
	case models.DirectionDownstream:
		ids = s.bySource[id]
	case models.DirectionUpstream:
		ids = s.byTarget[id]
	default:
		ids = append(append([]string(nil), s.bySource[id]...), s.byTarget[id]...)
	}

	seen := map[string]struct{}{}
	edges := make([]models.Edge, 0, len(ids))
	for _, edgeID := range ids {
		if _, dup := seen[edgeID]; dup {
			continue
		}
		seen[edgeID] = struct{}{}
		edges = append(edges, s.edges[edgeID])
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

// GetNeighbors implements store.Store via the shared BFS.
func (s *Store) GetNeighbors(ctx context.Context, id string, maxDepth int, direction models.Direction) (*store.Subgraph, error) {
	return store.Neighbors(ctx, s, id, maxDepth, direction)
}

// AppendChanges implements store.Store.
func (s *Store) AppendChanges(ctx context.Context, changes []models.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(changes)
	return nil
}

func (s *Store) appendLocked(changes []models.Change) {
	s.changes = append(s.changes, store.PrepareChanges(s.clock, changes)...)
}

// GetChanges implements store.Store.
func (s *Store) GetChanges(ctx context.Context, filter *models.ChangeFilter) ([]models.Change, error) {
	s.mu.RLock()
	matched := s.queryChangesLocked(filter)
	s.mu.RUnlock()
	store.SortChangesNewestFirst(matched)
	return matched, nil
}

func (s *Store) queryChangesLocked(filter *models.ChangeFilter) []models.Change {
	matched := make([]models.Change, 0)
	for _, c := range s.changes {
		if filter.Matches(&c) {
			matched = append(matched, c)
		}
	}
	return matched
}

// GetChangesPaginated implements store.Store.
func (s *Store) GetChangesPaginated(ctx context.Context, filter *models.ChangeFilter, page models.PageRequest) (*models.Page[models.Change], error) {
	s.mu.RLock()
	matched := s.queryChangesLocked(filter)
	s.mu.RUnlock()
	store.SortChangesNewestFirst(matched)
	return store.Paginate(matched, filter, page)
}

// GetNodeTimeline implements store.Store.
func (s *Store) GetNodeTimeline(ctx context.Context, id string, limit int) ([]models.Change, error) {
	changes, err := s.GetChanges(ctx, &models.ChangeFilter{TargetID: id})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(changes) > limit {
		changes = changes[:limit]
	}
	return changes, nil
}

// UpsertGroup implements store.Store.
func (s *Store) UpsertGroup(ctx context.Context, group models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	group.UpdatedAt = time.Now()
	s.groups[group.ID] = group
	if _, ok := s.groupMembers[group.ID]; !ok {
		s.groupMembers[group.ID] = make(map[string]struct{})
	}
	return nil
}

// GetGroup implements store.Store.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.groups[id]; ok {
		return &g, nil
	}
	return nil, nil
}

// AddGroupMember implements store.Store.
func (s *Store) AddGroupMember(ctx context.Context, groupID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return models.ErrNotFound
	}
	s.groupMembers[groupID][nodeID] = struct{}{}
	return nil
}

// RemoveGroupMember implements store.Store.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if members, ok := s.groupMembers[groupID]; ok {
		delete(members, nodeID)
	}
	return nil
}

// GetGroupMembers implements store.Store.
func (s *Store) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.groupMembers[groupID]))
	for id := range s.groupMembers[groupID] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}

// GetStats implements store.Store.
func (s *Store) GetStats(ctx context.Context) (*models.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.GraphStats{
		TotalNodes:          len(s.nodes),
		TotalEdges:          len(s.edges),
		TotalChanges:        len(s.changes),
		NodesByProvider:     make(map[models.Provider]int),
		NodesByResourceType: make(map[models.ResourceType]int),
		NodesByStatus:       make(map[models.NodeStatus]int),
	}
	for _, n := range s.nodes {
		stats.NodesByProvider[n.Provider]++
		stats.NodesByResourceType[n.ResourceType]++
		stats.NodesByStatus[n.Status]++
		stats.TotalCostMonthly += n.CostMonthly
	}
	for _, rec := range s.syncRecords {
		if rec.CompletedAt.After(stats.LastSyncAt) {
			stats.LastSyncAt = rec.CompletedAt
		}
	}
	return stats, nil
}

// PutSnapshot implements store.Store.
func (s *Store) PutSnapshot(ctx context.Context, snap models.Snapshot, nodes []models.Node, edges []models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = snapshotRecord{
		snap:  snap,
		nodes: append([]models.Node(nil), nodes...),
		edges: append([]models.Edge(nil), edges...),
	}
	s.snapshotOrder = append(s.snapshotOrder, snap.ID)
	return nil
}

// GetSnapshot implements store.Store.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.snapshots[id]; ok {
		snap := rec.snap
		return &snap, nil
	}
	return nil, nil
}

// ListSnapshots implements store.Store.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := make([]models.Snapshot, 0, len(s.snapshotOrder))
	for i := len(s.snapshotOrder) - 1; i >= 0; i-- {
		snaps = append(snaps, s.snapshots[s.snapshotOrder[i]].snap)
		if limit > 0 && len(snaps) >= limit {
			break
		}
	}
	return snaps, nil
}

// GetSnapshotGraph implements store.Store.
func (s *Store) GetSnapshotGraph(ctx context.Context, id string) ([]models.Node, []models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.snapshots[id]
	if !ok {
		return nil, nil, models.ErrNotFound
	}
	return append([]models.Node(nil), rec.nodes...), append([]models.Edge(nil), rec.edges...), nil
}

// PutSyncRecord implements store.Store.
func (s *Store) PutSyncRecord(ctx context.Context, rec models.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.syncRecords {
		if s.syncRecords[i].ID == rec.ID {
			s.syncRecords[i] = rec
			return nil
		}
	}
	s.syncRecords = append(s.syncRecords, rec)
	return nil
}

// ListSyncRecords implements store.Store.
func (s *Store) ListSyncRecords(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]models.SyncRecord, 0, len(s.syncRecords))
	for i := len(s.syncRecords) - 1; i >= 0; i-- {
		recs = append(recs, s.syncRecords[i])
		if limit > 0 && len(recs) >= limit {
			break
		}
	}
	return recs, nil
}

// PutChangeRequest implements store.Store.
func (s *Store) PutChangeRequest(ctx context.Context, req models.ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		s.requestOrder = append(s.requestOrder, req.ID)
	}
	s.requests[req.ID] = req
	return nil
}

// GetChangeRequest implements store.Store.
func (s *Store) GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if req, ok := s.requests[id]; ok {
		return &req, nil
	}
	return nil, nil
}

// ListChangeRequests implements store.Store.
func (s *Store) ListChangeRequests(ctx context.Context, status models.RequestStatus, limit int) ([]models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reqs := make([]models.ChangeRequest, 0)
	for i := len(s.requestOrder) - 1; i >= 0; i-- {
		req := s.requests[s.requestOrder[i]]
		if status != "" && req.Status != status {
			continue
		}
		reqs = append(reqs, req)
		if limit > 0 && len(reqs) >= limit {
			break
		}
	}
	return reqs, nil
}

// Close implements store.Store. The in-memory backend holds no resources.
func (s *Store) Close() error {
	return nil
}

func removeString(slice []string, v string) []string {
	for i, s := range slice {
		if s == v {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}
