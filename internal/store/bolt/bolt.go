// Package bolt provides the embedded, durable graph store backend on top of
// bbolt. Entities are JSON values in per-entity buckets; iteration order is
// key (primary-key) order, which keeps cursor pagination deterministic.
// Writes are acknowledged only after the enclosing bbolt transaction commits.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

var (
	bucketNodes         = []byte("nodes")
	bucketEdges         = []byte("edges")
	bucketEdgesBySource = []byte("edges_by_source")
	bucketEdgesByTarget = []byte("edges_by_target")
	bucketChanges       = []byte("changes")
	bucketGroups        = []byte("groups")
	bucketGroupMembers  = []byte("group_members")
	bucketSnapshots     = []byte("snapshots")
	bucketSnapshotData  = []byte("snapshot_data")
	bucketSyncRecords   = []byte("sync_records")
	bucketRequests      = []byte("change_requests")
)

var allBuckets = [][]byte{
	bucketNodes, bucketEdges, bucketEdgesBySource, bucketEdgesByTarget,
	bucketChanges, bucketGroups, bucketGroupMembers,
	bucketSnapshots, bucketSnapshotData, bucketSyncRecords, bucketRequests,
}

// Store is the bbolt-backed store.Store implementation.
type Store struct {
	db     *bolt.DB
	clock  *store.Clock
	logger *logging.Logger
}

// Open opens (creating if needed) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return &Store{
		db:     db,
		clock:  store.NewClock(),
		logger: logging.GetLogger("store.bolt"),
	}, nil
}

var _ store.Store = (*Store)(nil)

// indexKey builds a composite index key "<owner>|<edgeID>".
func indexKey(owner, edgeID string) []byte {
	return []byte(owner + "|" + edgeID)
}

// changeKey orders the change log by detectedAt then id.
func changeKey(c *models.Change) []byte {
	return []byte(fmt.Sprintf("%020d|%s", c.DetectedAt.UnixNano(), c.ID))
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return b.Put(key, data)
}

// UpsertNodes implements store.Store.
func (s *Store) UpsertNodes(ctx context.Context, nodes []models.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nodeBucket := tx.Bucket(bucketNodes)
		for _, incoming := range nodes {
			if incoming.ID == "" {
				incoming = incoming.WithID()
			}
			if incoming.LastSyncedAt.IsZero() {
				incoming.LastSyncedAt = time.Now()
			}

			raw := nodeBucket.Get([]byte(incoming.ID))
			if raw == nil {
				if incoming.CreatedAt.IsZero() {
					incoming.CreatedAt = time.Now()
				}
				if err := putJSON(nodeBucket, []byte(incoming.ID), incoming); err != nil {
					return err
				}
				if err := s.appendTx(tx, []models.Change{{
					TargetID:      incoming.ID,
					ChangeType:    models.ChangeNodeCreated,
					DetectedVia:   models.DetectedViaSync,
					InitiatorType: models.InitiatorSystem,
				}}); err != nil {
					return err
				}
				continue
			}

			var existing models.Node
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("failed to unmarshal node %s: %w", incoming.ID, err)
			}
			merged, fieldChanges := store.MergeNode(existing, incoming)
			if err := putJSON(nodeBucket, []byte(incoming.ID), merged); err != nil {
				return err
			}
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
			if err := s.appendTx(tx, changes); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertEdges implements store.Store.
func (s *Store) UpsertEdges(ctx context.Context, edges []models.Edge) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nodeBucket := tx.Bucket(bucketNodes)
		edgeBucket := tx.Bucket(bucketEdges)
		bySource := tx.Bucket(bucketEdgesBySource)
		byTarget := tx.Bucket(bucketEdgesByTarget)

		for _, incoming := range edges {
			if incoming.ID == "" {
				incoming = incoming.WithID()
			}
			if nodeBucket.Get([]byte(incoming.SourceNodeID)) == nil ||
				nodeBucket.Get([]byte(incoming.TargetNodeID)) == nil {
				return models.ErrDanglingEdge
			}

			isNew := edgeBucket.Get([]byte(incoming.ID)) == nil
			if err := putJSON(edgeBucket, []byte(incoming.ID), incoming); err != nil {
				return err
			}
			if !isNew {
				continue
			}
			if err := bySource.Put(indexKey(incoming.SourceNodeID, incoming.ID), []byte(incoming.ID)); err != nil {
				return err
			}
			if err := byTarget.Put(indexKey(incoming.TargetNodeID, incoming.ID), []byte(incoming.ID)); err != nil {
				return err
			}
			if err := s.appendTx(tx, []models.Change{{
				TargetID:      incoming.ID,
				ChangeType:    models.ChangeEdgeCreated,
				DetectedVia:   models.DetectedViaSync,
				InitiatorType: models.InitiatorSystem,
			}}); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNode implements store.Store.
func (s *Store) GetNode(ctx context.Context, id string) (*models.Node, error) {
	var node *models.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketNodes).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var n models.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		node = &n
		return nil
	})
	return node, err
}

// GetEdge implements store.Store.
func (s *Store) GetEdge(ctx context.Context, id string) (*models.Edge, error) {
	var edge *models.Edge
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEdges).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var e models.Edge
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		edge = &e
		return nil
	})
	return edge, err
}

// DeleteNode implements store.Store.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nodeBucket := tx.Bucket(bucketNodes)
		if nodeBucket.Get([]byte(id)) == nil {
			return nil
		}

		edgeIDs, err := s.incidentEdgeIDsTx(tx, id, models.DirectionBoth)
		if err != nil {
			return err
		}
		edgeBucket := tx.Bucket(bucketEdges)
		bySource := tx.Bucket(bucketEdgesBySource)
		byTarget := tx.Bucket(bucketEdgesByTarget)

		var changes []models.Change
		for _, edgeID := range edgeIDs {
			raw := edgeBucket.Get([]byte(edgeID))
			if raw == nil {
				continue
			}
			var e models.Edge
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			if err := edgeBucket.Delete([]byte(edgeID)); err != nil {
				return err
			}
			if err := bySource.Delete(indexKey(e.SourceNodeID, edgeID)); err != nil {
				return err
			}
			if err := byTarget.Delete(indexKey(e.TargetNodeID, edgeID)); err != nil {
				return err
			}
			changes = append(changes, models.Change{
				TargetID:      edgeID,
				ChangeType:    models.ChangeEdgeDeleted,
				DetectedVia:   models.DetectedViaSync,
				InitiatorType: models.InitiatorSystem,
			})
		}

		if err := nodeBucket.Delete([]byte(id)); err != nil {
			return err
		}

		// Drop group memberships of the node; groups themselves survive.
		members := tx.Bucket(bucketGroupMembers)
		c := members.Cursor()
		var staleKeys [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if bytes.HasSuffix(k, []byte("|"+id)) {
				staleKeys = append(staleKeys, append([]byte(nil), k...))
			}
		}
		for _, k := range staleKeys {
			if err := members.Delete(k); err != nil {
				return err
			}
		}

		changes = append(changes, models.Change{
			TargetID:      id,
			ChangeType:    models.ChangeNodeDeleted,
			DetectedVia:   models.DetectedViaSync,
			InitiatorType: models.InitiatorSystem,
		})
		return s.appendTx(tx, changes)
	})
}

// QueryNodes implements store.Store.
func (s *Store) QueryNodes(ctx context.Context, filter *models.NodeFilter) ([]models.Node, error) {
	matched := make([]models.Node, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n models.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if filter.Matches(&n) {
				matched = append(matched, n)
			}
			return nil
		})
	})
	return matched, err
}

// QueryNodesPaginated implements store.Store.
func (s *Store) QueryNodesPaginated(ctx context.Context, filter *models.NodeFilter, page models.PageRequest) (*models.Page[models.Node], error) {
	matched, err := s.QueryNodes(ctx, filter)
	if err != nil {
		return nil, err
	}
	return store.Paginate(matched, filter, page)
}

// QueryEdges implements store.Store.
func (s *Store) QueryEdges(ctx context.Context, filter *models.EdgeFilter) ([]models.Edge, error) {
	matched := make([]models.Edge, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEdges).ForEach(func(k, v []byte) error {
			var e models.Edge
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if filter.Matches(&e) {
				matched = append(matched, e)
			}
			return nil
		})
	})
	return matched, err
}

// QueryEdgesPaginated implements store.Store.
func (s *Store) QueryEdgesPaginated(ctx context.Context, filter *models.EdgeFilter, page models.PageRequest) (*models.Page[models.Edge], error) {
	matched, err := s.QueryEdges(ctx, filter)
	if err != nil {
		return nil, err
	}
	return store.Paginate(matched, filter, page)
}

// incidentEdgeIDsTx scans the source/target indexes with a prefix cursor.
func (s *Store) incidentEdgeIDsTx(tx *bolt.Tx, id string, direction models.Direction) ([]string, error) {
	collect := func(bucket []byte) []string {
		var ids []string
		prefix := []byte(id + "|")
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return ids
	}

	var ids []string
	switch direction {
	case models.DirectionDownstream:
		ids = collect(bucketEdgesBySource)
	case models.DirectionUpstream:
		ids = collect(bucketEdgesByTarget)
	default:
		seen := map[string]struct{}{}
		for _, eid := range append(collect(bucketEdgesBySource), collect(bucketEdgesByTarget)...) {
			if _, dup := seen[eid]; !dup {
				seen[eid] = struct{}{}
				ids = append(ids, eid)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetEdgesForNode implements store.Store.
func (s *Store) GetEdgesForNode(ctx context.Context, id string, direction models.Direction) ([]models.Edge, error) {
	edges := make([]models.Edge, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		ids, err := s.incidentEdgeIDsTx(tx, id, direction)
		if err != nil {
			return err
		}
		edgeBucket := tx.Bucket(bucketEdges)
		for _, edgeID := range ids {
			raw := edgeBucket.Get([]byte(edgeID))
			if raw == nil {
				continue
			}
			var e models.Edge
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			edges = append(edges, e)
		}
		return nil
	})
	return edges, err
}

// GetNeighbors implements store.Store via the shared BFS.
func (s *Store) GetNeighbors(ctx context.Context, id string, maxDepth int, direction models.Direction) (*store.Subgraph, error) {
	return store.Neighbors(ctx, s, id, maxDepth, direction)
}

// AppendChanges implements store.Store.
func (s *Store) AppendChanges(ctx context.Context, changes []models.Change) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.appendTx(tx, changes)
	})
}

func (s *Store) appendTx(tx *bolt.Tx, changes []models.Change) error {
	bucket := tx.Bucket(bucketChanges)
	for _, c := range store.PrepareChanges(s.clock, changes) {
		if err := putJSON(bucket, changeKey(&c), c); err != nil {
			return fmt.Errorf("failed to append change: %w", err)
		}
	}
	return nil
}

// GetChanges implements store.Store.
func (s *Store) GetChanges(ctx context.Context, filter *models.ChangeFilter) ([]models.Change, error) {
	matched := make([]models.Change, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		// Keys are (detectedAt, id) ascending; iterate backwards for
		// newest-first.
		c := tx.Bucket(bucketChanges).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var change models.Change
			if err := json.Unmarshal(v, &change); err != nil {
				return err
			}
			if filter.Matches(&change) {
				matched = append(matched, change)
			}
		}
		return nil
	})
	return matched, err
}

// GetChangesPaginated implements store.Store.
func (s *Store) GetChangesPaginated(ctx context.Context, filter *models.ChangeFilter, page models.PageRequest) (*models.Page[models.Change], error) {
	matched, err := s.GetChanges(ctx, filter)
	if err != nil {
		return nil, err
	}
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
	return s.db.Update(func(tx *bolt.Tx) error {
		if group.CreatedAt.IsZero() {
			group.CreatedAt = time.Now()
		}
		group.UpdatedAt = time.Now()
		return putJSON(tx.Bucket(bucketGroups), []byte(group.ID), group)
	})
}

// GetGroup implements store.Store.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var group *models.Group
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketGroups).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var g models.Group
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		group = &g
		return nil
	})
	return group, err
}

// AddGroupMember implements store.Store.
func (s *Store) AddGroupMember(ctx context.Context, groupID, nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketGroups).Get([]byte(groupID)) == nil {
			return models.ErrNotFound
		}
		return tx.Bucket(bucketGroupMembers).Put(indexKey(groupID, nodeID), []byte(nodeID))
	})
}

// RemoveGroupMember implements store.Store.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroupMembers).Delete(indexKey(groupID, nodeID))
	})
}

// GetGroupMembers implements store.Store.
func (s *Store) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	members := make([]string, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(groupID + "|")
		c := tx.Bucket(bucketGroupMembers).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			members = append(members, string(v))
		}
		return nil
	})
	sort.Strings(members)
	return members, err
}

// GetStats implements store.Store.
func (s *Store) GetStats(ctx context.Context) (*models.GraphStats, error) {
	stats := &models.GraphStats{
		NodesByProvider:     make(map[models.Provider]int),
		NodesByResourceType: make(map[models.ResourceType]int),
		NodesByStatus:       make(map[models.NodeStatus]int),
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n models.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			stats.TotalNodes++
			stats.NodesByProvider[n.Provider]++
			stats.NodesByResourceType[n.ResourceType]++
			stats.NodesByStatus[n.Status]++
			stats.TotalCostMonthly += n.CostMonthly
			return nil
		}); err != nil {
			return err
		}
		stats.TotalEdges = tx.Bucket(bucketEdges).Stats().KeyN
		stats.TotalChanges = tx.Bucket(bucketChanges).Stats().KeyN
		return tx.Bucket(bucketSyncRecords).ForEach(func(k, v []byte) error {
			var rec models.SyncRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.CompletedAt.After(stats.LastSyncAt) {
				stats.LastSyncAt = rec.CompletedAt
			}
			return nil
		})
	})
	return stats, err
}

type snapshotData struct {
	Nodes []models.Node `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

// PutSnapshot implements store.Store.
func (s *Store) PutSnapshot(ctx context.Context, snap models.Snapshot, nodes []models.Node, edges []models.Edge) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(fmt.Sprintf("%020d|%s", snap.CreatedAt.UnixNano(), snap.ID))
		if err := putJSON(tx.Bucket(bucketSnapshots), key, snap); err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketSnapshotData), []byte(snap.ID), snapshotData{Nodes: nodes, Edges: edges})
	})
}

// GetSnapshot implements store.Store.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var sn models.Snapshot
			if err := json.Unmarshal(v, &sn); err != nil {
				return err
			}
			if sn.ID == id {
				snap = &sn
			}
			return nil
		})
	})
	return snap, err
}

// ListSnapshots implements store.Store.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]models.Snapshot, error) {
	snaps := make([]models.Snapshot, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var sn models.Snapshot
			if err := json.Unmarshal(v, &sn); err != nil {
				return err
			}
			snaps = append(snaps, sn)
			if limit > 0 && len(snaps) >= limit {
				break
			}
		}
		return nil
	})
	return snaps, err
}

// GetSnapshotGraph implements store.Store.
func (s *Store) GetSnapshotGraph(ctx context.Context, id string) ([]models.Node, []models.Edge, error) {
	var data snapshotData
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSnapshotData).Get([]byte(id))
		if raw == nil {
			return models.ErrNotFound
		}
		return json.Unmarshal(raw, &data)
	})
	if err != nil {
		return nil, nil, err
	}
	return data.Nodes, data.Edges, nil
}

// PutSyncRecord implements store.Store.
func (s *Store) PutSyncRecord(ctx context.Context, rec models.SyncRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSyncRecords), []byte(rec.ID), rec)
	})
}

// ListSyncRecords implements store.Store.
func (s *Store) ListSyncRecords(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	recs := make([]models.SyncRecord, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSyncRecords).ForEach(func(k, v []byte) error {
			var rec models.SyncRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.After(recs[j].StartedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// PutChangeRequest implements store.Store.
func (s *Store) PutChangeRequest(ctx context.Context, req models.ChangeRequest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketRequests), []byte(req.ID), req)
	})
}

// GetChangeRequest implements store.Store.
func (s *Store) GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	var req *models.ChangeRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRequests).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var r models.ChangeRequest
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		req = &r
		return nil
	})
	return req, err
}

// ListChangeRequests implements store.Store.
func (s *Store) ListChangeRequests(ctx context.Context, status models.RequestStatus, limit int) ([]models.ChangeRequest, error) {
	reqs := make([]models.ChangeRequest, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			var r models.ChangeRequest
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if status == "" || r.Status == status {
				reqs = append(reqs, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.After(reqs[j].CreatedAt) })
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
