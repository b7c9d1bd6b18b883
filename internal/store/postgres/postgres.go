// Package postgres provides the shared, multi-instance graph store backend.
// Entities live as jsonb documents keyed by id, with relational columns only
// where the store needs them for ordering and lookup (edge endpoints, change
// timestamps, request status). Filter evaluation is shared with the other
// backends via models filters so all three agree on match semantics.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

// Store is the postgres-backed store.Store implementation. One Store owns one
// *sql.DB; callers share it across goroutines.
type Store struct {
	db     *sql.DB
	clock  *store.Clock
	logger *logging.Logger
}

// Options configures the postgres backend.
type Options struct {
	// DSN is a lib/pq connection string or URL.
	DSN string
	// Schema isolates this deployment's tables. Defaults to "cartograph".
	Schema string
	// MaxOpenConns bounds the pool. Defaults to 10.
	MaxOpenConns int
}

// Open connects, creates the schema if missing and migrates the tables.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Schema == "" {
		opts.Schema = "cartograph"
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 10
	}

	if err := ensureSchema(ctx, opts.DSN, opts.Schema); err != nil {
		return nil, err
	}

	// search_path rides in the DSN so every pooled connection resolves the
	// deployment's schema.
	db, err := sql.Open("postgres", dsnWithSearchPath(opts.DSN, opts.Schema))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{
		db:     db,
		clock:  store.NewClock(),
		logger: logging.GetLogger("store.postgres"),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func ensureSchema(ctx context.Context, dsn, schema string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	defer db.Close()
	_, err = db.ExecContext(ctx,
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(schema)))
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// dsnWithSearchPath appends search_path as a run-time parameter. lib/pq
// forwards unrecognized parameters to the server at connection startup.
func dsnWithSearchPath(dsn, schema string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + url.QueryEscape(schema)
	}
	return dsn + " search_path=" + schema
}

var _ store.Store = (*Store)(nil)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id   TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			id             TEXT PRIMARY KEY,
			source_node_id TEXT NOT NULL REFERENCES nodes(id),
			target_node_id TEXT NOT NULL REFERENCES nodes(id),
			data           JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges (source_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (target_node_id)`,
		`CREATE TABLE IF NOT EXISTS changes (
			id          TEXT PRIMARY KEY,
			target_id   TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			data        JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_target ON changes (target_id, detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_detected ON changes (detected_at DESC, id DESC)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id   TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL REFERENCES groups(id),
			node_id  TEXT NOT NULL,
			PRIMARY KEY (group_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id         TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			data       JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_graphs (
			snapshot_id TEXT PRIMARY KEY REFERENCES snapshots(id),
			data        JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_records (
			id         TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			data       JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS change_requests (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			data       JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.ErrorWithErr("rollback failed", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isForeignKeyViolation maps the pq error class for missing edge endpoints.
func isForeignKeyViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23503"
	}
	return false
}

// UpsertNodes implements store.Store.
func (s *Store) UpsertNodes(ctx context.Context, nodes []models.Node) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, incoming := range nodes {
			if incoming.ID == "" {
				incoming = incoming.WithID()
			}
			if incoming.LastSyncedAt.IsZero() {
				incoming.LastSyncedAt = time.Now()
			}

			var raw []byte
			err := tx.QueryRowContext(ctx,
				`SELECT data FROM nodes WHERE id = $1 FOR UPDATE`, incoming.ID).Scan(&raw)
			switch {
			case err == sql.ErrNoRows:
				if incoming.CreatedAt.IsZero() {
					incoming.CreatedAt = time.Now()
				}
				if err := s.putNodeTx(ctx, tx, incoming); err != nil {
					return err
				}
				if err := s.appendTx(ctx, tx, []models.Change{{
					TargetID:      incoming.ID,
					ChangeType:    models.ChangeNodeCreated,
					DetectedVia:   models.DetectedViaSync,
					InitiatorType: models.InitiatorSystem,
				}}); err != nil {
					return err
				}
			case err != nil:
				return fmt.Errorf("failed to read node %s: %w", incoming.ID, err)
			default:
				var existing models.Node
				if err := json.Unmarshal(raw, &existing); err != nil {
					return fmt.Errorf("failed to unmarshal node %s: %w", incoming.ID, err)
				}
				merged, fieldChanges := store.MergeNode(existing, incoming)
				if err := s.putNodeTx(ctx, tx, merged); err != nil {
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
				if err := s.appendTx(ctx, tx, changes); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) putNodeTx(ctx context.Context, tx *sql.Tx, n models.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO nodes (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, n.ID, data)
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", n.ID, err)
	}
	return nil
}

// UpsertEdges implements store.Store.
func (s *Store) UpsertEdges(ctx context.Context, edges []models.Edge) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, incoming := range edges {
			if incoming.ID == "" {
				incoming = incoming.WithID()
			}
			data, err := json.Marshal(incoming)
			if err != nil {
				return fmt.Errorf("failed to marshal edge: %w", err)
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO edges (id, source_node_id, target_node_id, data)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (id) DO NOTHING`,
				incoming.ID, incoming.SourceNodeID, incoming.TargetNodeID, data)
			if err != nil {
				if isForeignKeyViolation(err) {
					return models.ErrDanglingEdge
				}
				return fmt.Errorf("failed to upsert edge %s: %w", incoming.ID, err)
			}
			inserted, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if inserted == 0 {
				continue
			}
			if err := s.appendTx(ctx, tx, []models.Change{{
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
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM nodes WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	var n models.Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// GetEdge implements store.Store.
func (s *Store) GetEdge(ctx context.Context, id string) (*models.Edge, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM edges WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge %s: %w", id, err)
	}
	var e models.Edge
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteNode implements store.Store.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM nodes WHERE id = $1) `, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return nil
		}

		rows, err := tx.QueryContext(ctx,
			`DELETE FROM edges WHERE source_node_id = $1 OR target_node_id = $1 RETURNING id`, id)
		if err != nil {
			return fmt.Errorf("failed to cascade edges of %s: %w", id, err)
		}
		var edgeIDs []string
		for rows.Next() {
			var eid string
			if err := rows.Scan(&eid); err != nil {
				rows.Close()
				return err
			}
			edgeIDs = append(edgeIDs, eid)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE node_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete node %s: %w", id, err)
		}

		changes := make([]models.Change, 0, len(edgeIDs)+1)
		for _, eid := range edgeIDs {
			changes = append(changes, models.Change{
				TargetID:      eid,
				ChangeType:    models.ChangeEdgeDeleted,
				DetectedVia:   models.DetectedViaSync,
				InitiatorType: models.InitiatorSystem,
			})
		}
		changes = append(changes, models.Change{
			TargetID:      id,
			ChangeType:    models.ChangeNodeDeleted,
			DetectedVia:   models.DetectedViaSync,
			InitiatorType: models.InitiatorSystem,
		})
		return s.appendTx(ctx, tx, changes)
	})
}

// QueryNodes implements store.Store. Rows come back in id order so pagination
// over the same filter is stable.
func (s *Store) QueryNodes(ctx context.Context, filter *models.NodeFilter) ([]models.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	matched := make([]models.Node, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var n models.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		if filter.Matches(&n) {
			matched = append(matched, n)
		}
	}
	return matched, rows.Err()
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
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM edges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	matched := make([]models.Edge, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e models.Edge
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		if filter.Matches(&e) {
			matched = append(matched, e)
		}
	}
	return matched, rows.Err()
}

// QueryEdgesPaginated implements store.Store.
func (s *Store) QueryEdgesPaginated(ctx context.Context, filter *models.EdgeFilter, page models.PageRequest) (*models.Page[models.Edge], error) {
	matched, err := s.QueryEdges(ctx, filter)
	if err != nil {
		return nil, err
	}
	return store.Paginate(matched, filter, page)
}

// GetEdgesForNode implements store.Store.
func (s *Store) GetEdgesForNode(ctx context.Context, id string, direction models.Direction) ([]models.Edge, error) {
	var query string
	switch direction {
	case models.DirectionDownstream:
		query = `SELECT data FROM edges WHERE source_node_id = $1 ORDER BY id`
	case models.DirectionUpstream:
		query = `SELECT data FROM edges WHERE target_node_id = $1 ORDER BY id`
	default:
		query = `SELECT data FROM edges WHERE source_node_id = $1 OR target_node_id = $1 ORDER BY id`
	}
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get edges for %s: %w", id, err)
	}
	defer rows.Close()

	edges := make([]models.Edge, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e models.Edge
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// GetNeighbors implements store.Store via the shared BFS.
func (s *Store) GetNeighbors(ctx context.Context, id string, maxDepth int, direction models.Direction) (*store.Subgraph, error) {
	return store.Neighbors(ctx, s, id, maxDepth, direction)
}

// AppendChanges implements store.Store.
func (s *Store) AppendChanges(ctx context.Context, changes []models.Change) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.appendTx(ctx, tx, changes)
	})
}

func (s *Store) appendTx(ctx context.Context, tx *sql.Tx, changes []models.Change) error {
	for _, c := range store.PrepareChanges(s.clock, changes) {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal change: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes (id, target_id, detected_at, data) VALUES ($1, $2, $3, $4)`,
			c.ID, c.TargetID, c.DetectedAt, data); err != nil {
			return fmt.Errorf("failed to append change: %w", err)
		}
	}
	return nil
}

// GetChanges implements store.Store.
func (s *Store) GetChanges(ctx context.Context, filter *models.ChangeFilter) ([]models.Change, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM changes ORDER BY detected_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	matched := make([]models.Change, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c models.Change
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		if filter.Matches(&c) {
			matched = append(matched, c)
		}
	}
	return matched, rows.Err()
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
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	group.UpdatedAt = time.Now()
	data, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("failed to marshal group: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO groups (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, group.ID, data)
	return err
}

// GetGroup implements store.Store.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM groups WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group %s: %w", id, err)
	}
	var g models.Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// AddGroupMember implements store.Store.
func (s *Store) AddGroupMember(ctx context.Context, groupID, nodeID string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, node_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, groupID, nodeID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to add member %s to group %s: %w", nodeID, groupID, err)
	}
	_, _ = res.RowsAffected()
	return nil
}

// RemoveGroupMember implements store.Store.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, nodeID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND node_id = $2`, groupID, nodeID)
	return err
}

// GetGroupMembers implements store.Store.
func (s *Store) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id FROM group_members WHERE group_id = $1 ORDER BY node_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of group %s: %w", groupID, err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// GetStats implements store.Store.
func (s *Store) GetStats(ctx context.Context) (*models.GraphStats, error) {
	stats := &models.GraphStats{
		NodesByProvider:     make(map[models.Provider]int),
		NodesByResourceType: make(map[models.ResourceType]int),
		NodesByStatus:       make(map[models.NodeStatus]int),
	}

	nodes, err := s.QueryNodes(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		stats.TotalNodes++
		stats.NodesByProvider[n.Provider]++
		stats.NodesByResourceType[n.ResourceType]++
		stats.NodesByStatus[n.Status]++
		stats.TotalCostMonthly += n.CostMonthly
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&stats.TotalEdges); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes`).Scan(&stats.TotalChanges); err != nil {
		return nil, err
	}

	var last sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX((data->>'completedAt')::timestamptz) FROM sync_records`).Scan(&last)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		stats.LastSyncAt = last.Time
	}
	return stats, nil
}

type snapshotGraph struct {
	Nodes []models.Node `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

// PutSnapshot implements store.Store.
func (s *Store) PutSnapshot(ctx context.Context, snap models.Snapshot, nodes []models.Node, edges []models.Edge) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		header, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (id, created_at, data) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
			snap.ID, snap.CreatedAt, header); err != nil {
			return err
		}
		graph, err := json.Marshal(snapshotGraph{Nodes: nodes, Edges: edges})
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot graph: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO snapshot_graphs (snapshot_id, data) VALUES ($1, $2)
			 ON CONFLICT (snapshot_id) DO UPDATE SET data = EXCLUDED.data`,
			snap.ID, graph)
		return err
	})
}

// GetSnapshot implements store.Store.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", id, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListSnapshots implements store.Store.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]models.Snapshot, error) {
	query := `SELECT data FROM snapshots ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := make([]models.Snapshot, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap models.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// GetSnapshotGraph implements store.Store.
func (s *Store) GetSnapshotGraph(ctx context.Context, id string) ([]models.Node, []models.Edge, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshot_graphs WHERE snapshot_id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil, models.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get snapshot graph %s: %w", id, err)
	}
	var graph snapshotGraph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, nil, err
	}
	return graph.Nodes, graph.Edges, nil
}

// PutSyncRecord implements store.Store.
func (s *Store) PutSyncRecord(ctx context.Context, rec models.SyncRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_records (id, started_at, data) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		rec.ID, rec.StartedAt, data)
	return err
}

// ListSyncRecords implements store.Store.
func (s *Store) ListSyncRecords(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	query := `SELECT data FROM sync_records ORDER BY started_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	defer rows.Close()

	recs := make([]models.SyncRecord, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec models.SyncRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PutChangeRequest implements store.Store.
func (s *Store) PutChangeRequest(ctx context.Context, req models.ChangeRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal change request: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO change_requests (id, status, created_at, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data`,
		req.ID, string(req.Status), req.CreatedAt, data)
	return err
}

// GetChangeRequest implements store.Store.
func (s *Store) GetChangeRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM change_requests WHERE id = $1`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change request %s: %w", id, err)
	}
	var req models.ChangeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListChangeRequests implements store.Store.
func (s *Store) ListChangeRequests(ctx context.Context, status models.RequestStatus, limit int) ([]models.ChangeRequest, error) {
	query := `SELECT data FROM change_requests`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list change requests: %w", err)
	}
	defer rows.Close()

	reqs := make([]models.ChangeRequest, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var req models.ChangeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
