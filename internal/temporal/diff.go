package temporal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

// NodeDiff is the per-node entry of a topology diff.
type NodeDiff struct {
	ID           string              `json:"id"`
	FieldChanges []store.FieldChange `json:"fieldChanges"`
}

// Diff describes how the graph changed between two points in time.
type Diff struct {
	AddedNodes   []models.Node `json:"addedNodes"`
	RemovedNodes []models.Node `json:"removedNodes"`
	ChangedNodes []NodeDiff    `json:"changedNodes"`
}

// DiffSnapshots compares the materialized graphs of two snapshots.
func (s *Store) DiffSnapshots(ctx context.Context, fromID, toID string) (*Diff, error) {
	fromNodes, _, err := s.graph.GetSnapshotGraph(ctx, fromID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", fromID, err)
	}
	toNodes, _, err := s.graph.GetSnapshotGraph(ctx, toID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", toID, err)
	}
	return diffNodes(fromNodes, toNodes), nil
}

// DiffTimestamps compares the reconstructed topologies at two instants.
func (s *Store) DiffTimestamps(ctx context.Context, fromTs, toTs time.Time) (*Diff, error) {
	from, err := s.GetTopologyAt(ctx, fromTs, nil)
	if err != nil {
		return nil, err
	}
	to, err := s.GetTopologyAt(ctx, toTs, nil)
	if err != nil {
		return nil, err
	}
	return diffNodes(from.Nodes, to.Nodes), nil
}

func diffNodes(from, to []models.Node) *Diff {
	fromByID := make(map[string]models.Node, len(from))
	for _, n := range from {
		fromByID[n.ID] = n
	}
	toByID := make(map[string]models.Node, len(to))
	for _, n := range to {
		toByID[n.ID] = n
	}

	diff := &Diff{
		AddedNodes:   make([]models.Node, 0),
		RemovedNodes: make([]models.Node, 0),
		ChangedNodes: make([]NodeDiff, 0),
	}
	for _, n := range to {
		before, existed := fromByID[n.ID]
		if !existed {
			diff.AddedNodes = append(diff.AddedNodes, n)
			continue
		}
		if changes := fieldDiffs(before, n); len(changes) > 0 {
			diff.ChangedNodes = append(diff.ChangedNodes, NodeDiff{ID: n.ID, FieldChanges: changes})
		}
	}
	for _, n := range from {
		if _, survives := toByID[n.ID]; !survives {
			diff.RemovedNodes = append(diff.RemovedNodes, n)
		}
	}

	sort.Slice(diff.AddedNodes, func(i, j int) bool { return diff.AddedNodes[i].ID < diff.AddedNodes[j].ID })
	sort.Slice(diff.RemovedNodes, func(i, j int) bool { return diff.RemovedNodes[i].ID < diff.RemovedNodes[j].ID })
	sort.Slice(diff.ChangedNodes, func(i, j int) bool { return diff.ChangedNodes[i].ID < diff.ChangedNodes[j].ID })
	return diff
}

// fieldDiffs compares two versions of the same node symmetrically. Unlike a
// sync merge, a field going empty still counts as a change here.
func fieldDiffs(before, after models.Node) []store.FieldChange {
	var changes []store.FieldChange
	str := func(field, prev, next string) {
		if prev != next {
			changes = append(changes, store.FieldChange{
				Field: field, Previous: prev, New: next, ChangeType: models.ChangeNodeUpdated,
			})
		}
	}
	str("name", before.Name, after.Name)
	str("account", before.Account, after.Account)
	str("owner", before.Owner, after.Owner)
	str("status", string(before.Status), string(after.Status))
	if before.CostMonthly != after.CostMonthly {
		changes = append(changes, store.FieldChange{
			Field:      "costMonthly",
			Previous:   fmt.Sprintf("%.2f", before.CostMonthly),
			New:        fmt.Sprintf("%.2f", after.CostMonthly),
			ChangeType: models.ChangeCostChanged,
		})
	}
	if !tagsEqual(before.Tags, after.Tags) {
		changes = append(changes, store.FieldChange{
			Field:      "tags",
			Previous:   fmt.Sprintf("%v", before.Tags),
			New:        fmt.Sprintf("%v", after.Tags),
			ChangeType: models.ChangeNodeUpdated,
		})
	}
	return changes
}

func tagsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// NodeActivity counts the change events of one node within a window.
type NodeActivity struct {
	NodeID  string `json:"nodeId"`
	Changes int    `json:"changes"`
}

// EvolutionSummary aggregates change-log activity since a point in time.
type EvolutionSummary struct {
	Since         time.Time                 `json:"since"`
	TotalChanges  int                       `json:"totalChanges"`
	ByType        map[models.ChangeType]int `json:"byType"`
	MostActive    []NodeActivity            `json:"mostActive"`
	FirstChangeAt time.Time                 `json:"firstChangeAt"`
	LastChangeAt  time.Time                 `json:"lastChangeAt"`
}

const mostActiveLimit = 10

// GetEvolutionSummary summarizes how the graph evolved since the given time.
func (s *Store) GetEvolutionSummary(ctx context.Context, since time.Time) (*EvolutionSummary, error) {
	changes, err := s.graph.GetChanges(ctx, &models.ChangeFilter{Since: since})
	if err != nil {
		return nil, err
	}

	summary := &EvolutionSummary{
		Since:      since,
		ByType:     make(map[models.ChangeType]int),
		MostActive: make([]NodeActivity, 0),
	}
	perNode := map[string]int{}
	for _, c := range changes {
		summary.TotalChanges++
		summary.ByType[c.ChangeType]++
		perNode[c.TargetID]++
		if summary.FirstChangeAt.IsZero() || c.DetectedAt.Before(summary.FirstChangeAt) {
			summary.FirstChangeAt = c.DetectedAt
		}
		if c.DetectedAt.After(summary.LastChangeAt) {
			summary.LastChangeAt = c.DetectedAt
		}
	}

	for id, count := range perNode {
		summary.MostActive = append(summary.MostActive, NodeActivity{NodeID: id, Changes: count})
	}
	sort.Slice(summary.MostActive, func(i, j int) bool {
		if summary.MostActive[i].Changes == summary.MostActive[j].Changes {
			return summary.MostActive[i].NodeID < summary.MostActive[j].NodeID
		}
		return summary.MostActive[i].Changes > summary.MostActive[j].Changes
	})
	if len(summary.MostActive) > mostActiveLimit {
		summary.MostActive = summary.MostActive[:mostActiveLimit]
	}
	return summary, nil
}
