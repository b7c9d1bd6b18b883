package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/temporal"
)

// TimeTravelTool reconstructs the topology as of a timestamp.
type TimeTravelTool struct {
	temporal *temporal.Store
}

// NewTimeTravelTool wraps the temporal store.
func NewTimeTravelTool(ts *temporal.Store) *TimeTravelTool {
	return &TimeTravelTool{temporal: ts}
}

type timeTravelInput struct {
	Timestamp string             `json:"timestamp"`
	Filter    *models.NodeFilter `json:"filter,omitempty"`
}

// Execute implements Tool. The timestamp is RFC3339.
func (t *TimeTravelTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params timeTravelInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if params.Timestamp == "" {
		return nil, fmt.Errorf("timestamp is required")
	}
	ts, err := time.Parse(time.RFC3339, params.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timestamp must be RFC3339: %w", err)
	}

	sub, err := t.temporal.GetTopologyAt(ctx, ts, params.Filter)
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d nodes, %d edges as of %s",
		len(sub.Nodes), len(sub.Edges), ts.Format(time.RFC3339)), sub), nil
}

// SnapshotDiffTool diffs two snapshots, or two timestamps when snapshot ids
// are not given.
type SnapshotDiffTool struct {
	temporal *temporal.Store
}

// NewSnapshotDiffTool wraps the temporal store.
func NewSnapshotDiffTool(ts *temporal.Store) *SnapshotDiffTool {
	return &SnapshotDiffTool{temporal: ts}
}

type snapshotDiffInput struct {
	FromSnapshotID string `json:"fromSnapshotId,omitempty"`
	ToSnapshotID   string `json:"toSnapshotId,omitempty"`
	FromTimestamp  string `json:"fromTimestamp,omitempty"`
	ToTimestamp    string `json:"toTimestamp,omitempty"`
}

// Execute implements Tool.
func (t *SnapshotDiffTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params snapshotDiffInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	var diff *temporal.Diff
	var err error
	switch {
	case params.FromSnapshotID != "" && params.ToSnapshotID != "":
		diff, err = t.temporal.DiffSnapshots(ctx, params.FromSnapshotID, params.ToSnapshotID)
	case params.FromTimestamp != "" && params.ToTimestamp != "":
		var from, to time.Time
		if from, err = time.Parse(time.RFC3339, params.FromTimestamp); err != nil {
			return nil, fmt.Errorf("fromTimestamp must be RFC3339: %w", err)
		}
		if to, err = time.Parse(time.RFC3339, params.ToTimestamp); err != nil {
			return nil, fmt.Errorf("toTimestamp must be RFC3339: %w", err)
		}
		diff, err = t.temporal.DiffTimestamps(ctx, from, to)
	default:
		return nil, fmt.Errorf("either both snapshot ids or both timestamps are required")
	}
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d added, %d removed, %d changed",
		len(diff.AddedNodes), len(diff.RemovedNodes), len(diff.ChangedNodes)), diff), nil
}
