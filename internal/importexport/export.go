// Package importexport moves whole graph snapshots in and out of a store as
// JSON, for backups, environment seeding and offline analysis.
package importexport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

// SchemaVersion is the snapshot file format version.
const SchemaVersion = "v1"

// Snapshot is the on-disk graph export format.
type Snapshot struct {
	SchemaVersion string        `json:"schemaVersion"`
	ExportedAt    time.Time     `json:"exportedAt"`
	Nodes         []models.Node `json:"nodes"`
	Edges         []models.Edge `json:"edges"`
}

// Export writes the full graph as a JSON snapshot.
func Export(ctx context.Context, st store.Store, w io.Writer) (*Report, error) {
	logger := logging.GetLogger("importexport")
	start := time.Now()

	nodes, err := st.QueryNodes(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}
	edges, err := st.QueryEdges(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read edges: %w", err)
	}

	snap := Snapshot{
		SchemaVersion: SchemaVersion,
		ExportedAt:    time.Now().UTC(),
		Nodes:         nodes,
		Edges:         edges,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	logger.Info("Exported %d nodes and %d edges", len(nodes), len(edges))
	return &Report{
		Nodes:    len(nodes),
		Edges:    len(edges),
		Duration: time.Since(start),
	}, nil
}

// ExportToFile writes the snapshot to path, creating or truncating it.
func ExportToFile(ctx context.Context, st store.Store, path string) (*Report, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	report, err := Export(ctx, st, f)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush export file: %w", err)
	}
	return report, nil
}
