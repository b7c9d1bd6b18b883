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

// ImportOptions tunes an import run.
type ImportOptions struct {
	// SkipExisting leaves nodes that are already in the store untouched
	// instead of merging the snapshot's version over them.
	SkipExisting bool

	// DryRun validates and reports without writing.
	DryRun bool
}

// Import reads a JSON snapshot and upserts it into the store. Nodes go in
// before edges so edge endpoint checks hold. Edges referencing nodes that
// exist in neither the snapshot nor the store are skipped and reported, not
// fatal.
func Import(ctx context.Context, st store.Store, r io.Reader, opts ImportOptions) (*Report, error) {
	logger := logging.GetLogger("importexport")
	start := time.Now()

	snap, err := ParseSnapshot(r)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	imported := make(map[string]bool, len(snap.Nodes))

	var nodes []models.Node
	for i, node := range snap.Nodes {
		if node.ID == "" || node.Provider == "" || node.ResourceType == "" {
			report.Errors = append(report.Errors,
				fmt.Sprintf("nodes[%d]: id, provider and type are required", i))
			continue
		}
		if opts.SkipExisting {
			existing, err := st.GetNode(ctx, node.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to check node %s: %w", node.ID, err)
			}
			if existing != nil {
				report.NodesSkipped++
				imported[node.ID] = true
				continue
			}
		}
		nodes = append(nodes, node)
		imported[node.ID] = true
	}

	var edges []models.Edge
	for i, edge := range snap.Edges {
		if edge.SourceNodeID == "" || edge.TargetNodeID == "" {
			report.Errors = append(report.Errors,
				fmt.Sprintf("edges[%d]: source and target are required", i))
			continue
		}
		ok, err := endpointKnown(ctx, st, imported, edge.SourceNodeID)
		if err != nil {
			return nil, err
		}
		if ok {
			ok, err = endpointKnown(ctx, st, imported, edge.TargetNodeID)
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			report.EdgesSkipped++
			report.Errors = append(report.Errors,
				fmt.Sprintf("edges[%d]: endpoint missing from snapshot and store", i))
			continue
		}
		edges = append(edges, edge)
	}

	report.Nodes = len(nodes)
	report.Edges = len(edges)
	report.Duration = time.Since(start)

	if opts.DryRun {
		logger.Info("Dry run: would import %d nodes and %d edges", len(nodes), len(edges))
		return report, nil
	}

	if len(nodes) > 0 {
		if err := st.UpsertNodes(ctx, nodes); err != nil {
			return nil, fmt.Errorf("failed to import nodes: %w", err)
		}
	}
	if len(edges) > 0 {
		if err := st.UpsertEdges(ctx, edges); err != nil {
			return nil, fmt.Errorf("failed to import edges: %w", err)
		}
	}

	report.Duration = time.Since(start)
	logger.Info("Imported %d nodes and %d edges (%d nodes skipped, %d edges skipped)",
		report.Nodes, report.Edges, report.NodesSkipped, report.EdgesSkipped)
	return report, nil
}

// ImportFromFile reads and imports a snapshot file.
func ImportFromFile(ctx context.Context, st store.Store, path string, opts ImportOptions) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()
	return Import(ctx, st, f, opts)
}

// ParseSnapshot decodes and version-checks a snapshot document.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty snapshot")
		}
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version %q (expected %q)",
			snap.SchemaVersion, SchemaVersion)
	}
	return &snap, nil
}

func endpointKnown(ctx context.Context, st store.Store, imported map[string]bool, id string) (bool, error) {
	if imported[id] {
		return true, nil
	}
	node, err := st.GetNode(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check edge endpoint %s: %w", id, err)
	}
	return node != nil, nil
}
