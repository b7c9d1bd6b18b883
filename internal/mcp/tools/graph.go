package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/iql"
	"github.com/moorhen/cartograph/internal/models"
)

// GraphQueryTool runs IQL queries.
type GraphQueryTool struct {
	executor *iql.Executor
}

// NewGraphQueryTool wraps an IQL executor.
func NewGraphQueryTool(executor *iql.Executor) *GraphQueryTool {
	return &GraphQueryTool{executor: executor}
}

type graphQueryInput struct {
	Query string `json:"query"`
}

// Execute implements Tool. Syntax errors come back as a failure envelope
// with example queries, so a caller can self-correct.
func (t *GraphQueryTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params graphQueryInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	result, err := t.executor.Execute(ctx, params.Query)
	if err != nil {
		var syntaxErr *iql.SyntaxError
		if errors.As(err, &syntaxErr) {
			return Fail(syntaxErr.Error(), map[string]interface{}{
				"exampleQueries": iql.ExampleQueries,
			}), nil
		}
		return nil, err
	}
	return OK(fmt.Sprintf("%d results", result.Count), result), nil
}

// GraphStatsTool reports graph totals and per-dimension counts.
type GraphStatsTool struct {
	engine *engine.Engine
}

// NewGraphStatsTool wraps the engine's memoized stats view.
func NewGraphStatsTool(eng *engine.Engine) *GraphStatsTool {
	return &GraphStatsTool{engine: eng}
}

// Execute implements Tool.
func (t *GraphStatsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	stats, err := t.engine.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d nodes, %d edges", stats.TotalNodes, stats.TotalEdges), stats), nil
}

// BlastRadiusTool walks the downstream impact of one node.
type BlastRadiusTool struct {
	engine *engine.Engine
}

// NewBlastRadiusTool wraps the engine's blast radius analysis.
func NewBlastRadiusTool(eng *engine.Engine) *BlastRadiusTool {
	return &BlastRadiusTool{engine: eng}
}

type blastRadiusInput struct {
	NodeID   string `json:"nodeId"`
	MaxDepth int    `json:"maxDepth,omitempty"`
}

// Execute implements Tool.
func (t *BlastRadiusTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params blastRadiusInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if params.NodeID == "" {
		return nil, fmt.Errorf("nodeId is required")
	}

	br, err := t.engine.GetBlastRadius(ctx, params.NodeID, params.MaxDepth)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Fail(fmt.Sprintf("node %s not found", params.NodeID), nil), nil
		}
		return nil, err
	}
	return OK(fmt.Sprintf("%d nodes affected, $%.2f/month at risk", br.TotalCount, br.TotalCostMonthly), br), nil
}

// DependencyChainTool traverses a node's neighborhood in either direction.
type DependencyChainTool struct {
	engine *engine.Engine
}

// NewDependencyChainTool wraps the engine's traversal.
func NewDependencyChainTool(eng *engine.Engine) *DependencyChainTool {
	return &DependencyChainTool{engine: eng}
}

type dependencyChainInput struct {
	NodeID    string `json:"nodeId"`
	Direction string `json:"direction,omitempty"`
	MaxDepth  int    `json:"maxDepth,omitempty"`
}

// Execute implements Tool.
func (t *DependencyChainTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params dependencyChainInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if params.NodeID == "" {
		return nil, fmt.Errorf("nodeId is required")
	}
	direction := models.DirectionDownstream
	switch params.Direction {
	case "", "downstream":
	case "upstream":
		direction = models.DirectionUpstream
	case "both":
		direction = models.DirectionBoth
	default:
		return nil, fmt.Errorf("direction must be upstream, downstream or both")
	}

	sub, err := t.engine.GetDependencyChain(ctx, params.NodeID, direction, params.MaxDepth)
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d nodes, %d edges", len(sub.Nodes), len(sub.Edges)), sub), nil
}

// DetectDriftTool compares stored metadata against live adapter state.
type DetectDriftTool struct {
	engine *engine.Engine
}

// NewDetectDriftTool wraps the engine's drift scan.
func NewDetectDriftTool(eng *engine.Engine) *DetectDriftTool {
	return &DetectDriftTool{engine: eng}
}

type detectDriftInput struct {
	Provider string `json:"provider,omitempty"`
}

// Execute implements Tool.
func (t *DetectDriftTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params detectDriftInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	report, err := t.engine.DetectDrift(ctx, models.Provider(params.Provider))
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d drifted, %d disappeared",
		len(report.DriftedNodes), len(report.DisappearedNodes)), report), nil
}

// CostByFilterTool rolls up monthly cost over a node filter.
type CostByFilterTool struct {
	engine *engine.Engine
}

// NewCostByFilterTool wraps the engine's cost rollup.
func NewCostByFilterTool(eng *engine.Engine) *CostByFilterTool {
	return &CostByFilterTool{engine: eng}
}

// Execute implements Tool. The input is a models.NodeFilter document.
func (t *CostByFilterTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var filter models.NodeFilter
	if err := json.Unmarshal(input, &filter); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	report, err := t.engine.GetCostByFilter(ctx, &filter)
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("$%.2f/month", report.TotalMonthly), report), nil
}
