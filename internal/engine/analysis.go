package engine

import (
	"context"
	"sort"

	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

// BlastRadius is the downstream transitive closure of a node: everything
// that would feel a change to or failure of the root.
type BlastRadius struct {
	RootID           string        `json:"rootId"`
	Nodes            []models.Node `json:"nodes"` // excludes the root
	NodeIDsByDepth   [][]string    `json:"nodeIdsByDepth"`
	TotalCount       int           `json:"totalCount"`
	TotalCostMonthly float64       `json:"totalCostMonthly"`
	Edges            []models.Edge `json:"edges"`
}

// GetBlastRadius walks downstream from id up to maxDepth, bucketing affected
// node ids per hop.
func (e *Engine) GetBlastRadius(ctx context.Context, id string, maxDepth int) (*BlastRadius, error) {
	root, err := e.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, models.ErrNotFound
	}
	if maxDepth <= 0 {
		maxDepth = DefaultBlastDepth
	}

	br := &BlastRadius{RootID: id, Nodes: []models.Node{}, NodeIDsByDepth: [][]string{}, Edges: []models.Edge{}}
	visited := map[string]bool{id: true}
	edgeSeen := map[string]bool{}
	frontier := []string{id}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		sort.Strings(frontier)
		var bucket []string
		var next []string
		for _, cur := range frontier {
			edges, err := e.store.GetEdgesForNode(ctx, cur, models.DirectionDownstream)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if !edgeSeen[edge.ID] {
					edgeSeen[edge.ID] = true
					br.Edges = append(br.Edges, edge)
				}
				peer := edge.TargetNodeID
				if visited[peer] {
					continue
				}
				visited[peer] = true
				node, err := e.store.GetNode(ctx, peer)
				if err != nil {
					return nil, err
				}
				if node == nil {
					continue
				}
				br.Nodes = append(br.Nodes, *node)
				br.TotalCostMonthly += node.CostMonthly
				bucket = append(bucket, peer)
				next = append(next, peer)
			}
		}
		if len(bucket) > 0 {
			sort.Strings(bucket)
			br.NodeIDsByDepth = append(br.NodeIDsByDepth, bucket)
		}
		frontier = next
	}
	br.TotalCount = len(br.Nodes)
	return br, nil
}

// DefaultBlastDepth bounds blast-radius walks when no depth is given.
const DefaultBlastDepth = 5

// GetDependencyChain returns the subgraph reachable from id in the given
// direction, root included.
func (e *Engine) GetDependencyChain(ctx context.Context, id string, direction models.Direction, depth int) (*store.Subgraph, error) {
	if depth <= 0 {
		depth = DefaultBlastDepth
	}
	return e.store.GetNeighbors(ctx, id, depth, direction)
}

// CostReport is the monthly cost rollup for a node filter.
type CostReport struct {
	TotalMonthly   float64                         `json:"totalMonthly"`
	ByProvider     map[models.Provider]float64     `json:"byProvider"`
	ByResourceType map[models.ResourceType]float64 `json:"byResourceType"`
	ByRegion       map[string]float64              `json:"byRegion"`
	ByAccount      map[string]float64              `json:"byAccount"`
}

// GetCostByFilter rolls up monthly cost across every matching node.
func (e *Engine) GetCostByFilter(ctx context.Context, filter *models.NodeFilter) (*CostReport, error) {
	nodes, err := e.store.QueryNodes(ctx, filter)
	if err != nil {
		return nil, err
	}
	report := &CostReport{
		ByProvider:     map[models.Provider]float64{},
		ByResourceType: map[models.ResourceType]float64{},
		ByRegion:       map[string]float64{},
		ByAccount:      map[string]float64{},
	}
	for _, n := range nodes {
		report.TotalMonthly += n.CostMonthly
		report.ByProvider[n.Provider] += n.CostMonthly
		report.ByResourceType[n.ResourceType] += n.CostMonthly
		report.ByRegion[n.Region] += n.CostMonthly
		report.ByAccount[n.Account] += n.CostMonthly
	}
	return report, nil
}

// GetStats proxies store stats, memoized until the next sync cycle (or the
// cache TTL, whichever comes first).
func (e *Engine) GetStats(ctx context.Context) (*models.GraphStats, error) {
	if cached, ok := e.statsCache.Get(statsCacheKey); ok {
		return cached.(*models.GraphStats), nil
	}
	stats, err := e.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	e.statsCache.SetDefault(statsCacheKey, stats)
	return stats, nil
}
