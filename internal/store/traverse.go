package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/moorhen/cartograph/internal/models"
)

// GraphReader is the minimal read surface the shared BFS needs. Every
// backend satisfies it, so all three share one traversal implementation.
type GraphReader interface {
	GetNode(ctx context.Context, id string) (*models.Node, error)
	GetEdgesForNode(ctx context.Context, id string, direction models.Direction) ([]models.Edge, error)
}

// Neighbors is the breadth-first traversal shared by all backends. The root
// is included at depth 0. The visited set is keyed by node id so cyclic
// graphs terminate. Equal-depth neighbors are expanded in lexicographic
// node-id order, making the output deterministic.
func Neighbors(ctx context.Context, g GraphReader, rootID string, maxDepth int, direction models.Direction) (*Subgraph, error) {
	root, err := g.GetNode(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("node %s: %w", rootID, models.ErrNotFound)
	}
	if maxDepth < 0 {
		maxDepth = 0
	}

	visited := map[string]models.Node{rootID: *root}
	edgeSeen := map[string]models.Edge{}
	frontier := []string{rootID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		sort.Strings(frontier)
		var next []string
		for _, id := range frontier {
			edges, err := g.GetEdgesForNode(ctx, id, direction)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				peer := edge.TargetNodeID
				if peer == id {
					peer = edge.SourceNodeID
				}
				if _, ok := visited[peer]; ok {
					edgeSeen[edge.ID] = edge
					continue
				}
				node, err := g.GetNode(ctx, peer)
				if err != nil {
					return nil, err
				}
				if node == nil {
					continue
				}
				visited[peer] = *node
				edgeSeen[edge.ID] = edge
				next = append(next, peer)
			}
		}
		frontier = next
	}

	return sortedSubgraph(visited, edgeSeen), nil
}

// ShortestPath finds the shortest unweighted path between two nodes using
// BFS over both edge directions. Returns an empty subgraph when the target
// is unreachable.
func ShortestPath(ctx context.Context, g GraphReader, fromID, toID string) (*Subgraph, error) {
	from, err := g.GetNode(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if from == nil {
		return nil, fmt.Errorf("node %s: %w", fromID, models.ErrNotFound)
	}
	if fromID == toID {
		return &Subgraph{Nodes: []models.Node{*from}}, nil
	}

	parent := map[string]string{fromID: ""}
	parentEdge := map[string]models.Edge{}
	frontier := []string{fromID}

	for len(frontier) > 0 {
		sort.Strings(frontier)
		var next []string
		for _, id := range frontier {
			edges, err := g.GetEdgesForNode(ctx, id, models.DirectionBoth)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				peer := edge.TargetNodeID
				if peer == id {
					peer = edge.SourceNodeID
				}
				if _, ok := parent[peer]; ok {
					continue
				}
				parent[peer] = id
				parentEdge[peer] = edge
				if peer == toID {
					return buildPath(ctx, g, fromID, toID, parent, parentEdge)
				}
				next = append(next, peer)
			}
		}
		frontier = next
	}

	return &Subgraph{Nodes: []models.Node{}, Edges: []models.Edge{}}, nil
}

func buildPath(ctx context.Context, g GraphReader, fromID, toID string, parent map[string]string, parentEdge map[string]models.Edge) (*Subgraph, error) {
	var ids []string
	var edges []models.Edge
	for cur := toID; cur != ""; cur = parent[cur] {
		ids = append(ids, cur)
		if cur != fromID {
			edges = append(edges, parentEdge[cur])
		}
	}
	// Reverse into from→to order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}

	nodes := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		node, err := g.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if node != nil {
			nodes = append(nodes, *node)
		}
	}
	return &Subgraph{Nodes: nodes, Edges: edges}, nil
}

func sortedSubgraph(nodes map[string]models.Node, edges map[string]models.Edge) *Subgraph {
	sg := &Subgraph{
		Nodes: make([]models.Node, 0, len(nodes)),
		Edges: make([]models.Edge, 0, len(edges)),
	}
	for _, n := range nodes {
		sg.Nodes = append(sg.Nodes, n)
	}
	for _, e := range edges {
		sg.Edges = append(sg.Edges, e)
	}
	sort.Slice(sg.Nodes, func(i, j int) bool { return sg.Nodes[i].ID < sg.Nodes[j].ID })
	sort.Slice(sg.Edges, func(i, j int) bool { return sg.Edges[i].ID < sg.Edges[j].ID })
	return sg
}
