package iql

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

// DefaultTraversalDepth is the BFS depth for DOWNSTREAM/UPSTREAM queries
// without a DEPTH clause.
const DefaultTraversalDepth = 3

// ResultType discriminates executor results.
type ResultType string

const (
	ResultFind      ResultType = "find"
	ResultSummarize ResultType = "summarize"
	ResultPath      ResultType = "path"
)

// SummaryGroup is one SUMMARIZE bucket.
type SummaryGroup struct {
	Key       string  `json:"key"`
	Count     int     `json:"count"`
	TotalCost float64 `json:"totalCost"`
}

// Result is the outcome of one query. Nodes/Edges are set for find and path
// results (path nodes in from→to order), Groups for summarize results.
type Result struct {
	Type   ResultType     `json:"type"`
	Query  string         `json:"query"`
	Nodes  []models.Node  `json:"nodes,omitempty"`
	Edges  []models.Edge  `json:"edges,omitempty"`
	Groups []SummaryGroup `json:"groups,omitempty"`
	Count  int            `json:"count"`
}

// Executor parses and runs IQL queries against a graph store.
type Executor struct {
	store  store.Store
	cache  *Cache
	logger *logging.Logger
}

// NewExecutor returns an executor without caching.
func NewExecutor(st store.Store) *Executor {
	return &Executor{store: st, logger: logging.GetLogger("iql")}
}

// NewCachedExecutor returns an executor that memoizes results by query text.
func NewCachedExecutor(st store.Store, cacheSize int, ttl time.Duration) (*Executor, error) {
	cache, err := NewCache(cacheSize, ttl)
	if err != nil {
		return nil, err
	}
	e := NewExecutor(st)
	e.cache = cache
	return e, nil
}

// InvalidateCache drops every cached result. The engine calls this after a
// sync cycle mutates the graph.
func (e *Executor) InvalidateCache() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// Execute parses and runs one query.
func (e *Executor) Execute(ctx context.Context, queryText string) (*Result, error) {
	if e.cache != nil {
		if result, ok := e.cache.Get(queryText); ok {
			e.logger.Debug("cache hit for query %q", queryText)
			return result, nil
		}
	}

	query, err := Parse(queryText)
	if err != nil {
		return nil, err
	}

	var result *Result
	switch q := query.(type) {
	case *FindQuery:
		result, err = e.executeFind(ctx, q)
	case *SummarizeQuery:
		result, err = e.executeSummarize(ctx, q)
	default:
		err = fmt.Errorf("unsupported query type %T", query)
	}
	if err != nil {
		return nil, err
	}
	result.Query = queryText

	if e.cache != nil {
		e.cache.Put(queryText, result)
	}
	return result, nil
}

func (e *Executor) executeFind(ctx context.Context, q *FindQuery) (*Result, error) {
	var candidates []models.Node
	var edges []models.Edge
	resultType := ResultFind

	switch q.Kind {
	case FindResources:
		nodes, err := e.store.QueryNodes(ctx, nil)
		if err != nil {
			return nil, err
		}
		candidates = nodes

	case FindDownstream, FindUpstream:
		depth := q.Depth
		if depth == 0 {
			depth = DefaultTraversalDepth
		}
		direction := models.DirectionDownstream
		if q.Kind == FindUpstream {
			direction = models.DirectionUpstream
		}
		sub, err := e.store.GetNeighbors(ctx, q.NodeID, depth, direction)
		if err != nil {
			return nil, err
		}
		candidates = sub.Nodes
		edges = sub.Edges

	case FindPath:
		sub, err := store.ShortestPath(ctx, e.store, q.FromID, q.ToID)
		if err != nil {
			return nil, err
		}
		// Path results are ordered; WHERE/LIMIT do not apply.
		return &Result{Type: ResultPath, Nodes: sub.Nodes, Edges: sub.Edges, Count: len(sub.Nodes)}, nil
	}

	matched := make([]models.Node, 0, len(candidates))
	for _, n := range candidates {
		n := n
		ok, err := e.eval(ctx, q.Where, &n)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, n)
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return &Result{Type: resultType, Nodes: matched, Edges: edges, Count: len(matched)}, nil
}

func (e *Executor) executeSummarize(ctx context.Context, q *SummarizeQuery) (*Result, error) {
	nodes, err := e.store.QueryNodes(ctx, nil)
	if err != nil {
		return nil, err
	}

	buckets := map[string]*SummaryGroup{}
	for _, n := range nodes {
		n := n
		ok, err := e.eval(ctx, q.Where, &n)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		value, found := fieldValue(&n, q.By)
		key := "(none)"
		if found {
			key = fmt.Sprintf("%v", value)
		}
		g, exists := buckets[key]
		if !exists {
			g = &SummaryGroup{Key: key}
			buckets[key] = g
		}
		g.Count++
		g.TotalCost += n.CostMonthly
	}

	groups := lo.MapToSlice(buckets, func(_ string, g *SummaryGroup) SummaryGroup { return *g })
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count == groups[j].Count {
			return groups[i].Key < groups[j].Key
		}
		return groups[i].Count > groups[j].Count
	})
	return &Result{Type: ResultSummarize, Groups: groups, Count: len(groups)}, nil
}

// eval evaluates a predicate against one node. A nil expression matches.
func (e *Executor) eval(ctx context.Context, expr Expr, n *models.Node) (bool, error) {
	switch ex := expr.(type) {
	case nil:
		return true, nil
	case *BinaryExpr:
		left, err := e.eval(ctx, ex.Left, n)
		if err != nil {
			return false, err
		}
		if ex.Op == "AND" && !left {
			return false, nil
		}
		if ex.Op == "OR" && left {
			return true, nil
		}
		return e.eval(ctx, ex.Right, n)
	case *NotExpr:
		inner, err := e.eval(ctx, ex.Inner, n)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case *CompareExpr:
		return evalCompare(ex, n)
	case *CallExpr:
		return e.evalCall(ctx, ex, n)
	}
	return false, fmt.Errorf("unsupported expression %T", expr)
}

func evalCompare(ex *CompareExpr, n *models.Node) (bool, error) {
	actual, found := fieldValue(n, ex.Field)
	if !found {
		// Absent fields only match != and NOT IN style comparisons.
		switch ex.Op {
		case "!=":
			return true, nil
		default:
			return false, nil
		}
	}

	switch ex.Op {
	case "=":
		return literalEquals(actual, ex.Value), nil
	case "!=":
		return !literalEquals(actual, ex.Value), nil
	case ">", "<", ">=", "<=":
		lhs, lok := toNumber(actual)
		rhs, rok := valueNumber(ex.Value)
		if !lok || !rok {
			return false, &SyntaxError{Msg: "numeric comparison on non-numeric operand", Pos: ex.Pos, Token: ex.Field}
		}
		switch ex.Op {
		case ">":
			return lhs > rhs, nil
		case "<":
			return lhs < rhs, nil
		case ">=":
			return lhs >= rhs, nil
		default:
			return lhs <= rhs, nil
		}
	case "LIKE":
		return likeMatch(fmt.Sprintf("%v", actual), ex.Value.Str), nil
	case "MATCHES":
		re, err := regexp.Compile(ex.Value.Str)
		if err != nil {
			return false, &SyntaxError{Msg: "invalid regular expression", Pos: ex.Pos, Token: ex.Value.Str}
		}
		return re.MatchString(fmt.Sprintf("%v", actual)), nil
	case "IN":
		for _, v := range ex.Value.List {
			if literalEquals(actual, v) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, &SyntaxError{Msg: "unsupported operator", Pos: ex.Pos, Token: ex.Op}
}

func (e *Executor) evalCall(ctx context.Context, call *CallExpr, n *models.Node) (bool, error) {
	argErr := func(msg string) error {
		return &SyntaxError{Msg: call.Fn + ": " + msg, Pos: call.Pos, Token: call.Fn}
	}

	switch call.Fn {
	case "tagged":
		if len(call.Args) < 1 || len(call.Args) > 2 || call.Args[0].Kind != ValueString {
			return false, argErr("expects (key) or (key, value)")
		}
		got, ok := n.Tag(call.Args[0].Str)
		if !ok {
			return false, nil
		}
		if len(call.Args) == 2 {
			return got == call.Args[1].Str, nil
		}
		return true, nil

	case "created_after", "created_before":
		if len(call.Args) != 1 || call.Args[0].Kind != ValueString {
			return false, argErr("expects one RFC3339 timestamp")
		}
		ts, err := time.Parse(time.RFC3339, call.Args[0].Str)
		if err != nil {
			return false, argErr("invalid timestamp " + strconv.Quote(call.Args[0].Str))
		}
		if call.Fn == "created_after" {
			return n.CreatedAt.After(ts), nil
		}
		return !n.CreatedAt.IsZero() && n.CreatedAt.Before(ts), nil

	case "has_edge":
		if len(call.Args) > 1 {
			return false, argErr("expects () or (relationshipType)")
		}
		edges, err := e.store.GetEdgesForNode(ctx, n.ID, models.DirectionBoth)
		if err != nil {
			return false, err
		}
		if len(call.Args) == 0 {
			return len(edges) > 0, nil
		}
		want := models.RelationshipType(call.Args[0].Str)
		for _, edge := range edges {
			if edge.RelationshipType == want {
				return true, nil
			}
		}
		return false, nil

	case "drifted_since":
		if len(call.Args) != 1 || call.Args[0].Kind != ValueString {
			return false, argErr("expects one RFC3339 timestamp")
		}
		ts, err := time.Parse(time.RFC3339, call.Args[0].Str)
		if err != nil {
			return false, argErr("invalid timestamp " + strconv.Quote(call.Args[0].Str))
		}
		changes, err := e.store.GetChanges(ctx, &models.ChangeFilter{
			TargetID:    n.ID,
			ChangeTypes: []models.ChangeType{models.ChangeNodeDrifted},
			Since:       ts,
		})
		if err != nil {
			return false, err
		}
		return len(changes) > 0, nil
	}
	return false, argErr("unknown function")
}

// fieldValue resolves a dotted field path on a node.
func fieldValue(n *models.Node, field string) (interface{}, bool) {
	head, rest, _ := strings.Cut(field, ".")
	switch strings.ToLower(head) {
	case "id":
		return n.ID, true
	case "provider":
		return string(n.Provider), true
	case "account":
		return n.Account, true
	case "region":
		return n.Region, true
	case "resourcetype", "type":
		return string(n.ResourceType), true
	case "nativeid":
		return n.NativeID, true
	case "name":
		return n.Name, true
	case "status":
		return string(n.Status), true
	case "owner":
		return n.Owner, true
	case "costmonthly":
		return n.CostMonthly, true
	case "tag", "tags":
		if rest == "" {
			return nil, false
		}
		v, ok := n.Tag(rest)
		return v, ok
	case "metadata":
		if rest == "" || n.Metadata == nil {
			return nil, false
		}
		v, ok := n.Metadata[rest]
		return v, ok
	}
	return nil, false
}

func literalEquals(actual interface{}, v Value) bool {
	switch v.Kind {
	case ValueString:
		return fmt.Sprintf("%v", actual) == v.Str
	case ValueNumber:
		n, ok := toNumber(actual)
		return ok && n == v.Num
	case ValueBool:
		b, ok := actual.(bool)
		return ok && b == v.Bool
	}
	return false
}

func valueNumber(v Value) (float64, bool) {
	switch v.Kind {
	case ValueNumber:
		return v.Num, true
	case ValueString:
		n, err := strconv.ParseFloat(v.Str, 64)
		return n, err == nil
	}
	return 0, false
}

func toNumber(actual interface{}) (float64, bool) {
	switch v := actual.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	}
	return 0, false
}

// likeMatch implements SQL-ish LIKE with % wildcards.
func likeMatch(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, last)
}
