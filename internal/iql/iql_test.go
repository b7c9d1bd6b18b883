package iql

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store/memory"
)

func TestParseFindResources(t *testing.T) {
	q, err := Parse(`FIND resources WHERE provider = "aws" AND costMonthly > 100 LIMIT 10`)
	require.NoError(t, err)
	find, ok := q.(*FindQuery)
	require.True(t, ok)
	assert.Equal(t, FindResources, find.Kind)
	assert.Equal(t, 10, find.Limit)
	require.NotNil(t, find.Where)

	and, ok := find.Where.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "AND", and.Op)
}

func TestParseTraversalWithDepth(t *testing.T) {
	q, err := Parse(`find downstream of "aws::us-east-1:database:orders" depth 2`)
	require.NoError(t, err)
	find := q.(*FindQuery)
	assert.Equal(t, FindDownstream, find.Kind)
	assert.Equal(t, "aws::us-east-1:database:orders", find.NodeID)
	assert.Equal(t, 2, find.Depth)
}

func TestParsePath(t *testing.T) {
	q, err := Parse(`FIND PATH FROM "a" TO "b"`)
	require.NoError(t, err)
	find := q.(*FindQuery)
	assert.Equal(t, FindPath, find.Kind)
	assert.Equal(t, "a", find.FromID)
	assert.Equal(t, "b", find.ToID)
}

func TestParseSummarize(t *testing.T) {
	q, err := Parse(`SUMMARIZE resources BY tag.env WHERE provider = "gcp"`)
	require.NoError(t, err)
	sum := q.(*SummarizeQuery)
	assert.Equal(t, "tag.env", sum.By)
	require.NotNil(t, sum.Where)
}

func TestParsePrecedenceAndParens(t *testing.T) {
	// a OR b AND c parses as a OR (b AND c).
	q, err := Parse(`FIND resources WHERE status = "error" OR status = "stopped" AND provider = "aws"`)
	require.NoError(t, err)
	or, ok := q.(*FindQuery).Where.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "OR", or.Op)
	and, ok := or.Right.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "AND", and.Op)

	q, err = Parse(`FIND resources WHERE (status = "error" OR status = "stopped") AND provider = "aws"`)
	require.NoError(t, err)
	and, ok = q.(*FindQuery).Where.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "AND", and.Op)
}

func TestSyntaxErrorCarriesPosition(t *testing.T) {
	_, err := Parse(`FIND resources WHERE provider == "aws"`)
	require.Error(t, err)
	var synErr *SyntaxError
	require.True(t, errors.As(err, &synErr))
	assert.Greater(t, synErr.Pos, 0)
	assert.NotEmpty(t, synErr.Msg)

	_, err = Parse(`DESTROY everything`)
	require.True(t, errors.As(err, &synErr))
	assert.Equal(t, 0, synErr.Pos)

	_, err = Parse(`FIND resources WHERE name = "unterminated`)
	require.True(t, errors.As(err, &synErr))
	assert.Contains(t, synErr.Msg, "unterminated")
}

func TestDepthRejectedOutsideTraversal(t *testing.T) {
	_, err := Parse(`FIND resources DEPTH 3`)
	var synErr *SyntaxError
	require.True(t, errors.As(err, &synErr))
	assert.Contains(t, synErr.Msg, "DEPTH")
}

func seedGraph(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	ctx := t.Context()

	// 10 databases: 6 prod, 4 dev.
	var dbs []models.Node
	for i := 0; i < 10; i++ {
		env := "prod"
		if i >= 6 {
			env = "dev"
		}
		dbs = append(dbs, models.Node{
			Provider:     models.ProviderAWS,
			Region:       "us-east-1",
			ResourceType: models.ResourceDatabase,
			NativeID:     fmt.Sprintf("db-%d", i),
			Name:         fmt.Sprintf("db-%d", i),
			Status:       models.StatusRunning,
			Tags:         map[string]string{"env": env},
			CostMonthly:  100,
		}.WithID())
	}
	require.NoError(t, st.UpsertNodes(ctx, dbs))

	api := models.Node{
		Provider: models.ProviderAWS, Region: "us-east-1",
		ResourceType: models.ResourceAPI, NativeID: "api-1", Name: "api-1",
		Status: models.StatusRunning, CostMonthly: 50,
	}.WithID()
	require.NoError(t, st.UpsertNodes(ctx, []models.Node{api}))
	require.NoError(t, st.UpsertEdges(ctx, []models.Edge{models.Edge{
		SourceNodeID: api.ID, TargetNodeID: dbs[0].ID,
		RelationshipType: models.RelDependsOn,
	}.WithID()}))
	return st
}

// Seeded-graph query: 10 databases (6 prod, 4 dev), LIMIT 5 returns 5 rows,
// all prod databases.
func TestExecuteFindWithTagFilterAndLimit(t *testing.T) {
	st := seedGraph(t)
	exec := NewExecutor(st)

	res, err := exec.Execute(t.Context(), `FIND resources WHERE type = 'database' AND tag.env = 'prod' LIMIT 5`)
	require.NoError(t, err)
	assert.Equal(t, ResultFind, res.Type)
	require.Len(t, res.Nodes, 5)
	for _, n := range res.Nodes {
		assert.Equal(t, models.ResourceDatabase, n.ResourceType)
		assert.Equal(t, "prod", n.Tags["env"])
	}
}

func TestExecuteTraversal(t *testing.T) {
	st := seedGraph(t)
	exec := NewExecutor(st)
	apiID := models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceAPI, "api-1")

	res, err := exec.Execute(t.Context(), fmt.Sprintf(`FIND DOWNSTREAM OF %q DEPTH 1`, apiID))
	require.NoError(t, err)
	require.Len(t, res.Nodes, 2) // root + the db it depends on
	require.Len(t, res.Edges, 1)
}

func TestExecutePath(t *testing.T) {
	st := seedGraph(t)
	exec := NewExecutor(st)
	apiID := models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceAPI, "api-1")
	dbID := models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceDatabase, "db-0")

	res, err := exec.Execute(t.Context(), fmt.Sprintf(`FIND PATH FROM %q TO %q`, apiID, dbID))
	require.NoError(t, err)
	assert.Equal(t, ResultPath, res.Type)
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, apiID, res.Nodes[0].ID)
	assert.Equal(t, dbID, res.Nodes[1].ID)

	unreachable := models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceDatabase, "db-9")
	res, err = exec.Execute(t.Context(), fmt.Sprintf(`FIND PATH FROM %q TO %q`, apiID, unreachable))
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)
}

func TestExecuteSummarize(t *testing.T) {
	st := seedGraph(t)
	exec := NewExecutor(st)

	res, err := exec.Execute(t.Context(), `SUMMARIZE resources BY tag.env`)
	require.NoError(t, err)
	assert.Equal(t, ResultSummarize, res.Type)
	require.Len(t, res.Groups, 3) // prod, dev, (none) for the api node

	byKey := map[string]SummaryGroup{}
	for _, g := range res.Groups {
		byKey[g.Key] = g
	}
	assert.Equal(t, 6, byKey["prod"].Count)
	assert.InDelta(t, 600, byKey["prod"].TotalCost, 0.01)
	assert.Equal(t, 4, byKey["dev"].Count)
}

func TestExecuteFunctions(t *testing.T) {
	st := seedGraph(t)
	exec := NewExecutor(st)

	res, err := exec.Execute(t.Context(), `FIND resources WHERE tagged("env", "dev")`)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 4)

	res, err = exec.Execute(t.Context(), `FIND resources WHERE has_edge("depends-on")`)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 2)

	res, err = exec.Execute(t.Context(), `FIND resources WHERE NOT tagged("env")`)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 1)
}

func TestExecuteLikeAndIn(t *testing.T) {
	st := seedGraph(t)
	exec := NewExecutor(st)

	res, err := exec.Execute(t.Context(), `FIND resources WHERE name LIKE "db-%"`)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 10)

	res, err = exec.Execute(t.Context(), `FIND resources WHERE name IN ["db-1", "db-2", "api-1"]`)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 3)
}

func TestCachedExecutorInvalidation(t *testing.T) {
	st := seedGraph(t)
	exec, err := NewCachedExecutor(st, 16, time.Minute)
	require.NoError(t, err)
	ctx := t.Context()

	const q = `FIND resources WHERE type = "database"`
	first, err := exec.Execute(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Count)

	extra := models.Node{
		Provider: models.ProviderAWS, Region: "us-east-1",
		ResourceType: models.ResourceDatabase, NativeID: "db-new",
		Name: "db-new", Status: models.StatusRunning,
	}.WithID()
	require.NoError(t, st.UpsertNodes(ctx, []models.Node{extra}))

	// Stale until invalidated.
	cached, err := exec.Execute(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 10, cached.Count)

	exec.InvalidateCache()
	fresh, err := exec.Execute(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 11, fresh.Count)
}
