package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
	"github.com/moorhen/cartograph/internal/store/conformance"
)

func TestConformance(t *testing.T) {
	conformance.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), "graph.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestReopenPersists(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "graph.db")

	s, err := Open(path)
	require.NoError(t, err)

	web := models.Node{
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		ResourceType: models.ResourceCompute,
		NativeID:     "i-0a1b2c",
		Name:         "web-1",
		Status:       models.StatusRunning,
	}.WithID()
	db := models.Node{
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		ResourceType: models.ResourceDatabase,
		NativeID:     "orders-db",
		Name:         "orders-db",
		Status:       models.StatusRunning,
	}.WithID()
	require.NoError(t, s.UpsertNodes(ctx, []models.Node{web, db}))
	require.NoError(t, s.UpsertEdges(ctx, []models.Edge{models.Edge{
		SourceNodeID:     web.ID,
		TargetNodeID:     db.ID,
		RelationshipType: models.RelDependsOn,
	}.WithID()}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetNode(ctx, web.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "web-1", got.Name)

	edges, err := reopened.GetEdgesForNode(ctx, web.ID, models.DirectionDownstream)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, db.ID, edges[0].TargetNodeID)

	changes, err := reopened.GetChanges(ctx, &models.ChangeFilter{})
	require.NoError(t, err)
	require.Len(t, changes, 3)
}
