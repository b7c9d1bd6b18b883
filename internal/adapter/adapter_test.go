package adapter_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/adapter/fake"
	"github.com/moorhen/cartograph/internal/models"
)

func TestNodeInputDerivesID(t *testing.T) {
	in := adapter.NodeInput{
		Provider:     models.ProviderAWS,
		Region:       "eu-west-1",
		ResourceType: models.ResourceDatabase,
		NativeID:     "orders-db",
		Name:         "orders-db",
		Status:       models.StatusRunning,
	}
	n := in.Node()
	assert.Equal(t, models.NodeID(models.ProviderAWS, "eu-west-1", models.ResourceDatabase, "orders-db"), n.ID)
}

func TestEdgeInputDerivesEndpoints(t *testing.T) {
	in := adapter.EdgeInput{
		Source: adapter.NodeRef{
			Provider: models.ProviderAWS, Region: "eu-west-1",
			ResourceType: models.ResourceCompute, NativeID: "i-1",
		},
		Target: adapter.NodeRef{
			Provider: models.ProviderAWS, Region: "eu-west-1",
			ResourceType: models.ResourceDatabase, NativeID: "orders-db",
		},
		RelationshipType: models.RelDependsOn,
	}
	e := in.Edge()
	assert.Equal(t, in.Source.NodeID(), e.SourceNodeID)
	assert.Equal(t, in.Target.NodeID(), e.TargetNodeID)
	assert.Equal(t, models.EdgeID(e.SourceNodeID, models.RelDependsOn, e.TargetNodeID), e.ID)
}

func TestDescribeWithRetryRecoversFromTransientFailure(t *testing.T) {
	a := fake.New("aws", models.ProviderAWS)
	a.SetDescribed("i-1", map[string]interface{}{"instanceType": "m5.large"})
	a.FailDescribe(models.Transient(errors.New("throttled")))

	props, err := adapter.DescribeWithRetry(t.Context(), a, "i-1", models.ResourceCompute)
	require.NoError(t, err)
	assert.Equal(t, "m5.large", props["instanceType"])
	assert.Equal(t, 2, a.DescribeCalls())
}

func TestDescribeWithRetryStopsOnPermanentFailure(t *testing.T) {
	a := fake.New("aws", models.ProviderAWS)
	permanent := errors.New("access denied")
	a.FailDescribe(permanent)

	_, err := adapter.DescribeWithRetry(t.Context(), a, "i-1", models.ResourceCompute)
	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, a.DescribeCalls())
}

func TestDescribeAbsenceIsNotRetried(t *testing.T) {
	a := fake.New("aws", models.ProviderAWS)

	props, err := adapter.DescribeWithRetry(t.Context(), a, "gone", models.ResourceCompute)
	require.NoError(t, err)
	assert.Nil(t, props)
	assert.Equal(t, 1, a.DescribeCalls())
}

func TestMutateWithRetryExhaustsTransientFailures(t *testing.T) {
	a := fake.New("aws", models.ProviderAWS)
	a.FailMutate(
		models.Transient(errors.New("rate exceeded")),
		models.Transient(errors.New("rate exceeded")),
		models.Transient(errors.New("rate exceeded")),
	)

	err := adapter.MutateWithRetry(t.Context(), a, models.ActionUpdate, "i-1", models.ResourceCompute, nil)
	require.Error(t, err)
	assert.Empty(t, a.Mutations())
}

func TestDescribeWithRetryGivesUpAfterThreeAttempts(t *testing.T) {
	a := fake.New("aws", models.ProviderAWS)
	a.FailDescribe(
		models.Transient(errors.New("throttled")),
		models.Transient(errors.New("throttled")),
		models.Transient(errors.New("throttled")),
		models.Transient(errors.New("throttled")),
	)

	start := time.Now()
	_, err := adapter.DescribeWithRetry(t.Context(), a, "i-1", models.ResourceCompute)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 3, a.DescribeCalls())
	// 1s then 2s between the three attempts.
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
}

func TestFakeDiscoverHonorsOptions(t *testing.T) {
	a := fake.New("aws", models.ProviderAWS)
	a.SetDiscovery([]adapter.NodeInput{
		{Provider: models.ProviderAWS, Region: "us-east-1", ResourceType: models.ResourceCompute, NativeID: "i-1"},
		{Provider: models.ProviderAWS, Region: "eu-west-1", ResourceType: models.ResourceCompute, NativeID: "i-2"},
		{Provider: models.ProviderAWS, Region: "us-east-1", ResourceType: models.ResourceDatabase, NativeID: "db-1"},
	}, nil)

	disc, err := a.Discover(t.Context(), adapter.DiscoverOptions{
		Regions:       []string{"us-east-1"},
		ResourceTypes: []models.ResourceType{models.ResourceCompute},
	})
	require.NoError(t, err)
	require.Len(t, disc.Nodes, 1)
	assert.Equal(t, "i-1", disc.Nodes[0].NativeID)
}
