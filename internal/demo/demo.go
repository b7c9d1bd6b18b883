// Package demo seeds scripted multi-cloud adapters so the platform can be
// explored without real cloud credentials.
package demo

import (
	"time"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/adapter/fake"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/models"
)

// Fixtures exposes the scripted adapters so callers (and tests) can mutate
// the demo world: remove nodes, script drift, emit events.
type Fixtures struct {
	AWS    *fake.Adapter
	GCP    *fake.Adapter
	Events *fake.EventSource
}

// Install registers a three-tier demo topology on the engine: an AWS web
// stack with an orphan instance, a GCP analytics pipeline reading from the
// AWS database, and a CloudTrail-style event source.
func Install(eng *engine.Engine) *Fixtures {
	aws := fake.New("aws-demo", models.ProviderAWS)
	gcp := fake.New("gcp-demo", models.ProviderGCP, "aws-demo")

	prod := map[string]string{"environment": "production", "team": "web"}

	awsNodes := []adapter.NodeInput{
		{
			Provider: models.ProviderAWS, Region: "us-east-1",
			ResourceType: models.ResourceLoadBalancer, NativeID: "alb-web",
			Name: "web-alb", Status: models.StatusRunning,
			Tags: prod, CostMonthly: 25,
		},
		{
			Provider: models.ProviderAWS, Region: "us-east-1",
			ResourceType: models.ResourceAPI, NativeID: "api-orders",
			Name: "orders-api", Status: models.StatusRunning,
			Tags: prod, CostMonthly: 120, Owner: "team-web",
		},
		{
			Provider: models.ProviderAWS, Region: "us-east-1",
			ResourceType: models.ResourceDatabase, NativeID: "rds-orders",
			Name: "orders-db", Status: models.StatusRunning,
			Tags: prod, CostMonthly: 420, Owner: "team-web",
			Metadata: map[string]interface{}{
				"engine":             "postgres",
				"multiAZ":            true,
				"encryption":         map[string]interface{}{"atRest": true},
				"publiclyAccessible": false,
			},
		},
		{
			Provider: models.ProviderAWS, Region: "us-east-1",
			ResourceType: models.ResourceCache, NativeID: "redis-sessions",
			Name: "session-cache", Status: models.StatusRunning,
			Tags: prod, CostMonthly: 80,
		},
		{
			// Orphan: no edges, still billing.
			Provider: models.ProviderAWS, Region: "us-west-2",
			ResourceType: models.ResourceCompute, NativeID: "i-forgotten",
			Name: "old-batch-runner", Status: models.StatusRunning,
			Tags: map[string]string{"environment": "staging"}, CostMonthly: 150,
		},
	}

	ref := func(rt models.ResourceType, nativeID string) adapter.NodeRef {
		return adapter.NodeRef{
			Provider: models.ProviderAWS, Region: "us-east-1",
			ResourceType: rt, NativeID: nativeID,
		}
	}
	awsEdges := []adapter.EdgeInput{
		{
			Source:           ref(models.ResourceLoadBalancer, "alb-web"),
			Target:           ref(models.ResourceAPI, "api-orders"),
			RelationshipType: models.RelConnectedTo,
		},
		{
			Source:           ref(models.ResourceAPI, "api-orders"),
			Target:           ref(models.ResourceDatabase, "rds-orders"),
			RelationshipType: models.RelDependsOn,
		},
		{
			Source:           ref(models.ResourceAPI, "api-orders"),
			Target:           ref(models.ResourceCache, "redis-sessions"),
			RelationshipType: models.RelDependsOn,
		},
	}
	aws.SetDiscovery(awsNodes, awsEdges)
	aws.SetCost("rds-orders", 420)
	aws.SetCost("i-forgotten", 150)

	gcpNodes := []adapter.NodeInput{
		{
			Provider: models.ProviderGCP, Region: "us-central1",
			ResourceType: models.ResourceCompute, NativeID: "analytics-worker",
			Name: "analytics-worker", Status: models.StatusRunning,
			Tags:        map[string]string{"environment": "production", "team": "data"},
			CostMonthly: 210,
		},
		{
			Provider: models.ProviderGCP, Region: "us-central1",
			ResourceType: models.ResourceStorage, NativeID: "bkt-reports",
			Name: "reports-bucket", Status: models.StatusRunning,
			Tags:        map[string]string{"environment": "production", "team": "data"},
			CostMonthly: 15,
		},
	}
	gcpEdges := []adapter.EdgeInput{
		{
			Source: adapter.NodeRef{
				Provider: models.ProviderGCP, Region: "us-central1",
				ResourceType: models.ResourceCompute, NativeID: "analytics-worker",
			},
			Target:           ref(models.ResourceDatabase, "rds-orders"),
			RelationshipType: models.RelReadsFrom,
		},
		{
			Source: adapter.NodeRef{
				Provider: models.ProviderGCP, Region: "us-central1",
				ResourceType: models.ResourceCompute, NativeID: "analytics-worker",
			},
			Target: adapter.NodeRef{
				Provider: models.ProviderGCP, Region: "us-central1",
				ResourceType: models.ResourceStorage, NativeID: "bkt-reports",
			},
			RelationshipType: models.RelWritesTo,
		},
	}
	gcp.SetDiscovery(gcpNodes, gcpEdges)

	events := fake.NewEventSource("cloudtrail", models.ProviderAWS)
	events.Emit(adapter.CloudEvent{
		ID:         "evt-demo-1",
		Provider:   models.ProviderAWS,
		EventType:  "RunInstances",
		ResourceID: "i-forgotten",
		Actor:      "alice@example.com",
		Timestamp:  time.Now().Add(-time.Hour),
		Success:    true,
	})

	eng.RegisterAdapter(aws)
	eng.RegisterAdapter(gcp)

	return &Fixtures{AWS: aws, GCP: gcp, Events: events}
}
