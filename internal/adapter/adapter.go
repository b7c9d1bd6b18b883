// Package adapter defines the uniform interface every cloud provider plugs
// into the graph engine through, plus the event-source shape the monitor
// polls. The core treats adapters as black boxes: read methods must be
// idempotent and retry-safe, and adapters own their rate limiting, credential
// refresh and pagination.
package adapter

import (
	"context"
	"time"

	"github.com/moorhen/cartograph/internal/models"
)

// NodeRef addresses a node by its identity components. Adapters emit refs
// instead of derived ids so they never need to know the id format.
type NodeRef struct {
	Provider     models.Provider     `json:"provider"`
	Region       string              `json:"region"`
	ResourceType models.ResourceType `json:"resourceType"`
	NativeID     string              `json:"nativeId"`
}

// NodeID derives the graph node id for the ref.
func (r NodeRef) NodeID() string {
	return models.NodeID(r.Provider, r.Region, r.ResourceType, r.NativeID)
}

// NodeInput is one discovered resource, before the engine assigns identity
// and sync bookkeeping.
type NodeInput struct {
	Provider     models.Provider        `json:"provider"`
	Account      string                 `json:"account"`
	Region       string                 `json:"region"`
	ResourceType models.ResourceType    `json:"resourceType"`
	NativeID     string                 `json:"nativeId"`
	Name         string                 `json:"name"`
	Status       models.NodeStatus      `json:"status"`
	Tags         map[string]string      `json:"tags,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CostMonthly  float64                `json:"costMonthly"`
	Owner        string                 `json:"owner,omitempty"`
}

// Node converts the input to a graph node with its derived id.
func (in NodeInput) Node() models.Node {
	return models.Node{
		Provider:     in.Provider,
		Account:      in.Account,
		Region:       in.Region,
		ResourceType: in.ResourceType,
		NativeID:     in.NativeID,
		Name:         in.Name,
		Status:       in.Status,
		Tags:         in.Tags,
		Metadata:     in.Metadata,
		CostMonthly:  in.CostMonthly,
		Owner:        in.Owner,
	}.WithID()
}

// EdgeInput is one discovered relationship between two refs. Refs may point
// at nodes another adapter discovers; the engine orders upserts so endpoints
// exist first.
type EdgeInput struct {
	Source           NodeRef                 `json:"source"`
	Target           NodeRef                 `json:"target"`
	RelationshipType models.RelationshipType `json:"relationshipType"`
	Confidence       float64                 `json:"confidence"`
	DiscoveredVia    models.DiscoveryMethod  `json:"discoveredVia"`
	Metadata         map[string]interface{}  `json:"metadata,omitempty"`
}

// Edge converts the input to a graph edge with its derived id.
func (in EdgeInput) Edge() models.Edge {
	return models.Edge{
		SourceNodeID:     in.Source.NodeID(),
		TargetNodeID:     in.Target.NodeID(),
		RelationshipType: in.RelationshipType,
		Confidence:       in.Confidence,
		DiscoveredVia:    in.DiscoveredVia,
		Metadata:         in.Metadata,
	}.WithID()
}

// DiscoverOptions narrows a discovery pass. Empty slices mean everything.
type DiscoverOptions struct {
	Regions       []string              `json:"regions,omitempty"`
	ResourceTypes []models.ResourceType `json:"resourceTypes,omitempty"`
}

// Discovery is one adapter's full discovery output.
type Discovery struct {
	Nodes []NodeInput `json:"nodes"`
	Edges []EdgeInput `json:"edges"`
}

// Health is the adapter health probe result.
type Health struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// CloudAdapter is the uniform provider interface the core consumes.
type CloudAdapter interface {
	// Name identifies the adapter instance for logs and sync records.
	Name() string

	// Provider is the cloud platform the adapter discovers.
	Provider() models.Provider

	// DependsOn names adapters whose nodes this adapter's edges reference.
	// The engine topologically orders discovery so referenced nodes are
	// upserted first.
	DependsOn() []string

	// Discover enumerates resources and relationships.
	Discover(ctx context.Context, opts DiscoverOptions) (*Discovery, error)

	// Describe returns the live properties of one resource, or (nil, nil)
	// when the resource does not exist. Only 404-like absence maps to nil;
	// every other failure propagates.
	Describe(ctx context.Context, nativeID string, resourceType models.ResourceType) (map[string]interface{}, error)

	// Mutate performs one change against the provider.
	Mutate(ctx context.Context, action models.RequestAction, nativeID string, resourceType models.ResourceType, properties map[string]interface{}) error

	// HealthCheck probes adapter reachability and credentials.
	HealthCheck(ctx context.Context) Health
}

// CostAdapter is implemented by adapters that can report observed spend.
type CostAdapter interface {
	// ActualMonthlyCost returns the observed monthly cost of one resource.
	ActualMonthlyCost(ctx context.Context, nativeID string, resourceType models.ResourceType) (float64, error)
}

// CloudEvent is one entry from a provider's audit/event stream.
type CloudEvent struct {
	ID           string                 `json:"id"`
	Provider     models.Provider        `json:"provider"`
	EventType    string                 `json:"eventType"`
	ResourceID   string                 `json:"resourceId"`
	ResourceType models.ResourceType    `json:"resourceType"`
	Actor        string                 `json:"actor"`
	Timestamp    time.Time              `json:"timestamp"`
	ReadOnly     bool                   `json:"readOnly"`
	Success      bool                   `json:"success"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

// EventSource is a provider audit-log poller. Sources page internally via
// their own cursor; FetchEvents returns everything since sinceTs.
type EventSource interface {
	// Type names the event stream kind (cloudtrail, activity-log, ...).
	Type() string

	// Provider is the cloud platform the source covers.
	Provider() models.Provider

	// FetchEvents returns events with timestamp > sinceTs, oldest first.
	FetchEvents(ctx context.Context, sinceTs time.Time) ([]CloudEvent, error)

	// HealthCheck probes source reachability.
	HealthCheck(ctx context.Context) Health
}
