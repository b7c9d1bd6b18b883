// Package models defines the core domain types shared by the graph store,
// engine, governor, reconciler and monitor: nodes, edges, changes, groups,
// snapshots, sync records and change requests.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies the cloud platform a resource belongs to.
type Provider string

const (
	ProviderAWS        Provider = "aws"
	ProviderAzure      Provider = "azure"
	ProviderGCP        Provider = "gcp"
	ProviderKubernetes Provider = "kubernetes"
	ProviderCustom     Provider = "custom"
)

// ResourceType is the closed set of resource kinds the graph understands.
// Per-kind behavior lives in lookup tables keyed by ResourceType, never in
// per-kind subtypes.
type ResourceType string

const (
	ResourceCompute          ResourceType = "compute"
	ResourceDatabase         ResourceType = "database"
	ResourceStorage          ResourceType = "storage"
	ResourceCache            ResourceType = "cache"
	ResourceNetwork          ResourceType = "network"
	ResourceQueue            ResourceType = "queue"
	ResourceStream           ResourceType = "stream"
	ResourceServerless       ResourceType = "serverless"
	ResourceContainer        ResourceType = "container"
	ResourceEdgeSite         ResourceType = "edge-site"
	ResourceConnectedCluster ResourceType = "connected-cluster"
	ResourceFleet            ResourceType = "fleet"
	ResourceLoadBalancer     ResourceType = "load-balancer"
	ResourceAPI              ResourceType = "api"
)

// NodeStatus is the lifecycle status of a discovered resource.
type NodeStatus string

const (
	StatusRunning NodeStatus = "running"
	StatusStopped NodeStatus = "stopped"
	StatusError   NodeStatus = "error"
	StatusUnknown NodeStatus = "unknown"
)

// Node is a discovered cloud resource. Its ID is immutable and uniquely
// derived from (provider, region, resourceType, nativeID).
type Node struct {
	ID           string                 `json:"id"`
	Provider     Provider               `json:"provider"`
	Account      string                 `json:"account"`
	Region       string                 `json:"region"`
	ResourceType ResourceType           `json:"resourceType"`
	NativeID     string                 `json:"nativeId"`
	Name         string                 `json:"name"`
	Status       NodeStatus             `json:"status"`
	Tags         map[string]string      `json:"tags"`
	Metadata     map[string]interface{} `json:"metadata"`
	CostMonthly  float64                `json:"costMonthly"`
	Owner        string                 `json:"owner"`
	CreatedAt    time.Time              `json:"createdAt"`
	LastSyncedAt time.Time              `json:"lastSyncedAt"`
}

// NodeID derives the deterministic node identifier
// provider::region:resourceType:nativeId.
func NodeID(provider Provider, region string, resourceType ResourceType, nativeID string) string {
	return fmt.Sprintf("%s::%s:%s:%s", provider, region, resourceType, nativeID)
}

// ParseNodeID splits a derived node id back into its components. The
// reported ok is false when the id does not follow the derived format.
func ParseNodeID(id string) (provider Provider, region string, resourceType ResourceType, nativeID string, ok bool) {
	head, rest, found := strings.Cut(id, "::")
	if !found {
		return "", "", "", "", false
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return "", "", "", "", false
	}
	return Provider(head), parts[0], ResourceType(parts[1]), parts[2], true
}

// WithID returns a copy of the node with its derived ID populated.
func (n Node) WithID() Node {
	n.ID = NodeID(n.Provider, n.Region, n.ResourceType, n.NativeID)
	return n
}

// Tag returns the value of a tag and whether it is set.
func (n *Node) Tag(key string) (string, bool) {
	if n.Tags == nil {
		return "", false
	}
	v, ok := n.Tags[key]
	return v, ok
}

// IsProduction reports whether the node is tagged as a production resource.
// Both the "env" and "environment" tag keys are honored.
func (n *Node) IsProduction() bool {
	for _, key := range []string{"env", "environment"} {
		if v, ok := n.Tag(key); ok && (v == "prod" || v == "production") {
			return true
		}
	}
	return false
}
