package models

import (
	"fmt"
	"strings"
)

// RelationshipType is the closed set of edge relationships.
type RelationshipType string

const (
	RelDependsOn     RelationshipType = "depends-on"
	RelConnectedTo   RelationshipType = "connected-to"
	RelRunsIn        RelationshipType = "runs-in"
	RelMemberOfFleet RelationshipType = "member-of-fleet"
	RelDeployedAt    RelationshipType = "deployed-at"
	RelReadsFrom     RelationshipType = "reads-from"
	RelWritesTo      RelationshipType = "writes-to"
	RelUses          RelationshipType = "uses"
)

// DiscoveryMethod records how an edge was discovered.
type DiscoveryMethod string

const (
	DiscoveredViaAPIField    DiscoveryMethod = "api-field"
	DiscoveredViaConfigScan  DiscoveryMethod = "config-scan"
	DiscoveredViaInference   DiscoveryMethod = "inference"
	DiscoveredViaEventStream DiscoveryMethod = "event-stream"
)

// Edge is a typed relationship between two nodes. Edges are relations, not
// ownership: deleting a node cascades its incident edges but never the peer
// node.
type Edge struct {
	ID               string                 `json:"id"`
	SourceNodeID     string                 `json:"sourceNodeId"`
	TargetNodeID     string                 `json:"targetNodeId"`
	RelationshipType RelationshipType       `json:"relationshipType"`
	Confidence       float64                `json:"confidence"`
	DiscoveredVia    DiscoveryMethod        `json:"discoveredVia"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// EdgeID derives the deterministic edge identifier
// source--relationshipType--target.
func EdgeID(sourceID string, rel RelationshipType, targetID string) string {
	return fmt.Sprintf("%s--%s--%s", sourceID, rel, targetID)
}

// ParseEdgeID splits a derived edge id back into source, relationship and
// target. Node ids never contain "--" so the split is unambiguous.
func ParseEdgeID(id string) (sourceID string, rel RelationshipType, targetID string, ok bool) {
	parts := strings.SplitN(id, "--", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], RelationshipType(parts[1]), parts[2], true
}

// WithID returns a copy of the edge with its derived ID populated.
func (e Edge) WithID() Edge {
	e.ID = EdgeID(e.SourceNodeID, e.RelationshipType, e.TargetNodeID)
	return e
}

// Direction selects which incident edges of a node to consider.
type Direction string

const (
	DirectionUpstream   Direction = "upstream"
	DirectionDownstream Direction = "downstream"
	DirectionBoth       Direction = "both"
)
