package models

import (
	"strings"
	"time"
)

// NodeFilter selects nodes. Zero-valued fields match everything.
type NodeFilter struct {
	Provider      Provider          `json:"provider,omitempty"`
	Account       string            `json:"account,omitempty"`
	Region        string            `json:"region,omitempty"`
	ResourceTypes []ResourceType    `json:"resourceTypes,omitempty"`
	Statuses      []NodeStatus      `json:"statuses,omitempty"`
	TagMatch      map[string]string `json:"tagMatch,omitempty"`
	NamePrefix    string            `json:"namePrefix,omitempty"`
	OwnerContains string            `json:"ownerContains,omitempty"`
}

// Matches reports whether the node satisfies every set filter field.
// TagMatch is subset match: all requested tags must be present with the
// requested values.
func (f *NodeFilter) Matches(n *Node) bool {
	if f == nil {
		return true
	}
	if f.Provider != "" && n.Provider != f.Provider {
		return false
	}
	if f.Account != "" && n.Account != f.Account {
		return false
	}
	if f.Region != "" && n.Region != f.Region {
		return false
	}
	if len(f.ResourceTypes) > 0 && !containsResourceType(f.ResourceTypes, n.ResourceType) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, n.Status) {
		return false
	}
	for k, v := range f.TagMatch {
		got, ok := n.Tag(k)
		if !ok || got != v {
			return false
		}
	}
	if f.NamePrefix != "" && !strings.HasPrefix(n.Name, f.NamePrefix) {
		return false
	}
	if f.OwnerContains != "" && !strings.Contains(n.Owner, f.OwnerContains) {
		return false
	}
	return true
}

func containsResourceType(set []ResourceType, rt ResourceType) bool {
	for _, t := range set {
		if t == rt {
			return true
		}
	}
	return false
}

func containsStatus(set []NodeStatus, s NodeStatus) bool {
	for _, st := range set {
		if st == s {
			return true
		}
	}
	return false
}

// EdgeFilter selects edges.
type EdgeFilter struct {
	SourceNodeID     string           `json:"sourceNodeId,omitempty"`
	TargetNodeID     string           `json:"targetNodeId,omitempty"`
	RelationshipType RelationshipType `json:"relationshipType,omitempty"`
}

// Matches reports whether the edge satisfies every set filter field.
func (f *EdgeFilter) Matches(e *Edge) bool {
	if f == nil {
		return true
	}
	if f.SourceNodeID != "" && e.SourceNodeID != f.SourceNodeID {
		return false
	}
	if f.TargetNodeID != "" && e.TargetNodeID != f.TargetNodeID {
		return false
	}
	if f.RelationshipType != "" && e.RelationshipType != f.RelationshipType {
		return false
	}
	return true
}

// ChangeFilter selects changes from the append-only log.
type ChangeFilter struct {
	TargetID      string        `json:"targetId,omitempty"`
	ChangeTypes   []ChangeType  `json:"changeTypes,omitempty"`
	DetectedVia   DetectedVia   `json:"detectedVia,omitempty"`
	Initiator     string        `json:"initiator,omitempty"`
	InitiatorType InitiatorType `json:"initiatorType,omitempty"`
	Since         time.Time     `json:"since,omitempty"`
	Until         time.Time     `json:"until,omitempty"`
}

// Matches reports whether the change satisfies every set filter field.
func (f *ChangeFilter) Matches(c *Change) bool {
	if f == nil {
		return true
	}
	if f.TargetID != "" && c.TargetID != f.TargetID {
		return false
	}
	if len(f.ChangeTypes) > 0 {
		found := false
		for _, ct := range f.ChangeTypes {
			if c.ChangeType == ct {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DetectedVia != "" && c.DetectedVia != f.DetectedVia {
		return false
	}
	if f.Initiator != "" && c.Initiator != f.Initiator {
		return false
	}
	if f.InitiatorType != "" && c.InitiatorType != f.InitiatorType {
		return false
	}
	if !f.Since.IsZero() && c.DetectedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && c.DetectedAt.After(f.Until) {
		return false
	}
	return true
}
