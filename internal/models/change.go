package models

import "time"

// ChangeType categorizes an append-only change event.
type ChangeType string

const (
	ChangeNodeCreated     ChangeType = "node-created"
	ChangeNodeUpdated     ChangeType = "node-updated"
	ChangeNodeDeleted     ChangeType = "node-deleted"
	ChangeNodeDrifted     ChangeType = "node-drifted"
	ChangeNodeDisappeared ChangeType = "node-disappeared"
	ChangeCostChanged     ChangeType = "cost-changed"
	ChangeEdgeCreated     ChangeType = "edge-created"
	ChangeEdgeDeleted     ChangeType = "edge-deleted"
)

// DetectedVia records which path observed a change.
type DetectedVia string

const (
	DetectedViaSync        DetectedVia = "sync"
	DetectedViaFullScan    DetectedVia = "full-scan"
	DetectedViaEventStream DetectedVia = "event-stream"
	DetectedViaManual      DetectedVia = "manual"
)

// InitiatorType classifies who caused a change.
type InitiatorType string

const (
	InitiatorHuman   InitiatorType = "human"
	InitiatorAgent   InitiatorType = "agent"
	InitiatorSystem  InitiatorType = "system"
	InitiatorUnknown InitiatorType = "unknown"
)

// Change is an append-only event in the audit/time-travel log. Changes are
// never mutated or removed.
type Change struct {
	ID            string                 `json:"id"`
	TargetID      string                 `json:"targetId"`
	ChangeType    ChangeType             `json:"changeType"`
	Field         string                 `json:"field,omitempty"`
	PreviousValue string                 `json:"previousValue,omitempty"`
	NewValue      string                 `json:"newValue,omitempty"`
	DetectedAt    time.Time              `json:"detectedAt"`
	DetectedVia   DetectedVia            `json:"detectedVia"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Initiator     string                 `json:"initiator,omitempty"`
	InitiatorType InitiatorType          `json:"initiatorType"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Group is a logical grouping of nodes (VPC, service, fleet, environment).
// Members reference node ids; deleting a node removes the membership, not
// the group.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GroupType string    `json:"groupType"`
	Provider  Provider  `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SnapshotTrigger records what caused a snapshot to be taken.
type SnapshotTrigger string

const (
	SnapshotTriggerManual    SnapshotTrigger = "manual"
	SnapshotTriggerScheduled SnapshotTrigger = "scheduled"
	SnapshotTriggerPreChange SnapshotTrigger = "pre-change"
)

// Snapshot is a point-in-time materialization of the graph. Combined with
// the append-only change log it enables time travel.
type Snapshot struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Label     string          `json:"label,omitempty"`
	Trigger   SnapshotTrigger `json:"trigger"`
	NodeCount int             `json:"nodeCount"`
	EdgeCount int             `json:"edgeCount"`
}

// SyncStatus is the terminal state of one discovery pass.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncPartial   SyncStatus = "partial"
	SyncFailed    SyncStatus = "failed"
)

// SyncRecord describes one discovery pass against a provider.
type SyncRecord struct {
	ID               string     `json:"id"`
	Provider         Provider   `json:"provider"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      time.Time  `json:"completedAt"`
	Status           SyncStatus `json:"status"`
	NodesDiscovered  int        `json:"nodesDiscovered"`
	NodesDrifted     int        `json:"nodesDrifted"`
	NodesDisappeared int        `json:"nodesDisappeared"`
	Error            string     `json:"error,omitempty"`
}

// GraphStats summarizes the current graph contents.
type GraphStats struct {
	TotalNodes          int                  `json:"totalNodes"`
	TotalEdges          int                  `json:"totalEdges"`
	TotalChanges        int                  `json:"totalChanges"`
	NodesByProvider     map[Provider]int     `json:"nodesByProvider"`
	NodesByResourceType map[ResourceType]int `json:"nodesByResourceType"`
	NodesByStatus       map[NodeStatus]int   `json:"nodesByStatus"`
	TotalCostMonthly    float64              `json:"totalCostMonthly"`
	LastSyncAt          time.Time            `json:"lastSyncAt"`
}
