package models

import "time"

// RequestAction is the mutation a change request wants to perform.
type RequestAction string

const (
	ActionCreate      RequestAction = "create"
	ActionUpdate      RequestAction = "update"
	ActionDelete      RequestAction = "delete"
	ActionScale       RequestAction = "scale"
	ActionReconfigure RequestAction = "reconfigure"
)

// RequestStatus is the governor state of a change request. Requests move
// through these states once and terminate; they are preserved as audit.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestExecuted RequestStatus = "executed"
	RequestFailed   RequestStatus = "failed"
)

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Risk is the scored risk of a change request.
type Risk struct {
	Score   int       `json:"score"` // 0-100
	Level   RiskLevel `json:"level"`
	Factors []string  `json:"factors"`
}

// ChangeRequest is the governor's work item: every mutation bound for a
// cloud adapter flows through one of these.
type ChangeRequest struct {
	ID               string                 `json:"id"`
	TargetResourceID string                 `json:"targetResourceId"`
	ResourceType     ResourceType           `json:"resourceType"`
	Provider         Provider               `json:"provider"`
	Action           RequestAction          `json:"action"`
	Properties       map[string]interface{} `json:"properties,omitempty"`
	Initiator        string                 `json:"initiator"`
	InitiatorType    InitiatorType          `json:"initiatorType"`
	CorrelationID    string                 `json:"correlationId,omitempty"`
	Description      string                 `json:"description"`
	Risk             Risk                   `json:"risk"`
	Status           RequestStatus          `json:"status"`
	CreatedAt        time.Time              `json:"createdAt"`
	ApprovedBy       string                 `json:"approvedBy,omitempty"`
	ExecutedAt       time.Time              `json:"executedAt,omitempty"`
	FailureReason    string                 `json:"failureReason,omitempty"`
}

// LevelForScore maps a risk score to its level bucket.
func LevelForScore(score int) RiskLevel {
	switch {
	case score < 25:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}
