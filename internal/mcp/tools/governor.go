package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moorhen/cartograph/internal/governor"
	"github.com/moorhen/cartograph/internal/models"
)

// PendingRequestsTool lists change requests waiting for approval.
type PendingRequestsTool struct {
	governor *governor.Governor
}

// NewPendingRequestsTool wraps the governor.
func NewPendingRequestsTool(g *governor.Governor) *PendingRequestsTool {
	return &PendingRequestsTool{governor: g}
}

// Execute implements Tool.
func (t *PendingRequestsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	pending, err := t.governor.GetPendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d requests pending approval", len(pending)), pending), nil
}

// ApproveRequestTool approves one pending change request and optionally
// executes it immediately.
type ApproveRequestTool struct {
	governor *governor.Governor
}

// NewApproveRequestTool wraps the governor.
func NewApproveRequestTool(g *governor.Governor) *ApproveRequestTool {
	return &ApproveRequestTool{governor: g}
}

type approveRequestInput struct {
	RequestID string `json:"requestId"`
	Approver  string `json:"approver"`
	Execute   bool   `json:"execute,omitempty"`
}

// Execute implements Tool.
func (t *ApproveRequestTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params approveRequestInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if params.RequestID == "" || params.Approver == "" {
		return nil, fmt.Errorf("requestId and approver are required")
	}

	req, err := t.governor.Approve(ctx, params.RequestID, params.Approver)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidArgument) {
			return Fail(err.Error(), nil), nil
		}
		return nil, err
	}
	if params.Execute {
		req, err = t.governor.Execute(ctx, params.RequestID)
		if err != nil {
			return nil, err
		}
	}
	return OK(fmt.Sprintf("request %s is %s", req.ID, req.Status), req), nil
}

// RejectRequestTool rejects one pending change request.
type RejectRequestTool struct {
	governor *governor.Governor
}

// NewRejectRequestTool wraps the governor.
func NewRejectRequestTool(g *governor.Governor) *RejectRequestTool {
	return &RejectRequestTool{governor: g}
}

type rejectRequestInput struct {
	RequestID string `json:"requestId"`
	Rejecter  string `json:"rejecter"`
	Reason    string `json:"reason"`
}

// Execute implements Tool.
func (t *RejectRequestTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params rejectRequestInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if params.RequestID == "" || params.Rejecter == "" {
		return nil, fmt.Errorf("requestId and rejecter are required")
	}

	req, err := t.governor.Reject(ctx, params.RequestID, params.Rejecter, params.Reason)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidArgument) {
			return Fail(err.Error(), nil), nil
		}
		return nil, err
	}
	return OK(fmt.Sprintf("request %s rejected", req.ID), req), nil
}

// AuditTrailTool lists the governed mutation history.
type AuditTrailTool struct {
	governor *governor.Governor
}

// NewAuditTrailTool wraps the governor.
func NewAuditTrailTool(g *governor.Governor) *AuditTrailTool {
	return &AuditTrailTool{governor: g}
}

type auditTrailInput struct {
	TargetResourceID string `json:"targetResourceId,omitempty"`
	Action           string `json:"action,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

// Execute implements Tool.
func (t *AuditTrailTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params auditTrailInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	trail, err := t.governor.GetAuditTrail(ctx, governor.AuditFilter{
		TargetResourceID: params.TargetResourceID,
		Action:           models.RequestAction(params.Action),
		Limit:            params.Limit,
	})
	if err != nil {
		return nil, err
	}
	return OK(fmt.Sprintf("%d requests", len(trail)), trail), nil
}
