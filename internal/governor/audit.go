package governor

import (
	"context"
	"strings"

	"github.com/moorhen/cartograph/internal/models"
)

// AuditFilter narrows an audit trail listing. Zero value lists everything.
type AuditFilter struct {
	TargetResourceID string
	Action           models.RequestAction
	Limit            int
}

// GetAuditTrail lists change requests newest-first, filtered. Terminal
// requests are never removed, so this is the full mutation history.
func (g *Governor) GetAuditTrail(ctx context.Context, filter AuditFilter) ([]models.ChangeRequest, error) {
	all, err := g.store.ListChangeRequests(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChangeRequest, 0, len(all))
	for _, req := range all {
		if filter.TargetResourceID != "" && req.TargetResourceID != filter.TargetResourceID {
			continue
		}
		if filter.Action != "" && req.Action != filter.Action {
			continue
		}
		out = append(out, req)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// GetPendingRequests lists requests waiting for approval, newest-first.
func (g *Governor) GetPendingRequests(ctx context.Context) ([]models.ChangeRequest, error) {
	return g.store.ListChangeRequests(ctx, models.RequestPending, 0)
}

// Summary aggregates governor activity.
type Summary struct {
	TotalRequests        int                          `json:"totalRequests"`
	ByStatus             map[models.RequestStatus]int `json:"byStatus"`
	ByRiskLevel          map[models.RiskLevel]int     `json:"byRiskLevel"`
	AvgRiskScore         float64                      `json:"avgRiskScore"`
	PolicyViolationCount int                          `json:"policyViolationCount"`
}

// GetSummary aggregates every change request ever submitted.
func (g *Governor) GetSummary(ctx context.Context) (*Summary, error) {
	all, err := g.store.ListChangeRequests(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		ByStatus:    map[models.RequestStatus]int{},
		ByRiskLevel: map[models.RiskLevel]int{},
	}
	total := 0
	for _, req := range all {
		s.TotalRequests++
		s.ByStatus[req.Status]++
		s.ByRiskLevel[req.Risk.Level]++
		total += req.Risk.Score
		if strings.HasPrefix(req.FailureReason, "policy violation:") {
			s.PolicyViolationCount++
		}
	}
	if s.TotalRequests > 0 {
		s.AvgRiskScore = float64(total) / float64(s.TotalRequests)
	}
	return s, nil
}
