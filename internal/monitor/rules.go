// Package monitor runs the scheduled sync loop, evaluates alert rules over
// graph state, dispatches alerts, and ingests provider audit events.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

// Category classifies what an alert rule watches for.
type Category string

const (
	CategoryOrphan             Category = "orphan"
	CategorySPOF               Category = "spof"
	CategoryCostAnomaly        Category = "cost-anomaly"
	CategoryUnauthorizedChange Category = "unauthorized-change"
	CategoryDrift              Category = "drift"
	CategoryDisappeared        Category = "disappeared"
	CategoryCustom             Category = "custom"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one finding produced by a rule evaluation.
type Alert struct {
	ID              string                 `json:"id"`
	RuleID          string                 `json:"ruleId"`
	Category        Category               `json:"category"`
	Severity        Severity               `json:"severity"`
	Message         string                 `json:"message"`
	AffectedNodeIDs []string               `json:"affectedNodeIds,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// RuleContext is what a rule evaluation sees: the engine, raw store access,
// the cycle's sync records, and the stats captured before and after the sync.
type RuleContext struct {
	Engine        *engine.Engine
	Store         store.Store
	SyncRecords   []models.SyncRecord
	PreviousStats *models.GraphStats
	CurrentStats  *models.GraphStats
	Since         time.Time
}

// Rule is one alert rule. Evaluate errors are swallowed by the monitor and
// never affect sibling rules.
type Rule struct {
	ID       string
	Name     string
	Category Category
	Severity Severity
	Enabled  bool
	Evaluate func(ctx context.Context, rc RuleContext) ([]Alert, error)
}

const (
	// orphanCostCriticalUSD escalates an orphan alert when the stranded
	// monthly spend exceeds it.
	orphanCostCriticalUSD = 1000.0

	// spofMinDegree and spofReachRatio gate the single-point-of-failure rule.
	spofMinDegree  = 5
	spofReachRatio = 0.3

	// costIncreaseWarnPct / costIncreaseCriticalPct gate the graph-wide cost
	// anomaly rule.
	costIncreaseWarnPct     = 20.0
	costIncreaseCriticalPct = 50.0
)

// DefaultRules returns the built-in rule set, all enabled.
func DefaultRules() []Rule {
	return []Rule{
		OrphanRule(),
		SPOFRule(),
		CostAnomalyRule(),
		UnauthorizedChangeRule(),
		DisappearedRule(),
	}
}

// OrphanRule flags nodes with no incident edges. One alert covers every
// orphan found; severity escalates with the stranded monthly cost.
func OrphanRule() Rule {
	return Rule{
		ID:       "builtin-orphan",
		Name:     "orphaned resources",
		Category: CategoryOrphan,
		Severity: SeverityWarning,
		Enabled:  true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			nodes, err := rc.Store.QueryNodes(ctx, nil)
			if err != nil {
				return nil, err
			}
			edges, err := rc.Store.QueryEdges(ctx, nil)
			if err != nil {
				return nil, err
			}
			degree := map[string]int{}
			for _, e := range edges {
				degree[e.SourceNodeID]++
				degree[e.TargetNodeID]++
			}
			var orphanIDs []string
			var cost float64
			for _, n := range nodes {
				if degree[n.ID] == 0 {
					orphanIDs = append(orphanIDs, n.ID)
					cost += n.CostMonthly
				}
			}
			if len(orphanIDs) == 0 {
				return nil, nil
			}
			severity := SeverityWarning
			if cost > orphanCostCriticalUSD {
				severity = SeverityCritical
			}
			return []Alert{{
				Category:        CategoryOrphan,
				Severity:        severity,
				Message:         fmt.Sprintf("%d resources have no relationships ($%.2f/month)", len(orphanIDs), cost),
				AffectedNodeIDs: orphanIDs,
				Metadata:        map[string]interface{}{"totalCostMonthly": cost},
			}}, nil
		},
	}
}

// SPOFRule flags hub nodes: degree of at least 5 whose failure would reach
// more than 30% of the graph. Reach is the transitive set of dependents.
func SPOFRule() Rule {
	return Rule{
		ID:       "builtin-spof",
		Name:     "single points of failure",
		Category: CategorySPOF,
		Severity: SeverityCritical,
		Enabled:  true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			nodes, err := rc.Store.QueryNodes(ctx, nil)
			if err != nil {
				return nil, err
			}
			if len(nodes) < 2 {
				return nil, nil
			}
			var alerts []Alert
			for _, n := range nodes {
				edges, err := rc.Store.GetEdgesForNode(ctx, n.ID, models.DirectionBoth)
				if err != nil {
					return nil, err
				}
				if len(edges) < spofMinDegree {
					continue
				}
				sub, err := rc.Store.GetNeighbors(ctx, n.ID, len(nodes), models.DirectionUpstream)
				if err != nil {
					return nil, err
				}
				reach := len(sub.Nodes) - 1 // exclude the hub itself
				ratio := float64(reach) / float64(len(nodes)-1)
				if ratio <= spofReachRatio {
					continue
				}
				alerts = append(alerts, Alert{
					Category:        CategorySPOF,
					Severity:        SeverityCritical,
					Message:         fmt.Sprintf("%s is a single point of failure: %d direct edges, %.0f%% of the graph depends on it", n.Name, len(edges), ratio*100),
					AffectedNodeIDs: []string{n.ID},
					Metadata: map[string]interface{}{
						"degree":            len(edges),
						"reachabilityRatio": ratio,
					},
				})
			}
			return alerts, nil
		},
	}
}

// CostAnomalyRule compares total monthly cost against the previous cycle.
func CostAnomalyRule() Rule {
	return Rule{
		ID:       "builtin-cost-anomaly",
		Name:     "cost anomaly",
		Category: CategoryCostAnomaly,
		Severity: SeverityWarning,
		Enabled:  true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			if rc.PreviousStats == nil || rc.CurrentStats == nil {
				return nil, nil
			}
			prev := rc.PreviousStats.TotalCostMonthly
			cur := rc.CurrentStats.TotalCostMonthly
			if prev <= 0 {
				return nil, nil
			}
			increasePct := (cur - prev) / prev * 100
			if increasePct <= costIncreaseWarnPct {
				return nil, nil
			}
			severity := SeverityWarning
			if increasePct >= costIncreaseCriticalPct {
				severity = SeverityCritical
			}
			return []Alert{{
				Category: CategoryCostAnomaly,
				Severity: severity,
				Message:  fmt.Sprintf("total monthly cost rose %.1f%% ($%.2f -> $%.2f)", increasePct, prev, cur),
				Metadata: map[string]interface{}{
					"increasePercent": increasePct,
					"costImpact":      cur - prev,
				},
			}}, nil
		},
	}
}

// UnauthorizedChangeRule flags agent-initiated changes without a correlation
// id and manual mutations without a named initiator.
func UnauthorizedChangeRule() Rule {
	return Rule{
		ID:       "builtin-unauthorized-change",
		Name:     "unauthorized changes",
		Category: CategoryUnauthorizedChange,
		Severity: SeverityCritical,
		Enabled:  true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			changes, err := rc.Store.GetChanges(ctx, &models.ChangeFilter{Since: rc.Since})
			if err != nil {
				return nil, err
			}
			var alerts []Alert
			for _, c := range changes {
				var reason string
				switch {
				case c.InitiatorType == models.InitiatorAgent && c.CorrelationID == "":
					reason = "agent-initiated change without a correlation id"
				case c.DetectedVia == models.DetectedViaManual && c.Initiator == "":
					reason = "mutation without a named initiator"
				default:
					continue
				}
				alerts = append(alerts, Alert{
					Category:        CategoryUnauthorizedChange,
					Severity:        SeverityCritical,
					Message:         fmt.Sprintf("%s on %s (%s)", reason, c.TargetID, c.ChangeType),
					AffectedNodeIDs: []string{c.TargetID},
					Metadata:        map[string]interface{}{"changeId": c.ID},
				})
			}
			return alerts, nil
		},
	}
}

// DisappearedRule fires when the cycle's sync records report disappeared
// nodes.
func DisappearedRule() Rule {
	return Rule{
		ID:       "builtin-disappeared",
		Name:     "disappeared resources",
		Category: CategoryDisappeared,
		Severity: SeverityCritical,
		Enabled:  true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			var alerts []Alert
			for _, rec := range rc.SyncRecords {
				if rec.NodesDisappeared == 0 {
					continue
				}
				alerts = append(alerts, Alert{
					Category: CategoryDisappeared,
					Severity: SeverityCritical,
					Message:  fmt.Sprintf("%d resources disappeared from provider %s", rec.NodesDisappeared, rec.Provider),
					Metadata: map[string]interface{}{
						"syncRecordId":     rec.ID,
						"nodesDisappeared": rec.NodesDisappeared,
					},
				})
			}
			return alerts, nil
		},
	}
}
