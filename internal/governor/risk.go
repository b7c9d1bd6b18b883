package governor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/models"
)

// Action base weights. Delete is weighted far above the rest: it is the
// only action the platform cannot undo.
var actionWeights = map[models.RequestAction]int{
	models.ActionCreate:      10,
	models.ActionUpdate:      20,
	models.ActionScale:       15,
	models.ActionReconfigure: 25,
	models.ActionDelete:      55,
}

const (
	blastWeightPerNode = 2
	blastWeightCap     = 30
	productionWeight   = 10
	agentNoCorrWeight  = 15
	criticalFieldBonus = 20
	maxScore           = 100
)

// ScoreRisk computes the additive risk score of a request:
// action weight, capped blast radius, production surcharge, uncorrelated
// agent surcharge and critical-property surcharge.
func (g *Governor) ScoreRisk(ctx context.Context, req *models.ChangeRequest) (*models.Risk, error) {
	score := actionWeights[req.Action]
	factors := []string{fmt.Sprintf("action %s (+%d)", req.Action, score)}

	if req.TargetResourceID != "" {
		blast, err := g.engine.GetBlastRadius(ctx, req.TargetResourceID, 0)
		switch {
		case errors.Is(err, models.ErrNotFound):
			// target not in the graph yet (create, or stale id): no blast
		case err != nil:
			return nil, err
		case blast.TotalCount > 0:
			w := blast.TotalCount * blastWeightPerNode
			if w > blastWeightCap {
				w = blastWeightCap
			}
			score += w
			factors = append(factors, fmt.Sprintf("blast radius %d nodes (+%d)", blast.TotalCount, w))
		}

		node, err := g.store.GetNode(ctx, req.TargetResourceID)
		if err != nil {
			return nil, err
		}
		if node != nil && node.IsProduction() {
			score += productionWeight
			factors = append(factors, fmt.Sprintf("production resource (+%d)", productionWeight))
		}
	}

	if req.InitiatorType == models.InitiatorAgent && req.CorrelationID == "" {
		score += agentNoCorrWeight
		factors = append(factors, fmt.Sprintf("agent-initiated without correlation (+%d)", agentNoCorrWeight))
	}

	if field := firstCriticalProperty(req.Properties); field != "" {
		score += criticalFieldBonus
		factors = append(factors, fmt.Sprintf("touches critical property %s (+%d)", field, criticalFieldBonus))
	}

	if score > maxScore {
		score = maxScore
	}
	return &models.Risk{
		Score:   score,
		Level:   models.LevelForScore(score),
		Factors: factors,
	}, nil
}

// firstCriticalProperty returns the first request property whose path drifts
// critically, or "" when none do. Nested maps are walked depth-first with
// sorted keys via CompareProperties path semantics.
func firstCriticalProperty(props map[string]interface{}) string {
	return walkCritical("", props)
}

func walkCritical(prefix string, props map[string]interface{}) string {
	for k, v := range props {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if engine.SeverityForPath(path) == engine.SeverityCritical {
			return path
		}
		if nested, ok := v.(map[string]interface{}); ok {
			if hit := walkCritical(path, nested); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Verdict is a policy's decision about a request.
type Verdict string

const (
	VerdictAllow           Verdict = "allow"
	VerdictDeny            Verdict = "deny"
	VerdictRequireApproval Verdict = "require-approval"
)

// Policy inspects a submitted request and renders a verdict. Policies only
// apply when AppliesWhen returns true.
type Policy struct {
	Name        string
	Description string
	AppliesWhen func(*models.ChangeRequest) bool
	Verdict     func(*models.ChangeRequest) Verdict
}

// evaluatePolicies runs every applicable policy. Deny wins over
// require-approval wins over allow; the message names the deciding policy.
func (g *Governor) evaluatePolicies(req *models.ChangeRequest) (Verdict, string) {
	verdict := VerdictAllow
	message := ""
	for _, p := range g.policies {
		if p.AppliesWhen != nil && !p.AppliesWhen(req) {
			continue
		}
		switch p.Verdict(req) {
		case VerdictDeny:
			return VerdictDeny, p.Name
		case VerdictRequireApproval:
			if verdict != VerdictDeny {
				verdict = VerdictRequireApproval
				message = p.Name
			}
		}
	}
	return verdict, message
}

// DefaultPolicies holds high and critical risk for human review and refuses
// deletes of resources that carry a do-not-delete tag hint in the request.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Name:        "high-risk-requires-approval",
			Description: "requests scoring high or critical wait for a human",
			Verdict: func(req *models.ChangeRequest) Verdict {
				if req.Risk.Level == models.RiskHigh || req.Risk.Level == models.RiskCritical {
					return VerdictRequireApproval
				}
				return VerdictAllow
			},
		},
		{
			Name:        "deny-protected-delete",
			Description: "deletes of deletion-protected resources are refused",
			AppliesWhen: func(req *models.ChangeRequest) bool {
				return req.Action == models.ActionDelete
			},
			Verdict: func(req *models.ChangeRequest) Verdict {
				for k, v := range req.Properties {
					if strings.EqualFold(k, "deletionProtection") {
						if b, ok := v.(bool); ok && b {
							return VerdictDeny
						}
					}
				}
				return VerdictAllow
			},
		},
	}
}
