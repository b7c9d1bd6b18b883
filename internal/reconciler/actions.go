package reconciler

import (
	"context"
	"fmt"

	"github.com/moorhen/cartograph/internal/governor"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
)

// ActionType is the remediation an action performs.
type ActionType string

const (
	ActionUpdate   ActionType = "update"
	ActionDelete   ActionType = "delete"
	ActionRecreate ActionType = "recreate"
	ActionScale    ActionType = "scale"
	ActionAlert    ActionType = "alert"
)

// Priority ranks remediation urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Action is one synthesized remediation.
type Action struct {
	Type             ActionType             `json:"type"`
	Priority         Priority               `json:"priority"`
	PlanResourceID   string                 `json:"planResourceId"`
	NativeID         string                 `json:"nativeId,omitempty"`
	Reason           string                 `json:"reason"`
	Properties       map[string]interface{} `json:"properties,omitempty"`
	AutoExecutable   bool                   `json:"autoExecutable"`
	ApprovalRequired bool                   `json:"approvalRequired"`
}

// synthesizeActions turns the cycle's findings into remediations:
// deleted drift recreates manually, critical configuration drift updates
// automatically, critical violations wait for approval, and cost anomalies
// beyond twice the threshold get a scale advisory.
func (r *Reconciler) synthesizeActions(plan *Plan, exec *Execution, result *Result) []Action {
	actions := []Action{}

	nativeByPlanID := map[string]string{}
	for _, prov := range exec.Resources {
		nativeByPlanID[prov.PlanResourceID] = prov.NativeID
	}

	for _, d := range result.Drifts {
		switch d.Type {
		case DriftDeleted:
			actions = append(actions, Action{
				Type:             ActionRecreate,
				Priority:         PriorityHigh,
				PlanResourceID:   d.PlanResourceID,
				NativeID:         d.NativeID,
				Reason:           "resource no longer exists in the provider",
				AutoExecutable:   false,
				ApprovalRequired: true,
			})
		case DriftConfiguration:
			critical := d.HasCriticalEntry()
			priority := PriorityMedium
			if critical {
				priority = PriorityCritical
			}
			props := map[string]interface{}{}
			for _, e := range d.Entries {
				props[e.Path] = e.Expected
			}
			actions = append(actions, Action{
				Type:             ActionUpdate,
				Priority:         priority,
				PlanResourceID:   d.PlanResourceID,
				NativeID:         d.NativeID,
				Reason:           fmt.Sprintf("%d properties drifted from plan", len(d.Entries)),
				Properties:       props,
				AutoExecutable:   critical,
				ApprovalRequired: false,
			})
		}
	}

	for _, v := range result.Violations {
		if v.Severity == SeverityCritical {
			actions = append(actions, Action{
				Type:             ActionUpdate,
				Priority:         PriorityCritical,
				PlanResourceID:   v.PlanResourceID,
				NativeID:         nativeByPlanID[v.PlanResourceID],
				Reason:           fmt.Sprintf("critical policy violation: %s", v.Rule),
				AutoExecutable:   false,
				ApprovalRequired: true,
			})
			continue
		}
		actions = append(actions, Action{
			Type:           ActionAlert,
			Priority:       PriorityMedium,
			PlanResourceID: v.PlanResourceID,
			Reason:         fmt.Sprintf("policy violation: %s: %s", v.Rule, v.Message),
		})
	}

	for _, a := range result.Anomalies {
		if abs(a.DeltaPercent) > 2*r.opts.CostThresholdPct {
			actions = append(actions, Action{
				Type:           ActionScale,
				Priority:       PriorityMedium,
				PlanResourceID: a.PlanResourceID,
				NativeID:       nativeByPlanID[a.PlanResourceID],
				Reason: fmt.Sprintf("monthly cost %.1f%% off plan ($%.2f vs $%.2f)",
					a.DeltaPercent, a.ActualMonthly, a.PlannedMonthly),
				AutoExecutable:   false,
				ApprovalRequired: false,
			})
			continue
		}
		actions = append(actions, Action{
			Type:           ActionAlert,
			Priority:       PriorityLow,
			PlanResourceID: a.PlanResourceID,
			Reason: fmt.Sprintf("cost %s: %.1f%% vs planned estimate",
				a.Type, a.DeltaPercent),
		})
	}

	return actions
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// applyRemediations executes every auto-executable, approval-free action.
// Returns true when at least one remediation went through the governor.
func (r *Reconciler) applyRemediations(ctx context.Context, plan *Plan, result *Result) bool {
	applied := false
	for _, action := range result.RecommendedActions {
		if !action.AutoExecutable || action.ApprovalRequired {
			continue
		}
		if err := r.ExecuteAction(ctx, plan, action); err != nil {
			result.ResourceErrors = append(result.ResourceErrors,
				fmt.Sprintf("%s: remediation failed: %v", action.PlanResourceID, err))
			r.logger.WarnWithFields("auto-remediation failed",
				logging.Field("plan_resource", action.PlanResourceID),
				logging.Field("action", string(action.Type)),
				logging.Field("error", err.Error()),
			)
			r.opts.Metrics.ObserveRemediation("failure")
			continue
		}
		r.opts.Metrics.ObserveRemediation("success")
		applied = true
	}
	return applied
}

// ExecuteAction performs one remediation through the governor. Update maps
// to modify-in-place for supported types; delete and recreate run an ordered
// shutdown with a final snapshot guard on stateful kinds; scale is advisory;
// alert publishes; unsupported pairs degrade to alert.
func (r *Reconciler) ExecuteAction(ctx context.Context, plan *Plan, action Action) error {
	planned := plan.Resource(action.PlanResourceID)
	if planned == nil {
		return fmt.Errorf("resource %s not in plan: %w", action.PlanResourceID, models.ErrNotFound)
	}

	switch action.Type {
	case ActionUpdate:
		if !updatableTypes[planned.ResourceType] {
			return r.alertAction(ctx, plan, action, "update not supported for resource type")
		}
		return r.submitAndRun(ctx, planned, action, models.ActionUpdate, action.Properties)

	case ActionDelete:
		return r.decommission(ctx, planned, action, false)

	case ActionRecreate:
		return r.decommission(ctx, planned, action, true)

	case ActionScale:
		// advisory only
		r.logger.InfoWithFields("scale advisory",
			logging.Field("plan_resource", action.PlanResourceID),
			logging.Field("reason", action.Reason),
		)
		return nil

	case ActionAlert:
		return r.alertAction(ctx, plan, action, action.Reason)

	default:
		return r.alertAction(ctx, plan, action, "unsupported action type")
	}
}

// decommission runs the ordered shutdown sequence: final snapshot for
// stateful kinds, stop, then destroy; recreate follows with a create carrying
// the planned properties.
func (r *Reconciler) decommission(ctx context.Context, planned *PlannedResource, action Action, recreate bool) error {
	if statefulTypes[planned.ResourceType] && r.guard != nil {
		label := fmt.Sprintf("pre-destroy %s", nodeIDFor(planned, action.NativeID))
		if _, err := r.guard.TakeSnapshot(ctx, models.SnapshotTriggerPreChange, label); err != nil {
			return fmt.Errorf("final snapshot guard failed, refusing to destroy: %w", err)
		}
	}
	if err := r.submitAndRun(ctx, planned, action, models.ActionUpdate,
		map[string]interface{}{"desiredStatus": "stopped"}); err != nil {
		return err
	}
	if err := r.submitAndRun(ctx, planned, action, models.ActionDelete, nil); err != nil {
		return err
	}
	if !recreate {
		return nil
	}
	return r.submitAndRun(ctx, planned, action, models.ActionCreate, planned.Properties)
}

// submitAndRun sends one mutation through the governor and executes it if
// the governor auto-approved. A pending verdict is not an error: the request
// waits for a human.
func (r *Reconciler) submitAndRun(ctx context.Context, planned *PlannedResource, action Action, govAction models.RequestAction, props map[string]interface{}) error {
	req, err := r.governor.Submit(ctx, governor.SubmitRequest{
		TargetResourceID: nodeIDFor(planned, action.NativeID),
		ResourceType:     planned.ResourceType,
		Provider:         planned.Provider,
		Action:           govAction,
		Properties:       props,
		Initiator:        "reconciler",
		InitiatorType:    models.InitiatorSystem,
		Description:      action.Reason,
	})
	if err != nil {
		return err
	}
	switch req.Status {
	case models.RequestApproved:
		executed, err := r.governor.Execute(ctx, req.ID)
		if err != nil {
			return err
		}
		if executed.Status == models.RequestFailed {
			return fmt.Errorf("remediation request %s failed: %s", req.ID, executed.FailureReason)
		}
		return nil
	case models.RequestPending:
		r.logger.InfoWithFields("remediation held for approval",
			logging.Field("request_id", req.ID),
			logging.Field("risk", string(req.Risk.Level)),
		)
		return nil
	case models.RequestRejected:
		return fmt.Errorf("remediation request %s rejected: %s", req.ID, req.FailureReason)
	default:
		return nil
	}
}

func (r *Reconciler) alertAction(ctx context.Context, plan *Plan, action Action, message string) error {
	return r.sink.Publish(ctx, Report{
		PlanID:  plan.ID,
		Message: fmt.Sprintf("%s (%s): %s", action.PlanResourceID, action.Type, message),
	})
}

// nodeIDFor derives the graph node id a planned resource occupies.
func nodeIDFor(planned *PlannedResource, nativeID string) string {
	return models.NodeID(planned.Provider, planned.Region, planned.ResourceType, nativeID)
}
