package reconciler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/governor"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/metrics"
	"github.com/moorhen/cartograph/internal/models"
)

const (
	// DefaultInterval is the continuous-mode cycle spacing.
	DefaultInterval = 15 * time.Minute
	// DefaultCycleTimeout bounds one reconcile pass.
	DefaultCycleTimeout = 15 * time.Minute
	// DefaultCostThresholdPct is the anomaly threshold on |actual vs
	// planned| monthly cost.
	DefaultCostThresholdPct = 20.0
)

// DriftType classifies what kind of drift a resource shows.
type DriftType string

const (
	DriftDeleted       DriftType = "deleted"
	DriftConfiguration DriftType = "configuration"
)

// Drift is one resource's divergence from its plan.
type Drift struct {
	PlanResourceID string                `json:"planResourceId"`
	NativeID       string                `json:"nativeId"`
	Type           DriftType             `json:"type"`
	Entries        []engine.PropertyDiff `json:"entries,omitempty"`
}

// HasCriticalEntry reports whether any drifted property is critical.
func (d *Drift) HasCriticalEntry() bool {
	for _, e := range d.Entries {
		if e.Severity == engine.SeverityCritical {
			return true
		}
	}
	return false
}

// Violation is one compliance rule failure.
type Violation struct {
	PlanResourceID string       `json:"planResourceId"`
	Rule           string       `json:"rule"`
	Severity       RuleSeverity `json:"severity"`
	Message        string       `json:"message"`
}

// AnomalyType classifies the direction of a cost anomaly.
type AnomalyType string

const (
	AnomalySpike AnomalyType = "spike"
	AnomalyTrend AnomalyType = "trend"
)

// Anomaly is a planned-vs-actual cost divergence beyond the threshold.
type Anomaly struct {
	PlanResourceID string      `json:"planResourceId"`
	Type           AnomalyType `json:"type"`
	PlannedMonthly float64     `json:"plannedMonthly"`
	ActualMonthly  float64     `json:"actualMonthly"`
	DeltaPercent   float64     `json:"deltaPercent"`
	PossibleCauses []string    `json:"possibleCauses"`
}

// Result is the record of one reconcile cycle.
type Result struct {
	ID                     string      `json:"id"`
	PlanID                 string      `json:"planId"`
	ExecutionID            string      `json:"executionId"`
	Timestamp              time.Time   `json:"timestamp"`
	DriftDetected          bool        `json:"driftDetected"`
	Drifts                 []Drift     `json:"drifts"`
	Violations             []Violation `json:"violations"`
	Anomalies              []Anomaly   `json:"anomalies"`
	RecommendedActions     []Action    `json:"recommendedActions"`
	AutoRemediationApplied bool        `json:"autoRemediationApplied"`
	ResourceErrors         []string    `json:"resourceErrors,omitempty"`
}

// Options configures a Reconciler.
type Options struct {
	// AutoRemediate enables executing auto-executable actions through the
	// governor. Overridable per cycle via CycleOptions.
	AutoRemediate bool
	// CostThresholdPct overrides DefaultCostThresholdPct.
	CostThresholdPct float64
	// Interval spaces continuous-mode cycles. Defaults to DefaultInterval.
	Interval time.Duration
	// CycleTimeout bounds one pass. Defaults to DefaultCycleTimeout.
	CycleTimeout time.Duration
	// Rules are the compliance rules. Defaults to DefaultRules().
	Rules []Rule
	// Sink receives the per-cycle report. Defaults to a log sink.
	Sink ReportSink

	// Metrics, when set, records cycle and remediation counters.
	Metrics *metrics.Metrics
}

// CycleOptions tweaks one Reconcile call.
type CycleOptions struct {
	// AutoRemediate overrides the configured default when non-nil.
	AutoRemediate *bool
}

// Reconciler runs the plan-vs-actual control loop.
type Reconciler struct {
	engine   *engine.Engine
	governor *governor.Governor
	guard    SnapshotGuard
	rules    []Rule
	sink     ReportSink
	opts     Options
	logger   *logging.Logger

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// SnapshotGuard takes a final graph snapshot before destructive sequences on
// stateful resources. Satisfied by temporal.Store.
type SnapshotGuard interface {
	TakeSnapshot(ctx context.Context, trigger models.SnapshotTrigger, label string) (*models.Snapshot, error)
}

// New returns a reconciler driving remediations through gov.
func New(eng *engine.Engine, gov *governor.Governor, guard SnapshotGuard, opts Options) *Reconciler {
	if opts.CostThresholdPct <= 0 {
		opts.CostThresholdPct = DefaultCostThresholdPct
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Sink == nil {
		opts.Sink = NewLogSink()
	}
	return &Reconciler{
		engine:   eng,
		governor: gov,
		guard:    guard,
		rules:    opts.Rules,
		sink:     opts.Sink,
		opts:     opts,
		logger:   logging.GetLogger("reconciler"),
	}
}

// Reconcile runs one full cycle for a plan/execution pair. Per-resource
// failures are contained in ResourceErrors; only structural failures error.
func (r *Reconciler) Reconcile(ctx context.Context, plan *Plan, exec *Execution, cycleOpts CycleOptions) (*Result, error) {
	if plan == nil || exec == nil {
		return nil, fmt.Errorf("plan and execution are required: %w", models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.CycleTimeout)
	defer cancel()

	result := &Result{
		ID:          uuid.NewString(),
		PlanID:      plan.ID,
		ExecutionID: exec.ID,
		Timestamp:   time.Now(),
		Drifts:      []Drift{},
		Violations:  []Violation{},
		Anomalies:   []Anomaly{},
	}

	// Live state is described once per resource and shared by the drift,
	// compliance and anomaly phases.
	observed := map[string]map[string]interface{}{}

	for _, prov := range exec.Resources {
		planned := plan.Resource(prov.PlanResourceID)
		if planned == nil {
			result.ResourceErrors = append(result.ResourceErrors,
				fmt.Sprintf("%s: not declared in plan %s", prov.PlanResourceID, plan.ID))
			continue
		}
		a := r.engine.AdapterFor(planned.Provider)
		if a == nil {
			result.ResourceErrors = append(result.ResourceErrors,
				fmt.Sprintf("%s: no adapter for provider %s", prov.PlanResourceID, planned.Provider))
			continue
		}

		actual, err := adapter.DescribeWithRetry(ctx, a, prov.NativeID, planned.ResourceType)
		if err != nil {
			result.ResourceErrors = append(result.ResourceErrors,
				fmt.Sprintf("%s: describe failed: %v", prov.PlanResourceID, err))
			r.logger.WarnWithFields("describe failed during reconcile",
				logging.Field("plan_resource", prov.PlanResourceID),
				logging.Field("error", err.Error()),
			)
			continue
		}
		if actual == nil {
			result.Drifts = append(result.Drifts, Drift{
				PlanResourceID: prov.PlanResourceID,
				NativeID:       prov.NativeID,
				Type:           DriftDeleted,
			})
			continue
		}
		observed[prov.PlanResourceID] = actual

		if entries := compareToPlan(planned.Properties, actual); len(entries) > 0 {
			result.Drifts = append(result.Drifts, Drift{
				PlanResourceID: prov.PlanResourceID,
				NativeID:       prov.NativeID,
				Type:           DriftConfiguration,
				Entries:        entries,
			})
		}

		result.Violations = append(result.Violations, r.checkCompliance(planned, actual)...)

		if anomaly := r.checkCost(ctx, a, planned, prov); anomaly != nil {
			result.Anomalies = append(result.Anomalies, *anomaly)
		}
	}
	result.DriftDetected = len(result.Drifts) > 0

	result.RecommendedActions = r.synthesizeActions(plan, exec, result)

	autoRemediate := r.opts.AutoRemediate
	if cycleOpts.AutoRemediate != nil {
		autoRemediate = *cycleOpts.AutoRemediate
	}
	if autoRemediate {
		result.AutoRemediationApplied = r.applyRemediations(ctx, plan, result)
	}

	r.opts.Metrics.ObserveReconcileCycle(len(result.Drifts))
	r.publish(ctx, result)
	return result, nil
}

// compareToPlan diffs only the keys the plan declares: live resources carry
// plenty of fields the plan does not manage.
func compareToPlan(planned, actual map[string]interface{}) []engine.PropertyDiff {
	projected := make(map[string]interface{}, len(planned))
	for k := range planned {
		if v, ok := actual[k]; ok {
			projected[k] = v
		}
	}
	return engine.CompareProperties(planned, projected)
}

func (r *Reconciler) checkCompliance(planned *PlannedResource, actual map[string]interface{}) []Violation {
	var out []Violation
	for _, rule := range r.rules {
		if rule.AppliesTo != nil && !rule.AppliesTo(planned) {
			continue
		}
		ok, message := rule.Check(planned, actual)
		if ok {
			continue
		}
		out = append(out, Violation{
			PlanResourceID: planned.ID,
			Rule:           rule.Name,
			Severity:       rule.Severity,
			Message:        message,
		})
	}
	return out
}

func (r *Reconciler) checkCost(ctx context.Context, a adapter.CloudAdapter, planned *PlannedResource, prov ProvisionedResource) *Anomaly {
	costAdapter, ok := a.(adapter.CostAdapter)
	if !ok || planned.EstimatedCostMonthly <= 0 {
		return nil
	}
	actual, err := costAdapter.ActualMonthlyCost(ctx, prov.NativeID, planned.ResourceType)
	if err != nil {
		r.logger.WarnWithFields("cost lookup failed during reconcile",
			logging.Field("plan_resource", planned.ID),
			logging.Field("error", err.Error()),
		)
		return nil
	}
	delta := (actual - planned.EstimatedCostMonthly) / planned.EstimatedCostMonthly * 100
	if math.Abs(delta) <= r.opts.CostThresholdPct {
		return nil
	}
	kind := AnomalySpike
	if delta < 0 {
		kind = AnomalyTrend
	}
	return &Anomaly{
		PlanResourceID: planned.ID,
		Type:           kind,
		PlannedMonthly: planned.EstimatedCostMonthly,
		ActualMonthly:  actual,
		DeltaPercent:   delta,
		PossibleCauses: possibleCauses(planned.ResourceType, kind),
	}
}

// possibleCauses maps resource types to heuristic anomaly explanations.
func possibleCauses(rt models.ResourceType, kind AnomalyType) []string {
	if kind == AnomalyTrend {
		return []string{"reduced usage", "reserved pricing applied", "resources scaled down"}
	}
	switch rt {
	case models.ResourceDatabase:
		return []string{"storage consumption growth", "instance class change", "read replica added"}
	case models.ResourceCompute:
		return []string{"autoscaling added instances", "instance type upgraded"}
	case models.ResourceStorage:
		return []string{"object count growth", "cross-region transfer increase"}
	case models.ResourceServerless:
		return []string{"invocation volume spike", "memory allocation increase"}
	case models.ResourceCache:
		return []string{"node count increase", "larger cache node type"}
	default:
		return []string{"usage growth"}
	}
}

func (r *Reconciler) publish(ctx context.Context, result *Result) {
	report := Report{
		PlanID:         result.PlanID,
		ExecutionID:    result.ExecutionID,
		DriftCount:     len(result.Drifts),
		ViolationCount: len(result.Violations),
		AnomalyCount:   len(result.Anomalies),
		Message: fmt.Sprintf("reconcile %s: %d drifts, %d violations, %d anomalies, %d actions",
			result.ID, len(result.Drifts), len(result.Violations), len(result.Anomalies),
			len(result.RecommendedActions)),
	}
	if err := r.sink.Publish(ctx, report); err != nil {
		// report delivery must never fail the cycle
		r.logger.WarnWithFields("report publication failed",
			logging.Field("plan_id", result.PlanID),
			logging.Field("error", err.Error()),
		)
	}
}

// Start runs continuous reconciliation of one plan/execution pair. Stop with
// Stop.
func (r *Reconciler) Start(ctx context.Context, plan *Plan, exec *Execution) {
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	r.stop = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := r.Reconcile(ctx, plan, exec, CycleOptions{}); err != nil {
					r.logger.ErrorWithErr("reconcile cycle failed", err)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the continuous loop and waits for it to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}
