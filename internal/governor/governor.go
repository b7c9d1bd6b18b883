// Package governor gates every mutation bound for a cloud adapter: requests
// are risk-scored, checked against policies, held for approval when needed,
// and executed with a full audit trail in the change log.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/metrics"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

// DefaultPendingTTL is how long a pending request waits for approval before
// it expires to rejected.
const DefaultPendingTTL = 24 * time.Hour

// Options configures a Governor.
type Options struct {
	// PendingTTL overrides DefaultPendingTTL.
	PendingTTL time.Duration
	// Policies evaluated on submission. Defaults to DefaultPolicies().
	Policies []Policy
	// ExpiryInterval is how often the expiry loop scans pending requests.
	ExpiryInterval time.Duration
	// Metrics, when set, records submission counters and risk scores.
	Metrics *metrics.Metrics
}

// Governor serializes change-request state transitions.
type Governor struct {
	store    store.Store
	engine   *engine.Engine
	policies []Policy
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mu   sync.Mutex // serializes transitions on the shared pending set
	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a governor over the given store and engine.
func New(st store.Store, eng *engine.Engine, opts Options) *Governor {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.ExpiryInterval <= 0 {
		opts.ExpiryInterval = time.Minute
	}
	if opts.Policies == nil {
		opts.Policies = DefaultPolicies()
	}
	return &Governor{
		store:    st,
		engine:   eng,
		policies: opts.Policies,
		ttl:      opts.PendingTTL,
		interval: opts.ExpiryInterval,
		metrics:  opts.Metrics,
		logger:   logging.GetLogger("governor"),
	}
}

// SubmitRequest is the caller's intent; the governor fills in identity,
// risk and verdict.
type SubmitRequest struct {
	TargetResourceID string
	ResourceType     models.ResourceType
	Provider         models.Provider
	Action           models.RequestAction
	Properties       map[string]interface{}
	Initiator        string
	InitiatorType    models.InitiatorType
	CorrelationID    string
	Description      string
}

// Submit scores, policy-checks and persists a new change request. The
// returned request is pending, approved (all policies allow) or rejected
// (a policy denied).
func (g *Governor) Submit(ctx context.Context, sub SubmitRequest) (*models.ChangeRequest, error) {
	if sub.TargetResourceID == "" && sub.Action != models.ActionCreate {
		return nil, fmt.Errorf("target resource id is required: %w", models.ErrInvalidArgument)
	}

	req := models.ChangeRequest{
		ID:               uuid.NewString(),
		TargetResourceID: sub.TargetResourceID,
		ResourceType:     sub.ResourceType,
		Provider:         sub.Provider,
		Action:           sub.Action,
		Properties:       sub.Properties,
		Initiator:        sub.Initiator,
		InitiatorType:    sub.InitiatorType,
		CorrelationID:    sub.CorrelationID,
		Description:      sub.Description,
		Status:           models.RequestPending,
		CreatedAt:        time.Now(),
	}
	risk, err := g.ScoreRisk(ctx, &req)
	if err != nil {
		return nil, err
	}
	req.Risk = *risk

	verdict, message := g.evaluatePolicies(&req)
	switch verdict {
	case VerdictDeny:
		req.Status = models.RequestRejected
		req.FailureReason = "policy violation: " + message
	case VerdictAllow:
		req.Status = models.RequestApproved
		req.ApprovedBy = "policy"
	case VerdictRequireApproval:
		// stays pending
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.PutChangeRequest(ctx, req); err != nil {
		return nil, err
	}
	if err := g.appendTransition(ctx, &req, "submitted as "+string(req.Status)); err != nil {
		return nil, err
	}
	g.metrics.ObserveRequest(string(req.Status), req.Risk.Score)
	g.logger.InfoWithFields("change request submitted",
		logging.Field("request_id", req.ID),
		logging.Field("action", string(req.Action)),
		logging.Field("risk", string(req.Risk.Level)),
		logging.Field("status", string(req.Status)),
	)
	return &req, nil
}

// Approve transitions a pending request to approved.
func (g *Governor) Approve(ctx context.Context, id, approver string) (*models.ChangeRequest, error) {
	return g.transition(ctx, id, models.RequestPending, func(req *models.ChangeRequest) {
		req.Status = models.RequestApproved
		req.ApprovedBy = approver
	}, "approved by "+approver)
}

// Reject transitions a pending request to rejected.
func (g *Governor) Reject(ctx context.Context, id, rejecter, reason string) (*models.ChangeRequest, error) {
	return g.transition(ctx, id, models.RequestPending, func(req *models.ChangeRequest) {
		req.Status = models.RequestRejected
		req.FailureReason = reason
		req.ApprovedBy = rejecter
	}, "rejected: "+reason)
}

// Execute runs an approved request through the provider adapter. Success
// lands in executed; any failure lands in failed with the error recorded.
func (g *Governor) Execute(ctx context.Context, id string) (*models.ChangeRequest, error) {
	g.mu.Lock()
	req, err := g.store.GetChangeRequest(ctx, id)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	if req == nil {
		g.mu.Unlock()
		return nil, models.ErrNotFound
	}
	if req.Status != models.RequestApproved {
		g.mu.Unlock()
		return nil, fmt.Errorf("request %s is %s, not approved: %w", id, req.Status, models.ErrInvalidArgument)
	}
	g.mu.Unlock()

	a := g.engine.AdapterFor(req.Provider)
	var execErr error
	if a == nil {
		execErr = fmt.Errorf("no adapter registered for provider %s", req.Provider)
	} else {
		nativeID := req.TargetResourceID
		if _, _, _, parsed, ok := models.ParseNodeID(req.TargetResourceID); ok {
			nativeID = parsed
		}
		execErr = adapter.MutateWithRetry(ctx, a, req.Action, nativeID, req.ResourceType, req.Properties)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if execErr != nil {
		req.Status = models.RequestFailed
		req.FailureReason = execErr.Error()
	} else {
		req.Status = models.RequestExecuted
		req.ExecutedAt = time.Now()
	}
	if err := g.store.PutChangeRequest(ctx, *req); err != nil {
		return nil, err
	}

	change := models.Change{
		TargetID:      req.TargetResourceID,
		ChangeType:    changeTypeForAction(req.Action),
		DetectedVia:   models.DetectedViaManual,
		CorrelationID: req.ID,
		Initiator:     req.Initiator,
		InitiatorType: models.InitiatorSystem,
		Metadata: map[string]interface{}{
			"requestStatus": string(req.Status),
			"action":        string(req.Action),
		},
	}
	if execErr != nil {
		change.Metadata["error"] = execErr.Error()
	}
	if err := g.store.AppendChanges(ctx, []models.Change{change}); err != nil {
		return nil, err
	}
	if execErr != nil {
		g.logger.ErrorWithFields("change request execution failed",
			logging.Field("request_id", req.ID),
			logging.Field("error", execErr.Error()),
		)
	}
	return req, nil
}

func changeTypeForAction(action models.RequestAction) models.ChangeType {
	switch action {
	case models.ActionCreate:
		return models.ChangeNodeCreated
	case models.ActionDelete:
		return models.ChangeNodeDeleted
	default:
		return models.ChangeNodeUpdated
	}
}

// transition applies fn to a request currently in the required status.
func (g *Governor) transition(ctx context.Context, id string, required models.RequestStatus, fn func(*models.ChangeRequest), note string) (*models.ChangeRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, err := g.store.GetChangeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, models.ErrNotFound
	}
	if req.Status != required {
		return nil, fmt.Errorf("request %s is %s, not %s: %w", id, req.Status, required, models.ErrInvalidArgument)
	}
	fn(req)
	if err := g.store.PutChangeRequest(ctx, *req); err != nil {
		return nil, err
	}
	if err := g.appendTransition(ctx, req, note); err != nil {
		return nil, err
	}
	return req, nil
}

// appendTransition records a governor state transition in the change log.
// The correlation id is always the request id.
func (g *Governor) appendTransition(ctx context.Context, req *models.ChangeRequest, note string) error {
	return g.store.AppendChanges(ctx, []models.Change{{
		TargetID:      req.TargetResourceID,
		ChangeType:    models.ChangeNodeUpdated,
		Field:         "changeRequest",
		NewValue:      string(req.Status),
		DetectedVia:   models.DetectedViaManual,
		CorrelationID: req.ID,
		Initiator:     req.Initiator,
		InitiatorType: models.InitiatorSystem,
		Metadata:      map[string]interface{}{"note": note},
	}})
}

// Start launches the TTL expiry loop. Stop with Stop.
func (g *Governor) Start(ctx context.Context) {
	g.mu.Lock()
	if g.stop != nil {
		g.mu.Unlock()
		return
	}
	g.stop = make(chan struct{})
	stop := g.stop
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := g.ExpireStale(ctx); err != nil {
					g.logger.ErrorWithErr("expiry sweep failed", err)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the expiry loop and waits for it to exit.
func (g *Governor) Stop() {
	g.mu.Lock()
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
	g.mu.Unlock()
	g.wg.Wait()
}

// ExpireStale rejects every pending request older than the TTL with reason
// expired.
func (g *Governor) ExpireStale(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending, err := g.store.ListChangeRequests(ctx, models.RequestPending, 0)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-g.ttl)
	for i := range pending {
		req := pending[i]
		if req.CreatedAt.After(cutoff) {
			continue
		}
		req.Status = models.RequestRejected
		req.FailureReason = "expired"
		if err := g.store.PutChangeRequest(ctx, req); err != nil {
			return err
		}
		if err := g.appendTransition(ctx, &req, "expired after "+g.ttl.String()); err != nil {
			return err
		}
		g.logger.WarnWithFields("pending request expired",
			logging.Field("request_id", req.ID))
	}
	return nil
}
