package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/adapter/fake"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store/memory"
)

func newHarness(t *testing.T, opts Options) (*Monitor, *engine.Engine, *fake.Adapter) {
	t.Helper()
	st := memory.New()
	eng := engine.New(st, engine.Options{})
	aws := fake.New("aws-fixture", models.ProviderAWS)
	eng.RegisterAdapter(aws)
	if len(opts.Dispatchers) == 0 {
		opts.Dispatchers = []Dispatcher{NewCallbackDispatcher(func([]Alert) {})}
	}
	return New(eng, opts), eng, aws
}

func vm(nativeID string, cost float64) adapter.NodeInput {
	return adapter.NodeInput{
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		ResourceType: models.ResourceCompute,
		NativeID:     nativeID,
		Name:         nativeID,
		Status:       models.StatusRunning,
		CostMonthly:  cost,
	}
}

func ref(rt models.ResourceType, nativeID string) adapter.NodeRef {
	return adapter.NodeRef{
		Provider:     models.ProviderAWS,
		Region:       "us-east-1",
		ResourceType: rt,
		NativeID:     nativeID,
	}
}

func alertsByCategory(alerts []Alert) map[Category][]Alert {
	out := map[Category][]Alert{}
	for _, a := range alerts {
		out[a.Category] = append(out[a.Category], a)
	}
	return out
}

func TestOrphanAlertForIsolatedResources(t *testing.T) {
	m, _, aws := newHarness(t, Options{})
	api := adapter.NodeInput{
		Provider: models.ProviderAWS, Region: "us-east-1",
		ResourceType: models.ResourceAPI, NativeID: "api-1",
		Name: "api-1", Status: models.StatusRunning,
	}
	lb := adapter.NodeInput{
		Provider: models.ProviderAWS, Region: "us-east-1",
		ResourceType: models.ResourceLoadBalancer, NativeID: "lb-1",
		Name: "lb-1", Status: models.StatusRunning,
	}
	aws.SetDiscovery(
		[]adapter.NodeInput{vm("vm-1", 150), vm("vm-2", 200), vm("vm-3", 20), api, lb},
		[]adapter.EdgeInput{{
			Source:           ref(models.ResourceLoadBalancer, "lb-1"),
			Target:           ref(models.ResourceAPI, "api-1"),
			RelationshipType: models.RelConnectedTo,
		}},
	)

	res, err := m.RunOneCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)

	got := res.Alerts[0]
	assert.Equal(t, CategoryOrphan, got.Category)
	// $370 stranded is under the $1000 escalation line
	assert.Equal(t, SeverityWarning, got.Severity)
	assert.ElementsMatch(t, []string{
		models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceCompute, "vm-1"),
		models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceCompute, "vm-2"),
		models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceCompute, "vm-3"),
	}, got.AffectedNodeIDs)
}

func TestOrphanAlertEscalatesOnCost(t *testing.T) {
	m, _, aws := newHarness(t, Options{})
	aws.SetDiscovery([]adapter.NodeInput{vm("vm-big", 1500)}, nil)

	res, err := m.RunOneCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, SeverityCritical, res.Alerts[0].Severity)
}

func TestSPOFAlertForHubNode(t *testing.T) {
	m, _, aws := newHarness(t, Options{})
	hub := adapter.NodeInput{
		Provider: models.ProviderAWS, Region: "us-east-1",
		ResourceType: models.ResourceDatabase, NativeID: "hub-db",
		Name: "hub-db", Status: models.StatusRunning,
	}
	dependents := []string{"api-1", "api-2", "api-3", "worker", "cache"}
	nodes := []adapter.NodeInput{hub}
	var edges []adapter.EdgeInput
	for _, d := range dependents {
		nodes = append(nodes, adapter.NodeInput{
			Provider: models.ProviderAWS, Region: "us-east-1",
			ResourceType: models.ResourceCompute, NativeID: d,
			Name: d, Status: models.StatusRunning,
		})
		edges = append(edges, adapter.EdgeInput{
			Source:           ref(models.ResourceCompute, d),
			Target:           ref(models.ResourceDatabase, "hub-db"),
			RelationshipType: models.RelDependsOn,
		})
	}
	aws.SetDiscovery(nodes, edges)

	res, err := m.RunOneCycle(context.Background())
	require.NoError(t, err)
	byCat := alertsByCategory(res.Alerts)
	require.Len(t, byCat[CategorySPOF], 1)

	got := byCat[CategorySPOF][0]
	assert.Equal(t, SeverityCritical, got.Severity)
	hubID := models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceDatabase, "hub-db")
	assert.Contains(t, got.AffectedNodeIDs, hubID)
	ratio, ok := got.Metadata["reachabilityRatio"].(float64)
	require.True(t, ok)
	assert.Greater(t, ratio, 0.3)
}

func TestCostAnomalyRuleThresholds(t *testing.T) {
	rule := CostAnomalyRule()
	ctx := context.Background()

	alerts, err := rule.Evaluate(ctx, RuleContext{
		PreviousStats: &models.GraphStats{TotalCostMonthly: 1000},
		CurrentStats:  &models.GraphStats{TotalCostMonthly: 1300},
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, CategoryCostAnomaly, alerts[0].Category)
	// 30% sits between the 20% warn line and the 50% critical line
	assert.Equal(t, SeverityWarning, alerts[0].Severity)
	assert.InDelta(t, 300.0, alerts[0].Metadata["costImpact"].(float64), 0.01)

	alerts, err = rule.Evaluate(ctx, RuleContext{
		PreviousStats: &models.GraphStats{TotalCostMonthly: 1000},
		CurrentStats:  &models.GraphStats{TotalCostMonthly: 1600},
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)

	alerts, err = rule.Evaluate(ctx, RuleContext{
		PreviousStats: &models.GraphStats{TotalCostMonthly: 1000},
		CurrentStats:  &models.GraphStats{TotalCostMonthly: 1100},
	})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDisappearedAlertAfterTwoMisses(t *testing.T) {
	m, eng, aws := newHarness(t, Options{})
	ctx := context.Background()
	aws.SetDiscovery([]adapter.NodeInput{vm("i-abc", 50)}, nil)

	_, err := m.RunOneCycle(ctx)
	require.NoError(t, err)

	aws.RemoveNode("i-abc")

	res, err := m.RunOneCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, alertsByCategory(res.Alerts)[CategoryDisappeared], "single miss must not fire")

	res, err = m.RunOneCycle(ctx)
	require.NoError(t, err)
	require.Len(t, alertsByCategory(res.Alerts)[CategoryDisappeared], 1)

	changes, err := eng.Store().GetChanges(ctx, &models.ChangeFilter{
		ChangeTypes: []models.ChangeType{models.ChangeNodeDisappeared},
	})
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestCooldownSuppressesRepeatFiring(t *testing.T) {
	fireCount := 0
	always := Rule{
		ID: "test-always", Name: "always fires", Category: CategoryCustom,
		Severity: SeverityInfo, Enabled: true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			fireCount++
			return []Alert{{Category: CategoryCustom, Severity: SeverityInfo, Message: "tick"}}, nil
		},
	}
	m, _, aws := newHarness(t, Options{
		Rules:         []Rule{always},
		AlertCooldown: time.Hour,
	})
	aws.SetDiscovery(nil, nil)
	ctx := context.Background()

	res, err := m.RunOneCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Alerts, 1)
	assert.Equal(t, 1, fireCount)

	res, err = m.RunOneCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Equal(t, 1, res.Suppressed)
	assert.Equal(t, 1, fireCount, "suppressed rule must not be evaluated")
}

func TestRuleErrorIsContained(t *testing.T) {
	broken := Rule{
		ID: "test-broken", Name: "broken", Category: CategoryCustom,
		Severity: SeverityInfo, Enabled: true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			return nil, errors.New("boom")
		},
	}
	ok := Rule{
		ID: "test-ok", Name: "ok", Category: CategoryCustom,
		Severity: SeverityInfo, Enabled: true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			return []Alert{{Category: CategoryCustom, Severity: SeverityInfo, Message: "still here"}}, nil
		},
	}
	m, _, aws := newHarness(t, Options{Rules: []Rule{broken, ok}})
	aws.SetDiscovery(nil, nil)

	res, err := m.RunOneCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "test-ok", res.Alerts[0].RuleID)
}

func TestMaxAlertsPerCycleCap(t *testing.T) {
	noisy := Rule{
		ID: "test-noisy", Name: "noisy", Category: CategoryCustom,
		Severity: SeverityInfo, Enabled: true,
		Evaluate: func(ctx context.Context, rc RuleContext) ([]Alert, error) {
			out := make([]Alert, 5)
			for i := range out {
				out[i] = Alert{Category: CategoryCustom, Severity: SeverityInfo, Message: "n"}
			}
			return out, nil
		},
	}
	m, _, aws := newHarness(t, Options{Rules: []Rule{noisy}, MaxAlertsPerCycle: 3})
	aws.SetDiscovery(nil, nil)

	res, err := m.RunOneCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Alerts, 3)
	assert.Equal(t, 2, res.Capped)
}

func TestSetRuleEnabled(t *testing.T) {
	m, _, aws := newHarness(t, Options{})
	aws.SetDiscovery([]adapter.NodeInput{vm("vm-lonely", 10)}, nil)

	require.True(t, m.SetRuleEnabled("builtin-orphan", false))
	assert.False(t, m.SetRuleEnabled("no-such-rule", true))

	res, err := m.RunOneCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alertsByCategory(res.Alerts)[CategoryOrphan])
}

func TestEventPollerMapsMutations(t *testing.T) {
	src := fake.NewEventSource("cloudtrail", models.ProviderAWS)
	m, eng, aws := newHarness(t, Options{EventSources: []adapter.EventSource{src}})
	ctx := context.Background()

	aws.SetDiscovery([]adapter.NodeInput{vm("i-123", 10)}, nil)
	_, err := m.RunOneCycle(ctx)
	require.NoError(t, err)

	now := time.Now()
	src.Emit(
		adapter.CloudEvent{ID: "ev-1", Provider: models.ProviderAWS, EventType: "RunInstances", ResourceID: "i-123", Actor: "alice", Timestamp: now, Success: true},
		adapter.CloudEvent{ID: "ev-2", Provider: models.ProviderAWS, EventType: "TerminateInstances", ResourceID: "i-999", Timestamp: now, Success: true},
		adapter.CloudEvent{ID: "ev-3", Provider: models.ProviderAWS, EventType: "DescribeInstances", ResourceID: "i-123", Timestamp: now, ReadOnly: true},
	)

	n, err := m.PollEventsOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "read-only events are excluded")

	changes, err := eng.Store().GetChanges(ctx, &models.ChangeFilter{
		DetectedVia: models.DetectedViaEventStream,
	})
	require.NoError(t, err)
	require.Len(t, changes, 2)

	byTarget := map[string]models.Change{}
	for _, c := range changes {
		byTarget[c.TargetID] = c
	}
	nodeID := models.NodeID(models.ProviderAWS, "us-east-1", models.ResourceCompute, "i-123")
	created, ok := byTarget[nodeID]
	require.True(t, ok, "known native id maps to the graph node id")
	assert.Equal(t, models.ChangeNodeCreated, created.ChangeType)
	assert.Equal(t, models.InitiatorHuman, created.InitiatorType)
	assert.Equal(t, "alice", created.Initiator)

	deleted, ok := byTarget["i-999"]
	require.True(t, ok, "unknown resources keep the native id")
	assert.Equal(t, models.ChangeNodeDeleted, deleted.ChangeType)
	assert.Equal(t, models.InitiatorUnknown, deleted.InitiatorType)

	// second poll starts after the first one's watermark
	n, err = m.PollEventsOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConsoleDispatcherMarkers(t *testing.T) {
	var buf bytes.Buffer
	d := &ConsoleDispatcher{Out: &buf}
	require.NoError(t, d.Dispatch(context.Background(), []Alert{
		{Category: CategorySPOF, Severity: SeverityCritical, Message: "hub down"},
		{Category: CategoryOrphan, Severity: SeverityWarning, Message: "stranded"},
	}))
	out := buf.String()
	assert.Contains(t, out, "🚨 [spof/critical] hub down")
	assert.Contains(t, out, "⚠️ [orphan/warning] stranded")
}

func TestWebhookDispatcherPostsAlerts(t *testing.T) {
	var received struct {
		Alerts []Alert `json:"alerts"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL)
	require.NoError(t, d.Dispatch(context.Background(), []Alert{
		{ID: "a1", Category: CategoryCostAnomaly, Severity: SeverityWarning, Message: "costs up"},
	}))
	require.Len(t, received.Alerts, 1)
	assert.Equal(t, "a1", received.Alerts[0].ID)
}
