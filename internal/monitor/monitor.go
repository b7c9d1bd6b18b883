package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/engine"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/metrics"
	"github.com/moorhen/cartograph/internal/models"
)

// Sync interval presets.
const (
	Interval5Min   = 5 * time.Minute
	Interval15Min  = 15 * time.Minute
	IntervalHourly = time.Hour
	IntervalDaily  = 24 * time.Hour
)

const (
	// DefaultAlertCooldown suppresses a rule that fired until the cooldown
	// elapses.
	DefaultAlertCooldown = 30 * time.Minute
	// DefaultMaxAlertsPerCycle caps dispatch volume per cycle.
	DefaultMaxAlertsPerCycle = 20
	// DefaultEventPollInterval spaces event-source polls.
	DefaultEventPollInterval = time.Minute
)

// Options configures a Monitor.
type Options struct {
	// Interval spaces sync cycles. Defaults to Interval15Min.
	Interval time.Duration
	// Providers restricts the sync. Empty = all registered adapters.
	Providers []models.Provider
	// Rules evaluated after each sync. Defaults to DefaultRules().
	Rules []Rule
	// Dispatchers receive the cycle's alerts. Defaults to console.
	Dispatchers []Dispatcher
	// AlertCooldown overrides DefaultAlertCooldown.
	AlertCooldown time.Duration
	// MaxAlertsPerCycle overrides DefaultMaxAlertsPerCycle.
	MaxAlertsPerCycle int
	// EventSources are polled for audit events.
	EventSources []adapter.EventSource
	// EventPollInterval overrides DefaultEventPollInterval.
	EventPollInterval time.Duration
	// Metrics, when set, records cycle and alert counters.
	Metrics *metrics.Metrics
}

// Monitor owns the two long-lived workers: the sync scheduler and the event
// poller. Each is single-writer within its own cycle.
type Monitor struct {
	engine *engine.Engine
	opts   Options
	logger *logging.Logger

	mu            sync.Mutex
	previousStats *models.GraphStats
	lastCycleAt   time.Time
	lastFired     map[string]time.Time // rule id -> last fire
	lastPoll      map[string]time.Time // event source key -> last poll
	inFlight      bool
	stop          chan struct{}
	wg            sync.WaitGroup
}

// New returns a monitor over the engine.
func New(eng *engine.Engine, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = Interval15Min
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if len(opts.Dispatchers) == 0 {
		opts.Dispatchers = []Dispatcher{NewConsoleDispatcher()}
	}
	if opts.AlertCooldown <= 0 {
		opts.AlertCooldown = DefaultAlertCooldown
	}
	if opts.MaxAlertsPerCycle <= 0 {
		opts.MaxAlertsPerCycle = DefaultMaxAlertsPerCycle
	}
	if opts.EventPollInterval <= 0 {
		opts.EventPollInterval = DefaultEventPollInterval
	}
	return &Monitor{
		engine:    eng,
		opts:      opts,
		logger:    logging.GetLogger("monitor"),
		lastFired: map[string]time.Time{},
		lastPoll:  map[string]time.Time{},
	}
}

// SetRuleEnabled toggles a rule by id, for config hot-reload.
func (m *Monitor) SetRuleEnabled(ruleID string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.opts.Rules {
		if m.opts.Rules[i].ID == ruleID {
			m.opts.Rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

// Start launches the sync scheduler and the event poller. Stop with Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	m.wg.Add(2)
	go m.syncLoop(ctx, stop)
	go m.eventLoop(ctx, stop)
}

// Stop halts both workers and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) syncLoop(ctx context.Context, stop chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// a slow cycle eats its tick instead of queueing
			m.mu.Lock()
			busy := m.inFlight
			m.mu.Unlock()
			if busy {
				m.logger.Warn("sync cycle still in flight, skipping tick")
				continue
			}
			if _, err := m.RunOneCycle(ctx); err != nil {
				m.logger.ErrorWithErr("sync cycle failed", err)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) eventLoop(ctx context.Context, stop chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.EventPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.PollEventsOnce(ctx); err != nil {
				m.logger.ErrorWithErr("event poll failed", err)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CycleResult summarizes one monitor cycle.
type CycleResult struct {
	SyncedAt   time.Time `json:"syncedAt"`
	Alerts     []Alert   `json:"alerts"`
	Suppressed int       `json:"suppressed"`
	Capped     int       `json:"capped"`
}

// RunOneCycle syncs, evaluates rules against before/after stats, applies the
// cooldown filter and per-cycle cap, and dispatches. Rule and dispatch
// errors are contained.
func (m *Monitor) RunOneCycle(ctx context.Context) (*CycleResult, error) {
	m.mu.Lock()
	m.inFlight = true
	since := m.lastCycleAt
	prev := m.previousStats
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	cycleStart := time.Now()

	records, err := m.engine.Sync(ctx, engine.SyncOptions{Providers: m.opts.Providers})
	if err != nil {
		m.opts.Metrics.ObserveSyncError()
		return nil, err
	}
	current, err := m.engine.GetStats(ctx)
	if err != nil {
		m.opts.Metrics.ObserveSyncError()
		return nil, err
	}

	rc := RuleContext{
		Engine:        m.engine,
		Store:         m.engine.Store(),
		SyncRecords:   records,
		PreviousStats: prev,
		CurrentStats:  current,
		Since:         since,
	}

	result := &CycleResult{SyncedAt: cycleStart, Alerts: []Alert{}}
	now := time.Now()
	for _, rule := range m.snapshotRules() {
		if !rule.Enabled {
			continue
		}
		m.mu.Lock()
		last, fired := m.lastFired[rule.ID]
		m.mu.Unlock()
		if fired && now.Sub(last) < m.opts.AlertCooldown {
			result.Suppressed++
			continue
		}

		alerts, err := rule.Evaluate(ctx, rc)
		if err != nil {
			// one broken rule must not starve the rest
			m.logger.WarnWithFields("alert rule failed",
				logging.Field("rule_id", rule.ID),
				logging.Field("error", err.Error()),
			)
			continue
		}
		if len(alerts) == 0 {
			continue
		}
		m.mu.Lock()
		m.lastFired[rule.ID] = now
		m.mu.Unlock()
		for i := range alerts {
			alerts[i].ID = uuid.NewString()
			alerts[i].RuleID = rule.ID
			if alerts[i].Timestamp.IsZero() {
				alerts[i].Timestamp = now
			}
		}
		result.Alerts = append(result.Alerts, alerts...)
	}

	if len(result.Alerts) > m.opts.MaxAlertsPerCycle {
		result.Capped = len(result.Alerts) - m.opts.MaxAlertsPerCycle
		result.Alerts = result.Alerts[:m.opts.MaxAlertsPerCycle]
	}

	if len(result.Alerts) > 0 {
		for _, d := range m.opts.Dispatchers {
			if err := d.Dispatch(ctx, result.Alerts); err != nil {
				m.logger.WarnWithFields("alert dispatch failed",
					logging.Field("dispatcher", d.Name()),
					logging.Field("error", err.Error()),
				)
			}
		}
	}

	m.mu.Lock()
	m.previousStats = current
	m.lastCycleAt = cycleStart
	m.mu.Unlock()

	m.opts.Metrics.ObserveSyncCycle(time.Since(cycleStart), current.TotalNodes)
	byCategory := map[string]int{}
	for _, a := range result.Alerts {
		byCategory[string(a.Category)]++
	}
	m.opts.Metrics.ObserveAlerts(byCategory, result.Suppressed)

	m.logger.InfoWithFields("monitor cycle complete",
		logging.Field("alerts", len(result.Alerts)),
		logging.Field("suppressed", result.Suppressed),
		logging.Field("sync_records", len(records)),
	)
	return result, nil
}

func (m *Monitor) snapshotRules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Rule(nil), m.opts.Rules...)
}
