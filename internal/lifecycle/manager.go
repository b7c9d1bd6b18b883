package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moorhen/cartograph/internal/logging"
)

// DefaultShutdownTimeout is the per-component stop grace period.
const DefaultShutdownTimeout = 30 * time.Second

// Manager starts components with their dependencies first and stops them in
// reverse start order. A start failure unwinds what already started.
type Manager struct {
	mu      sync.Mutex // guards registration against start/stop
	entries []*entry
	byComp  map[Component]*entry
	started []*entry
	grace   time.Duration
	stateMu sync.RWMutex
	running map[Component]bool
	logger  *logging.Logger
}

type entry struct {
	component Component
	deps      []*entry
}

func NewManager() *Manager {
	return &Manager{
		byComp:  make(map[Component]*entry),
		running: make(map[Component]bool),
		grace:   DefaultShutdownTimeout,
		logger:  logging.GetLogger("lifecycle.manager"),
	}
}

// Register adds a component. Every dependency must already be registered, so
// registration order is itself a valid start order and cycles cannot form
// through Register alone; the reachability check below catches the rest.
func (m *Manager) Register(component Component, dependsOn ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if component == nil {
		return errors.New("cannot register nil component")
	}
	if component.Name() == "" {
		return errors.New("component must have a non-empty name")
	}
	if _, dup := m.byComp[component]; dup {
		return fmt.Errorf("component %s is already registered", component.Name())
	}

	deps := make([]*entry, 0, len(dependsOn))
	for _, dep := range dependsOn {
		de, ok := m.byComp[dep]
		if !ok {
			name := "<nil>"
			if dep != nil {
				name = dep.Name()
			}
			return fmt.Errorf("dependency %s is not registered", name)
		}
		if m.reaches(de, component) || dep == component {
			return fmt.Errorf("registering %s would create a circular dependency", component.Name())
		}
		deps = append(deps, de)
	}

	e := &entry{component: component, deps: deps}
	m.entries = append(m.entries, e)
	m.byComp[component] = e

	m.logger.Debug("Registered component %s (%d dependencies)", component.Name(), len(deps))
	return nil
}

// reaches reports whether target is in e's transitive dependency set.
func (m *Manager) reaches(e *entry, target Component) bool {
	for _, dep := range e.deps {
		if dep.component == target || m.reaches(dep, target) {
			return true
		}
	}
	return false
}

// Start brings every component up, dependencies first. On the first failure
// the already-started components are stopped in reverse and the failure is
// returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = m.started[:0]
	for _, e := range m.startOrder() {
		name := e.component.Name()
		m.logger.Info("Starting %s", name)
		begin := time.Now()

		if err := e.component.Start(ctx); err != nil {
			m.logger.ErrorWithErr("Failed to start "+name, err)
			m.unwind()
			return fmt.Errorf("initialization failed for %s: %w", name, err)
		}

		m.setRunning(e.component, true)
		m.started = append(m.started, e)
		m.logger.Info("%s started (took %dms)", name, time.Since(begin).Milliseconds())
	}

	m.logger.Info("All components started")
	return nil
}

// startOrder lists entries with dependencies before dependents.
func (m *Manager) startOrder() []*entry {
	order := make([]*entry, 0, len(m.entries))
	placed := make(map[*entry]bool, len(m.entries))

	var place func(e *entry)
	place = func(e *entry) {
		if placed[e] {
			return
		}
		placed[e] = true
		for _, dep := range e.deps {
			place(dep)
		}
		order = append(order, e)
	}
	for _, e := range m.entries {
		place(e)
	}
	return order
}

// unwind stops a partially started system in reverse, with a short fixed
// grace per component.
func (m *Manager) unwind() {
	for i := len(m.started) - 1; i >= 0; i-- {
		e := m.started[i]
		m.logger.Debug("Rolling back: stopping %s", e.component.Name())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.component.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", e.component.Name(), err)
		}
		cancel()
		m.setRunning(e.component, false)
	}
	m.started = m.started[:0]
}

// Stop shuts the started components down in reverse start order. Each gets
// its own grace deadline, and stop errors are logged rather than returned so
// one hung component cannot block the rest.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Stopping all components")
	for i := len(m.started) - 1; i >= 0; i-- {
		e := m.started[i]
		if !m.IsRunning(e.component) {
			continue
		}
		name := e.component.Name()
		m.logger.Info("Stopping %s", name)
		begin := time.Now()

		stopCtx, cancel := context.WithTimeout(ctx, m.grace)
		err := e.component.Stop(stopCtx)
		cancel()

		switch {
		case errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("%s exceeded its %s grace period, abandoning", name, m.grace)
		case err != nil:
			m.logger.ErrorWithErr("Error stopping "+name, err)
		default:
			m.logger.Info("%s stopped (took %dms)", name, time.Since(begin).Milliseconds())
		}
		m.setRunning(e.component, false)
	}

	m.logger.Info("All components stopped")
	return nil
}

// IsRunning reports whether the component started and has not stopped.
func (m *Manager) IsRunning(component Component) bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.running[component]
}

// SetShutdownTimeout overrides the per-component grace period.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.grace = timeout
}

func (m *Manager) setRunning(c Component, v bool) {
	m.stateMu.Lock()
	m.running[c] = v
	m.stateMu.Unlock()
}
