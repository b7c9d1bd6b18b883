// Package fake provides scriptable in-memory adapter and event-source
// implementations used by tests and the demo seeding path.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/models"
)

// Mutation records one Mutate call the fake received.
type Mutation struct {
	Action       models.RequestAction
	NativeID     string
	ResourceType models.ResourceType
	Properties   map[string]interface{}
}

// Adapter is a scriptable adapter.CloudAdapter. Zero value is unusable; use
// New. All scripting methods are safe for concurrent use with the adapter
// methods.
type Adapter struct {
	name      string
	provider  models.Provider
	dependsOn []string

	mu             sync.Mutex
	discovery      adapter.Discovery
	described      map[string]map[string]interface{}
	discoverErrs   []error
	describeErrs   []error
	mutateErrs     []error
	mutations      []Mutation
	discoverCalls  int
	describeCalls  int
	healthy        bool
	healthMessage  string
	mutateApplies  bool
	costByNativeID map[string]float64
}

var (
	_ adapter.CloudAdapter = (*Adapter)(nil)
	_ adapter.CostAdapter  = (*Adapter)(nil)
)

// New returns a healthy fake adapter with an empty inventory.
func New(name string, provider models.Provider, dependsOn ...string) *Adapter {
	return &Adapter{
		name:           name,
		provider:       provider,
		dependsOn:      dependsOn,
		described:      map[string]map[string]interface{}{},
		costByNativeID: map[string]float64{},
		healthy:        true,
	}
}

// SetDiscovery replaces the discovery fixture.
func (a *Adapter) SetDiscovery(nodes []adapter.NodeInput, edges []adapter.EdgeInput) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discovery = adapter.Discovery{
		Nodes: append([]adapter.NodeInput(nil), nodes...),
		Edges: append([]adapter.EdgeInput(nil), edges...),
	}
}

// RemoveNode drops a node from the fixture, simulating resource deletion.
func (a *Adapter) RemoveNode(nativeID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.discovery.Nodes[:0]
	for _, n := range a.discovery.Nodes {
		if n.NativeID != nativeID {
			kept = append(kept, n)
		}
	}
	a.discovery.Nodes = kept
	delete(a.described, nativeID)
}

// SetDescribed scripts the Describe answer for one resource. A nil props map
// means the resource is absent.
func (a *Adapter) SetDescribed(nativeID string, props map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if props == nil {
		delete(a.described, nativeID)
		return
	}
	a.described[nativeID] = props
}

// SetCost scripts the observed monthly cost for one resource.
func (a *Adapter) SetCost(nativeID string, monthly float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.costByNativeID[nativeID] = monthly
}

// FailDiscover queues errors returned by the next Discover calls.
func (a *Adapter) FailDiscover(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discoverErrs = append(a.discoverErrs, errs...)
}

// FailDescribe queues errors returned by the next Describe calls.
func (a *Adapter) FailDescribe(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.describeErrs = append(a.describeErrs, errs...)
}

// FailMutate queues errors returned by the next Mutate calls.
func (a *Adapter) FailMutate(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mutateErrs = append(a.mutateErrs, errs...)
}

// SetMutateApplies makes successful Mutate calls update the describe fixture
// in place, so a later drift check sees the change.
func (a *Adapter) SetMutateApplies(apply bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mutateApplies = apply
}

// SetHealth scripts the health probe.
func (a *Adapter) SetHealth(ok bool, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = ok
	a.healthMessage = message
}

// Mutations returns a copy of every recorded Mutate call.
func (a *Adapter) Mutations() []Mutation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Mutation(nil), a.mutations...)
}

// DiscoverCalls returns how many times Discover ran.
func (a *Adapter) DiscoverCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discoverCalls
}

// DescribeCalls returns how many times Describe ran.
func (a *Adapter) DescribeCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.describeCalls
}

func (a *Adapter) Name() string              { return a.name }
func (a *Adapter) Provider() models.Provider { return a.provider }
func (a *Adapter) DependsOn() []string       { return a.dependsOn }

// Discover implements adapter.CloudAdapter.
func (a *Adapter) Discover(ctx context.Context, opts adapter.DiscoverOptions) (*adapter.Discovery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discoverCalls++
	if len(a.discoverErrs) > 0 {
		err := a.discoverErrs[0]
		a.discoverErrs = a.discoverErrs[1:]
		return nil, err
	}

	out := &adapter.Discovery{
		Edges: append([]adapter.EdgeInput(nil), a.discovery.Edges...),
	}
	for _, n := range a.discovery.Nodes {
		if len(opts.Regions) > 0 && !contains(opts.Regions, n.Region) {
			continue
		}
		if len(opts.ResourceTypes) > 0 && !containsType(opts.ResourceTypes, n.ResourceType) {
			continue
		}
		out.Nodes = append(out.Nodes, n)
	}
	return out, nil
}

// Describe implements adapter.CloudAdapter. Unscripted resources fall back
// to the discovery fixture's metadata; unknown ids answer absence.
func (a *Adapter) Describe(ctx context.Context, nativeID string, resourceType models.ResourceType) (map[string]interface{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.describeCalls++
	if len(a.describeErrs) > 0 {
		err := a.describeErrs[0]
		a.describeErrs = a.describeErrs[1:]
		return nil, err
	}
	if props, ok := a.described[nativeID]; ok {
		return cloneProps(props), nil
	}
	for _, n := range a.discovery.Nodes {
		if n.NativeID == nativeID {
			if n.Metadata == nil {
				return map[string]interface{}{}, nil
			}
			return cloneProps(n.Metadata), nil
		}
	}
	return nil, nil
}

// Mutate implements adapter.CloudAdapter.
func (a *Adapter) Mutate(ctx context.Context, action models.RequestAction, nativeID string, resourceType models.ResourceType, properties map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.mutateErrs) > 0 {
		err := a.mutateErrs[0]
		a.mutateErrs = a.mutateErrs[1:]
		return err
	}
	a.mutations = append(a.mutations, Mutation{
		Action:       action,
		NativeID:     nativeID,
		ResourceType: resourceType,
		Properties:   cloneProps(properties),
	})
	if a.mutateApplies {
		switch action {
		case models.ActionDelete:
			delete(a.described, nativeID)
		default:
			merged := cloneProps(a.described[nativeID])
			if merged == nil {
				merged = map[string]interface{}{}
			}
			for k, v := range properties {
				merged[k] = v
			}
			a.described[nativeID] = merged
		}
	}
	return nil
}

// HealthCheck implements adapter.CloudAdapter.
func (a *Adapter) HealthCheck(ctx context.Context) adapter.Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	return adapter.Health{OK: a.healthy, Message: a.healthMessage}
}

// ActualMonthlyCost implements adapter.CostAdapter. Unscripted resources
// report zero spend.
func (a *Adapter) ActualMonthlyCost(ctx context.Context, nativeID string, resourceType models.ResourceType) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.costByNativeID[nativeID], nil
}

// EventSource is a scriptable adapter.EventSource.
type EventSource struct {
	sourceType string
	provider   models.Provider

	mu      sync.Mutex
	events  []adapter.CloudEvent
	healthy bool
}

var _ adapter.EventSource = (*EventSource)(nil)

// NewEventSource returns a healthy fake event source with no queued events.
func NewEventSource(sourceType string, provider models.Provider) *EventSource {
	return &EventSource{sourceType: sourceType, provider: provider, healthy: true}
}

// Emit queues events for later FetchEvents calls.
func (s *EventSource) Emit(events ...adapter.CloudEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// SetHealth scripts the health probe.
func (s *EventSource) SetHealth(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = ok
}

func (s *EventSource) Type() string              { return s.sourceType }
func (s *EventSource) Provider() models.Provider { return s.provider }

// FetchEvents implements adapter.EventSource.
func (s *EventSource) FetchEvents(ctx context.Context, sinceTs time.Time) ([]adapter.CloudEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []adapter.CloudEvent
	for _, e := range s.events {
		if e.Timestamp.After(sinceTs) {
			out = append(out, e)
		}
	}
	return out, nil
}

// HealthCheck implements adapter.EventSource.
func (s *EventSource) HealthCheck(ctx context.Context) adapter.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adapter.Health{OK: s.healthy}
}

func cloneProps(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsType(set []models.ResourceType, v models.ResourceType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
