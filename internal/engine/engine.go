// Package engine orchestrates discovery syncs and exposes the high-level
// graph queries: blast radius, dependency chains, drift detection, cost
// rollups and stats.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
	"github.com/moorhen/cartograph/internal/store"
)

const (
	// DefaultFanOut bounds concurrent adapter discoveries in one cycle.
	DefaultFanOut = 4

	// disappearanceThreshold is the consecutive-miss count after which a
	// node is declared disappeared. Constant for now.
	disappearanceThreshold = 2

	statsCacheKey = "graph-stats"
)

// Options configures an Engine.
type Options struct {
	// FanOut bounds concurrent adapter discoveries. Defaults to DefaultFanOut.
	FanOut int
	// StatsTTL caps staleness of the memoized stats between syncs.
	StatsTTL time.Duration
}

// Engine coordinates adapters and the graph store.
type Engine struct {
	store  store.Store
	fanOut int
	logger *logging.Logger

	mu       sync.Mutex
	adapters map[string]adapter.CloudAdapter
	misses   map[string]int // node id -> consecutive sync misses

	statsCache *gocache.Cache
	onSync     []func()
}

// New returns an engine over the given store.
func New(st store.Store, opts Options) *Engine {
	if opts.FanOut <= 0 {
		opts.FanOut = DefaultFanOut
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 5 * time.Minute
	}
	return &Engine{
		store:      st,
		fanOut:     opts.FanOut,
		logger:     logging.GetLogger("engine"),
		adapters:   map[string]adapter.CloudAdapter{},
		misses:     map[string]int{},
		statsCache: gocache.New(opts.StatsTTL, opts.StatsTTL),
	}
}

// Store exposes the underlying graph store to callers that need raw access.
func (e *Engine) Store() store.Store { return e.store }

// RegisterAdapter adds an adapter. Registering the same name twice replaces
// the previous instance.
func (e *Engine) RegisterAdapter(a adapter.CloudAdapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[a.Name()] = a
}

// AdapterFor returns the registered adapter for a provider, or nil.
func (e *Engine) AdapterFor(provider models.Provider) adapter.CloudAdapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.adapters {
		if a.Provider() == provider {
			return a
		}
	}
	return nil
}

// OnSyncComplete registers a hook invoked after every sync cycle, used for
// cache invalidation.
func (e *Engine) OnSyncComplete(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSync = append(e.onSync, fn)
}

// SyncOptions narrows a sync cycle.
type SyncOptions struct {
	// Providers restricts the cycle to specific providers. Empty = all.
	Providers []models.Provider
	// Discover narrows each adapter's discovery pass.
	Discover adapter.DiscoverOptions
}

type discoveryResult struct {
	adapter   adapter.CloudAdapter
	discovery *adapter.Discovery
	record    models.SyncRecord
	err       error
}

// Sync runs one discovery cycle: adapters discover concurrently (bounded
// fan-out), results are upserted in adapter-dependency order with all nodes
// before any edge, then unseen known nodes are probed for disappearance.
// One adapter failing does not abort the others. Returns one sync record per
// adapter that ran.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) ([]models.SyncRecord, error) {
	ordered, err := e.orderedAdapters(opts.Providers)
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return nil, nil
	}

	results := make([]*discoveryResult, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(e.fanOut))
	for i, a := range ordered {
		g.Go(func() error {
			res := &discoveryResult{adapter: a}
			res.record = models.SyncRecord{
				ID:        uuid.NewString(),
				Provider:  a.Provider(),
				StartedAt: time.Now(),
				Status:    models.SyncRunning,
			}
			results[i] = res

			if err := sem.Acquire(gctx, 1); err != nil {
				res.err = err
				return nil
			}
			defer sem.Release(1)

			res.discovery, res.err = adapter.DiscoverWithRetry(gctx, a, opts.Discover)
			return nil
		})
	}
	// Discovery errors are contained per adapter; the group never fails.
	_ = g.Wait()

	// Phase 1: nodes, in dependency order so cross-adapter edge endpoints
	// exist before phase 2.
	for _, res := range results {
		if res.err != nil || res.discovery == nil {
			continue
		}
		nodes := make([]models.Node, 0, len(res.discovery.Nodes))
		for _, in := range res.discovery.Nodes {
			nodes = append(nodes, in.Node())
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
		res.record.NodesDiscovered = len(nodes)
		res.record.NodesDrifted, err = e.countDrifted(ctx, nodes)
		if err == nil {
			err = e.store.UpsertNodes(ctx, nodes)
		}
		if err != nil {
			res.err = err
			continue
		}
	}

	// Phase 2: edges.
	for _, res := range results {
		if res.err != nil || res.discovery == nil {
			continue
		}
		edges := make([]models.Edge, 0, len(res.discovery.Edges))
		for _, in := range res.discovery.Edges {
			edges = append(edges, in.Edge())
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
		if err := e.store.UpsertEdges(ctx, edges); err != nil {
			res.err = err
		}
	}

	// Phase 3: disappearance confirmation for known nodes not seen.
	records := make([]models.SyncRecord, 0, len(results))
	for _, res := range results {
		rec := res.record
		if res.err == nil && res.discovery != nil {
			disappeared, derr := e.confirmDisappearances(ctx, res.adapter, res.discovery)
			if derr != nil {
				res.err = derr
			}
			rec.NodesDisappeared = disappeared
		}

		rec.CompletedAt = time.Now()
		switch {
		case res.err != nil && ctx.Err() != nil:
			rec.Status = models.SyncPartial
			rec.Error = res.err.Error()
		case res.err != nil:
			rec.Status = models.SyncFailed
			rec.Error = res.err.Error()
		default:
			rec.Status = models.SyncCompleted
		}
		if err := e.store.PutSyncRecord(ctx, rec); err != nil {
			return records, fmt.Errorf("failed to persist sync record: %w", err)
		}
		e.logger.InfoWithFields("sync finished",
			logging.Field("provider", string(rec.Provider)),
			logging.Field("status", string(rec.Status)),
			logging.Field("discovered", rec.NodesDiscovered),
			logging.Field("drifted", rec.NodesDrifted),
			logging.Field("disappeared", rec.NodesDisappeared),
		)
		records = append(records, rec)
	}

	e.statsCache.Delete(statsCacheKey)
	e.mu.Lock()
	hooks := append([]func(){}, e.onSync...)
	e.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return records, nil
}

// countDrifted counts discovered nodes whose stored payload differs.
func (e *Engine) countDrifted(ctx context.Context, nodes []models.Node) (int, error) {
	drifted := 0
	for i := range nodes {
		existing, err := e.store.GetNode(ctx, nodes[i].ID)
		if err != nil {
			return drifted, err
		}
		if existing == nil {
			continue
		}
		prev, err := store.NodePayloadHash(existing)
		if err != nil {
			return drifted, err
		}
		next, err := store.NodePayloadHash(&nodes[i])
		if err != nil {
			return drifted, err
		}
		if prev != next {
			drifted++
		}
	}
	return drifted, nil
}

// confirmDisappearances probes known nodes of the adapter's provider that
// this discovery did not mention. A node is declared disappeared only after
// two consecutive missed cycles with describe confirming absence.
func (e *Engine) confirmDisappearances(ctx context.Context, a adapter.CloudAdapter, disc *adapter.Discovery) (int, error) {
	seen := make(map[string]bool, len(disc.Nodes))
	for _, in := range disc.Nodes {
		seen[in.Node().ID] = true
	}

	known, err := e.store.QueryNodes(ctx, &models.NodeFilter{Provider: a.Provider()})
	if err != nil {
		return 0, err
	}

	disappeared := 0
	for _, n := range known {
		if seen[n.ID] {
			e.clearMiss(n.ID)
			continue
		}
		if n.Status == models.StatusUnknown {
			continue // already declared
		}

		props, err := adapter.DescribeWithRetry(ctx, a, n.NativeID, n.ResourceType)
		if err != nil {
			// Contained: an unreachable describe never declares death.
			e.logger.WarnWithFields("disappearance probe failed",
				logging.Field("node_id", n.ID),
				logging.Field("error", err.Error()),
			)
			continue
		}
		if props != nil {
			e.clearMiss(n.ID)
			continue
		}

		if e.recordMiss(n.ID) < disappearanceThreshold {
			continue
		}
		e.clearMiss(n.ID)
		disappeared++
		gone := n
		gone.Status = models.StatusUnknown
		if err := e.store.UpsertNodes(ctx, []models.Node{gone}); err != nil {
			return disappeared, err
		}
		if err := e.store.AppendChanges(ctx, []models.Change{{
			TargetID:      n.ID,
			ChangeType:    models.ChangeNodeDisappeared,
			DetectedVia:   models.DetectedViaSync,
			InitiatorType: models.InitiatorSystem,
		}}); err != nil {
			return disappeared, err
		}
	}
	return disappeared, nil
}

func (e *Engine) recordMiss(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.misses[id]++
	return e.misses[id]
}

func (e *Engine) clearMiss(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.misses, id)
}

// orderedAdapters topologically sorts registered adapters by their DependsOn
// declarations, restricted to the requested providers. Ties break by name so
// ordering is deterministic. Cycles are rejected.
func (e *Engine) orderedAdapters(providers []models.Provider) ([]adapter.CloudAdapter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wanted := func(a adapter.CloudAdapter) bool {
		if len(providers) == 0 {
			return true
		}
		for _, p := range providers {
			if a.Provider() == p {
				return true
			}
		}
		return false
	}

	names := make([]string, 0, len(e.adapters))
	for name, a := range e.adapters {
		if wanted(a) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	inDegree := map[string]int{}
	dependents := map[string][]string{}
	selected := map[string]bool{}
	for _, name := range names {
		selected[name] = true
		inDegree[name] = 0
	}
	for _, name := range names {
		for _, dep := range e.adapters[name].DependsOn() {
			if !selected[dep] {
				continue // dependency outside this cycle's scope
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	var ordered []adapter.CloudAdapter
	for len(queue) > 0 {
		sort.Strings(queue)
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, e.adapters[name])
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(ordered) != len(names) {
		return nil, fmt.Errorf("adapter dependency cycle detected")
	}
	return ordered, nil
}
