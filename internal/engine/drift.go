package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
)

// DriftSeverity ranks how dangerous a drifted property is.
type DriftSeverity string

const (
	SeverityCritical DriftSeverity = "critical"
	SeverityMedium   DriftSeverity = "medium"
)

// criticalFields are the properties whose drift is always critical.
var criticalFields = map[string]bool{
	"encryption":         true,
	"publicaccess":       true,
	"publiclyaccessible": true,
	"deletionprotection": true,
}

// SeverityForPath ranks a drifted property path.
func SeverityForPath(path string) DriftSeverity {
	leaf := path
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		leaf = path[idx+1:]
	}
	if criticalFields[strings.ToLower(leaf)] {
		return SeverityCritical
	}
	return SeverityMedium
}

// PropertyDiff is one drifted property.
type PropertyDiff struct {
	Path     string        `json:"path"`
	Expected interface{}   `json:"expected"`
	Actual   interface{}   `json:"actual"`
	Severity DriftSeverity `json:"severity"`
}

// CompareProperties deep-compares expected against actual and returns one
// entry per drifted path. Paths are dotted map keys.
func CompareProperties(expected, actual map[string]interface{}) []PropertyDiff {
	var r diffReporter
	cmp.Equal(expected, actual, cmp.Reporter(&r))
	return r.diffs
}

// diffReporter collects leaf-level differences from a cmp walk.
type diffReporter struct {
	path  cmp.Path
	diffs []PropertyDiff
}

func (r *diffReporter) PushStep(ps cmp.PathStep) { r.path = append(r.path, ps) }
func (r *diffReporter) PopStep()                 { r.path = r.path[:len(r.path)-1] }

func (r *diffReporter) Report(rs cmp.Result) {
	if rs.Equal() {
		return
	}
	vx, vy := r.path.Last().Values()
	path := pathString(r.path)
	var expected, actual interface{}
	if vx.IsValid() {
		expected = vx.Interface()
	}
	if vy.IsValid() {
		actual = vy.Interface()
	}
	r.diffs = append(r.diffs, PropertyDiff{
		Path:     path,
		Expected: expected,
		Actual:   actual,
		Severity: SeverityForPath(path),
	})
}

func pathString(path cmp.Path) string {
	var parts []string
	for _, step := range path {
		switch s := step.(type) {
		case cmp.MapIndex:
			parts = append(parts, fmt.Sprintf("%v", s.Key().Interface()))
		case cmp.SliceIndex:
			parts = append(parts, fmt.Sprintf("%d", s.Key()))
		}
	}
	return strings.Join(parts, ".")
}

// NodeDrift pairs a node with its drifted properties.
type NodeDrift struct {
	Node    models.Node    `json:"node"`
	Changes []PropertyDiff `json:"changes"`
}

// DriftReport is the outcome of one drift scan.
type DriftReport struct {
	DriftedNodes     []NodeDrift `json:"driftedNodes"`
	DisappearedNodes []string    `json:"disappearedNodes"`
}

// DetectDrift compares stored node metadata against live adapter state for
// every known node of the given provider (empty = every provider with a
// registered adapter). Drifted nodes get node-drifted changes appended;
// per-node describe failures are contained.
func (e *Engine) DetectDrift(ctx context.Context, provider models.Provider) (*DriftReport, error) {
	filter := &models.NodeFilter{}
	if provider != "" {
		filter.Provider = provider
	}
	nodes, err := e.store.QueryNodes(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{DriftedNodes: []NodeDrift{}, DisappearedNodes: []string{}}
	for _, n := range nodes {
		a := e.AdapterFor(n.Provider)
		if a == nil {
			continue
		}
		props, err := adapter.DescribeWithRetry(ctx, a, n.NativeID, n.ResourceType)
		if err != nil {
			e.logger.WarnWithFields("drift probe failed",
				logging.Field("node_id", n.ID),
				logging.Field("error", err.Error()),
			)
			continue
		}
		if props == nil {
			report.DisappearedNodes = append(report.DisappearedNodes, n.ID)
			continue
		}

		diffs := CompareProperties(n.Metadata, props)
		if len(diffs) == 0 {
			continue
		}
		report.DriftedNodes = append(report.DriftedNodes, NodeDrift{Node: n, Changes: diffs})

		changes := make([]models.Change, 0, len(diffs))
		for _, d := range diffs {
			changes = append(changes, models.Change{
				TargetID:      n.ID,
				ChangeType:    models.ChangeNodeDrifted,
				Field:         d.Path,
				PreviousValue: fmt.Sprintf("%v", d.Expected),
				NewValue:      fmt.Sprintf("%v", d.Actual),
				DetectedVia:   models.DetectedViaFullScan,
				InitiatorType: models.InitiatorSystem,
			})
		}
		if err := e.store.AppendChanges(ctx, changes); err != nil {
			return nil, err
		}
	}
	return report, nil
}
