package importexport

import "time"

// Report summarizes one export or import run.
type Report struct {
	// Nodes and Edges are the counts written (or, for a dry run, the counts
	// that would be written).
	Nodes int
	Edges int

	// NodesSkipped counts nodes left untouched by SkipExisting.
	NodesSkipped int

	// EdgesSkipped counts edges dropped for missing endpoints.
	EdgesSkipped int

	Errors   []string
	Duration time.Duration
}
