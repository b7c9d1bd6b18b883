package reconciler

import (
	"context"
	"sync"

	"github.com/moorhen/cartograph/internal/logging"
)

// Report is the per-cycle summary published to the sink.
type Report struct {
	PlanID         string `json:"planId"`
	ExecutionID    string `json:"executionId"`
	DriftCount     int    `json:"driftCount"`
	ViolationCount int    `json:"violationCount"`
	AnomalyCount   int    `json:"anomalyCount"`
	Message        string `json:"message"`
}

// ReportSink receives reconcile reports. Implementations may forward to a
// topic or queue; delivery failures never fail the cycle.
type ReportSink interface {
	Publish(ctx context.Context, report Report) error
}

// LogSink writes reports to the structured log.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink returns the default in-process sink.
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.GetLogger("reconciler.report")}
}

// Publish implements ReportSink.
func (s *LogSink) Publish(ctx context.Context, report Report) error {
	s.logger.InfoWithFields("reconcile report",
		logging.Field("plan_id", report.PlanID),
		logging.Field("execution_id", report.ExecutionID),
		logging.Field("drifts", report.DriftCount),
		logging.Field("violations", report.ViolationCount),
		logging.Field("anomalies", report.AnomalyCount),
		logging.Field("message", report.Message),
	)
	return nil
}

// MemorySink captures reports for tests and in-process consumers.
type MemorySink struct {
	mu      sync.Mutex
	reports []Report
}

// NewMemorySink returns an empty capturing sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Publish implements ReportSink.
func (s *MemorySink) Publish(ctx context.Context, report Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// Reports returns a copy of everything published so far.
func (s *MemorySink) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report(nil), s.reports...)
}
