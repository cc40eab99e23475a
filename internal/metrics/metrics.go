// Package metrics provides stage metric recording and session summary
// reporting for the dash-gen pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/vsaizz/dash-gen/internal/types"
)

// RecordStageMetric appends a StageMetric for the completed pipeline stage to
// session.Metrics.Stages and refreshes the total.
//
// Metric recording is non-fatal by design: callers never fail a session over
// a metrics problem.
func RecordStageMetric(session *types.SessionState, stage types.Status, duration time.Duration) {
	metric := types.StageMetric{
		Stage:           string(stage),
		DurationSeconds: int(duration.Seconds()),
		CompletedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	session.Metrics.Stages = append(session.Metrics.Stages, metric)
	UpdateMetricTotals(session)
}

// UpdateMetricTotals recalculates TotalDurationSeconds from the full stage
// slice. It overwrites any previously stored total, making it safe to call
// multiple times.
func UpdateMetricTotals(session *types.SessionState) {
	total := 0
	for _, s := range session.Metrics.Stages {
		total += s.DurationSeconds
	}
	session.Metrics.TotalDurationSeconds = total
}

// PrintSessionSummary prints a box-draw table to stdout summarizing the
// finished session: terminal status, repair iterations used, per-stage wall
// time, and the total.
func PrintSessionSummary(session *types.SessionState, maxIterations int) {
	const line = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"
	fmt.Printf("\n%s\n", line)
	fmt.Println("SESSION SUMMARY")
	fmt.Printf("%s\n", line)
	fmt.Printf("  %-22s %s\n", "Status:", session.Status)
	fmt.Printf("  %-22s %d of %d\n", "Repair Iterations:", session.Iteration, maxIterations)
	for _, s := range session.Metrics.Stages {
		fmt.Printf("  %-22s %s\n", s.Stage+":", formatDuration(s.DurationSeconds))
	}
	fmt.Printf("  %-22s %s\n", "Total Time:", formatDuration(session.Metrics.TotalDurationSeconds))
	fmt.Printf("%s\n\n", line)
}

// formatDuration converts a duration in seconds to a human-readable string.
// Examples: "0s", "45s", "3m 15s", "1h 2m 30s".
func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
