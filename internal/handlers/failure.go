package handlers

import (
	"fmt"

	"github.com/vsaizz/dash-gen/internal/config"
	"github.com/vsaizz/dash-gen/internal/history"
	"github.com/vsaizz/dash-gen/internal/log"
	"github.com/vsaizz/dash-gen/internal/loop"
	"github.com/vsaizz/dash-gen/internal/metrics"
)

// HandleExhausted performs the postmortem for a session that spent its full
// repair budget without a clean run.
//
// Sequence:
//  1. Archive the final failing source and its execution report under
//     {logsDir}/failures/{sessionID}/ so a human can pick up exactly where
//     the loop stopped. Archive faults are warnings, not errors; losing the
//     archive must not mask the exhaustion itself.
//  2. Print the session summary.
//  3. Return the exhaustion error the caller exits with. A stalled repair
//     history is named in the error since it changes what the human should
//     look at first.
func HandleExhausted(result *loop.Result, cfg *config.PipelineConfig, logsDir string) error {
	stalled := result.History.Stalled()

	dir, err := history.ArchiveFailure(logsDir, result.Session.SessionID, result.Artifact, result.Report, stalled)
	if err != nil {
		log.Warning(fmt.Sprintf("failure archive skipped: %v", err))
	} else {
		log.Info(fmt.Sprintf("failure archived to %s", dir))
	}

	metrics.PrintSessionSummary(result.Session, cfg.MaxIterations)

	if stalled {
		return fmt.Errorf("session %s: %w after %d iterations with a stalled repair loop: requires manual review",
			result.Session.SessionID, loop.ErrExhausted, result.Iterations)
	}
	return fmt.Errorf("session %s: %w after %d iterations: requires manual review",
		result.Session.SessionID, loop.ErrExhausted, result.Iterations)
}
