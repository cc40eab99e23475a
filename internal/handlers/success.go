// Package handlers implements the terminal-outcome handlers for the
// generation loop: the success handoff and the exhaustion postmortem. Each
// handler receives the loop Result and performs the full response sequence
// for its outcome.
package handlers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vsaizz/dash-gen/internal/config"
	"github.com/vsaizz/dash-gen/internal/log"
	"github.com/vsaizz/dash-gen/internal/loop"
	"github.com/vsaizz/dash-gen/internal/metrics"
)

// HandleSucceeded performs the success handoff.
//
// Sequence:
//  1. Write the final artifact source to its handoff path. The sandbox left
//     the last executed version on disk, but a review pass may have produced
//     a newer source that was never executed-to-disk, so the write is
//     unconditional.
//  2. Print the session summary.
//  3. Print the launch command for the generated dashboard. The dashboard is
//     never launched here; running a long-lived UI server is the user's call.
func HandleSucceeded(result *loop.Result, cfg *config.PipelineConfig) error {
	artifactPath := result.Session.ArtifactPath
	if err := os.MkdirAll(filepath.Dir(artifactPath), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(artifactPath, []byte(result.Artifact.Source), 0o644); err != nil {
		return fmt.Errorf("write final artifact: %w", err)
	}
	log.Success(fmt.Sprintf("dashboard written to %s (v%d, %d repair iterations)",
		artifactPath, result.Artifact.Version, result.Iterations))

	if result.Data != nil {
		log.Info(fmt.Sprintf("validated data script at %s (%d attempts)",
			result.Session.DataScriptPath, result.Data.Attempts))
	}

	metrics.PrintSessionSummary(result.Session, cfg.MaxIterations)

	log.Info("launch the dashboard with:")
	log.Detail("streamlit run " + artifactPath)
	return nil
}
