package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/vsaizz/dash-gen/internal/llm"
	"github.com/vsaizz/dash-gen/internal/log"
	"github.com/vsaizz/dash-gen/internal/prompts"
	"github.com/vsaizz/dash-gen/internal/types"
)

// Repairer revises a failing CodeArtifact using the diagnostics from its last
// sandboxed run. It also offers a Review pass for hardening an already-clean
// artifact; the core loop never calls Review on failures.
type Repairer struct {
	client llm.Client
}

// NewRepairer returns a Repairer backed by client.
func NewRepairer(client llm.Client) *Repairer {
	return &Repairer{client: client}
}

// Repair produces the next artifact version from the failing source and its
// execution report. An empty or unusable reply is NOT an error: the previous
// source is carried forward under a new version number, so the controller
// counts the iteration as non-convergence instead of special-casing a stall.
// Provider failures and cancellation are surfaced.
func (r *Repairer) Repair(ctx context.Context, artifact *types.CodeArtifact, report *types.ExecutionReport, iteration int) (*types.CodeArtifact, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repair attempt %d.\n\nCurrent script:\n%s\n", iteration, artifact.Source)
	sb.WriteString("\nOutput from running this script:\n")
	if out := strings.TrimSpace(report.Stdout); out != "" {
		sb.WriteString("STDOUT:\n" + out + "\n")
	}
	sb.WriteString("STDERR:\n" + report.Diagnostic() + "\n")

	text, err := r.client.Invoke(ctx, llm.Request{
		Role:         llm.RoleRepairer,
		Instructions: prompts.Repair,
		Context:      sb.String(),
	})
	if err != nil {
		if isFatalInvokeErr(err) {
			return nil, err
		}
		log.Warning(fmt.Sprintf("repair reply unusable (%v) — carrying previous source forward", err))
		return &types.CodeArtifact{Source: artifact.Source, Version: artifact.Version + 1}, nil
	}

	source, err := llm.ExtractCode(text)
	if err != nil {
		log.Warning(fmt.Sprintf("repair reply unusable (%v) — carrying previous source forward", err))
		return &types.CodeArtifact{Source: artifact.Source, Version: artifact.Version + 1}, nil
	}

	return &types.CodeArtifact{Source: source, Version: artifact.Version + 1}, nil
}

// Review performs the optimizer pass on a clean artifact: robustness
// hardening without behavior changes. An unusable reply returns the artifact
// unchanged — a failed review must never cost the caller a working script.
func (r *Repairer) Review(ctx context.Context, artifact *types.CodeArtifact) (*types.CodeArtifact, error) {
	text, err := r.client.Invoke(ctx, llm.Request{
		Role:         llm.RoleRepairer,
		Instructions: prompts.Review,
		Context:      "Current script:\n" + artifact.Source,
	})
	if err != nil {
		if isFatalInvokeErr(err) {
			return nil, err
		}
		log.Warning(fmt.Sprintf("review reply unusable (%v) — keeping script as-is", err))
		return artifact, nil
	}

	source, err := llm.ExtractCode(text)
	if err != nil {
		log.Warning(fmt.Sprintf("review reply unusable (%v) — keeping script as-is", err))
		return artifact, nil
	}
	if source == artifact.Source {
		return artifact, nil
	}
	return &types.CodeArtifact{Source: source, Version: artifact.Version + 1}, nil
}
