package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vsaizz/dash-gen/internal/llm"
	"github.com/vsaizz/dash-gen/internal/log"
	"github.com/vsaizz/dash-gen/internal/prompts"
	"github.com/vsaizz/dash-gen/internal/types"
)

// ErrDataUnavailable is returned when every validation attempt for the fetch
// script failed. The caller decides severity: fatal when the outline hard-
// requires data, degrade-and-continue otherwise.
var ErrDataUnavailable = errors.New("data unavailable: fetch script validation exhausted")

// FetchScriptName is the fixed filename the fetch script is validated and
// handed off under.
const FetchScriptName = "fetch_data.py"

// SandboxRunner is the slice of the execution sandbox the resolver needs.
type SandboxRunner interface {
	Run(ctx context.Context, source, filename string) (*types.ExecutionReport, error)
}

// Resolver decides whether the outline needs external data and, when it does,
// synthesizes and validates a data-fetch script. Validation runs the script
// through the sandbox; failures feed the diagnostic back into regeneration —
// the same repair pattern as the main loop, with its own smaller budget.
type Resolver struct {
	client llm.Client
	runner SandboxRunner
	budget int
}

// NewResolver returns a Resolver with the given nested retry budget.
func NewResolver(client llm.Client, runner SandboxRunner, budget int) *Resolver {
	return &Resolver{client: client, runner: runner, budget: budget}
}

// Resolve returns a validated DataArtifact, or (nil, nil) when the outline
// has no data capability. Each attempt generates a script, runs it once, and
// requires a clean exit with non-empty stdout (the script is instructed to
// print its row count). Exhausting the budget returns ErrDataUnavailable
// wrapped with the last diagnostic.
func (r *Resolver) Resolve(ctx context.Context, outline *types.TaskOutline) (*types.DataArtifact, error) {
	if !outline.NeedsData() {
		log.Info("outline has no data capability — skipping data resolution")
		return nil, nil
	}

	var lastDiag string
	var lastSource string

	for attempt := 1; attempt <= r.budget; attempt++ {
		source, err := r.generateScript(ctx, outline, lastSource, lastDiag)
		if err != nil {
			if isFatalInvokeErr(err) {
				return nil, err
			}
			// Empty or unusable reply: burns the attempt like a failed run.
			lastDiag = fmt.Sprintf("model produced no usable script: %v", err)
			log.Warning(fmt.Sprintf("fetch script attempt %d/%d: %s", attempt, r.budget, lastDiag))
			continue
		}

		report, err := r.runner.Run(ctx, source, FetchScriptName)
		if err != nil {
			return nil, fmt.Errorf("validate fetch script: %w", err)
		}

		if !report.Failed() && strings.TrimSpace(report.Stdout) != "" {
			log.Success(fmt.Sprintf("fetch script validated on attempt %d/%d", attempt, r.budget))
			return &types.DataArtifact{
				Source:    source,
				Report:    report,
				Validated: true,
				Attempts:  attempt,
			}, nil
		}

		lastSource = source
		lastDiag = report.Diagnostic()
		if lastDiag == "" {
			lastDiag = "script exited cleanly but produced no output — no data was fetched"
		}
		log.Warning(fmt.Sprintf("fetch script attempt %d/%d failed", attempt, r.budget))
		log.Detail(lastDiag)
	}

	return nil, fmt.Errorf("%w after %d attempts: %s", ErrDataUnavailable, r.budget, lastDiag)
}

// generateScript asks the model for a fetch script. After a failed attempt
// the previous script and its diagnostic are included so the regeneration is
// a repair, not a blind retry.
func (r *Resolver) generateScript(ctx context.Context, outline *types.TaskOutline, prevSource, prevDiag string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Capability plan:\n")
	sb.WriteString(outlineJSON(outline))
	if prevDiag != "" {
		sb.WriteString("\n\nYour previous script failed validation.")
		if prevSource != "" {
			sb.WriteString("\n\nPrevious script:\n")
			sb.WriteString(prevSource)
		}
		sb.WriteString("\n\nFailure output:\n")
		sb.WriteString(prevDiag)
		sb.WriteString("\n\nGenerate a corrected script.")
	}

	text, err := r.client.Invoke(ctx, llm.Request{
		Role:         llm.RoleResolver,
		Instructions: prompts.Resolver,
		Context:      sb.String(),
	})
	if err != nil {
		return "", err
	}
	return llm.ExtractCode(text)
}
