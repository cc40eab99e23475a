// Package agent implements the LLM-backed agents of the dash-gen pipeline:
// Planner, Resolver, Coder, and Repairer. Each agent is a thin adapter that
// builds one request for the shared llm.Client, then parses the unreliable
// reply into a typed artifact with an explicit unusable-output path.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vsaizz/dash-gen/internal/llm"
	"github.com/vsaizz/dash-gen/internal/log"
	"github.com/vsaizz/dash-gen/internal/prompts"
	"github.com/vsaizz/dash-gen/internal/types"
)

// ErrPlanningFailed is returned when the planner output remains unparsable
// after the single stricter retry. Fatal for the session.
var ErrPlanningFailed = errors.New("planning failed: outline could not be parsed")

// strictRetryNote is appended to the planner instructions on the second
// attempt after an unparsable first reply.
const strictRetryNote = "\n\nYour previous reply could not be parsed. Respond with ONLY the JSON array " +
	"described above. No prose, no markdown fences, no text before or after the array."

// Planner converts a user requirement into an ordered TaskOutline.
type Planner struct {
	client llm.Client
}

// NewPlanner returns a Planner backed by client.
func NewPlanner(client llm.Client) *Planner {
	return &Planner{client: client}
}

// Plan produces the capability outline for requirement. The requirement must
// be non-blank. An unparsable reply is retried once with stricter
// instructions; a second unparsable reply is ErrPlanningFailed. Provider
// failures and cancellation are surfaced immediately without the retry.
//
// Plan never returns an empty outline: zero parsed capabilities is treated
// the same as an unparsable reply.
func (p *Planner) Plan(ctx context.Context, requirement string) (*types.TaskOutline, error) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, fmt.Errorf("requirement must not be empty or whitespace")
	}

	outline, err := p.planOnce(ctx, requirement, prompts.Planner)
	if err == nil {
		return outline, nil
	}
	if isFatalInvokeErr(err) {
		return nil, err
	}

	log.Warning(fmt.Sprintf("planner reply unparsable (%v) — retrying once with stricter instructions", err))
	outline, err = p.planOnce(ctx, requirement, prompts.Planner+strictRetryNote)
	if err == nil {
		return outline, nil
	}
	if isFatalInvokeErr(err) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", ErrPlanningFailed, err)
}

// planOnce performs a single invoke-and-parse round.
func (p *Planner) planOnce(ctx context.Context, requirement, instructions string) (*types.TaskOutline, error) {
	text, err := p.client.Invoke(ctx, llm.Request{
		Role:         llm.RolePlanner,
		Instructions: instructions,
		Context:      requirement,
	})
	if err != nil {
		return nil, err
	}

	caps, err := parseOutline(text)
	if err != nil {
		return nil, err
	}
	return &types.TaskOutline{Requirement: requirement, Capabilities: caps}, nil
}

// parseOutline decodes the planner reply into capabilities. The reply may
// arrive fenced despite the instructions; ExtractCode normalizes both forms.
func parseOutline(text string) ([]types.Capability, error) {
	body, err := llm.ExtractCode(text)
	if err != nil {
		return nil, err
	}

	var caps []types.Capability
	if err := json.Unmarshal([]byte(body), &caps); err != nil {
		return nil, fmt.Errorf("decode outline JSON: %w", err)
	}

	// Drop blank statements; reject an effectively empty outline.
	kept := caps[:0]
	for _, c := range caps {
		if strings.TrimSpace(c.Statement) == "" {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("outline contains no usable capabilities")
	}
	return kept, nil
}

// isFatalInvokeErr reports whether err must abort the stage without a local
// retry: provider/auth failures and context cancellation. Malformed or empty
// replies are retryable at the stage's discretion.
func isFatalInvokeErr(err error) bool {
	return errors.Is(err, llm.ErrProviderUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// outlineJSON renders the capability list as indented JSON for downstream
// agent payloads.
func outlineJSON(outline *types.TaskOutline) string {
	data, err := json.MarshalIndent(outline.Capabilities, "", "  ")
	if err != nil {
		// Capabilities are plain strings; marshalling cannot realistically
		// fail, but a prompt payload must never be empty.
		return fmt.Sprintf("%+v", outline.Capabilities)
	}
	return string(data)
}
