package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/vsaizz/dash-gen/internal/llm"
	"github.com/vsaizz/dash-gen/internal/prompts"
	"github.com/vsaizz/dash-gen/internal/types"
)

// Coder synthesizes the complete dashboard source from the outline and the
// validated data artifact. Pure synthesis: no execution happens here.
type Coder struct {
	client llm.Client
}

// NewCoder returns a Coder backed by client.
func NewCoder(client llm.Client) *Coder {
	return &Coder{client: client}
}

// Generate produces the first CodeArtifact (version 1). data may be nil when
// the outline needs no external data. An empty or unusable reply is fatal for
// this stage — there is nothing to hand to the sandbox without candidate
// code.
func (c *Coder) Generate(ctx context.Context, outline *types.TaskOutline, data *types.DataArtifact) (*types.CodeArtifact, error) {
	var sb strings.Builder
	sb.WriteString("Capability plan:\n")
	sb.WriteString(outlineJSON(outline))
	sb.WriteString("\n\n")
	if data != nil {
		sb.WriteString("Verified data fetch script:\n")
		sb.WriteString(data.Source)
	} else {
		sb.WriteString("No external data is required; the dashboard must work from the plan alone.")
	}

	text, err := c.client.Invoke(ctx, llm.Request{
		Role:         llm.RoleCoder,
		Instructions: prompts.Coder,
		Context:      sb.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("generate dashboard code: %w", err)
	}

	source, err := llm.ExtractCode(text)
	if err != nil {
		return nil, fmt.Errorf("generate dashboard code: %w", err)
	}

	return &types.CodeArtifact{Source: source, Version: 1}, nil
}
