package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// agentTemperature is used for every call. Low enough to keep generated code
// structurally consistent between repair iterations.
const agentTemperature = 0.3

// ModelTable maps each agent role to the provider model it calls.
type ModelTable map[Role]string

// OpenAIClient implements Client against the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
	models ModelTable
}

// NewOpenAIClient builds a client using the OPENAI_API_KEY environment
// variable. A missing key is reported as ErrProviderUnavailable so the run
// command can fail before any pipeline work starts.
func NewOpenAIClient(models ModelTable) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY environment variable not set", ErrProviderUnavailable)
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		models: models,
	}, nil
}

// Invoke sends one chat completion request: instructions as the system
// message, context as the user message. Transport and auth errors wrap
// ErrProviderUnavailable and are never retried here. An answer with no
// choices or blank content is ErrEmptyResponse.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (string, error) {
	model, ok := c.models[req.Role]
	if !ok || model == "" {
		return "", fmt.Errorf("no model configured for role %q", req.Role)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: agentTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Instructions},
			{Role: openai.ChatMessageRoleUser, Content: req.Context},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s call for role %s: %v", ErrProviderUnavailable, model, req.Role, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: provider returned no choices", ErrEmptyResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: provider returned a blank choice", ErrEmptyResponse)
	}
	return content, nil
}
