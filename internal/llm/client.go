// Package llm provides the agent client: a thin, stateless adapter that sends
// a structured request (role, context, instructions) to a language-model
// provider and returns the raw text response. Every agent in the pipeline
// goes through this one call shape; the non-determinism of the output is the
// caller's problem, the shape of the call is not.
package llm

import (
	"context"
	"errors"
)

// Role tags a request with the agent it originates from. Roles select the
// model and label transcripts; they never branch behavior inside the client.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleResolver Role = "resolver"
	RoleCoder    Role = "coder"
	RoleRepairer Role = "repairer"
)

// Request is the single call shape accepted by a Client.
type Request struct {
	// Role selects the model configured for the requesting agent.
	Role Role
	// Instructions is the system-level prompt describing the agent's job.
	Instructions string
	// Context is the payload the agent reasons over: outline, source code,
	// diagnostics. Arbitrary text; the client never inspects it.
	Context string
}

// ErrProviderUnavailable indicates a network or auth failure talking to the
// provider. Never retried by the client; surfaced to the session caller.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// ErrEmptyResponse indicates the provider answered but produced no usable
// text. Callers treat this as a stage failure, not a crash.
var ErrEmptyResponse = errors.New("empty response from llm provider")

// Client is the provider boundary. Implementations must be safe for
// sequential reuse across stages; concurrent calls within one session are
// never made.
type Client interface {
	// Invoke sends one request and returns the raw text response. The call
	// blocks until the provider answers, ctx is cancelled, or the transport
	// fails. Failure modes: ErrProviderUnavailable (wrapped), ErrEmptyResponse,
	// or ctx.Err() on cancellation.
	Invoke(ctx context.Context, req Request) (string, error)
}
