// Package integration contains the end-to-end smoke tests for the dash-gen
// pipeline. The tests drive the real loop controller, agents, and sandbox;
// only the LLM provider is replaced by a scripted client, and the sandbox
// interpreter is sh so the suite runs anywhere without python.
//
// Run with: go test ./integration/... -v -timeout 60s
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsaizz/dash-gen/internal/agent"
	"github.com/vsaizz/dash-gen/internal/config"
	"github.com/vsaizz/dash-gen/internal/handlers"
	"github.com/vsaizz/dash-gen/internal/llm"
	"github.com/vsaizz/dash-gen/internal/loop"
	"github.com/vsaizz/dash-gen/internal/sandbox"
	"github.com/vsaizz/dash-gen/internal/state"
	"github.com/vsaizz/dash-gen/internal/types"
)

// scriptedClient replays canned replies per role, in order. The last reply of
// a role repeats once the script runs out.
type scriptedClient struct {
	replies map[llm.Role][]string
	idx     map[llm.Role]int
}

func newScriptedClient(replies map[llm.Role][]string) *scriptedClient {
	return &scriptedClient{replies: replies, idx: map[llm.Role]int{}}
}

func (c *scriptedClient) Invoke(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	list := c.replies[req.Role]
	if len(list) == 0 {
		return "", llm.ErrEmptyResponse
	}
	i := c.idx[req.Role]
	if i >= len(list) {
		i = len(list) - 1
	}
	c.idx[req.Role]++
	return list[i], nil
}

const outlineWithData = `[
  {"statement": "load sample rows from the data source", "kind": "data"},
  {"statement": "render the rows as a table", "kind": "display"}
]`

const outlineDisplayOnly = `[{"statement": "render a static chart", "kind": "display"}]`

// fenced wraps a script body in a markdown code fence, the shape real model
// replies usually arrive in.
func fenced(body string) string {
	return "```python\n" + body + "\n```"
}

func smokeConfig(t *testing.T) *config.PipelineConfig {
	t.Helper()
	return &config.PipelineConfig{
		PythonCommand:         "sh",
		MaxIterations:         3,
		SandboxTimeoutSeconds: 10,
		DataRetryBudget:       2,
		Workdir:               t.TempDir(),
	}
}

func newPipeline(cfg *config.PipelineConfig, client llm.Client, review bool) *loop.Controller {
	runner := sandbox.NewRunner(cfg.PythonCommand, cfg.Workdir, cfg.SandboxTimeout())
	return loop.NewController(cfg, loop.Deps{
		Planner:  agent.NewPlanner(client),
		Resolver: agent.NewResolver(client, runner, cfg.DataRetryBudget),
		Coder:    agent.NewCoder(client),
		Repairer: agent.NewRepairer(client),
		Sandbox:  runner,
	}, review)
}

// TestSmokeRepairThenSuccess drives the full pipeline through its canonical
// arc: plan with a data capability, validate the fetch script, generate a
// failing candidate, repair it once, and hand off the working script.
func TestSmokeRepairThenSuccess(t *testing.T) {
	cfg := smokeConfig(t)
	client := newScriptedClient(map[llm.Role][]string{
		llm.RolePlanner:  {outlineWithData},
		llm.RoleResolver: {fenced(`echo "5 rows fetched"`)},
		llm.RoleCoder:    {fenced(`echo "name is not defined" >&2; exit 1`)},
		llm.RoleRepairer: {fenced(`echo "dashboard ready"`)},
	})
	ctrl := newPipeline(cfg, client, false)

	result, err := ctrl.Run(context.Background(), "show a table of sample rows")
	require.NoError(t, err)

	assert.Equal(t, types.StatusSucceeded, result.Status)
	assert.Equal(t, 1, result.Iterations)
	require.Len(t, result.History, 2)
	assert.True(t, result.History[0].TimedOut == false && result.History[0].ExitStatus == 1)
	assert.Equal(t, 0, result.History[1].ExitStatus)

	require.NotNil(t, result.Data)
	assert.True(t, result.Data.Validated)
	assert.Contains(t, result.Data.Report.Stdout, "5 rows fetched")

	require.NoError(t, handlers.HandleSucceeded(result, cfg))

	// Handoff artifacts on disk.
	artifact, err := os.ReadFile(filepath.Join(cfg.Workdir, loop.DashboardFileName))
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "dashboard ready")
	fetch, err := os.ReadFile(filepath.Join(cfg.Workdir, agent.FetchScriptName))
	require.NoError(t, err)
	assert.Contains(t, string(fetch), "5 rows fetched")

	// Provenance on disk.
	session, err := state.LoadSession(state.Path(cfg.Workdir))
	require.NoError(t, err)
	assert.Equal(t, types.StatusSucceeded, session.Status)
	assert.Equal(t, 1, session.Iteration)
	require.NotNil(t, session.CompletedAt)

	logData, err := os.ReadFile(filepath.Join(ctrl.LogsDir(), "SESSION_LOG.md"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "- attempt 1:")
	assert.Contains(t, string(logData), "- attempt 2:")
}

// TestSmokeCleanFirstRun verifies the no-repair fast path: a display-only
// outline skips data resolution entirely and the first execution succeeds.
func TestSmokeCleanFirstRun(t *testing.T) {
	cfg := smokeConfig(t)
	client := newScriptedClient(map[llm.Role][]string{
		llm.RolePlanner: {outlineDisplayOnly},
		llm.RoleCoder:   {fenced(`echo "chart rendered"`)},
	})
	ctrl := newPipeline(cfg, client, false)

	result, err := ctrl.Run(context.Background(), "show a static chart")
	require.NoError(t, err)

	assert.Equal(t, types.StatusSucceeded, result.Status)
	assert.Equal(t, 0, result.Iterations)
	assert.Nil(t, result.Data)
	require.Len(t, result.History, 1)

	// fetch_data.py must not exist — no data capability was planned.
	_, statErr := os.Stat(filepath.Join(cfg.Workdir, agent.FetchScriptName))
	assert.True(t, os.IsNotExist(statErr))
}

// TestSmokeExhaustion verifies the bounded-repair guarantee end to end: a
// candidate that never stops failing burns exactly MaxIterations repairs,
// then the postmortem archives the final attempt.
func TestSmokeExhaustion(t *testing.T) {
	cfg := smokeConfig(t)
	client := newScriptedClient(map[llm.Role][]string{
		llm.RolePlanner: {outlineDisplayOnly},
		llm.RoleCoder:   {fenced(`echo "broken v1" >&2; exit 1`)},
		llm.RoleRepairer: {
			fenced(`echo "broken v2" >&2; exit 1`),
			fenced(`echo "broken v3" >&2; exit 1`),
			fenced(`echo "broken v4" >&2; exit 1`),
		},
	})
	ctrl := newPipeline(cfg, client, false)

	result, err := ctrl.Run(context.Background(), "show a static chart")
	require.NoError(t, err)

	assert.Equal(t, types.StatusFailedExhausted, result.Status)
	assert.Equal(t, cfg.MaxIterations, result.Iterations)
	assert.Len(t, result.History, cfg.MaxIterations+1)
	assert.False(t, result.History.Stalled())

	err = handlers.HandleExhausted(result, cfg, ctrl.LogsDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual review")

	archived, readErr := os.ReadFile(filepath.Join(ctrl.LogsDir(), "failures", result.Session.SessionID, "dashboard_last_attempt.py"))
	require.NoError(t, readErr)
	assert.Contains(t, string(archived), "broken v4")
}

// TestSmokeTimeoutIsRepairable verifies that a hanging candidate comes back
// as a timed-out report and feeds the repair loop instead of wedging it.
func TestSmokeTimeoutIsRepairable(t *testing.T) {
	cfg := smokeConfig(t)
	cfg.SandboxTimeoutSeconds = 1
	client := newScriptedClient(map[llm.Role][]string{
		llm.RolePlanner:  {outlineDisplayOnly},
		llm.RoleCoder:    {fenced(`sleep 30`)},
		llm.RoleRepairer: {fenced(`echo "fixed"`)},
	})
	ctrl := newPipeline(cfg, client, false)

	result, err := ctrl.Run(context.Background(), "show a static chart")
	require.NoError(t, err)

	assert.Equal(t, types.StatusSucceeded, result.Status)
	assert.Equal(t, 1, result.Iterations)
	require.Len(t, result.History, 2)
	assert.True(t, result.History[0].TimedOut)
	assert.Contains(t, result.History[0].Diagnostic, "timeout")
}

// TestSmokeDataValidationRetry verifies the resolver's nested retry: the
// first fetch script fails, the retry succeeds, and the attempt count lands
// in the data artifact.
func TestSmokeDataValidationRetry(t *testing.T) {
	cfg := smokeConfig(t)
	client := newScriptedClient(map[llm.Role][]string{
		llm.RolePlanner: {outlineWithData},
		llm.RoleResolver: {
			fenced(`echo "connection refused" >&2; exit 1`),
			fenced(`echo "3 rows fetched"`),
		},
		llm.RoleCoder: {fenced(`echo "dashboard ready"`)},
	})
	ctrl := newPipeline(cfg, client, false)

	result, err := ctrl.Run(context.Background(), "show a table of sample rows")
	require.NoError(t, err)

	assert.Equal(t, types.StatusSucceeded, result.Status)
	require.NotNil(t, result.Data)
	assert.Equal(t, 2, result.Data.Attempts)

	// The retry prompt must have carried the first failure's diagnostic.
	assert.Equal(t, 2, client.idx[llm.RoleResolver])
}

// TestSmokeSessionLogSurvivesReruns verifies that running two sessions in
// the same workdir keeps one session log with a section per session, and
// replaces the state file.
func TestSmokeSessionLogSurvivesReruns(t *testing.T) {
	cfg := smokeConfig(t)
	replies := map[llm.Role][]string{
		llm.RolePlanner: {outlineDisplayOnly},
		llm.RoleCoder:   {fenced(`echo ok`)},
	}

	first := newPipeline(cfg, newScriptedClient(replies), false)
	r1, err := first.Run(context.Background(), "show a static chart")
	require.NoError(t, err)

	second := newPipeline(cfg, newScriptedClient(replies), false)
	r2, err := second.Run(context.Background(), "show a static chart")
	require.NoError(t, err)
	require.NotEqual(t, r1.Session.SessionID, r2.Session.SessionID)

	session, err := state.LoadSession(state.Path(cfg.Workdir))
	require.NoError(t, err)
	assert.Equal(t, r2.Session.SessionID, session.SessionID)

	logData, err := os.ReadFile(filepath.Join(first.LogsDir(), "SESSION_LOG.md"))
	require.NoError(t, err)
	content := string(logData)
	assert.Equal(t, 1, strings.Count(content, "# Session Log"))
	assert.Contains(t, content, "## Session "+r1.Session.SessionID)
	assert.Contains(t, content, "## Session "+r2.Session.SessionID)

	// Both sessions ran clean on their first execution; each must have its
	// own attempt record even though the iteration numbers collide.
	assert.Equal(t, 2, strings.Count(content, "- attempt 1:"))
}
