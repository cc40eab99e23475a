// Package loop implements the generation loop controller: the state machine
// that drives planning, data resolution, code synthesis, sandboxed execution,
// and bounded repair until the session reaches a terminal status.
package loop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vsaizz/dash-gen/internal/agent"
	"github.com/vsaizz/dash-gen/internal/config"
	"github.com/vsaizz/dash-gen/internal/history"
	"github.com/vsaizz/dash-gen/internal/log"
	"github.com/vsaizz/dash-gen/internal/metrics"
	"github.com/vsaizz/dash-gen/internal/state"
	"github.com/vsaizz/dash-gen/internal/types"
)

// DashboardFileName is the fixed filename the candidate dashboard is executed
// and handed off under.
const DashboardFileName = "dashboard_generated.py"

// ErrExhausted marks a session that spent its full repair budget without a
// clean run. The loop itself reports exhaustion as a Result status; the
// sentinel exists so outcome handlers can return a matchable error.
var ErrExhausted = errors.New("repair budget exhausted")

// Planner produces the capability outline for a requirement.
type Planner interface {
	Plan(ctx context.Context, requirement string) (*types.TaskOutline, error)
}

// Resolver produces a validated data artifact, or (nil, nil) when the outline
// has no data capability.
type Resolver interface {
	Resolve(ctx context.Context, outline *types.TaskOutline) (*types.DataArtifact, error)
}

// Coder synthesizes the first candidate dashboard source.
type Coder interface {
	Generate(ctx context.Context, outline *types.TaskOutline, data *types.DataArtifact) (*types.CodeArtifact, error)
}

// Repairer revises a failing artifact and optionally hardens a clean one.
type Repairer interface {
	Repair(ctx context.Context, artifact *types.CodeArtifact, report *types.ExecutionReport, iteration int) (*types.CodeArtifact, error)
	Review(ctx context.Context, artifact *types.CodeArtifact) (*types.CodeArtifact, error)
}

// Sandbox executes candidate scripts in an isolated child process.
type Sandbox interface {
	Run(ctx context.Context, source, filename string) (*types.ExecutionReport, error)
	ScriptPath(filename string) string
}

// History is the ordered record of execute-and-repair attempts for one
// session, oldest first.
type History []types.Attempt

// Stalled reports whether the repair loop has stopped making progress: the
// latest attempt reran unchanged code, or the last two attempts failed with
// the identical diagnostic. A stalled history never ends the loop early; it
// exists so postmortems can distinguish thrashing from bad luck.
func (h History) Stalled() bool {
	if len(h) == 0 {
		return false
	}
	last := h[len(h)-1]
	if len(h) >= 2 && !last.CodeChanged {
		return true
	}
	if len(h) >= 2 {
		prev := h[len(h)-2]
		if last.Diagnostic != "" && last.Diagnostic == prev.Diagnostic {
			return true
		}
	}
	return false
}

// Result is the terminal outcome of one Run. Artifact and Report describe the
// final candidate regardless of whether the session succeeded.
type Result struct {
	Status     types.Status
	Artifact   *types.CodeArtifact
	Data       *types.DataArtifact
	Report     *types.ExecutionReport
	Iterations int
	History    History
	Session    *types.SessionState
}

// Deps bundles the agents and the sandbox the controller drives. Every field
// is required; the caller wires real agents or test doubles.
type Deps struct {
	Planner  Planner
	Resolver Resolver
	Coder    Coder
	Repairer Repairer
	Sandbox  Sandbox
}

// Controller owns the session state machine. One controller per session; it
// is not safe for concurrent Runs.
type Controller struct {
	cfg    *config.PipelineConfig
	deps   Deps
	review bool

	statePath string
	logPath   string
}

// NewController returns a Controller for cfg. When review is true, a clean
// run gets one extra hardening pass before the session is declared succeeded.
func NewController(cfg *config.PipelineConfig, deps Deps, review bool) *Controller {
	logsDir := filepath.Join(cfg.Workdir, "logs")
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		review:    review,
		statePath: state.Path(cfg.Workdir),
		logPath:   filepath.Join(logsDir, history.LogName),
	}
}

// LogsDir returns the directory session logs and failure archives live in.
func (c *Controller) LogsDir() string {
	return filepath.Dir(c.logPath)
}

// Run drives the full pipeline for requirement until a terminal status is
// reached. The returned Result is non-nil whenever the session reached a
// terminal status, including CANCELLED and FAILED_EXHAUSTED; the error is
// non-nil only for faults that ended the session before the loop could —
// unparsable plans, unavailable data or provider, sandbox-level failures, and
// cancellation.
//
// The iteration counter counts repairs, not executions: a requirement that
// runs clean on the first execution finishes with Iterations == 0, and
// exhaustion happens after exactly MaxIterations repairs.
func (c *Controller) Run(ctx context.Context, requirement string) (*Result, error) {
	session := &types.SessionState{
		SessionID:   uuid.NewString(),
		Requirement: requirement,
		Status:      types.StatusPlanning,
		StartedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	c.persist(session)

	if err := history.EnsureSessionLog(c.logPath, session.SessionID, requirement); err != nil {
		log.Warning(fmt.Sprintf("session log unavailable: %v", err))
	}

	// Planning.
	log.Section("PLANNING")
	start := time.Now()
	outline, err := c.deps.Planner.Plan(ctx, requirement)
	if err != nil {
		return c.fail(ctx, session, fmt.Errorf("planning: %w", err))
	}
	session.Outline = outline
	metrics.RecordStageMetric(session, types.StatusPlanning, time.Since(start))
	log.Success(fmt.Sprintf("outline ready: %d capabilities", len(outline.Capabilities)))

	// Data resolution.
	session.Status = types.StatusFetchingData
	c.persist(session)
	log.Section("FETCHING DATA")
	start = time.Now()
	data, err := c.deps.Resolver.Resolve(ctx, outline)
	if err != nil {
		return c.fail(ctx, session, fmt.Errorf("data resolution: %w", err))
	}
	if data != nil {
		session.DataScriptPath = c.deps.Sandbox.ScriptPath(agent.FetchScriptName)
	}
	metrics.RecordStageMetric(session, types.StatusFetchingData, time.Since(start))

	// Coding.
	session.Status = types.StatusCoding
	c.persist(session)
	log.Section("CODING")
	start = time.Now()
	artifact, err := c.deps.Coder.Generate(ctx, outline, data)
	if err != nil {
		return c.fail(ctx, session, fmt.Errorf("coding: %w", err))
	}
	metrics.RecordStageMetric(session, types.StatusCoding, time.Since(start))
	log.Success(fmt.Sprintf("candidate v%d generated (%s)", artifact.Version, artifact.Hash()))

	return c.executeAndRepair(ctx, session, data, artifact)
}

// executeAndRepair runs the sandbox-repair cycle. Each pass executes the
// current artifact, records the attempt, and either finishes the session or
// spends one repair iteration. The iteration counter increments exactly once
// per REPAIRING -> EXECUTING transition.
func (c *Controller) executeAndRepair(ctx context.Context, session *types.SessionState, data *types.DataArtifact, artifact *types.CodeArtifact) (*Result, error) {
	var (
		hist     History
		lastHash string
	)
	execution := 0

	for {
		session.Status = types.StatusExecuting
		c.persist(session)
		execution++
		log.Section(fmt.Sprintf("EXECUTING (run %d)", execution))

		start := time.Now()
		report, err := c.deps.Sandbox.Run(ctx, artifact.Source, DashboardFileName)
		if err != nil {
			return c.fail(ctx, session, fmt.Errorf("execute candidate: %w", err))
		}
		metrics.RecordStageMetric(session, types.StatusExecuting, time.Since(start))

		attempt := types.Attempt{
			Iteration:   execution,
			CodeHash:    artifact.Hash(),
			ExitStatus:  report.ExitStatus,
			TimedOut:    report.TimedOut,
			Diagnostic:  report.Diagnostic(),
			DurationMS:  report.Duration.Milliseconds(),
			CodeChanged: artifact.Hash() != lastHash,
		}
		lastHash = artifact.Hash()
		hist = append(hist, attempt)
		session.Attempts = append(session.Attempts, attempt)
		if err := history.RecordAttempt(c.logPath, session.SessionID, attempt); err != nil {
			log.Warning(fmt.Sprintf("attempt not recorded in session log: %v", err))
		}

		if !report.Failed() {
			log.Success(fmt.Sprintf("run %d clean in %s", execution, report.Duration.Round(time.Millisecond)))
			artifact = c.maybeReview(ctx, session, artifact)
			session.ArtifactPath = c.deps.Sandbox.ScriptPath(DashboardFileName)
			return c.finish(session, types.StatusSucceeded, data, artifact, report, hist), nil
		}

		log.Warning(fmt.Sprintf("run %d failed", execution))
		log.Detail(attempt.Diagnostic)

		if session.Iteration >= c.cfg.MaxIterations {
			log.Error(fmt.Sprintf("repair budget exhausted after %d iterations", session.Iteration))
			session.ArtifactPath = c.deps.Sandbox.ScriptPath(DashboardFileName)
			return c.finish(session, types.StatusFailedExhausted, data, artifact, report, hist), nil
		}

		session.Iteration++
		session.Status = types.StatusRepairing
		c.persist(session)
		log.Section(fmt.Sprintf("REPAIRING (iteration %d of %d)", session.Iteration, c.cfg.MaxIterations))

		start = time.Now()
		next, err := c.deps.Repairer.Repair(ctx, artifact, report, session.Iteration)
		if err != nil {
			return c.fail(ctx, session, fmt.Errorf("repair: %w", err))
		}
		metrics.RecordStageMetric(session, types.StatusRepairing, time.Since(start))
		if next.Hash() == artifact.Hash() {
			log.Warning("repair produced no code change")
		}
		artifact = next
	}
}

// maybeReview runs the optional hardening pass on a clean artifact. Review
// output is not re-executed when it leaves the source unchanged; a changed
// source keeps the clean report since Review is instructed to preserve
// behavior.
func (c *Controller) maybeReview(ctx context.Context, session *types.SessionState, artifact *types.CodeArtifact) *types.CodeArtifact {
	if !c.review {
		return artifact
	}
	log.Section("REVIEW")
	start := time.Now()
	reviewed, err := c.deps.Repairer.Review(ctx, artifact)
	if err != nil {
		log.Warning(fmt.Sprintf("review pass skipped: %v", err))
		return artifact
	}
	metrics.RecordStageMetric(session, types.StatusRepairing, time.Since(start))
	if reviewed.Version != artifact.Version {
		log.Info(fmt.Sprintf("review hardened the script (v%d)", reviewed.Version))
	}
	return reviewed
}

// finish stamps the terminal status onto the session, persists it, and builds
// the Result.
func (c *Controller) finish(session *types.SessionState, status types.Status, data *types.DataArtifact, artifact *types.CodeArtifact, report *types.ExecutionReport, hist History) *Result {
	now := time.Now().UTC().Format(time.RFC3339)
	session.Status = status
	session.CompletedAt = &now
	metrics.UpdateMetricTotals(session)
	c.persist(session)

	return &Result{
		Status:     status,
		Artifact:   artifact,
		Data:       data,
		Report:     report,
		Iterations: session.Iteration,
		History:    hist,
		Session:    session,
	}
}

// fail ends the session on a stage fault. Cancellation is mapped to the
// CANCELLED terminal status; every other fault leaves the session at the
// stage it died in so the state file shows where things stopped.
func (c *Controller) fail(ctx context.Context, session *types.SessionState, err error) (*Result, error) {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		log.Warning("session cancelled")
		now := time.Now().UTC().Format(time.RFC3339)
		session.Status = types.StatusCancelled
		session.CompletedAt = &now
		metrics.UpdateMetricTotals(session)
		c.persist(session)
		return &Result{Status: types.StatusCancelled, Iterations: session.Iteration, Session: session}, err
	}

	metrics.UpdateMetricTotals(session)
	c.persist(session)
	return nil, err
}

// persist writes the session state file. Persistence faults are warnings:
// losing the state mirror must never kill a running session.
func (c *Controller) persist(session *types.SessionState) {
	if err := state.SaveSession(c.statePath, session); err != nil {
		log.Warning(fmt.Sprintf("session state not persisted: %v", err))
	}
}
