// Package types defines all shared structs and typed constants used by the
// dash-gen pipeline. YAML struct tags match the session-state.yaml schema
// (snake_case field names).
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Typed constants
// ---------------------------------------------------------------------------

// Status represents the lifecycle state of a generation session. It is owned
// by the loop controller and persisted to session-state.yaml after every
// transition.
type Status string

const (
	StatusPlanning        Status = "PLANNING"
	StatusFetchingData    Status = "FETCHING_DATA"
	StatusCoding          Status = "CODING"
	StatusExecuting       Status = "EXECUTING"
	StatusRepairing       Status = "REPAIRING"
	StatusSucceeded       Status = "SUCCEEDED"
	StatusFailedExhausted Status = "FAILED_EXHAUSTED"
	StatusCancelled       Status = "CANCELLED"
)

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedExhausted || s == StatusCancelled
}

// CapabilityKind classifies a planned capability. The resolver keys off
// KindData to decide whether a fetch script must be generated.
type CapabilityKind string

const (
	KindData        CapabilityKind = "data"
	KindDisplay     CapabilityKind = "display"
	KindInteraction CapabilityKind = "interaction"
)

// KnownKind reports whether k is one of the three kinds the planner is
// instructed to emit. Unknown kinds are tolerated (treated as display-like)
// rather than rejected, since the planner output is LLM-generated.
func (k CapabilityKind) KnownKind() bool {
	return k == KindData || k == KindDisplay || k == KindInteraction
}

// ---------------------------------------------------------------------------
// Pipeline data model
// ---------------------------------------------------------------------------

// Capability is a single ordered entry in the planner's outline.
type Capability struct {
	Statement string         `yaml:"statement" json:"statement"`
	Kind      CapabilityKind `yaml:"kind" json:"kind"`
}

// TaskOutline is the ordered capability list produced by the Planner. Order
// matters: data capabilities precede the display capabilities that consume
// them. The outline is replaced, never mutated, if re-planning is triggered.
type TaskOutline struct {
	Requirement  string       `yaml:"requirement"`
	Capabilities []Capability `yaml:"capabilities"`
}

// NeedsData reports whether any capability in the outline requires external
// data. When true, a DataUnavailable failure is fatal for the session.
func (o *TaskOutline) NeedsData() bool {
	for _, c := range o.Capabilities {
		if c.Kind == KindData {
			return true
		}
	}
	return false
}

// DataArtifact is the validated fetch script produced by the Data Resolver.
// Retained read-only for provenance after the Coder consumes it.
type DataArtifact struct {
	Source    string           `yaml:"-"`
	Report    *ExecutionReport `yaml:"report,omitempty"`
	Validated bool             `yaml:"validated"`
	Attempts  int              `yaml:"attempts"`
}

// CodeArtifact is one version of the candidate dashboard source. Each repair
// produces a new version; exactly one artifact is current at any time.
type CodeArtifact struct {
	Source  string `yaml:"-"`
	Version int    `yaml:"version"`
}

// Hash returns a short content hash of the artifact source, used for stall
// detection and attempt history.
func (c *CodeArtifact) Hash() string {
	sum := sha256.Sum256([]byte(c.Source))
	return hex.EncodeToString(sum[:])[:12]
}

// ExecutionReport is the result of one sandboxed run. Immutable once produced.
type ExecutionReport struct {
	ExitStatus int           `yaml:"exit_status"`
	Stdout     string        `yaml:"-"`
	Stderr     string        `yaml:"-"`
	Duration   time.Duration `yaml:"-"`
	TimedOut   bool          `yaml:"timed_out"`
}

// Failed reports whether the run must be treated as a repairable failure:
// non-zero exit, timeout, or any captured error text. Stdout content never
// fails a run.
func (r *ExecutionReport) Failed() bool {
	return r.ExitStatus != 0 || r.TimedOut || strings.TrimSpace(r.Stderr) != ""
}

// Diagnostic returns the error text fed back to the repair agent and compared
// across iterations for stall detection.
func (r *ExecutionReport) Diagnostic() string {
	diag := strings.TrimSpace(r.Stderr)
	if r.TimedOut {
		timeout := fmt.Sprintf("process killed after exceeding the %s timeout", r.Duration.Round(time.Millisecond))
		if diag == "" {
			return timeout
		}
		return timeout + "\n" + diag
	}
	if diag == "" && r.ExitStatus != 0 {
		return fmt.Sprintf("process exited with status %d and no stderr output", r.ExitStatus)
	}
	return diag
}

// ---------------------------------------------------------------------------
// session-state.yaml types
// ---------------------------------------------------------------------------

// Attempt records one execute(-and-repair) cycle for postmortem diagnosis.
type Attempt struct {
	Iteration   int    `yaml:"iteration"`
	CodeHash    string `yaml:"code_hash"`
	ExitStatus  int    `yaml:"exit_status"`
	TimedOut    bool   `yaml:"timed_out"`
	Diagnostic  string `yaml:"diagnostic,omitempty"`
	DurationMS  int64  `yaml:"duration_ms"`
	CodeChanged bool   `yaml:"code_changed"`
}

// SessionState mirrors the full structure of session-state.yaml. One file per
// session; sessions never share state files.
type SessionState struct {
	SessionID      string       `yaml:"session_id"`
	Requirement    string       `yaml:"requirement"`
	Status         Status       `yaml:"status"`
	Iteration      int          `yaml:"iteration"`
	StartedAt      string       `yaml:"started_at"`
	CompletedAt    *string      `yaml:"completed_at"`
	Outline        *TaskOutline `yaml:"outline,omitempty"`
	Attempts       []Attempt    `yaml:"attempts"`
	Metrics        Metrics      `yaml:"metrics"`
	ArtifactPath   string       `yaml:"artifact_path,omitempty"`
	DataScriptPath string       `yaml:"data_script_path,omitempty"`
}

// Metrics is the metrics block in session-state.yaml.
type Metrics struct {
	TotalDurationSeconds int           `yaml:"total_duration_seconds"`
	Stages               []StageMetric `yaml:"stages"`
}

// StageMetric records the wall-clock cost of a single pipeline stage.
type StageMetric struct {
	Stage           string `yaml:"stage"`
	DurationSeconds int    `yaml:"duration_seconds"`
	CompletedAt     string `yaml:"completed_at"`
}
