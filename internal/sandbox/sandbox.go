// Package sandbox executes candidate scripts as isolated child processes.
// The runner writes the script to disk, spawns the interpreter with an
// explicit args slice (no shell eval), enforces a wall-clock timeout, and
// captures stdout and stderr separately. A crash or hang in the script can
// never take down the controller process: every exit path ends with the
// child terminated.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vsaizz/dash-gen/internal/types"
)

// ErrBusy is returned when Run is called while another execution is still
// outstanding. The sandbox is single-slot per session; a re-entrant call is a
// programming error in the caller, always fatal.
var ErrBusy = errors.New("sandbox: execution already in flight")

// killGracePeriod bounds how long Wait may linger on open pipes after the
// interpreter has been killed (e.g. a grandchild still holding stderr).
const killGracePeriod = 5 * time.Second

// Runner executes scripts with a fixed interpreter, working directory, and
// per-run timeout. The zero value is not usable; construct with NewRunner.
type Runner struct {
	command string
	workdir string
	timeout time.Duration
	busy    atomic.Bool
}

// NewRunner returns a Runner that executes scripts via the given interpreter
// command (e.g. "python3") inside workdir, killing any run that exceeds
// timeout.
func NewRunner(command, workdir string, timeout time.Duration) *Runner {
	return &Runner{command: command, workdir: workdir, timeout: timeout}
}

// ScriptPath returns the on-disk path a script with the given filename is
// written to by Run. Used by the handoff step to report final artifact
// locations.
func (r *Runner) ScriptPath(filename string) string {
	return filepath.Join(r.workdir, filename)
}

// Run writes source to workdir/filename — overwriting any previous version,
// so stale candidates never accumulate — and executes it as a child process.
//
// The returned ExecutionReport carries exit status, both output streams, the
// wall-clock duration, and whether the run was killed at the timeout. A
// failing script is a report, not an error; Run returns a non-nil error only
// for sandbox-level problems: ErrBusy, script write failures, a missing
// interpreter, or session cancellation (ctx.Err()).
func (r *Runner) Run(ctx context.Context, source, filename string) (*types.ExecutionReport, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.busy.Store(false)

	if err := os.MkdirAll(r.workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox workdir %s: %w", r.workdir, err)
	}
	scriptPath := r.ScriptPath(filename)
	if err := os.WriteFile(scriptPath, []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("write script %s: %w", scriptPath, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.command, filename)
	cmd.Dir = r.workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGracePeriod

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	report := &types.ExecutionReport{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	// Session-level cancellation outranks the timeout: CommandContext has
	// already killed the child, so just surface the cancellation.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		report.TimedOut = true
		report.ExitStatus = -1
		return report, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			report.ExitStatus = exitErr.ExitCode()
			return report, nil
		}
		return nil, fmt.Errorf("spawn %s: %w", r.command, runErr)
	}

	report.ExitStatus = 0
	return report, nil
}
