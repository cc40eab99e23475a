package handlers_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vsaizz/dash-gen/internal/config"
	"github.com/vsaizz/dash-gen/internal/handlers"
	"github.com/vsaizz/dash-gen/internal/loop"
	"github.com/vsaizz/dash-gen/internal/types"
)

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	old := os.Stdout
	os.Stdout = w
	fnErr := fn()
	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r) //nolint:errcheck
	return buf.String(), fnErr
}

func testConfig() *config.PipelineConfig {
	return &config.PipelineConfig{MaxIterations: 3}
}

func succeededResult(workdir string) *loop.Result {
	artifactPath := filepath.Join(workdir, loop.DashboardFileName)
	return &loop.Result{
		Status:     types.StatusSucceeded,
		Artifact:   &types.CodeArtifact{Source: "import streamlit as st\n", Version: 2},
		Report:     &types.ExecutionReport{ExitStatus: 0},
		Iterations: 1,
		History: loop.History{
			{Iteration: 1, CodeChanged: true, ExitStatus: 1, Diagnostic: "boom"},
			{Iteration: 2, CodeChanged: true},
		},
		Session: &types.SessionState{
			SessionID:    "sess-1",
			Status:       types.StatusSucceeded,
			Iteration:    1,
			ArtifactPath: artifactPath,
		},
	}
}

func TestHandleSucceededWritesFinalArtifact(t *testing.T) {
	workdir := t.TempDir()
	result := succeededResult(workdir)

	out, err := captureStdout(t, func() error {
		return handlers.HandleSucceeded(result, testConfig())
	})
	if err != nil {
		t.Fatalf("HandleSucceeded failed: %v", err)
	}

	data, readErr := os.ReadFile(result.Session.ArtifactPath)
	if readErr != nil {
		t.Fatalf("artifact not written: %v", readErr)
	}
	if string(data) != result.Artifact.Source {
		t.Errorf("artifact content = %q, want final source", data)
	}

	for _, want := range []string{"SESSION SUMMARY", "streamlit run " + result.Session.ArtifactPath, "1 of 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHandleSucceededOverwritesSandboxCopy(t *testing.T) {
	workdir := t.TempDir()
	result := succeededResult(workdir)
	// Simulate a stale pre-review version left on disk by the sandbox.
	if err := os.WriteFile(result.Session.ArtifactPath, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed stale artifact: %v", err)
	}

	_, err := captureStdout(t, func() error {
		return handlers.HandleSucceeded(result, testConfig())
	})
	if err != nil {
		t.Fatalf("HandleSucceeded failed: %v", err)
	}

	data, _ := os.ReadFile(result.Session.ArtifactPath)
	if string(data) != result.Artifact.Source {
		t.Errorf("stale artifact not overwritten: %q", data)
	}
}

func TestHandleExhaustedArchivesAndErrors(t *testing.T) {
	logsDir := t.TempDir()
	result := &loop.Result{
		Status:     types.StatusFailedExhausted,
		Artifact:   &types.CodeArtifact{Source: "broken()", Version: 4},
		Report:     &types.ExecutionReport{ExitStatus: 1, Stderr: "Traceback: boom"},
		Iterations: 3,
		History: loop.History{
			{Iteration: 1, CodeChanged: true, Diagnostic: "a"},
			{Iteration: 2, CodeChanged: true, Diagnostic: "b"},
		},
		Session: &types.SessionState{
			SessionID: "sess-9",
			Status:    types.StatusFailedExhausted,
			Iteration: 3,
		},
	}

	out, err := captureStdout(t, func() error {
		return handlers.HandleExhausted(result, testConfig(), logsDir)
	})
	if !errors.Is(err, loop.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got: %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 iterations") {
		t.Errorf("error missing iteration count: %v", err)
	}
	if strings.Contains(err.Error(), "stalled") {
		t.Errorf("progressing history must not be reported as stalled: %v", err)
	}

	archived := filepath.Join(logsDir, "failures", "sess-9", "dashboard_last_attempt.py")
	data, readErr := os.ReadFile(archived)
	if readErr != nil {
		t.Fatalf("failure archive missing: %v", readErr)
	}
	if string(data) != "broken()" {
		t.Errorf("archived source = %q", data)
	}
	if !strings.Contains(out, "SESSION SUMMARY") {
		t.Errorf("output missing summary:\n%s", out)
	}
}

func TestHandleExhaustedNamesStall(t *testing.T) {
	logsDir := t.TempDir()
	result := &loop.Result{
		Status:     types.StatusFailedExhausted,
		Artifact:   &types.CodeArtifact{Source: "broken()", Version: 4},
		Report:     &types.ExecutionReport{ExitStatus: 1, Stderr: "same"},
		Iterations: 3,
		History: loop.History{
			{Iteration: 1, CodeChanged: true, Diagnostic: "same"},
			{Iteration: 2, CodeChanged: false, Diagnostic: "same"},
		},
		Session: &types.SessionState{SessionID: "sess-10", Iteration: 3},
	}

	_, err := captureStdout(t, func() error {
		return handlers.HandleExhausted(result, testConfig(), logsDir)
	})
	if err == nil || !strings.Contains(err.Error(), "stalled") {
		t.Errorf("expected stall to be named in the error, got: %v", err)
	}

	report, readErr := os.ReadFile(filepath.Join(logsDir, "failures", "sess-10", "report.md"))
	if readErr != nil {
		t.Fatalf("report missing: %v", readErr)
	}
	if !strings.Contains(string(report), "Repair stalled: true") {
		t.Errorf("report does not record the stall:\n%s", report)
	}
}
