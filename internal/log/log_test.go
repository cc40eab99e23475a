package log_test

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/vsaizz/dash-gen/internal/log"
)

// captureOutput redirects os.Stdout during fn and returns what was written.
func captureOutput(fn func()) string {
	r, w, _ := os.Pipe()
	old := os.Stdout
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r) //nolint:errcheck
	return buf.String()
}

func TestInfo(t *testing.T) {
	out := captureOutput(func() { log.Info("planning dashboard") })
	if !strings.Contains(out, "[INFO]") || !strings.Contains(out, "planning dashboard") {
		t.Errorf("Info output malformed: %q", out)
	}
}

func TestSuccess(t *testing.T) {
	out := captureOutput(func() { log.Success("artifact ran cleanly") })
	if !strings.Contains(out, "[SUCCESS]") || !strings.Contains(out, "artifact ran cleanly") {
		t.Errorf("Success output malformed: %q", out)
	}
}

func TestWarning(t *testing.T) {
	out := captureOutput(func() { log.Warning("fetch script retry") })
	if !strings.Contains(out, "[WARNING]") || !strings.Contains(out, "fetch script retry") {
		t.Errorf("Warning output malformed: %q", out)
	}
}

func TestError(t *testing.T) {
	out := captureOutput(func() { log.Error("execution failed") })
	if !strings.Contains(out, "[ERROR]") || !strings.Contains(out, "execution failed") {
		t.Errorf("Error output malformed: %q", out)
	}
}

func TestFatalCallsOsExit(t *testing.T) {
	exitCode := -1
	old := log.OsExit
	log.OsExit = func(code int) { exitCode = code }
	defer func() { log.OsExit = old }()

	captureOutput(func() { log.Fatal("provider unavailable") })

	if exitCode != 1 {
		t.Errorf("expected Fatal to exit with code 1, got %d", exitCode)
	}
}

func TestDetailIndentsEveryLine(t *testing.T) {
	out := captureOutput(func() { log.Detail("Traceback:\n  line 1\n") })
	if !strings.Contains(out, "    Traceback:") || !strings.Contains(out, "      line 1") {
		t.Errorf("Detail output malformed: %q", out)
	}
}

func TestDetailSkipsEmptyBlock(t *testing.T) {
	out := captureOutput(func() { log.Detail("") })
	if out != "" {
		t.Errorf("expected no output for empty block, got %q", out)
	}
}

func TestSectionContainsTitleAndSeparator(t *testing.T) {
	out := captureOutput(func() { log.Section("EXECUTING") })
	if !strings.Contains(out, "EXECUTING") || !strings.Contains(out, "━") {
		t.Errorf("Section output malformed: %q", out)
	}
}
