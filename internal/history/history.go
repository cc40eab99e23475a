// Package history maintains the markdown log of loop attempts across
// sessions and the failure archive, using pure Go string manipulation — no
// sed, awk, or exec.Command.
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vsaizz/dash-gen/internal/types"
)

// fileHeader opens SESSION_LOG.md; each session appends its own section
// below it.
const fileHeader = "# Session Log"

// attemptsHeader is the per-session subsection that attempt bullets are
// inserted under.
const attemptsHeader = "### Attempts"

// LogName is the session log filename inside the logs directory.
const LogName = "SESSION_LOG.md"

// sessionHeader returns the section heading line for one session. The
// trailing newline keeps lookups from matching a longer session id that
// shares this one as a prefix.
func sessionHeader(sessionID string) string {
	return "## Session " + sessionID + "\n"
}

// EnsureSessionLog creates the log file if needed and appends a section for
// this session when one does not exist yet. Earlier sessions' sections are
// left untouched, so the log accumulates the full history of a workdir.
func EnsureSessionLog(path, sessionID, requirement string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return fmt.Errorf("history: create log directory: %w", mkErr)
		}
		data = []byte(fileHeader + "\n")
	} else if err != nil {
		return fmt.Errorf("history: read %q: %w", path, err)
	}

	content := string(data)
	if strings.Contains(content, sessionHeader(sessionID)) {
		return nil
	}

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += fmt.Sprintf("\n%sRequirement: %s\n\n%s\n",
		sessionHeader(sessionID), requirement, attemptsHeader)
	return os.WriteFile(path, []byte(content), 0o644)
}

// RecordAttempt inserts a bullet for the attempt immediately after the given
// session's attempts header, newest first.
//
// Behavior:
//   - Returns a non-fatal error if the file or the session's section is
//     missing. Callers should log this as a warning rather than failing the
//     session.
//   - Is idempotent per iteration within a session: if the session's section
//     already holds a bullet for this iteration, the file is left unchanged
//     and nil is returned. Other sessions' bullets never suppress the write.
func RecordAttempt(path, sessionID string, a types.Attempt) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("history: read %q: %w", path, err)
	}
	content := string(data)

	header := sessionHeader(sessionID)
	headerIdx := strings.Index(content, header)
	if headerIdx == -1 {
		return fmt.Errorf("history: session %q not found in %q", sessionID, path)
	}

	// Bound the dedup scan to this session's section.
	sectionEnd := len(content)
	if next := strings.Index(content[headerIdx+len(header):], "\n## "); next != -1 {
		sectionEnd = headerIdx + len(header) + next
	}
	section := content[headerIdx:sectionEnd]

	marker := fmt.Sprintf("- attempt %d:", a.Iteration)
	if strings.Contains(section, marker) {
		return nil
	}

	attIdx := strings.Index(section, attemptsHeader)
	if attIdx == -1 {
		return fmt.Errorf("history: section %q not found for session %q in %q", attemptsHeader, sessionID, path)
	}

	bullet := attemptBullet(a)
	afterHeader := headerIdx + attIdx + len(attemptsHeader)
	nlIdx := strings.Index(content[afterHeader:], "\n")
	if nlIdx == -1 {
		// Header is at the very end of the file with no trailing newline.
		content = content + "\n" + bullet + "\n"
		return os.WriteFile(path, []byte(content), 0o644)
	}
	insertAt := afterHeader + nlIdx + 1

	updated := content[:insertAt] + bullet + "\n" + content[insertAt:]
	return os.WriteFile(path, []byte(updated), 0o644)
}

// attemptBullet renders one attempt as a single markdown bullet.
func attemptBullet(a types.Attempt) string {
	outcome := "clean"
	switch {
	case a.TimedOut:
		outcome = "timed out"
	case a.ExitStatus != 0:
		outcome = fmt.Sprintf("exit %d", a.ExitStatus)
	case a.Diagnostic != "":
		outcome = "stderr output"
	}

	changed := "code changed"
	if !a.CodeChanged {
		changed = "code unchanged"
	}

	bullet := fmt.Sprintf("- attempt %d: %s, %s, %dms, code %s",
		a.Iteration, outcome, changed, a.DurationMS, a.CodeHash)
	if a.Diagnostic != "" {
		bullet += " — " + firstLine(a.Diagnostic)
	}
	return bullet
}

// firstLine truncates a diagnostic to its first line for the one-line bullet.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}

// ArchiveFailure writes the final failing source and its execution report to
// {logsDir}/failures/{sessionID}/ so a human can take over from exactly where
// the loop stopped. Returns the archive directory.
func ArchiveFailure(logsDir, sessionID string, artifact *types.CodeArtifact, report *types.ExecutionReport, stalled bool) (string, error) {
	dir := filepath.Join(logsDir, "failures", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("history: create failure archive: %w", err)
	}

	codePath := filepath.Join(dir, "dashboard_last_attempt.py")
	if err := os.WriteFile(codePath, []byte(artifact.Source), 0o644); err != nil {
		return "", fmt.Errorf("history: write failing source: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Failure Report\n\n")
	fmt.Fprintf(&sb, "Code version: %d (%s)\n", artifact.Version, artifact.Hash())
	fmt.Fprintf(&sb, "Exit status: %d\n", report.ExitStatus)
	fmt.Fprintf(&sb, "Timed out: %v\n", report.TimedOut)
	fmt.Fprintf(&sb, "Repair stalled: %v\n", stalled)
	sb.WriteString("\n## Stderr\n\n```\n" + strings.TrimSpace(report.Stderr) + "\n```\n")
	sb.WriteString("\n## Stdout\n\n```\n" + strings.TrimSpace(report.Stdout) + "\n```\n")

	reportPath := filepath.Join(dir, "report.md")
	if err := os.WriteFile(reportPath, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("history: write failure report: %w", err)
	}
	return dir, nil
}
