// Package state provides atomic load and save operations for the per-session
// provenance file session-state.yaml.
//
// All writes are atomic: data is marshalled to a .tmp file in the same
// directory, then os.Rename replaces the target in a single kernel call.
// This prevents a crash mid-write from corrupting the session record.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vsaizz/dash-gen/internal/types"
)

// FileName is the session state file written into the session workdir.
const FileName = "session-state.yaml"

// ErrNotFound is returned by LoadSession when the state file does not exist.
var ErrNotFound = errors.New("session state file not found")

// ParseError is returned when a state file exists but cannot be unmarshalled.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Path returns the session state file path for the given workdir.
func Path(workdir string) string {
	return filepath.Join(workdir, FileName)
}

// LoadSession reads session-state.yaml at path into a SessionState.
// Returns ErrNotFound if the file is absent, or *ParseError on malformed YAML.
func LoadSession(path string) (*types.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var session types.SessionState
	if err := yaml.Unmarshal(data, &session); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &session, nil
}

// SaveSession atomically writes session to path, creating the parent
// directory if needed. Called after every status transition so a crash at any
// point leaves a readable record of how far the session got.
func SaveSession(path string, session *types.SessionState) error {
	data, err := yaml.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to path by first writing to path+".tmp",
// then calling os.Rename to replace the final target atomically.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup on rename failure
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
