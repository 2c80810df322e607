//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoETL.
//
// GoETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoETL. If not, see https://www.gnu.org/licenses/.

// Package workspace owns the per-run temporary namespace on local disk.
//
// Every run gets <root>/<runID>/ with staging/ and refined/ below it. A run
// directory that failed keeps a FAILED.json marker for postmortem inspection;
// unmarked run directories belong to runs that were abandoned and are purged
// before the next run starts.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
)

const (
	stagingDir = "staging"
	refinedDir = "refined"

	// MarkerFile is written into a run directory that is kept after a failure.
	MarkerFile = "FAILED.json"
)

// WorkspaceError wraps filesystem errors with the operation that failed.
type WorkspaceError struct {
	Op   string
	Path string
	Err  error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// Marker is the content of a failed run's marker file.
type Marker struct {
	RunID    string    `json:"run_id"`
	Stage    string    `json:"stage"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Manager creates run directories below a single root.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager returns a Manager rooted at root. The directory is created on
// first use.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: filepath.Clean(root), logger: logger}
}

// Root returns the workspace root.
func (m *Manager) Root() string { return m.root }

// Create allocates a fresh run directory named by a new ULID.
func (m *Manager) Create() (*Run, error) {
	id := ulid.Make().String()
	dir := filepath.Join(m.root, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &WorkspaceError{Op: "create", Path: dir, Err: err}
	}
	return &Run{id: id, dir: dir}, nil
}

// PurgeAbandoned removes every unmarked run directory under the root and
// returns the removed paths. Marked directories are left for inspection, and
// entries not named by a run ID are never touched.
func (m *Manager) PurgeAbandoned() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &WorkspaceError{Op: "purge", Path: m.root, Err: err}
	}

	var removed []string
	var result *multierror.Error
	for _, entry := range entries {
		if !entry.IsDir() || !isRunID(entry.Name()) {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, MarkerFile)); err == nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			result = multierror.Append(result, &WorkspaceError{Op: "purge", Path: dir, Err: err})
			continue
		}
		m.logger.Info("purged abandoned run directory", "path", dir)
		removed = append(removed, dir)
	}
	return removed, result.ErrorOrNil()
}

func isRunID(name string) bool {
	_, err := ulid.ParseStrict(name)
	return err == nil
}

// Run is one run's private directory tree.
type Run struct {
	id  string
	dir string
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// StagingDir holds raw objects copied from the bucket.
func (r *Run) StagingDir() string { return filepath.Join(r.dir, stagingDir) }

// RefinedDir holds the canonical CSV datasets.
func (r *Run) RefinedDir() string { return filepath.Join(r.dir, refinedDir) }

// StagingPath maps an object key to its path in the staging directory. Keys
// that would escape the directory are rejected.
func (r *Run) StagingPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("key %q escapes the staging directory", key)
	}
	return filepath.Join(r.StagingDir(), clean), nil
}

// ResetStaging discards any previous staging state and recreates the directory.
func (r *Run) ResetStaging() error { return reset(r.StagingDir()) }

// RemoveStaging deletes the staging directory.
func (r *Run) RemoveStaging() error { return remove("remove_staging", r.StagingDir()) }

// ResetRefined discards any previous refined output and recreates the directory.
func (r *Run) ResetRefined() error { return reset(r.RefinedDir()) }

// RemoveRefined deletes the refined directory.
func (r *Run) RemoveRefined() error { return remove("remove_refined", r.RefinedDir()) }

// Remove deletes the whole run directory.
func (r *Run) Remove() error { return remove("remove", r.dir) }

// Exists reports whether the run directory is still on disk.
func (r *Run) Exists() bool {
	_, err := os.Stat(r.dir)
	return err == nil
}

// MarkFailed writes the marker that keeps this run directory out of the
// abandoned-run purge.
func (r *Run) MarkFailed(stage string, cause error, at time.Time) error {
	marker := Marker{RunID: r.id, Stage: stage, FailedAt: at}
	if cause != nil {
		marker.Error = cause.Error()
	}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return &WorkspaceError{Op: "mark_failed", Path: r.dir, Err: err}
	}
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return &WorkspaceError{Op: "mark_failed", Path: r.dir, Err: err}
	}
	path := filepath.Join(r.dir, MarkerFile)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return &WorkspaceError{Op: "mark_failed", Path: path, Err: err}
	}
	return nil
}

// ReadMarker reads the failure marker of a run directory.
func ReadMarker(dir string) (Marker, error) {
	var marker Marker
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		return marker, &WorkspaceError{Op: "read_marker", Path: dir, Err: err}
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return marker, &WorkspaceError{Op: "read_marker", Path: dir, Err: err}
	}
	return marker, nil
}

func reset(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return &WorkspaceError{Op: "reset", Path: dir, Err: err}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &WorkspaceError{Op: "reset", Path: dir, Err: err}
	}
	return nil
}

func remove(op, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return &WorkspaceError{Op: op, Path: dir, Err: err}
	}
	return nil
}
