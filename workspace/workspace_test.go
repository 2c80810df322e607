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

package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndReset(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	run, err := m.Create()
	require.NoError(t, err)
	assert.Len(t, run.ID(), 26)
	assert.True(t, run.Exists())
	assert.Equal(t, filepath.Join(m.Root(), run.ID()), run.Dir())

	require.NoError(t, run.ResetStaging())
	stale := filepath.Join(run.StagingDir(), "stale.csv.part")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))

	require.NoError(t, run.ResetStaging())
	assert.NoFileExists(t, stale)
	assert.DirExists(t, run.StagingDir())

	require.NoError(t, run.ResetRefined())
	assert.DirExists(t, run.RefinedDir())

	require.NoError(t, run.RemoveRefined())
	assert.NoDirExists(t, run.RefinedDir())
	require.NoError(t, run.RemoveStaging())
	assert.NoDirExists(t, run.StagingDir())

	require.NoError(t, run.Remove())
	assert.False(t, run.Exists())
}

func TestRunsDoNotShareDirectories(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	a, err := m.Create()
	require.NoError(t, err)
	b, err := m.Create()
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.StagingDir(), b.StagingDir())
}

func TestStagingPath(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	run, err := m.Create()
	require.NoError(t, err)

	path, err := run.StagingPath("2024/client.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(run.StagingDir(), "2024", "client.csv"), path)

	path, err = run.StagingPath("/leading/slash.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(run.StagingDir(), "leading", "slash.csv"), path)

	for _, key := range []string{"../escape.csv", "a/../../escape.csv", "..", ""} {
		_, err := run.StagingPath(key)
		assert.Error(t, err, key)
	}
}

func TestMarkFailedAndPurge(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	failed, err := m.Create()
	require.NoError(t, err)
	require.NoError(t, failed.ResetStaging())

	at := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)
	require.NoError(t, failed.MarkFailed("load", errors.New("connection refused"), at))

	abandoned, err := m.Create()
	require.NoError(t, err)
	require.NoError(t, abandoned.ResetRefined())

	removed, err := m.PurgeAbandoned()
	require.NoError(t, err)
	assert.Equal(t, []string{abandoned.Dir()}, removed)
	assert.False(t, abandoned.Exists())
	assert.True(t, failed.Exists())
	assert.DirExists(t, failed.StagingDir())

	marker, err := ReadMarker(failed.Dir())
	require.NoError(t, err)
	assert.Equal(t, failed.ID(), marker.RunID)
	assert.Equal(t, "load", marker.Stage)
	assert.Equal(t, "connection refused", marker.Error)
	assert.True(t, at.Equal(marker.FailedAt))
}

func TestPurgeMissingRoot(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "never-created"), nil)

	removed, err := m.PurgeAbandoned()
	assert.NoError(t, err)
	assert.Empty(t, removed)
}

// TestPurgeKeepsForeignDirectories tests that only run directories are purged
func TestPurgeKeepsForeignDirectories(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, nil)

	reports := filepath.Join(root, "reports")
	require.NoError(t, os.MkdirAll(reports, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(reports, "q3.xlsx"), []byte("x"), 0o600))
	lookalike := filepath.Join(root, "01ABANDONED")
	require.NoError(t, os.MkdirAll(lookalike, 0o750))

	abandoned, err := m.Create()
	require.NoError(t, err)

	removed, err := m.PurgeAbandoned()
	require.NoError(t, err)
	assert.Equal(t, []string{abandoned.Dir()}, removed)
	assert.FileExists(t, filepath.Join(reports, "q3.xlsx"))
	assert.DirExists(t, lookalike)
}
