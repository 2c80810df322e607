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

package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/marketingetl/core"
	"github.com/aaronlmathis/marketingetl/schema"
	"github.com/aaronlmathis/marketingetl/workspace"
	"github.com/aaronlmathis/marketingetl/writers"
)

// memStore is a transactional in-memory warehouse. Rows become visible in
// tables only on commit.
type memStore struct {
	mu        sync.Mutex
	tables    map[string][]core.Record
	failTable string
	panicOn   string
	begins    int
	commits   int
	rollbacks int
	closed    bool
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string][]core.Record)}
}

func (m *memStore) Begin(context.Context) (writers.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++
	return &memTx{store: m, pending: make(map[string][]core.Record)}, nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

type memTx struct {
	store   *memStore
	pending map[string][]core.Record
	done    bool
}

func (t *memTx) Copy(ctx context.Context, table string, columns []string, src core.DataSource) (int64, error) {
	if table == t.store.panicOn {
		panic("driver bug")
	}
	var n int64
	for {
		rec, err := src.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		t.pending[table] = append(t.pending[table], rec)
		n++
	}
	if table == t.store.failTable {
		return n, errors.New("violates foreign key constraint")
	}
	return n, nil
}

func (t *memTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for table, rows := range t.pending {
		t.store.tables[table] = append(t.store.tables[table], rows...)
	}
	t.store.commits++
	t.done = true
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
	return nil
}

func opener(store *memStore) Opener {
	return func(context.Context) (writers.Store, error) { return store, nil }
}

// writeRefined writes n rows per dataset into the run's refined directory.
func writeRefined(t *testing.T, run *workspace.Run, sizes map[string]int) []core.RefinedFile {
	t.Helper()
	require.NoError(t, run.ResetRefined())

	var out []core.RefinedFile
	for _, ds := range schema.All() {
		var b strings.Builder
		b.WriteString(strings.Join(ds.ColumnNames(), ",") + "\n")
		for i := 0; i < sizes[ds.Name]; i++ {
			cells := make([]string, len(ds.Columns))
			cells[0] = fmt.Sprint(i + 1)
			b.WriteString(strings.Join(cells, ",") + "\n")
		}
		path := filepath.Join(run.RefinedDir(), ds.Name+".csv")
		require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
		out = append(out, core.RefinedFile{Dataset: ds.Name, Path: path, Rows: int64(sizes[ds.Name])})
	}
	return out
}

func newRun(t *testing.T) *workspace.Run {
	t.Helper()
	run, err := workspace.NewManager(t.TempDir(), nil).Create()
	require.NoError(t, err)
	return run
}

var sizes = map[string]int{"client": 10, "campaign": 5, "economics": 8}

// TestLoad_CommitsAllAndCleansUp tests the success path
func TestLoad_CommitsAllAndCleansUp(t *testing.T) {
	run := newRun(t)
	refined := writeRefined(t, run, sizes)
	store := newMemStore()

	result, err := NewLoader(opener(store), nil).Load(context.Background(), run, refined)
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{"client": 10, "campaign": 5, "economics": 8}, result.Rows)
	assert.Equal(t, 10, store.count("client"))
	assert.Equal(t, 5, store.count("campaign"))
	assert.Equal(t, 8, store.count("economics"))
	assert.Equal(t, 1, store.commits)
	assert.Equal(t, 0, store.rollbacks)
	assert.True(t, store.closed)
	assert.False(t, run.Exists(), "run directory is removed after commit")
}

// TestLoad_AllOrNothing tests that a failure on any table commits nothing
func TestLoad_AllOrNothing(t *testing.T) {
	for _, ds := range schema.All() {
		t.Run(ds.Name, func(t *testing.T) {
			run := newRun(t)
			refined := writeRefined(t, run, sizes)
			store := newMemStore()
			store.tables["client"] = []core.Record{{"client_id": "99"}}
			store.failTable = ds.Table

			_, err := NewLoader(opener(store), nil).Load(context.Background(), run, refined)
			var loadErr *core.LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, ds.Name, loadErr.Dataset)

			assert.Equal(t, 1, store.count("client"))
			assert.Equal(t, 0, store.count("campaign"))
			assert.Equal(t, 0, store.count("economics"))
			assert.Equal(t, 0, store.commits)
			assert.Equal(t, 1, store.rollbacks)
			assert.True(t, store.closed)
			assert.True(t, run.Exists(), "run directory is kept for inspection")
		})
	}
}

// TestLoad_HeaderMismatch tests that a bad header never reaches the database
func TestLoad_HeaderMismatch(t *testing.T) {
	run := newRun(t)
	refined := writeRefined(t, run, sizes)
	require.NoError(t, os.WriteFile(refined[1].Path, []byte("name,campaign_id\n"), 0o600))
	store := newMemStore()

	_, err := NewLoader(opener(store), nil).Load(context.Background(), run, refined)
	var loadErr *core.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "header", loadErr.Op)
	assert.Equal(t, "campaign", loadErr.Dataset)
	assert.Equal(t, 0, store.begins)
}

// TestLoad_ConnectError tests that connection failures are load errors
func TestLoad_ConnectError(t *testing.T) {
	run := newRun(t)
	refined := writeRefined(t, run, sizes)
	refused := errors.New("connection refused")

	_, err := NewLoader(func(context.Context) (writers.Store, error) { return nil, refused }, nil).
		Load(context.Background(), run, refined)
	var loadErr *core.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "connect", loadErr.Op)
	assert.ErrorIs(t, err, refused)
}

// TestLoad_CancelledBeforeCommit tests that cancellation never commits
func TestLoad_CancelledBeforeCommit(t *testing.T) {
	run := newRun(t)
	refined := writeRefined(t, run, sizes)
	store := newMemStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(opener(store), nil).Load(ctx, run, refined)
	require.Error(t, err)
	assert.Equal(t, 0, store.commits)
	assert.Equal(t, 0, store.count("client"))
	assert.True(t, run.Exists())
}

// TestLoad_PanicReleasesResources tests that a panic still rolls back and closes
func TestLoad_PanicReleasesResources(t *testing.T) {
	run := newRun(t)
	refined := writeRefined(t, run, sizes)
	store := newMemStore()
	store.panicOn = "campaign"

	assert.Panics(t, func() {
		NewLoader(opener(store), nil).Load(context.Background(), run, refined)
	})
	assert.Equal(t, 1, store.rollbacks)
	assert.True(t, store.closed)
	assert.Equal(t, 0, store.count("client"))
}
