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

// Package load moves the refined datasets of a run into the warehouse inside
// a single transaction.
package load

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/aaronlmathis/marketingetl/core"
	"github.com/aaronlmathis/marketingetl/readers"
	"github.com/aaronlmathis/marketingetl/schema"
	"github.com/aaronlmathis/marketingetl/workspace"
	"github.com/aaronlmathis/marketingetl/writers"
)

// Opener connects to the warehouse. It is called once per Load.
type Opener func(ctx context.Context) (writers.Store, error)

// Result reports the rows committed per dataset.
type Result struct {
	Rows map[string]int64
}

// Loader bulk-loads refined datasets.
type Loader struct {
	open   Opener
	logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger uses slog.Default().
func NewLoader(open Opener, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{open: open, logger: logger}
}

// Load inserts every dataset in client, campaign, economics order within one
// transaction. It commits only when all three succeed; otherwise the
// transaction is rolled back and the run directory is left for inspection.
// After a commit the run directory is removed.
func (l *Loader) Load(ctx context.Context, run *workspace.Run, refined []core.RefinedFile) (Result, error) {
	start := time.Now()

	files := make(map[string]string, len(refined))
	for _, f := range refined {
		files[f.Dataset] = f.Path
	}
	datasets := schema.All()
	for _, ds := range datasets {
		path, ok := files[ds.Name]
		if !ok {
			return Result{}, &core.LoadError{Op: "prepare", Dataset: ds.Name, Err: fmt.Errorf("no refined file")}
		}
		if err := checkHeader(path, ds); err != nil {
			return Result{}, &core.LoadError{Op: "header", Dataset: ds.Name, Err: err}
		}
	}

	store, err := l.open(ctx)
	if err != nil {
		return Result{}, &core.LoadError{Op: "connect", Err: err}
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.logger.Warn("closing warehouse connection", "run_id", run.ID(), "error", err)
		}
	}()

	tx, err := store.Begin(ctx)
	if err != nil {
		return Result{}, &core.LoadError{Op: "begin", Err: err}
	}
	// No-op once committed. Also runs while a panic unwinds.
	defer tx.Rollback()

	result := Result{Rows: make(map[string]int64, len(datasets))}
	for _, ds := range datasets {
		n, err := copyFile(ctx, tx, ds, files[ds.Name])
		if err != nil {
			return Result{}, &core.LoadError{Op: "copy", Dataset: ds.Name, Err: err}
		}
		result.Rows[ds.Name] = n
	}

	if err := ctx.Err(); err != nil {
		return Result{}, &core.LoadError{Op: "commit", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return Result{}, &core.LoadError{Op: "commit", Err: err}
	}

	l.logger.Info("load committed",
		"run_id", run.ID(),
		"client", result.Rows[schema.Client.Name],
		"campaign", result.Rows[schema.Campaign.Name],
		"economics", result.Rows[schema.Economics.Name],
		"duration", time.Since(start))

	if err := run.Remove(); err != nil {
		l.logger.Warn("could not remove run directory", "run_id", run.ID(), "error", err)
	}
	return result, nil
}

// checkHeader verifies that a refined file starts with exactly the dataset's
// columns, in table order.
func checkHeader(path string, ds schema.Dataset) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	r, err := readers.NewCSVReader(f)
	if err != nil {
		f.Close()
		return err
	}
	defer r.Close()

	if got, want := r.Headers(), ds.ColumnNames(); !slices.Equal(got, want) {
		return fmt.Errorf("header %v does not match columns %v", got, want)
	}
	return nil
}

func copyFile(ctx context.Context, tx writers.Tx, ds schema.Dataset, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	r, err := readers.NewCSVReader(f)
	if err != nil {
		f.Close()
		return 0, err
	}
	defer r.Close()

	return tx.Copy(ctx, ds.Table, r.Headers(), r)
}
