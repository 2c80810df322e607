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

package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aaronlmathis/marketingetl"
	"github.com/aaronlmathis/marketingetl/core"
	"github.com/aaronlmathis/marketingetl/filter"
	"github.com/aaronlmathis/marketingetl/readers"
	"github.com/aaronlmathis/marketingetl/schema"
	"github.com/aaronlmathis/marketingetl/validators"
	"github.com/aaronlmathis/marketingetl/workspace"
	"github.com/aaronlmathis/marketingetl/writers"
)

const refinedBatchSize = 1000

// RefinerOption configures a Refiner.
type RefinerOption func(*Refiner)

// WithLocation sets the canonical timezone dates and timestamps are normalized into.
func WithLocation(loc *time.Location) RefinerOption {
	return func(r *Refiner) { r.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RefinerOption {
	return func(r *Refiner) { r.logger = logger }
}

// WithFileOpener replaces readers.OpenFile.
func WithFileOpener(open func(path string) (core.DataSource, error)) RefinerOption {
	return func(r *Refiner) { r.open = open }
}

// Refiner turns a run's staged files into the three refined datasets.
type Refiner struct {
	loc    *time.Location
	logger *slog.Logger
	open   func(path string) (core.DataSource, error)
}

// NewRefiner creates a Refiner. The default location is UTC.
func NewRefiner(opts ...RefinerOption) *Refiner {
	r := &Refiner{
		loc:  time.UTC,
		open: readers.OpenFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Transform routes every staged file to its dataset, refines each dataset into
// <refined>/<dataset>.csv and returns the files in load order. On any error the
// refined directory is removed and the staged files are left untouched.
func (r *Refiner) Transform(ctx context.Context, run *workspace.Run, staged []core.StagedFile) ([]core.RefinedFile, error) {
	routed, err := route(staged)
	if err != nil {
		return nil, err
	}

	if err := run.ResetRefined(); err != nil {
		return nil, &core.TransformationError{Op: "prepare", Err: err}
	}

	out := make([]core.RefinedFile, 0, len(routed))
	for _, ds := range schema.All() {
		refined, err := r.refine(ctx, run, ds, routed[ds.Name])
		if err != nil {
			if rmErr := run.RemoveRefined(); rmErr != nil {
				r.logger.Warn("could not discard refined output", "run_id", run.ID(), "error", rmErr)
			}
			return nil, err
		}
		out = append(out, refined)
	}
	return out, nil
}

// route groups staged files by dataset. Every file must match a dataset and
// every dataset must get at least one file.
func route(staged []core.StagedFile) (map[string][]core.StagedFile, error) {
	routed := make(map[string][]core.StagedFile)
	for _, f := range staged {
		base := filepath.Base(f.Path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		ds, ok := schema.Match(stem)
		if !ok {
			return nil, &core.TransformationError{
				Op:   "route",
				File: f.Key,
				Err:  fmt.Errorf("file does not belong to any dataset"),
			}
		}
		routed[ds.Name] = append(routed[ds.Name], f)
	}
	for _, ds := range schema.All() {
		if len(routed[ds.Name]) == 0 {
			return nil, &core.TransformationError{
				Op:      "route",
				Dataset: ds.Name,
				Err:     fmt.Errorf("no staged file for dataset"),
			}
		}
	}
	return routed, nil
}

func (r *Refiner) refine(ctx context.Context, run *workspace.Run, ds schema.Dataset, files []core.StagedFile) (core.RefinedFile, error) {
	fail := func(op, file string, row int, err error) error {
		return &core.TransformationError{Op: op, Dataset: ds.Name, File: file, Row: row, Err: err}
	}

	path := filepath.Join(run.RefinedDir(), ds.Name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return core.RefinedFile{}, fail("create", "", 0, err)
	}

	sink, err := writers.NewCSVWriter(f,
		writers.WithHeaders(ds.ColumnNames()),
		writers.WithStrictColumns(true),
		writers.WithCSVBatchSize(refinedBatchSize),
	)
	if err != nil {
		f.Close()
		return core.RefinedFile{}, fail("create", "", 0, err)
	}

	validator := validators.NewSchemaValidator(ds)
	headerFailed := false
	keys := make(map[string]string, len(files))
	paths := make([]string, len(files))
	for i, sf := range files {
		paths[i] = sf.Path
		keys[sf.Path] = sf.Key
	}

	source := readers.NewMultiReader(paths,
		readers.WithOpener(r.open),
		readers.WithOpenHook(func(path string, src core.DataSource) error {
			hs, ok := src.(readers.HeaderSource)
			if !ok {
				return nil
			}
			headers := make([]string, len(hs.Headers()))
			for i, h := range hs.Headers() {
				headers[i] = ds.Canonical(NormalizeKey(h))
			}
			if err := validator.ValidateColumns(headers); err != nil {
				headerFailed = true
				return err
			}
			return nil
		}),
	)

	columns := ds.ColumnNames()
	var required, lower, upper []string
	for _, c := range ds.Columns {
		if c.Required {
			required = append(required, c.Name)
		}
		switch c.Case {
		case schema.Lower:
			lower = append(lower, c.Name)
		case schema.Upper:
			upper = append(upper, c.Name)
		}
	}
	notBlank := filter.AnyNotNull(columns...)
	unique := filter.Unique(ds.Key...)

	pipeline, err := marketingetl.NewPipeline().
		From(source).
		Transform(NormalizeKeys()).
		Transform(Rename(ds.Aliases)).
		Transform(validator).
		Transform(Nullify(columns...)).
		Map(func(ctx context.Context, record core.Record) (core.Record, error) {
			keep, err := notBlank.ShouldInclude(ctx, record)
			if err != nil || keep {
				return record, err
			}
			return core.Record{}, nil
		}).
		Transform(Required(required...)).
		Transform(TrimSpace(columns...)).
		Transform(Coerce(ds, r.loc)).
		Transform(ToLower(lower...)).
		Transform(ToUpper(upper...)).
		Filter(unique).
		To(sink).
		Build()
	if err != nil {
		source.Close()
		sink.Close()
		return core.RefinedFile{}, fail("build", "", 0, err)
	}

	if err := pipeline.Execute(ctx); err != nil {
		file, row := source.Position()
		var recErr *marketingetl.RecordError
		switch {
		case headerFailed:
			row = 0
		case errors.As(err, &recErr) && recErr.Index > pipeline.Stats().Read:
			// the failing record was never returned, so it is the next one
			row++
		}
		op := "refine"
		var schemaErr *validators.SchemaError
		if errors.As(err, &schemaErr) {
			op = "schema"
		}
		if name, ok := keys[file]; ok {
			file = name
		}
		return core.RefinedFile{}, fail(op, file, row, err)
	}

	stats := pipeline.Stats()
	if dropped := unique.Dropped(); dropped > 0 {
		r.logger.Info("dropped duplicate rows", "run_id", run.ID(), "dataset", ds.Name, "rows", dropped)
	}
	if stats.Empty > 0 {
		r.logger.Info("skipped blank rows", "run_id", run.ID(), "dataset", ds.Name, "rows", stats.Empty)
	}
	r.logger.Info("dataset refined", "run_id", run.ID(), "dataset", ds.Name, "files", len(files), "rows", stats.Written)

	return core.RefinedFile{Dataset: ds.Name, Path: path, Rows: stats.Written}, nil
}
