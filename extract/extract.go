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

// Package extract copies the raw objects of a bucket prefix into a run's
// staging directory.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aaronlmathis/marketingetl/core"
	"github.com/aaronlmathis/marketingetl/readers"
	"github.com/aaronlmathis/marketingetl/workspace"
)

// Bucket is the object listing the extractor reads from. *readers.S3Source
// implements it.
type Bucket interface {
	List(ctx context.Context) ([]readers.S3Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Extractor stages bucket objects on local disk.
type Extractor struct {
	bucket Bucket
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil logger uses slog.Default().
func NewExtractor(bucket Bucket, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{bucket: bucket, logger: logger}
}

// Extract downloads every listed object into the run's staging directory and
// returns the staged files sorted by key. Prior staging state is discarded
// first, and a failed attempt removes everything it wrote, so Extract can be
// retried on the same run without cleanup.
func (e *Extractor) Extract(ctx context.Context, run *workspace.Run) (staged []core.StagedFile, err error) {
	start := time.Now()

	if err := run.ResetStaging(); err != nil {
		return nil, &core.ExtractionError{Op: "prepare", Err: err}
	}
	defer func() {
		if err == nil {
			return
		}
		if rmErr := run.RemoveStaging(); rmErr != nil {
			e.logger.Warn("could not remove partial staging", "run_id", run.ID(), "error", rmErr)
		}
	}()

	objects, err := e.bucket.List(ctx)
	if err != nil {
		return nil, &core.ExtractionError{Op: "list_objects", Err: err}
	}
	if len(objects) == 0 {
		return nil, &core.ExtractionError{Op: "list_objects", Err: fmt.Errorf("no objects under prefix")}
	}

	var bytes int64
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return nil, &core.ExtractionError{Op: "download", Err: err}
		}

		path, err := run.StagingPath(obj.RelativeKey)
		if err != nil {
			return nil, &core.ExtractionError{Op: "stage", Key: obj.Key, Err: err}
		}
		n, err := e.download(ctx, obj.Key, path)
		if err != nil {
			return nil, &core.ExtractionError{Op: "download", Key: obj.Key, Err: err}
		}

		e.logger.Debug("object staged", "run_id", run.ID(), "key", obj.Key, "bytes", n)
		staged = append(staged, core.StagedFile{Key: obj.RelativeKey, Path: path, Size: n})
		bytes += n
	}

	sort.Slice(staged, func(i, j int) bool { return staged[i].Key < staged[j].Key })

	e.logger.Info("extraction complete",
		"run_id", run.ID(),
		"files", len(staged),
		"bytes", bytes,
		"duration", time.Since(start))
	return staged, nil
}

// download writes one object next to its destination and renames it into
// place once complete.
func (e *Extractor) download(ctx context.Context, key, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, err
	}

	body, err := e.bucket.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(part)
		return 0, err
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return 0, err
	}
	return n, nil
}
