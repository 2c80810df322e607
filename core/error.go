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

package core

import (
	"errors"
	"fmt"
	"strings"
)

// Package core defines the error types shared by every pipeline stage.
//
// Each stage reports failures through its own error type so the controller can
// tell which stage failed and apply that stage's retry policy.

// Stage identifies one step of a pipeline run.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

func (s Stage) String() string { return string(s) }

// ExtractionError reports a failure copying objects from the bucket into staging:
// bad credentials, unreachable bucket, missing objects or local I/O.
type ExtractionError struct {
	Op  string // Operation that failed (e.g., "list_objects", "get_object", "write")
	Key string // Object key, when the failure concerns a single object
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("extract %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// TransformationError reports a schema mismatch, an unparseable row or a
// missing required field.
type TransformationError struct {
	Op      string // Operation that failed (e.g., "route", "schema", "refine")
	Dataset string // Refined dataset being produced
	File    string // Staged file being read
	Row     int    // 1-based data row within File, 0 when not row specific
	Err     error
}

func (e *TransformationError) Error() string {
	var b strings.Builder
	b.WriteString("transform ")
	b.WriteString(e.Op)
	if e.Dataset != "" {
		fmt.Fprintf(&b, " dataset=%s", e.Dataset)
	}
	if e.File != "" {
		fmt.Fprintf(&b, " file=%s", e.File)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " row=%d", e.Row)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *TransformationError) Unwrap() error {
	return e.Err
}

// LoadError reports a connection failure, a constraint violation or a rolled
// back transaction. Dataset names the table whose insert failed.
type LoadError struct {
	Op      string // Operation that failed (e.g., "connect", "copy", "commit")
	Dataset string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Dataset != "" {
		return fmt.Sprintf("load %s %s: %v", e.Op, e.Dataset, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Op, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// StageOf reports which stage produced err.
func StageOf(err error) (Stage, bool) {
	var extractErr *ExtractionError
	var transformErr *TransformationError
	var loadErr *LoadError

	switch {
	case errors.As(err, &extractErr):
		return StageExtract, true
	case errors.As(err, &transformErr):
		return StageTransform, true
	case errors.As(err, &loadErr):
		return StageLoad, true
	default:
		return "", false
	}
}

// NewStageError wraps err in the error type of stage. Errors that already
// belong to stage are returned unchanged.
func NewStageError(stage Stage, op string, err error) error {
	if err == nil {
		return nil
	}
	if got, ok := StageOf(err); ok && got == stage {
		return err
	}
	switch stage {
	case StageExtract:
		return &ExtractionError{Op: op, Err: err}
	case StageTransform:
		return &TransformationError{Op: op, Err: err}
	case StageLoad:
		return &LoadError{Op: op, Err: err}
	default:
		return fmt.Errorf("%s %s: %w", stage, op, err)
	}
}
