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

// validators.go - Schema validation for refined datasets
package validators

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aaronlmathis/marketingetl/core"
	"github.com/aaronlmathis/marketingetl/schema"
)

// SchemaError lists every way a column set differs from a dataset schema.
type SchemaError struct {
	Dataset    string
	Missing    []string // schema columns not present
	Unexpected []string // present columns the schema does not define
	Duplicate  []string // columns present more than once
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing columns "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected columns "+strings.Join(e.Unexpected, ", "))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate columns "+strings.Join(e.Duplicate, ", "))
	}
	return fmt.Sprintf("schema mismatch for %s: %s", e.Dataset, strings.Join(parts, "; "))
}

// SchemaValidator checks that headers and records carry exactly the columns
// of one dataset. It implements core.Transformer so it can sit in a pipeline
// for sources, such as JSON lines, that have no header row.
type SchemaValidator struct {
	dataset  string
	expected []string
	known    map[string]bool
}

// NewSchemaValidator creates a validator for ds.
func NewSchemaValidator(ds schema.Dataset) *SchemaValidator {
	known := make(map[string]bool, len(ds.Columns))
	for _, c := range ds.Columns {
		known[c.Name] = true
	}
	return &SchemaValidator{
		dataset:  ds.Name,
		expected: ds.ColumnNames(),
		known:    known,
	}
}

// ValidateColumns compares a canonical header list with the schema. Order is
// not checked.
func (v *SchemaValidator) ValidateColumns(columns []string) error {
	seen := make(map[string]int, len(columns))
	for _, c := range columns {
		seen[c]++
	}

	serr := &SchemaError{Dataset: v.dataset}
	for _, c := range v.expected {
		if seen[c] == 0 {
			serr.Missing = append(serr.Missing, c)
		}
	}
	for c, n := range seen {
		if !v.known[c] {
			serr.Unexpected = append(serr.Unexpected, c)
		}
		if n > 1 {
			serr.Duplicate = append(serr.Duplicate, c)
		}
	}
	if len(serr.Missing)+len(serr.Unexpected)+len(serr.Duplicate) == 0 {
		return nil
	}
	sort.Strings(serr.Unexpected)
	sort.Strings(serr.Duplicate)
	return serr
}

// Transform implements core.Transformer. The record passes through unchanged
// when its keys match the schema.
func (v *SchemaValidator) Transform(ctx context.Context, record core.Record) (core.Record, error) {
	columns := make([]string, 0, len(record))
	for k := range record {
		columns = append(columns, k)
	}
	if err := v.ValidateColumns(columns); err != nil {
		return nil, err
	}
	return record, nil
}
