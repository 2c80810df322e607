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

package readers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaronlmathis/marketingetl/core"
)

// HeaderSource is a DataSource that knows its column names before the first
// record is read.
type HeaderSource interface {
	core.DataSource
	Headers() []string
}

// OpenFile opens a staged file with the reader matching its extension:
// .csv, .json/.jsonl (JSON lines) or .parquet.
func OpenFile(path string) (core.DataSource, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r, err := NewCSVReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return r, nil
	case ".json", ".jsonl", ".ndjson":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return NewJSONReader(f), nil
	case ".parquet":
		return NewParquetReader(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
}

// MultiReaderOption configures a MultiReader.
type MultiReaderOption func(*MultiReader)

// WithOpener replaces OpenFile, mostly for tests.
func WithOpener(open func(path string) (core.DataSource, error)) MultiReaderOption {
	return func(m *MultiReader) { m.open = open }
}

// WithOpenHook runs fn each time a file is opened, before its first record
// is read. A non-nil error stops the reader.
func WithOpenHook(fn func(path string, src core.DataSource) error) MultiReaderOption {
	return func(m *MultiReader) { m.onOpen = fn }
}

// MultiReader concatenates several files into one DataSource. Files are
// opened lazily, one at a time, in the given order.
type MultiReader struct {
	paths   []string
	open    func(path string) (core.DataSource, error)
	onOpen  func(path string, src core.DataSource) error
	idx     int
	current core.DataSource
	row     int
}

// NewMultiReader creates a reader over paths.
func NewMultiReader(paths []string, options ...MultiReaderOption) *MultiReader {
	m := &MultiReader{
		paths: append([]string(nil), paths...),
		open:  OpenFile,
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Read implements the DataSource interface
func (m *MultiReader) Read(ctx context.Context) (core.Record, error) {
	for {
		if m.current == nil {
			if m.idx >= len(m.paths) {
				return nil, io.EOF
			}
			src, err := m.open(m.paths[m.idx])
			if err != nil {
				return nil, err
			}
			m.current = src
			m.row = 0
			if m.onOpen != nil {
				if err := m.onOpen(m.paths[m.idx], src); err != nil {
					return nil, err
				}
			}
		}

		record, err := m.current.Read(ctx)
		if err == io.EOF {
			closeErr := m.current.Close()
			m.current = nil
			m.idx++
			if closeErr != nil {
				return nil, closeErr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		m.row++
		return record, nil
	}
}

// Position returns the file being read and the 1-based data row of the last
// record returned from it.
func (m *MultiReader) Position() (string, int) {
	if m.idx >= len(m.paths) {
		return "", 0
	}
	return m.paths[m.idx], m.row
}

// Close implements the DataSource interface
func (m *MultiReader) Close() error {
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}
