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

package marketingetl

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/marketingetl/core"
)

type memorySource struct {
	records []core.Record
	pos     int
	closed  bool
}

func (m *memorySource) Read(context.Context) (core.Record, error) {
	if m.pos >= len(m.records) {
		return nil, io.EOF
	}
	r := m.records[m.pos]
	m.pos++
	return r, nil
}

func (m *memorySource) Close() error {
	m.closed = true
	return nil
}

type memorySink struct {
	records  []core.Record
	writeErr error
	closeErr error
	flushed  bool
	closed   bool
}

func (m *memorySink) Write(_ context.Context, r core.Record) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memorySink) Flush() error {
	m.flushed = true
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return m.closeErr
}

// TestPipeline_Execute tests transforms, filters and counters together
func TestPipeline_Execute(t *testing.T) {
	src := &memorySource{records: []core.Record{
		{"id": 1, "name": "a"},
		{},
		{"id": 2, "name": "b"},
		{"id": 3, "name": "c"},
	}}
	sink := &memorySink{}

	p, err := NewPipeline().
		From(src).
		Map(func(_ context.Context, r core.Record) (core.Record, error) {
			r["seen"] = true
			return r, nil
		}).
		Filter(core.FilterFunc(func(_ context.Context, r core.Record) (bool, error) {
			return r["id"] != 2, nil
		})).
		To(sink).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	require.Len(t, sink.records, 2)
	assert.Equal(t, "c", sink.records[1]["name"])
	assert.Equal(t, true, sink.records[0]["seen"])
	assert.Equal(t, Stats{Read: 4, Filtered: 1, Empty: 1, Written: 2}, p.Stats())
	assert.True(t, src.closed)
	assert.True(t, sink.flushed)
	assert.True(t, sink.closed)
}

// TestPipeline_FailFast tests that the first transform error stops the run
func TestPipeline_FailFast(t *testing.T) {
	boom := errors.New("bad value")
	src := &memorySource{records: []core.Record{{"id": 1}, {"id": 2}, {"id": 3}}}
	sink := &memorySink{}

	p, err := NewPipeline().
		From(src).
		Map(func(_ context.Context, r core.Record) (core.Record, error) {
			if r["id"] == 2 {
				return nil, boom
			}
			return r, nil
		}).
		To(sink).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())
	var recErr *RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, int64(2), recErr.Index)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sink.records, 1)
	assert.True(t, sink.closed)
}

// TestPipeline_SinkCloseError tests that a failing close is reported
func TestPipeline_SinkCloseError(t *testing.T) {
	diskFull := errors.New("no space left on device")
	p, err := NewPipeline().
		From(&memorySource{records: []core.Record{{"id": 1}}}).
		To(&memorySink{closeErr: diskFull}).
		Build()
	require.NoError(t, err)

	assert.ErrorIs(t, p.Execute(context.Background()), diskFull)
}

// TestPipeline_Cancelled tests that a cancelled context stops execution
func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := NewPipeline().
		From(&memorySource{records: []core.Record{{"id": 1}}}).
		To(&memorySink{}).
		Build()
	require.NoError(t, err)

	assert.ErrorIs(t, p.Execute(ctx), context.Canceled)
}

// TestPipelineBuilder_Validation tests required components
func TestPipelineBuilder_Validation(t *testing.T) {
	_, err := NewPipeline().To(&memorySink{}).Build()
	assert.Error(t, err)

	_, err = NewPipeline().From(&memorySource{}).Build()
	assert.Error(t, err)
}
