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
	"fmt"
	"io"

	"github.com/aaronlmathis/marketingetl/core"
)

// Package marketingetl holds the streaming record pipeline used by every stage
// that moves rows: a DataSource is read record by record, each record flows
// through the transformers and filters in order, and survivors are written to
// a DataSink.
//
//   p, err := marketingetl.NewPipeline().
//       From(reader).
//       Transform(transform.NormalizeKeys()).
//       Filter(filter.Unique("client_id")).
//       To(writer).
//       Build()
//   if err != nil { return err }
//   if err := p.Execute(ctx); err != nil { return err }
//
// Execution is fail-fast: the first error stops the pipeline. A refined
// dataset is either complete or invalid, so there is no skip mode.

// PipelineBuilder provides a fluent API for constructing record pipelines.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			transformers: make([]core.Transformer, 0),
			filters:      make([]core.Filter, 0),
		},
	}
}

// From sets the DataSource for the pipeline.
func (pb *PipelineBuilder) From(source core.DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform adds a Transformer to the pipeline.
func (pb *PipelineBuilder) Transform(transformer core.Transformer) *PipelineBuilder {
	pb.pipeline.transformers = append(pb.pipeline.transformers, transformer)
	return pb
}

// Filter adds a Filter to the pipeline.
func (pb *PipelineBuilder) Filter(filter core.Filter) *PipelineBuilder {
	pb.pipeline.filters = append(pb.pipeline.filters, filter)
	return pb
}

// Map adds a mapping transformation to the pipeline using a function.
func (pb *PipelineBuilder) Map(fn func(ctx context.Context, record core.Record) (core.Record, error)) *PipelineBuilder {
	return pb.Transform(core.TransformFunc(fn))
}

// To sets the DataSink for the pipeline.
func (pb *PipelineBuilder) To(sink core.DataSink) *PipelineBuilder {
	pb.pipeline.sink = sink
	return pb
}

// Build validates and constructs the Pipeline from the builder.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	return pb.pipeline, nil
}

// RecordError reports the 1-based index of the source record that failed.
type RecordError struct {
	Index int64
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Stats counts what happened to the records of one Execute call.
type Stats struct {
	Read     int64 // records returned by the source
	Filtered int64 // records dropped by a filter
	Empty    int64 // records skipped because they were or became empty
	Written  int64 // records accepted by the sink
}

// Pipeline represents a data processing pipeline for streaming ETL operations.
type Pipeline struct {
	transformers []core.Transformer
	filters      []core.Filter
	source       core.DataSource
	sink         core.DataSink
	stats        Stats
}

// Execute runs the pipeline, processing all records from source to sink.
// Source and sink are closed on return. A sink that fails to flush or close
// fails the execution even when every record was written.
func (p *Pipeline) Execute(ctx context.Context) (err error) {
	defer func() {
		p.source.Close()
		flushErr := p.sink.Flush()
		closeErr := p.sink.Close()
		if err != nil {
			return
		}
		if flushErr != nil {
			err = fmt.Errorf("flush sink: %w", flushErr)
		} else if closeErr != nil {
			err = fmt.Errorf("close sink: %w", closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := p.source.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &RecordError{Index: p.stats.Read + 1, Err: err}
		}
		p.stats.Read++

		if len(record) == 0 {
			p.stats.Empty++
			continue
		}

		transformed, err := p.applyTransformations(ctx, record)
		if err != nil {
			return &RecordError{Index: p.stats.Read, Err: err}
		}
		if len(transformed) == 0 {
			p.stats.Empty++
			continue
		}

		include, err := p.applyFilters(ctx, transformed)
		if err != nil {
			return &RecordError{Index: p.stats.Read, Err: err}
		}
		if !include {
			p.stats.Filtered++
			continue
		}

		if err := p.sink.Write(ctx, transformed); err != nil {
			return &RecordError{Index: p.stats.Read, Err: err}
		}
		p.stats.Written++
	}
}

// Stats returns the counters of the last Execute call.
func (p *Pipeline) Stats() Stats {
	return p.stats
}

func (p *Pipeline) applyFilters(ctx context.Context, record core.Record) (bool, error) {
	for _, filter := range p.filters {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pipeline) applyTransformations(ctx context.Context, record core.Record) (core.Record, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		// an emptied record is dropped, later transformers never see it
		if len(transformed) == 0 {
			return transformed, nil
		}
		current = transformed
	}
	return current, nil
}
