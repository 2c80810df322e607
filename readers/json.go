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
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/aaronlmathis/marketingetl/core"
)

// JSONReaderError wraps errors from the JSON lines reader with the object index.
type JSONReaderError struct {
	Op    string
	Index int // 1-based position of the object in the stream
	Err   error
}

func (e *JSONReaderError) Error() string {
	return fmt.Sprintf("json reader %s object %d: %v", e.Op, e.Index, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// JSONReader implements DataSource for line-delimited JSON objects.
//
// Numbers are kept as their literal text and scalars are returned as strings,
// matching what the CSV reader yields. Nested objects and arrays are rejected.
type JSONReader struct {
	decoder *json.Decoder
	closer  io.Closer
	index   int
}

// NewJSONReader creates a new JSON reader for line-delimited JSON
func NewJSONReader(r io.ReadCloser) *JSONReader {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	return &JSONReader{
		decoder: decoder,
		closer:  r,
	}
}

// Read implements the DataSource interface
func (j *JSONReader) Read(ctx context.Context) (core.Record, error) {
	select {
	case <-ctx.Done():
		return nil, &JSONReaderError{Op: "read", Index: j.index + 1, Err: ctx.Err()}
	default:
	}

	var raw map[string]interface{}
	if err := j.decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &JSONReaderError{Op: "decode", Index: j.index + 1, Err: err}
	}
	j.index++

	record := make(core.Record, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			record[key] = nil
		case string:
			if v == "" {
				record[key] = nil
			} else {
				record[key] = v
			}
		case json.Number:
			record[key] = v.String()
		case bool:
			record[key] = strconv.FormatBool(v)
		default:
			return nil, &JSONReaderError{
				Op:    "decode",
				Index: j.index,
				Err:   fmt.Errorf("field %q holds a nested %T", key, value),
			}
		}
	}

	return record, nil
}

// Close implements the DataSource interface
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
