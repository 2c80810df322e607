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
	"fmt"
	"strings"

	"github.com/aaronlmathis/marketingetl/core"
)

// Package transform provides the record transformers used to refine staged
// marketing files into canonical datasets, plus the Refiner that drives them.
//
// Every transformer returns a new record and leaves its input untouched.

// nullTokens are the cell values read as NULL, compared case-insensitively
// after trimming.
var nullTokens = map[string]bool{
	"":     true,
	"null": true,
	"none": true,
	"nan":  true,
	"n/a":  true,
	"-":    true,
}

// IsNullToken reports whether s spells a missing value.
func IsNullToken(s string) bool {
	return nullTokens[strings.ToLower(strings.TrimSpace(s))]
}

// NormalizeKey trims a raw header, lower-cases it and turns runs of spaces
// and hyphens into a single underscore.
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	var b strings.Builder
	b.Grow(len(key))
	sep := false
	for _, r := range key {
		if r == ' ' || r == '-' || r == '\t' {
			if !sep {
				b.WriteByte('_')
				sep = true
			}
			continue
		}
		sep = false
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeKeys creates a transformer that applies NormalizeKey to every field
// name. Two fields collapsing onto the same name is an error.
func NormalizeKeys() core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		origin := make(map[string]string, len(record))
		for key, value := range record {
			norm := NormalizeKey(key)
			if prev, dup := origin[norm]; dup {
				return nil, fmt.Errorf("fields %q and %q both normalize to %q", prev, key, norm)
			}
			origin[norm] = key
			result[norm] = value
		}
		return result, nil
	})
}

// Rename creates a transformer that renames fields according to the provided mapping.
// Keys are original field names, values are new field names. A rename that
// lands on a field already present is an error.
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		origin := make(map[string]string, len(record))
		for key, value := range record {
			newKey := key
			if mapped, exists := mapping[key]; exists {
				newKey = mapped
			}
			if prev, dup := origin[newKey]; dup {
				return nil, fmt.Errorf("fields %q and %q both map to %q", prev, key, newKey)
			}
			origin[newKey] = key
			result[newKey] = value
		}
		return result, nil
	})
}

// TrimSpace creates a transformer that trims whitespace from the specified string fields.
func TrimSpace(fields ...string) core.Transformer {
	return mapStrings(fields, strings.TrimSpace)
}

// ToUpper creates a transformer that converts the specified string fields to uppercase.
func ToUpper(fields ...string) core.Transformer {
	return mapStrings(fields, strings.ToUpper)
}

// ToLower creates a transformer that converts the specified string fields to lowercase.
func ToLower(fields ...string) core.Transformer {
	return mapStrings(fields, strings.ToLower)
}

func mapStrings(fields []string, fn func(string) string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := copyRecord(record)
		for _, field := range fields {
			if str, ok := record[field].(string); ok {
				result[field] = fn(str)
			}
		}
		return result, nil
	})
}

// Nullify creates a transformer that replaces null tokens in the given string
// fields with nil.
func Nullify(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := copyRecord(record)
		for _, field := range fields {
			if str, ok := record[field].(string); ok && IsNullToken(str) {
				result[field] = nil
			}
		}
		return result, nil
	})
}

// Required creates a transformer that fails when any of the given fields is
// missing or nil.
func Required(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		for _, field := range fields {
			if record[field] == nil {
				return nil, fmt.Errorf("required column %q is null", field)
			}
		}
		return record, nil
	})
}

func copyRecord(record core.Record) core.Record {
	result := make(core.Record, len(record))
	for k, v := range record {
		result[k] = v
	}
	return result
}
