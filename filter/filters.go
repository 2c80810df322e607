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

package filter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aaronlmathis/marketingetl/core"
)

// Package filter provides the record filters used while refining datasets.
// All functions return core.Filter implementations for use in pipelines.

// NotNull creates a filter that excludes records where the specified field is nil or empty
func NotNull(field string) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		value, exists := record[field]
		if !exists || value == nil {
			return false, nil
		}
		if str, ok := value.(string); ok && str == "" {
			return false, nil
		}
		return true, nil
	})
}

// Or creates a filter that includes records passing any of the given filters
func Or(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, f := range filters {
			include, err := f.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if include {
				return true, nil
			}
		}
		return false, nil
	})
}

// AnyNotNull excludes records where every one of fields is nil or empty,
// such as the trailing all-comma rows spreadsheet exports produce.
func AnyNotNull(fields ...string) core.Filter {
	filters := make([]core.Filter, len(fields))
	for i, f := range fields {
		filters[i] = NotNull(f)
	}
	return Or(filters...)
}

// UniqueFilter drops records whose key was already seen. The first
// occurrence wins.
type UniqueFilter struct {
	keys    []string
	seen    map[string]struct{}
	dropped int64
	mu      sync.Mutex
}

// Unique creates a UniqueFilter keyed on the given fields.
func Unique(keys ...string) *UniqueFilter {
	return &UniqueFilter{
		keys: append([]string(nil), keys...),
		seen: make(map[string]struct{}),
	}
}

// ShouldInclude implements the core.Filter interface.
func (u *UniqueFilter) ShouldInclude(ctx context.Context, record core.Record) (bool, error) {
	parts := make([]string, len(u.keys))
	for i, k := range u.keys {
		v, ok := record[k]
		if !ok {
			return false, fmt.Errorf("unique: key field %q missing", k)
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	key := strings.Join(parts, "\x1f")

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, dup := u.seen[key]; dup {
		u.dropped++
		return false, nil
	}
	u.seen[key] = struct{}{}
	return true, nil
}

// Dropped returns the number of duplicates excluded so far.
func (u *UniqueFilter) Dropped() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropped
}
