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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/marketingetl/core"
)

func TestNotNull(t *testing.T) {
	ctx := context.Background()
	f := NotNull("email")

	tests := []struct {
		name   string
		record core.Record
		want   bool
	}{
		{"value", core.Record{"email": "a@b.com"}, true},
		{"nil", core.Record{"email": nil}, false},
		{"empty string", core.Record{"email": ""}, false},
		{"missing", core.Record{"name": "x"}, false},
		{"zero number", core.Record{"email": 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.ShouldInclude(ctx, tt.record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnyNotNull(t *testing.T) {
	ctx := context.Background()
	f := AnyNotNull("a", "b", "c")

	got, err := f.ShouldInclude(ctx, core.Record{"a": nil, "b": nil, "c": "x"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = f.ShouldInclude(ctx, core.Record{"a": nil, "b": "", "c": nil})
	require.NoError(t, err)
	assert.False(t, got)
}

// TestUnique tests first-occurrence-wins deduplication on composite keys
func TestUnique(t *testing.T) {
	ctx := context.Background()
	u := Unique("campaign_id", "reference_date")

	records := []core.Record{
		{"campaign_id": int64(1), "reference_date": "2024-06-01", "cost": "10"},
		{"campaign_id": int64(1), "reference_date": "2024-06-02", "cost": "11"},
		{"campaign_id": int64(1), "reference_date": "2024-06-01", "cost": "99"},
		{"campaign_id": int64(2), "reference_date": "2024-06-01", "cost": "12"},
	}
	var kept []string
	for _, r := range records {
		ok, err := u.ShouldInclude(ctx, r)
		require.NoError(t, err)
		if ok {
			kept = append(kept, r["cost"].(string))
		}
	}

	assert.Equal(t, []string{"10", "11", "12"}, kept)
	assert.Equal(t, int64(1), u.Dropped())
}

func TestUnique_MissingKey(t *testing.T) {
	_, err := Unique("client_id").ShouldInclude(context.Background(), core.Record{"name": "x"})
	assert.ErrorContains(t, err, `"client_id"`)
}
