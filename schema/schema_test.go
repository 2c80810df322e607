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

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		stem    string
		dataset string
		ok      bool
	}{
		{"client", "client", true},
		{"Clients_2024_05", "client", true},
		{"campaigns", "campaign", true},
		{"economics", "economics", true},
		{"economic_weekly", "economics", true},
		{"finance-q2", "economics", true},
		{"orders", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			d, ok := Match(tt.stem)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.dataset, d.Name)
		})
	}
}

func TestAllLoadOrder(t *testing.T) {
	var names []string
	for _, d := range All() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"client", "campaign", "economics"}, names)
}

func column(d Dataset, name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func TestDatasetColumns(t *testing.T) {
	assert.Equal(t,
		[]string{"campaign_id", "reference_date", "impressions", "clicks", "cost", "revenue"},
		Economics.ColumnNames())

	col, ok := column(Client, "email")
	require.True(t, ok)
	assert.Equal(t, Lower, col.Case)
	assert.False(t, col.Required)

	_, ok = column(Client, "budget")
	assert.False(t, ok)

	assert.Equal(t, "reference_date", Economics.Canonical("day"))
	assert.Equal(t, "cost", Economics.Canonical("cost"))

	// every key column must be a required column
	for _, d := range All() {
		for _, key := range d.Key {
			col, ok := column(d, key)
			require.True(t, ok, "%s.%s", d.Name, key)
			assert.True(t, col.Required, "%s.%s", d.Name, key)
		}
	}
}
