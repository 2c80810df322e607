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
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/marketingetl/core"
	"github.com/aaronlmathis/marketingetl/schema"
)

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		" Client ID ":    "client_id",
		"start-date":     "start_date",
		"Reference  Day": "reference_day",
		"e - mail":       "e_mail",
		"cost":           "cost",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeKey(in), in)
	}
}

// TestNormalizeKeys_Collision tests that two headers collapsing together fail
func TestNormalizeKeys_Collision(t *testing.T) {
	_, err := NormalizeKeys().Transform(context.Background(), core.Record{"Name": "a", " name": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"name"`)
}

func TestRename(t *testing.T) {
	rename := Rename(map[string]string{"id": "client_id", "mail": "email"})

	out, err := rename.Transform(context.Background(), core.Record{"id": "1", "mail": "x@y.z", "city": "Recife"})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"client_id": "1", "email": "x@y.z", "city": "Recife"}, out)

	_, err = rename.Transform(context.Background(), core.Record{"id": "1", "client_id": "2"})
	assert.Error(t, err)
}

func TestNullifyAndRequired(t *testing.T) {
	ctx := context.Background()
	in := core.Record{"a": " N/A ", "b": "NULL", "c": "-", "d": "value", "e": int64(0)}

	out, err := Nullify("a", "b", "c", "d", "e").Transform(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, out["a"])
	assert.Nil(t, out["b"])
	assert.Nil(t, out["c"])
	assert.Equal(t, "value", out["d"])
	assert.Equal(t, int64(0), out["e"])
	assert.Equal(t, " N/A ", in["a"], "input is not modified")

	_, err = Required("d").Transform(ctx, out)
	assert.NoError(t, err)
	_, err = Required("d", "b").Transform(ctx, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestCaseTransforms(t *testing.T) {
	ctx := context.Background()
	out, err := ToLower("email").Transform(ctx, core.Record{"email": "Ops@ACME.test", "state": "pe"})
	require.NoError(t, err)
	out, err = ToUpper("state").Transform(ctx, out)
	require.NoError(t, err)
	out, err = TrimSpace("name").Transform(ctx, core.Record{"name": "  Acme  ", "email": out["email"], "state": out["state"]})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"name": "Acme", "email": "ops@acme.test", "state": "PE"}, out)
}

// TestCoerce tests conversion of every column kind
func TestCoerce(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	coerce := Coerce(schema.Campaign, loc)
	out, err := coerce.Transform(context.Background(), core.Record{
		"campaign_id": " 42 ",
		"client_id":   int64(7),
		"name":        " Summer Sale ",
		"channel":     nil,
		"start_date":  "01/06/2024",
		"end_date":    "2024-06-30T02:00:00Z",
		"budget":      "1500,50",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), out["campaign_id"])
	assert.Equal(t, int64(7), out["client_id"])
	assert.Equal(t, "Summer Sale", out["name"])
	assert.Nil(t, out["channel"])
	assert.Equal(t, "2024-06-01", out["start_date"])
	// 02:00 UTC is still the previous day in Sao Paulo
	assert.Equal(t, "2024-06-29", out["end_date"])
	assert.True(t, decimal.RequireFromString("1500.50").Equal(out["budget"].(decimal.Decimal)))
}

func TestCoerceTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	coerce := Coerce(schema.Client, loc)

	tests := []struct {
		in   interface{}
		want string
	}{
		{"2024-06-01 10:30:00", "2024-06-01T10:30:00-03:00"},
		{"2024-06-01T10:30:00", "2024-06-01T10:30:00-03:00"},
		{"2024-06-01", "2024-06-01T00:00:00-03:00"},
		{"2024-06-01T13:30:00Z", "2024-06-01T10:30:00-03:00"},
		{time.Date(2024, 6, 1, 13, 30, 0, 0, time.UTC), "2024-06-01T10:30:00-03:00"},
	}
	for _, tt := range tests {
		out, err := coerce.Transform(context.Background(), core.Record{"client_id": "1", "created_at": tt.in})
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, out["created_at"].(time.Time).Format(time.RFC3339), tt.in)
	}
}

func TestCoerceDecimalFromFloat(t *testing.T) {
	out, err := Coerce(schema.Economics, time.UTC).Transform(context.Background(), core.Record{
		"campaign_id":    float64(3),
		"reference_date": "2024-06-01",
		"cost":           0.1,
		"revenue":        int64(12),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.1", out["cost"].(decimal.Decimal).String())
	assert.Equal(t, "12", out["revenue"].(decimal.Decimal).String())
	assert.Equal(t, int64(3), out["campaign_id"])
}

// TestCoerceErrors tests values that cannot be converted
func TestCoerceErrors(t *testing.T) {
	tests := []struct {
		name   string
		record core.Record
		column string
	}{
		{"fractional integer", core.Record{"campaign_id": "1.5"}, "campaign_id"},
		{"fractional float", core.Record{"campaign_id": 1.5}, "campaign_id"},
		{"text integer", core.Record{"impressions": "many"}, "impressions"},
		{"bad decimal", core.Record{"cost": "1.000,50"}, "cost"},
		{"bad date", core.Record{"reference_date": "2024-13-01"}, "reference_date"},
		{"bool decimal", core.Record{"cost": true}, "cost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coerce(schema.Economics, time.UTC).Transform(context.Background(), tt.record)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.column)
		})
	}
}
