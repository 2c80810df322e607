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
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/marketingetl/core"
	"github.com/aaronlmathis/marketingetl/schema"
)

var dateLayouts = []string{"2006-01-02", "02/01/2006"}

var timestampLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// Coerce creates a transformer that converts every column of ds to its kind.
// Integers become int64, decimals decimal.Decimal, dates a YYYY-MM-DD string
// and timestamps a time.Time in loc. Text is trimmed. Nil stays nil.
func Coerce(ds schema.Dataset, loc *time.Location) core.Transformer {
	if loc == nil {
		loc = time.UTC
	}
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := copyRecord(record)
		for _, col := range ds.Columns {
			value, ok := record[col.Name]
			if !ok || value == nil {
				continue
			}
			converted, err := coerceValue(value, col.Kind, loc)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col.Name, err)
			}
			result[col.Name] = converted
		}
		return result, nil
	})
}

func coerceValue(value interface{}, kind schema.Kind, loc *time.Location) (interface{}, error) {
	switch kind {
	case schema.Integer:
		return toInteger(value)
	case schema.Decimal:
		return toDecimal(value)
	case schema.Date:
		return toDate(value, loc)
	case schema.Timestamp:
		return toTimestamp(value, loc)
	default:
		return toText(value), nil
	}
}

func toInteger(value interface{}) (int64, error) {
	switch v := value.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as integer", v)
		}
		return n, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d out of range", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) > 1<<53 {
			return 0, fmt.Errorf("cannot use %v as integer", v)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", value)
	}
}

func toDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("cannot parse %q as decimal", v)
		}
		return d, nil
	case decimal.Decimal:
		return v, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, fmt.Errorf("cannot use %v as decimal", v)
		}
		// The shortest text form round-trips, so 0.1 stays 0.1.
		return decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return decimal.Decimal{}, fmt.Errorf("cannot convert %T to decimal", value)
	}
}

func toDate(value interface{}, loc *time.Location) (string, error) {
	switch v := value.(type) {
	case time.Time:
		return v.In(loc).Format("2006-01-02"), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.In(loc).Format("2006-01-02"), nil
		}
		return "", fmt.Errorf("cannot parse %q as date", v)
	default:
		return "", fmt.Errorf("cannot convert %T to date", value)
	}
}

func toTimestamp(value interface{}, loc *time.Location) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.In(loc), nil
	case string:
		s := strings.TrimSpace(v)
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.In(loc), nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as timestamp", v)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", value)
	}
}

func toText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
