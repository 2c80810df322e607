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

// Package schema declares the three canonical datasets the pipeline produces
// and loads: client, campaign and economics.
package schema

import (
	"strings"
)

// Kind is the logical type of a column.
type Kind int

const (
	Text Kind = iota
	Integer
	Decimal
	Date
	Timestamp
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Date:
		return "date"
	case Timestamp:
		return "timestamp"
	default:
		return "text"
	}
}

// Case is the letter case applied to text columns.
type Case int

const (
	KeepCase Case = iota
	Lower
	Upper
)

// Column describes one column of a refined dataset.
type Column struct {
	Name     string
	Kind     Kind
	Required bool
	Case     Case
}

// Dataset describes a refined dataset and the table it is loaded into.
type Dataset struct {
	Name    string
	Table   string
	Columns []Column
	// Key columns identify duplicate rows.
	Key []string
	// Aliases maps normalized raw headers to canonical column names.
	Aliases map[string]string
	// FilePrefixes route staged files to this dataset by file stem.
	FilePrefixes []string
}

// ColumnNames returns the canonical column names in table order.
func (d Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Canonical resolves a normalized raw header to its canonical column name.
func (d Dataset) Canonical(header string) string {
	if alias, ok := d.Aliases[header]; ok {
		return alias
	}
	return header
}

// Client is the client dataset.
var Client = Dataset{
	Name:  "client",
	Table: "client",
	Columns: []Column{
		{Name: "client_id", Kind: Integer, Required: true},
		{Name: "name", Kind: Text, Required: true},
		{Name: "email", Kind: Text, Case: Lower},
		{Name: "segment", Kind: Text, Case: Lower},
		{Name: "city", Kind: Text},
		{Name: "state", Kind: Text, Case: Upper},
		{Name: "created_at", Kind: Timestamp},
	},
	Key: []string{"client_id"},
	Aliases: map[string]string{
		"id":          "client_id",
		"client_name": "name",
		"e_mail":      "email",
		"mail":        "email",
	},
	FilePrefixes: []string{"client"},
}

// Campaign is the campaign dataset.
var Campaign = Dataset{
	Name:  "campaign",
	Table: "campaign",
	Columns: []Column{
		{Name: "campaign_id", Kind: Integer, Required: true},
		{Name: "client_id", Kind: Integer, Required: true},
		{Name: "name", Kind: Text, Required: true},
		{Name: "channel", Kind: Text, Case: Lower},
		{Name: "start_date", Kind: Date, Required: true},
		{Name: "end_date", Kind: Date},
		{Name: "budget", Kind: Decimal},
	},
	Key: []string{"campaign_id"},
	Aliases: map[string]string{
		"id":            "campaign_id",
		"campaign_name": "name",
		"start":         "start_date",
		"end":           "end_date",
	},
	FilePrefixes: []string{"campaign"},
}

// Economics is the economics dataset.
var Economics = Dataset{
	Name:  "economics",
	Table: "economics",
	Columns: []Column{
		{Name: "campaign_id", Kind: Integer, Required: true},
		{Name: "reference_date", Kind: Date, Required: true},
		{Name: "impressions", Kind: Integer},
		{Name: "clicks", Kind: Integer},
		{Name: "cost", Kind: Decimal, Required: true},
		{Name: "revenue", Kind: Decimal},
	},
	Key: []string{"campaign_id", "reference_date"},
	Aliases: map[string]string{
		"date":  "reference_date",
		"day":   "reference_date",
		"spend": "cost",
	},
	FilePrefixes: []string{"economics", "economic", "finance"},
}

// All returns the datasets in load order. Parents load before children.
func All() []Dataset {
	return []Dataset{Client, Campaign, Economics}
}

// Match routes a staged file stem to its dataset. The stem matches when,
// lower-cased, it starts with one of the dataset's file prefixes.
func Match(stem string) (Dataset, bool) {
	stem = strings.ToLower(strings.TrimSpace(stem))
	for _, d := range All() {
		for _, prefix := range d.FilePrefixes {
			if strings.HasPrefix(stem, prefix) {
				return d, true
			}
		}
	}
	return Dataset{}, false
}
