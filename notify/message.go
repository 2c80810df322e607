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

package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"
)

// Outcome is the result a message reports.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failed"
)

// Message summarizes one finished run.
type Message struct {
	Pipeline    string
	Tags        []string
	RunID       string
	Outcome     Outcome
	Stage       string // failed stage, empty on success
	ScheduledAt time.Time
	CompletedAt time.Time
	Error       string
	Rows        map[string]int64 // committed rows per dataset, success only
	Location    *time.Location   // timezone used to render timestamps
}

// Subject is the one-line summary used as email and SNS subject.
func (m Message) Subject() string {
	if m.Outcome == Success {
		return "Pipeline completed successfully"
	}
	return fmt.Sprintf("Pipeline failed at stage %s", m.Stage)
}

func (m Message) format(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04:05 MST")
}

func (m Message) datasets() []string {
	names := make([]string, 0, len(m.Rows))
	for name := range m.Rows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Text renders the plain-text body.
func (m Message) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", m.Subject())
	fmt.Fprintf(&b, "Pipeline:  %s\n", m.Pipeline)
	if len(m.Tags) > 0 {
		fmt.Fprintf(&b, "Tags:      %s\n", strings.Join(m.Tags, ", "))
	}
	fmt.Fprintf(&b, "Run:       %s\n", m.RunID)
	fmt.Fprintf(&b, "Outcome:   %s\n", m.Outcome)
	fmt.Fprintf(&b, "Scheduled: %s\n", m.format(m.ScheduledAt))
	fmt.Fprintf(&b, "Completed: %s\n", m.format(m.CompletedAt))
	if m.Outcome != Success {
		fmt.Fprintf(&b, "Stage:     %s\n", m.Stage)
		fmt.Fprintf(&b, "Error:     %s\n", m.Error)
	}
	for _, name := range m.datasets() {
		fmt.Fprintf(&b, "Rows %-10s %d\n", name+":", m.Rows[name])
	}
	return b.String()
}

var htmlBody = template.Must(template.New("body").Parse(`<html><body>
<h2>{{.Subject}}</h2>
<table>
<tr><td>Pipeline</td><td>{{.Pipeline}}</td></tr>
<tr><td>Run</td><td>{{.RunID}}</td></tr>
<tr><td>Outcome</td><td>{{.Outcome}}</td></tr>
<tr><td>Scheduled</td><td>{{.Scheduled}}</td></tr>
<tr><td>Completed</td><td>{{.Completed}}</td></tr>
{{- if .Failed}}
<tr><td>Stage</td><td>{{.Stage}}</td></tr>
<tr><td>Error</td><td><pre>{{.Error}}</pre></td></tr>
{{- end}}
{{- range .Rows}}
<tr><td>Rows {{.Name}}</td><td>{{.Count}}</td></tr>
{{- end}}
</table>
</body></html>
`))

type htmlRow struct {
	Name  string
	Count int64
}

// HTML renders the HTML body. Values are escaped.
func (m Message) HTML() (string, error) {
	rows := make([]htmlRow, 0, len(m.Rows))
	for _, name := range m.datasets() {
		rows = append(rows, htmlRow{Name: name, Count: m.Rows[name]})
	}
	data := struct {
		Subject, Pipeline, RunID, Outcome, Scheduled, Completed, Stage, Error string
		Failed                                                                bool
		Rows                                                                  []htmlRow
	}{
		Subject:   m.Subject(),
		Pipeline:  m.Pipeline,
		RunID:     m.RunID,
		Outcome:   string(m.Outcome),
		Scheduled: m.format(m.ScheduledAt),
		Completed: m.format(m.CompletedAt),
		Stage:     m.Stage,
		Error:     m.Error,
		Failed:    m.Outcome != Success,
		Rows:      rows,
	}

	var buf bytes.Buffer
	if err := htmlBody.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
