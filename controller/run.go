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

package controller

import (
	"time"

	"github.com/aaronlmathis/marketingetl/core"
)

// State is a position in the run lifecycle.
type State string

const (
	StatePending      State = "PENDING"
	StateExtracting   State = "EXTRACTING"
	StateTransforming State = "TRANSFORMING"
	StateLoading      State = "LOADING"
	StateNotifying    State = "NOTIFYING"
	StateSucceeded    State = "SUCCEEDED"
	StateFailed       State = "FAILED"
)

// Outcome is the final result of a run.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// StageResult records the attempts made for one stage.
type StageResult struct {
	Stage      core.Stage
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error // last error, nil when the stage succeeded
}

// Run is one invocation of the pipeline for a schedule tick.
type Run struct {
	ID          string
	ScheduledAt time.Time
	State       State
	Outcome     Outcome
	FailedStage core.Stage
	Err         error
	Stages      []StageResult
	Rows        map[string]int64 // committed rows per dataset
	CompletedAt time.Time
}

// Stage returns the result recorded for stage, if the stage ran.
func (r *Run) Stage(stage core.Stage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}
