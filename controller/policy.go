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

	"github.com/aaronlmathis/marketingetl/config"
	"github.com/aaronlmathis/marketingetl/core"
)

// BackoffStrategy computes the wait before the next attempt. attempt is the
// 1-based number of the attempt that just failed.
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same delay after every failed attempt.
type FixedBackoff struct {
	FixedDelay time.Duration
}

func (fb FixedBackoff) Delay(int) time.Duration {
	return fb.FixedDelay
}

// ExponentialBackoff doubles the delay after every failed attempt, up to MaxDelay.
type ExponentialBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (eb ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := eb.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if eb.MaxDelay > 0 && delay >= eb.MaxDelay {
			return eb.MaxDelay
		}
	}
	return delay
}

// Policy decides whether a failed stage is attempted again.
type Policy struct {
	Attempts int // total attempts, at least 1
	Backoff  BackoffStrategy
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.Delay(attempt)
}

// DefaultPolicies retries extraction and load three times with a fixed
// five-minute delay and runs transformation once.
func DefaultPolicies() map[core.Stage]Policy {
	return map[core.Stage]Policy{
		core.StageExtract:   {Attempts: 3, Backoff: FixedBackoff{FixedDelay: 5 * time.Minute}},
		core.StageTransform: {Attempts: 1},
		core.StageLoad:      {Attempts: 3, Backoff: FixedBackoff{FixedDelay: 5 * time.Minute}},
	}
}

// PoliciesFromConfig converts the retry section of the configuration.
func PoliciesFromConfig(cfg config.RetryConfig) map[core.Stage]Policy {
	convert := func(sp config.StagePolicy) Policy {
		if sp.Backoff == config.BackoffExponential {
			return Policy{Attempts: sp.Attempts, Backoff: ExponentialBackoff{
				BaseDelay: sp.Delay.Std(),
				MaxDelay:  sp.MaxDelay.Std(),
			}}
		}
		return Policy{Attempts: sp.Attempts, Backoff: FixedBackoff{FixedDelay: sp.Delay.Std()}}
	}
	return map[core.Stage]Policy{
		core.StageExtract:   convert(cfg.Extract),
		core.StageTransform: convert(cfg.Transform),
		core.StageLoad:      convert(cfg.Load),
	}
}
