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

// Package scheduler fires pipeline runs on a recurring schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Func is invoked once per tick with the tick's scheduled time.
type Func func(ctx context.Context, scheduledAt time.Time)

// Trigger starts runs. Start registers fn and returns; Stop waits for a
// running fn to finish.
type Trigger interface {
	Start(ctx context.Context, fn Func) error
	Stop()
}

// CronTrigger fires on a cron expression in a fixed timezone. A tick that
// arrives while the previous run is still going is skipped.
type CronTrigger struct {
	expr   string
	loc    *time.Location
	logger *slog.Logger

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	job       *gocron.Job
}

// NewCronTrigger creates a trigger for expr evaluated in loc.
func NewCronTrigger(expr string, loc *time.Location, logger *slog.Logger) *CronTrigger {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronTrigger{expr: expr, loc: loc, logger: logger}
}

// Start schedules fn. ctx is passed to every invocation.
func (t *CronTrigger) Start(ctx context.Context, fn Func) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scheduler != nil {
		return errors.New("trigger already started")
	}

	s := gocron.NewScheduler(t.loc)
	job, err := s.Cron(t.expr).SingletonMode().Tag("pipeline").Do(func() {
		scheduledAt := time.Now().In(t.loc).Truncate(time.Minute)
		t.logger.Info("scheduled run triggered", "scheduled_at", scheduledAt)
		fn(ctx, scheduledAt)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", t.expr, err)
	}

	s.StartAsync()
	t.scheduler = s
	t.job = job
	t.logger.Info("scheduler started", "schedule", t.expr, "timezone", t.loc.String(), "next_run", job.NextRun())
	return nil
}

// NextRun returns the next tick, or the zero time before Start.
func (t *CronTrigger) NextRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return time.Time{}
	}
	return t.job.NextRun()
}

// Stop halts the scheduler. Calling Stop more than once is safe.
func (t *CronTrigger) Stop() {
	t.mu.Lock()
	s := t.scheduler
	t.scheduler = nil
	t.job = nil
	t.mu.Unlock()

	if s != nil {
		s.Stop()
		t.logger.Info("scheduler stopped")
	}
}

// Once runs fn a single time, synchronously, at Start. It stands in for a
// manual trigger.
type Once struct {
	Now func() time.Time
}

func (o Once) Start(ctx context.Context, fn Func) error {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	fn(ctx, now())
	return nil
}

func (Once) Stop() {}
