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

// Package controller drives a pipeline run through extract, transform, load
// and notification as a forward-only state machine.
//
// Retry is internal to a state: a stage is attempted according to its Policy
// before the controller fires the next trigger. Any final stage failure fires
// the fail trigger, whose entry action applies the cleanup rules for that
// stage and sends the failure notification.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/aaronlmathis/marketingetl/core"
	"github.com/aaronlmathis/marketingetl/load"
	"github.com/aaronlmathis/marketingetl/metrics"
	"github.com/aaronlmathis/marketingetl/notify"
	"github.com/aaronlmathis/marketingetl/workspace"
)

// ErrRunInProgress is returned by Run while another run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Extractor downloads the bucket contents into the run's staging directory.
type Extractor interface {
	Extract(ctx context.Context, run *workspace.Run) ([]core.StagedFile, error)
}

// Transformer turns staged files into the refined datasets.
type Transformer interface {
	Transform(ctx context.Context, run *workspace.Run, staged []core.StagedFile) ([]core.RefinedFile, error)
}

// Loader commits the refined datasets in one transaction.
type Loader interface {
	Load(ctx context.Context, run *workspace.Run, refined []core.RefinedFile) (load.Result, error)
}

// Notifier reports a finished run. It never fails.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message)
}

// Stages groups the three stage implementations.
type Stages struct {
	Extract   Extractor
	Transform Transformer
	Load      Loader
}

type trigger string

const (
	triggerStart       trigger = "start"
	triggerExtracted   trigger = "extracted"
	triggerTransformed trigger = "transformed"
	triggerLoaded      trigger = "loaded"
	triggerNotified    trigger = "notified"
	triggerFail        trigger = "fail"
)

// Option configures a Controller.
type Option func(*Controller)

// WithPolicy overrides the retry policy of one stage.
func WithPolicy(stage core.Stage, p Policy) Option {
	return func(c *Controller) { c.policies[stage] = p }
}

// WithPolicies overrides the retry policies of the given stages.
func WithPolicies(policies map[core.Stage]Policy) Option {
	return func(c *Controller) {
		for stage, p := range policies {
			c.policies[stage] = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithPipeline sets the name and tags carried in notifications.
func WithPipeline(name string, tags ...string) Option {
	return func(c *Controller) {
		c.pipeline = name
		c.tags = append([]string(nil), tags...)
	}
}

// WithLocation sets the timezone used in notifications.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) { c.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller executes runs one at a time.
type Controller struct {
	mu sync.Mutex

	workspace *workspace.Manager
	stages    Stages
	notifier  Notifier
	policies  map[core.Stage]Policy
	logger    *slog.Logger
	metrics   *metrics.Collector
	pipeline  string
	tags      []string
	loc       *time.Location
	now       func() time.Time
}

// New creates a Controller. A nil notifier disables notifications.
func New(ws *workspace.Manager, stages Stages, notifier Notifier, opts ...Option) *Controller {
	c := &Controller{
		workspace: ws,
		stages:    stages,
		notifier:  notifier,
		policies:  DefaultPolicies(),
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Run executes one pipeline run for the tick scheduledAt and returns its
// record. Stage failures are reported in the record; the only error is
// ErrRunInProgress.
func (c *Controller) Run(ctx context.Context, scheduledAt time.Time) (*Run, error) {
	if !c.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer c.mu.Unlock()

	if removed, err := c.workspace.PurgeAbandoned(); err != nil {
		c.logger.Warn("purging abandoned runs failed", "error", err)
	} else if len(removed) > 0 {
		c.logger.Info("purged abandoned runs", "count", len(removed))
	}

	e := &execution{
		c:   c,
		run: &Run{ScheduledAt: scheduledAt, State: StatePending, Outcome: OutcomePending},
	}
	e.execute(ctx)
	return e.run, nil
}

// execution is the mutable state of one run.
type execution struct {
	c       *Controller
	run     *Run
	ws      *workspace.Run
	logger  *slog.Logger
	machine *stateless.StateMachine

	staged  []core.StagedFile
	refined []core.RefinedFile

	failedStage core.Stage
	failErr     error
	cancelled   bool
}

func (e *execution) buildMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(StatePending)

	sm.Configure(StatePending).
		Permit(triggerStart, StateExtracting).
		Permit(triggerFail, StateFailed)

	sm.Configure(StateExtracting).
		Permit(triggerExtracted, StateTransforming).
		Permit(triggerFail, StateFailed)

	sm.Configure(StateTransforming).
		Permit(triggerTransformed, StateLoading).
		Permit(triggerFail, StateFailed)

	sm.Configure(StateLoading).
		Permit(triggerLoaded, StateNotifying).
		Permit(triggerFail, StateFailed)

	sm.Configure(StateNotifying).
		OnEntry(e.onNotifying).
		Permit(triggerNotified, StateSucceeded)

	sm.Configure(StateFailed).
		OnEntry(e.onFailed)

	sm.Configure(StateSucceeded)

	return sm
}

func (e *execution) execute(ctx context.Context) {
	e.machine = e.buildMachine()
	e.logger = e.c.logger

	ws, err := e.c.workspace.Create()
	if err != nil {
		e.fail(ctx, core.StageExtract, &core.ExtractionError{Op: "workspace", Err: err})
		return
	}
	e.ws = ws
	e.run.ID = ws.ID()
	e.logger = e.c.logger.With("run_id", ws.ID())
	e.logger.Info("run started", "scheduled_at", e.run.ScheduledAt)

	e.fire(triggerStart)

	steps := []struct {
		stage core.Stage
		next  trigger
		fn    func(context.Context) error
	}{
		{core.StageExtract, triggerExtracted, e.extract},
		{core.StageTransform, triggerTransformed, e.transform},
		{core.StageLoad, triggerLoaded, e.load},
	}
	for _, step := range steps {
		if err := e.runStage(ctx, step.stage, step.fn); err != nil {
			e.fail(ctx, step.stage, err)
			return
		}
		e.fire(step.next)
	}
	e.fire(triggerNotified)
}

func (e *execution) extract(ctx context.Context) (err error) {
	e.staged, err = e.c.stages.Extract.Extract(ctx, e.ws)
	return err
}

func (e *execution) transform(ctx context.Context) (err error) {
	e.refined, err = e.c.stages.Transform.Transform(ctx, e.ws, e.staged)
	return err
}

func (e *execution) load(ctx context.Context) error {
	result, err := e.c.stages.Load.Load(ctx, e.ws, e.refined)
	if err != nil {
		return err
	}
	e.run.Rows = result.Rows
	e.c.metrics.RowsLoaded(result.Rows)
	return nil
}

// runStage attempts fn according to the stage policy.
func (e *execution) runStage(ctx context.Context, stage core.Stage, fn func(context.Context) error) error {
	policy := e.c.policies[stage]
	result := StageResult{Stage: stage, StartedAt: e.c.now()}
	logger := e.logger.With("stage", stage.String())

	var lastErr error
	succeeded := false
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		if ctx.Err() != nil {
			break
		}
		result.Attempts = attempt

		start := time.Now()
		err := e.call(ctx, stage, fn)
		e.c.metrics.StageAttempt(stage, time.Since(start), err)
		if err == nil {
			lastErr = nil
			succeeded = true
			break
		}
		lastErr = err

		if attempt == policy.attempts() || ctx.Err() != nil {
			break
		}
		delay := policy.delay(attempt)
		logger.Warn("stage attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.attempts(),
			"delay", delay,
			"error", err)
		if err := wait(ctx, delay); err != nil {
			break
		}
	}

	// A stage that completed stands even if ctx was cancelled afterwards.
	if ctxErr := ctx.Err(); ctxErr != nil && !succeeded {
		e.cancelled = true
		switch {
		case lastErr == nil:
			lastErr = core.NewStageError(stage, "cancelled", ctxErr)
		case !errors.Is(lastErr, ctxErr):
			lastErr = core.NewStageError(stage, "cancelled", fmt.Errorf("%w (last error: %v)", ctxErr, lastErr))
		}
	}

	result.FinishedAt = e.c.now()
	result.Err = lastErr
	e.run.Stages = append(e.run.Stages, result)

	if lastErr != nil {
		logger.Error("stage failed", "attempts", result.Attempts, "error", lastErr)
		return lastErr
	}
	logger.Info("stage succeeded", "attempts", result.Attempts, "took", result.FinishedAt.Sub(result.StartedAt))
	return nil
}

// call runs fn, converting a panic into the stage's error type.
func (e *execution) call(ctx context.Context, stage core.Stage, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewStageError(stage, "panic", fmt.Errorf("panic: %v", r))
		}
	}()
	return core.NewStageError(stage, "run", fn(ctx))
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *execution) fail(ctx context.Context, stage core.Stage, err error) {
	e.failedStage = stage
	e.failErr = err
	if ctx.Err() != nil {
		e.cancelled = true
	}
	e.fire(triggerFail)
}

// fire moves the machine. Entry actions never return errors, so a failure
// here means a trigger was fired from the wrong state.
func (e *execution) fire(t trigger) {
	from := e.machine.MustState()
	if err := e.machine.FireCtx(context.Background(), t); err != nil {
		e.logger.Error("invalid state transition", "state", from, "trigger", string(t), "error", err)
		return
	}
	e.run.State = e.machine.MustState().(State)
	e.logger.Debug("state changed", "from", from, "to", e.run.State)
}

func (e *execution) onNotifying(ctx context.Context, _ ...any) error {
	e.run.State = StateNotifying
	e.run.Outcome = OutcomeSuccess
	e.run.CompletedAt = e.c.now()
	e.c.metrics.RunFinished(string(OutcomeSuccess))

	e.logger.Info("run succeeded", "rows", e.run.Rows)
	e.notify(ctx, notify.Message{Outcome: notify.Success, Rows: e.run.Rows})
	return nil
}

func (e *execution) onFailed(ctx context.Context, _ ...any) error {
	e.run.State = StateFailed
	e.run.Outcome = OutcomeFailed
	e.run.FailedStage = e.failedStage
	e.run.Err = e.failErr
	e.run.CompletedAt = e.c.now()
	e.c.metrics.RunFinished(string(OutcomeFailed))

	e.cleanup()
	e.logger.Error("run failed", "stage", e.failedStage.String(), "cancelled", e.cancelled, "error", e.failErr)

	msg := notify.Message{Outcome: notify.Failure, Stage: e.failedStage.String()}
	if e.failErr != nil {
		msg.Error = e.failErr.Error()
	}
	e.notify(ctx, msg)
	return nil
}

// cleanup applies the failure rules for the run directory.
func (e *execution) cleanup() {
	if e.ws == nil {
		return
	}
	switch {
	case e.cancelled, e.failedStage == core.StageExtract:
		if err := e.ws.Remove(); err != nil {
			e.logger.Warn("removing run directory failed", "error", err)
		}
		return
	case e.failedStage == core.StageTransform:
		if err := e.ws.RemoveRefined(); err != nil {
			e.logger.Warn("removing refined output failed", "error", err)
		}
	}
	if err := e.ws.MarkFailed(e.failedStage.String(), e.failErr, e.run.CompletedAt); err != nil {
		e.logger.Warn("marking run failed", "error", err)
	}
}

func (e *execution) notify(ctx context.Context, msg notify.Message) {
	if e.c.notifier == nil {
		return
	}
	msg.Pipeline = e.c.pipeline
	msg.Tags = e.c.tags
	msg.RunID = e.run.ID
	msg.ScheduledAt = e.run.ScheduledAt
	msg.CompletedAt = e.run.CompletedAt
	msg.Location = e.c.loc

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("notifier panicked", "outcome", string(msg.Outcome), "panic", fmt.Sprint(r))
		}
	}()
	e.c.notifier.Notify(ctx, msg)
}
