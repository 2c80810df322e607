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

// Package notify reports the outcome of a pipeline run to the operator.
//
// A Notifier fans a Message out to every configured Sink. Delivery is best
// effort: sink failures and panics are logged and counted, never returned.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Sink is a notification destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Observer is told about every delivery attempt.
type Observer interface {
	ObserveNotification(sink string, err error)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

// WithTimeout bounds each sink delivery.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// WithObserver registers an Observer, typically the metrics collector.
func WithObserver(o Observer) Option {
	return func(n *Notifier) { n.observer = o }
}

// Notifier delivers messages to sinks in order.
type Notifier struct {
	sinks    []Sink
	logger   *slog.Logger
	timeout  time.Duration
	observer Observer
}

// New creates a Notifier over sinks.
func New(sinks []Sink, opts ...Option) *Notifier {
	n := &Notifier{
		sinks:   append([]Sink(nil), sinks...),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// Notify sends msg to every sink. Cancellation of ctx does not stop delivery;
// each sink still gets its own timeout.
func (n *Notifier) Notify(ctx context.Context, msg Message) {
	base := context.WithoutCancel(ctx)

	var result *multierror.Error
	for _, sink := range n.sinks {
		err := n.send(base, sink, msg)
		if n.observer != nil {
			n.observer.ObserveNotification(sink.Name(), err)
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		n.logger.Warn("notification incomplete",
			"run_id", msg.RunID,
			"failed_sinks", len(result.Errors),
			"sinks", len(n.sinks),
			"error", err)
	}
}

func (n *Notifier) send(ctx context.Context, sink Sink, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return sink.Send(ctx, msg)
}
