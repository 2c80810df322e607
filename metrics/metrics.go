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

// Package metrics exposes Prometheus instruments for pipeline runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aaronlmathis/marketingetl/core"
)

const namespace = "marketing_etl"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector records run, stage, row and notification metrics. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	stageAttemptsTotal *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	rowsLoadedTotal    *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
}

// New registers the pipeline instruments on a fresh registry. A nil reg
// creates one.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		stageAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_attempts_total",
				Help:      "Total number of stage attempts by result",
			},
			[]string{"stage", "result"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of a single stage attempt",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
			},
			[]string{"stage"},
		),
		rowsLoadedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_loaded_total",
				Help:      "Total number of rows committed per dataset",
			},
			[]string{"dataset"},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of notification deliveries by sink and result",
			},
			[]string{"sink", "result"},
		),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RunFinished counts a finished run.
func (c *Collector) RunFinished(outcome string) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(outcome).Inc()
}

// StageAttempt counts one attempt of stage and observes its duration.
func (c *Collector) StageAttempt(stage core.Stage, took time.Duration, err error) {
	if c == nil {
		return
	}
	c.stageAttemptsTotal.WithLabelValues(stage.String(), result(err)).Inc()
	c.stageDuration.WithLabelValues(stage.String()).Observe(took.Seconds())
}

// RowsLoaded adds committed rows for each dataset.
func (c *Collector) RowsLoaded(rows map[string]int64) {
	if c == nil {
		return
	}
	for dataset, n := range rows {
		c.rowsLoadedTotal.WithLabelValues(dataset).Add(float64(n))
	}
}

// ObserveNotification counts one delivery attempt to sink.
func (c *Collector) ObserveNotification(sink string, err error) {
	if c == nil {
		return
	}
	c.notificationsTotal.WithLabelValues(sink, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
