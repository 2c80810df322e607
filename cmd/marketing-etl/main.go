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

// Command marketing-etl moves the weekly marketing export from S3 into
// PostgreSQL, either on its cron schedule or once on demand.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/aaronlmathis/marketingetl/config"
	"github.com/aaronlmathis/marketingetl/controller"
	"github.com/aaronlmathis/marketingetl/extract"
	"github.com/aaronlmathis/marketingetl/load"
	"github.com/aaronlmathis/marketingetl/metrics"
	"github.com/aaronlmathis/marketingetl/notify"
	"github.com/aaronlmathis/marketingetl/readers"
	"github.com/aaronlmathis/marketingetl/scheduler"
	"github.com/aaronlmathis/marketingetl/transform"
	"github.com/aaronlmathis/marketingetl/workspace"
	"github.com/aaronlmathis/marketingetl/writers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to the YAML configuration file")
		envFile     = flag.String("env-file", "", "optional .env file with credentials")
		once        = flag.Bool("once", false, "run the pipeline once and exit")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn or error")
		metricsAddr = flag.String("metrics-addr", "", "listen address of the Prometheus endpoint (overrides metrics.addr)")
	)
	flag.Parse()

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	env := config.OSLookup()
	if *envFile != "" {
		if env, err = config.DotEnv(*envFile, env); err != nil {
			return err
		}
	}
	cfg, err := config.Load(*configPath, env)
	if err != nil {
		return err
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New(nil)
	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, collector, logger)
		defer shutdown()
	}

	ctrl, err := newController(ctx, cfg, loc, collector, logger)
	if err != nil {
		return err
	}

	var last *controller.Run
	runPipeline := func(ctx context.Context, scheduledAt time.Time) {
		result, err := ctrl.Run(ctx, scheduledAt)
		if errors.Is(err, controller.ErrRunInProgress) {
			logger.Warn("previous run still active, skipping tick", "scheduled_at", scheduledAt)
			return
		}
		last = result
		logger.Info("run finished",
			"run_id", result.ID,
			"outcome", string(result.Outcome),
			"state", string(result.State))
	}

	if *once {
		if err := (scheduler.Once{}).Start(ctx, runPipeline); err != nil {
			return err
		}
		if last != nil && last.Outcome != controller.OutcomeSuccess {
			return fmt.Errorf("run %s failed at stage %s: %w", last.ID, last.FailedStage, last.Err)
		}
		return nil
	}

	trigger := scheduler.NewCronTrigger(cfg.Pipeline.Schedule, loc, logger)
	if err := trigger.Start(ctx, runPipeline); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("shutting down")
	trigger.Stop()
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// newController wires the stages, notifier and metrics from configuration.
func newController(ctx context.Context, cfg *config.Config, loc *time.Location, collector *metrics.Collector, logger *slog.Logger) (*controller.Controller, error) {
	opts := []readers.ReaderOptionS3{
		readers.WithS3Bucket(cfg.Source.Bucket),
		readers.WithS3Prefix(cfg.Source.Prefix),
		readers.WithS3Suffixes(cfg.Source.Suffixes...),
		readers.WithS3Region(cfg.Source.Region),
		readers.WithS3PathStyle(cfg.Source.PathStyle),
	}
	if cfg.Source.Endpoint != "" {
		opts = append(opts, readers.WithS3Endpoint(cfg.Source.Endpoint))
	}
	if cfg.Source.AccessKeyID != "" {
		opts = append(opts, readers.WithS3Credentials(aws.Credentials{
			AccessKeyID:     cfg.Source.AccessKeyID,
			SecretAccessKey: cfg.Source.SecretAccessKey,
			Source:          "marketing-etl",
		}))
	}
	bucket, err := readers.NewS3Source(ctx, opts...)
	if err != nil {
		return nil, err
	}

	db := cfg.Database
	openStore := func(ctx context.Context) (writers.Store, error) {
		store, err := writers.NewPostgresStore(ctx,
			writers.WithPostgresDSN(db.DSN()),
			writers.WithPostgresConnectionPool(db.MaxOpenConns, 1, 5*time.Minute, time.Minute),
			writers.WithPostgresPingTimeout(db.ConnectTimeout.Std()),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	sinks, err := notify.FromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	notifier := notify.New(sinks,
		notify.WithLogger(logger),
		notify.WithTimeout(cfg.Notify.Timeout.Std()),
		notify.WithObserver(collector),
	)

	return controller.New(
		workspace.NewManager(cfg.Workspace.Root, logger),
		controller.Stages{
			Extract:   extract.NewExtractor(bucket, logger),
			Transform: transform.NewRefiner(transform.WithLocation(loc), transform.WithLogger(logger)),
			Load:      load.NewLoader(openStore, logger),
		},
		notifier,
		controller.WithPolicies(controller.PoliciesFromConfig(cfg.Retry)),
		controller.WithLogger(logger),
		controller.WithMetrics(collector),
		controller.WithPipeline(cfg.Pipeline.Name, cfg.Pipeline.Tags...),
		controller.WithLocation(loc),
	), nil
}

// serveMetrics exposes /metrics until the returned function is called.
func serveMetrics(addr string, collector *metrics.Collector, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics endpoint shutdown", "error", err)
		}
	}
}
