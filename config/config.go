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

// Package config loads the pipeline configuration from a YAML file and an
// injected environment lookup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Recognized environment keys.
const (
	EnvAccessKeyID     = "ACCESS_KEY_ID"
	EnvSecretAccessKey = "SECRET_ACCESS_KEY"
	EnvDBHost          = "DB_HOST"
	EnvDBName          = "DB_NAME"
	EnvDBUser          = "DB_USER"
	EnvDBPassword      = "DB_PASSWORD"
	EnvDBPort          = "DB_PORT"
	EnvEmail           = "EMAIL"
	EnvSendGridAPIKey  = "SENDGRID_API_KEY"

	awsPrefix = "AWS_"
)

// Notification sink names.
const (
	SinkLog      = "log"
	SinkSendGrid = "sendgrid"
	SinkSNS      = "sns"
	SinkWebhook  = "webhook"
)

// Config is the complete pipeline configuration.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Source    SourceConfig    `yaml:"source"`
	Database  DatabaseConfig  `yaml:"database"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Retry     RetryConfig     `yaml:"retry"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// PipelineConfig identifies the pipeline and when it runs.
type PipelineConfig struct {
	Name     string   `yaml:"name"`
	Tags     []string `yaml:"tags"`
	Schedule string   `yaml:"schedule"` // cron expression
	Timezone string   `yaml:"timezone"` // canonical timezone for dates and reports
}

// SourceConfig locates the raw objects.
type SourceConfig struct {
	Bucket    string   `yaml:"bucket"`
	Prefix    string   `yaml:"prefix"`
	Region    string   `yaml:"region"`
	Endpoint  string   `yaml:"endpoint"`
	PathStyle bool     `yaml:"pathStyle"`
	Suffixes  []string `yaml:"suffixes"`

	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

// DatabaseConfig locates the warehouse.
type DatabaseConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Name           string   `yaml:"name"`
	User           string   `yaml:"user"`
	Password       string   `yaml:"-"`
	SSLMode        string   `yaml:"sslMode"`
	ConnectTimeout Duration `yaml:"connectTimeout"`
	MaxOpenConns   int      `yaml:"maxOpenConns"`
}

// WorkspaceConfig sets where run directories live.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// Backoff strategies accepted by StagePolicy.Backoff.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// StagePolicy is the retry policy of one stage. Attempts counts the first try.
// With exponential backoff Delay is the first wait, doubled after each failed
// attempt and capped at MaxDelay when MaxDelay is set.
type StagePolicy struct {
	Attempts int      `yaml:"attempts"`
	Delay    Duration `yaml:"delay"`
	Backoff  string   `yaml:"backoff"`
	MaxDelay Duration `yaml:"maxDelay"`
}

// RetryConfig holds the per-stage retry policies.
type RetryConfig struct {
	Extract   StagePolicy `yaml:"extract"`
	Transform StagePolicy `yaml:"transform"`
	Load      StagePolicy `yaml:"load"`
}

// NotifyConfig selects and configures notification sinks.
type NotifyConfig struct {
	Sinks          []string `yaml:"sinks"`
	Email          string   `yaml:"email"`
	From           string   `yaml:"from"`
	FromName       string   `yaml:"fromName"`
	SendGridAPIKey string   `yaml:"sendgridApiKey"`
	SNSTopicARN    string   `yaml:"snsTopicArn"`
	WebhookURL     string   `yaml:"webhookUrl"`
	Timeout        Duration `yaml:"timeout"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration written as a Go duration string ("5m", "30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when a key is not set.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Name:     "Pipeline ETL Marketing",
			Tags:     []string{"marketing", "etl"},
			Schedule: "0 22 * * 6",
			Timezone: "America/Sao_Paulo",
		},
		Source: SourceConfig{
			Region:   "us-east-1",
			Suffixes: []string{".csv", ".json", ".jsonl", ".parquet"},
		},
		Database: DatabaseConfig{
			Port:           5432,
			SSLMode:        "disable",
			ConnectTimeout: Duration(10 * time.Second),
			MaxOpenConns:   4,
		},
		Workspace: WorkspaceConfig{Root: "tmp"},
		Retry: RetryConfig{
			Extract:   StagePolicy{Attempts: 3, Delay: Duration(5 * time.Minute)},
			Transform: StagePolicy{Attempts: 1},
			Load:      StagePolicy{Attempts: 3, Delay: Duration(5 * time.Minute)},
		},
		Notify: NotifyConfig{
			Sinks:    []string{SinkLog},
			FromName: "Pipeline ETL Marketing",
			Timeout:  Duration(30 * time.Second),
		},
	}
}

// Load reads the YAML file at path over the defaults, applies the environment
// and validates the result. An empty path skips the file.
func Load(path string, env Lookup) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(env); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides credentials and connection settings with the
// recognized environment keys.
func (c *Config) ApplyEnv(env Lookup) error {
	if env == nil {
		return nil
	}

	if v, ok := env.firstOf(EnvAccessKeyID, awsPrefix+EnvAccessKeyID); ok {
		c.Source.AccessKeyID = v
	}
	if v, ok := env.firstOf(EnvSecretAccessKey, awsPrefix+EnvSecretAccessKey); ok {
		c.Source.SecretAccessKey = v
	}
	if v, ok := env.get(EnvDBHost); ok {
		c.Database.Host = v
	}
	if v, ok := env.get(EnvDBName); ok {
		c.Database.Name = v
	}
	if v, ok := env.get(EnvDBUser); ok {
		c.Database.User = v
	}
	if v, ok := env.get(EnvDBPassword); ok {
		c.Database.Password = v
	}
	if v, ok := env.get(EnvDBPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDBPort, err)
		}
		c.Database.Port = port
	}
	if v, ok := env.get(EnvEmail); ok {
		c.Notify.Email = v
	}
	if v, ok := env.get(EnvSendGridAPIKey); ok {
		c.Notify.SendGridAPIKey = v
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Pipeline.Name == "" {
		result = multierror.Append(result, errors.New("pipeline.name is required"))
	}
	if c.Pipeline.Schedule == "" {
		result = multierror.Append(result, errors.New("pipeline.schedule is required"))
	}
	if _, err := c.Location(); err != nil {
		result = multierror.Append(result, fmt.Errorf("pipeline.timezone: %w", err))
	}
	if c.Source.Bucket == "" {
		result = multierror.Append(result, errors.New("source.bucket is required"))
	}
	if (c.Source.AccessKeyID == "") != (c.Source.SecretAccessKey == "") {
		result = multierror.Append(result, fmt.Errorf("%s and %s must be set together", EnvAccessKeyID, EnvSecretAccessKey))
	}
	if c.Database.Host == "" {
		result = multierror.Append(result, fmt.Errorf("database host is required (%s)", EnvDBHost))
	}
	if c.Database.Name == "" {
		result = multierror.Append(result, fmt.Errorf("database name is required (%s)", EnvDBName))
	}
	if c.Database.User == "" {
		result = multierror.Append(result, fmt.Errorf("database user is required (%s)", EnvDBUser))
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("database port %d out of range", c.Database.Port))
	}
	if c.Workspace.Root == "" {
		result = multierror.Append(result, errors.New("workspace.root is required"))
	}

	for name, p := range map[string]StagePolicy{
		"extract":   c.Retry.Extract,
		"transform": c.Retry.Transform,
		"load":      c.Retry.Load,
	} {
		if p.Attempts < 1 {
			result = multierror.Append(result, fmt.Errorf("retry.%s.attempts must be at least 1", name))
		}
		if p.Delay < 0 {
			result = multierror.Append(result, fmt.Errorf("retry.%s.delay must not be negative", name))
		}
		switch p.Backoff {
		case "", BackoffFixed, BackoffExponential:
		default:
			result = multierror.Append(result, fmt.Errorf("retry.%s.backoff %q is not fixed or exponential", name, p.Backoff))
		}
		if p.MaxDelay < 0 {
			result = multierror.Append(result, fmt.Errorf("retry.%s.maxDelay must not be negative", name))
		}
	}

	for _, sink := range c.Notify.Sinks {
		switch sink {
		case SinkLog:
		case SinkSendGrid:
			if c.Notify.SendGridAPIKey == "" {
				result = multierror.Append(result, fmt.Errorf("sendgrid sink requires %s", EnvSendGridAPIKey))
			}
			if c.Notify.Email == "" {
				result = multierror.Append(result, fmt.Errorf("sendgrid sink requires %s", EnvEmail))
			}
			if c.Notify.From == "" {
				result = multierror.Append(result, errors.New("sendgrid sink requires notify.from"))
			}
		case SinkSNS:
			if c.Notify.SNSTopicARN == "" {
				result = multierror.Append(result, errors.New("sns sink requires notify.snsTopicArn"))
			}
		case SinkWebhook:
			if _, err := url.ParseRequestURI(c.Notify.WebhookURL); err != nil {
				result = multierror.Append(result, fmt.Errorf("webhook sink requires a valid notify.webhookUrl: %w", err))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("unknown notification sink %q", sink))
		}
	}

	return result.ErrorOrNil()
}

// Location loads the canonical timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Pipeline.Timezone)
}

// DSN builds a lib/pq connection URL.
func (d DatabaseConfig) DSN() string {
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(d.ConnectTimeout.Std().Seconds())))
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: q.Encode(),
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	return u.String()
}
