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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/sendgrid/rest"
	sendgrid "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/aaronlmathis/marketingetl/config"
)

// FromConfig builds the sinks named in cfg.Notify.Sinks, in order.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	for _, name := range cfg.Notify.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, NewLogSink(logger))
		case config.SinkSendGrid:
			s, err := NewSendGridSink(cfg.Notify.SendGridAPIKey, cfg.Notify.From, cfg.Notify.FromName, cfg.Notify.Email)
			if err != nil {
				return nil, fmt.Errorf("creating %s sink: %w", name, err)
			}
			sinks = append(sinks, s)
		case config.SinkSNS:
			opts := []SNSSinkOption{WithSNSRegion(cfg.Source.Region)}
			if cfg.Source.AccessKeyID != "" {
				opts = append(opts, WithSNSCredentials(cfg.Source.AccessKeyID, cfg.Source.SecretAccessKey))
			}
			s, err := NewSNSSink(ctx, cfg.Notify.SNSTopicARN, opts...)
			if err != nil {
				return nil, fmt.Errorf("creating %s sink: %w", name, err)
			}
			sinks = append(sinks, s)
		case config.SinkWebhook:
			s, err := NewWebhookSink(cfg.Notify.WebhookURL)
			if err != nil {
				return nil, fmt.Errorf("creating %s sink: %w", name, err)
			}
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("unknown notification sink %q", name)
		}
	}
	return sinks, nil
}

// LogSink writes messages to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return config.SinkLog }

func (s *LogSink) Send(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	attrs := []any{
		"pipeline", msg.Pipeline,
		"run_id", msg.RunID,
		"outcome", string(msg.Outcome),
		"scheduled_at", msg.format(msg.ScheduledAt),
		"completed_at", msg.format(msg.CompletedAt),
	}
	if msg.Outcome != Success {
		level = slog.LevelError
		attrs = append(attrs, "stage", msg.Stage, "error", msg.Error)
	}
	for _, name := range msg.datasets() {
		attrs = append(attrs, "rows_"+name, msg.Rows[name])
	}
	s.logger.Log(ctx, level, msg.Subject(), attrs...)
	return nil
}

// SendGridAPI is the subset of the SendGrid client used by SendGridSink.
type SendGridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSink emails messages through SendGrid.
type SendGridSink struct {
	client SendGridAPI
	from   *mail.Email
	to     *mail.Email
}

// SendGridOption configures a SendGridSink.
type SendGridOption func(*SendGridSink)

// WithSendGridClient sets a custom SendGrid client (useful for testing).
func WithSendGridClient(c SendGridAPI) SendGridOption {
	return func(s *SendGridSink) { s.client = c }
}

// NewSendGridSink creates a sink that mails to.
func NewSendGridSink(apiKey, from, fromName, to string, opts ...SendGridOption) (*SendGridSink, error) {
	if to == "" {
		return nil, fmt.Errorf("recipient email required")
	}
	if from == "" {
		return nil, fmt.Errorf("sender email required")
	}
	s := &SendGridSink{
		from: mail.NewEmail(fromName, from),
		to:   mail.NewEmail("", to),
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		if apiKey == "" {
			return nil, fmt.Errorf("SendGrid API key required")
		}
		s.client = sendgrid.NewSendClient(apiKey)
	}
	return s, nil
}

func (s *SendGridSink) Name() string { return config.SinkSendGrid }

func (s *SendGridSink) Send(ctx context.Context, msg Message) error {
	html, err := msg.HTML()
	if err != nil {
		return fmt.Errorf("rendering email: %w", err)
	}
	email := mail.NewSingleEmail(s.from, msg.Subject(), s.to, msg.Text(), html)

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if resp != nil && resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// SNSAPI is the subset of the SNS client used by SNSSink.
type SNSAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes messages to an SNS topic.
type SNSSink struct {
	client   SNSAPI
	topicARN string
	region   string
	creds    aws.CredentialsProvider
}

// SNSSinkOption configures an SNSSink.
type SNSSinkOption func(*SNSSink)

// WithSNSClient sets a custom SNS client (useful for testing).
func WithSNSClient(c SNSAPI) SNSSinkOption {
	return func(s *SNSSink) { s.client = c }
}

// WithSNSRegion sets the region of the default client.
func WithSNSRegion(region string) SNSSinkOption {
	return func(s *SNSSink) { s.region = region }
}

// WithSNSCredentials sets static credentials for the default client.
func WithSNSCredentials(accessKeyID, secretAccessKey string) SNSSinkOption {
	return func(s *SNSSink) {
		s.creds = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	}
}

// NewSNSSink creates a new SNS sink.
func NewSNSSink(ctx context.Context, topicARN string, opts ...SNSSinkOption) (*SNSSink, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN required")
	}
	s := &SNSSink{topicARN: topicARN}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if s.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(s.region))
		}
		if s.creds != nil {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(s.creds))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = sns.NewFromConfig(cfg)
	}
	return s, nil
}

func (s *SNSSink) Name() string { return config.SinkSNS }

func (s *SNSSink) Send(ctx context.Context, msg Message) error {
	subject := msg.Subject()
	if len(subject) > 100 {
		subject = subject[:100]
	}
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(msg.Text()),
	})
	if err != nil {
		return fmt.Errorf("publishing to SNS: %w", err)
	}
	return nil
}

// WebhookSink posts messages as JSON.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a new webhook sink.
func NewWebhookSink(url string) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL required")
	}
	return &WebhookSink{url: url, client: &http.Client{}}, nil
}

func (s *WebhookSink) Name() string { return config.SinkWebhook }

type webhookPayload struct {
	Pipeline    string           `json:"pipeline"`
	Tags        []string         `json:"tags,omitempty"`
	RunID       string           `json:"run_id"`
	Outcome     Outcome          `json:"outcome"`
	Subject     string           `json:"subject"`
	Stage       string           `json:"stage,omitempty"`
	Error       string           `json:"error,omitempty"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Rows        map[string]int64 `json:"rows,omitempty"`
}

func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	loc := msg.Location
	if loc == nil {
		loc = time.UTC
	}
	data, err := json.Marshal(webhookPayload{
		Pipeline:    msg.Pipeline,
		Tags:        msg.Tags,
		RunID:       msg.RunID,
		Outcome:     msg.Outcome,
		Subject:     msg.Subject(),
		Stage:       msg.Stage,
		Error:       msg.Error,
		ScheduledAt: msg.ScheduledAt.In(loc),
		CompletedAt: msg.CompletedAt.In(loc),
		Rows:        msg.Rows,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
