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

package readers

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ReaderError provides structured error information for S3 operations
type S3ReaderError struct {
	Op  string // Operation that failed (e.g., "list_objects", "get_object")
	Key string // Object key, if any
	Err error  // Underlying error
}

func (e *S3ReaderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 reader %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 reader %s: %v", e.Op, e.Err)
}

func (e *S3ReaderError) Unwrap() error {
	return e.Err
}

// S3ReaderStats holds statistics about the S3 source
type S3ReaderStats struct {
	ObjectsListed int64         // Objects that passed the filters
	ObjectsOpened int64         // Objects fetched with GetObject
	ListDuration  time.Duration // Total time spent listing
	LastListTime  time.Time
	ObjectErrors  int64 // Failed GetObject calls
}

// S3ReaderOptions configures the S3 source
type S3ReaderOptions struct {
	Bucket         string          // S3 bucket name
	Prefix         string          // Key prefix filter
	Suffixes       []string        // Accepted key suffixes; empty accepts all
	MaxKeys        int32           // Page size for ListObjectsV2
	Region         string          // AWS region
	Profile        string          // AWS profile to use
	Credentials    aws.Credentials // Explicit credentials
	EndpointURL    string          // Custom S3 endpoint (for S3-compatible services)
	ForcePathStyle bool            // Use path-style addressing
	Client         S3API           // Preconfigured client; skips AWS config loading
}

// ReaderOptionS3 represents a configuration function for S3Source
type ReaderOptionS3 func(*S3ReaderOptions)

func WithS3Bucket(bucket string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Bucket = bucket
	}
}

func WithS3Prefix(prefix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Prefix = prefix
	}
}

func WithS3Suffixes(suffixes ...string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Suffixes = append([]string(nil), suffixes...)
	}
}

func WithS3Region(region string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Region = region
	}
}

func WithS3Profile(profile string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Profile = profile
	}
}

func WithS3Credentials(creds aws.Credentials) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Credentials = creds
	}
}

func WithS3Endpoint(endpoint string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.EndpointURL = endpoint
	}
}

func WithS3PathStyle(pathStyle bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.ForcePathStyle = pathStyle
	}
}

func WithS3MaxKeys(maxKeys int32) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.MaxKeys = maxKeys
	}
}

// WithS3Client injects a client, typically a fake in tests.
func WithS3Client(client S3API) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Client = client
	}
}

// S3Object represents an S3 object selected for extraction
type S3Object struct {
	Key          string // Full object key
	RelativeKey  string // Key with the configured prefix removed
	Size         int64
	LastModified time.Time
	ETag         string
}

// S3Source lists and fetches the raw objects under a bucket prefix.
type S3Source struct {
	client S3API
	opts   S3ReaderOptions
	stats  S3ReaderStats
	mu     sync.RWMutex
}

// NewS3Source creates an S3 source. Listing happens on demand, so a bad
// bucket or bad credentials surface from List, not from the constructor.
func NewS3Source(ctx context.Context, options ...ReaderOptionS3) (*S3Source, error) {
	opts := S3ReaderOptions{
		MaxKeys: 1000,
	}

	for _, option := range options {
		option(&opts)
	}

	if opts.Bucket == "" {
		return nil, &S3ReaderError{Op: "validate_options", Err: fmt.Errorf("bucket is required")}
	}

	client := opts.Client
	if client == nil {
		cfg, err := createAWSConfig(ctx, opts)
		if err != nil {
			return nil, &S3ReaderError{Op: "create_aws_config", Err: err}
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.EndpointURL != "" {
				o.BaseEndpoint = aws.String(opts.EndpointURL)
			}
			o.UsePathStyle = opts.ForcePathStyle
		})
	}

	return &S3Source{client: client, opts: opts}, nil
}

// Bucket returns the configured bucket name.
func (s *S3Source) Bucket() string { return s.opts.Bucket }

// Prefix returns the configured key prefix.
func (s *S3Source) Prefix() string { return s.opts.Prefix }

// List returns every object under the prefix that passes the filters, sorted
// by key. Directory markers are skipped.
func (s *S3Source) List(ctx context.Context) ([]S3Object, error) {
	start := time.Now()

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.opts.Bucket),
		MaxKeys: aws.Int32(s.opts.MaxKeys),
	}
	if s.opts.Prefix != "" {
		input.Prefix = aws.String(s.opts.Prefix)
	}

	var objects []S3Object

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &S3ReaderError{Op: "list_objects", Err: err}
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !s.shouldIncludeObject(key) {
				continue
			}
			objects = append(objects, S3Object{
				Key:          key,
				RelativeKey:  strings.TrimPrefix(strings.TrimPrefix(key, s.opts.Prefix), "/"),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
			})
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	s.mu.Lock()
	s.stats.ObjectsListed = int64(len(objects))
	s.stats.ListDuration += time.Since(start)
	s.stats.LastListTime = time.Now()
	s.mu.Unlock()

	return objects, nil
}

// Open fetches one object. The caller closes the returned body.
func (s *S3Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.ObjectErrors++
		return nil, &S3ReaderError{Op: "get_object", Key: key, Err: err}
	}
	s.stats.ObjectsOpened++
	return out.Body, nil
}

// Stats returns S3 source statistics
func (s *S3Source) Stats() S3ReaderStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// createAWSConfig creates AWS configuration from options
func createAWSConfig(ctx context.Context, opts S3ReaderOptions) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}

	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	// Explicit credentials take precedence over the default chain
	if opts.Credentials.AccessKeyID != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		))
	}

	return config.LoadDefaultConfig(ctx, configOpts...)
}

// shouldIncludeObject determines if an object should be extracted
func (s *S3Source) shouldIncludeObject(key string) bool {
	if key == "" || strings.HasSuffix(key, "/") {
		return false
	}
	if len(s.opts.Suffixes) == 0 {
		return true
	}
	lower := strings.ToLower(key)
	for _, suffix := range s.opts.Suffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}
