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
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves objects from memory and pages listings two keys at a time.
type fakeS3 struct {
	objects map[string]string
	listErr error
	getErr  error
	pages   int
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.pages++

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := start + 2
	out := &s3.ListObjectsV2Output{}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
		out.IsTruncated = aws.Bool(false)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
			ETag: aws.String(`"etag"`),
		})
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

// TestS3Source_List tests pagination, filtering and prefix trimming
func TestS3Source_List(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"weekly/":                   "",
		"weekly/client.csv":         "a",
		"weekly/campaign.CSV":       "bb",
		"weekly/economics.parquet":  "ccc",
		"weekly/readme.txt":         "x",
		"weekly/2024/finance.jsonl": "dddd",
		"other/client.csv":          "e",
	}}

	src, err := NewS3Source(context.Background(),
		WithS3Bucket("marketing"),
		WithS3Prefix("weekly/"),
		WithS3Suffixes(".csv", ".jsonl", ".parquet"),
		WithS3Client(fake))
	require.NoError(t, err)

	objects, err := src.List(context.Background())
	require.NoError(t, err)

	var rel []string
	for _, o := range objects {
		rel = append(rel, o.RelativeKey)
	}
	assert.Equal(t, []string{"2024/finance.jsonl", "campaign.CSV", "client.csv", "economics.parquet"}, rel)
	assert.Equal(t, "etag", objects[0].ETag)
	assert.Equal(t, int64(4), objects[0].Size)
	assert.Greater(t, fake.pages, 1)
	assert.Equal(t, int64(4), src.Stats().ObjectsListed)
}

// TestS3Source_Errors tests that client errors are wrapped
func TestS3Source_Errors(t *testing.T) {
	denied := errors.New("AccessDenied")
	src, err := NewS3Source(context.Background(), WithS3Bucket("b"), WithS3Client(&fakeS3{listErr: denied, getErr: denied}))
	require.NoError(t, err)

	_, err = src.List(context.Background())
	var s3Err *S3ReaderError
	require.ErrorAs(t, err, &s3Err)
	assert.Equal(t, "list_objects", s3Err.Op)
	assert.ErrorIs(t, err, denied)

	_, err = src.Open(context.Background(), "client.csv")
	require.ErrorAs(t, err, &s3Err)
	assert.Equal(t, "get_object", s3Err.Op)
	assert.Equal(t, "client.csv", s3Err.Key)
	assert.Equal(t, int64(1), src.Stats().ObjectErrors)
}

// TestS3Source_RequiresBucket tests option validation
func TestS3Source_RequiresBucket(t *testing.T) {
	_, err := NewS3Source(context.Background(), WithS3Client(&fakeS3{}))
	assert.Error(t, err)
}
