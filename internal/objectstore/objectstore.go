/*
Copyright 2025 LightCI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package objectstore abstracts where the Artifact Collector's collected
// files live: the local artifacts tree, or an S3 bucket for deployments
// that configure artifactPolicy.storageKind=s3.
package objectstore

import (
	"context"
	"io"
)

// Store is the interface the Artifact Collector and download handlers use.
// Key format: "{runId}/{relativePath}".
type Store interface {
	Put(ctx context.Context, key string, content io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Config holds the subset of fields relevant to either backend. Kind
// selects Local or S3; the S3 fields are ignored for Local.
type Config struct {
	Kind            string // "local" or "s3"
	LocalRoot       string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

func (c *Config) ValidateS3() error {
	if c.Bucket == "" {
		return ErrMissingBucket
	}
	return nil
}
