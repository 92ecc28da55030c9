// Riley CMS is a self-hosted headless content service.
// Copyright (C) 2026  Riley CMS Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package storage lists and uploads binary assets in an S3-compatible
// bucket. Content stays in git; only images and other large binaries go
// through here.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"rileycms/internal/config"
)

// Page size bounds for asset listings.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// s3API is the slice of the S3 client the store uses, injectable for tests.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Asset is one object in the bucket as exposed by the API.
type Asset struct {
	Key          string     `json:"key"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	URL          string     `json:"url"`
}

// AssetPage is one page of a bucket listing.
type AssetPage struct {
	Assets    []Asset `json:"assets"`
	NextToken string  `json:"next_token,omitempty"`
}

// ListOptions paginates bucket listings.
type ListOptions struct {
	Limit int
	Token string
}

// Store talks to one S3-compatible bucket.
type Store struct {
	client        s3API
	bucket        string
	publicURLBase string
	logger        *slog.Logger
}

// New builds a Store from the storage config section. The bucket is probed
// with a HeadBucket call; a failed probe is logged but not fatal, so the
// service starts even when the bucket is temporarily unreachable.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	s := newStore(client, cfg, logger)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket}); err != nil {
		logger.Warn("Asset bucket probe failed; asset operations may not work",
			"bucket", s.bucket, "error", err)
	}
	return s, nil
}

func newStore(client s3API, cfg config.StorageConfig, logger *slog.Logger) *Store {
	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		publicURLBase: strings.TrimRight(cfg.PublicURLBase, "/"),
		logger:        logger,
	}
}

// List returns one page of bucket objects with their public URLs.
func (s *Store) List(ctx context.Context, opts ListOptions) (*AssetPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  &s.bucket,
		MaxKeys: int32ptr(int32(limit)),
	}
	if opts.Token != "" {
		input.ContinuationToken = &opts.Token
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket %s: %w", s.bucket, err)
	}

	page := &AssetPage{Assets: make([]Asset, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		page.Assets = append(page.Assets, Asset{
			Key:          *obj.Key,
			Size:         size,
			LastModified: obj.LastModified,
			URL:          s.PublicURL(*obj.Key),
		})
	}
	if out.NextContinuationToken != nil {
		page.NextToken = *out.NextContinuationToken
	}
	return page, nil
}

// Upload stores a local file under key and returns the resulting asset.
// The content type comes from the file extension.
func (s *Store) Upload(ctx context.Context, localPath, key string) (*Asset, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	size := fi.Size()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          f,
		ContentLength: &size,
		ContentType:   &contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.logger.Info("Asset uploaded", "key", key, "size", size, "content_type", contentType)
	return &Asset{Key: key, Size: size, URL: s.PublicURL(key)}, nil
}

// PublicURL returns the CDN-facing URL for an object key.
func (s *Store) PublicURL(key string) string {
	return s.publicURLBase + "/" + strings.TrimLeft(key, "/")
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("asset key cannot be empty")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("asset key %q cannot be absolute", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("asset key %q cannot contain path traversal", key)
		}
	}
	return nil
}

func int32ptr(n int32) *int32 {
	return &n
}
