/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage turns catalog resource locators into URIs the playback
// device can open.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

var (
	// ErrEmptyLocator is returned for a track without a resource locator.
	ErrEmptyLocator = errors.New("storage: empty resource locator")
	// ErrObjectStorageDisabled is returned for s3:// locators when no bucket is configured.
	ErrObjectStorageDisabled = errors.New("storage: object storage not configured")
)

// S3Config configures presigned access to object storage.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string
	UsePathStyle    bool
	PresignTTL      time.Duration
}

// signFunc presigns a GET for bucket/key.
type signFunc func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

// Resolver maps locators to device URIs. Plain paths are made absolute under
// the media root, http(s) and file URIs pass through, and s3://bucket/key
// locators are presigned.
type Resolver struct {
	mediaRoot     string
	defaultBucket string
	ttl           time.Duration
	sign          signFunc
	logger        zerolog.Logger
}

// NewResolver builds a resolver for local and remote locators only.
func NewResolver(mediaRoot string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		mediaRoot: mediaRoot,
		ttl:       time.Hour,
		logger:    logger.With().Str("component", "storage").Logger(),
	}
}

// WithS3 enables s3:// locators. An empty bucket leaves object storage off.
func (r *Resolver) WithS3(ctx context.Context, cfg S3Config) (*Resolver, error) {
	if cfg.Bucket == "" {
		return r, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	presigner := s3.NewPresignClient(client)

	r.defaultBucket = cfg.Bucket
	if cfg.PresignTTL > 0 {
		r.ttl = cfg.PresignTTL
	}
	r.sign = func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
		req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}
	r.logger.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("object storage enabled")
	return r, nil
}

// Resolve returns a URI for locator.
func (r *Resolver) Resolve(ctx context.Context, locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", ErrEmptyLocator
	}

	u, err := url.Parse(locator)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "file":
			return locator, nil
		case "s3":
			return r.presign(ctx, u)
		}
	}

	path := locator
	if !filepath.IsAbs(path) && r.mediaRoot != "" {
		path = filepath.Join(r.mediaRoot, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", locator, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func (r *Resolver) presign(ctx context.Context, u *url.URL) (string, error) {
	if r.sign == nil {
		return "", ErrObjectStorageDisabled
	}
	bucket := u.Host
	if bucket == "" {
		bucket = r.defaultBucket
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("resolve %s: missing object key", u)
	}
	signed, err := r.sign(ctx, bucket, key, r.ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return signed, nil
}
