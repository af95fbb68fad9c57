/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	appconfig "github.com/friendsincode/jammy/internal/config"
)

// S3Storage implements Storage using S3-compatible object storage.
type S3Storage struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
	logger        zerolog.Logger
}

// NewS3Storage creates an S3-based storage backend. A custom endpoint and
// path-style addressing support MinIO and similar services.
func NewS3Storage(ctx context.Context, cfg *appconfig.Config, logger zerolog.Logger) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	publicBase := strings.TrimSuffix(cfg.S3PublicBaseURL, "/")
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
	}

	return &S3Storage{
		client:        client,
		bucket:        cfg.S3Bucket,
		publicBaseURL: publicBase,
		logger:        logger.With().Str("component", "cover-storage-s3").Logger(),
	}, nil
}

// Store uploads a cover image.
func (st *S3Storage) Store(ctx context.Context, roomID, contentType string, file io.Reader) (string, error) {
	key := coverKey(roomID, contentType)

	_, err := st.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(st.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}

	st.logger.Debug().
		Str("bucket", st.bucket).
		Str("key", key).
		Str("room_id", roomID).
		Msg("cover stored")

	return key, nil
}

// Delete removes a cover from the bucket.
func (st *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := st.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}

// URL returns the public URL for a stored key.
func (st *S3Storage) URL(key string) string {
	return st.publicBaseURL + "/" + key
}
