// Package s3blob implements the blob store port on S3 compatible object
// storage.
package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"tabimport/internal/storage"
)

// Config holds the bucket target. Endpoint is optional and used for local
// S3 compatible servers (e.g. minio, localstack).
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	KeyPrefix     string
}

type blobStore struct {
	client *s3.Client
	cfg    Config
}

// New creates an S3 backed blob store.
func New(ctx context.Context, cfg Config) (storage.BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "imports"
	}

	awsConfig, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &blobStore{client: client, cfg: cfg}, nil
}

func (b *blobStore) Upload(ctx context.Context, data []byte, fileName, contentType string) (string, error) {
	key := b.buildKey(fileName)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", fileName, err)
	}

	return b.objectURL(key), nil
}

// buildKey namespaces each upload under a fresh id so repeated uploads of the
// same file name never collide.
func (b *blobStore) buildKey(fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." {
		name = "upload"
	}
	return fmt.Sprintf("%s/%s/%s", b.cfg.KeyPrefix, uuid.NewString(), name)
}

func (b *blobStore) objectURL(key string) string {
	if b.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(b.cfg.PublicBaseURL, "/") + "/" + key
	}
	if b.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(b.cfg.Endpoint, "/"), b.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.cfg.Bucket, b.cfg.Region, key)
}
