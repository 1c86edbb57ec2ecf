// Package media resolves stored media keys into short-lived presigned URLs
// that delivery channels can fetch directly.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"leadflow_backend/platform/config"
)

// PresignedURLTTL bounds how long a generated media link stays valid.
const PresignedURLTTL = 15 * time.Minute

// Presigner turns object keys into fetchable URLs.
type Presigner interface {
	DownloadURL(ctx context.Context, fileKey string) (string, error)
}

// MinIOPresigner implements Presigner against a MinIO (or any S3-compatible)
// endpoint.
type MinIOPresigner struct {
	client *minio.Client
	bucket string
}

func NewMinIOPresigner(cfg config.MinIOConfig) (*MinIOPresigner, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("minio is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOPresigner{client: client, bucket: cfg.GetMinioBucketMedia()}, nil
}

// EnsureBucket creates the media bucket when it does not exist yet.
func (p *MinIOPresigner) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", p.bucket, err)
	}
	return nil
}

func (p *MinIOPresigner) DownloadURL(ctx context.Context, fileKey string) (string, error) {
	presigned, err := p.client.PresignedGetObject(ctx, p.bucket, fileKey, PresignedURLTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign media %s: %w", fileKey, err)
	}
	return presigned.String(), nil
}
