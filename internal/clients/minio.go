package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/resume-intake-bot/internal/config"
	"github.com/tbourn/resume-intake-bot/internal/services"
)

// MinioStore is the S3-compatible object store.
type MinioStore struct {
	client *minio.Client
	region string
}

var _ services.ObjectStore = (*MinioStore)(nil)

// NewMinioStore creates the client. A configured region avoids a bucket
// location lookup before presigning.
func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	return &MinioStore{client: client, region: cfg.Region}, nil
}

// EnsureBuckets creates any missing bucket.
func (m *MinioStore) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, b := range buckets {
		exists, err := m.client.BucketExists(ctx, b)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", b, err)
		}
		if exists {
			continue
		}
		if err := m.client.MakeBucket(ctx, b, minio.MakeBucketOptions{Region: m.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", b, err)
		}
		log.Info().Str("bucket", b).Msg("bucket created")
	}
	return nil
}

// Put uploads data, replacing any object under the same key.
func (m *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// SignedURL presigns a GET. A positive width is forwarded as a query
// parameter for the image transform front.
func (m *MinioStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration, width int) (string, error) {
	params := url.Values{}
	if width > 0 {
		params.Set("width", strconv.Itoa(width))
	}
	u, err := m.client.PresignedGetObject(ctx, bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}
