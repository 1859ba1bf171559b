// Package exports archives generated task exports in S3-compatible object
// storage and hands out presigned download links.
package exports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"kyri56xcaesar/pms-kanban/internal/logger"
)

// ErrDisabled is returned when no object storage is configured.
var ErrDisabled = errors.New("object storage not configured")

type Archive struct {
	Object    string    `json:"object"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Archiver interface {
	Archive(ctx context.Context, object string, data []byte, contentType string) (*Archive, error)
}

type Config struct {
	Endpoint  string // minio:9000
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	URLTTL    time.Duration
}

type Minio struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// NewMinio connects to the endpoint and creates the bucket when missing.
func NewMinio(ctx context.Context, cfg Config) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("export bucket created", "bucket", cfg.Bucket)
	}

	ttl := cfg.URLTTL
	if ttl <= 0 || ttl > 7*24*time.Hour {
		ttl = 24 * time.Hour
	}

	logger.Info("object storage initialized", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket, "ssl", cfg.UseSSL)
	return &Minio{client: client, bucket: cfg.Bucket, ttl: ttl}, nil
}

func (m *Minio) Archive(ctx context.Context, object string, data []byte, contentType string) (*Archive, error) {
	object = strings.TrimPrefix(object, "/")

	_, err := m.client.PutObject(ctx, m.bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", object, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", baseName(object)))

	expires := time.Now().UTC().Add(m.ttl)
	u, err := m.client.PresignedGetObject(ctx, m.bucket, object, m.ttl, params)
	if err != nil {
		return nil, fmt.Errorf("failed to presign %s: %w", object, err)
	}

	return &Archive{Object: object, URL: u.String(), ExpiresAt: expires}, nil
}

// ObjectName builds the archive path for a project export taken at t.
func ObjectName(projectKey string, t time.Time) string {
	return fmt.Sprintf("exports/%s/%s-tasks-%s.csv", projectKey, projectKey, t.UTC().Format("20060102T150405Z"))
}

func baseName(object string) string {
	if i := strings.LastIndex(object, "/"); i >= 0 {
		return object[i+1:]
	}
	return object
}

// Disabled reports ErrDisabled for every archive request.
type Disabled struct{}

func (Disabled) Archive(context.Context, string, []byte, string) (*Archive, error) {
	return nil, ErrDisabled
}
