package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxPresignExpiry is the longest validity S3 accepts for a signed URL.
const MaxPresignExpiry = 7 * 24 * time.Hour

// ErrObjectNotFound is returned when signing a URL for a missing object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore stores uploaded study files.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// PresignGet returns a time-limited GET URL for an existing object.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// MinioConfig configures a MinioStore. PublicEndpoint, when set, is the
// host written into signed URLs handed to external consumers.
type MinioConfig struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	signer *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	client, err := minio.New(cfg.Endpoint, &minio.Options{Creds: creds, Secure: cfg.UseSSL})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	signer := client
	if public := strings.TrimSpace(cfg.PublicEndpoint); public != "" {
		host, secure, err := splitEndpoint(public, cfg.UseSSL)
		if err != nil {
			return nil, err
		}
		// Signing is offline; the bucket region is pinned so no lookup hits the public host.
		signer, err = minio.New(host, &minio.Options{Creds: creds, Secure: secure, Region: "us-east-1"})
		if err != nil {
			return nil, fmt.Errorf("init minio signer: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, signer: signer, bucket: cfg.Bucket}, nil
}

func splitEndpoint(raw string, defaultSecure bool) (string, bool, error) {
	if !strings.Contains(raw, "://") {
		return raw, defaultSecure, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, fmt.Errorf("invalid public endpoint %q", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

// Put uploads an object.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// PresignGet checks the object exists and signs a GET URL for it.
func (m *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 || expiry > MaxPresignExpiry {
		expiry = MaxPresignExpiry
	}
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("presign %s: %w", key, ErrObjectNotFound)
		}
		return "", fmt.Errorf("stat object: %w", err)
	}
	signed, err := m.signer.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return signed.String(), nil
}

// Delete removes an object. Missing objects are not an error.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
