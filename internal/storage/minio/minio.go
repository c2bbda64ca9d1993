// Package minio stores persistent cache records in a MinIO or other
// S3-compatible bucket through minio-go.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/objectfs/tiercache/pkg/errors"
)

// Config holds MinIO medium configuration.
type Config struct {
	// Endpoint is the MinIO server address (e.g., "localhost:9000")
	Endpoint string `yaml:"endpoint"`

	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`

	// Prefix is prepended to every record key
	Prefix string `yaml:"prefix"`

	// Client is an optional pre-configured client; connection fields are
	// ignored when it is set.
	Client *minio.Client `yaml:"-"`
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("access key and secret key are required when client is not provided")
	}
	return nil
}

// Medium implements types.Medium over a MinIO bucket.
type Medium struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a MinIO-backed medium. No request is made until first use.
func New(cfg Config) (*Medium, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}

	return &Medium{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Get reads the object stored under key.
func (m *Medium) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.prefix+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err, "get", key)
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(err, "get", key)
	}
	return data, nil
}

// Put uploads data under key.
func (m *Medium) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.prefix+key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return translate(err, "put", key)
	}
	return nil
}

// Delete removes the object; missing objects are ignored.
func (m *Medium) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, m.prefix+key, minio.RemoveObjectOptions{})
	if err != nil {
		translated := translate(err, "delete", key)
		if translated == errors.ErrRecordNotFound {
			return nil
		}
		return translated
	}
	return nil
}

// List returns every record key under prefix.
func (m *Medium) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    m.prefix + prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, translate(object.Err, "list", prefix)
		}
		keys = append(keys, strings.TrimPrefix(object.Key, m.prefix))
	}
	return keys, nil
}

// HealthCheck verifies the bucket exists.
func (m *Medium) HealthCheck(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return translate(err, "health", "")
	}
	if !exists {
		return errors.NewError(errors.ErrCodeMediumUnavailable, fmt.Sprintf("bucket not found: %s", m.bucket)).
			WithComponent("minio-medium")
	}
	return nil
}

// translate maps MinIO error responses to cache errors.
func translate(err error, operation, key string) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	code := errors.ErrCodeConnectionFailed
	switch resp.Code {
	case "NoSuchKey":
		return errors.ErrRecordNotFound
	case "NoSuchBucket":
		code = errors.ErrCodeMediumUnavailable
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		code = errors.ErrCodeAccessDenied
	case "SlowDown", "ServiceUnavailable", "XMinioServerNotInitialized":
		code = errors.ErrCodeServiceUnavailable
	case "":
	default:
		switch operation {
		case "put":
			code = errors.ErrCodePersistenceWrite
		case "delete":
			code = errors.ErrCodePersistenceDelete
		default:
			code = errors.ErrCodePersistenceRead
		}
	}

	return errors.NewError(code, fmt.Sprintf("minio %s failed for %q", operation, key)).
		WithComponent("minio-medium").
		WithOperation(operation).
		WithCause(err)
}
