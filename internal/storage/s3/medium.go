package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/objectfs/tiercache/pkg/errors"
)

// Medium implements types.Medium over an S3 bucket.
type Medium struct {
	bucket  string
	prefix  string
	class   string
	clients *ClientManager
	logger  *slog.Logger
}

// NewMedium creates an S3 medium and, unless disabled, verifies that the
// bucket is reachable.
func NewMedium(ctx context.Context, cfg *Config) (*Medium, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "s3-medium", "bucket", cfg.Bucket)

	clients, err := NewClientManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := &Medium{
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		class:   cfg.StorageClass,
		clients: clients,
		logger:  logger,
	}

	if !cfg.SkipHealthCheck {
		if err := m.HealthCheck(ctx); err != nil {
			_ = clients.Close()
			return nil, fmt.Errorf("S3 medium health check failed: %w", err)
		}
	}

	return m, nil
}

func (m *Medium) objectKey(key string) string {
	return m.prefix + key
}

// Get downloads the object stored under key.
func (m *Medium) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := m.clients.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer m.clients.Release(client)

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(key)),
	})
	if err != nil {
		return nil, m.translateError(err, "get", key)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodePersistenceRead, "failed to read object body").
			WithComponent("s3-medium").
			WithContext("key", key).
			WithCause(err)
	}
	return data, nil
}

// Put uploads data, preferring the CargoShip transporter when enabled.
func (m *Medium) Put(ctx context.Context, key string, data []byte) error {
	if transporter := m.clients.GetTransporter(); transporter != nil {
		result, err := transporter.Upload(ctx, cargoships3.Archive{
			Key:          m.objectKey(key),
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: cargoStorageClass(m.class),
			Metadata: map[string]string{
				"tiercache-record": "true",
				"content-type":     "application/json",
			},
		})
		if err == nil {
			m.logger.Debug("CargoShip upload completed",
				"key", key,
				"size", len(data),
				"duration", result.Duration)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("CargoShip upload failed, falling back to standard S3", "key", key, "error", err)
	}

	client, err := m.clients.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.clients.Release(client)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		StorageClass:  s3types.StorageClass(m.class),
	})
	if err != nil {
		return m.translateError(err, "put", key)
	}
	return nil
}

// Delete removes the object. S3 reports success for missing keys.
func (m *Medium) Delete(ctx context.Context, key string) error {
	client, err := m.clients.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.clients.Release(client)

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(key)),
	})
	if err != nil {
		translated := m.translateError(err, "delete", key)
		if stderrors.Is(translated, errors.ErrRecordNotFound) {
			return nil
		}
		return translated
	}
	return nil
}

// List pages through every object under prefix and returns the record
// keys with the medium prefix removed.
func (m *Medium) List(ctx context.Context, prefix string) ([]string, error) {
	client, err := m.clients.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer m.clients.Release(client)

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.objectKey(prefix)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, m.translateError(err, "list", prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), m.prefix))
		}
	}
	return keys, nil
}

// HealthCheck verifies the bucket is reachable
func (m *Medium) HealthCheck(ctx context.Context) error {
	client, err := m.clients.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.clients.Release(client)

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(m.bucket),
	})
	if err != nil {
		return m.translateError(err, "health", "")
	}
	return nil
}

// Close releases the client pool.
func (m *Medium) Close() error {
	return m.clients.Close()
}

func (m *Medium) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return errors.ErrRecordNotFound
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.NewError(errors.ErrCodeMediumUnavailable, fmt.Sprintf("bucket not found: %s", m.bucket)).
			WithComponent("s3-medium").
			WithOperation(operation).
			WithCause(err)
	}

	code := errors.ErrCodeConnectionFailed
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			code = errors.ErrCodeAccessDenied
		case "SlowDown", "ServiceUnavailable", "InternalError":
			code = errors.ErrCodeServiceUnavailable
		default:
			code = operationCode(operation)
		}
	}

	return errors.NewError(code, fmt.Sprintf("%s failed for %q", operation, key)).
		WithComponent("s3-medium").
		WithOperation(operation).
		WithCause(err)
}

func operationCode(operation string) errors.ErrorCode {
	switch operation {
	case "put":
		return errors.ErrCodePersistenceWrite
	case "delete":
		return errors.ErrCodePersistenceDelete
	default:
		return errors.ErrCodePersistenceRead
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
