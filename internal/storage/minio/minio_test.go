package minio

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/tiercache/pkg/errors"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing bucket", Config{Endpoint: "localhost:9000"}, "bucket is required"},
		{"missing endpoint", Config{Bucket: "b"}, "endpoint is required"},
		{"missing credentials", Config{Bucket: "b", Endpoint: "localhost:9000"}, "access key and secret key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_Valid(t *testing.T) {
	m, err := New(Config{
		Endpoint:  "localhost:9000",
		Bucket:    "cache",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Prefix:    "tc/",
	})
	require.NoError(t, err)
	assert.Equal(t, "cache", m.bucket)
	assert.Equal(t, "tc/", m.prefix)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		operation string
		want      errors.ErrorCode
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey"}, "get", errors.ErrCodeRecordNotFound},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket"}, "put", errors.ErrCodeMediumUnavailable},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied"}, "put", errors.ErrCodeAccessDenied},
		{"slow down", minio.ErrorResponse{Code: "SlowDown"}, "get", errors.ErrCodeServiceUnavailable},
		{"other put", minio.ErrorResponse{Code: "EntityTooLarge"}, "put", errors.ErrCodePersistenceWrite},
		{"other delete", minio.ErrorResponse{Code: "Weird"}, "delete", errors.ErrCodePersistenceDelete},
		{"transport", stderrors.New("dial tcp: refused"), "get", errors.ErrCodeConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate(tt.err, tt.operation, "k")
			assert.True(t, errors.IsCode(err, tt.want), "got %v", err)
		})
	}

	assert.NoError(t, translate(nil, "get", "k"))
}

func TestMedium_UnreachableServer(t *testing.T) {
	m, err := New(Config{
		Endpoint:  "127.0.0.1:1",
		Bucket:    "cache",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = m.Get(ctx, "k")
	assert.Error(t, err)
	assert.False(t, stderrors.Is(err, errors.ErrRecordNotFound))
}
