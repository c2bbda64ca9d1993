package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/objectfs/tiercache/internal/cache"
	"github.com/objectfs/tiercache/internal/config"
	"github.com/objectfs/tiercache/pkg/errors"
)

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Global.LogLevel = "ERROR"
	cfg.Global.MetricsPort = 0
	cfg.Persistence.Backend = config.BackendMemory
	cfg.Persistence.CircuitBreaker.Enabled = false
	return cfg
}

func TestApplyStorageURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		uri         string
		wantErr     bool
		errContains string
		check       func(t *testing.T, p config.PersistenceConfig)
	}{
		{
			name: "valid s3 URI",
			uri:  "s3://my-bucket",
			check: func(t *testing.T, p config.PersistenceConfig) {
				if p.Backend != config.BackendS3 || p.S3.Bucket != "my-bucket" || p.S3.Prefix != "" {
					t.Errorf("unexpected s3 settings: %+v", p.S3)
				}
			},
		},
		{
			name: "valid s3 URI with path",
			uri:  "s3://my-bucket/path/to/prefix",
			check: func(t *testing.T, p config.PersistenceConfig) {
				if p.S3.Prefix != "path/to/prefix" {
					t.Errorf("expected prefix path/to/prefix, got %q", p.S3.Prefix)
				}
			},
		},
		{
			name:        "s3 URI without bucket",
			uri:         "s3://",
			wantErr:     true,
			errContains: "bucket name",
		},
		{
			name:    "s3 URI with dots in bucket name",
			uri:     "s3://my.bucket.with.dots",
			wantErr: false,
		},
		{
			name: "minio URI",
			uri:  "minio://localhost:9000/cache/records",
			check: func(t *testing.T, p config.PersistenceConfig) {
				if p.MinIO.Endpoint != "localhost:9000" || p.MinIO.Bucket != "cache" || p.MinIO.Prefix != "records" {
					t.Errorf("unexpected minio settings: %+v", p.MinIO)
				}
			},
		},
		{
			name:        "minio URI without bucket",
			uri:         "minio://localhost:9000",
			wantErr:     true,
			errContains: "bucket name",
		},
		{
			name: "file URI",
			uri:  "file:///var/cache/tiercache",
			check: func(t *testing.T, p config.PersistenceConfig) {
				if p.Backend != config.BackendFile || p.File.Directory != "/var/cache/tiercache" {
					t.Errorf("unexpected file settings: %+v", p.File)
				}
			},
		},
		{
			name:        "file URI without directory",
			uri:         "file://",
			wantErr:     true,
			errContains: "directory",
		},
		{
			name: "memory URI",
			uri:  "memory://",
			check: func(t *testing.T, p config.PersistenceConfig) {
				if p.Backend != config.BackendMemory || !p.Enabled {
					t.Errorf("expected enabled memory backend, got %+v", p)
				}
			},
		},
		{
			name: "none disables persistence",
			uri:  "none://",
			check: func(t *testing.T, p config.PersistenceConfig) {
				if p.Enabled {
					t.Error("expected persistence disabled")
				}
			},
		},
		{
			name:        "unsupported scheme",
			uri:         "gcs://my-bucket",
			wantErr:     true,
			errContains: "unsupported storage scheme",
		},
		{
			name:        "http scheme not supported",
			uri:         "http://bucket",
			wantErr:     true,
			errContains: "unsupported storage scheme",
		},
		{
			name:        "invalid URI",
			uri:         "://invalid",
			wantErr:     true,
			errContains: "failed to parse URI",
		},
		{
			name:        "empty URI",
			uri:         "",
			wantErr:     true,
			errContains: "unsupported storage scheme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := config.NewDefault().Persistence
			p.Enabled = false
			err := ApplyStorageURI(&p, tt.uri)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ApplyStorageURI() expected error but got none")
					return
				}
				if tt.errContains != "" && !contains(err.Error(), tt.errContains) {
					t.Errorf("ApplyStorageURI() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("ApplyStorageURI() unexpected error = %v", err)
				return
			}
			if tt.check != nil {
				tt.check(t, p)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache.DefaultPreset = "missing"

	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("New() expected error for undefined default preset")
	}
}

func TestNew_VolatileOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Persistence.Enabled = false

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = a.Stop(context.Background()) }()

	if a.Medium() != nil {
		t.Error("expected no medium when persistence is disabled")
	}
	if a.backendName() != config.BackendNone {
		t.Errorf("expected backend none, got %s", a.backendName())
	}
}

func TestAdapter_Lifecycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache.Namespaces["profiles"] = cache.PresetLong

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Medium() == nil {
		t.Fatal("expected memory medium")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	profiles, err := NewManager[string](a, "profiles")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if profiles.Preset() != cache.DefaultPresets()[cache.PresetLong] {
		t.Errorf("expected long preset, got %+v", profiles.Preset())
	}

	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return fmt.Sprintf("profile-%d", calls), nil
	}
	if _, err := profiles.Get(ctx, "u1", fetch); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	keys, err := a.Medium().List(ctx, cfg.Persistence.KeyPrefix+":profiles:")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("expected 1 persisted record, got %d", len(keys))
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := profiles.Get(ctx, "u1", fetch); !errors.IsCode(err, errors.ErrCodeComponentStopped) {
		t.Errorf("expected COMPONENT_STOPPED after Stop, got %v", err)
	}
	if _, err := NewManager[string](a, "late"); err == nil {
		t.Error("expected NewManager to fail after Stop")
	}
	if err := a.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestAdapter_NewManager_DefaultPreset(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = a.Stop(context.Background()) }()

	m, err := NewManager[int](a, "anything")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if m.Preset() != cache.DefaultPresets()[cache.PresetShort] {
		t.Errorf("expected short preset, got %+v", m.Preset())
	}
}

func TestAdapter_HealthHandler(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = a.Stop(context.Background()) }()

	get := func() (int, map[string]interface{}) {
		rec := httptest.NewRecorder()
		a.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var body map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		return rec.Code, body
	}

	code, body := get()
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" || body["backend"] != config.BackendMemory {
		t.Errorf("unexpected body: %v", body)
	}

	for i := 0; i < 10; i++ {
		a.Health().RecordError(mediumComponent, fmt.Errorf("connection refused"))
	}
	code, body = get()
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body["status"] != "unavailable" {
		t.Errorf("expected unavailable status, got %v", body["status"])
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 || findSubstring(s, substr))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
