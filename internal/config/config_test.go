package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/objectfs/tiercache/internal/cache"
	"github.com/objectfs/tiercache/pkg/errors"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestBucket     = "cache-bucket"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	// Test global defaults
	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}

	// Test cache defaults
	if cfg.Cache.SweepInterval != 60*time.Second {
		t.Errorf("Expected SweepInterval to be 60s, got %v", cfg.Cache.SweepInterval)
	}
	if cfg.Cache.DefaultPreset != cache.PresetShort {
		t.Errorf("Expected DefaultPreset to be short, got %s", cfg.Cache.DefaultPreset)
	}
	medium := cfg.Cache.Presets[cache.PresetMedium]
	if medium.MaxAge != 5*time.Minute || medium.StaleWindow != 2*time.Minute || !medium.Persist {
		t.Errorf("Unexpected medium preset: %+v", medium)
	}

	// Test persistence defaults
	if cfg.Persistence.Backend != BackendFile {
		t.Errorf("Expected Backend to be file, got %s", cfg.Persistence.Backend)
	}
	if !cfg.Persistence.CircuitBreaker.Enabled {
		t.Error("Expected circuit breaker to be enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		code    errors.ErrorCode
		errMsg  string
	}{
		{
			name:   "valid config",
			config: NewDefault,
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "LOUD"
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeConfigValidation,
			errMsg:  "invalid log_level",
		},
		{
			name: "invalid log format",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogFormat = "xml"
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeConfigValidation,
			errMsg:  "invalid log_format",
		},
		{
			name: "zero sweep interval",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.SweepInterval = 0
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeConfigValidation,
			errMsg:  "sweep_interval",
		},
		{
			name: "stale window not shorter than max age",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Presets["broken"] = cache.Preset{MaxAge: time.Minute, MaxEntries: 1, StaleWindow: time.Minute}
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeConfigValidation,
			errMsg:  `preset "broken"`,
		},
		{
			name: "unknown default preset",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.DefaultPreset = "forever"
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeUnknownPreset,
		},
		{
			name: "namespace bound to unknown preset",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Namespaces["posts"] = "forever"
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeUnknownPreset,
			errMsg:  `namespace "posts"`,
		},
		{
			name: "unsupported backend",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Persistence.Backend = "floppy"
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeUnsupportedBackend,
		},
		{
			name: "s3 without bucket",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Persistence.Backend = BackendS3
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeConfigValidation,
			errMsg:  "s3.bucket",
		},
		{
			name: "bad memory quota",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Persistence.Backend = BackendMemory
				cfg.Persistence.Memory.Quota = "lots"
				return cfg
			},
			wantErr: true,
			code:    errors.ErrCodeConfigValidation,
			errMsg:  "memory.quota",
		},
		{
			name: "disabled persistence skips backend checks",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Persistence.Enabled = false
				cfg.Persistence.Backend = "floppy"
				return cfg
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if !tt.wantErr {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !errors.IsCode(err, tt.code) {
				t.Errorf("Validate() error code mismatch: got %v, want %s", err, tt.code)
			}
			if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  log_format: json
cache:
  sweep_interval: 30s
  default_preset: medium
  presets:
    medium:
      max_age: 10m
      max_entries: 200
      stale_window: 1m
      persist: true
    session:
      max_age: 20m
      max_entries: 10
      persist: false
  namespaces:
    blog-posts: medium
    session: session
persistence:
  backend: s3
  s3:
    bucket: cache-bucket
    region: eu-west-1
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.SweepInterval != 30*time.Second {
		t.Errorf("Expected SweepInterval 30s, got %v", cfg.Cache.SweepInterval)
	}

	medium := cfg.Cache.Presets[cache.PresetMedium]
	if medium.MaxAge != 10*time.Minute || medium.MaxEntries != 200 || medium.StaleWindow != time.Minute {
		t.Errorf("medium preset not overridden: %+v", medium)
	}
	if _, ok := cfg.Cache.Presets[cache.PresetLong]; !ok {
		t.Error("built-in long preset should survive a partial presets section")
	}
	if cfg.Cache.Presets["session"].MaxAge != 20*time.Minute {
		t.Errorf("custom session preset missing: %+v", cfg.Cache.Presets["session"])
	}

	if cfg.Persistence.Backend != BackendS3 || cfg.Persistence.S3.Bucket != TestBucket {
		t.Errorf("persistence not loaded: %+v", cfg.Persistence)
	}
	// Unset fields keep their defaults.
	if !cfg.Persistence.S3.UseCargoShip {
		t.Error("Expected UseCargoShip default to survive")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded configuration should validate, got %v", err)
	}

	preset, err := cfg.PresetFor("session")
	if err != nil || preset.MaxEntries != 10 {
		t.Errorf("PresetFor(session) = %+v, %v", preset, err)
	}
	preset, err = cfg.PresetFor("unbound")
	if err != nil || preset.MaxAge != 10*time.Minute {
		t.Errorf("PresetFor(unbound) should fall back to the default preset, got %+v, %v", preset, err)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	cfg := NewDefault()

	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD for missing file, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("cache: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	err = cfg.LoadFromFile(bad)
	if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD for invalid YAML, got %v", err)
	}
	if len(cfg.Cache.Presets) != len(cache.DefaultPresets()) {
		t.Error("presets should be restored after a parse failure")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TIERCACHE_LOG_LEVEL", "debug")
	t.Setenv("TIERCACHE_METRICS_PORT", "9191")
	t.Setenv("TIERCACHE_SWEEP_INTERVAL", "15s")
	t.Setenv("TIERCACHE_BACKEND", "MinIO")
	t.Setenv("TIERCACHE_MINIO_BUCKET", "records")
	t.Setenv("TIERCACHE_PERSISTENCE_ENABLED", "true")
	t.Setenv("TIERCACHE_METRICS_ENABLED", "false")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error: %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9191 {
		t.Errorf("Expected MetricsPort 9191, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Cache.SweepInterval != 15*time.Second {
		t.Errorf("Expected SweepInterval 15s, got %v", cfg.Cache.SweepInterval)
	}
	if cfg.Persistence.Backend != BackendMinIO || cfg.Persistence.MinIO.Bucket != "records" {
		t.Errorf("persistence env not applied: %+v", cfg.Persistence)
	}
	if cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics disabled from env")
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"TIERCACHE_METRICS_PORT", "ninety"},
		{"TIERCACHE_SWEEP_INTERVAL", "soon"},
		{"TIERCACHE_PERSISTENCE_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.name, tt.value)
			err := NewDefault().LoadFromEnv()
			if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
				t.Errorf("Expected CONFIG_LOAD error, got %v", err)
			}
			if err != nil && !strings.Contains(err.Error(), tt.name) {
				t.Errorf("error should name the variable, got %q", err.Error())
			}
		})
	}
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := NewDefault()
	cfg.Cache.Namespaces["session"] = cache.PresetShort
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if loaded.Cache.Namespaces["session"] != cache.PresetShort {
		t.Errorf("namespace binding lost: %v", loaded.Cache.Namespaces)
	}
	if loaded.Cache.Presets[cache.PresetMedium] != cfg.Cache.Presets[cache.PresetMedium] {
		t.Errorf("medium preset changed across save/load: %+v", loaded.Cache.Presets[cache.PresetMedium])
	}
}
