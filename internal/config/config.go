package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/tiercache/internal/cache"
	"github.com/objectfs/tiercache/pkg/errors"
	"github.com/objectfs/tiercache/pkg/utils"
)

// Persistence backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendMinIO  = "minio"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Cache       CacheConfig       `yaml:"cache"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string            `yaml:"log_level"`
	LogFile     string            `yaml:"log_file"`
	LogFormat   string            `yaml:"log_format"`
	LogRotation LogRotationConfig `yaml:"log_rotation"`
	MetricsPort int               `yaml:"metrics_port"`
}

// LogRotationConfig represents log file rotation settings
type LogRotationConfig struct {
	MaxSize    string `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	SweepInterval time.Duration           `yaml:"sweep_interval"`
	DefaultPreset string                  `yaml:"default_preset"`
	Presets       map[string]cache.Preset `yaml:"presets"`
	// Namespaces binds a namespace name to a preset name.
	Namespaces map[string]string `yaml:"namespaces"`
}

// PersistenceConfig represents the durable medium behind persisted presets
type PersistenceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"`
	KeyPrefix string `yaml:"key_prefix"`
	// MaxEntries bounds records per namespace on the medium (0 = unbounded).
	MaxEntries     int                  `yaml:"max_entries"`
	Memory         MemoryConfig         `yaml:"memory"`
	File           FileConfig           `yaml:"file"`
	S3             S3Config             `yaml:"s3"`
	MinIO          MinIOConfig          `yaml:"minio"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// MemoryConfig represents the in-process medium
type MemoryConfig struct {
	Quota string `yaml:"quota"`
}

// FileConfig represents the filesystem medium
type FileConfig struct {
	Directory   string `yaml:"directory"`
	Compression bool   `yaml:"compression"`
	MaxSize     string `yaml:"max_size"`
}

// S3Config represents the S3 medium
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseCargoShip    bool   `yaml:"use_cargoship"`
	StorageClass    string `yaml:"storage_class"`
	MaxRetries      int    `yaml:"max_retries"`
	PoolSize        int    `yaml:"pool_size"`
}

// MinIOConfig represents the MinIO medium
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Path         string            `yaml:"path"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			MetricsPort: 9090,
			LogRotation: LogRotationConfig{
				MaxSize:    "100MB",
				MaxBackups: 5,
				Compress:   true,
			},
		},
		Cache: CacheConfig{
			SweepInterval: 60 * time.Second,
			DefaultPreset: cache.PresetShort,
			Presets:       cache.DefaultPresets(),
			Namespaces:    make(map[string]string),
		},
		Persistence: PersistenceConfig{
			Enabled:   true,
			Backend:   BackendFile,
			KeyPrefix: "tiercache",
			Memory: MemoryConfig{
				Quota: "64MB",
			},
			File: FileConfig{
				Directory:   filepath.Join(os.TempDir(), "tiercache"),
				Compression: true,
				MaxSize:     "1GB",
			},
			S3: S3Config{
				Region:       "us-east-1",
				UseCargoShip: true,
				StorageClass: "STANDARD",
				MaxRetries:   3,
				PoolSize:     8,
			},
			MinIO: MinIOConfig{
				Endpoint: "localhost:9000",
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
				CustomLabels: map[string]string{
					"service": "tiercache",
				},
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file. Presets named in the
// file replace the built-in preset of the same name; others are kept.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename).
			WithCause(err)
	}

	presets := c.Cache.Presets
	c.Cache.Presets = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Cache.Presets = presets
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename).
			WithCause(err)
	}

	merged := make(map[string]cache.Preset, len(presets)+len(c.Cache.Presets))
	for name, preset := range presets {
		merged[name] = preset
	}
	for name, preset := range c.Cache.Presets {
		merged[name] = preset
	}
	c.Cache.Presets = merged
	if c.Cache.Namespaces == nil {
		c.Cache.Namespaces = make(map[string]string)
	}

	return nil
}

// LoadFromEnv loads configuration from TIERCACHE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("TIERCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("TIERCACHE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("TIERCACHE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = strings.ToLower(val)
	}
	if val := os.Getenv("TIERCACHE_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("TIERCACHE_METRICS_PORT", val, err)
		}
		c.Global.MetricsPort = port
	}

	// Cache settings
	if val := os.Getenv("TIERCACHE_SWEEP_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("TIERCACHE_SWEEP_INTERVAL", val, err)
		}
		c.Cache.SweepInterval = d
	}
	if val := os.Getenv("TIERCACHE_DEFAULT_PRESET"); val != "" {
		c.Cache.DefaultPreset = val
	}

	// Persistence settings
	if val := os.Getenv("TIERCACHE_PERSISTENCE_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("TIERCACHE_PERSISTENCE_ENABLED", val, err)
		}
		c.Persistence.Enabled = enabled
	}
	if val := os.Getenv("TIERCACHE_BACKEND"); val != "" {
		c.Persistence.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("TIERCACHE_CACHE_DIR"); val != "" {
		c.Persistence.File.Directory = val
	}
	if val := os.Getenv("TIERCACHE_S3_BUCKET"); val != "" {
		c.Persistence.S3.Bucket = val
	}
	if val := os.Getenv("TIERCACHE_S3_REGION"); val != "" {
		c.Persistence.S3.Region = val
	}
	if val := os.Getenv("TIERCACHE_S3_ENDPOINT"); val != "" {
		c.Persistence.S3.Endpoint = val
	}
	if val := os.Getenv("TIERCACHE_MINIO_ENDPOINT"); val != "" {
		c.Persistence.MinIO.Endpoint = val
	}
	if val := os.Getenv("TIERCACHE_MINIO_BUCKET"); val != "" {
		c.Persistence.MinIO.Bucket = val
	}
	if val := os.Getenv("TIERCACHE_MINIO_ACCESS_KEY"); val != "" {
		c.Persistence.MinIO.AccessKey = val
	}
	if val := os.Getenv("TIERCACHE_MINIO_SECRET_KEY"); val != "" {
		c.Persistence.MinIO.SecretKey = val
	}

	// Monitoring
	if val := os.Getenv("TIERCACHE_METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("TIERCACHE_METRICS_ENABLED", val, err)
		}
		c.Monitoring.Metrics.Enabled = enabled
	}

	return nil
}

func envError(name, value string, cause error) error {
	return errors.NewError(errors.ErrCodeConfigLoad, fmt.Sprintf("invalid value %q for %s", value, name)).
		WithCause(cause)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to marshal config").WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to create config directory").WithCause(err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to write config file").WithCause(err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return validationError(fmt.Sprintf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel))
	}
	switch c.Global.LogFormat {
	case "", "text", "json":
	default:
		return validationError(fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Global.LogFormat))
	}
	if c.Global.LogFile != "" && c.Global.LogRotation.MaxSize != "" {
		if _, err := utils.ParseBytes(c.Global.LogRotation.MaxSize); err != nil {
			return validationError(fmt.Sprintf("invalid log_rotation.max_size: %v", err))
		}
	}
	if c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535 {
		return validationError(fmt.Sprintf("metrics_port out of range: %d", c.Global.MetricsPort))
	}

	if c.Cache.SweepInterval <= 0 {
		return validationError("sweep_interval must be greater than 0")
	}
	if len(c.Cache.Presets) == 0 {
		return validationError("at least one cache preset is required")
	}
	for _, name := range sortedKeys(c.Cache.Presets) {
		if err := c.Cache.Presets[name].Validate(); err != nil {
			return validationError(fmt.Sprintf("preset %q: %v", name, err))
		}
	}
	if _, ok := c.Cache.Presets[c.Cache.DefaultPreset]; !ok {
		return errors.NewError(errors.ErrCodeUnknownPreset,
			fmt.Sprintf("default_preset %q is not defined", c.Cache.DefaultPreset))
	}
	for namespace, preset := range c.Cache.Namespaces {
		if _, ok := c.Cache.Presets[preset]; !ok {
			return errors.NewError(errors.ErrCodeUnknownPreset,
				fmt.Sprintf("namespace %q uses undefined preset %q", namespace, preset))
		}
	}

	return c.validatePersistence()
}

func (c *Configuration) validatePersistence() error {
	p := c.Persistence
	if !p.Enabled {
		return nil
	}
	if p.MaxEntries < 0 {
		return validationError("persistence.max_entries must not be negative")
	}

	switch p.Backend {
	case BackendNone:
	case BackendMemory:
		if p.Memory.Quota != "" {
			if _, err := utils.ParseBytes(p.Memory.Quota); err != nil {
				return validationError(fmt.Sprintf("invalid memory.quota: %v", err))
			}
		}
	case BackendFile:
		if p.File.Directory == "" {
			return validationError("file.directory is required for the file backend")
		}
		if p.File.MaxSize != "" {
			if _, err := utils.ParseBytes(p.File.MaxSize); err != nil {
				return validationError(fmt.Sprintf("invalid file.max_size: %v", err))
			}
		}
	case BackendS3:
		if p.S3.Bucket == "" {
			return validationError("s3.bucket is required for the s3 backend")
		}
	case BackendMinIO:
		if p.MinIO.Bucket == "" || p.MinIO.Endpoint == "" {
			return validationError("minio.endpoint and minio.bucket are required for the minio backend")
		}
	default:
		return errors.NewError(errors.ErrCodeUnsupportedBackend,
			fmt.Sprintf("unsupported persistence backend: %s", p.Backend))
	}

	if p.CircuitBreaker.Enabled && p.CircuitBreaker.FailureThreshold <= 0 {
		return validationError("circuit_breaker.failure_threshold must be greater than 0")
	}
	return nil
}

// PresetFor returns the preset bound to namespace, falling back to the
// default preset.
func (c *Configuration) PresetFor(namespace string) (cache.Preset, error) {
	name, ok := c.Cache.Namespaces[namespace]
	if !ok {
		name = c.Cache.DefaultPreset
	}
	preset, ok := c.Cache.Presets[name]
	if !ok {
		return cache.Preset{}, errors.NewError(errors.ErrCodeUnknownPreset,
			fmt.Sprintf("preset %q is not defined", name)).
			WithContext("namespace", namespace)
	}
	return preset, nil
}

func validationError(msg string) error {
	return errors.NewError(errors.ErrCodeConfigValidation, msg).WithComponent("config")
}

func sortedKeys(m map[string]cache.Preset) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
