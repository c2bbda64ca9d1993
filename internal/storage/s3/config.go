package s3

import (
	"fmt"
	"strings"
)

// Storage classes accepted by Config.StorageClass.
const (
	StorageClassStandard           = "STANDARD"
	StorageClassStandardIA         = "STANDARD_IA"
	StorageClassOneZoneIA          = "ONEZONE_IA"
	StorageClassIntelligentTiering = "INTELLIGENT_TIERING"
)

// Config represents S3 medium configuration
type Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Performance settings
	MaxRetries int `yaml:"max_retries"`
	PoolSize   int `yaml:"pool_size"`

	// CargoShip optimization settings
	UseCargoShip bool   `yaml:"use_cargoship"`
	StorageClass string `yaml:"storage_class"`

	// SkipHealthCheck disables the HeadBucket probe at construction.
	SkipHealthCheck bool `yaml:"skip_health_check"`
}

// NewDefaultConfig returns the defaults applied to zero fields.
func NewDefaultConfig() *Config {
	return &Config{
		Region:       "us-east-1",
		MaxRetries:   3,
		PoolSize:     8,
		UseCargoShip: true,
		StorageClass: StorageClassStandard,
	}
}

func (c *Config) applyDefaults() {
	defaults := NewDefaultConfig()
	if c.Region == "" {
		c.Region = defaults.Region
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaults.PoolSize
	}
	if c.StorageClass == "" {
		c.StorageClass = defaults.StorageClass
	}
	c.StorageClass = strings.ToUpper(c.StorageClass)
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	switch c.StorageClass {
	case StorageClassStandard, StorageClassStandardIA, StorageClassOneZoneIA, StorageClassIntelligentTiering:
	default:
		return fmt.Errorf("unsupported storage class: %s", c.StorageClass)
	}
	return nil
}
