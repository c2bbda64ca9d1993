/*
Package config loads tiercache configuration from YAML files and TIERCACHE_*
environment variables.

Configuration is layered: NewDefault supplies built-in values, LoadFromFile
overlays a YAML document, and LoadFromEnv applies environment overrides last.
Validate must be called before the configuration is used.

# Example

	global:
	  log_level: INFO
	  log_format: json
	  metrics_port: 9090

	cache:
	  sweep_interval: 60s
	  default_preset: short
	  presets:
	    medium:
	      max_age: 5m
	      max_entries: 50
	      stale_window: 2m
	      persist: true
	  namespaces:
	    blog-posts: medium
	    session: short

	persistence:
	  enabled: true
	  backend: file        # none | memory | file | s3 | minio
	  key_prefix: tiercache
	  file:
	    directory: /var/cache/tiercache
	    compression: true
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5
	    timeout: 30s

Presets named in a file replace the built-in preset of the same name
(short, medium, long); the others stay available. Namespaces without a binding
use default_preset.

# Environment variables

	TIERCACHE_LOG_LEVEL           DEBUG | INFO | WARN | ERROR
	TIERCACHE_LOG_FILE            log file path (rotated)
	TIERCACHE_LOG_FORMAT          text | json
	TIERCACHE_METRICS_PORT        metrics listener port
	TIERCACHE_METRICS_ENABLED     true | false
	TIERCACHE_SWEEP_INTERVAL      Go duration, e.g. 30s
	TIERCACHE_DEFAULT_PRESET      preset name
	TIERCACHE_PERSISTENCE_ENABLED true | false
	TIERCACHE_BACKEND             none | memory | file | s3 | minio
	TIERCACHE_CACHE_DIR           file backend directory
	TIERCACHE_S3_BUCKET, TIERCACHE_S3_REGION, TIERCACHE_S3_ENDPOINT
	TIERCACHE_MINIO_ENDPOINT, TIERCACHE_MINIO_BUCKET,
	TIERCACHE_MINIO_ACCESS_KEY, TIERCACHE_MINIO_SECRET_KEY

Malformed numeric, boolean or duration values make LoadFromEnv fail with a
CONFIG_LOAD error naming the variable.
*/
package config
