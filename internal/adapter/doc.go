/*
Package adapter wires configuration into running tiercache components.

An Adapter is built once per process. It owns the pieces every cache
namespace shares:

	┌─────────────────────────────────────────────┐
	│              Application code               │
	└─────────────────────────────────────────────┘
	                      │  adapter.NewManager[T]
	┌─────────────────────────────────────────────┐
	│                 ADAPTER                     │
	│  logger, metrics, health, manager registry  │
	└─────────────────────────────────────────────┘
	        │               │               │
	┌───────┴──────┐ ┌──────┴──────┐ ┌──────┴───────┐
	│ Durable      │ │ Prometheus  │ │ Health       │
	│ medium       │ │ collector   │ │ tracker      │
	└──────────────┘ └─────────────┘ └──────────────┘

# Lifecycle

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("tiercache.yaml"); err != nil {
		return err
	}

	a, err := adapter.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	users, err := adapter.NewManager[User](a, "users")

New validates the configuration and opens the durable medium. A medium
that cannot be opened is logged and the process continues with volatile
tiers only. Start serves metrics and runs periodic medium health checks.
Stop closes every manager created through NewManager before releasing the
medium, so no background revalidation writes to a closed store.

# Storage URIs

ApplyStorageURI maps a single URI onto the persistence section, which is
convenient for command-line overrides:

	memory://                       in-process medium
	file:///var/cache/tiercache     local directory
	s3://bucket/prefix              Amazon S3
	minio://host:9000/bucket/prefix MinIO or another S3-compatible store
	none://                         disable persistence
*/
package adapter
