/*
Package s3 stores persistent cache records as objects in an S3 bucket.

The medium maps each record key to one object under an optional key prefix:

	┌──────────────────────────────┐
	│   cache.PersistentCache[T]   │
	└──────────────────────────────┘
	               │ types.Medium
	┌──────────────────────────────┐
	│           s3.Medium          │
	│  ClientManager  │  Pool      │
	└──────────────────────────────┘
	               │
	┌──────────────────────────────┐
	│  CargoShip transporter (Put) │
	│  aws-sdk-go-v2 client (rest) │
	└──────────────────────────────┘

Uploads go through the CargoShip transporter when enabled and fall back to a
plain PutObject when it fails. Reads, deletes and listings use the pooled
aws-sdk-go-v2 client. Missing objects are reported as errors.ErrRecordNotFound.

# Configuration

	cfg := s3.NewDefaultConfig()
	cfg.Bucket = "my-cache"
	cfg.Region = "us-west-2"
	cfg.Prefix = "tiercache/"

	medium, err := s3.NewMedium(ctx, cfg)

Endpoint and ForcePathStyle point the client at S3-compatible services such as
LocalStack. Static credentials are used when AccessKeyID is set; otherwise the
default AWS credential chain applies.
*/
package s3
