// Package storage provides an abstraction layer for object storage services.
//
// It wraps the MinIO Go client so CSV inputs can be read from, and table
// exports written to, an S3-compatible bucket. This supports both AWS S3 and
// self-hosted MinIO instances.
//
// # Client Interface
//
// The Client interface abstracts the underlying storage provider, making it easier
// to mock storage interactions for unit testing (as seen in core/storage/mocks).
//
// # Operations
//
//   - BucketExists / MakeBucket: EnsureBucket creates the export bucket on demand.
//   - PutObject: uploads an exported CSV.
//   - GetObject: streams a CSV input.
//   - ListObjects: ListKeys discovers the CSV inputs under a prefix.
//
// # Usage
//
//	client, err := storage.NewClient(cfg.Storage)
//	keys, err := storage.ListKeys(ctx, client, cfg.Storage.Bucket, "imports", ".csv")
package storage
