package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"pgmerge/core/storage"

	"github.com/minio/minio-go/v7"
)

// Target receives exported files.
type Target interface {
	Create(ctx context.Context, name string) (File, error)
}

// File is one export being written. Close publishes it; Abort discards it.
type File interface {
	Write(p []byte) (int, error)
	Close() error
	Abort()
	Name() string
}

// DirTarget writes files into a local directory, creating it if needed.
type DirTarget struct {
	Dir string
}

// Create implements Target. Files are written under a temporary name and
// renamed on Close, so an aborted export never leaves a truncated CSV.
func (d DirTarget) Create(_ context.Context, name string) (File, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, err
	}
	final := filepath.Join(d.Dir, name)
	f, err := os.CreateTemp(d.Dir, "."+name+".*")
	if err != nil {
		return nil, err
	}
	return &dirFile{File: f, final: final}, nil
}

type dirFile struct {
	*os.File
	final string
}

func (f *dirFile) Close() error {
	if err := f.File.Close(); err != nil {
		_ = os.Remove(f.File.Name())
		return err
	}
	return os.Rename(f.File.Name(), f.final)
}

func (f *dirFile) Abort() {
	_ = f.File.Close()
	_ = os.Remove(f.File.Name())
}

func (f *dirFile) Name() string {
	return f.final
}

// BucketTarget uploads files to a bucket under a prefix.
type BucketTarget struct {
	Client storage.Client
	Bucket string
	Prefix string
}

// Create implements Target. The file is buffered and uploaded on Close.
func (b BucketTarget) Create(ctx context.Context, name string) (File, error) {
	return &objectFile{ctx: ctx, target: b, key: storage.Key(b.Prefix, name)}, nil
}

type objectFile struct {
	bytes.Buffer
	ctx    context.Context
	target BucketTarget
	key    string
}

func (f *objectFile) Close() error {
	_, err := f.target.Client.PutObject(f.ctx, f.target.Bucket, f.key, bytes.NewReader(f.Bytes()), int64(f.Len()),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", f.key, err)
	}
	return nil
}

func (f *objectFile) Abort() {
	f.Reset()
}

func (f *objectFile) Name() string {
	return f.key
}
