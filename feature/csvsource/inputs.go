package csvsource

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"pgmerge/core/storage"

	"github.com/minio/minio-go/v7"
)

// Extension is the file extension of table inputs.
const Extension = ".csv"

// Input is one discovered CSV input.
type Input struct {
	// Table is the table named by the file (customers.csv -> customers).
	Table string
	// Name is the file path or object key.
	Name string

	open func(ctx context.Context) (io.ReadCloser, error)
}

// Open opens the input as a row source.
func (in Input) Open(ctx context.Context, opts Options) (*Source, error) {
	rc, err := in.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", in.Name, err)
	}
	return New(in.Name, rc, opts)
}

// NewInput returns an input named name that is read through open.
func NewInput(name string, open func(ctx context.Context) (io.ReadCloser, error)) Input {
	return Input{Table: TableName(name), Name: name, open: open}
}

// FileInput returns the input for a local file.
func FileInput(p string) Input {
	return NewInput(p, func(context.Context) (io.ReadCloser, error) {
		return os.Open(p)
	})
}

// ObjectInput returns the input for an object in a bucket.
func ObjectInput(client storage.Client, bucket, key string) Input {
	return NewInput(key, func(ctx context.Context) (io.ReadCloser, error) {
		return client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	})
}

// TableName derives the table name from a file name.
func TableName(name string) string {
	base := path.Base(filepath.ToSlash(name))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Discover lists the inputs of a run: every <table>.csv directly inside dir.
func Discover(dir string) ([]Input, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	var inputs []Input
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), Extension) {
			continue
		}
		inputs = append(inputs, FileInput(filepath.Join(dir, e.Name())))
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })
	return inputs, nil
}

// DiscoverBucket lists every <table>.csv object directly under prefix.
func DiscoverBucket(ctx context.Context, client storage.Client, bucket, prefix string) ([]Input, error) {
	keys, err := storage.ListKeys(ctx, client, bucket, prefix, Extension)
	if err != nil {
		return nil, err
	}
	inputs := make([]Input, len(keys))
	for i, k := range keys {
		inputs[i] = ObjectInput(client, bucket, k)
	}
	return inputs, nil
}

// Find returns the input whose file name (without directory) is name.
func Find(inputs []Input, name string) (Input, bool) {
	for _, in := range inputs {
		if path.Base(filepath.ToSlash(in.Name)) == name {
			return in, true
		}
	}
	return Input{}, false
}
