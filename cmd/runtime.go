package cmd

import (
	"context"
	"fmt"

	"pgmerge/core/config"
	"pgmerge/core/database"
	"pgmerge/core/logger"
	"pgmerge/core/storage"
	"pgmerge/feature/csvsource"
	"pgmerge/feature/merge"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runtime is what every database command sets up first.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	jobs    *config.JobFile
	session *merge.Session
}

// sessionFlags are the flags shared by commands that build a schema graph.
type sessionFlags struct {
	jobFile          string
	skipUnidentified bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.jobFile, "jobs", "", "Job file (default: merge.job_file from config)")
	cmd.Flags().BoolVar(&f.skipUnidentified, "skip-unidentified", false, "Skip tables without a usable identity instead of failing")
}

// inputFlags select where CSV inputs are read from or exports written to.
type inputFlags struct {
	bucket bool
	prefix string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.bucket, "bucket", false, "Use the configured storage bucket instead of a directory")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Object key prefix inside the bucket (default: storage.prefix)")
}

// newRuntime loads configuration, builds the logger and connects to the
// database.
func newRuntime(flags sessionFlags) (*runtime, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// An explicit job file must exist; the configured default is optional
	path, optional := flags.jobFile, false
	if path == "" {
		path, optional = cfg.Merge.JobFile, true
	}
	jobs, err := config.LoadJobFile(path, optional)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	l = l.With(zap.String("driver", cfg.Database.Driver), zap.String("schema", cfg.Database.SchemaName()))

	session := merge.NewSession(db, cfg.Database.SchemaName(), jobs, l)
	session.SkipUnidentified = flags.skipUnidentified || cfg.Merge.SkipUnidentified
	session.CSV = csvsource.Options{NullMarker: cfg.Merge.NullMarker}

	return &runtime{cfg: cfg, logger: l, db: db, jobs: jobs, session: session}, nil
}

func (r *runtime) Close() {
	if err := database.Close(r.db); err != nil {
		r.logger.Warn("Failed to close database", zap.Error(err))
	}
	_ = r.logger.Sync()
}

// storageClient connects to the configured bucket and returns the client
// with the effective key prefix.
func (r *runtime) storageClient(ctx context.Context, flags inputFlags, create bool) (storage.Client, string, error) {
	client, err := storage.NewClient(r.cfg.Storage)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to storage: %w", err)
	}
	if create {
		if err := storage.EnsureBucket(ctx, client, r.cfg.Storage.Bucket, r.cfg.Storage.Region); err != nil {
			return nil, "", err
		}
	}
	prefix := flags.prefix
	if prefix == "" {
		prefix = r.cfg.Storage.Prefix
	}
	return client, prefix, nil
}

// inputs lists the CSV inputs of a run from dir or the bucket.
func (r *runtime) inputs(ctx context.Context, flags inputFlags, dir string) ([]csvsource.Input, error) {
	if !flags.bucket {
		return csvsource.Discover(dir)
	}
	client, prefix, err := r.storageClient(ctx, flags, false)
	if err != nil {
		return nil, err
	}
	return csvsource.DiscoverBucket(ctx, client, r.cfg.Storage.Bucket, prefix)
}

func dirArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
