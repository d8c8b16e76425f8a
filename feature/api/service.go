package api

import (
	"context"
	"fmt"
	"time"

	"pgmerge/core/reconcile"
	"pgmerge/core/schema"
	"pgmerge/core/storage"
	"pgmerge/feature/csvsource"
	"pgmerge/feature/merge"

	"go.uber.org/zap"
)

// Service runs plans and merges for HTTP requests.
type Service struct {
	session *merge.Session
	cache   *reconcile.GraphCache
	opts    reconcile.Options
	client  storage.Client
	bucket  string
	logger  *zap.Logger
}

// NewService creates a new API service. client may be nil, in which case
// bucket inputs are rejected.
func NewService(session *merge.Session, opts reconcile.Options, cacheTTL time.Duration, client storage.Client, bucket string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		session: session,
		cache:   reconcile.NewGraphCache(cacheTTL),
		opts:    opts,
		client:  client,
		bucket:  bucket,
		logger:  logger,
	}
}

// Health pings the database.
func (s *Service) Health(ctx context.Context) error {
	sqlDB, err := s.session.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Graph returns the schema graph, introspecting at most once per cache TTL.
func (s *Service) Graph(ctx context.Context) (*schema.Graph, error) {
	return s.cache.Get(ctx, s.session.Schema, s.session.Graph)
}

// Refresh drops the cached schema graph.
func (s *Service) Refresh() {
	s.cache.Invalidate(s.session.Schema)
}

// Schema describes the graph, restricted to the dependency closure of
// tables when any are named.
func (s *Service) Schema(ctx context.Context, tables ...string) (*merge.SchemaInfo, error) {
	g, err := s.Graph(ctx)
	if err != nil {
		return nil, err
	}
	return merge.Describe(g, tables...)
}

// BucketInputs lists the CSV objects under prefix in the configured bucket.
func (s *Service) BucketInputs(ctx context.Context, prefix string) ([]csvsource.Input, error) {
	if s.client == nil {
		return nil, fmt.Errorf("no storage configured")
	}
	return csvsource.DiscoverBucket(ctx, s.client, s.bucket, prefix)
}

// Options returns the service's default merge options.
func (s *Service) Options() reconcile.Options {
	return s.opts
}

// Plan computes the plan for inputs without applying it.
func (s *Service) Plan(ctx context.Context, inputs []csvsource.Input, opts reconcile.Options) (*reconcile.ImportPlan, error) {
	g, err := s.Graph(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := s.session.Jobs(ctx, g, inputs)
	if err != nil {
		return nil, err
	}
	return reconcile.Plan(ctx, s.session.Spec(g), jobs, opts)
}

// Merge plans and applies inputs.
func (s *Service) Merge(ctx context.Context, inputs []csvsource.Input, opts reconcile.Options) (*reconcile.ImportPlan, *reconcile.Report, error) {
	g, err := s.Graph(ctx)
	if err != nil {
		return nil, nil, err
	}
	jobs, err := s.session.Jobs(ctx, g, inputs)
	if err != nil {
		return nil, nil, err
	}
	return reconcile.Run(ctx, s.session.Spec(g), jobs, opts)
}
