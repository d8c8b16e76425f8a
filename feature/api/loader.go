package api

import (
	"time"

	"pgmerge/core/reconcile"
	"pgmerge/core/storage"
	"pgmerge/feature/merge"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	service *Service
	handler *Handler
}

// NewFeature creates the merge API feature.
func NewFeature(session *merge.Session, opts reconcile.Options, cacheTTL time.Duration, client storage.Client, bucket string, logger *zap.Logger) *Feature {
	svc := NewService(session, opts, cacheTTL, client, bucket, logger)
	return &Feature{service: svc, handler: NewHandler(svc)}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "api"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return f.service.session != nil
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}
