// Package loader provides the feature loading system of the HTTP server.
//
// Each feature implements the Feature interface, which names it, reports
// whether it is enabled and registers its routes.
//
// # Feature Interface
//
//	type Feature interface {
//	    Name() string
//	    IsEnabled() bool
//	    Load(app fiber.Router) error
//	}
//
// # Manager
//
// The Manager holds the registered features. Register adds one; LoadAll
// loads every enabled feature in registration order and stops at the first
// error.
package loader
