// Package server holds the HTTP server configuration.
//
// While the serve command handles the server startup, this package defines
// the configuration structure for it: the listen port, the API key required
// by the auth middleware, request limits and how long the introspected schema
// graph is cached between requests.
package server
