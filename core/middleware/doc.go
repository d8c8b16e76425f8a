// Package middleware groups the HTTP middleware of the Fiber application.
//
// # Components
//
//   - auth: validates the X-API-Key header against the configured key with a
//     constant-time comparison. Paths such as /health can be exempted.
//   - rayid: assigns every request a ray ID (a UUID, or the one sent by the
//     client), stores it in the request locals for logger.WithRayID and echoes
//     it in the X-Ray-ID response header.
//
// The serve command registers rayid first so that every log line of a request,
// including rejected ones, carries the ray ID.
package middleware
