// Package api exposes merge runs over HTTP.
//
// Routes:
//
//	GET  /health       database reachability
//	GET  /api/schema   tables, foreign keys and insertion order (?table=a,b for a dependency closure)
//	POST /api/plan     plan uploaded CSV files without applying (?ops=true includes every operation)
//	POST /api/merge    plan and apply uploaded CSV files
//
// CSV files are uploaded as multipart form field "files", one per table and
// named <table>.csv. With ?prefix= the inputs are read from the configured
// bucket instead. The schema graph is cached for the configured TTL.
package api
