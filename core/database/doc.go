// Package database handles database connections and schema introspection.
//
// It wraps GORM with the PostgreSQL, MySQL and SQLite dialectors and builds the
// driver-specific DSN from the application's configuration.
//
// # Connect
//
// Connect opens a pool for the configured driver and pings it. The session
// lock timeout is carried in the DSN (lock_timeout for PostgreSQL,
// innodb_lock_wait_timeout for MySQL, _busy_timeout for SQLite) so every pooled
// connection uses it. IsLockTimeout classifies driver errors that mean a lock
// wait expired or a deadlock was broken.
//
// # Introspection
//
// Introspect reads one schema into a schema.Catalog: columns with their types
// and nullability, primary keys, unique constraints and unique indexes
// (including partial-index predicates) and foreign keys. The catalog is the
// input of the schema graph builder.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//
//	cat, err := database.Introspect(ctx, db, cfg.Database.SchemaName())
package database
