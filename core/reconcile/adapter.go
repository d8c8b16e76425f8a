package reconcile

import (
	"context"

	"pgmerge/core/identity"
	"pgmerge/core/record"
	"pgmerge/core/schema"
)

// Store defines the database backend a run reads from and writes to.
// Implementations translate rows and identities into SQL for a specific
// driver; the engine never builds SQL itself.
type Store interface {
	// ScanRows streams every existing row of the table. Used to build the
	// in-memory identity index and to find rows to delete under exact row
	// semantics.
	identity.RowScanner

	// LookupRows returns the existing rows whose columns equal values.
	// Used by the cursor lookup strategy.
	identity.RowFinder

	// Begin starts a transaction. The context carries the transaction's
	// deadline.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one database transaction.
type Tx interface {
	// Insert inserts one row. Inserting a row whose identity already exists
	// must fail with a conflict rather than duplicate it.
	Insert(ctx context.Context, table *schema.Table, values record.Row) error

	// Update sets values on the row selected by id. Updating no row is an error.
	Update(ctx context.Context, table *schema.Table, id Identity, values record.Row) error

	// Delete deletes the row selected by id.
	Delete(ctx context.Context, table *schema.Table, id Identity) error

	Commit() error
	Rollback() error
}

// BatchInserter is an optional Tx upgrade that inserts many rows with the
// same column set in one statement.
type BatchInserter interface {
	InsertBatch(ctx context.Context, table *schema.Table, columns []string, rows []record.Row) error
}
