package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pgmerge/core/database"
	"pgmerge/core/reconcile"
	"pgmerge/core/record"
	"pgmerge/core/schema"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoRow is returned when an update or delete selects no row.
var ErrNoRow = errors.New("no row matched the identity")

// Store implements reconcile.Store on top of a GORM connection.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a store over db.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ScanRows streams every row of the table in primary key order, reading only
// the table's known columns.
func (s *Store) ScanRows(ctx context.Context, table *schema.Table, fn func(record.Row) error) error {
	columns := table.ColumnNames()
	q := s.db.WithContext(ctx).
		Table(table.Name).
		Select(database.QuoteAll(s.db, columns))
	if pk := table.Primary(); len(pk.Columns) > 0 {
		q = q.Order(database.QuoteAll(s.db, pk.Columns))
	}
	rows, err := q.Rows()
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", table.Name, err)
	}
	defer rows.Close()

	return eachRecord(rows, columns, fn)
}

// LookupRows returns the rows whose columns equal values.
func (s *Store) LookupRows(ctx context.Context, table *schema.Table, columns []string, values []any) ([]record.Row, error) {
	selected := table.ColumnNames()
	rows, err := s.db.WithContext(ctx).
		Table(table.Name).
		Select(database.QuoteAll(s.db, selected)).
		Where(whereMap(columns, values)).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", table.Name, err)
	}
	defer rows.Close()

	var out []record.Row
	err = eachRecord(rows, selected, func(r record.Row) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// Begin starts a transaction bound to ctx.
func (s *Store) Begin(ctx context.Context) (reconcile.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, classify("", fmt.Errorf("failed to begin transaction: %w", tx.Error))
	}
	return &Tx{db: tx, logger: s.logger}, nil
}

// Tx is one open transaction.
type Tx struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Insert inserts one row.
func (t *Tx) Insert(ctx context.Context, table *schema.Table, values record.Row) error {
	result := t.db.WithContext(ctx).Table(table.Name).Create(map[string]any(values.Clone()))
	if result.Error != nil {
		return classify(table.Name, fmt.Errorf("failed to insert into %s: %w", table.Name, result.Error))
	}
	return nil
}

// InsertBatch inserts rows sharing one column set in a single statement.
func (t *Tx) InsertBatch(ctx context.Context, table *schema.Table, columns []string, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	batch := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := make(map[string]any, len(columns))
		for _, c := range columns {
			m[c] = r[c]
		}
		batch[i] = m
	}
	result := t.db.WithContext(ctx).Table(table.Name).Create(&batch)
	if result.Error != nil {
		return classify(table.Name, fmt.Errorf("failed to insert %d rows into %s: %w", len(rows), table.Name, result.Error))
	}
	return nil
}

// Update sets values on the row selected by id.
func (t *Tx) Update(ctx context.Context, table *schema.Table, id reconcile.Identity, values record.Row) error {
	if len(values) == 0 {
		return nil
	}
	result := t.db.WithContext(ctx).
		Table(table.Name).
		Where(whereMap(id.Columns, id.Values)).
		Updates(map[string]any(values.Clone()))
	if result.Error != nil {
		return classify(table.Name, fmt.Errorf("failed to update %s %s: %w", table.Name, id, result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("failed to update %s %s: %w", table.Name, id, ErrNoRow)
	}
	return nil
}

// Delete deletes the row selected by id.
func (t *Tx) Delete(ctx context.Context, table *schema.Table, id reconcile.Identity) error {
	result := t.db.WithContext(ctx).
		Table(table.Name).
		Where(whereMap(id.Columns, id.Values)).
		Delete(nil)
	if result.Error != nil {
		return classify(table.Name, fmt.Errorf("failed to delete from %s %s: %w", table.Name, id, result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("failed to delete from %s %s: %w", table.Name, id, ErrNoRow)
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.db.Commit().Error; err != nil {
		return classify("", fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	err := t.db.Rollback().Error
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.logger.Warn("Rollback failed", zap.Error(err))
		return err
	}
	return nil
}

// classify wraps lock-wait timeouts and deadlocks so the engine retries them.
func classify(table string, err error) error {
	if database.IsLockTimeout(err) {
		return &reconcile.LockTimeoutError{Table: table, Err: err}
	}
	return err
}

func whereMap(columns []string, values []any) map[string]any {
	m := make(map[string]any, len(columns))
	for i, c := range columns {
		m[c] = values[i]
	}
	return m
}

func eachRecord(rows *sql.Rows, columns []string, fn func(record.Row) error) error {
	dest := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(record.Row, len(columns))
		for i, c := range columns {
			// Drivers reuse byte buffers between rows.
			if b, ok := dest[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = dest[i]
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
