package reconcile

import (
	"context"
	"fmt"
	"sync"

	"pgmerge/core/convert"
	"pgmerge/core/record"
	"pgmerge/core/schema"
)

// memStore is an in-memory Store that enforces primary keys and foreign keys
// so tests notice operations applied in the wrong order.
type memStore struct {
	graph *schema.Graph

	mu      sync.Mutex
	tables  map[string][]record.Row
	log     []string
	commits int

	// beforeCommit runs inside Commit with the commit number (1-based).
	beforeCommit func(n int) error
	// onInsert can fail an insert.
	onInsert func(table string, row record.Row) error
}

func newMemStore(graph *schema.Graph) *memStore {
	return &memStore{graph: graph, tables: make(map[string][]record.Row)}
}

func (s *memStore) seed(table string, rows ...record.Row) {
	s.tables[table] = append(s.tables[table], rows...)
}

func (s *memStore) rows(table string) []record.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record.Row(nil), s.tables[table]...)
}

func (s *memStore) ScanRows(_ context.Context, table *schema.Table, fn func(record.Row) error) error {
	for _, r := range s.rows(table.Name) {
		if err := fn(r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) LookupRows(_ context.Context, table *schema.Table, columns []string, values []any) ([]record.Row, error) {
	var out []record.Row
	for _, r := range s.rows(table.Name) {
		if matches(r, columns, values) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func matches(r record.Row, columns []string, values []any) bool {
	for i, c := range columns {
		if !convert.Equal(r[c], values[i]) {
			return false
		}
	}
	return true
}

func (s *memStore) Begin(_ context.Context) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := make(map[string][]record.Row, len(s.tables))
	for name, rows := range s.tables {
		copied := make([]record.Row, len(rows))
		for i, r := range rows {
			copied[i] = r.Clone()
		}
		view[name] = copied
	}
	return &memTx{store: s, view: view, touched: make(map[string]bool)}, nil
}

type memTx struct {
	store   *memStore
	view    map[string][]record.Row
	log     []string
	touched map[string]bool
}

func (tx *memTx) Insert(_ context.Context, table *schema.Table, values record.Row) error {
	if tx.store.onInsert != nil {
		if err := tx.store.onInsert(table.Name, values); err != nil {
			return err
		}
	}
	pk := table.Primary()
	if pkValues, ok := valuesOf(values, pk.Columns); ok {
		for _, r := range tx.view[table.Name] {
			if matches(r, pk.Columns, pkValues) {
				return fmt.Errorf("duplicate key %v in %s", pkValues, table.Name)
			}
		}
	}
	if err := tx.checkForeignKeys(table, values); err != nil {
		return err
	}
	tx.view[table.Name] = append(tx.view[table.Name], values.Clone())
	tx.touched[table.Name] = true
	tx.log = append(tx.log, fmt.Sprintf("insert %s %v", table.Name, values))
	return nil
}

func (tx *memTx) Update(_ context.Context, table *schema.Table, id Identity, values record.Row) error {
	for _, r := range tx.view[table.Name] {
		if matches(r, id.Columns, id.Values) {
			merged := r.Clone()
			for k, v := range values {
				merged[k] = v
			}
			if err := tx.checkForeignKeys(table, merged); err != nil {
				return err
			}
			for k, v := range values {
				r[k] = v
			}
			tx.touched[table.Name] = true
			tx.log = append(tx.log, fmt.Sprintf("update %s %s %v", table.Name, id, values))
			return nil
		}
	}
	return fmt.Errorf("no row %s in %s", id, table.Name)
}

func (tx *memTx) Delete(_ context.Context, table *schema.Table, id Identity) error {
	rows := tx.view[table.Name]
	for i, r := range rows {
		if !matches(r, id.Columns, id.Values) {
			continue
		}
		for _, edge := range table.Incoming {
			from := tx.store.graph.Tables[edge.From]
			for _, other := range tx.view[from.Name] {
				if edge.SelfReference() && matches(other, id.Columns, id.Values) {
					continue
				}
				if ref, ok := valuesOf(other, edge.FromColumns); ok && matches(r, edge.ToColumns, ref) {
					return fmt.Errorf("row %s of %s is still referenced by %s", id, table.Name, from.Name)
				}
			}
		}
		tx.view[table.Name] = append(rows[:i:i], rows[i+1:]...)
		tx.touched[table.Name] = true
		tx.log = append(tx.log, fmt.Sprintf("delete %s %s", table.Name, id))
		return nil
	}
	return fmt.Errorf("no row %s in %s", id, table.Name)
}

func (tx *memTx) checkForeignKeys(table *schema.Table, values record.Row) error {
	for _, edge := range table.Outgoing {
		ref, ok := valuesOf(values, edge.FromColumns)
		if !ok {
			continue
		}
		to := tx.store.graph.Tables[edge.To]
		found := false
		for _, r := range tx.view[to.Name] {
			if matches(r, edge.ToColumns, ref) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("foreign key %s violated: %v not in %s", edge.Name, ref, to.Name)
		}
	}
	return nil
}

func (tx *memTx) Commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeCommit != nil {
		if err := s.beforeCommit(s.commits + 1); err != nil {
			return err
		}
	}
	s.commits++
	for name := range tx.touched {
		s.tables[name] = tx.view[name]
	}
	s.log = append(s.log, tx.log...)
	return nil
}

func (tx *memTx) Rollback() error {
	return nil
}

func valuesOf(row record.Row, cols []string) ([]any, bool) {
	values := make([]any, len(cols))
	for i, c := range cols {
		v, ok := row[c]
		if !ok || v == nil {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}
