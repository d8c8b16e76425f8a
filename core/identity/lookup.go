// Package identity matches incoming rows to existing rows of one table.
//
// A table's identity sets (primary key, unique constraints, asserted unique
// columns) are evaluated through a Lookup. Two lookups exist: Index holds the
// whole existing table in memory and answers from hash maps, CursorLookup asks
// the database for each key on demand. Which one a run uses is an explicit
// configuration choice.
package identity

import (
	"context"
	"fmt"
	"strings"

	"pgmerge/core/convert"
	"pgmerge/core/record"
	"pgmerge/core/schema"
)

// RowScanner streams every existing row of a table.
type RowScanner interface {
	ScanRows(ctx context.Context, table *schema.Table, fn func(record.Row) error) error
}

// RowFinder fetches the existing rows whose columns equal the given values.
type RowFinder interface {
	LookupRows(ctx context.Context, table *schema.Table, columns []string, values []any) ([]record.Row, error)
}

// Match is an existing row found for an identity key.
type Match struct {
	// Pos is the row's position in an Index, or -1 for cursor lookups.
	Pos int
	Row record.Row
}

// Lookup finds existing rows by identity set. set indexes Table.Identities and
// values are converted values in the set's column order.
type Lookup interface {
	Find(ctx context.Context, set int, values []any) ([]Match, error)
}

// Normalize converts every value of an existing row with the column's
// converter so it compares equal to converted input. Values that fail to
// convert are kept as read.
func Normalize(reg *convert.Registry, table *schema.Table, row record.Row) record.Row {
	out := make(record.Row, len(row))
	for name, raw := range row {
		c, ok := table.Column(name)
		if !ok {
			out[name] = raw
			continue
		}
		v, err := reg.Convert(raw, c.Type)
		if err != nil {
			out[name] = raw
			continue
		}
		out[name] = v
	}
	return out
}

// SetValues extracts the values of an identity set from a row. ok is false if
// any column is missing or NULL, or the set's condition does not hold.
func SetValues(set schema.IdentitySet, row record.Row) (values []any, ok bool) {
	values = make([]any, len(set.Columns))
	for i, c := range set.Columns {
		v, present := row[c]
		if !present || v == nil {
			return nil, false
		}
		values[i] = v
	}
	if !set.Covers(row) {
		return nil, false
	}
	return values, true
}

// Index is an in-memory lookup over a snapshot of the existing table.
type Index struct {
	table *schema.Table
	rows  []record.Row
	keys  []map[string][]int

	// Warnings lists asserted identity sets shared by several existing rows.
	Warnings []string
}

// NewIndex indexes already-normalized existing rows.
func NewIndex(table *schema.Table, rows []record.Row) *Index {
	ix := &Index{
		table: table,
		rows:  rows,
		keys:  make([]map[string][]int, len(table.Identities)),
	}
	for s := range table.Identities {
		ix.keys[s] = make(map[string][]int)
	}

	for pos, row := range rows {
		for s, set := range table.Identities {
			values, ok := SetValues(set, row)
			if !ok {
				continue
			}
			k := convert.Key(values)
			ix.keys[s][k] = append(ix.keys[s][k], pos)
		}
	}

	for s, set := range table.Identities {
		if set.Kind != schema.IdentityAsserted {
			continue
		}
		dupes := 0
		for _, positions := range ix.keys[s] {
			if len(positions) > 1 {
				dupes++
			}
		}
		if dupes > 0 {
			ix.Warnings = append(ix.Warnings, fmt.Sprintf(
				"table %s: asserted unique columns (%s) are shared by several existing rows for %d key(s)",
				table.Name, strings.Join(set.Columns, ","), dupes))
		}
	}
	return ix
}

// BuildIndex scans the existing table and indexes it.
func BuildIndex(ctx context.Context, table *schema.Table, reg *convert.Registry, scanner RowScanner) (*Index, error) {
	var rows []record.Row
	err := scanner.ScanRows(ctx, table, func(row record.Row) error {
		rows = append(rows, Normalize(reg, table, row))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing rows of %s: %w", table.Name, err)
	}
	return NewIndex(table, rows), nil
}

// Find implements Lookup.
func (ix *Index) Find(_ context.Context, set int, values []any) ([]Match, error) {
	positions := ix.keys[set][convert.Key(values)]
	matches := make([]Match, len(positions))
	for i, pos := range positions {
		matches[i] = Match{Pos: pos, Row: ix.rows[pos]}
	}
	return matches, nil
}

// Len returns the number of indexed rows.
func (ix *Index) Len() int {
	return len(ix.rows)
}

// Row returns the indexed row at pos.
func (ix *Index) Row(pos int) record.Row {
	return ix.rows[pos]
}

// CursorLookup resolves identity keys with one database query per key. It
// keeps nothing but the set of asserted keys already reported as duplicated.
type CursorLookup struct {
	table  *schema.Table
	reg    *convert.Registry
	finder RowFinder
	warned map[string]bool

	// Warnings lists asserted identity keys found on several existing rows.
	Warnings []string
}

// NewCursorLookup returns an on-demand lookup for a table.
func NewCursorLookup(table *schema.Table, reg *convert.Registry, finder RowFinder) *CursorLookup {
	return &CursorLookup{table: table, reg: reg, finder: finder, warned: make(map[string]bool)}
}

// Find implements Lookup.
func (c *CursorLookup) Find(ctx context.Context, set int, values []any) ([]Match, error) {
	def := c.table.Identities[set]
	rows, err := c.finder.LookupRows(ctx, c.table, def.Columns, values)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s by (%s): %w", c.table.Name, strings.Join(def.Columns, ","), err)
	}

	var matches []Match
	for _, raw := range rows {
		row := Normalize(c.reg, c.table, raw)
		if !def.Covers(row) {
			continue
		}
		matches = append(matches, Match{Pos: -1, Row: row})
	}

	if len(matches) > 1 && def.Kind == schema.IdentityAsserted {
		k := fmt.Sprintf("%d|%s", set, convert.Key(values))
		if !c.warned[k] {
			c.warned[k] = true
			c.Warnings = append(c.Warnings, fmt.Sprintf(
				"table %s: asserted unique columns (%s) = %v are shared by %d existing rows",
				c.table.Name, strings.Join(def.Columns, ","), values, len(matches)))
		}
	}
	return matches, nil
}
