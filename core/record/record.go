// Package record defines the row values that flow through a merge run.
//
// A Row is a plain column-name to value map. A nil value means SQL NULL; a
// column that is absent from the map was not supplied at all. The distinction
// matters for partial column semantics, where absent columns are never touched.
package record

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// Row maps column names to values. nil values represent NULL.
type Row map[string]any

// Has reports whether the column was supplied, even if its value is NULL.
func (r Row) Has(column string) bool {
	_, ok := r[column]
	return ok
}

// Columns returns the supplied column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Project returns a row containing only the given columns that are present.
func (r Row) Project(columns []string) Row {
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

// Provenance identifies where a source row came from, for error reporting.
type Provenance struct {
	// Input is the originating input name (file path, object key, table name).
	Input string `json:"input"`
	// Ordinal is the 1-based position of the row within its input.
	Ordinal int `json:"ordinal"`
}

func (p Provenance) String() string {
	if p.Input == "" {
		return fmt.Sprintf("row %d", p.Ordinal)
	}
	return fmt.Sprintf("%s:%d", p.Input, p.Ordinal)
}

// SourceRow is one incoming row with raw (usually textual) cell values.
type SourceRow struct {
	Values     Row
	Provenance Provenance
}

// Source is an ordered, possibly lazy sequence of source rows.
// Next returns io.EOF once the input is exhausted.
type Source interface {
	// Columns returns the column names the source supplies, in input order.
	Columns() []string
	Next(ctx context.Context) (SourceRow, error)
	Close() error
}

// SliceSource is an in-memory Source, mostly useful for tests and for
// sub-tables split out of a mixed input.
type SliceSource struct {
	Name    string
	Header  []string
	Rows    []Row
	pos     int
	ordinal []int
}

// NewSliceSource builds a source over rows. Ordinals default to 1..n.
func NewSliceSource(name string, header []string, rows []Row) *SliceSource {
	return &SliceSource{Name: name, Header: header, Rows: rows}
}

// WithOrdinals overrides the provenance ordinals reported for each row.
func (s *SliceSource) WithOrdinals(ordinals []int) *SliceSource {
	s.ordinal = ordinals
	return s
}

// Columns implements Source.
func (s *SliceSource) Columns() []string {
	return s.Header
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (SourceRow, error) {
	if err := ctx.Err(); err != nil {
		return SourceRow{}, err
	}
	if s.pos >= len(s.Rows) {
		return SourceRow{}, io.EOF
	}
	ordinal := s.pos + 1
	if s.pos < len(s.ordinal) {
		ordinal = s.ordinal[s.pos]
	}
	row := s.Rows[s.pos]
	s.pos++
	return SourceRow{
		Values:     row,
		Provenance: Provenance{Input: s.Name, Ordinal: ordinal},
	}, nil
}

// Close implements Source.
func (s *SliceSource) Close() error {
	return nil
}

// ReadAll drains a source into memory.
func ReadAll(ctx context.Context, src Source) ([]SourceRow, error) {
	var rows []SourceRow
	for {
		row, err := src.Next(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}
