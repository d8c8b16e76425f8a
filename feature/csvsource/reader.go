package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"pgmerge/core/record"
)

// utf8BOM is stripped from the first header cell.
const utf8BOM = "\ufeff"

// Options controls how CSV inputs are read.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// NullMarker is the cell text read as NULL. Empty means no marker: empty
	// cells stay empty strings and the converter decides (NULL for every
	// non-text column).
	NullMarker string
}

// Source reads rows from a CSV stream with a header line. It implements
// record.Source and reads lazily.
type Source struct {
	name    string
	header  []string
	reader  *csv.Reader
	closer  io.Closer
	opts    Options
	ordinal int
}

// New reads the header from r and returns a source over the remaining
// lines. name is reported in row provenance.
func New(name string, r io.ReadCloser, opts Options) (*Source, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	header, err := cr.Read()
	if err != nil {
		_ = r.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: missing header line", name)
		}
		return nil, fmt.Errorf("%s: failed to read header: %w", name, err)
	}

	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		h = strings.TrimSpace(h)
		if h == "" {
			_ = r.Close()
			return nil, fmt.Errorf("%s: header column %d is empty", name, i+1)
		}
		if seen[h] {
			_ = r.Close()
			return nil, fmt.Errorf("%s: header column %s appears twice", name, h)
		}
		seen[h] = true
		header[i] = h
	}

	return &Source{name: name, header: header, reader: cr, closer: r, opts: opts}, nil
}

// Name returns the input name.
func (s *Source) Name() string {
	return s.name
}

// Columns implements record.Source.
func (s *Source) Columns() []string {
	return s.header
}

// Next implements record.Source.
func (s *Source) Next(ctx context.Context) (record.SourceRow, error) {
	if err := ctx.Err(); err != nil {
		return record.SourceRow{}, err
	}

	fields, err := s.reader.Read()
	if err == io.EOF {
		return record.SourceRow{}, io.EOF
	}
	s.ordinal++
	prov := record.Provenance{Input: s.name, Ordinal: s.ordinal}
	if err != nil {
		return record.SourceRow{}, fmt.Errorf("%s: %w", prov, err)
	}
	if len(fields) != len(s.header) {
		return record.SourceRow{}, fmt.Errorf("%s: row has %d fields, header has %d", prov, len(fields), len(s.header))
	}

	row := make(record.Row, len(fields))
	for i, v := range fields {
		if s.opts.NullMarker != "" && v == s.opts.NullMarker {
			row[s.header[i]] = nil
			continue
		}
		row[s.header[i]] = v
	}
	return record.SourceRow{Values: row, Provenance: prov}, nil
}

// Close implements record.Source.
func (s *Source) Close() error {
	return s.closer.Close()
}
