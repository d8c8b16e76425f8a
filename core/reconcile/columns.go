package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pgmerge/core/convert"
	"pgmerge/core/record"
	"pgmerge/core/schema"
)

// shaper maps raw source rows onto a table's columns according to the
// job's column semantics.
type shaper struct {
	table      *schema.Table
	transforms []convert.Transform
	columns    []string
	keep       map[string]bool
}

// newShaper validates the input header against the table and returns the
// shaper plus any warnings about ignored columns.
func newShaper(table *schema.Table, semantics ColumnSemantics, header []string, transforms []convert.Transform) (*shaper, []string, error) {
	fail := func(format string, args ...any) (*shaper, []string, error) {
		return nil, nil, &schema.SchemaError{Table: table.Name, Reason: fmt.Sprintf(format, args...)}
	}

	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if seen[h] {
			return fail("input column %s appears twice", h)
		}
		seen[h] = true
	}

	if semantics != ColumnsModified && len(transforms) > 0 {
		return fail("transforms require modified column semantics")
	}

	cols := append([]string(nil), header...)
	if semantics == ColumnsModified {
		var err error
		if cols, err = transformHeader(table, header, transforms); err != nil {
			return nil, nil, err
		}
	}

	s := &shaper{table: table, transforms: transforms, keep: make(map[string]bool)}
	var unknown, warnings []string
	for _, c := range cols {
		if table.HasColumn(c) {
			s.columns = append(s.columns, c)
			s.keep[c] = true
			continue
		}
		unknown = append(unknown, c)
	}

	switch semantics {
	case ColumnsExact:
		var missing []string
		for _, c := range table.ColumnNames() {
			if !s.keep[c] {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 || len(unknown) > 0 {
			return fail("exact columns required: missing [%s], unknown [%s]",
				strings.Join(missing, ","), strings.Join(unknown, ","))
		}
	case ColumnsAdditional:
		if len(unknown) > 0 {
			warnings = append(warnings, fmt.Sprintf("table %s: ignoring input columns not in table: %s",
				table.Name, strings.Join(unknown, ",")))
		}
	default:
		if len(unknown) > 0 {
			return fail("input columns not in table: %s", strings.Join(unknown, ","))
		}
	}

	if len(s.columns) == 0 {
		return fail("input supplies none of the table's columns")
	}
	return s, warnings, nil
}

// transformHeader computes the header seen after transforms: transform
// sources that are not table columns disappear and targets appear.
func transformHeader(table *schema.Table, header []string, transforms []convert.Transform) ([]string, error) {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}

	for _, t := range transforms {
		for _, src := range t.Sources {
			if !present[src] {
				return nil, &convert.TransformError{
					Transform: t.Name, Sources: t.Sources, Targets: t.Targets,
					Err: fmt.Errorf("source column %s is not supplied", src),
				}
			}
		}
		for _, src := range t.Sources {
			if !table.HasColumn(src) {
				delete(present, src)
			}
		}
		for _, dst := range t.Targets {
			present[dst] = true
		}
	}

	var out []string
	for _, h := range header {
		if present[h] {
			out = append(out, h)
			delete(present, h)
		}
	}
	rest := make([]string, 0, len(present))
	for c := range present {
		rest = append(rest, c)
	}
	sort.Strings(rest)
	return append(out, rest...), nil
}

// unsupplied lists the table columns the input never writes.
func (s *shaper) unsupplied() []string {
	var out []string
	for _, c := range s.table.ColumnNames() {
		if !s.keep[c] {
			out = append(out, c)
		}
	}
	return out
}

// shape applies transforms and drops columns the table does not have.
func (s *shaper) shape(raw record.Row) (record.Row, error) {
	row := raw
	if len(s.transforms) > 0 {
		row = raw.Clone()
		for _, t := range s.transforms {
			in := make([]any, len(t.Sources))
			for i, src := range t.Sources {
				in[i] = row[src]
			}
			out, err := t.Apply(in)
			if err != nil {
				return nil, err
			}
			for _, src := range t.Sources {
				if !s.table.HasColumn(src) {
					delete(row, src)
				}
			}
			for i, dst := range t.Targets {
				row[dst] = out[i]
			}
		}
	}

	shaped := make(record.Row, len(s.columns))
	for _, c := range s.columns {
		if v, ok := row[c]; ok {
			shaped[c] = v
		}
	}
	return shaped, nil
}

// convertRow converts every supplied value with the column's converter.
func convertRow(reg *convert.Registry, table *schema.Table, raw record.Row) (record.Row, error) {
	out := make(record.Row, len(raw))
	for name, v := range raw {
		col, _ := table.Column(name)
		cv, err := reg.ConvertColumn(col, v)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

// expandMixed splits a mixed-column job into one partial-column job per
// table. Columns are named "table.column"; unqualified columns belong to the
// job's table. Sub-rows whose values are all empty are dropped, and repeated
// identical sub-rows (denormalized input) are kept once.
func expandMixed(ctx context.Context, graph *schema.Graph, job Job) ([]Job, error) {
	type part struct {
		table   string
		columns []string
		headers []string
	}
	var parts []*part
	byTable := make(map[string]*part)

	for _, h := range job.Source.Columns() {
		tableName, column := job.Table, h
		if i := strings.LastIndex(h, "."); i > 0 {
			tableName, column = h[:i], h[i+1:]
		}
		if _, ok := graph.Table(tableName); !ok {
			return nil, &schema.SchemaError{Table: tableName, Reason: fmt.Sprintf("mixed input column %s names an unknown table", h)}
		}
		p, ok := byTable[tableName]
		if !ok {
			p = &part{table: tableName}
			byTable[tableName] = p
			parts = append(parts, p)
		}
		p.columns = append(p.columns, column)
		p.headers = append(p.headers, h)
	}

	rows, err := record.ReadAll(ctx, job.Source)
	if err != nil {
		return nil, err
	}
	input := ""
	if len(rows) > 0 {
		input = rows[0].Provenance.Input
	}

	jobs := make([]Job, 0, len(parts))
	for _, p := range parts {
		var (
			sub      []record.Row
			ordinals []int
			seen     = make(map[string]bool)
		)
		for _, r := range rows {
			values := make([]any, len(p.columns))
			row := make(record.Row, len(p.columns))
			empty := true
			for i, h := range p.headers {
				v, ok := r.Values[h]
				if !ok {
					continue
				}
				row[p.columns[i]] = v
				values[i] = v
				if v != nil && strings.TrimSpace(fmt.Sprint(v)) != "" {
					empty = false
				}
			}
			if empty {
				continue
			}
			k := convert.Key(values)
			if seen[k] {
				continue
			}
			seen[k] = true
			sub = append(sub, row)
			ordinals = append(ordinals, r.Provenance.Ordinal)
		}
		jobs = append(jobs, Job{
			Table:   p.table,
			Source:  record.NewSliceSource(input, p.columns, sub).WithOrdinals(ordinals),
			Rows:    job.Rows,
			Columns: ColumnsPartial,
		})
	}
	return jobs, nil
}
