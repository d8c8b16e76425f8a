// Package schema builds the table dependency graph a merge run works against.
//
// Tables and foreign keys are held in an adjacency structure indexed by
// TableID (the table's position in the introspected catalog). Cycle detection
// and ordering work on those indices, never on pointer identity.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// TableID is the stable index of a table inside a Graph.
type TableID int

// IdentityKind tells where an identity column set came from.
type IdentityKind int

const (
	// IdentityPrimary is the table's primary key.
	IdentityPrimary IdentityKind = iota
	// IdentityUnique is a database unique constraint or unique index.
	IdentityUnique
	// IdentityAsserted is a caller-supplied column list accepted without
	// database verification.
	IdentityAsserted
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityPrimary:
		return "primary"
	case IdentityUnique:
		return "unique"
	case IdentityAsserted:
		return "asserted"
	default:
		return "unknown"
	}
}

// IdentitySet is an ordered set of columns used to match incoming rows to
// existing rows.
type IdentitySet struct {
	Name    string
	Kind    IdentityKind
	Columns []string
	// Condition restricts a partial unique index to the rows it covers.
	Condition *Condition
}

// Key returns a stable textual key for the set ("a,b").
func (s IdentitySet) Key() string {
	return strings.Join(s.Columns, ",")
}

// Covers reports whether the set applies to a row, i.e. its partial-index
// condition (if any) holds for the row.
func (s IdentitySet) Covers(row map[string]any) bool {
	if s.Condition == nil {
		return true
	}
	v, ok := row[s.Condition.Column]
	return s.Condition.Holds(v, ok)
}

// Column is a table column. It is immutable once the graph is built.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	// Identity is true when the column belongs to any identity set.
	Identity bool
	Position int
}

// ForeignKeyEdge is a foreign key from one table to another (or itself).
type ForeignKeyEdge struct {
	Name        string
	From        TableID
	To          TableID
	FromColumns []string
	ToColumns   []string
}

// SelfReference reports whether the edge points back at its own table.
func (e ForeignKeyEdge) SelfReference() bool {
	return e.From == e.To
}

// Table is a node of the graph.
type Table struct {
	ID         TableID
	Name       string
	Columns    []Column
	Identities []IdentitySet
	Outgoing   []ForeignKeyEdge
	Incoming   []ForeignKeyEdge

	colIndex map[string]int
}

// Column looks a column up by name.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.colIndex[name]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIndex[name]
	return ok
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Primary returns the primary identity set. Every built table has one.
func (t *Table) Primary() IdentitySet {
	return t.Identities[0]
}

// SelfReferences returns the foreign keys that point back at the table.
func (t *Table) SelfReferences() []ForeignKeyEdge {
	var self []ForeignKeyEdge
	for _, e := range t.Outgoing {
		if e.SelfReference() {
			self = append(self, e)
		}
	}
	return self
}

// Graph is the table dependency graph of one run. It is read-only after Build.
type Graph struct {
	Schema string
	Tables []*Table
	// Warnings collects non-fatal findings (skipped constraints, ignored edges).
	Warnings []string

	byName map[string]TableID
}

// Table looks a table up by name.
func (g *Graph) Table(name string) (*Table, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.Tables[id], true
}

// Names returns table names in declaration order.
func (g *Graph) Names() []string {
	names := make([]string, len(g.Tables))
	for i, t := range g.Tables {
		names[i] = t.Name
	}
	return names
}

// Option configures graph building.
type Option func(*buildOptions)

type buildOptions struct {
	asserted         map[string][][]string
	skipUnidentified bool
	literal          LiteralFunc
	equal            func(a, b any) bool
}

// LiteralFunc converts the literal of a partial-index equality predicate into
// the typed value of its column.
type LiteralFunc func(col Column, literal string) (any, error)

// WithLiterals types the equality literals of partial unique indexes with
// convert and compares row values against them with equal. An index whose
// literal does not convert is not used for matching.
func WithLiterals(convert LiteralFunc, equal func(a, b any) bool) Option {
	return func(o *buildOptions) {
		o.literal = convert
		o.equal = equal
	}
}

// WithAssertedUnique supplies caller-asserted unique column lists per table.
// They are accepted without verification and become identity sets.
func WithAssertedUnique(asserted map[string][][]string) Option {
	return func(o *buildOptions) {
		o.asserted = asserted
	}
}

// WithSkipUnidentified drops tables that have no usable identity set instead
// of failing. Each dropped table is recorded in Graph.Warnings.
func WithSkipUnidentified(skip bool) Option {
	return func(o *buildOptions) {
		o.skipUnidentified = skip
	}
}

// Build turns an introspection catalog into a Graph.
func Build(cat *Catalog, opts ...Option) (*Graph, error) {
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}

	g := &Graph{
		Schema: cat.Schema,
		byName: make(map[string]TableID, len(cat.Tables)),
	}

	for _, def := range cat.Tables {
		if _, dup := g.byName[def.Name]; dup {
			return nil, &SchemaError{Table: def.Name, Reason: "table declared twice"}
		}

		t := &Table{
			Name:     def.Name,
			colIndex: make(map[string]int, len(def.Columns)),
		}
		for i, c := range def.Columns {
			t.Columns = append(t.Columns, Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable, Position: i})
			t.colIndex[c.Name] = i
		}

		ids, warnings, err := identitySets(t, def, o.asserted[def.Name], o)
		g.Warnings = append(g.Warnings, warnings...)
		if err != nil {
			if o.skipUnidentified {
				g.Warnings = append(g.Warnings, fmt.Sprintf("skipping table %s: %s", def.Name, err.(*SchemaError).Reason))
				continue
			}
			return nil, err
		}
		t.Identities = ids
		for _, set := range ids {
			for _, col := range set.Columns {
				t.Columns[t.colIndex[col]].Identity = true
			}
		}

		t.ID = TableID(len(g.Tables))
		g.byName[t.Name] = t.ID
		g.Tables = append(g.Tables, t)
	}

	for name := range o.asserted {
		if _, ok := g.byName[name]; !ok {
			if _, inCatalog := cat.Table(name); !inCatalog {
				return nil, &SchemaError{Table: name, Reason: "asserted unique columns given for unknown table"}
			}
		}
	}

	for _, def := range cat.Tables {
		from, ok := g.Table(def.Name)
		if !ok {
			continue
		}
		for _, fk := range def.ForeignKeys {
			if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
				return nil, &SchemaError{Table: def.Name, Reason: fmt.Sprintf("foreign key %s has mismatched column lists", fk.Name)}
			}
			to, ok := g.Table(fk.RefTable)
			if !ok {
				g.Warnings = append(g.Warnings, fmt.Sprintf("ignoring foreign key %s.%s: referenced table %s is not part of the run", def.Name, fk.Name, fk.RefTable))
				continue
			}
			for _, c := range fk.Columns {
				if !from.HasColumn(c) {
					return nil, &SchemaError{Table: def.Name, Reason: fmt.Sprintf("foreign key %s uses unknown column %s", fk.Name, c)}
				}
			}
			for _, c := range fk.RefColumns {
				if !to.HasColumn(c) {
					return nil, &SchemaError{Table: def.Name, Reason: fmt.Sprintf("foreign key %s references unknown column %s.%s", fk.Name, to.Name, c)}
				}
			}
			edge := ForeignKeyEdge{
				Name:        fk.Name,
				From:        from.ID,
				To:          to.ID,
				FromColumns: append([]string(nil), fk.Columns...),
				ToColumns:   append([]string(nil), fk.RefColumns...),
			}
			from.Outgoing = append(from.Outgoing, edge)
			to.Incoming = append(to.Incoming, edge)
		}
	}

	return g, nil
}

// identitySets collects the usable identity sets of a table, primary first.
func identitySets(t *Table, def TableDef, asserted [][]string, o *buildOptions) ([]IdentitySet, []string, error) {
	var (
		sets     []IdentitySet
		warnings []string
		seen     = make(map[string]bool)
	)

	add := func(set IdentitySet) error {
		for _, c := range set.Columns {
			if !t.HasColumn(c) {
				return &SchemaError{Table: t.Name, Reason: fmt.Sprintf("%s identity %s uses unknown column %s", set.Kind, set.Name, c)}
			}
		}
		key := set.Key()
		if set.Condition != nil {
			key += " WHERE " + set.Condition.String()
		}
		if seen[key] {
			return nil
		}
		seen[key] = true
		sets = append(sets, set)
		return nil
	}

	if len(def.PrimaryKey) > 0 {
		if err := add(IdentitySet{Name: "primary key", Kind: IdentityPrimary, Columns: def.PrimaryKey}); err != nil {
			return nil, nil, err
		}
	}
	for _, u := range def.Uniques {
		if len(u.Columns) == 0 {
			continue
		}
		cond := u.Condition
		if cond == nil && u.Predicate != "" {
			parsed, ok := ParseCondition(u.Predicate)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("table %s: unique index %s has unsupported predicate %q and is not used for matching", t.Name, u.Name, u.Predicate))
				continue
			}
			cond = parsed
		}
		if cond != nil && !t.HasColumn(cond.Column) {
			return nil, nil, &SchemaError{Table: t.Name, Reason: fmt.Sprintf("unique index %s filters on unknown column %s", u.Name, cond.Column)}
		}
		if cond != nil && cond.Op == CondEquals && o.literal != nil {
			col, _ := t.Column(cond.Column)
			v, err := o.literal(col, cond.Value)
			if err != nil || v == nil {
				warnings = append(warnings, fmt.Sprintf("table %s: unique index %s compares %s with %q, which is not a %s value; index not used for matching", t.Name, u.Name, col.Name, cond.Value, col.Type))
				continue
			}
			bound := *cond
			bound.literal, bound.equal = v, o.equal
			cond = &bound
		}
		if err := add(IdentitySet{Name: u.Name, Kind: IdentityUnique, Columns: u.Columns, Condition: cond}); err != nil {
			return nil, nil, err
		}
	}
	for i, cols := range asserted {
		if len(cols) == 0 {
			continue
		}
		if err := add(IdentitySet{Name: fmt.Sprintf("asserted#%d", i+1), Kind: IdentityAsserted, Columns: cols}); err != nil {
			return nil, nil, err
		}
	}

	// The primary set must cover every row, so it cannot be conditional.
	primary := -1
	for i, s := range sets {
		if s.Condition == nil {
			primary = i
			break
		}
	}
	if primary < 0 {
		return nil, warnings, &SchemaError{Table: t.Name, Reason: "no primary key, unique constraint or asserted unique columns usable as identity"}
	}
	if primary > 0 {
		p := sets[primary]
		copy(sets[1:primary+1], sets[:primary])
		sets[0] = p
	}
	return sets, warnings, nil
}

// Dependencies returns the tables t depends on through non-self foreign keys,
// sorted by TableID.
func (g *Graph) Dependencies(id TableID) []TableID {
	return uniqueSorted(g.Tables[id].Outgoing, func(e ForeignKeyEdge) TableID { return e.To })
}

// Dependents returns the tables that reference t through non-self foreign keys.
func (g *Graph) Dependents(id TableID) []TableID {
	return uniqueSorted(g.Tables[id].Incoming, func(e ForeignKeyEdge) TableID { return e.From })
}

func uniqueSorted(edges []ForeignKeyEdge, pick func(ForeignKeyEdge) TableID) []TableID {
	seen := make(map[TableID]bool)
	var ids []TableID
	for _, e := range edges {
		if e.SelfReference() {
			continue
		}
		id := pick(e)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DependencyClosure returns the named tables plus every table they depend on,
// directly or transitively, in declaration order.
func (g *Graph) DependencyClosure(names ...string) ([]string, error) {
	visited := make(map[TableID]bool)
	var stack []TableID
	for _, n := range names {
		t, ok := g.Table(n)
		if !ok {
			return nil, &SchemaError{Table: n, Reason: "unknown table"}
		}
		stack = append(stack, t.ID)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, g.Dependencies(id)...)
	}

	var out []string
	for _, t := range g.Tables {
		if visited[t.ID] {
			out = append(out, t.Name)
		}
	}
	return out, nil
}
