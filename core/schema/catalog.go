package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Catalog is the raw result of schema introspection, before graph building.
// Tables keep the order in which introspection returned them; that order is
// the tie-break for the topological sort.
type Catalog struct {
	// Schema is the database schema the tables were read from (e.g. "public").
	Schema string
	// Tables lists every introspected table.
	Tables []TableDef
}

// TableDef describes one introspected table.
type TableDef struct {
	Name        string
	Columns     []ColumnDef
	PrimaryKey  []string
	Uniques     []UniqueDef
	ForeignKeys []ForeignKeyDef
}

// ColumnDef describes one introspected column.
type ColumnDef struct {
	Name     string
	Type     string
	Nullable bool
}

// UniqueDef is a unique constraint or unique index.
//
// Predicate holds the filter of a partial unique index as reported by the
// database. When Predicate is set but cannot be parsed into a Condition the
// constraint cannot be used for matching.
type UniqueDef struct {
	Name      string
	Columns   []string
	Predicate string
	Condition *Condition
}

// ForeignKeyDef is a foreign key constraint on the owning table.
type ForeignKeyDef struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// Table returns the definition with the given name.
func (c *Catalog) Table(name string) (*TableDef, bool) {
	for i := range c.Tables {
		if c.Tables[i].Name == name {
			return &c.Tables[i], true
		}
	}
	return nil, false
}

// Filter returns a catalog restricted to the named tables, keeping catalog order.
// An empty include list keeps every table.
func (c *Catalog) Filter(include, exclude []string) *Catalog {
	in := make(map[string]bool, len(include))
	for _, t := range include {
		in[t] = true
	}
	out := make(map[string]bool, len(exclude))
	for _, t := range exclude {
		out[t] = true
	}

	filtered := &Catalog{Schema: c.Schema}
	for _, t := range c.Tables {
		if len(in) > 0 && !in[t.Name] {
			continue
		}
		if out[t.Name] {
			continue
		}
		filtered.Tables = append(filtered.Tables, t)
	}
	return filtered
}

// CondOp is the comparison used by a partial-index Condition.
type CondOp int

const (
	CondIsNull CondOp = iota
	CondIsNotNull
	CondEquals
)

// Condition is the supported subset of partial unique index predicates:
// "col IS NULL", "col IS NOT NULL", "col = literal" and a bare boolean
// column ("active", "NOT active").
type Condition struct {
	Column string
	Op     CondOp
	Value  string

	literal any
	equal   func(a, b any) bool
}

// Holds reports whether a value for Condition.Column satisfies the condition.
// Equality compares typed values when the graph was built WithLiterals and
// the textual form of the value otherwise.
func (c *Condition) Holds(value any, present bool) bool {
	switch c.Op {
	case CondIsNull:
		return present && value == nil
	case CondIsNotNull:
		return present && value != nil
	case CondEquals:
		if !present || value == nil {
			return false
		}
		if c.equal != nil {
			return c.equal(value, c.literal)
		}
		return fmt.Sprint(value) == c.Value
	}
	return false
}

// Typed reports whether the equality literal was converted to the column type.
func (c *Condition) Typed() bool {
	return c.equal != nil
}

func (c *Condition) String() string {
	switch c.Op {
	case CondIsNull:
		return c.Column + " IS NULL"
	case CondIsNotNull:
		return c.Column + " IS NOT NULL"
	default:
		return fmt.Sprintf("%s = '%s'", c.Column, c.Value)
	}
}

var (
	nullPredicate  = regexp.MustCompile(`(?i)^"?([a-z_][a-z0-9_$]*)"?(?:\)?::[a-z ]+)?\s+is\s+(not\s+)?null$`)
	equalPredicate = regexp.MustCompile(`(?i)^"?([a-z_][a-z0-9_$]*)"?(?:\)?::[a-z ]+)?\s*=\s*'((?:[^']|'')*)'(?:::[a-z ]+)?$`)
	bareLiteral    = regexp.MustCompile(`(?i)^"?([a-z_][a-z0-9_$]*)"?\s*=\s*(-?[0-9]+(?:\.[0-9]+)?|true|false)$`)
	boolColumn     = regexp.MustCompile(`(?i)^(not\s+)?"?([a-z_][a-z0-9_$]*)"?$`)
	boolTest       = regexp.MustCompile(`(?i)^"?([a-z_][a-z0-9_$]*)"?\s+is\s+(true|false)$`)
)

// ParseCondition parses a partial index predicate as printed by PostgreSQL
// (pg_get_expr) or SQLite. It returns false for anything outside the
// supported subset.
func ParseCondition(predicate string) (*Condition, bool) {
	p := strings.TrimSpace(predicate)
	p = strings.TrimPrefix(strings.TrimPrefix(p, "WHERE "), "where ")
	for strings.HasPrefix(p, "(") && strings.HasSuffix(p, ")") && balanced(p[1:len(p)-1]) {
		p = strings.TrimSpace(p[1 : len(p)-1])
	}
	p = strings.TrimPrefix(p, "(")

	if m := nullPredicate.FindStringSubmatch(p); m != nil {
		op := CondIsNull
		if m[2] != "" {
			op = CondIsNotNull
		}
		return &Condition{Column: m[1], Op: op}, true
	}
	if m := equalPredicate.FindStringSubmatch(p); m != nil {
		return &Condition{Column: m[1], Op: CondEquals, Value: strings.ReplaceAll(m[2], "''", "'")}, true
	}
	if m := bareLiteral.FindStringSubmatch(p); m != nil {
		return &Condition{Column: m[1], Op: CondEquals, Value: strings.ToLower(m[2])}, true
	}
	if m := boolTest.FindStringSubmatch(p); m != nil {
		return &Condition{Column: m[1], Op: CondEquals, Value: strings.ToLower(m[2])}, true
	}
	if m := boolColumn.FindStringSubmatch(p); m != nil && !keyword(m[2]) {
		value := "true"
		if m[1] != "" {
			value = "false"
		}
		return &Condition{Column: m[2], Op: CondEquals, Value: value}, true
	}
	return nil, false
}

func keyword(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "null", "not":
		return true
	}
	return false
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
