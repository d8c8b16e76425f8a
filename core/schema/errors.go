package schema

import (
	"fmt"
	"strings"
)

// SchemaError reports a malformed or insufficient schema. It is fatal and is
// raised before any plan is built.
type SchemaError struct {
	Table  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Table == "" {
		return "schema error: " + e.Reason
	}
	return fmt.Sprintf("schema error in table %s: %s", e.Table, e.Reason)
}

// CyclicDependencyError names a foreign key cycle among distinct tables.
// Tables lists the cycle in traversal order with the first table repeated
// at the end.
type CyclicDependencyError struct {
	Tables []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic foreign key dependency: " + strings.Join(e.Tables, " -> ")
}

// RowCycleError reports rows of a self-referencing table that reference each
// other and cannot be deferred because the foreign key column is not nullable
// or deferral is disabled.
type RowCycleError struct {
	Table string
	// Rows holds the provenance of the rows in the cycle.
	Rows []string
}

func (e *RowCycleError) Error() string {
	return fmt.Sprintf("row-level reference cycle in table %s: %s", e.Table, strings.Join(e.Rows, " -> "))
}
