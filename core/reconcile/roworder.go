package reconcile

import (
	"fmt"

	"pgmerge/core/convert"
	"pgmerge/core/identity"
	"pgmerge/core/record"
	"pgmerge/core/schema"
)

// refKey returns the key of a row's values for cols, or false if any is
// missing or NULL.
func refKey(row record.Row, cols []string) (string, bool) {
	values := make([]any, len(cols))
	for i, c := range cols {
		v, ok := row[c]
		if !ok || v == nil {
			return "", false
		}
		values[i] = v
	}
	return convert.Key(values), true
}

// orderRows orders the inserts and updates of a self-referencing table so
// that every row is written after the rows of the same batch it references.
// Row-level cycles are broken by inserting one row of the cycle with its self
// foreign keys NULL and setting them in a deferred update, or reported as a
// RowCycleError when the policy or column nullability forbids that.
func orderRows(table *schema.Table, ops []Operation, policy RowCyclePolicy) ([]Operation, []Operation, error) {
	edges := table.SelfReferences()
	if len(edges) == 0 || len(ops) < 2 {
		return ops, nil, nil
	}

	// inserted[e][key] is the op that inserts the row referenced by key
	// through edge e.
	inserted := make([]map[string]int, len(edges))
	for e, edge := range edges {
		inserted[e] = make(map[string]int)
		for i, op := range ops {
			if op.Kind != OpInsert {
				continue
			}
			if k, ok := refKey(op.Values, edge.ToColumns); ok {
				inserted[e][k] = i
			}
		}
	}

	refs := func(i int) (deps []int, byEdge map[int]int) {
		byEdge = make(map[int]int)
		for e, edge := range edges {
			k, ok := refKey(ops[i].Values, edge.FromColumns)
			if !ok {
				continue
			}
			if j, found := inserted[e][k]; found && j != i {
				deps = append(deps, j)
				byEdge[e] = j
			}
		}
		return deps, byEdge
	}

	deps := make([][]int, len(ops))
	for i := range ops {
		deps[i], _ = refs(i)
	}
	depsOf := func(i int) []int { return deps[i] }

	var deferred []Operation
	for {
		order, blocked := schema.SortNodes(len(ops), depsOf)
		if len(blocked) == 0 {
			out := make([]Operation, len(order))
			for k, i := range order {
				out[k] = ops[i]
			}
			return out, deferred, nil
		}

		cycle := schema.FindCycle(blocked, depsOf)
		if policy == RowCyclesFail {
			return nil, nil, rowCycleError(table, ops, cycle)
		}

		a := cycle[0]
		_, byEdge := refs(a)
		op := ops[a]
		values := op.Values.Clone()
		later := make(record.Row)
		for e := range byEdge {
			for _, c := range edges[e].FromColumns {
				col, _ := table.Column(c)
				if !col.Nullable {
					return nil, nil, rowCycleError(table, ops, cycle)
				}
				later[c] = values[c]
				values[c] = nil
			}
		}

		pk, ok := identity.SetValues(table.Primary(), values)
		if !ok {
			return nil, nil, rowCycleError(table, ops, cycle)
		}
		ops[a].Values = values
		deps[a] = nil
		deferred = append(deferred, Operation{
			Kind:       OpUpdate,
			Table:      table.Name,
			Identity:   Identity{Columns: table.Primary().Columns, Values: pk},
			Values:     later,
			Provenance: op.Provenance,
			Deferred:   true,
		})
	}
}

func rowCycleError(table *schema.Table, ops []Operation, cycle []int) error {
	rows := make([]string, len(cycle))
	for i, n := range cycle {
		rows[i] = ops[n].Provenance.String()
	}
	return &schema.RowCycleError{Table: table.Name, Rows: rows}
}

// orderDeletes orders deletes of a self-referencing table so that a row is
// deleted before the rows it references. existing holds the full existing
// row of each delete. Rows caught in a reference cycle keep their order and
// are reported in the returned warning.
func orderDeletes(table *schema.Table, deletes []Operation, existing []record.Row) ([]Operation, string) {
	edges := table.SelfReferences()
	if len(edges) == 0 || len(deletes) < 2 {
		return deletes, ""
	}

	deps := make([][]int, len(deletes))
	for _, edge := range edges {
		target := make(map[string]int)
		for i, row := range existing {
			if k, ok := refKey(row, edge.ToColumns); ok {
				target[k] = i
			}
		}
		for i, row := range existing {
			k, ok := refKey(row, edge.FromColumns)
			if !ok {
				continue
			}
			if j, found := target[k]; found && j != i {
				// j is referenced by i, so i goes first.
				deps[j] = append(deps[j], i)
			}
		}
	}

	order, blocked := schema.SortNodes(len(deletes), func(i int) []int { return deps[i] })
	out := make([]Operation, 0, len(deletes))
	for _, i := range order {
		out = append(out, deletes[i])
	}
	warning := ""
	if len(blocked) > 0 {
		for _, i := range blocked {
			out = append(out, deletes[i])
		}
		warning = fmt.Sprintf("table %s: %d rows to delete reference each other in a cycle", table.Name, len(blocked))
	}
	return out, warning
}
