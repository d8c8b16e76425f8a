// Package reconcile plans and applies the row operations that make database
// tables match incoming row data.
//
// # Architecture
//
// A run works against a schema graph (see core/schema) and consists of two
// steps:
//
// 1. Plan: for every job (a row source for one table plus its row and column
// semantics) the planner converts the incoming values, resolves each row's
// identity against the existing table (see core/identity) and computes a
// value-level diff. Tables are planned concurrently; each table task owns its
// own lookup. The result is an ImportPlan with one TablePlan per table in
// topological order.
//
// 2. Apply: the executor applies the plan through a Store. Inserts and updates
// go in dependency order, deletes in reverse dependency order afterwards.
// The bulk strategy uses one transaction per table (or per plan); the
// incremental strategy uses bounded batches in short transactions.
//
// # Semantics
//
// Row semantics decide what the input means for the table: NewOrUpdate
// upserts, Exact additionally deletes existing rows absent from the input,
// Removal deletes the input rows. Column semantics decide how input columns
// map to table columns: Partial, Exact, Additional, Modified (transforms) and
// Mixed (columns of several tables in one input).
//
// Updates only carry columns whose converted value differs from the existing
// value, so re-running an identical merge plans nothing. That makes re-running
// the standard recovery path after a partial failure.
//
// # Usage Example
//
//	spec := &reconcile.Spec{Graph: graph, Registry: convert.NewRegistry(), Store: store, Logger: log}
//	jobs := []reconcile.Job{{Table: "users", Source: src, Rows: reconcile.RowsNewOrUpdate}}
//
//	plan, err := reconcile.Plan(ctx, spec, jobs, opts)
//	report, err := reconcile.Apply(ctx, spec, plan, opts)
package reconcile
