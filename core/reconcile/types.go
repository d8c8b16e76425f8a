package reconcile

import (
	"fmt"
	"strings"
	"time"

	"pgmerge/core/convert"
	"pgmerge/core/record"
	"pgmerge/core/schema"

	"go.uber.org/zap"
)

// RowSemantics is the intended relationship between input rows and the final
// table contents.
type RowSemantics int

const (
	// RowsNewOrUpdate inserts unmatched rows and updates matched ones.
	RowsNewOrUpdate RowSemantics = iota
	// RowsExact makes the table contain exactly the input rows.
	RowsExact
	// RowsRemoval deletes every input row; each must resolve to an existing row.
	RowsRemoval
)

var rowSemanticsNames = map[RowSemantics]string{
	RowsNewOrUpdate: "new_or_update",
	RowsExact:       "exact",
	RowsRemoval:     "removal",
}

func (s RowSemantics) String() string {
	return rowSemanticsNames[s]
}

// ParseRowSemantics parses the configuration spelling of a row semantics mode.
func ParseRowSemantics(s string) (RowSemantics, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "", "new_or_update", "upsert", "new":
		return RowsNewOrUpdate, nil
	case "exact":
		return RowsExact, nil
	case "removal", "remove", "delete":
		return RowsRemoval, nil
	}
	return 0, fmt.Errorf("unknown row semantics %q", s)
}

// ColumnSemantics is how input columns relate to the target table's columns.
type ColumnSemantics int

const (
	// ColumnsPartial allows any subset of the table's columns; absent
	// columns are never touched.
	ColumnsPartial ColumnSemantics = iota
	// ColumnsExact requires the input to supply exactly the table's columns.
	ColumnsExact
	// ColumnsAdditional ignores input columns the table does not have.
	ColumnsAdditional
	// ColumnsModified runs transforms over the input before matching.
	ColumnsModified
	// ColumnsMixed carries columns of several tables, named "table.column".
	ColumnsMixed
)

var columnSemanticsNames = map[ColumnSemantics]string{
	ColumnsPartial:    "partial",
	ColumnsExact:      "exact",
	ColumnsAdditional: "additional",
	ColumnsModified:   "modified",
	ColumnsMixed:      "mixed",
}

func (s ColumnSemantics) String() string {
	return columnSemanticsNames[s]
}

// ParseColumnSemantics parses the configuration spelling of a column semantics mode.
func ParseColumnSemantics(s string) (ColumnSemantics, error) {
	switch strings.ToLower(s) {
	case "", "partial":
		return ColumnsPartial, nil
	case "exact":
		return ColumnsExact, nil
	case "additional":
		return ColumnsAdditional, nil
	case "modified":
		return ColumnsModified, nil
	case "mixed":
		return ColumnsMixed, nil
	}
	return 0, fmt.Errorf("unknown column semantics %q", s)
}

// OpKind is the type of a planned row operation.
type OpKind string

const (
	// OpInsert inserts a full row.
	OpInsert OpKind = "insert"
	// OpUpdate sets changed columns of an identified row.
	OpUpdate OpKind = "update"
	// OpDelete deletes an identified row.
	OpDelete OpKind = "delete"
)

// Identity selects one existing row by an identity set.
type Identity struct {
	Columns []string `json:"columns"`
	Values  []any    `json:"values"`
}

// Row returns the identity as a column map.
func (id Identity) Row() record.Row {
	row := make(record.Row, len(id.Columns))
	for i, c := range id.Columns {
		row[c] = id.Values[i]
	}
	return row
}

func (id Identity) String() string {
	parts := make([]string, len(id.Columns))
	for i, c := range id.Columns {
		parts[i] = fmt.Sprintf("%s=%v", c, id.Values[i])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Operation is one planned row-level change.
type Operation struct {
	// Kind specifies the change.
	Kind OpKind `json:"kind"`

	// Table is the target table name.
	Table string `json:"table"`

	// Identity selects the row for updates and deletes. For inserts it holds
	// the primary set values when they are supplied.
	Identity Identity `json:"identity"`

	// Values holds the full row for inserts and only the changed columns for
	// updates. Values are converted.
	Values record.Row `json:"values,omitempty"`

	// Provenance is the source row that produced the operation.
	Provenance record.Provenance `json:"provenance"`

	// Deferred marks the second-pass update that sets foreign key columns
	// nulled on insert to break a row-level reference cycle.
	Deferred bool `json:"deferred,omitempty"`
}

// RowError is a planning error for one source row.
type RowError struct {
	Provenance record.Provenance `json:"provenance"`
	Err        error             `json:"-"`
	Message    string            `json:"error"`
}

func newRowError(prov record.Provenance, err error) RowError {
	return RowError{Provenance: prov, Err: err, Message: err.Error()}
}

func (e RowError) Error() string {
	return e.Message
}

func (e RowError) Unwrap() error {
	return e.Err
}

// TablePlan is the finalized operation list of one table.
type TablePlan struct {
	// Table is the table name.
	Table string `json:"table"`

	// ID is the table's position in the schema graph.
	ID schema.TableID `json:"-"`

	// Ops is ordered: inserts and updates in row order, deferred foreign key
	// updates, then deletes.
	Ops []Operation `json:"ops"`

	// Skipped counts source rows that already match the table.
	Skipped int `json:"skipped"`

	// Errors lists per-row planning errors.
	Errors []RowError `json:"errors,omitempty"`

	// Warnings lists non-fatal findings.
	Warnings []string `json:"warnings,omitempty"`

	// Err is a table-level planning error (bad input columns, cycles).
	Err error `json:"-"`

	// Failed is set when planning errors abort the table's plan. A failed
	// plan carries no operations.
	Failed bool `json:"failed"`
}

// Count returns how many operations of a kind the plan holds.
func (p *TablePlan) Count(kind OpKind) int {
	n := 0
	for _, op := range p.Ops {
		if op.Kind == kind && !op.Deferred {
			n++
		}
	}
	return n
}

// ImportPlan holds one TablePlan per table with input, in topological order.
type ImportPlan struct {
	// RunID identifies the run in logs and reports.
	RunID string `json:"run_id"`

	// Tables is ordered so every table follows the tables it references.
	Tables []*TablePlan `json:"tables"`

	// Warnings lists run-level findings (schema warnings, ignored edges).
	Warnings []string `json:"warnings,omitempty"`
}

// Failed reports whether any table plan failed.
func (p *ImportPlan) Failed() bool {
	for _, t := range p.Tables {
		if t.Failed {
			return true
		}
	}
	return false
}

// Table returns the plan of a table.
func (p *ImportPlan) Table(name string) (*TablePlan, bool) {
	for _, t := range p.Tables {
		if t.Table == name {
			return t, true
		}
	}
	return nil, false
}

// PlanSummary provides aggregate statistics for an import plan.
type PlanSummary struct {
	// Tables is the number of tables with input.
	Tables int `json:"tables"`

	// Inserts counts planned inserts.
	Inserts int `json:"inserts"`

	// Updates counts planned updates, excluding deferred foreign key updates.
	Updates int `json:"updates"`

	// Deletes counts planned deletes.
	Deletes int `json:"deletes"`

	// Skipped counts source rows with nothing to change.
	Skipped int `json:"skipped"`

	// Errors counts per-row and table-level planning errors.
	Errors int `json:"errors"`
}

// Summary aggregates the plan.
func (p *ImportPlan) Summary() PlanSummary {
	s := PlanSummary{Tables: len(p.Tables)}
	for _, t := range p.Tables {
		s.Inserts += t.Count(OpInsert)
		s.Updates += t.Count(OpUpdate)
		s.Deletes += t.Count(OpDelete)
		s.Skipped += t.Skipped
		s.Errors += len(t.Errors)
		if t.Err != nil {
			s.Errors++
		}
	}
	return s
}

// Job is one import job: a row source for a table with its semantics.
type Job struct {
	// Table is the target table. For mixed column semantics it is the table
	// that receives unqualified columns.
	Table string

	// Source supplies the raw rows.
	Source record.Source

	// Rows is the row semantics of the job.
	Rows RowSemantics

	// Columns is the column semantics of the job.
	Columns ColumnSemantics

	// Transforms are applied in order for modified column semantics.
	Transforms []convert.Transform
}

// LookupMode selects how existing rows are matched.
type LookupMode string

const (
	// LookupMemory loads each table fully into an in-memory index.
	LookupMemory LookupMode = "memory"
	// LookupCursor queries the database for each identity key.
	LookupCursor LookupMode = "cursor"
)

// RowCyclePolicy decides what happens to row-level reference cycles in
// self-referencing tables.
type RowCyclePolicy string

const (
	// RowCyclesDefer inserts with the foreign key NULL and sets it afterwards.
	RowCyclesDefer RowCyclePolicy = "defer"
	// RowCyclesFail reports a RowCycleError.
	RowCyclesFail RowCyclePolicy = "fail"
)

// Strategy selects how a plan is applied.
type Strategy string

const (
	// StrategyBulk applies each table (or the whole plan) in one transaction.
	StrategyBulk Strategy = "bulk"
	// StrategyIncremental applies bounded batches in short transactions.
	StrategyIncremental Strategy = "incremental"
)

// TxScope is the transaction boundary of the bulk strategy.
type TxScope string

const (
	// TxPerTable commits each table separately.
	TxPerTable TxScope = "table"
	// TxPerPlan commits the whole plan at once.
	TxPerPlan TxScope = "plan"
)

// Options controls planning and execution of a run.
type Options struct {
	// Lookup selects the identity lookup strategy.
	Lookup LookupMode

	// RowCycles decides how row-level reference cycles are handled.
	RowCycles RowCyclePolicy

	// AllowKeyChange accepts rows whose primary set matches while an
	// evaluable alternate identity set matches nothing, updating the
	// alternate key. By default such rows fail as ambiguous matches.
	AllowKeyChange bool

	// Strategy selects bulk or incremental application.
	Strategy Strategy

	// BatchSize bounds operations per transaction (incremental) and rows per
	// multi-row insert.
	BatchSize int

	// TxScope is the bulk transaction boundary.
	TxScope TxScope

	// Concurrency is the number of tables planned (and, for bulk per-table
	// transactions, applied) at once.
	Concurrency int

	// ContinueOnError skips failing rows and tables instead of aborting.
	ContinueOnError bool

	// OpTimeout is the deadline of each transaction. Zero means none.
	OpTimeout time.Duration

	// MaxRetries is how often a batch failing with a lock timeout is retried.
	MaxRetries int

	// RetryBackoff is the initial wait between retries; it doubles each time.
	RetryBackoff time.Duration

	// DryRun plans but never applies.
	DryRun bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Lookup:       LookupMemory,
		RowCycles:    RowCyclesDefer,
		Strategy:     StrategyBulk,
		BatchSize:    500,
		TxScope:      TxPerTable,
		Concurrency:  1,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Lookup == "" {
		o.Lookup = d.Lookup
	}
	if o.RowCycles == "" {
		o.RowCycles = d.RowCycles
	}
	if o.Strategy == "" {
		o.Strategy = d.Strategy
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.TxScope == "" {
		o.TxScope = d.TxScope
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = d.RetryBackoff
	}
	return o
}

// Spec bundles what a run works against.
type Spec struct {
	// Graph is the schema graph of the run.
	Graph *schema.Graph

	// Registry converts raw values per column type.
	Registry *convert.Registry

	// Store reads existing rows and applies operations.
	Store Store

	// Logger receives structured progress logs. Nil disables logging.
	Logger *zap.Logger
}

func (s *Spec) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Spec) registry() *convert.Registry {
	if s.Registry == nil {
		s.Registry = convert.NewRegistry()
	}
	return s.Registry
}
