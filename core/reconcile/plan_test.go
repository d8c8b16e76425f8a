package reconcile

import (
	"context"
	"testing"

	"pgmerge/core/convert"
	"pgmerge/core/identity"
	"pgmerge/core/record"
	"pgmerge/core/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// shopGraph declares the child tables first so the plan order cannot come
// from catalog order alone.
func shopGraph(t *testing.T) *schema.Graph {
	t.Helper()
	cat := &schema.Catalog{
		Schema: "public",
		Tables: []schema.TableDef{
			{
				Name: "order_items",
				Columns: []schema.ColumnDef{
					{Name: "id", Type: "integer"},
					{Name: "order_id", Type: "integer"},
					{Name: "sku", Type: "text", Nullable: true},
				},
				PrimaryKey:  []string{"id"},
				ForeignKeys: []schema.ForeignKeyDef{{Name: "order_items_order_fk", Columns: []string{"order_id"}, RefTable: "orders", RefColumns: []string{"id"}}},
			},
			{
				Name: "orders",
				Columns: []schema.ColumnDef{
					{Name: "id", Type: "integer"},
					{Name: "customer_id", Type: "integer"},
					{Name: "total", Type: "numeric(10,2)", Nullable: true},
				},
				PrimaryKey:  []string{"id"},
				ForeignKeys: []schema.ForeignKeyDef{{Name: "orders_customer_fk", Columns: []string{"customer_id"}, RefTable: "customers", RefColumns: []string{"id"}}},
			},
			{
				Name: "customers",
				Columns: []schema.ColumnDef{
					{Name: "id", Type: "integer"},
					{Name: "email", Type: "text"},
					{Name: "name", Type: "text", Nullable: true},
					{Name: "referred_by", Type: "integer", Nullable: true},
				},
				PrimaryKey:  []string{"id"},
				Uniques:     []schema.UniqueDef{{Name: "customers_email_key", Columns: []string{"email"}}},
				ForeignKeys: []schema.ForeignKeyDef{{Name: "customers_referrer_fk", Columns: []string{"referred_by"}, RefTable: "customers", RefColumns: []string{"id"}}},
			},
			{
				Name: "tags",
				Columns: []schema.ColumnDef{
					{Name: "id", Type: "integer"},
					{Name: "label", Type: "text"},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}
	g, err := schema.Build(cat)
	require.NoError(t, err)
	return g
}

func newSpec(t *testing.T) (*Spec, *memStore) {
	t.Helper()
	g := shopGraph(t)
	store := newMemStore(g)
	return &Spec{Graph: g, Registry: convert.NewRegistry(), Store: store, Logger: zap.NewNop()}, store
}

func source(header []string, rows ...[]any) record.Source {
	out := make([]record.Row, len(rows))
	for i, r := range rows {
		row := make(record.Row, len(header))
		for j, h := range header {
			row[h] = r[j]
		}
		out[i] = row
	}
	return record.NewSliceSource("input.csv", header, out)
}

func customer(id int64, email string, name any, referredBy any) record.Row {
	return record.Row{"id": id, "email": email, "name": name, "referred_by": referredBy}
}

func tableNames(p *ImportPlan) []string {
	names := make([]string, len(p.Tables))
	for i, t := range p.Tables {
		names[i] = t.Table
	}
	return names
}

func byID(rows []record.Row) map[int64]record.Row {
	out := make(map[int64]record.Row, len(rows))
	for _, r := range rows {
		out[r["id"].(int64)] = r
	}
	return out
}

// TestPlan_TableOrder tests that referenced tables are planned and applied
// before the tables referencing them.
func TestPlan_TableOrder(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)

	jobs := []Job{
		{Table: "order_items", Source: source([]string{"id", "order_id", "sku"}, []any{"1", "10", "A-1"})},
		{Table: "orders", Source: source([]string{"id", "customer_id", "total"}, []any{"10", "1", "9.90"})},
		{Table: "customers", Source: source([]string{"id", "email"}, []any{"1", "a@x"})},
	}

	plan, report, err := Run(ctx, spec, jobs, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders", "order_items"}, tableNames(plan))
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, 3, report.Totals().Inserted)

	require.Len(t, store.rows("orders"), 1)
	assert.Equal(t, "9.9", store.rows("orders")[0]["total"])
}

// TestPlan_PartialUpdateByAlternateKey tests that a row matched by a unique
// column updates only the supplied columns that changed.
func TestPlan_PartialUpdateByAlternateKey(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)
	store.seed("customers", customer(1, "a@x", "Old", nil))

	plan, err := Plan(ctx, spec, []Job{{
		Table:  "customers",
		Source: source([]string{"email", "name"}, []any{"a@x", "Alice"}),
	}}, Options{})
	require.NoError(t, err)

	tp, ok := plan.Table("customers")
	require.True(t, ok)
	require.Len(t, tp.Ops, 1)
	op := tp.Ops[0]
	assert.Equal(t, OpUpdate, op.Kind)
	assert.Equal(t, []string{"email"}, op.Identity.Columns)
	assert.Equal(t, []any{"a@x"}, op.Identity.Values)
	assert.Equal(t, record.Row{"name": "Alice"}, op.Values)
	assert.Equal(t, "input.csv:1", op.Provenance.String())

	report, err := Apply(ctx, spec, plan, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals().Updated)

	rows := store.rows("customers")
	require.Len(t, rows, 1)
	assert.Equal(t, customer(1, "a@x", "Alice", nil), rows[0])
}

// TestPlan_Idempotent tests that re-planning the same input after applying
// it plans nothing.
func TestPlan_Idempotent(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)
	store.seed("customers", customer(1, "a@x", "Ann", nil))

	input := func() []Job {
		return []Job{
			{Table: "customers", Source: source([]string{"id", "email", "name"},
				[]any{"1", "a@x", "Annie"},
				[]any{"2", "b@x", "Bob"},
			)},
			{Table: "orders", Source: source([]string{"id", "customer_id", "total"}, []any{"7", "2", "1.50"})},
		}
	}

	_, report, err := Run(ctx, spec, input(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)

	plan, err := Plan(ctx, spec, input(), Options{})
	require.NoError(t, err)
	summary := plan.Summary()
	assert.Zero(t, summary.Inserts+summary.Updates+summary.Deletes)
	assert.Equal(t, 3, summary.Skipped)
}

// TestPlan_ExactRows tests that exact row semantics deletes existing rows
// missing from the input.
func TestPlan_ExactRows(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)
	store.seed("customers",
		customer(1, "a@x", "Ann", nil),
		customer(2, "b@x", "Bob", nil),
		customer(3, "c@x", "Cy", nil),
	)

	for _, lookup := range []LookupMode{LookupMemory, LookupCursor} {
		t.Run(string(lookup), func(t *testing.T) {
			plan, err := Plan(ctx, spec, []Job{{
				Table: "customers",
				Rows:  RowsExact,
				Source: source([]string{"id", "email", "name"},
					[]any{"1", "a@x", "Anna"},
					[]any{"2", "b@x", "Bob"},
					[]any{"4", "d@x", "Dee"},
				),
			}}, Options{Lookup: lookup})
			require.NoError(t, err)

			tp, _ := plan.Table("customers")
			assert.Equal(t, 1, tp.Count(OpInsert))
			assert.Equal(t, 1, tp.Count(OpUpdate))
			assert.Equal(t, 1, tp.Count(OpDelete))
			assert.Equal(t, 1, tp.Skipped)

			last := tp.Ops[len(tp.Ops)-1]
			assert.Equal(t, OpDelete, last.Kind)
			assert.Equal(t, "{id=3}", last.Identity.String())

			require.NotEmpty(t, tp.Warnings)
			assert.Contains(t, tp.Warnings[0], "does not supply: referred_by")
		})
	}

	plan, err := Plan(ctx, spec, []Job{{
		Table: "customers",
		Rows:  RowsExact,
		Source: source([]string{"id", "email", "name"},
			[]any{"1", "a@x", "Anna"},
			[]any{"2", "b@x", "Bob"},
			[]any{"4", "d@x", "Dee"},
		),
	}}, Options{})
	require.NoError(t, err)
	_, err = Apply(ctx, spec, plan, Options{})
	require.NoError(t, err)

	rows := byID(store.rows("customers"))
	assert.Len(t, rows, 3)
	assert.Contains(t, rows, int64(4))
	assert.NotContains(t, rows, int64(3))
	assert.Equal(t, "Anna", rows[1]["name"])
}

// TestPlan_ExactRowsWithErrors tests that no deletes are planned when some
// input rows could not be planned.
func TestPlan_ExactRowsWithErrors(t *testing.T) {
	spec, store := newSpec(t)
	store.seed("customers", customer(1, "a@x", "Ann", nil), customer(2, "b@x", "Bob", nil))

	plan, err := Plan(context.Background(), spec, []Job{{
		Table:  "customers",
		Rows:   RowsExact,
		Source: source([]string{"id", "email"}, []any{"1", "a@x"}, []any{"x", "z@x"}),
	}}, Options{ContinueOnError: true})
	require.NoError(t, err)

	tp, _ := plan.Table("customers")
	assert.False(t, tp.Failed)
	assert.Len(t, tp.Errors, 1)
	assert.Zero(t, tp.Count(OpDelete))
	assert.NotEmpty(t, tp.Warnings)
}

// TestPlan_IdentityConflict tests that a row matching two different
// existing rows under different identity sets produces no operation.
func TestPlan_IdentityConflict(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)
	store.seed("customers", customer(1, "a@x", "Ann", nil), customer(2, "b@x", "Bob", nil))

	job := func() []Job {
		return []Job{{Table: "customers", Source: source([]string{"id", "email"}, []any{"1", "b@x"})}}
	}

	plan, err := Plan(ctx, spec, job(), Options{})
	require.NoError(t, err)
	tp, _ := plan.Table("customers")
	assert.True(t, tp.Failed)
	assert.Empty(t, tp.Ops)
	require.Len(t, tp.Errors, 1)
	var conflict *identity.IdentityConflictError
	assert.ErrorAs(t, tp.Errors[0], &conflict)

	report, err := Apply(ctx, spec, plan, Options{})
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Zero(t, store.commits)

	plan, err = Plan(ctx, spec, job(), Options{ContinueOnError: true})
	require.NoError(t, err)
	tp, _ = plan.Table("customers")
	assert.False(t, tp.Failed)
	assert.Empty(t, tp.Ops)
	assert.Len(t, tp.Errors, 1)
}

// TestPlan_Removal tests that removal semantics deletes matched rows and
// refuses rows that match nothing.
func TestPlan_Removal(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)
	store.seed("customers", customer(1, "a@x", "Ann", nil), customer(2, "b@x", "Bob", nil))

	plan, err := Plan(ctx, spec, []Job{{
		Table:  "customers",
		Rows:   RowsRemoval,
		Source: source([]string{"email"}, []any{"b@x"}, []any{"nobody@x"}),
	}}, Options{ContinueOnError: true})
	require.NoError(t, err)

	tp, _ := plan.Table("customers")
	require.Len(t, tp.Ops, 1)
	assert.Equal(t, OpDelete, tp.Ops[0].Kind)
	assert.Equal(t, "{email=b@x}", tp.Ops[0].Identity.String())
	require.Len(t, tp.Errors, 1)
	assert.Equal(t, "input.csv:2", tp.Errors[0].Provenance.String())
	var unresolvable *identity.UnresolvableRowError
	assert.ErrorAs(t, tp.Errors[0], &unresolvable)

	report, err := Apply(ctx, spec, plan, Options{ContinueOnError: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals().Deleted)
	assert.Equal(t, StatusPartial, report.Status)
	assert.Len(t, store.rows("customers"), 1)
}

// TestPlan_SelfReferenceOrder tests that rows of a self-referencing table are
// inserted after the rows they reference.
func TestPlan_SelfReferenceOrder(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)

	plan, report, err := Run(ctx, spec, []Job{{
		Table: "customers",
		Source: source([]string{"id", "email", "referred_by"},
			[]any{"1", "a@x", "2"},
			[]any{"2", "b@x", "3"},
			[]any{"3", "c@x", ""},
		),
	}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)

	tp, _ := plan.Table("customers")
	ids := make([]any, len(tp.Ops))
	for i, op := range tp.Ops {
		ids[i] = op.Values["id"]
	}
	assert.Equal(t, []any{int64(3), int64(2), int64(1)}, ids)
	assert.Len(t, store.rows("customers"), 3)
}

// TestPlan_RowCycle tests the handling of rows referencing each other.
func TestPlan_RowCycle(t *testing.T) {
	ctx := context.Background()
	input := func() []Job {
		return []Job{{
			Table: "customers",
			Source: source([]string{"id", "email", "referred_by"},
				[]any{"1", "a@x", "2"},
				[]any{"2", "b@x", "1"},
			),
		}}
	}

	t.Run("defer", func(t *testing.T) {
		spec, store := newSpec(t)
		plan, report, err := Run(ctx, spec, input(), Options{RowCycles: RowCyclesDefer})
		require.NoError(t, err)

		tp, _ := plan.Table("customers")
		require.Len(t, tp.Ops, 3)
		assert.True(t, tp.Ops[2].Deferred)
		assert.Equal(t, 2, tp.Count(OpInsert))
		assert.Zero(t, tp.Count(OpUpdate))

		assert.Equal(t, 2, report.Totals().Inserted)
		assert.Zero(t, report.Totals().Updated)

		rows := byID(store.rows("customers"))
		assert.Equal(t, int64(2), rows[1]["referred_by"])
		assert.Equal(t, int64(1), rows[2]["referred_by"])
	})

	t.Run("fail", func(t *testing.T) {
		spec, _ := newSpec(t)
		plan, err := Plan(ctx, spec, input(), Options{RowCycles: RowCyclesFail})
		require.NoError(t, err)

		tp, _ := plan.Table("customers")
		assert.True(t, tp.Failed)
		var cycleErr *schema.RowCycleError
		require.ErrorAs(t, tp.Err, &cycleErr)
		assert.Len(t, cycleErr.Rows, 3)
	})
}

// TestPlan_MixedColumns tests that a denormalized input fills several tables.
func TestPlan_MixedColumns(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)

	header := []string{"customers.id", "customers.email", "id", "customer_id", "total"}
	plan, report, err := Run(ctx, spec, []Job{{
		Table:   "orders",
		Columns: ColumnsMixed,
		Source: source(header,
			[]any{"1", "a@x", "10", "1", "5.50"},
			[]any{"1", "a@x", "11", "1", "7"},
			[]any{"", "", "12", "1", "1"},
		),
	}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, []string{"customers", "orders"}, tableNames(plan))

	customers, _ := plan.Table("customers")
	assert.Equal(t, 1, customers.Count(OpInsert))
	orders, _ := plan.Table("orders")
	assert.Equal(t, 3, orders.Count(OpInsert))
	assert.Equal(t, "input.csv:3", orders.Ops[2].Provenance.String())

	assert.Len(t, store.rows("customers"), 1)
	assert.Len(t, store.rows("orders"), 3)
}

// TestPlan_ModifiedColumns tests that transforms shape the input before
// matching.
func TestPlan_ModifiedColumns(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)

	_, _, err := Run(ctx, spec, []Job{{
		Table:      "customers",
		Columns:    ColumnsModified,
		Transforms: []convert.Transform{convert.Concat("full_name", " ", []string{"first", "last"}, "name")},
		Source:     source([]string{"id", "email", "first", "last"}, []any{"1", "a@x", "Ada", "Lovelace"}),
	}}, Options{})
	require.NoError(t, err)

	rows := store.rows("customers")
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada Lovelace", rows[0]["name"])
	assert.NotContains(t, rows[0], "first")

	plan, err := Plan(ctx, spec, []Job{{
		Table:      "customers",
		Columns:    ColumnsModified,
		Transforms: []convert.Transform{convert.Concat("full_name", " ", []string{"first", "missing"}, "name")},
		Source:     source([]string{"id", "email", "first"}, []any{"1", "a@x", "Ada"}),
	}}, Options{})
	require.NoError(t, err)
	tp, _ := plan.Table("customers")
	assert.True(t, tp.Failed)
	var transformErr *convert.TransformError
	assert.ErrorAs(t, tp.Err, &transformErr)
}

// TestPlan_ColumnSemantics tests header validation per column semantics.
func TestPlan_ColumnSemantics(t *testing.T) {
	tests := []struct {
		name      string
		semantics ColumnSemantics
		header    []string
		failed    bool
		warnings  int
	}{
		{"partial subset", ColumnsPartial, []string{"id", "email"}, false, 0},
		{"partial unknown", ColumnsPartial, []string{"id", "email", "age"}, true, 0},
		{"exact complete", ColumnsExact, []string{"id", "email", "name", "referred_by"}, false, 0},
		{"exact missing", ColumnsExact, []string{"id", "email"}, true, 0},
		{"additional unknown", ColumnsAdditional, []string{"id", "email", "age"}, false, 1},
		{"duplicate header", ColumnsPartial, []string{"id", "id"}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, _ := newSpec(t)
			values := make([]any, len(tt.header))
			for i := range values {
				values[i] = "1"
			}
			values[1] = "a@x"

			plan, err := Plan(context.Background(), spec, []Job{{
				Table: "customers", Columns: tt.semantics, Source: source(tt.header, values),
			}}, Options{})
			require.NoError(t, err)

			tp, _ := plan.Table("customers")
			assert.Equal(t, tt.failed, tp.Failed)
			assert.Len(t, tp.Warnings, tt.warnings)
			if tt.failed {
				var schemaErr *schema.SchemaError
				assert.ErrorAs(t, tp.Err, &schemaErr)
			}
		})
	}
}

// TestPlan_PartialColumnsKeepAbsent tests that columns absent from the input
// are never written, even when they differ.
func TestPlan_PartialColumnsKeepAbsent(t *testing.T) {
	ctx := context.Background()
	spec, store := newSpec(t)
	store.seed("customers", customer(1, "a@x", "Ann", nil), customer(2, "b@x", "Bob", int64(1)))

	_, report, err := Run(ctx, spec, []Job{{
		Table:  "customers",
		Source: source([]string{"id", "name"}, []any{"2", "Bobby"}),
	}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals().Updated)

	rows := byID(store.rows("customers"))
	assert.Equal(t, customer(2, "b@x", "Bobby", int64(1)), rows[2])
}

// TestPlan_AlternateKeyChange tests that a row matching by primary key but
// carrying an unknown alternate key is refused unless key changes are
// allowed.
func TestPlan_AlternateKeyChange(t *testing.T) {
	ctx := context.Background()
	job := func() []Job {
		return []Job{{Table: "customers", Source: source([]string{"id", "email"}, []any{"1", "b@x"})}}
	}

	t.Run("default", func(t *testing.T) {
		spec, store := newSpec(t)
		store.seed("customers", customer(1, "a@x", "Ann", nil))

		plan, err := Plan(ctx, spec, job(), Options{})
		require.NoError(t, err)
		tp, _ := plan.Table("customers")
		assert.Empty(t, tp.Ops)
		require.Len(t, tp.Errors, 1)
		var ambiguous *identity.AmbiguousMatchError
		assert.ErrorAs(t, tp.Errors[0], &ambiguous)
		assert.Equal(t, "input.csv:1", tp.Errors[0].Provenance.String())
	})

	t.Run("allowed", func(t *testing.T) {
		spec, store := newSpec(t)
		store.seed("customers", customer(1, "a@x", "Ann", nil))

		_, report, err := Run(ctx, spec, job(), Options{AllowKeyChange: true})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Totals().Updated)
		assert.Equal(t, customer(1, "b@x", "Ann", nil), store.rows("customers")[0])
	})
}

// TestPlan_ConditionalIdentity tests matching through a partial unique index
// whose filter compares a boolean column.
func TestPlan_ConditionalIdentity(t *testing.T) {
	ctx := context.Background()
	reg := convert.NewRegistry()
	cat := &schema.Catalog{Tables: []schema.TableDef{{
		Name: "accounts",
		Columns: []schema.ColumnDef{
			{Name: "id", Type: "integer"},
			{Name: "login", Type: "text"},
			{Name: "active", Type: "boolean"},
			{Name: "note", Type: "text", Nullable: true},
		},
		PrimaryKey: []string{"id"},
		Uniques:    []schema.UniqueDef{{Name: "accounts_live_login", Columns: []string{"login"}, Predicate: "active = 1"}},
	}}}
	g, err := schema.Build(cat, reg.Literals())
	require.NoError(t, err)

	store := newMemStore(g)
	store.seed("accounts",
		record.Row{"id": int64(1), "login": "bob", "active": int64(1), "note": nil},
		record.Row{"id": int64(2), "login": "bob", "active": int64(0), "note": nil},
	)
	spec := &Spec{Graph: g, Registry: reg, Store: store, Logger: zap.NewNop()}

	for _, lookup := range []LookupMode{LookupMemory, LookupCursor} {
		t.Run(string(lookup), func(t *testing.T) {
			plan, err := Plan(ctx, spec, []Job{{
				Table: "accounts",
				Source: source([]string{"login", "active", "note"},
					[]any{"bob", "true", "live"},
					[]any{"bob", "false", "old"},
				),
			}}, Options{Lookup: lookup})
			require.NoError(t, err)

			tp, _ := plan.Table("accounts")
			require.Empty(t, tp.Errors)
			require.Len(t, tp.Ops, 2)
			// The inactive row is outside the index filter and has no other
			// usable identity, so it is new.
			assert.Equal(t, 1, tp.Count(OpInsert))
			require.Equal(t, 1, tp.Count(OpUpdate))

			for _, op := range tp.Ops {
				if op.Kind != OpUpdate {
					continue
				}
				assert.Equal(t, "{id=1}", op.Identity.String())
				assert.Equal(t, record.Row{"note": "live"}, op.Values)
			}
		})
	}
}

// TestPlan_ConversionError tests that a value that cannot be converted is
// reported with its row.
func TestPlan_ConversionError(t *testing.T) {
	spec, _ := newSpec(t)

	plan, err := Plan(context.Background(), spec, []Job{{
		Table:  "orders",
		Source: source([]string{"id", "customer_id", "total"}, []any{"1", "1", "abc"}),
	}}, Options{})
	require.NoError(t, err)

	tp, _ := plan.Table("orders")
	require.Len(t, tp.Errors, 1)
	var convErr *convert.ConversionError
	require.ErrorAs(t, tp.Errors[0], &convErr)
	assert.Equal(t, "total", convErr.Column)
	assert.Equal(t, "input.csv:1", tp.Errors[0].Provenance.String())
}

// TestPlan_InvalidJobs tests the errors that fail the whole call.
func TestPlan_InvalidJobs(t *testing.T) {
	spec, _ := newSpec(t)
	ctx := context.Background()

	_, err := Plan(ctx, spec, []Job{{Table: "nope", Source: source([]string{"id"})}}, Options{})
	var schemaErr *schema.SchemaError
	assert.ErrorAs(t, err, &schemaErr)

	_, err = Plan(ctx, spec, []Job{
		{Table: "tags", Source: source([]string{"id"})},
		{Table: "tags", Source: source([]string{"id"})},
	}, Options{})
	assert.ErrorAs(t, err, &schemaErr)

	_, err = Plan(ctx, spec, []Job{{Table: "tags"}}, Options{})
	assert.Error(t, err)
}
