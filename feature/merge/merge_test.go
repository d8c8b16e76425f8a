package merge_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"pgmerge/core/config"
	"pgmerge/core/convert"
	"pgmerge/core/database"
	"pgmerge/core/reconcile"
	"pgmerge/feature/csvsource"
	"pgmerge/feature/merge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(database.Config{
		Driver: database.DriverSQLite,
		Name:   fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE, name TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL REFERENCES customers(id), total NUMERIC(10,2))`,
		`CREATE TABLE audit_log (message TEXT)`,
		`INSERT INTO customers (id, email, name) VALUES (1, 'a@x', 'Alice'), (9, 'gone@x', 'Gone')`,
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestSession_Graph(t *testing.T) {
	db := setupDB(t)

	_, err := merge.NewSession(db, "main", nil, nil).Graph(context.Background())
	assert.Error(t, err, "audit_log has no identity")

	s := merge.NewSession(db, "main", nil, zap.NewNop())
	s.SkipUnidentified = true
	graph, err := s.Graph(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, graph.Names())
	assert.NotEmpty(t, graph.Warnings)

	s = merge.NewSession(db, "main", &config.JobFile{
		Exclude:        []string{"orders"},
		AssertedUnique: []config.AssertedUnique{{Table: "audit_log", Columns: []string{"message"}}},
	}, nil)
	graph, err = s.Graph(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"audit_log", "customers"}, graph.Names())
}

// TestSession_Jobs tests that job file entries claim their inputs and the
// remaining inputs become default jobs.
func TestSession_Jobs(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	dir := writeFiles(t, map[string]string{
		"people.csv":    "id,email,first,last\n1,a@x,Alice,Smith\n2,b@x,Bob,Jones\n",
		"customers.csv": "id,email\n3,c@x\n",
		"orders.csv":    "id,customer_id,total\n10,2,5.00\n",
		"unknown.csv":   "a\n1\n",
	})

	s := merge.NewSession(db, "main", &config.JobFile{
		Exclude: []string{"audit_log"},
		Jobs: []config.JobConfig{{
			Table:   "customers",
			File:    "people.csv",
			Rows:    "exact",
			Columns: "modified",
			Transforms: []convert.TransformSpec{{
				Kind:      "concat",
				Sources:   []string{"first", "last"},
				Targets:   []string{"name"},
				Separator: " ",
			}},
		}},
	}, zap.NewNop())

	graph, err := s.Graph(ctx)
	require.NoError(t, err)
	inputs, err := csvsource.Discover(dir)
	require.NoError(t, err)

	jobs, err := s.Jobs(ctx, graph, inputs)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "customers", jobs[0].Table)
	assert.Equal(t, reconcile.RowsExact, jobs[0].Rows)
	assert.Len(t, jobs[0].Transforms, 1)
	assert.Equal(t, "orders", jobs[1].Table)

	_, report, err := reconcile.Run(ctx, s.Spec(graph), jobs, reconcile.Options{})
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusSuccess, report.Status)

	totals := report.Totals()
	assert.Equal(t, 2, totals.Inserted)
	assert.Equal(t, 1, totals.Updated)
	assert.Equal(t, 1, totals.Deleted)

	var name string
	require.NoError(t, db.Raw("SELECT name FROM customers WHERE id = 1").Scan(&name).Error)
	assert.Equal(t, "Alice Smith", name)
}

// TestSession_PartialIndexOnBoolean tests that a row inside a boolean partial
// unique index filter updates the indexed row instead of inserting a
// duplicate.
func TestSession_PartialIndexOnBoolean(t *testing.T) {
	ctx := context.Background()
	db, err := database.Connect(database.Config{
		Driver: database.DriverSQLite,
		Name:   fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	})
	require.NoError(t, err)
	defer database.Close(db)

	for _, stmt := range []string{
		`CREATE TABLE accounts (id INTEGER PRIMARY KEY, login TEXT NOT NULL, active BOOLEAN NOT NULL, note TEXT)`,
		`CREATE UNIQUE INDEX accounts_live_login ON accounts(login) WHERE active = 1`,
		`INSERT INTO accounts (id, login, active) VALUES (1, 'bob', 1)`,
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}

	s := merge.NewSession(db, "main", nil, nil)
	graph, err := s.Graph(ctx)
	require.NoError(t, err)
	tbl, ok := graph.Table("accounts")
	require.True(t, ok)
	require.Len(t, tbl.Identities, 2)
	assert.True(t, tbl.Identities[1].Condition.Typed())

	inputs, err := csvsource.Discover(writeFiles(t, map[string]string{
		"accounts.csv": "login,active,note\nbob,true,live\n",
	}))
	require.NoError(t, err)
	jobs, err := s.Jobs(ctx, graph, inputs)
	require.NoError(t, err)

	plan, report, err := reconcile.Run(ctx, s.Spec(graph), jobs, reconcile.Options{})
	require.NoError(t, err)
	tp, _ := plan.Table("accounts")
	assert.Equal(t, 1, tp.Count(reconcile.OpUpdate))
	assert.Zero(t, tp.Count(reconcile.OpInsert))
	assert.Equal(t, reconcile.StatusSuccess, report.Status)

	var notes []string
	require.NoError(t, db.Raw("SELECT note FROM accounts").Scan(&notes).Error)
	assert.Equal(t, []string{"live"}, notes)
}

func TestSession_JobsBadTransform(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	dir := writeFiles(t, map[string]string{
		"customers.csv": "id,email\n1,a@x\n",
		"orders.csv":    "id,customer_id,total\n10,1,5.00\n",
	})

	s := merge.NewSession(db, "main", &config.JobFile{
		Exclude: []string{"audit_log"},
		Jobs: []config.JobConfig{
			{Table: "orders"},
			{Table: "customers", Columns: "modified", Transforms: []convert.TransformSpec{{Kind: "explode"}}},
		},
	}, nil)
	graph, err := s.Graph(ctx)
	require.NoError(t, err)
	inputs, err := csvsource.Discover(dir)
	require.NoError(t, err)

	jobs, err := s.Jobs(ctx, graph, inputs)
	var tErr *convert.TransformError
	assert.ErrorAs(t, err, &tErr)
	assert.Nil(t, jobs)
}

func TestDescribe(t *testing.T) {
	db := setupDB(t)
	s := merge.NewSession(db, "main", nil, nil)
	s.SkipUnidentified = true
	graph, err := s.Graph(context.Background())
	require.NoError(t, err)

	info, err := merge.Describe(graph)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, info.Order)
	require.Len(t, info.Tables, 2)
	assert.Equal(t, []string{"id"}, info.Tables[0].Identity)
	assert.Equal(t, []string{"primary:id", "unique:email"}, info.Tables[0].IdentitySets)
	assert.Equal(t, []string{"customers"}, info.Tables[1].DependsOn)
	require.Len(t, info.Edges, 1)
	assert.Equal(t, merge.Edge{From: "orders", To: "customers", On: []string{"customer_id"}, Name: info.Edges[0].Name}, info.Edges[0])

	info, err = merge.Describe(graph, "customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"customers"}, info.Order)
	assert.Empty(t, info.Edges)

	_, err = merge.Describe(graph, "nope")
	assert.Error(t, err)
}
