package database

import (
	"context"
	"testing"

	"pgmerge/core/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestIntrospect_SQLite(t *testing.T) {
	db, err := Connect(Config{Driver: DriverSQLite, Name: ":memory:"})
	require.NoError(t, err)
	defer Close(db)

	stmts := []string{
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			referred_by INTEGER REFERENCES customers(id),
			deleted_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX customers_live_email ON customers(email) WHERE deleted_at IS NULL`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			customer_id INTEGER NOT NULL REFERENCES customers,
			total NUMERIC(10,2)
		)`,
	}
	for _, s := range stmts {
		require.NoError(t, db.Exec(s).Error)
	}

	cat, err := Introspect(context.Background(), db, "main")
	require.NoError(t, err)
	require.Len(t, cat.Tables, 2)

	customers, ok := cat.Table("customers")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, customers.PrimaryKey)
	require.Len(t, customers.Columns, 4)
	assert.Equal(t, schema.ColumnDef{Name: "id", Type: "integer", Nullable: false}, customers.Columns[0])
	assert.Equal(t, schema.ColumnDef{Name: "email", Type: "text", Nullable: false}, customers.Columns[1])
	assert.True(t, customers.Columns[2].Nullable)

	require.Len(t, customers.Uniques, 2)
	var partial *schema.UniqueDef
	for i := range customers.Uniques {
		assert.Equal(t, []string{"email"}, customers.Uniques[i].Columns)
		if customers.Uniques[i].Name == "customers_live_email" {
			partial = &customers.Uniques[i]
		}
	}
	require.NotNil(t, partial)
	assert.Equal(t, "deleted_at IS NULL", partial.Predicate)

	require.Len(t, customers.ForeignKeys, 1)
	assert.Equal(t, "customers", customers.ForeignKeys[0].RefTable)

	orders, _ := cat.Table("orders")
	require.Len(t, orders.ForeignKeys, 1)
	fk := orders.ForeignKeys[0]
	assert.Equal(t, []string{"customer_id"}, fk.Columns)
	assert.Equal(t, []string{"id"}, fk.RefColumns)
	assert.Equal(t, "numeric(10,2)", orders.Columns[2].Type)

	// The catalog must build into a graph with the partial index as a
	// conditional identity.
	g, err := schema.Build(cat)
	require.NoError(t, err)
	order, err := g.OrderNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, order)
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

func TestIntrospect_MySQL(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "COLUMN_TYPE", "IS_NULLABLE"}).
			AddRow("customers", "id", "INT(11)", "NO").
			AddRow("customers", "email", "varchar(255)", "NO").
			AddRow("orders", "id", "int", "NO").
			AddRow("orders", "customer_id", "int", "YES"))

	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "INDEX_NAME", "COLUMN_NAME"}).
			AddRow("customers", "PRIMARY", "id").
			AddRow("customers", "email_key", "email").
			AddRow("orders", "PRIMARY", "id"))

	mock.ExpectQuery("FROM information_schema.KEY_COLUMN_USAGE").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "TABLE_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}).
			AddRow("orders_customer_fk", "orders", "customer_id", "customers", "id"))

	cat, err := Introspect(context.Background(), db, "shop")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "shop", cat.Schema)
	require.Len(t, cat.Tables, 2)

	customers, _ := cat.Table("customers")
	assert.Equal(t, []string{"id"}, customers.PrimaryKey)
	assert.Equal(t, "int(11)", customers.Columns[0].Type)
	assert.Equal(t, []schema.UniqueDef{{Name: "email_key", Columns: []string{"email"}}}, customers.Uniques)

	orders, _ := cat.Table("orders")
	assert.True(t, orders.Columns[1].Nullable)
	assert.Equal(t, []schema.ForeignKeyDef{{
		Name:       "orders_customer_fk",
		Columns:    []string{"customer_id"},
		RefTable:   "customers",
		RefColumns: []string{"id"},
	}}, orders.ForeignKeys)
}

func TestIntrospect_MySQLError(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery("FROM information_schema.COLUMNS").WillReturnError(assert.AnError)

	_, err := Introspect(context.Background(), db, "shop")
	assert.ErrorIs(t, err, assert.AnError)
}
