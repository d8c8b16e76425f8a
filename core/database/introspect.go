package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"pgmerge/core/schema"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Introspect reads tables, columns, primary keys, unique constraints (with
// partial-index predicates where the database has them) and foreign keys of
// one schema into a catalog. Tables are returned in name order.
func Introspect(ctx context.Context, db *gorm.DB, schemaName string) (*schema.Catalog, error) {
	db = db.WithContext(ctx)

	var (
		cat *schema.Catalog
		err error
	)
	switch db.Dialector.Name() {
	case DriverPostgres:
		cat, err = introspectPostgres(db, schemaName)
	case DriverMySQL:
		cat, err = introspectMySQL(db, schemaName)
	case DriverSQLite:
		cat, err = introspectSQLite(db)
	default:
		return nil, fmt.Errorf("introspection not supported for %s", db.Dialector.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to introspect schema %s: %w", schemaName, err)
	}
	return cat, nil
}

// catalogBuilder collects introspection rows per table, keeping first-seen
// table order.
type catalogBuilder struct {
	cat   *schema.Catalog
	index map[string]int
}

func newCatalogBuilder(schemaName string) *catalogBuilder {
	return &catalogBuilder{cat: &schema.Catalog{Schema: schemaName}, index: make(map[string]int)}
}

func (b *catalogBuilder) table(name string) *schema.TableDef {
	i, ok := b.index[name]
	if !ok {
		i = len(b.cat.Tables)
		b.index[name] = i
		b.cat.Tables = append(b.cat.Tables, schema.TableDef{Name: name})
	}
	return &b.cat.Tables[i]
}

// known returns the table only if it was already listed.
func (b *catalogBuilder) known(name string) (*schema.TableDef, bool) {
	i, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return &b.cat.Tables[i], true
}

const pgColumnsQuery = `
SELECT c.relname, a.attname, format_type(a.atttypid, a.atttypmod), NOT a.attnotnull
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = ? AND c.relkind IN ('r', 'p') AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY c.relname, a.attnum`

const pgIndexesQuery = `
SELECT c.relname, i.relname, ix.indisprimary,
       array(SELECT a.attname FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
             JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
             ORDER BY k.ord)::text[],
       coalesce(pg_get_expr(ix.indpred, ix.indrelid), '')
FROM pg_index ix
JOIN pg_class c ON c.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = ? AND ix.indisunique AND ix.indexprs IS NULL
ORDER BY c.relname, ix.indisprimary DESC, i.relname`

const pgForeignKeysQuery = `
SELECT con.conname, src.relname, dst.relname,
       array(SELECT a.attname FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
             JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
             ORDER BY k.ord)::text[],
       array(SELECT a.attname FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
             JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
             ORDER BY k.ord)::text[]
FROM pg_constraint con
JOIN pg_class src ON src.oid = con.conrelid
JOIN pg_class dst ON dst.oid = con.confrelid
JOIN pg_namespace n ON n.oid = src.relnamespace
WHERE con.contype = 'f' AND n.nspname = ?
ORDER BY src.relname, con.conname`

func introspectPostgres(db *gorm.DB, schemaName string) (*schema.Catalog, error) {
	b := newCatalogBuilder(schemaName)

	err := eachRow(db, pgColumnsQuery, []any{schemaName}, func(rows *sql.Rows) error {
		var table string
		var col schema.ColumnDef
		if err := rows.Scan(&table, &col.Name, &col.Type, &col.Nullable); err != nil {
			return err
		}
		t := b.table(table)
		t.Columns = append(t.Columns, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	err = eachRow(db, pgIndexesQuery, []any{schemaName}, func(rows *sql.Rows) error {
		var (
			table, name, predicate string
			primary                bool
			columns                []string
		)
		if err := rows.Scan(&table, &name, &primary, pq.Array(&columns), &predicate); err != nil {
			return err
		}
		t, ok := b.known(table)
		if !ok {
			return nil
		}
		if primary {
			t.PrimaryKey = columns
			return nil
		}
		t.Uniques = append(t.Uniques, uniqueDef(name, columns, predicate))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}

	err = eachRow(db, pgForeignKeysQuery, []any{schemaName}, func(rows *sql.Rows) error {
		var (
			fk    schema.ForeignKeyDef
			table string
		)
		if err := rows.Scan(&fk.Name, &table, &fk.RefTable, pq.Array(&fk.Columns), pq.Array(&fk.RefColumns)); err != nil {
			return err
		}
		if t, ok := b.known(table); ok {
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}

	return b.cat, nil
}

const mysqlColumnsQuery = `
SELECT c.TABLE_NAME, c.COLUMN_NAME, c.COLUMN_TYPE, c.IS_NULLABLE
FROM information_schema.COLUMNS c
JOIN information_schema.TABLES t ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
WHERE c.TABLE_SCHEMA = ? AND t.TABLE_TYPE = 'BASE TABLE'
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

const mysqlIndexesQuery = `
SELECT TABLE_NAME, INDEX_NAME, COLUMN_NAME
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = ? AND NON_UNIQUE = 0
ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX`

const mysqlForeignKeysQuery = `
SELECT CONSTRAINT_NAME, TABLE_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
FROM information_schema.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME IS NOT NULL
ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION`

func introspectMySQL(db *gorm.DB, schemaName string) (*schema.Catalog, error) {
	b := newCatalogBuilder(schemaName)

	err := eachRow(db, mysqlColumnsQuery, []any{schemaName}, func(rows *sql.Rows) error {
		var table, nullable string
		var col schema.ColumnDef
		if err := rows.Scan(&table, &col.Name, &col.Type, &nullable); err != nil {
			return err
		}
		col.Type = strings.ToLower(col.Type)
		col.Nullable = strings.EqualFold(nullable, "YES")
		t := b.table(table)
		t.Columns = append(t.Columns, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	type indexKey struct{ table, name string }
	var order []indexKey
	indexColumns := make(map[indexKey][]string)
	err = eachRow(db, mysqlIndexesQuery, []any{schemaName}, func(rows *sql.Rows) error {
		var k indexKey
		var column string
		if err := rows.Scan(&k.table, &k.name, &column); err != nil {
			return err
		}
		if _, seen := indexColumns[k]; !seen {
			order = append(order, k)
		}
		indexColumns[k] = append(indexColumns[k], column)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}
	for _, k := range order {
		t, ok := b.known(k.table)
		if !ok {
			continue
		}
		if k.name == "PRIMARY" {
			t.PrimaryKey = indexColumns[k]
			continue
		}
		t.Uniques = append(t.Uniques, schema.UniqueDef{Name: k.name, Columns: indexColumns[k]})
	}

	fks := make(map[indexKey]*schema.ForeignKeyDef)
	var fkOrder []indexKey
	err = eachRow(db, mysqlForeignKeysQuery, []any{schemaName}, func(rows *sql.Rows) error {
		var k indexKey
		var column, refTable, refColumn string
		if err := rows.Scan(&k.name, &k.table, &column, &refTable, &refColumn); err != nil {
			return err
		}
		fk, ok := fks[k]
		if !ok {
			fk = &schema.ForeignKeyDef{Name: k.name, RefTable: refTable}
			fks[k] = fk
			fkOrder = append(fkOrder, k)
		}
		fk.Columns = append(fk.Columns, column)
		fk.RefColumns = append(fk.RefColumns, refColumn)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	for _, k := range fkOrder {
		if t, ok := b.known(k.table); ok {
			t.ForeignKeys = append(t.ForeignKeys, *fks[k])
		}
	}

	return b.cat, nil
}

type sqliteColumn struct {
	Cid       int
	Name      string
	Type      string
	Notnull   int
	DfltValue *string
	Pk        int
}

type sqliteIndex struct {
	Seq     int
	Name    string
	Unique  int
	Origin  string
	Partial int
}

type sqliteIndexColumn struct {
	Seqno int
	Cid   int
	Name  string
}

type sqliteForeignKey struct {
	ID    int
	Seq   int
	Table string
	From  string
	To    *string
}

// whereClause extracts the predicate of a CREATE INDEX statement.
var whereClause = regexp.MustCompile(`(?is)\bWHERE\b(.*)$`)

func introspectSQLite(db *gorm.DB) (*schema.Catalog, error) {
	b := newCatalogBuilder("main")

	var tables []string
	err := db.Raw("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name").
		Scan(&tables).Error
	if err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}

	for _, name := range tables {
		t := b.table(name)

		var cols []sqliteColumn
		if err := db.Raw(fmt.Sprintf("PRAGMA table_info(%s)", quoteLiteral(name))).Scan(&cols).Error; err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		var pk []sqliteColumn
		for _, c := range cols {
			t.Columns = append(t.Columns, schema.ColumnDef{
				Name:     c.Name,
				Type:     strings.ToLower(c.Type),
				Nullable: c.Notnull == 0 && c.Pk == 0,
			})
			if c.Pk > 0 {
				pk = append(pk, c)
			}
		}
		sort.Slice(pk, func(i, j int) bool { return pk[i].Pk < pk[j].Pk })
		for _, c := range pk {
			t.PrimaryKey = append(t.PrimaryKey, c.Name)
		}

		var indexes []sqliteIndex
		if err := db.Raw(fmt.Sprintf("PRAGMA index_list(%s)", quoteLiteral(name))).Scan(&indexes).Error; err != nil {
			return nil, fmt.Errorf("indexes of %s: %w", name, err)
		}
		sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })
		for _, ix := range indexes {
			if ix.Unique == 0 || ix.Origin == "pk" {
				continue
			}
			var ixCols []sqliteIndexColumn
			if err := db.Raw(fmt.Sprintf("PRAGMA index_info(%s)", quoteLiteral(ix.Name))).Scan(&ixCols).Error; err != nil {
				return nil, fmt.Errorf("index %s: %w", ix.Name, err)
			}
			sort.Slice(ixCols, func(i, j int) bool { return ixCols[i].Seqno < ixCols[j].Seqno })
			columns := make([]string, 0, len(ixCols))
			expression := false
			for _, c := range ixCols {
				if c.Cid < 0 {
					expression = true
				}
				columns = append(columns, c.Name)
			}
			if expression {
				continue
			}

			predicate := ""
			if ix.Partial == 1 {
				var ddl string
				if err := db.Raw("SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?", ix.Name).Scan(&ddl).Error; err != nil {
					return nil, fmt.Errorf("index %s: %w", ix.Name, err)
				}
				if m := whereClause.FindStringSubmatch(ddl); m != nil {
					predicate = strings.TrimSpace(m[1])
				}
			}
			t.Uniques = append(t.Uniques, uniqueDef(ix.Name, columns, predicate))
		}

		var fkRows []sqliteForeignKey
		if err := db.Raw(fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteLiteral(name))).Scan(&fkRows).Error; err != nil {
			return nil, fmt.Errorf("foreign keys of %s: %w", name, err)
		}
		sort.SliceStable(fkRows, func(i, j int) bool {
			if fkRows[i].ID != fkRows[j].ID {
				return fkRows[i].ID < fkRows[j].ID
			}
			return fkRows[i].Seq < fkRows[j].Seq
		})
		byID := make(map[int]int)
		for _, r := range fkRows {
			i, ok := byID[r.ID]
			if !ok {
				i = len(t.ForeignKeys)
				byID[r.ID] = i
				t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKeyDef{
					Name:     fmt.Sprintf("%s_fk%d", name, r.ID),
					RefTable: r.Table,
				})
			}
			fk := &t.ForeignKeys[i]
			fk.Columns = append(fk.Columns, r.From)
			to := ""
			if r.To != nil {
				to = *r.To
			}
			fk.RefColumns = append(fk.RefColumns, to)
		}
	}

	// A foreign key without target columns references the primary key.
	for i := range b.cat.Tables {
		for j := range b.cat.Tables[i].ForeignKeys {
			fk := &b.cat.Tables[i].ForeignKeys[j]
			ref, ok := b.known(fk.RefTable)
			if !ok || len(ref.PrimaryKey) != len(fk.Columns) {
				continue
			}
			for k, c := range fk.RefColumns {
				if c == "" {
					fk.RefColumns[k] = ref.PrimaryKey[k]
				}
			}
		}
	}

	return b.cat, nil
}

// uniqueDef builds a unique definition. The graph builder parses the
// predicate of a partial index and reports it when it cannot.
func uniqueDef(name string, columns []string, predicate string) schema.UniqueDef {
	return schema.UniqueDef{Name: name, Columns: columns, Predicate: predicate}
}

func eachRow(db *gorm.DB, query string, args []any, fn func(*sql.Rows) error) error {
	rows, err := db.Raw(query, args...).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
