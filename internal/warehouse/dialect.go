package warehouse

import (
	"fmt"
	"strings"
	"time"

	"salesetl/pkg/errors"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

// Dialect builds the warehouse-specific statements the loaders need.
type Dialect interface {
	Name() string
	DriverName() string
	// Configure tunes the pool for the engine.
	Configure(db *sqlx.DB)
	// Upsert inserts rows keyed by key, overwriting every other column on
	// conflict. rows must not repeat a key.
	Upsert(table, key string, cols []string, rows [][]interface{}) (string, []interface{})
	Insert(table string, cols []string, rows [][]interface{}) (string, []interface{})
	// Cleanup empties the fact table.
	Cleanup() string
}

// DialectFor returns the dialect for a configured driver. A non-empty
// cleanup overrides the dialect's fact cleanup statement.
func DialectFor(driver, cleanup string) (Dialect, error) {
	var d Dialect
	switch driver {
	case "postgres":
		d = &builderDialect{name: "postgres", flavor: sqlbuilder.PostgreSQL,
			cleanup: "SELECT cleanup_fact_sales()"}
	case "sqlite3":
		d = &builderDialect{name: "sqlite3", flavor: sqlbuilder.SQLite,
			cleanup: "DELETE FROM fact_sales", singleConn: true}
	case "snowflake":
		d = &snowflakeDialect{cleanup: "TRUNCATE TABLE fact_sales"}
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported warehouse driver %q", driver), "warehouse.driver")
	}
	if cleanup != "" {
		d = withCleanup{Dialect: d, statement: cleanup}
	}
	return d, nil
}

type withCleanup struct {
	Dialect
	statement string
}

func (w withCleanup) Cleanup() string { return w.statement }

// builderDialect covers engines with INSERT ... ON CONFLICT.
type builderDialect struct {
	name       string
	flavor     sqlbuilder.Flavor
	cleanup    string
	singleConn bool
}

func (d *builderDialect) Name() string       { return d.name }
func (d *builderDialect) DriverName() string { return d.name }
func (d *builderDialect) Cleanup() string    { return d.cleanup }

func (d *builderDialect) Configure(db *sqlx.DB) {
	if d.singleConn {
		// sqlite allows one writer; loaders queue on the single connection.
		db.SetMaxOpenConns(1)
		return
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)
}

func (d *builderDialect) Insert(table string, cols []string, rows [][]interface{}) (string, []interface{}) {
	ib := d.flavor.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(cols...)
	for _, row := range rows {
		ib.Values(row...)
	}
	return ib.Build()
}

func (d *builderDialect) Upsert(table, key string, cols []string, rows [][]interface{}) (string, []interface{}) {
	query, args := d.Insert(table, cols, rows)

	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		if col != key {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	if len(updates) == 0 {
		return query + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", key), args
	}
	return query + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", key, strings.Join(updates, ", ")), args
}

// snowflakeDialect upserts with MERGE over a UNION ALL source, since
// Snowflake has no ON CONFLICT.
type snowflakeDialect struct {
	cleanup string
}

func (d *snowflakeDialect) Name() string       { return "snowflake" }
func (d *snowflakeDialect) DriverName() string { return "snowflake" }
func (d *snowflakeDialect) Cleanup() string    { return d.cleanup }

func (d *snowflakeDialect) Configure(db *sqlx.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)
}

func (d *snowflakeDialect) Insert(table string, cols []string, rows [][]interface{}) (string, []interface{}) {
	// gosnowflake binds '?' like MySQL.
	ib := sqlbuilder.MySQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(cols...)
	for _, row := range rows {
		ib.Values(row...)
	}
	return ib.Build()
}

func (d *snowflakeDialect) Upsert(table, key string, cols []string, rows [][]interface{}) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, len(rows)*len(cols))

	fmt.Fprintf(&b, "MERGE INTO %s t USING (", table)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(" UNION ALL ")
		}
		b.WriteString("SELECT ")
		for j, col := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "? AS %s", col)
		}
		args = append(args, row...)
	}
	fmt.Fprintf(&b, ") s ON t.%s = s.%s", key, key)

	var sets, values []string
	for _, col := range cols {
		if col != key {
			sets = append(sets, fmt.Sprintf("t.%s = s.%s", col, col))
		}
		values = append(values, "s."+col)
	}
	if len(sets) > 0 {
		fmt.Fprintf(&b, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.Join(values, ", "))

	return b.String(), args
}
