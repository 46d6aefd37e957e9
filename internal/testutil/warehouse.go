package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"salesetl/internal/observability"
	"salesetl/internal/warehouse"
	"salesetl/pkg/models"
)

// SQLiteDSN returns a DSN for a fresh database file under t.TempDir().
func SQLiteDSN(t testing.TB) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "warehouse.db") + "?_busy_timeout=5000"
}

// MigrateSQLite applies the star schema to dsn.
func MigrateSQLite(t testing.TB, dsn string) {
	t.Helper()
	mg, err := warehouse.NewMigrator("sqlite3", dsn, observability.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create migrator: %v", err)
	}
	defer mg.Close()
	if err := mg.Up(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
}

// NewWarehouse opens a migrated sqlite warehouse that is closed when the
// test ends.
func NewWarehouse(t testing.TB) *warehouse.Warehouse {
	t.Helper()
	dsn := SQLiteDSN(t)
	MigrateSQLite(t, dsn)

	wh, err := warehouse.Open(context.Background(), models.WarehouseConfig{Driver: "sqlite3"}, dsn, observability.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to open warehouse: %v", err)
	}
	t.Cleanup(func() { _ = wh.Close() })
	return wh
}

// Count returns the number of rows in table.
func Count(t testing.TB, wh *warehouse.Warehouse, table string) int {
	t.Helper()
	var n int
	if err := wh.DB().Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}
