// Package testutil holds fixtures shared by package and command tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"salesetl/internal/common"
)

// ScenarioFiles is the smallest complete extract: one customer, one
// product and one order line for order 100. There is no orders.csv.
func ScenarioFiles() map[string]string {
	return map[string]string{
		"customers.csv":     "id,name\n1,Ana\n",
		"products.csv":      "id,name,price\n10,Widget,5.00\n",
		"order_details.csv": "orderId,productId,qty,total\n100,10,2,10.00\n",
	}
}

// WriteFiles writes name to content pairs into dir, creating it if needed.
func WriteFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, common.DirPermissionSecure); err != nil {
		t.Fatalf("Failed to create %s: %v", dir, err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), common.FilePermissionSecure); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}
