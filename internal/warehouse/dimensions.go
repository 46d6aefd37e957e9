package warehouse

import (
	"context"
	"fmt"
	"time"

	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	"github.com/jmoiron/sqlx"
)

// DefaultBatchSize caps the rows per upsert or insert statement.
const DefaultBatchSize = 500

// Dimension tables.
const (
	TableCustomer = "dim_customer"
	TableProduct  = "dim_product"
	TableOrder    = "dim_order"
	TableDate     = "dim_date"
	TableFact     = "fact_sales"
)

// DimensionLoader upserts one dimension table keyed by its natural key.
type DimensionLoader[T any] struct {
	wh        *Warehouse
	table     string
	key       string
	cols      []string
	keyOf     func(T) int64
	values    func(T) []interface{}
	batchSize int
}

func (l *DimensionLoader[T]) Table() string { return l.table }

// Load upserts records in batches inside one transaction. Records sharing
// a natural key collapse to the last one. Empty input does not touch the
// database. It returns the number of distinct keys written.
func (l *DimensionLoader[T]) Load(ctx context.Context, records []T) (int, error) {
	records = dedupe(records, l.keyOf)
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	logger := l.wh.logger.WithField("table", l.table)

	err := l.wh.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, span := range chunk(len(records), l.batchSize) {
			rows := make([][]interface{}, 0, span[1]-span[0])
			for _, r := range records[span[0]:span[1]] {
				rows = append(rows, l.values(r))
			}

			query, args := l.wh.dialect.Upsert(l.table, l.key, l.cols, rows)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return errors.SQLError(errors.ErrCodeDimensionUpsert,
					fmt.Sprintf("Failed to upsert %s", l.table), query, err).
					WithContext("table", l.table).
					WithContext("batch_start", span[0])
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.InfoWithFields("Dimension upserted", map[string]interface{}{
		"rows":     len(records),
		"duration": time.Since(start).String(),
	})
	return len(records), nil
}

// dedupe keeps the first-seen position of each key with its last value.
func dedupe[T any](records []T, keyOf func(T) int64) []T {
	if len(records) == 0 {
		return nil
	}
	index := make(map[int64]int, len(records))
	out := make([]T, 0, len(records))
	for _, r := range records {
		k := keyOf(r)
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

func newLoader[T any](wh *Warehouse, batchSize int, table, key string, cols []string,
	keyOf func(T) int64, values func(T) []interface{}) *DimensionLoader[T] {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &DimensionLoader[T]{
		wh:        wh,
		table:     table,
		key:       key,
		cols:      cols,
		keyOf:     keyOf,
		values:    values,
		batchSize: batchSize,
	}
}

func NewCustomerLoader(wh *Warehouse, batchSize int) *DimensionLoader[models.CustomerRecord] {
	return newLoader(wh, batchSize, TableCustomer, "customerid",
		[]string{"customerid", "firstname", "lastname", "email", "phone", "city", "country"},
		func(c models.CustomerRecord) int64 { return c.CustomerID },
		func(c models.CustomerRecord) []interface{} {
			return []interface{}{c.CustomerID, c.FirstName, c.LastName, c.Email, c.Phone, c.City, c.Country}
		})
}

func NewProductLoader(wh *Warehouse, batchSize int) *DimensionLoader[models.ProductRecord] {
	return newLoader(wh, batchSize, TableProduct, "productid",
		[]string{"productid", "productname", "category", "price", "stock"},
		func(p models.ProductRecord) int64 { return p.ProductID },
		func(p models.ProductRecord) []interface{} {
			return []interface{}{p.ProductID, p.ProductName, p.Category, p.Price, p.Stock}
		})
}

func NewOrderLoader(wh *Warehouse, batchSize int) *DimensionLoader[models.OrderRecord] {
	return newLoader(wh, batchSize, TableOrder, "orderid",
		[]string{"orderid", "customerid", "orderdate", "status"},
		func(o models.OrderRecord) int64 { return o.OrderID },
		func(o models.OrderRecord) []interface{} {
			return []interface{}{o.OrderID, o.CustomerID, o.OrderDate, o.Status}
		})
}

// NewDateLoader upserts dim_date. Dates are keyed by their YYYYMMDD key,
// so several times on the same day collapse to one row.
func NewDateLoader(wh *Warehouse, batchSize int) *DimensionLoader[time.Time] {
	return newLoader(wh, batchSize, TableDate, "date_key",
		[]string{"date_key", "full_date", "year", "quarter", "month", "day", "day_of_week"},
		models.DateKey,
		func(t time.Time) []interface{} {
			d := models.NewDate(t)
			return []interface{}{
				models.DateKey(t), d,
				d.Time.Year(), (int(d.Time.Month())-1)/3 + 1, int(d.Time.Month()), d.Time.Day(),
				isoWeekday(d.Time),
			}
		})
}

// SaleDates returns the order dates of sales, one per calendar day.
func SaleDates(sales []models.EnrichedSale) []time.Time {
	seen := make(map[int64]bool, len(sales))
	var out []time.Time
	for _, s := range sales {
		if s.OrderDate.IsZero() {
			continue
		}
		k := models.DateKey(s.OrderDate)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s.OrderDate)
	}
	return out
}

// isoWeekday numbers Monday 1 through Sunday 7.
func isoWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}
