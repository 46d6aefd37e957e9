package warehouse

import (
	"context"
	"fmt"
	"time"

	"salesetl/pkg/errors"
	"salesetl/pkg/models"
)

// Reasons a sale does not reach fact_sales, in resolution order.
const (
	DropCustomer = "customer"
	DropProduct  = "product"
	DropOrder    = "order"
	DropDate     = "date"
)

var factColumns = []string{
	"customer_key", "product_key", "order_key", "date_key",
	"quantity", "unit_price", "total_price", "source",
}

// FactLoadResult summarizes one fact rebuild.
type FactLoadResult struct {
	Inserted int            `json:"inserted"`
	Dropped  map[string]int `json:"dropped"`
	Failed   int            `json:"failed"`
}

// DroppedTotal sums drops over every reason.
func (r *FactLoadResult) DroppedTotal() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}

// FactLoader rebuilds fact_sales from a run's enriched sales.
type FactLoader struct {
	wh        *Warehouse
	batchSize int
}

func NewFactLoader(wh *Warehouse, batchSize int) *FactLoader {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &FactLoader{wh: wh, batchSize: batchSize}
}

type keyMaps struct {
	customers map[int64]int64
	products  map[int64]int64
	orders    map[int64]int64
	dates     map[int64]bool
}

// Load empties fact_sales, then inserts every sale whose customer,
// product, order and date resolve to surrogate keys. A failing batch is
// retried row by row so one bad row does not cost its neighbours.
func (f *FactLoader) Load(ctx context.Context, sales []models.EnrichedSale) (*FactLoadResult, error) {
	logger := f.wh.logger.WithField("table", TableFact)
	start := time.Now()

	cleanup := f.wh.dialect.Cleanup()
	if _, err := f.wh.db.ExecContext(ctx, cleanup); err != nil {
		return nil, errors.SQLError(errors.ErrCodeFactRebuild, "Failed to clean fact table", cleanup, err)
	}
	logger.Debug("Fact table cleaned")

	keys, err := f.loadKeys(ctx)
	if err != nil {
		return nil, err
	}

	result := &FactLoadResult{Dropped: map[string]int{}}
	rows := make([]models.FactSaleRow, 0, len(sales))
	for _, sale := range sales {
		row, reason := keys.resolve(sale)
		if reason != "" {
			result.Dropped[reason]++
			logger.DebugWithFields("Sale dropped", map[string]interface{}{
				"sale_id": sale.ID,
				"reason":  reason,
			})
			continue
		}
		rows = append(rows, row)
	}

	if dropped := result.DroppedTotal(); dropped > 0 {
		fields := map[string]interface{}{"dropped": dropped}
		for reason, n := range result.Dropped {
			fields["missing_"+reason] = n
		}
		logger.WarnWithFields("Sales dropped for unresolved keys", fields)
	}

	for _, span := range chunk(len(rows), f.batchSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch := rows[span[0]:span[1]]
		err := f.insert(ctx, batch)
		if err == nil {
			result.Inserted += len(batch)
			continue
		}
		logger.WithError(err).WarnWithFields("Fact batch failed, retrying row by row", map[string]interface{}{
			"batch_start": span[0],
			"batch_size":  len(batch),
		})

		for i := range batch {
			if err := f.insert(ctx, batch[i:i+1]); err != nil {
				result.Failed++
				logger.WithError(err).Debug("Fact row failed")
				continue
			}
			result.Inserted++
		}
	}

	if result.Failed > 0 {
		logger.ErrorWithFields("Fact rows failed to insert", map[string]interface{}{"failed": result.Failed})
	}
	logger.InfoWithFields("Fact table rebuilt", map[string]interface{}{
		"inserted": result.Inserted,
		"dropped":  result.DroppedTotal(),
		"failed":   result.Failed,
		"duration": time.Since(start).String(),
	})
	return result, nil
}

func (f *FactLoader) insert(ctx context.Context, rows []models.FactSaleRow) error {
	values := make([][]interface{}, len(rows))
	for i, r := range rows {
		values[i] = []interface{}{
			r.CustomerKey, r.ProductKey, r.OrderKey, r.DateKey,
			r.Quantity, r.UnitPrice, r.TotalPrice, r.Source,
		}
	}
	query, args := f.wh.dialect.Insert(TableFact, factColumns, values)
	if _, err := f.wh.db.ExecContext(ctx, query, args...); err != nil {
		return errors.SQLError(errors.ErrCodeFactInsert, "Failed to insert facts", query, err)
	}
	return nil
}

func (f *FactLoader) loadKeys(ctx context.Context) (*keyMaps, error) {
	var err error
	keys := &keyMaps{}
	if keys.customers, err = f.surrogates(ctx, TableCustomer, "customerid", "customer_key"); err != nil {
		return nil, err
	}
	if keys.products, err = f.surrogates(ctx, TableProduct, "productid", "product_key"); err != nil {
		return nil, err
	}
	if keys.orders, err = f.surrogates(ctx, TableOrder, "orderid", "order_key"); err != nil {
		return nil, err
	}
	dates, err := f.surrogates(ctx, TableDate, "date_key", "date_key")
	if err != nil {
		return nil, err
	}
	keys.dates = make(map[int64]bool, len(dates))
	for k := range dates {
		keys.dates[k] = true
	}
	return keys, nil
}

// surrogates maps natural keys to surrogate keys for one dimension.
func (f *FactLoader) surrogates(ctx context.Context, table, natural, surrogate string) (map[int64]int64, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", natural, surrogate, table)
	rows, err := f.wh.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.SQLError(errors.ErrCodeKeyLookup, fmt.Sprintf("Failed to read %s keys", table), query, err).
			WithContext("table", table)
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var n, s int64
		if err := rows.Scan(&n, &s); err != nil {
			return nil, errors.SQLError(errors.ErrCodeKeyLookup, fmt.Sprintf("Failed to scan %s keys", table), query, err)
		}
		out[n] = s
	}
	if err := rows.Err(); err != nil {
		return nil, errors.SQLError(errors.ErrCodeKeyLookup, fmt.Sprintf("Failed to read %s keys", table), query, err)
	}
	return out, nil
}

// resolve returns the fact row for sale, or the first dimension that
// failed to resolve.
func (k *keyMaps) resolve(sale models.EnrichedSale) (models.FactSaleRow, string) {
	customer, ok := k.customers[sale.CustomerID]
	if !ok {
		return models.FactSaleRow{}, DropCustomer
	}
	product, ok := k.products[sale.ProductID]
	if !ok {
		return models.FactSaleRow{}, DropProduct
	}
	order, ok := k.orders[sale.OrderID]
	if !ok {
		return models.FactSaleRow{}, DropOrder
	}
	if sale.OrderDate.IsZero() {
		return models.FactSaleRow{}, DropDate
	}
	dateKey := models.DateKey(sale.OrderDate)
	if !k.dates[dateKey] {
		return models.FactSaleRow{}, DropDate
	}

	return models.FactSaleRow{
		CustomerKey: customer,
		ProductKey:  product,
		OrderKey:    order,
		DateKey:     dateKey,
		Quantity:    sale.Quantity,
		UnitPrice:   sale.Price,
		TotalPrice:  sale.TotalPrice,
		Source:      sale.Source,
	}, ""
}
