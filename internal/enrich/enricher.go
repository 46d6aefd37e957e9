// Package enrich joins raw order lines against their customer, order and
// product lookups to produce denormalized sales.
package enrich

import (
	"fmt"
	"time"

	"salesetl/internal/observability"
	"salesetl/pkg/models"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

const (
	FallbackModulo = "modulo"
	FallbackNone   = "none"
)

// Options controls how gaps in the source data are filled.
type Options struct {
	// CustomerFallback picks the customer of a line whose order is unknown.
	CustomerFallback string
	// DefaultCustomerID is used by the modulo fallback when no customers exist.
	DefaultCustomerID int64
	// DateWindowDays bounds synthesized order dates to the recent past.
	DateWindowDays int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Input is the raw record set of one source.
type Input struct {
	Customers []models.CustomerRecord
	Products  []models.ProductRecord
	Orders    []models.OrderRecord
	Details   []models.OrderDetailRecord
}

// Enricher turns order details into EnrichedSales. It is stateless between
// calls and safe for concurrent use.
type Enricher struct {
	opts   Options
	logger *observability.Logger
}

func New(opts Options, logger *observability.Logger) *Enricher {
	if opts.CustomerFallback == "" {
		opts.CustomerFallback = FallbackModulo
	}
	if opts.DefaultCustomerID == 0 {
		opts.DefaultCustomerID = 1
	}
	if opts.DateWindowDays < 1 {
		opts.DateWindowDays = 365
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	return &Enricher{opts: opts, logger: logger}
}

// Enrich emits exactly one sale per detail, in input order. Lookup misses
// leave the denormalized fields empty and never drop the line.
func (e *Enricher) Enrich(source string, in Input) []models.EnrichedSale {
	if len(in.Details) == 0 {
		return []models.EnrichedSale{}
	}

	products := make(map[int64]models.ProductRecord, len(in.Products))
	for _, p := range in.Products {
		products[p.ProductID] = p
	}
	customers := make(map[int64]models.CustomerRecord, len(in.Customers))
	customerIDs := make([]int64, 0, len(in.Customers))
	for _, c := range in.Customers {
		if _, seen := customers[c.CustomerID]; !seen {
			customerIDs = append(customerIDs, c.CustomerID)
		}
		customers[c.CustomerID] = c
	}
	orders := make(map[int64]models.OrderRecord, len(in.Orders))
	for _, o := range in.Orders {
		orders[o.OrderID] = o
	}

	now := e.opts.Clock().UTC()
	anchor := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	sales := make([]models.EnrichedSale, 0, len(in.Details))
	var inferred, synthesized int

	for i, d := range in.Details {
		sale := models.EnrichedSale{
			ID:          fmt.Sprintf("%s:%d:%d:%d", source, d.OrderID, d.ProductID, i),
			OrderID:     d.OrderID,
			ProductID:   d.ProductID,
			Quantity:    d.Quantity,
			TotalPrice:  d.TotalPrice,
			Source:      source,
			CreatedDate: now,
		}

		order, hasOrder := orders[d.OrderID]
		if hasOrder {
			sale.CustomerID = order.CustomerID
		} else if e.opts.CustomerFallback == FallbackModulo {
			sale.CustomerID = e.fallbackCustomer(d.OrderID, customerIDs)
			sale.CustomerInferred = true
			inferred++
		}

		if hasOrder && order.OrderDate.Valid {
			sale.OrderDate = order.OrderDate.Time
		} else {
			sale.OrderDate = e.synthesizeDate(d.OrderID, anchor)
			sale.OrderDateSynthesized = true
			synthesized++
		}

		if p, ok := products[d.ProductID]; ok {
			sale.ProductName = p.ProductName
			sale.Category = p.Category
			sale.Price = decimal.NewNullDecimal(p.Price)
		}
		if c, ok := customers[sale.CustomerID]; ok {
			sale.FirstName = c.FirstName
			sale.LastName = c.LastName
			sale.Email = c.Email
		}

		sales = append(sales, sale)
	}

	if inferred > 0 {
		e.logger.WarnWithFields("Customer inferred for order lines without a matching order", map[string]interface{}{
			"source":   source,
			"inferred": inferred,
			"mode":     e.opts.CustomerFallback,
		})
	}
	if synthesized > 0 {
		e.logger.InfoWithFields("Order dates synthesized", map[string]interface{}{
			"source":      source,
			"synthesized": synthesized,
			"window_days": e.opts.DateWindowDays,
		})
	}

	return sales
}

// fallbackCustomer picks customerIDs[|orderID| mod n], in first-appearance
// order, or the default id when there are no customers.
func (e *Enricher) fallbackCustomer(orderID int64, customerIDs []int64) int64 {
	if len(customerIDs) == 0 {
		return e.opts.DefaultCustomerID
	}
	idx := orderID % int64(len(customerIDs))
	if idx < 0 {
		idx = -idx
	}
	return customerIDs[idx]
}

// synthesizeDate maps an order id to a day in [anchor-window, anchor-1].
func (e *Enricher) synthesizeDate(orderID int64, anchor time.Time) time.Time {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(orderID >> (8 * i))
	}
	offset := 1 + int(xxhash.Sum64(buf[:])%uint64(e.opts.DateWindowDays))
	return anchor.AddDate(0, 0, -offset)
}
