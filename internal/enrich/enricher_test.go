package enrich

import (
	"bytes"
	"testing"
	"time"

	"salesetl/internal/observability"
	"salesetl/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC)

func newTestEnricher(opts Options) (*Enricher, *bytes.Buffer) {
	var buf bytes.Buffer
	opts.Clock = func() time.Time { return fixedNow }
	logger := observability.NewLogger(observability.LoggerConfig{Level: observability.DebugLevel, Output: &buf})
	return New(opts, logger), &buf
}

func date(s string) models.Date {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestEnrichEndToEndScenario(t *testing.T) {
	e, _ := newTestEnricher(Options{})

	sales := e.Enrich("files", Input{
		Customers: []models.CustomerRecord{{CustomerID: 1, FirstName: "Ana"}},
		Products:  []models.ProductRecord{{ProductID: 10, ProductName: "Widget", Price: decimal.RequireFromString("5.00")}},
		Details:   []models.OrderDetailRecord{{OrderID: 100, ProductID: 10, Quantity: 2, TotalPrice: decimal.RequireFromString("10.00")}},
	})

	require.Len(t, sales, 1)
	s := sales[0]
	assert.Equal(t, int64(10), s.ProductID)
	assert.Equal(t, int64(2), s.Quantity)
	assert.True(t, s.TotalPrice.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, "Widget", s.ProductName)
	assert.True(t, s.Price.Valid)
	assert.Equal(t, int64(1), s.CustomerID)
	assert.True(t, s.CustomerInferred)
	assert.Equal(t, "Ana", s.FirstName)
	assert.Equal(t, "files", s.Source)
	assert.Equal(t, fixedNow, s.CreatedDate)
}

func TestEnrichOneSalePerDetail(t *testing.T) {
	e, _ := newTestEnricher(Options{})

	details := []models.OrderDetailRecord{
		{OrderID: 1, ProductID: 10, Quantity: 1},
		{OrderID: 1, ProductID: 10, Quantity: 1}, // exact duplicate line
		{OrderID: 2, ProductID: 99, Quantity: 3},
		{OrderID: 3, ProductID: 11, Quantity: 4},
	}
	sales := e.Enrich("files", Input{Details: details})

	require.Len(t, sales, len(details))
	ids := map[string]bool{}
	for i, s := range sales {
		assert.False(t, ids[s.ID], "duplicate id %s", s.ID)
		ids[s.ID] = true
		assert.Equal(t, details[i].OrderID, s.OrderID)
		assert.Equal(t, details[i].Quantity, s.Quantity)
	}
	assert.Equal(t, "files:1:10:0", sales[0].ID)
	assert.Equal(t, "files:1:10:1", sales[1].ID)
}

func TestEnrichEmptyDetails(t *testing.T) {
	e, _ := newTestEnricher(Options{})
	sales := e.Enrich("files", Input{Customers: []models.CustomerRecord{{CustomerID: 1}}})
	assert.NotNil(t, sales)
	assert.Empty(t, sales)
}

func TestEnrichLookupMissesLeaveFieldsEmpty(t *testing.T) {
	e, _ := newTestEnricher(Options{})

	sales := e.Enrich("api", Input{
		Customers: []models.CustomerRecord{{CustomerID: 5, FirstName: "Luis"}},
		Orders:    []models.OrderRecord{{OrderID: 7, CustomerID: 42, OrderDate: date("2024-01-02")}},
		Details:   []models.OrderDetailRecord{{OrderID: 7, ProductID: 404, Quantity: 1}},
	})

	require.Len(t, sales, 1)
	s := sales[0]
	assert.Equal(t, int64(42), s.CustomerID, "order customer is used even when the customer is unknown")
	assert.False(t, s.CustomerInferred)
	assert.Empty(t, s.FirstName)
	assert.Empty(t, s.ProductName)
	assert.Empty(t, s.Category)
	assert.False(t, s.Price.Valid)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), s.OrderDate)
	assert.False(t, s.OrderDateSynthesized)
}

func TestEnrichCustomerFallback(t *testing.T) {
	customers := []models.CustomerRecord{{CustomerID: 30}, {CustomerID: 10}, {CustomerID: 20}, {CustomerID: 30}}

	tests := []struct {
		name      string
		opts      Options
		customers []models.CustomerRecord
		orderID   int64
		want      int64
		inferred  bool
	}{
		{name: "modulo uses first-appearance order", customers: customers, orderID: 4, want: 10, inferred: true},
		{name: "modulo wraps", customers: customers, orderID: 6, want: 30, inferred: true},
		{name: "negative order id", customers: customers, orderID: -5, want: 20, inferred: true},
		{name: "no customers uses default", orderID: 9, want: 1, inferred: true},
		{name: "configured default", opts: Options{DefaultCustomerID: 77}, orderID: 9, want: 77, inferred: true},
		{name: "none leaves customer unset", opts: Options{CustomerFallback: FallbackNone}, customers: customers, orderID: 4, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, logs := newTestEnricher(tt.opts)
			sales := e.Enrich("files", Input{
				Customers: tt.customers,
				Details:   []models.OrderDetailRecord{{OrderID: tt.orderID, ProductID: 1}},
			})
			require.Len(t, sales, 1)
			assert.Equal(t, tt.want, sales[0].CustomerID)
			assert.Equal(t, tt.inferred, sales[0].CustomerInferred)
			if tt.inferred {
				assert.Contains(t, logs.String(), `"inferred":1`)
			}
		})
	}
}

func TestEnrichSynthesizedDates(t *testing.T) {
	e, _ := newTestEnricher(Options{DateWindowDays: 30})

	details := []models.OrderDetailRecord{
		{OrderID: 500, ProductID: 1},
		{OrderID: 500, ProductID: 2},
		{OrderID: 501, ProductID: 1},
	}
	first := e.Enrich("files", Input{Details: details})
	second := e.Enrich("files", Input{Details: details})

	anchor := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	for i, s := range first {
		assert.True(t, s.OrderDateSynthesized)
		assert.True(t, s.OrderDate.Before(anchor), "date %s must be in the past", s.OrderDate)
		assert.False(t, s.OrderDate.Before(anchor.AddDate(0, 0, -30)), "date %s outside window", s.OrderDate)
		assert.Equal(t, s.OrderDate, second[i].OrderDate, "dates are stable across runs on the same day")
	}
	assert.Equal(t, first[0].OrderDate, first[1].OrderDate, "lines of one order share a date")
}

func TestEnrichLastWriteWinsOnRepeatedKeys(t *testing.T) {
	e, _ := newTestEnricher(Options{})

	sales := e.Enrich("files", Input{
		Products: []models.ProductRecord{
			{ProductID: 1, ProductName: "Old"},
			{ProductID: 1, ProductName: "New"},
		},
		Orders:  []models.OrderRecord{{OrderID: 1, CustomerID: 1}},
		Details: []models.OrderDetailRecord{{OrderID: 1, ProductID: 1}},
	})
	require.Len(t, sales, 1)
	assert.Equal(t, "New", sales[0].ProductName)
}
