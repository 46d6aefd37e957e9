package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerRecord is a raw customer as read from a source.
type CustomerRecord struct {
	CustomerID int64  `db:"customerid" json:"customerId"`
	FirstName  string `db:"firstname" json:"firstName"`
	LastName   string `db:"lastname" json:"lastName"`
	Email      string `db:"email" json:"email"`
	Phone      string `db:"phone" json:"phone"`
	City       string `db:"city" json:"city"`
	Country    string `db:"country" json:"country"`
}

// ProductRecord is a raw product as read from a source.
type ProductRecord struct {
	ProductID   int64           `db:"productid" json:"productId"`
	ProductName string          `db:"productname" json:"productName"`
	Category    string          `db:"category" json:"category"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Stock       int64           `db:"stock" json:"stock"`
}

// OrderRecord is a raw order header. CustomerID is not checked against the
// customer set at extraction time.
type OrderRecord struct {
	OrderID    int64  `db:"orderid" json:"orderId"`
	CustomerID int64  `db:"customerid" json:"customerId"`
	OrderDate  Date   `db:"orderdate" json:"orderDate"`
	Status     string `db:"status" json:"status"`
}

// OrderDetailRecord is one order line. It has no dimension of its own and
// seeds exactly one EnrichedSale.
type OrderDetailRecord struct {
	OrderID    int64           `db:"orderid" json:"orderId"`
	ProductID  int64           `db:"productid" json:"productId"`
	Quantity   int64           `db:"quantity" json:"quantity"`
	TotalPrice decimal.Decimal `db:"totalprice" json:"totalPrice"`
}

// EnrichedSale is an order line joined against the customer, order and
// product lookups of its source. Denormalized fields stay empty when the
// lookup misses; the sale itself is never dropped.
//
// ID is unique within one run only and must not be persisted as a key.
type EnrichedSale struct {
	ID         string `json:"id"`
	CustomerID int64  `json:"customerId"`
	OrderID    int64  `json:"orderId"`
	ProductID  int64  `json:"productId"`

	FirstName   string              `json:"firstName,omitempty"`
	LastName    string              `json:"lastName,omitempty"`
	Email       string              `json:"email,omitempty"`
	ProductName string              `json:"productName,omitempty"`
	Category    string              `json:"category,omitempty"`
	Price       decimal.NullDecimal `json:"price"`

	Quantity   int64           `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Source     string          `json:"source"`

	OrderDate            time.Time `json:"orderDate"`
	OrderDateSynthesized bool      `json:"orderDateSynthesized"`
	CustomerInferred     bool      `json:"customerInferred"`
	CreatedDate          time.Time `json:"createdDate"`
}

// FactSaleRow is one fact_sales row. All four keys are warehouse surrogate
// keys resolved at load time.
type FactSaleRow struct {
	CustomerKey int64               `db:"customer_key"`
	ProductKey  int64               `db:"product_key"`
	OrderKey    int64               `db:"order_key"`
	DateKey     int64               `db:"date_key"`
	Quantity    int64               `db:"quantity"`
	UnitPrice   decimal.NullDecimal `db:"unit_price"`
	TotalPrice  decimal.Decimal     `db:"total_price"`
	Source      string              `db:"source"`
}

// Extraction is the dimension bundle produced by sources that expose raw
// dimension data alongside their sales.
type Extraction struct {
	Customers []CustomerRecord
	Products  []ProductRecord
	Orders    []OrderRecord
	Sales     []EnrichedSale
}

// Empty reports whether the bundle carries no dimension rows.
func (e *Extraction) Empty() bool {
	return e == nil || len(e.Customers)+len(e.Products)+len(e.Orders) == 0
}

// Merge appends other's records to e. Repeated natural keys are resolved by
// the loaders (last write wins).
func (e *Extraction) Merge(other *Extraction) {
	if other == nil {
		return
	}
	e.Customers = append(e.Customers, other.Customers...)
	e.Products = append(e.Products, other.Products...)
	e.Orders = append(e.Orders, other.Orders...)
	e.Sales = append(e.Sales, other.Sales...)
}
