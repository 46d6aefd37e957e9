// Package extract reads sales-domain records from files, relational
// databases and HTTP APIs and hands them to the enricher.
package extract

import (
	"context"

	"salesetl/pkg/models"
)

// Extractor produces enriched sales from one source. Built-in extractors
// degrade to an empty result instead of failing on I/O or parse problems.
type Extractor interface {
	Name() string
	Extract(ctx context.Context) ([]models.EnrichedSale, error)
}

// DimensionExtractor is an Extractor that can also hand back the raw
// dimension records it read, so the warehouse dimensions can be upserted.
type DimensionExtractor interface {
	Extractor
	ExtractWithDimensions(ctx context.Context) (*models.Extraction, error)
}

// Entity file and table names shared by every source kind.
const (
	EntityCustomers    = "customers"
	EntityProducts     = "products"
	EntityOrders       = "orders"
	EntityOrderDetails = "order_details"
)
