package extract

import (
	"context"
	"strings"

	"salesetl/internal/enrich"
	"salesetl/internal/observability"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

// SQLExtractor reads the four entity tables from a relational source.
type SQLExtractor struct {
	db       *sqlx.DB
	flavor   sqlbuilder.Flavor
	enricher *enrich.Enricher
	logger   *observability.Logger
}

// NewSQLExtractor wraps an open handle. The driver name picks the SQL
// flavor; anything but sqlite3 is treated as PostgreSQL.
func NewSQLExtractor(db *sqlx.DB, enricher *enrich.Enricher, logger *observability.Logger) *SQLExtractor {
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	flavor := sqlbuilder.PostgreSQL
	if db.DriverName() == "sqlite3" {
		flavor = sqlbuilder.SQLite
	}
	return &SQLExtractor{
		db:       db,
		flavor:   flavor,
		enricher: enricher,
		logger:   logger.WithField("source", "database"),
	}
}

func (e *SQLExtractor) Name() string { return "database" }

func (e *SQLExtractor) Extract(ctx context.Context) ([]models.EnrichedSale, error) {
	bundle, err := e.ExtractWithDimensions(ctx)
	if err != nil {
		return nil, err
	}
	return bundle.Sales, nil
}

func (e *SQLExtractor) ExtractWithDimensions(ctx context.Context) (*models.Extraction, error) {
	bundle := &models.Extraction{Sales: []models.EnrichedSale{}}

	if err := e.db.PingContext(ctx); err != nil {
		e.logger.WithError(errors.ConnectionError("source database unreachable", err)).Error("Failed to connect to source database")
		return bundle, nil
	}

	var in enrich.Input
	in.Customers = selectEntity[models.CustomerRecord](ctx, e, EntityCustomers,
		"customerid",
		"COALESCE(firstname, '') AS firstname",
		"COALESCE(lastname, '') AS lastname",
		"COALESCE(email, '') AS email",
		"COALESCE(phone, '') AS phone",
		"COALESCE(city, '') AS city",
		"COALESCE(country, '') AS country",
	)
	in.Products = selectEntity[models.ProductRecord](ctx, e, EntityProducts,
		"productid",
		"COALESCE(productname, '') AS productname",
		"COALESCE(category, '') AS category",
		"COALESCE(price, 0) AS price",
		"COALESCE(stock, 0) AS stock",
	)
	in.Orders = selectEntity[models.OrderRecord](ctx, e, EntityOrders,
		"orderid",
		"COALESCE(customerid, 0) AS customerid",
		"orderdate",
		"COALESCE(status, '') AS status",
	)
	in.Details = selectEntity[models.OrderDetailRecord](ctx, e, EntityOrderDetails,
		"orderid",
		"productid",
		"COALESCE(quantity, 0) AS quantity",
		"COALESCE(totalprice, 0) AS totalprice",
	)

	bundle.Customers = in.Customers
	bundle.Products = in.Products
	bundle.Orders = in.Orders
	bundle.Sales = e.enricher.Enrich(e.Name(), in)

	e.logger.InfoWithFields("Database extracted", map[string]interface{}{
		"customers": len(in.Customers),
		"products":  len(in.Products),
		"orders":    len(in.Orders),
		"details":   len(in.Details),
		"sales":     len(bundle.Sales),
	})
	return bundle, nil
}

func selectEntity[T any](ctx context.Context, e *SQLExtractor, table string, cols ...string) []T {
	sb := e.flavor.NewSelectBuilder()
	sb.Select(cols...)
	sb.From(table)
	sb.OrderBy(cols[0])

	query, args := sb.Build()
	out := []T{}
	if err := e.db.SelectContext(ctx, &out, query, args...); err != nil {
		if isMissingTable(err) {
			e.logger.WarnWithFields("Source table not found", map[string]interface{}{"table": table})
		} else {
			e.logger.WithError(errors.SQLError(errors.ErrCodeTransport, "failed to read source table", query, err)).
				ErrorWithFields("Failed to read source table", map[string]interface{}{"table": table})
		}
		return []T{}
	}
	return out
}

func isMissingTable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}
