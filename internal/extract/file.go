package extract

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"

	"salesetl/internal/enrich"
	"salesetl/internal/observability"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"
)

// FileExtractor reads customers.csv, products.csv, orders.csv and
// order_details.csv from a FileSource.
type FileExtractor struct {
	source   FileSource
	enricher *enrich.Enricher
	logger   *observability.Logger
}

func NewFileExtractor(source FileSource, enricher *enrich.Enricher, logger *observability.Logger) *FileExtractor {
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	return &FileExtractor{
		source:   source,
		enricher: enricher,
		logger:   logger.WithField("source", source.Name()),
	}
}

func (e *FileExtractor) Name() string { return e.source.Name() }

func (e *FileExtractor) Extract(ctx context.Context) ([]models.EnrichedSale, error) {
	bundle, err := e.ExtractWithDimensions(ctx)
	if err != nil {
		return nil, err
	}
	return bundle.Sales, nil
}

// ExtractWithDimensions never fails: a missing root yields an empty bundle
// and a missing or malformed file empties only its entity.
func (e *FileExtractor) ExtractWithDimensions(ctx context.Context) (*models.Extraction, error) {
	bundle := &models.Extraction{Sales: []models.EnrichedSale{}}

	ok, err := e.source.Available(ctx)
	if err != nil {
		e.logger.WithError(err).WarnWithFields("File source not reachable", map[string]interface{}{
			"location": e.source.Location(),
		})
		return bundle, nil
	}
	if !ok {
		e.logger.WarnWithFields("File source not found", map[string]interface{}{
			"location": e.source.Location(),
		})
		return bundle, nil
	}

	e.logger.InfoWithFields("Reading CSV files", map[string]interface{}{"location": e.source.Location()})

	var in enrich.Input
	in.Customers = readEntity(ctx, e, EntityCustomers, decodeCustomers)
	in.Products = readEntity(ctx, e, EntityProducts, decodeProducts)
	in.Orders = readEntity(ctx, e, EntityOrders, decodeOrders)
	in.Details = readEntity(ctx, e, EntityOrderDetails, decodeOrderDetails)

	bundle.Customers = in.Customers
	bundle.Products = in.Products
	bundle.Orders = in.Orders
	bundle.Sales = e.enricher.Enrich(e.source.Name(), in)

	e.logger.InfoWithFields("Files extracted", map[string]interface{}{
		"customers": len(in.Customers),
		"products":  len(in.Products),
		"orders":    len(in.Orders),
		"details":   len(in.Details),
		"sales":     len(bundle.Sales),
	})
	return bundle, nil
}

func readEntity[T any](ctx context.Context, e *FileExtractor, entity string, decode func(io.Reader) ([]T, error)) []T {
	file := entity + ".csv"

	rc, err := e.source.Open(ctx, file)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			e.logger.WarnWithFields("File not found", map[string]interface{}{
				"file":     file,
				"location": e.source.Location(),
			})
		} else {
			e.logger.WithError(errors.Wrap(err, errors.ErrCodeSourceUnavailable, "failed to open file")).
				ErrorWithFields("Failed to open file", map[string]interface{}{"file": file})
		}
		return []T{}
	}
	defer rc.Close()

	records, err := decode(rc)
	if err != nil {
		e.logger.WithError(errors.Wrap(err, errors.ErrCodeParseFailed, "failed to parse file")).
			ErrorWithFields("Failed to parse file", map[string]interface{}{"file": file})
		return []T{}
	}

	e.logger.DebugWithFields("File read", map[string]interface{}{"file": file, "records": len(records)})
	return records
}
