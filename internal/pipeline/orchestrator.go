// Package pipeline sequences one ETL run: extract from every source, upsert
// the dimensions, then rebuild the fact table.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"salesetl/internal/extract"
	"salesetl/internal/observability"
	"salesetl/internal/warehouse"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	"golang.org/x/sync/errgroup"
)

// DimensionLoader upserts one dimension table.
type DimensionLoader[T any] interface {
	Table() string
	Load(ctx context.Context, records []T) (int, error)
}

// FactLoader rebuilds the fact table.
type FactLoader interface {
	Load(ctx context.Context, sales []models.EnrichedSale) (*warehouse.FactLoadResult, error)
}

// Loaders are the load-phase steps. A nil Dates skips the date dimension.
type Loaders struct {
	Customers DimensionLoader[models.CustomerRecord]
	Products  DimensionLoader[models.ProductRecord]
	Orders    DimensionLoader[models.OrderRecord]
	Dates     DimensionLoader[time.Time]
	Facts     FactLoader
}

// WarehouseLoaders builds the loaders backed by wh.
func WarehouseLoaders(wh *warehouse.Warehouse, cfg models.LoadConfig) Loaders {
	l := Loaders{
		Customers: warehouse.NewCustomerLoader(wh, cfg.BatchSize),
		Products:  warehouse.NewProductLoader(wh, cfg.BatchSize),
		Orders:    warehouse.NewOrderLoader(wh, cfg.BatchSize),
		Facts:     warehouse.NewFactLoader(wh, cfg.BatchSize),
	}
	if cfg.PopulateDates {
		l.Dates = warehouse.NewDateLoader(wh, cfg.BatchSize)
	}
	return l
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSequentialDimensions loads one dimension at a time.
func WithSequentialDimensions() Option {
	return func(o *Orchestrator) { o.dimensionLimit = 1 }
}

func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithMetrics(m *observability.RunMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs the registered extractors and the load phases in
// strict order. Failures are contained to the step that raised them.
type Orchestrator struct {
	extractors     []extract.Extractor
	loaders        Loaders
	dimensionLimit int
	locker         Locker
	publisher      Publisher
	metrics        *observability.RunMetrics
	now            func() time.Time
	logger         *observability.Logger
}

func New(loaders Loaders, logger *observability.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = observability.GetDefaultLogger()
	}
	o := &Orchestrator{
		loaders:        loaders,
		dimensionLimit: -1,
		now:            time.Now,
		logger:         logger.WithField("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds an extractor. Extractors run in registration order.
func (o *Orchestrator) Register(extractors ...extract.Extractor) {
	o.extractors = append(o.extractors, extractors...)
}

// Run performs one full run. It always returns a report; a run that hit
// an orchestration failure ends in StateError with later phases not run.
func (o *Orchestrator) Run(ctx context.Context) *RunReport {
	report := newRunReport(o.now())
	logger := o.logger.WithField("run_id", report.RunID)
	logger.InfoWithFields("Run started", map[string]interface{}{"extractors": len(o.extractors)})

	if o.locker != nil {
		release, ok, err := o.locker.Acquire(ctx)
		if err != nil {
			o.fail(report, logger, StateStart, err)
			return o.finish(ctx, report, logger)
		}
		if !ok {
			logger.Warn("Another run holds the run lock, skipping")
			report.State = StateSkipped
			return o.finish(ctx, report, logger)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.WithError(err).Warn("Run lock release failed")
			}
		}()
	}

	var (
		sales  []models.EnrichedSale
		bundle *models.Extraction
	)
	phases := []struct {
		state State
		run   func() error
	}{
		{StateRunExtractors, func() error {
			sales, bundle = o.runExtractors(ctx, report, logger)
			return ctx.Err()
		}},
		{StateLoadDimensions, func() error {
			o.loadDimensions(ctx, report, logger, bundle, sales)
			return ctx.Err()
		}},
		{StateLoadFacts, func() error {
			o.loadFacts(ctx, report, logger, sales)
			return nil
		}},
	}

	for _, phase := range phases {
		report.State = phase.state
		if err := errors.Safely(errors.ErrCodeOrchestration, string(phase.state), phase.run); err != nil {
			o.fail(report, logger, phase.state, err)
			return o.finish(ctx, report, logger)
		}
	}

	report.State = StateDone
	return o.finish(ctx, report, logger)
}

func (o *Orchestrator) runExtractors(ctx context.Context, report *RunReport, logger *observability.Logger) ([]models.EnrichedSale, *models.Extraction) {
	var (
		sales  []models.EnrichedSale
		bundle *models.Extraction
	)

	for _, ex := range o.extractors {
		if ctx.Err() != nil {
			break
		}
		entry := ExtractorReport{Name: ex.Name()}
		exLogger := logger.WithField("source", ex.Name())

		var (
			got []models.EnrichedSale
			dim *models.Extraction
		)
		err := errors.Safely(errors.ErrCodeExtractorPanic, ex.Name(), func() error {
			var err error
			if dx, ok := ex.(extract.DimensionExtractor); ok {
				entry.Dimension = true
				dim, err = dx.ExtractWithDimensions(ctx)
				if dim != nil {
					got = dim.Sales
				}
				return err
			}
			got, err = ex.Extract(ctx)
			return err
		})
		if err != nil {
			entry.Error = err.Error()
			exLogger.WithError(err).Error("Extractor failed, continuing without it")
			report.Extractors = append(report.Extractors, entry)
			o.observeExtract(ex.Name(), 0)
			continue
		}

		entry.Sales = len(got)
		sales = append(sales, got...)
		if !dim.Empty() {
			if bundle == nil {
				bundle = &models.Extraction{}
			}
			bundle.Merge(&models.Extraction{Customers: dim.Customers, Products: dim.Products, Orders: dim.Orders})
		}

		report.Extractors = append(report.Extractors, entry)
		o.observeExtract(ex.Name(), entry.Sales)
		exLogger.InfoWithFields("Extractor finished", map[string]interface{}{"sales": entry.Sales})
	}

	logger.InfoWithFields("Extraction finished", map[string]interface{}{"sales": len(sales)})
	return sales, bundle
}

func (o *Orchestrator) loadDimensions(ctx context.Context, report *RunReport, logger *observability.Logger,
	bundle *models.Extraction, sales []models.EnrichedSale) {
	var mu sync.Mutex
	record := func(table string, rows int, err error) {
		entry := DimensionReport{Table: table, Rows: rows}
		if err != nil {
			entry.Error = err.Error()
			logger.WithError(err).ErrorWithFields("Dimension load failed", map[string]interface{}{"table": table})
		}
		mu.Lock()
		report.Dimensions = append(report.Dimensions, entry)
		mu.Unlock()
		if o.metrics != nil {
			o.metrics.ObserveDimension(table, rows, err)
		}
	}

	if bundle.Empty() {
		report.DimensionsSkipped = true
		logger.Warn("No dimension bundle was extracted, skipping dimension loads")
	} else {
		// Loaders touch disjoint tables; each failure stays with its table.
		var g errgroup.Group
		g.SetLimit(o.dimensionLimit)
		g.Go(func() error {
			n, err := loadDimension(ctx, o.loaders.Customers, bundle.Customers)
			record(o.loaders.Customers.Table(), n, err)
			return nil
		})
		g.Go(func() error {
			n, err := loadDimension(ctx, o.loaders.Products, bundle.Products)
			record(o.loaders.Products.Table(), n, err)
			return nil
		})
		g.Go(func() error {
			n, err := loadDimension(ctx, o.loaders.Orders, bundle.Orders)
			record(o.loaders.Orders.Table(), n, err)
			return nil
		})
		_ = g.Wait()
	}

	if o.loaders.Dates != nil {
		n, err := loadDimension(ctx, o.loaders.Dates, warehouse.SaleDates(sales))
		record(o.loaders.Dates.Table(), n, err)
	}
}

// loadDimension calls l.Load, converting a panic into an error.
func loadDimension[T any](ctx context.Context, l DimensionLoader[T], records []T) (n int, err error) {
	err = errors.Safely(errors.ErrCodeDimensionUpsert, l.Table(), func() error {
		var loadErr error
		n, loadErr = l.Load(ctx, records)
		return loadErr
	})
	return n, err
}

func (o *Orchestrator) loadFacts(ctx context.Context, report *RunReport, logger *observability.Logger, sales []models.EnrichedSale) {
	result, err := o.loaders.Facts.Load(ctx, sales)
	if result != nil {
		report.Facts = result
		if o.metrics != nil {
			o.metrics.ObserveFacts(result.Inserted, result.Dropped, result.Failed)
		}
	}
	if err != nil {
		report.FactError = err.Error()
		logger.WithError(err).Error("Fact load failed")
	}
}

func (o *Orchestrator) fail(report *RunReport, logger *observability.Logger, phase State, err error) {
	report.FailedPhase = phase
	report.State = StateError
	report.Error = err.Error()
	logger.WithError(err).ErrorWithFields("Run aborted", map[string]interface{}{"phase": string(phase)})
}

func (o *Orchestrator) finish(ctx context.Context, report *RunReport, logger *observability.Logger) *RunReport {
	report.FinishedAt = o.now()

	if o.metrics != nil {
		o.metrics.ObserveRun(string(report.State), report.StartedAt, report.FinishedAt, report.Succeeded())
	}

	fields := map[string]interface{}{
		"state":    string(report.State),
		"sales":    report.TotalSales(),
		"duration": report.Duration().String(),
	}
	if report.Facts != nil {
		fields["facts_inserted"] = report.Facts.Inserted
		fields["facts_dropped"] = report.Facts.DroppedTotal()
	}
	if report.Degraded() {
		logger.WarnWithFields("Run finished with partial results", fields)
	} else {
		logger.InfoWithFields("Run finished", fields)
	}

	if o.publisher != nil && report.State != StateSkipped {
		if err := o.publisher.Publish(context.WithoutCancel(ctx), report); err != nil {
			logger.WithError(err).Warn(fmt.Sprintf("Run report %s was not published", report.RunID))
		}
	}
	return report
}

func (o *Orchestrator) observeExtract(source string, sales int) {
	if o.metrics != nil {
		o.metrics.ObserveExtract(source, sales)
	}
}
