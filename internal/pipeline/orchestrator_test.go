package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"salesetl/internal/enrich"
	"salesetl/internal/extract"
	"salesetl/internal/observability"
	"salesetl/internal/testutil"
	"salesetl/internal/warehouse"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	name  string
	sales []models.EnrichedSale
	err   error
	panic bool
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Extract(context.Context) ([]models.EnrichedSale, error) {
	if f.panic {
		panic("extractor exploded")
	}
	return f.sales, f.err
}

type fakeDimensionExtractor struct {
	fakeExtractor
	bundle *models.Extraction
}

func (f *fakeDimensionExtractor) ExtractWithDimensions(context.Context) (*models.Extraction, error) {
	return f.bundle, f.err
}

type fakeLoader[T any] struct {
	table string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls [][]T
	log   *[]string
	logMu *sync.Mutex
}

func (f *fakeLoader[T]) Table() string { return f.table }

func (f *fakeLoader[T]) Load(_ context.Context, records []T) (int, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	f.calls = append(f.calls, records)
	f.mu.Unlock()
	if f.log != nil {
		f.logMu.Lock()
		*f.log = append(*f.log, f.table)
		f.logMu.Unlock()
	}
	if f.err != nil {
		return 0, f.err
	}
	return len(records), nil
}

type fakeFacts struct {
	result *warehouse.FactLoadResult
	err    error
	sales  []models.EnrichedSale
	called bool
	log    *[]string
	logMu  *sync.Mutex
}

func (f *fakeFacts) Load(_ context.Context, sales []models.EnrichedSale) (*warehouse.FactLoadResult, error) {
	f.called = true
	f.sales = sales
	if f.log != nil {
		f.logMu.Lock()
		*f.log = append(*f.log, warehouse.TableFact)
		f.logMu.Unlock()
	}
	if f.result == nil && f.err == nil {
		return &warehouse.FactLoadResult{Inserted: len(sales), Dropped: map[string]int{}}, nil
	}
	return f.result, f.err
}

type fixture struct {
	customers *fakeLoader[models.CustomerRecord]
	products  *fakeLoader[models.ProductRecord]
	orders    *fakeLoader[models.OrderRecord]
	dates     *fakeLoader[time.Time]
	facts     *fakeFacts
	order     []string
}

func newFixture() *fixture {
	f := &fixture{}
	mu := &sync.Mutex{}
	f.customers = &fakeLoader[models.CustomerRecord]{table: warehouse.TableCustomer, log: &f.order, logMu: mu, delay: 5 * time.Millisecond}
	f.products = &fakeLoader[models.ProductRecord]{table: warehouse.TableProduct, log: &f.order, logMu: mu}
	f.orders = &fakeLoader[models.OrderRecord]{table: warehouse.TableOrder, log: &f.order, logMu: mu}
	f.dates = &fakeLoader[time.Time]{table: warehouse.TableDate, log: &f.order, logMu: mu}
	f.facts = &fakeFacts{log: &f.order, logMu: mu}
	return f
}

func (f *fixture) loaders() Loaders {
	return Loaders{Customers: f.customers, Products: f.products, Orders: f.orders, Dates: f.dates, Facts: f.facts}
}

func sale(id string, day int) models.EnrichedSale {
	return models.EnrichedSale{ID: id, OrderDate: time.Date(2024, 4, day, 0, 0, 0, 0, time.UTC)}
}

func dimension(report *RunReport, table string) (DimensionReport, bool) {
	for _, d := range report.Dimensions {
		if d.Table == table {
			return d, true
		}
	}
	return DimensionReport{}, false
}

func TestRunSequencesPhases(t *testing.T) {
	fx := newFixture()
	files := &fakeDimensionExtractor{
		fakeExtractor: fakeExtractor{name: "files"},
		bundle: &models.Extraction{
			Customers: []models.CustomerRecord{{CustomerID: 1}},
			Products:  []models.ProductRecord{{ProductID: 10}},
			Orders:    []models.OrderRecord{{OrderID: 100}},
			Sales:     []models.EnrichedSale{sale("files:100:10:0", 1)},
		},
	}
	api := &fakeExtractor{name: "api", sales: []models.EnrichedSale{sale("api:7:10:0", 2), sale("api:7:11:1", 2)}}

	o := New(fx.loaders(), observability.NewNopLogger())
	o.Register(files, api)
	report := o.Run(context.Background())

	assert.Equal(t, StateDone, report.State)
	assert.True(t, report.Succeeded())
	assert.False(t, report.Degraded())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.TotalSales())
	assert.Equal(t, []ExtractorReport{
		{Name: "files", Sales: 1, Dimension: true},
		{Name: "api", Sales: 2},
	}, report.Extractors)

	require.Len(t, fx.order, 5)
	dims := append([]string(nil), fx.order[:3]...)
	sort.Strings(dims)
	assert.Equal(t, []string{warehouse.TableCustomer, warehouse.TableOrder, warehouse.TableProduct}, dims)
	assert.Equal(t, []string{warehouse.TableDate, warehouse.TableFact}, fx.order[3:], "dates and facts after every dimension")

	require.Len(t, fx.dates.calls, 1)
	assert.Len(t, fx.dates.calls[0], 2, "one date per distinct day")
	assert.Len(t, fx.facts.sales, 3)
	require.NotNil(t, report.Facts)
	assert.Equal(t, 3, report.Facts.Inserted)
}

func TestRunIsolatesExtractorFailures(t *testing.T) {
	fx := newFixture()
	o := New(fx.loaders(), observability.NewNopLogger())
	o.Register(
		&fakeExtractor{name: "broken", err: fmt.Errorf("connection reset")},
		&fakeExtractor{name: "panicky", panic: true},
		&fakeExtractor{name: "api", sales: []models.EnrichedSale{sale("api:1:1:0", 3)}},
	)

	report := o.Run(context.Background())

	assert.Equal(t, StateDone, report.State)
	assert.True(t, report.Degraded())
	require.Len(t, report.Extractors, 3)
	assert.Contains(t, report.Extractors[0].Error, "connection reset")
	assert.Contains(t, report.Extractors[1].Error, "extractor exploded")
	assert.Equal(t, 1, report.Extractors[2].Sales)
	assert.Len(t, fx.facts.sales, 1)
}

func TestRunWithoutBundleSkipsDimensions(t *testing.T) {
	fx := newFixture()
	o := New(fx.loaders(), observability.NewNopLogger())
	o.Register(&fakeExtractor{name: "api", sales: []models.EnrichedSale{sale("api:1:1:0", 3)}})

	report := o.Run(context.Background())

	assert.Equal(t, StateDone, report.State)
	assert.True(t, report.DimensionsSkipped)
	assert.Empty(t, fx.customers.calls)
	assert.Empty(t, fx.products.calls)
	assert.Empty(t, fx.orders.calls)
	assert.True(t, fx.facts.called, "facts still load")
	assert.Len(t, fx.dates.calls, 1)
}

func TestRunMergesBundles(t *testing.T) {
	fx := newFixture()
	o := New(fx.loaders(), observability.NewNopLogger(), WithSequentialDimensions())
	o.Register(
		&fakeDimensionExtractor{fakeExtractor: fakeExtractor{name: "files"},
			bundle: &models.Extraction{Customers: []models.CustomerRecord{{CustomerID: 1}}}},
		&fakeDimensionExtractor{fakeExtractor: fakeExtractor{name: "database"},
			bundle: &models.Extraction{Customers: []models.CustomerRecord{{CustomerID: 2}}, Products: []models.ProductRecord{{ProductID: 5}}}},
	)

	report := o.Run(context.Background())

	require.Len(t, fx.customers.calls, 1)
	assert.Len(t, fx.customers.calls[0], 2)
	require.Len(t, fx.products.calls, 1)
	assert.Len(t, fx.products.calls[0], 1)
	assert.False(t, report.DimensionsSkipped)
}

func TestRunIsolatesDimensionFailures(t *testing.T) {
	fx := newFixture()
	fx.products.err = errors.New(errors.ErrCodeDimensionUpsert, "upsert failed")

	o := New(fx.loaders(), observability.NewNopLogger())
	o.Register(&fakeDimensionExtractor{
		fakeExtractor: fakeExtractor{name: "files"},
		bundle: &models.Extraction{
			Customers: []models.CustomerRecord{{CustomerID: 1}},
			Products:  []models.ProductRecord{{ProductID: 10}},
		},
	})

	report := o.Run(context.Background())

	assert.Equal(t, StateDone, report.State)
	assert.True(t, report.Degraded())
	products, ok := dimension(report, warehouse.TableProduct)
	require.True(t, ok)
	assert.Contains(t, products.Error, "upsert failed")
	customers, ok := dimension(report, warehouse.TableCustomer)
	require.True(t, ok)
	assert.Equal(t, 1, customers.Rows)
	assert.Empty(t, customers.Error)
	assert.True(t, fx.facts.called)
}

func TestRunRecordsFactFailure(t *testing.T) {
	fx := newFixture()
	fx.facts.err = errors.New(errors.ErrCodeFactRebuild, "cleanup failed")

	report := New(fx.loaders(), observability.NewNopLogger()).Run(context.Background())

	assert.Equal(t, StateDone, report.State)
	assert.Contains(t, report.FactError, "cleanup failed")
	assert.True(t, report.Degraded())
}

func TestRunPanickingPhaseEndsInError(t *testing.T) {
	fx := newFixture()
	loaders := fx.loaders()
	loaders.Facts = nil

	report := New(loaders, observability.NewNopLogger()).Run(context.Background())

	assert.Equal(t, StateError, report.State)
	assert.Equal(t, StateLoadFacts, report.FailedPhase)
	assert.NotEmpty(t, report.Error)
	assert.False(t, report.Succeeded())
}

func TestRunCancelledContext(t *testing.T) {
	fx := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(fx.loaders(), observability.NewNopLogger())
	o.Register(&fakeExtractor{name: "api"})
	report := o.Run(ctx)

	assert.Equal(t, StateError, report.State)
	assert.Equal(t, StateRunExtractors, report.FailedPhase)
	assert.False(t, fx.facts.called)
}

type fakeLocker struct {
	held     bool
	err      error
	released bool
}

func (f *fakeLocker) Acquire(context.Context) (func(context.Context) error, bool, error) {
	if f.err != nil || f.held {
		return nil, false, f.err
	}
	return func(context.Context) error {
		f.released = true
		return nil
	}, true, nil
}

type fakePublisher struct {
	reports []*RunReport
}

func (f *fakePublisher) Publish(_ context.Context, r *RunReport) error {
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestRunLockAndPublish(t *testing.T) {
	t.Run("held lock skips the run", func(t *testing.T) {
		fx := newFixture()
		pub := &fakePublisher{}
		report := New(fx.loaders(), observability.NewNopLogger(),
			WithLocker(&fakeLocker{held: true}), WithPublisher(pub)).Run(context.Background())

		assert.Equal(t, StateSkipped, report.State)
		assert.False(t, fx.facts.called)
		assert.Empty(t, pub.reports)
	})

	t.Run("lock error aborts", func(t *testing.T) {
		fx := newFixture()
		report := New(fx.loaders(), observability.NewNopLogger(),
			WithLocker(&fakeLocker{err: fmt.Errorf("redis down")})).Run(context.Background())

		assert.Equal(t, StateError, report.State)
		assert.Equal(t, StateStart, report.FailedPhase)
	})

	t.Run("acquired lock is released and report published", func(t *testing.T) {
		fx := newFixture()
		lock := &fakeLocker{}
		pub := &fakePublisher{}
		report := New(fx.loaders(), observability.NewNopLogger(),
			WithLocker(lock), WithPublisher(pub)).Run(context.Background())

		assert.Equal(t, StateDone, report.State)
		assert.True(t, lock.released)
		require.Len(t, pub.reports, 1)
		assert.Equal(t, report.RunID, pub.reports[0].RunID)
	})
}

func TestRunMetrics(t *testing.T) {
	fx := newFixture()
	fx.facts.result = &warehouse.FactLoadResult{Inserted: 4, Dropped: map[string]int{warehouse.DropOrder: 2}}
	metrics := observability.NewRunMetrics()

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{start, start.Add(3 * time.Second)}
	clock := func() time.Time {
		t := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return t
	}

	o := New(fx.loaders(), observability.NewNopLogger(), WithMetrics(metrics), WithClock(clock))
	o.Register(&fakeExtractor{name: "api", sales: []models.EnrichedSale{sale("a", 1)}})
	report := o.Run(context.Background())

	assert.Equal(t, 3*time.Second, report.Duration())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.SalesExtracted.WithLabelValues("api")))
	assert.Equal(t, float64(4), promtestutil.ToFloat64(metrics.FactsInserted))
	assert.Equal(t, float64(2), promtestutil.ToFloat64(metrics.FactsDropped.WithLabelValues(warehouse.DropOrder)))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.Runs.WithLabelValues(string(StateDone))))
	assert.Equal(t, float64(start.Add(3*time.Second).Unix()), promtestutil.ToFloat64(metrics.LastSuccess))
}

// The end-to-end run: one customer, one product, one order line and no
// orders file. The order dimension is seeded so the sale resolves.
func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	logger := observability.NewNopLogger()

	wh := testutil.NewWarehouse(t)

	_, err := warehouse.NewOrderLoader(wh, 0).Load(ctx, []models.OrderRecord{{OrderID: 100, CustomerID: 1}})
	require.NoError(t, err)

	dir := t.TempDir()
	testutil.WriteFiles(t, dir, testutil.ScenarioFiles())

	enricher := enrich.New(enrich.Options{}, logger)
	o := New(WarehouseLoaders(wh, models.LoadConfig{BatchSize: 100, PopulateDates: true}), logger)
	o.Register(extract.NewFileExtractor(extract.NewDirSource(dir), enricher, logger))

	for run := 0; run < 2; run++ {
		report := o.Run(ctx)
		require.Equal(t, StateDone, report.State)
		require.NotNil(t, report.Facts)
		assert.Equal(t, 1, report.Facts.Inserted)
		assert.Zero(t, report.Facts.DroppedTotal())

		assert.Equal(t, 1, testutil.Count(t, wh, warehouse.TableFact), "run %d", run)
	}

	assert.Equal(t, 1, testutil.Count(t, wh, warehouse.TableCustomer))
}
