package cmd

import (
	"context"

	"salesetl/internal/config"
	"salesetl/internal/enrich"
	"salesetl/internal/extract"
	"salesetl/internal/observability"
	"salesetl/internal/pipeline"
	"salesetl/internal/warehouse"
	"salesetl/pkg/errors"
	"salesetl/pkg/models"

	"github.com/jmoiron/sqlx"
)

// app is everything one run or schedule needs, wired from configuration.
type app struct {
	cfg          *models.Config
	logger       *observability.Logger
	warehouse    *warehouse.Warehouse
	orchestrator *pipeline.Orchestrator
	closers      []func() error
}

func newApp(ctx context.Context, cfg *models.Config, logger *observability.Logger, metrics *observability.RunMetrics) (_ *app, err error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	dsn, err := config.WarehouseDSN(cfg.Warehouse)
	if err != nil {
		return nil, err
	}
	wh, err := warehouse.Open(ctx, cfg.Warehouse, dsn, logger)
	if err != nil {
		return nil, err
	}
	a.warehouse = wh
	a.closers = append(a.closers, wh.Close)

	extractors, err := a.extractors(ctx)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{}
	if metrics != nil {
		opts = append(opts, pipeline.WithMetrics(metrics))
	}
	if !cfg.Load.ConcurrentDimensions {
		opts = append(opts, pipeline.WithSequentialDimensions())
	}
	if cfg.Lock.Enabled {
		client, err := pipeline.NewRedisClient(ctx, cfg.Lock.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		opts = append(opts, pipeline.WithLocker(pipeline.NewRedisLock(client, cfg.Lock.Key, cfg.Lock.TTL)))
	}
	if cfg.Report.KafkaEnabled {
		pub := pipeline.NewKafkaPublisher(cfg.Report.Brokers, cfg.Report.Topic)
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, pipeline.WithPublisher(pub))
	}

	a.orchestrator = pipeline.New(pipeline.WarehouseLoaders(wh, cfg.Load), logger, opts...)
	a.orchestrator.Register(extractors...)
	return a, nil
}

// extractors builds the enabled sources in their fixed run order.
func (a *app) extractors(ctx context.Context) ([]extract.Extractor, error) {
	src := a.cfg.Sources
	enricher := enrich.New(enrich.Options{
		CustomerFallback:  a.cfg.Enrich.CustomerFallback,
		DefaultCustomerID: a.cfg.Enrich.DefaultCustomerID,
		DateWindowDays:    a.cfg.Enrich.SyntheticDateWindowDays,
	}, a.logger)

	var out []extract.Extractor
	if src.Files.Enabled {
		out = append(out, extract.NewFileExtractor(extract.NewDirSource(src.Files.Directory), enricher, a.logger))
	}
	if src.S3.Enabled {
		client, err := extract.NewS3Client(ctx, src.S3)
		if err != nil {
			return nil, err
		}
		out = append(out, extract.NewFileExtractor(extract.NewS3Source(client, src.S3.Bucket, src.S3.Prefix), enricher, a.logger))
	}
	if src.Database.Enabled {
		// Open does not dial; an unreachable source degrades at extraction.
		db, err := sqlx.Open(src.Database.Driver, src.Database.DSN)
		if err != nil {
			return nil, errors.ConnectionError("Failed to open source database", err).
				WithContext("driver", src.Database.Driver)
		}
		a.closers = append(a.closers, db.Close)
		out = append(out, extract.NewSQLExtractor(db, enricher, a.logger))
	}
	if src.API.Enabled {
		out = append(out, extract.NewAPIExtractor(src.API, enricher, a.logger))
	}
	return out, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
	a.closers = nil
}
