package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	conflictapp "github.com/erp/channelsync/internal/application/conflict"
	"github.com/erp/channelsync/internal/application/exchangerate"
	integrationapp "github.com/erp/channelsync/internal/application/integration"
	inventoryapp "github.com/erp/channelsync/internal/application/inventory"
	"github.com/erp/channelsync/internal/application/orchestration"
	pricingapp "github.com/erp/channelsync/internal/application/pricing"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/pricing"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/erp/channelsync/internal/infrastructure/cache"
	"github.com/erp/channelsync/internal/infrastructure/config"
	"github.com/erp/channelsync/internal/infrastructure/event"
	rateprovider "github.com/erp/channelsync/internal/infrastructure/exchangerate"
	"github.com/erp/channelsync/internal/infrastructure/lock"
	"github.com/erp/channelsync/internal/infrastructure/logger"
	"github.com/erp/channelsync/internal/infrastructure/persistence"
	"github.com/erp/channelsync/internal/infrastructure/platform"
	"github.com/erp/channelsync/internal/infrastructure/report"
	"github.com/erp/channelsync/internal/infrastructure/scheduler"
	"github.com/erp/channelsync/internal/infrastructure/telemetry"
)

// Dependencies is everything the service runs on. Optional collaborators are
// nil when their configuration is absent.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	DB          *persistence.Database
	Tracer      *telemetry.TracerProvider
	Meter       *telemetry.MeterProvider
	Metrics     *telemetry.SyncMetrics
	Cache       shared.Cache
	Idempotency shared.IdempotencyStore
	Locker      shared.Locker
	Bus         *event.InMemoryEventBus

	Gateway      *integrationapp.PlatformGateway
	Mappings     *integrationapp.ProductMappingService
	Rates        *exchangerate.Service
	Conflicts    *conflictapp.Service
	Prices       *pricingapp.PriceSyncService
	Reconciler   *inventoryapp.ReconciliationService
	Sales        *inventoryapp.SaleEventHandler
	Orchestrator *orchestration.Orchestrator
	Reports      *orchestration.DiscrepancyReportService
	Triggers     *scheduler.Triggers

	// Optional
	Redis         *redis.Client           // nil keeps cache and locks in process
	Broker        *event.Broker           // nil when events.amqp_url is empty
	Forwarder     *event.AMQPForwarder    // set with Broker
	SaleConsumer  *event.AMQPConsumer     // set with Broker and events.sale_queue
	ReportArchive *report.S3ReportArchive // nil when report.s3_bucket is empty

	closers    []func(context.Context) error
	consumerWG sync.WaitGroup
	cancel     context.CancelFunc
}

func (d *Dependencies) onShutdown(fn func(context.Context) error) {
	d.closers = append(d.closers, fn)
}

// buildDependencies connects every backend and wires the services. On error
// whatever was already opened is released.
func buildDependencies(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *Dependencies, err error) {
	d := &Dependencies{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = d.Shutdown(context.Background())
		}
	}()

	if err = d.buildTelemetry(ctx); err != nil {
		return nil, err
	}
	if err = d.buildStorage(ctx); err != nil {
		return nil, err
	}
	if err = d.buildEvents(); err != nil {
		return nil, err
	}
	if err = d.buildServices(ctx); err != nil {
		return nil, err
	}
	if err = d.buildTriggers(); err != nil {
		return nil, err
	}
	d.logOptional()
	return d, nil
}

func (d *Dependencies) buildTelemetry(ctx context.Context) error {
	cfg := d.Config.Telemetry

	tp, err := telemetry.NewTracerProvider(ctx, cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("tracer provider: %w", err)
	}
	d.Tracer = tp
	d.onShutdown(tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("meter provider: %w", err)
	}
	d.Meter = mp
	d.onShutdown(mp.Shutdown)

	d.Metrics, err = telemetry.NewSyncMetrics(mp.Meter("channelsync"))
	if err != nil {
		return fmt.Errorf("sync metrics: %w", err)
	}
	return nil
}

func (d *Dependencies) buildStorage(ctx context.Context) error {
	cfg := d.Config

	gormLog := logger.NewGormLogger(d.Logger, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabase(ctx, &cfg.Database, gormLog)
	if err != nil {
		return err
	}
	d.DB = db
	d.onShutdown(func(context.Context) error { return db.Close() })

	if cfg.Telemetry.DBTraceEnabled {
		if err := telemetry.RegisterDBTracing(db.DB, cfg.Telemetry.DBSlowQueryThresh, cfg.Telemetry.DBLogFullSQL, d.Logger); err != nil {
			return fmt.Errorf("database tracing: %w", err)
		}
	}

	factory := cache.NewFactory(cfg.Redis, cache.WithFactoryLogger(d.Logger))
	client, err := factory.Connect(ctx)
	if err != nil {
		return err
	}
	if client != nil {
		d.Redis = client
		d.onShutdown(func(context.Context) error { return client.Close() })
	}

	d.Cache = factory.CreateCache(client)
	d.onShutdown(func(context.Context) error { return d.Cache.Close() })
	d.Idempotency = factory.CreateIdempotencyStore(client)
	d.onShutdown(func(context.Context) error { return d.Idempotency.Close() })
	d.Locker = lock.New(client, d.Logger)
	return nil
}

func (d *Dependencies) buildEvents() error {
	cfg := d.Config.Events
	d.Bus = event.NewInMemoryEventBus(d.Logger)
	d.Bus.Subscribe(d.Metrics, d.Metrics.EventTypes()...)
	alerts := inventoryapp.NewDiscrepancyAlertHandler(nil, d.Logger)
	d.Bus.Subscribe(alerts, alerts.EventTypes()...)

	if cfg.AMQPURL == "" {
		return nil
	}
	broker, err := event.DialBroker(cfg.AMQPURL, cfg.Exchange, d.Logger)
	if err != nil {
		return err
	}
	d.Broker = broker
	d.onShutdown(func(context.Context) error { return broker.Close() })

	serializer := event.NewEventSerializer()
	forwarder, err := event.NewAMQPForwarder(broker, serializer)
	if err != nil {
		return err
	}
	d.Forwarder = forwarder
	d.onShutdown(func(context.Context) error { return forwarder.Close() })
	d.Bus.Subscribe(forwarder, event.OutboundEventTypes...)

	if cfg.SaleQueue != "" {
		consumer, err := event.NewAMQPConsumer(broker, cfg.SaleQueue, serializer, d.Bus)
		if err != nil {
			return err
		}
		d.SaleConsumer = consumer
	}
	return nil
}

func (d *Dependencies) buildServices(ctx context.Context) error {
	cfg := d.Config
	gormDB := d.DB.DB

	mappings := persistence.NewGormProductMappingRepository(gormDB)
	ledger := persistence.NewGormInventoryTransactionRepository(gormDB)
	rateRepo := persistence.NewGormExchangeRateRepository(gormDB)
	history := persistence.NewGormPriceHistoryRepository(gormDB)
	jobs := persistence.NewGormSyncJobRepository(gormDB)
	conflictLogs := persistence.NewGormConflictLogRepository(gormDB)

	adapterA, adapterB, err := platform.NewAdapters(cfg.Platforms, d.Logger)
	if err != nil {
		return err
	}
	d.Gateway, err = integrationapp.NewPlatformGateway(gatewayConfig(cfg.Sync), d.Logger, adapterA, adapterB)
	if err != nil {
		return err
	}
	d.Mappings = integrationapp.NewProductMappingService(mappings, d.Logger)

	providers, err := rateprovider.NewHTTPRateProviders(cfg.ExchangeRate.Providers)
	if err != nil {
		return fmt.Errorf("exchange rate providers: %w", err)
	}
	d.Rates = exchangerate.NewService(rateRepo, d.Cache, providers, rateChainConfig(cfg.ExchangeRate, cfg.Platforms),
		exchangerate.WithLogger(d.Logger),
		exchangerate.WithMetrics(d.Metrics),
	)

	calcConfig, err := calculatorConfig(cfg.Pricing)
	if err != nil {
		return err
	}
	calculator, err := pricing.NewCalculator(calcConfig)
	if err != nil {
		return fmt.Errorf("price calculator: %w", err)
	}

	d.Conflicts = conflictapp.NewService(conflictLogs, d.Logger)
	d.Prices = pricingapp.NewPriceSyncService(d.Gateway, d.Rates, calculator, d.Conflicts, history,
		d.Locker, priceSyncConfig(cfg.Sync), d.Logger)
	d.Reconciler = inventoryapp.NewReconciliationService(d.Gateway, mappings, ledger, d.Conflicts,
		d.Locker, d.Bus, reconcileConfig(cfg.Sync), d.Logger)

	d.Sales = inventoryapp.NewSaleEventHandler(d.Gateway, mappings, ledger, d.Locker, cfg.Sync.LockTTL, d.Logger)
	d.Bus.Subscribe(event.NewIdempotentHandler(d.Sales, d.Idempotency, cfg.Events.DedupTTL, d.Logger),
		inventory.EventTypeSaleRecorded)

	d.Orchestrator, err = orchestration.NewOrchestrator(orchestratorConfig(cfg.Sync), jobs, mappings, d.Reconciler, d.Prices,
		orchestration.WithLogger(d.Logger),
		orchestration.WithMetrics(d.Metrics),
		orchestration.WithEventPublisher(d.Bus),
	)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	var archive orchestration.ReportArchive
	if cfg.Report.S3Bucket != "" {
		d.ReportArchive, err = report.NewS3ReportArchive(ctx, cfg.Report, d.Logger)
		if err != nil {
			return fmt.Errorf("report archive: %w", err)
		}
		archive = d.ReportArchive
	}
	d.Reports = orchestration.NewDiscrepancyReportService(mappings, conflictLogs, jobs,
		report.XLSXDiscrepancyExporter{}, archive, reportConfig(cfg.Report), d.Logger)
	return nil
}

func (d *Dependencies) buildTriggers() error {
	pairs, err := ratePairs(d.Config.Platforms)
	if err != nil {
		return err
	}
	var refresh scheduler.Task
	if len(pairs) > 0 {
		refresh = refreshRatesTask(d.Rates, pairs, d.Logger)
	}

	d.Triggers, err = scheduler.NewSyncTriggers(d.Config.Sync, d.Orchestrator, refresh, d.Logger)
	if err != nil {
		return err
	}
	return d.Triggers.Add(scheduler.ReportTrigger, d.Config.Report.Interval,
		exportReportTask(d.Reports, d.Config.Report.MinDiscrepancy, d.Logger))
}

// RateUpdater refreshes one pair from the providers
type RateUpdater interface {
	UpdateExchangeRate(ctx context.Context, pair pricing.CurrencyPair) (*exchangerate.UpdateResult, error)
}

// refreshRatesTask updates every pair; one failing pair does not stop the others
func refreshRatesTask(rates RateUpdater, pairs []pricing.CurrencyPair, log *zap.Logger) scheduler.Task {
	return func(ctx context.Context) error {
		var errs []error
		for _, pair := range pairs {
			res, err := rates.UpdateExchangeRate(ctx, pair)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", pair, err))
				continue
			}
			log.Info("Exchange rate refreshed",
				zap.String("pair", pair.String()),
				zap.String("rate", res.Rate.String()),
				zap.String("provider", res.Provider),
				zap.Bool("persisted", res.Persisted),
				zap.String("reason", res.Reason),
			)
		}
		return errors.Join(errs...)
	}
}

// ReportExporter renders and archives a discrepancy report
type ReportExporter interface {
	Export(ctx context.Context, minDiscrepancy int) (*orchestration.ExportResult, error)
}

func exportReportTask(reports ReportExporter, minDiscrepancy int, log *zap.Logger) scheduler.Task {
	return func(ctx context.Context) error {
		res, err := reports.Export(ctx, minDiscrepancy)
		if err != nil {
			return fmt.Errorf("export discrepancy report: %w", err)
		}
		log.Info("Discrepancy report exported",
			zap.String("file", res.FileName),
			zap.Int("products", len(res.Report.Products)),
			zap.String("location", res.Location),
		)
		return nil
	}
}

func (d *Dependencies) logOptional() {
	d.Logger.Info("Optional components",
		zap.Bool("redis", d.Redis != nil),
		zap.Bool("tracing", d.Tracer.IsEnabled()),
		zap.Bool("event_broker", d.Broker != nil),
		zap.Bool("sale_consumer", d.SaleConsumer != nil),
		zap.Bool("report_archive", d.ReportArchive != nil),
	)
}

// Start starts the bus, the orchestrator, the triggers and the sale consumer
func (d *Dependencies) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	active, err := d.Mappings.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load product mappings: %w", err)
	}
	if len(active) == 0 {
		d.Logger.Warn("No active product mappings; sync jobs will complete empty")
	} else {
		d.Logger.Info("Product mappings loaded", zap.Int("active", len(active)))
	}

	if err := d.Bus.Start(runCtx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	if err := d.Orchestrator.Start(runCtx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if err := d.Triggers.Start(runCtx); err != nil {
		return fmt.Errorf("start triggers: %w", err)
	}

	if d.SaleConsumer != nil {
		d.consumerWG.Add(1)
		go func() {
			defer d.consumerWG.Done()
			if err := d.SaleConsumer.Run(runCtx); err != nil {
				d.Logger.Error("Sale event consumer stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// Shutdown stops intake first, then drains work, then closes backends in
// reverse order of opening
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var errs []error

	if d.Triggers != nil {
		if err := d.Triggers.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop triggers: %w", err))
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.consumerWG.Wait()
	if d.SaleConsumer != nil {
		if err := d.SaleConsumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sale consumer: %w", err))
		}
	}
	if d.Orchestrator != nil {
		if err := d.Orchestrator.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop orchestrator: %w", err))
		}
	}
	if d.Bus != nil {
		if err := d.Bus.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop event bus: %w", err))
		}
	}

	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
