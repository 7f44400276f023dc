// Package app wires configuration, tables and the normalization pipeline.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/categorization"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/extract"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/import/parser"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/matching"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/pipeline"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/reconcile"
	"github.com/FACorreiaa/receipt-normalizer/pkg/config"
	"github.com/FACorreiaa/receipt-normalizer/pkg/cron"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger

	// Catalog source, postgres only
	Pool        *pgxpool.Pool
	CatalogRepo *matching.Repository

	Registry *prometheus.Registry
	Metrics  *pipeline.Metrics

	Tables     *pipeline.Holder
	Extractor  *extract.Extractor
	Reconciler *reconcile.Reconciler
	Pipeline   *pipeline.Pipeline
	Scheduler  *cron.Scheduler
}

// InitDependencies initializes all application dependencies. Rule or
// catalog problems abort here, before any receipt is processed.
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Tables.CatalogSource == config.CatalogSourcePostgres {
		if err := deps.initDatabase(ctx); err != nil {
			return nil, fmt.Errorf("failed to init database: %w", err)
		}
	}

	deps.initMetrics()

	if err := deps.initTables(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}

	deps.initPipeline()

	logger.Info("all dependencies initialized successfully",
		slog.String("tables_version", deps.Tables.Current().Version()),
		slog.String("catalog_source", cfg.Tables.CatalogSource),
	)
	return deps, nil
}

// initDatabase connects the catalog repository
func (d *Dependencies) initDatabase(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(d.Config.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnLifetime = 5 * time.Minute
	poolCfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	d.Pool = pool
	d.CatalogRepo = matching.NewRepository(pool)
	d.Logger.Info("database connected")
	return nil
}

func (d *Dependencies) initMetrics() {
	if !d.Config.Observability.MetricsEnabled {
		return
	}
	d.Registry = prometheus.NewRegistry()
	d.Metrics = pipeline.NewMetrics(d.Registry)
}

func (d *Dependencies) initTables(ctx context.Context) error {
	tables, err := d.LoadTables(ctx)
	if err != nil {
		return err
	}
	d.Tables = pipeline.NewHolder(tables)
	return nil
}

func (d *Dependencies) initPipeline() {
	p := d.Config.Pipeline
	d.Extractor = extract.NewExtractor(d.Logger)
	d.Reconciler = reconcile.NewReconciler(reconcile.Config{
		Vendors:  p.ReconcileVendors,
		Currency: p.Currency,
	}, d.Logger)
	d.Pipeline = pipeline.New(d.Tables, d.Extractor, d.Reconciler, pipeline.Options{
		Workers: p.Workers,
		Metrics: d.Metrics,
	}, d.Logger)
	d.Scheduler = cron.NewScheduler(d.Config.Tables.RefreshSchedule, d.Tables, d.LoadTables, d.Logger)
}

// LoadTables reads the rule table and catalog from their configured sources
// and compiles a snapshot. The configured review threshold replaces the one
// in the rule table.
func (d *Dependencies) LoadTables(ctx context.Context) (*pipeline.Tables, error) {
	tc := d.Config.Tables

	rules := categorization.DefaultRuleTable()
	if tc.RulesPath != "" {
		var err error
		if rules, err = categorization.LoadRuleTableFile(tc.RulesPath); err != nil {
			return nil, err
		}
	}
	threshold := d.Config.Pipeline.ReviewThreshold
	rules.ReviewThreshold = &threshold

	var catalog *matching.Catalog
	var err error
	switch tc.CatalogSource {
	case config.CatalogSourcePostgres:
		if d.CatalogRepo == nil {
			return nil, fmt.Errorf("%w: catalog repository", config.ErrMissingConfig)
		}
		catalog, err = d.CatalogRepo.LoadCatalog(ctx, tc.CatalogVendor)
	default:
		catalog, err = parser.LoadCatalogFile(tc.CatalogPath, parser.DefaultConfig(), d.Logger)
	}
	if err != nil {
		return nil, err
	}

	tables, err := pipeline.NewTables(rules, catalog, matching.Options{
		MinSimilarity: d.Config.Pipeline.MinSimilarity,
	}, d.Logger)
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}
	return tables, nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		<-d.Scheduler.Stop().Done()
	}
	if d.Tables != nil {
		d.Tables.Close()
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
	d.Logger.Info("cleanup completed")
}
