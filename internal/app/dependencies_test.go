package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/matching"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
	"github.com/FACorreiaa/receipt-normalizer/pkg/config"
)

const catalogCSV = `product_id,uom_id,name,aliases,barcode,catalog_code,uom,conversion_ratio,fee_type
P-SOAP,U-EA,Dish Soap,Dawn Soap,,A1234,each,,
P-WHIP,U-EA,Heavy Whip,,076000000011,,each,,
`

const customRules = `version: "custom-1"
review_threshold: 0.90
keywords:
  - id: soap
    priority: 10
    include: '\bsoap\b'
    l2: C20
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Tables: config.TablesConfig{
			CatalogSource: config.CatalogSourceFile,
			CatalogPath:   writeFile(t, "catalog.csv", catalogCSV),
		},
		Pipeline: config.PipelineConfig{
			ReviewThreshold:  0.60,
			MinSimilarity:    0.70,
			ReconcileVendors: []string{"RD"},
			Workers:          2,
			Currency:         "USD",
		},
	}
}

// ============================================================================
// InitDependencies
// ============================================================================

func TestInitDependencies_FileCatalog(t *testing.T) {
	cfg := testConfig(t)

	deps, err := InitDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer deps.Cleanup()

	require.NotNil(t, deps.Pipeline)
	require.NotNil(t, deps.Scheduler)
	assert.Nil(t, deps.Pool)
	assert.Nil(t, deps.Metrics, "metrics disabled")

	tables := deps.Tables.Current()
	require.NotNil(t, tables)
	assert.Equal(t, 0.60, tables.Classifier.ReviewThreshold())

	rec := receipt.NewReceipt("RD", "", []*receipt.LineItem{
		receipt.NewLineItem(0, "Item #A1234 Dish Soap 32oz",
			decimal.NewFromInt(2), decimal.RequireFromString("3.50"), decimal.NewFromInt(7), "ea"),
	}, receipt.ReceiptTotals{})

	report, err := deps.Pipeline.Run(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Items)
	assert.Equal(t, "P-SOAP", rec.Items[0].CatalogProductID)
	assert.Equal(t, "C20", rec.Items[0].CategoryL2)
}

func TestInitDependencies_Metrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.MetricsEnabled = true

	deps, err := InitDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer deps.Cleanup()

	require.NotNil(t, deps.Registry)
	require.NotNil(t, deps.Metrics)
}

func TestInitDependencies_Errors(t *testing.T) {
	t.Run("missing catalog file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tables.CatalogPath = filepath.Join(t.TempDir(), "nope.csv")

		_, err := InitDependencies(context.Background(), cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to init tables")
	})

	t.Run("invalid rules file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tables.RulesPath = writeFile(t, "rules.yaml", "version: x\nnot_a_field: 1\n")

		_, err := InitDependencies(context.Background(), cfg, nil)
		assert.Error(t, err)
	})
}

// ============================================================================
// LoadTables
// ============================================================================

func TestLoadTables_RulesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tables.RulesPath = writeFile(t, "rules.yaml", customRules)
	cfg.Pipeline.ReviewThreshold = 0.50

	d := &Dependencies{Config: cfg, Logger: testLogger()}
	tables, err := d.LoadTables(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "custom-1", tables.Version())
	assert.Equal(t, 0.50, tables.Classifier.ReviewThreshold(), "configured threshold wins")
}

func TestLoadTables_Postgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	columns := []string{"product_id", "uom_id", "name", "aliases", "barcode", "catalog_code", "uom", "conversion_ratio", "fee_type"}
	mock.ExpectQuery(`SELECT product_id`).
		WithArgs("RD").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("P-SOAP", nil, "Dish Soap", []string{}, nil, nil, nil, "1", nil))

	cfg := testConfig(t)
	cfg.Tables.CatalogSource = config.CatalogSourcePostgres
	cfg.Tables.CatalogVendor = "RD"

	d := &Dependencies{Config: cfg, Logger: testLogger(), CatalogRepo: matching.NewRepository(mock)}
	tables, err := d.LoadTables(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tables.Matcher)
	assert.NoError(t, mock.ExpectationsWereMet())

	t.Run("without repository", func(t *testing.T) {
		d := &Dependencies{Config: cfg, Logger: testLogger()}
		_, err := d.LoadTables(context.Background())
		assert.ErrorIs(t, err, config.ErrMissingConfig)
	})
}

func TestScheduler_RefreshReloadsTables(t *testing.T) {
	cfg := testConfig(t)

	deps, err := InitDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer deps.Cleanup()

	before := deps.Tables.Current()
	require.NoError(t, deps.Scheduler.Refresh(context.Background()))
	after := deps.Tables.Current()

	assert.NotSame(t, before, after)
	assert.Equal(t, before.Version(), after.Version())
}
