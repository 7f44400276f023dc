package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/categorization"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/extract"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/matching"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/reconcile"
)

func testTables(t *testing.T, version string) *Tables {
	t.Helper()
	catalog, err := matching.NewCatalog([]matching.Entry{
		{ProductID: "P-SOAP", UoMID: "U-EA", Name: "Dish Soap", CatalogCode: "A1234"},
		{ProductID: "P-WHIP", UoMID: "U-QT", Name: "Heavy Whip"},
		{ProductID: "P-BANANA", UoMID: "U-EA", Name: "Organic Bananas", UoM: "each", ConversionRatio: decimal.NewFromInt(4)},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	rules := categorization.DefaultRuleTable()
	if version != "" {
		rules.Version = version
	}
	tables, err := NewTables(rules, catalog, matching.Options{}, nil)
	require.NoError(t, err)
	return tables
}

func testPipeline(t *testing.T, holder *Holder, metrics *Metrics) *Pipeline {
	t.Helper()
	reconciler := reconcile.NewReconciler(reconcile.Config{
		Vendors: []string{"RD"},
		Now:     func() time.Time { return time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC) },
	}, nil)
	return New(holder, extract.NewExtractor(nil), reconciler, Options{Workers: 2, Metrics: metrics}, nil)
}

func line(index int, raw, qty, price, total, uom string) *receipt.LineItem {
	return receipt.NewLineItem(index, raw,
		decimal.RequireFromString(qty),
		decimal.RequireFromString(price),
		decimal.RequireFromString(total),
		uom)
}

func sumTotals(items ...*receipt.LineItem) receipt.ReceiptTotals {
	s := decimal.Zero
	for _, it := range items {
		s = s.Add(it.LineTotal)
	}
	return receipt.ReceiptTotals{Subtotal: s, Tax: decimal.Zero, Total: s}
}

func rdReceipt(items ...*receipt.LineItem) *receipt.Receipt {
	return receipt.NewReceipt("RD", "scan", items, sumTotals(items...))
}

// ============================================================================
// Single receipt
// ============================================================================

func TestPipeline_StageOrder(t *testing.T) {
	p := testPipeline(t, NewHolder(testTables(t, "")), nil)
	assert.Equal(t, []string{"extract", "classify", "match", "reconcile"}, p.Stages())
}

func TestPipeline_RunWithoutTables(t *testing.T) {
	p := testPipeline(t, NewHolder(nil), nil)

	_, err := p.Run(context.Background(), rdReceipt(line(0, "x", "1", "1", "1", "ea")))
	assert.ErrorIs(t, err, ErrNoTables)

	_, err = p.RunBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTables)
}

func TestPipeline_Run(t *testing.T) {
	p := testPipeline(t, NewHolder(testTables(t, "")), nil)

	soap := line(0, "Item #A1234 Dish Soap 32oz", "1", "3.99", "3.99", "ea")
	whip := line(1, "Heavy Whip 32 OZ", "1", "10.78", "10.78", "ea")
	widget := line(2, "Widget Assembly", "1", "5.00", "5.00", "ea")
	rec := rdReceipt(soap, whip, widget)

	report, err := p.Run(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, report.ReceiptID)
	assert.Equal(t, 3, report.Items)
	assert.Equal(t, 1, report.NeedsReview)
	assert.Equal(t, 1, report.Uncategorized)
	assert.Equal(t, 1, report.Unmatched)
	assert.Zero(t, report.Fixed)
	assert.Zero(t, report.Merged)

	assert.Equal(t, "A1234", soap.CatalogCode)
	assert.Equal(t, "Dish Soap 32oz", soap.CleanDescription)
	assert.Equal(t, "C20", soap.CategoryL2)
	assert.Equal(t, "P-SOAP", soap.CatalogProductID)
	assert.Equal(t, matching.StrategyCatalogCode, soap.MatchStrategy)
	assert.False(t, soap.NeedsReview)

	assert.Equal(t, "P-WHIP", whip.CatalogProductID)
	assert.False(t, whip.NeedsReview)
	assert.Equal(t, receipt.FixNone, whip.FixStatus)

	assert.Equal(t, "C99", widget.CategoryL2)
	assert.True(t, widget.NeedsReview)
	assert.Len(t, widget.ReviewReasons, 2)
}

func TestPipeline_RunConvertsWeightUnits(t *testing.T) {
	p := testPipeline(t, NewHolder(testTables(t, "")), nil)
	bananas := line(0, "Organic Bananas", "3.5", "0.59", "2.065", "lb")

	report, err := p.Run(context.Background(), receipt.NewReceipt("COSTCO", "scan",
		[]*receipt.LineItem{bananas}, sumTotals(bananas)))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Converted)
	assert.True(t, bananas.Quantity.Equal(decimal.RequireFromString("14")))
	assert.True(t, bananas.LineTotal.Equal(decimal.RequireFromString("2.065")))
}

// ============================================================================
// Batches
// ============================================================================

func TestPipeline_RunBatch(t *testing.T) {
	p := testPipeline(t, NewHolder(testTables(t, "")), nil)

	lemons := func(index int) *receipt.LineItem {
		return line(index, "012345678905 Lemons", "1", "3.00", "3.00", "ea")
	}
	// the same barcode on two receipts must stay two lines
	first := rdReceipt(lemons(0))
	second := rdReceipt(lemons(0))
	dup := rdReceipt(lemons(0), lemons(1))

	batch, err := p.RunBatch(context.Background(), []*receipt.Receipt{first, nil, second, dup})
	require.NoError(t, err)

	require.Len(t, batch.Receipts, 4)
	assert.Equal(t, first.ID, batch.Receipts[0].ReceiptID)
	assert.Equal(t, second.ID, batch.Receipts[2].ReceiptID)
	assert.Equal(t, dup.ID, batch.Receipts[3].ReceiptID)

	assert.Len(t, first.Items, 1)
	assert.Len(t, second.Items, 1)
	require.Len(t, dup.Items, 1)
	assert.True(t, dup.Items[0].LineTotal.Equal(decimal.RequireFromString("6.00")))
	assert.True(t, dup.Items[0].Quantity.Equal(decimal.NewFromInt(2)))

	assert.Equal(t, 3, batch.Items)
	assert.Equal(t, 1, batch.Merged)
	assert.Equal(t, "2026.10", batch.TablesVersion)
	assert.NotZero(t, batch.ID)
}

func TestPipeline_RunBatchCancelled(t *testing.T) {
	p := testPipeline(t, NewHolder(testTables(t, "")), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.RunBatch(ctx, []*receipt.Receipt{rdReceipt(line(0, "x", "1", "1", "1", "ea"))})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_SnapshotSwapBetweenBatches(t *testing.T) {
	v1 := testTables(t, "")
	holder := NewHolder(v1)
	p := testPipeline(t, holder, nil)

	batch, err := p.RunBatch(context.Background(), []*receipt.Receipt{rdReceipt(line(0, "Dish Soap", "1", "2", "2", "ea"))})
	require.NoError(t, err)
	assert.Equal(t, "2026.10", batch.TablesVersion)

	previous := holder.Swap(testTables(t, "2026.11"))
	assert.Same(t, v1, previous)

	batch, err = p.RunBatch(context.Background(), []*receipt.Receipt{rdReceipt(line(0, "Dish Soap", "1", "2", "2", "ea"))})
	require.NoError(t, err)
	assert.Equal(t, "2026.11", batch.TablesVersion)
}

func TestHolder_RetiresSwappedSnapshot(t *testing.T) {
	v1 := testTables(t, "")
	holder := NewHolder(v1)

	held, release := holder.Acquire()
	require.Same(t, v1, held)

	v2 := testTables(t, "2026.11")
	assert.Same(t, v1, holder.Swap(v2))
	assert.False(t, v1.Closed(), "a run still holds the old snapshot")

	res := held.Matcher.Match(line(0, "Heavy Whip", "1", "1", "1", "ea"))
	assert.True(t, res.Matched)

	release()
	assert.True(t, v1.Closed())
	assert.False(t, v2.Closed())

	t.Run("swapping in the same snapshot keeps it open", func(t *testing.T) {
		holder.Swap(v2)
		assert.False(t, v2.Closed())
	})

	t.Run("close retires the current snapshot", func(t *testing.T) {
		holder.Close()
		assert.True(t, v2.Closed())
		assert.Nil(t, holder.Current())

		tables, release := holder.Acquire()
		assert.Nil(t, tables)
		release()
	})
}

func TestHolder_BatchKeepsSnapshotOpen(t *testing.T) {
	v1 := testTables(t, "")
	holder := NewHolder(v1)
	p := testPipeline(t, holder, nil)

	batch, err := p.RunBatch(context.Background(), []*receipt.Receipt{rdReceipt(line(0, "Dish Soap", "1", "2", "2", "ea"))})
	require.NoError(t, err)
	assert.Equal(t, "2026.10", batch.TablesVersion)
	assert.False(t, v1.Closed(), "released but still published")

	holder.Swap(testTables(t, "2026.11"))
	assert.True(t, v1.Closed())
}

func TestPipeline_BatchMatchesSequentialRuns(t *testing.T) {
	build := func() []*receipt.Receipt {
		g := receipt.NewTestDataGeneratorWithSeed(11)
		out := make([]*receipt.Receipt, 8)
		for i := range out {
			out[i] = g.Receipt("RD", append(g.LineItems(5), g.DuplicateLines(5, 2)...))
		}
		return out
	}

	p := testPipeline(t, NewHolder(testTables(t, "")), nil)

	concurrent := build()
	_, err := p.RunBatch(context.Background(), concurrent)
	require.NoError(t, err)

	sequential := build()
	for _, rec := range sequential {
		_, err := p.Run(context.Background(), rec)
		require.NoError(t, err)
	}

	for i := range concurrent {
		require.Len(t, concurrent[i].Items, len(sequential[i].Items))
		for j := range concurrent[i].Items {
			a, b := concurrent[i].Items[j], sequential[i].Items[j]
			assert.Equal(t, a.CategoryL2, b.CategoryL2)
			assert.Equal(t, a.CatalogProductID, b.CatalogProductID)
			assert.True(t, a.LineTotal.Equal(b.LineTotal))
			assert.Equal(t, a.ReviewReasons, b.ReviewReasons)
		}
	}
}

// ============================================================================
// Metrics
// ============================================================================

func TestPipeline_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := testPipeline(t, NewHolder(testTables(t, "")), m)

	rec := rdReceipt(
		line(0, "Item #A1234 Dish Soap 32oz", "1", "3.99", "3.99", "ea"),
		line(1, "Widget Assembly", "1", "5.00", "5.00", "ea"),
		line(2, "012345678905 Lemons", "1", "3.00", "3.00", "ea"),
		line(3, "012345678905 Lemons", "1", "3.00", "3.00", "ea"),
	)
	_, err := p.RunBatch(context.Background(), []*receipt.Receipt{rec})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.receipts))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.items))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifications.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.matches.WithLabelValues(matching.StrategyCatalogCode)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("merged")))
	assert.Zero(t, testutil.ToFloat64(m.reconciliations.WithLabelValues("fixed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "receipt_normalizer_receipts_processed_total")
	assert.Contains(t, names, "receipt_normalizer_batch_duration_seconds")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeClassification("keyword")
		m.observeMatch("")
		m.observeReceipt(ReceiptReport{Items: 1})
		m.observeBatch(time.Second)
	})
}

func TestNewTables(t *testing.T) {
	_, err := NewTables(categorization.DefaultRuleTable(), nil, matching.Options{}, nil)
	assert.ErrorIs(t, err, matching.ErrEmptyCatalog)

	catalog, err := matching.NewCatalog([]matching.Entry{{ProductID: "P1", Name: "x"}})
	require.NoError(t, err)
	defer catalog.Close()
	_, err = NewTables(&categorization.RuleTable{}, catalog, matching.Options{}, nil)
	assert.ErrorIs(t, err, categorization.ErrEmptyRuleTable)

	assert.Equal(t, "2026.10", testTables(t, "").Version())

	var none *Tables
	assert.Empty(t, none.Version())
}
