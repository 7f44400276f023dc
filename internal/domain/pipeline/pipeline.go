// Package pipeline runs the normalization stages over receipts: entity
// extraction, category classification, catalog matching and amount
// reconciliation, in that order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/categorization"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/extract"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
	"github.com/FACorreiaa/receipt-normalizer/internal/domain/reconcile"
)

const (
	tracerName     = "github.com/FACorreiaa/receipt-normalizer/pipeline"
	DefaultWorkers = 4
)

// Stage is one named step over a whole receipt. Stages mutate the receipt's
// items in place and never fail; problems end up as review reasons.
type Stage struct {
	Name string
	Run  func(rec *receipt.Receipt, tables *Tables, out *ReceiptReport)
}

// ReceiptReport summarizes one receipt
type ReceiptReport struct {
	ReceiptID     uuid.UUID `json:"receipt_id"`
	Items         int       `json:"items"`
	NeedsReview   int       `json:"needs_review"`
	Uncategorized int       `json:"uncategorized"`
	Unmatched     int       `json:"unmatched"`
	Converted     int       `json:"converted"`
	Fixed         int       `json:"fixed"`
	Flagged       int       `json:"flagged"`
	Merged        int       `json:"merged"`
	Removed       int       `json:"removed"`
	// Adjustment is the amount reconciliation added to the item totals
	Adjustment decimal.Decimal `json:"adjustment"`
}

// BatchReport aggregates a batch. Receipts is in input order.
type BatchReport struct {
	ID            uuid.UUID       `json:"id"`
	TablesVersion string          `json:"tables_version"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
	Receipts      []ReceiptReport `json:"receipts"`
	Items         int             `json:"items"`
	NeedsReview   int             `json:"needs_review"`
	Fixed         int             `json:"fixed"`
	Flagged       int             `json:"flagged"`
	Merged        int             `json:"merged"`
	Adjustment    decimal.Decimal `json:"adjustment"`
}

func (b *BatchReport) add(r ReceiptReport) {
	b.Items += r.Items
	b.NeedsReview += r.NeedsReview
	b.Fixed += r.Fixed
	b.Flagged += r.Flagged
	b.Merged += r.Merged
	b.Adjustment = b.Adjustment.Add(r.Adjustment)
}

// Options configure a Pipeline
type Options struct {
	// Workers bounds concurrent receipts in RunBatch; zero means DefaultWorkers
	Workers int
	Metrics *Metrics
	// Tracer defaults to the global otel provider
	Tracer trace.Tracer
}

// Pipeline is safe for concurrent use. Table snapshots come from the holder
// at the start of each run.
type Pipeline struct {
	tables     *Holder
	extractor  *extract.Extractor
	reconciler *reconcile.Reconciler
	stages     []Stage
	workers    int
	metrics    *Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New creates a pipeline with the standard stage list
func New(tables *Holder, extractor *extract.Extractor, reconciler *reconcile.Reconciler, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	p := &Pipeline{
		tables:     tables,
		extractor:  extractor,
		reconciler: reconciler,
		workers:    workers,
		metrics:    opts.Metrics,
		tracer:     tracer,
		logger:     logger,
	}
	p.stages = []Stage{
		{Name: "extract", Run: p.extractStage},
		{Name: "classify", Run: p.classifyStage},
		{Name: "match", Run: p.matchStage},
		{Name: "reconcile", Run: p.reconcileStage},
	}
	return p
}

// Stages returns the stage names in execution order
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run normalizes a single receipt in place against the current snapshot
func (p *Pipeline) Run(ctx context.Context, rec *receipt.Receipt) (ReceiptReport, error) {
	tables, release := p.tables.Acquire()
	defer release()
	if tables == nil {
		return ReceiptReport{}, ErrNoTables
	}
	if rec == nil {
		return ReceiptReport{}, nil
	}
	return p.process(ctx, rec, tables), nil
}

// RunBatch normalizes receipts concurrently. All receipts share the snapshot
// current at batch start. Receipts are independent: a reconciler cluster
// never spans two of them.
func (p *Pipeline) RunBatch(ctx context.Context, receipts []*receipt.Receipt) (*BatchReport, error) {
	tables, release := p.tables.Acquire()
	defer release()
	if tables == nil {
		return nil, ErrNoTables
	}

	batch := &BatchReport{
		ID:            uuid.New(),
		TablesVersion: tables.Version(),
		StartedAt:     time.Now().UTC(),
		Receipts:      make([]ReceiptReport, len(receipts)),
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.batch", trace.WithAttributes(
		attribute.String("batch.id", batch.ID.String()),
		attribute.String("tables.version", batch.TablesVersion),
		attribute.Int("batch.receipts", len(receipts)),
	))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, rec := range receipts {
		if rec == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch.Receipts[i] = p.process(gctx, rec, tables)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch cancelled")
		return nil, fmt.Errorf("failed to run batch %s: %w", batch.ID, err)
	}

	for _, r := range batch.Receipts {
		batch.add(r)
	}
	batch.Duration = time.Since(batch.StartedAt)
	p.metrics.observeBatch(batch.Duration)

	span.SetAttributes(
		attribute.Int("batch.items", batch.Items),
		attribute.Int("batch.needs_review", batch.NeedsReview),
	)
	p.logger.Info("batch processed",
		slog.String("batch_id", batch.ID.String()),
		slog.String("tables_version", batch.TablesVersion),
		slog.Int("receipts", len(receipts)),
		slog.Int("items", batch.Items),
		slog.Int("needs_review", batch.NeedsReview),
		slog.Int("fixed", batch.Fixed),
		slog.Int("flagged", batch.Flagged),
		slog.Int("merged", batch.Merged),
		slog.Duration("duration", batch.Duration),
	)
	return batch, nil
}

func (p *Pipeline) process(ctx context.Context, rec *receipt.Receipt, tables *Tables) ReceiptReport {
	_, span := p.tracer.Start(ctx, "pipeline.receipt", trace.WithAttributes(
		attribute.String("receipt.id", rec.ID.String()),
		attribute.String("receipt.vendor", rec.Origin.Vendor),
		attribute.String("receipt.source", rec.Origin.Source),
		attribute.Int("receipt.items_in", len(rec.Items)),
	))
	defer span.End()

	out := ReceiptReport{ReceiptID: rec.ID}
	for _, st := range p.stages {
		st.Run(rec, tables, &out)
	}

	out.Items = len(rec.Items)
	for _, it := range rec.Items {
		if it.NeedsReview {
			out.NeedsReview++
		}
	}
	p.metrics.observeReceipt(out)

	span.SetAttributes(
		attribute.Int("receipt.items_out", out.Items),
		attribute.Int("receipt.needs_review", out.NeedsReview),
	)
	return out
}

func (p *Pipeline) extractStage(rec *receipt.Receipt, _ *Tables, _ *ReceiptReport) {
	for _, it := range rec.Items {
		p.extractor.Apply(it)
	}
}

func (p *Pipeline) classifyStage(rec *receipt.Receipt, tables *Tables, out *ReceiptReport) {
	for _, it := range rec.Items {
		res := tables.Classifier.Apply(it, rec.Origin)
		if res.Stage == categorization.StageFallback {
			out.Uncategorized++
		}
		p.metrics.observeClassification(res.Stage.String())
	}
}

func (p *Pipeline) matchStage(rec *receipt.Receipt, tables *Tables, out *ReceiptReport) {
	for _, it := range rec.Items {
		res := tables.Matcher.Apply(it)
		if !res.Matched && !it.IsFee {
			out.Unmatched++
		}
		if res.Converted {
			out.Converted++
		}
		p.metrics.observeMatch(res.Strategy)
	}
}

func (p *Pipeline) reconcileStage(rec *receipt.Receipt, _ *Tables, out *ReceiptReport) {
	r := p.reconciler.Reconcile(rec)
	out.Fixed = r.Fixed
	out.Flagged = r.Flagged
	out.Merged = r.Merged
	out.Removed = r.Removed
	out.Adjustment = r.Adjustment
}
