// Package reconcile corrects OCR amount errors on scanned receipts from
// vendors known to lose the leading digit of right-aligned totals
// ("14.40" read as "4.40"), then merges duplicate rows of the same product.
package reconcile

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
	"github.com/FACorreiaa/receipt-normalizer/pkg/money"
	"github.com/shopspring/decimal"
)

const (
	weightDoc     = 0.50
	weightRow     = 0.35
	weightCluster = 0.15

	acceptScore       = 0.80
	acceptImprovement = 0.80
	mergeTolerance    = 0.20
	epsilon           = 1e-6

	ReasonFixed   = "missing leading digit; improved row/document/cluster consistency"
	ReasonFlagged = "suspicious short amount; insufficient evidence to auto-fix"
)

var (
	suspiciousTotal = decimal.NewFromInt(10)
	medianLow       = decimal.NewFromInt(10)
	medianHigh      = decimal.NewFromInt(30)
	rowTolerance    = decimal.New(1, -2)
	digitOffsets    = []decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(20)}
)

// Config configures a Reconciler
type Config struct {
	// Vendors lists the vendor codes the correction applies to
	Vendors []string
	// Currency used for cent-exact sums; empty means money.DefaultCurrency
	Currency string
	// Now stamps ReconciledAt; defaults to time.Now
	Now func() time.Time
}

// Report summarizes one receipt pass
type Report struct {
	Eligible bool
	Fixed    int
	Flagged  int
	Merged   int // clusters collapsed
	Removed  int // rows dropped by merging
	// Adjustment is the amount accepted corrections added to the receipt
	Adjustment decimal.Decimal
}

// Reconciler is immutable after construction and safe for concurrent use
// across receipts.
type Reconciler struct {
	vendors  map[string]bool
	currency string
	now      func() time.Time
	logger   *slog.Logger
}

// NewReconciler creates a reconciler for the given vendor set
func NewReconciler(cfg Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	vendors := make(map[string]bool, len(cfg.Vendors))
	for _, v := range cfg.Vendors {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			vendors[v] = true
		}
	}
	currency := cfg.Currency
	if currency == "" {
		currency = money.DefaultCurrency
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{vendors: vendors, currency: currency, now: now, logger: logger}
}

// Eligible reports whether vendor is in scope
func (r *Reconciler) Eligible(vendor string) bool {
	return r.vendors[strings.ToUpper(strings.TrimSpace(vendor))]
}

// Reconcile corrects and merges rec.Items in place. Receipts from other
// vendors are returned untouched. Totals are read, never written.
func (r *Reconciler) Reconcile(rec *receipt.Receipt) Report {
	if rec == nil || !r.Eligible(rec.Origin.Vendor) || len(rec.Items) == 0 {
		return Report{}
	}

	report := Report{Eligible: true}
	stamp := r.now().UTC()
	clusters := buildClusters(rec.Items)

	for _, c := range clusters {
		for _, idx := range c.members {
			switch r.correct(rec, idx, c) {
			case receipt.FixFixed:
				report.Fixed++
				it := rec.Items[idx]
				it.ReconciledAt = &stamp
				report.Adjustment = report.Adjustment.Add(money.Diff(r.currency, it.LineTotal, it.OriginalLineTotal))
			case receipt.FixFlagged:
				report.Flagged++
				rec.Items[idx].ReconciledAt = &stamp
			}
		}
	}

	removed := make(map[int]bool)
	for _, c := range clusters {
		if dropped, ok := r.merge(rec.Items, c, stamp); ok {
			report.Merged++
			for _, idx := range dropped {
				removed[idx] = true
			}
		}
	}

	if len(removed) > 0 {
		kept := make([]*receipt.LineItem, 0, len(rec.Items)-len(removed))
		for i, it := range rec.Items {
			if !removed[i] {
				kept = append(kept, it)
			}
		}
		rec.Items = kept
		report.Removed = len(removed)
	}

	r.logger.Debug("receipt reconciled",
		slog.String("receipt_id", rec.ID.String()),
		slog.Int("fixed", report.Fixed),
		slog.Int("flagged", report.Flagged),
		slog.Int("merged", report.Merged),
		slog.String("adjustment", money.Display(report.Adjustment, r.currency)),
	)
	return report
}

// correct evaluates one item and applies or flags a correction
func (r *Reconciler) correct(rec *receipt.Receipt, idx int, c *cluster) receipt.FixStatus {
	item := rec.Items[idx]
	if !r.suspicious(item, c) {
		return receipt.FixNone
	}

	total := item.LineTotal.Round(2)
	candidates := make([]decimal.Decimal, 0, 3)
	for _, off := range digitOffsets {
		candidates = append(candidates, total.Add(off))
	}
	if item.Quantity.IsPositive() {
		candidates = append(candidates, c.median.Mul(item.Quantity).Round(2))
	}

	ev := r.evidence(rec, item, c)
	origScore := ev.score(total)
	bestScore, best := origScore, total
	for _, cand := range candidates {
		if s := ev.score(cand); s > bestScore {
			bestScore, best = s, cand
		}
	}
	improvement := (bestScore - origScore) / math.Max(epsilon, 1-origScore)
	pct := math.Round(bestScore*1000) / 10

	if !best.Equal(total) && bestScore >= acceptScore && improvement >= acceptImprovement {
		item.OriginalLineTotal = item.LineTotal
		item.LineTotal = best
		if item.Quantity.IsPositive() {
			item.UnitPrice = best.Div(item.Quantity).Round(2)
		}
		item.FixStatus = receipt.FixFixed
		item.FixReason = ReasonFixed
		item.FixScorePct = pct

		r.logger.Info("amount corrected",
			slog.String("receipt_id", rec.ID.String()),
			slog.Int("index", item.Index),
			slog.String("from", money.Display(total, r.currency)),
			slog.String("to", money.Display(best, r.currency)),
			slog.Float64("score", bestScore),
		)
		return receipt.FixFixed
	}

	item.FixStatus = receipt.FixFlagged
	item.FixReason = ReasonFlagged
	item.FixScorePct = pct
	item.AddReviewReason(fmt.Sprintf("suspicious short amount %s (best candidate score %.1f%%)", total.StringFixed(2), pct))

	r.logger.Info("amount flagged",
		slog.String("receipt_id", rec.ID.String()),
		slog.Int("index", item.Index),
		slog.String("total", total.StringFixed(2)),
		slog.Float64("best_score", bestScore),
	)
	return receipt.FixFlagged
}

// suspicious: a small positive total in a cluster priced at 10-30 per unit,
// whose own row arithmetic does not already hold.
func (r *Reconciler) suspicious(item *receipt.LineItem, c *cluster) bool {
	total := item.LineTotal.Round(2)
	if !total.IsPositive() || !total.LessThan(suspiciousTotal) {
		return false
	}
	if !c.hasMed || c.median.LessThan(medianLow) || c.median.GreaterThan(medianHigh) {
		return false
	}
	if item.UnitPrice.IsPositive() && item.Quantity.IsPositive() &&
		money.Within(item.UnitPrice.Mul(item.Quantity), total, rowTolerance) {
		return false
	}
	return true
}

// evidence collects everything a candidate is scored against
type evidence struct {
	quantity  float64
	unitPrice float64
	current   float64
	itemsSum  float64 // recomputed subtotal from the current item totals
	tax       float64
	target    float64 // printed grand total
	median    float64
}

func (r *Reconciler) evidence(rec *receipt.Receipt, item *receipt.LineItem, c *cluster) evidence {
	totals := make([]decimal.Decimal, len(rec.Items))
	for i, it := range rec.Items {
		totals[i] = it.LineTotal
	}

	target := rec.Totals.Total
	if target.IsZero() {
		target = rec.Totals.Subtotal.Add(rec.Totals.Tax)
	}

	ev := evidence{
		quantity:  item.Quantity.InexactFloat64(),
		unitPrice: item.UnitPrice.Round(2).InexactFloat64(),
		current:   item.LineTotal.Round(2).InexactFloat64(),
		itemsSum:  money.Sum(r.currency, totals...).InexactFloat64(),
		tax:       money.Round(rec.Totals.Tax, r.currency).InexactFloat64(),
		target:    money.Round(target, r.currency).InexactFloat64(),
	}
	if c.hasMed {
		ev.median = c.median.InexactFloat64()
	}
	return ev
}

// score is the weighted plausibility of replacing the item total with cand.
// Missing evidence contributes zero to its part.
func (ev evidence) score(cand decimal.Decimal) float64 {
	value := cand.InexactFloat64()

	row := 0.0
	if ev.quantity > 0 {
		expected := ev.unitPrice * ev.quantity
		row = 1 - math.Min(math.Abs(expected-value)/(math.Abs(expected)+epsilon), 1)
	}

	doc := 0.0
	if ev.target != 0 {
		recomputed := ev.itemsSum + (value - ev.current) + ev.tax
		doc = 1 - math.Min(math.Abs(recomputed-ev.target)/(math.Abs(ev.target)+epsilon), 1)
	}

	cl := 0.0
	if ev.median > 0 && ev.quantity > 0 {
		impliedUnit := value / ev.quantity
		cl = 1 - math.Min(math.Abs(impliedUnit-ev.median)/(ev.median+epsilon), 1)
	}

	total := weightDoc*doc + weightRow*row + weightCluster*cl
	return math.Max(0, math.Min(1, total))
}

// merge collapses a multi-member cluster into its earliest row. It returns
// the positions of the rows to drop.
func (r *Reconciler) merge(items []*receipt.LineItem, c *cluster, stamp time.Time) ([]int, bool) {
	members := make([]int, 0, len(c.members))
	for _, idx := range c.members {
		// a correction can never make a line discount-like, but re-check
		if eligible(items[idx]) {
			members = append(members, idx)
		}
	}
	if len(members) <= 1 {
		return nil, false
	}

	sumQty := decimal.Zero
	totals := make([]decimal.Decimal, 0, len(members))
	for _, idx := range members {
		sumQty = sumQty.Add(items[idx].Quantity)
		totals = append(totals, items[idx].LineTotal)
	}
	sumTotal := money.Sum(r.currency, totals...)
	if !sumQty.IsPositive() || !sumTotal.IsPositive() {
		return nil, false
	}

	rep := items[members[0]]
	stable := sumTotal.Div(sumQty).Round(2)
	unit := stable
	if c.hasMed && c.median.IsPositive() {
		drift := c.median.Sub(stable).Abs().Div(c.median)
		if drift.LessThanOrEqual(decimal.NewFromFloat(mergeTolerance)) {
			unit = c.median
		}
	}

	sources := make([]string, 0, len(members))
	rep.MergedFrom = rep.MergedFrom[:0]
	for _, idx := range members {
		rep.MergedFrom = append(rep.MergedFrom, items[idx].ID)
		sources = append(sources, fmt.Sprint(items[idx].Index))
	}
	rep.Quantity = sumQty
	rep.LineTotal = sumTotal
	rep.UnitPrice = unit
	for _, idx := range members[1:] {
		carryReview(rep, items[idx])
	}
	if rep.FixStatus == receipt.FixNone {
		rep.FixStatus = receipt.FixMerged
	}
	rep.ReconciledAt = &stamp

	r.logger.Info("duplicate lines merged",
		slog.Int("representative", rep.Index),
		slog.String("sources", strings.Join(sources, ",")),
		slog.String("quantity", sumQty.String()),
		slog.String("total", sumTotal.StringFixed(2)),
	)
	return members[1:], true
}

// carryReview keeps a dropped row's review state on the representative, so
// an unverified amount folded into the merged total stays flagged.
func carryReview(rep, dropped *receipt.LineItem) {
	if !dropped.NeedsReview && dropped.FixStatus != receipt.FixFlagged {
		return
	}
	rep.NeedsReview = true
	for _, reason := range dropped.ReviewReasons {
		rep.AddReviewReason(reason)
	}
	if dropped.FixStatus == receipt.FixFlagged &&
		rep.FixStatus != receipt.FixFixed && rep.FixStatus != receipt.FixFlagged {
		rep.FixStatus = receipt.FixFlagged
		rep.FixReason = dropped.FixReason
		rep.FixScorePct = dropped.FixScorePct
	}
}
