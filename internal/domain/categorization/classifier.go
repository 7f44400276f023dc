package categorization

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
)

// DefaultReviewThreshold flags items classified below this confidence
const DefaultReviewThreshold = 0.60

// ReasonUncategorized is attached to items that only the fallback stage matched
const ReasonUncategorized = "uncategorized: no classification rule matched"

// Result is the outcome of classifying one line item
type Result struct {
	L2          string
	L1          string
	Source      string
	RuleID      string
	Confidence  float64
	Stage       StageKind
	NeedsReview bool
}

// Classifier assigns L2/L1 categories by running the compiled stages in order.
// The first stage that matches decides. A Classifier is immutable once built
// and safe for concurrent use.
type Classifier struct {
	stages          []Stage
	taxonomy        Taxonomy
	fallbackL2      string
	fallbackConf    float64
	reviewThreshold float64
	version         string
	logger          *slog.Logger
}

// NewClassifier compiles a rule table
func NewClassifier(table *RuleTable, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if table == nil || table.isEmpty() {
		return nil, ErrEmptyRuleTable
	}
	if err := table.validateConfidence(); err != nil {
		return nil, fmt.Errorf("failed to compile rule table: %w", err)
	}

	conf := withConfidenceDefaults(table.Confidence)
	taxonomy := DefaultTaxonomy().merge(table.Taxonomy)

	comp := &compiler{table: table, taxonomy: taxonomy, conf: conf, logger: logger}
	stages, err := comp.stages()
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule table: %w", err)
	}

	c := &Classifier{
		stages:          stages,
		taxonomy:        taxonomy,
		fallbackL2:      coalesce(table.FallbackL2, FallbackL2),
		fallbackConf:    conf.Fallback,
		reviewThreshold: DefaultReviewThreshold,
		version:         table.Version,
		logger:          logger,
	}
	if table.ReviewThreshold != nil {
		c.reviewThreshold = *table.ReviewThreshold
	}

	logger.Info("classifier compiled",
		slog.String("version", c.version),
		slog.Int("stages", len(stages)),
		slog.Float64("review_threshold", c.reviewThreshold),
	)
	return c, nil
}

// Classify returns the category for item without modifying it
func (c *Classifier) Classify(item *receipt.LineItem, origin receipt.Origin) Result {
	for _, st := range c.stages {
		m, ok := c.evaluate(st, item, origin)
		if !ok {
			continue
		}

		l1 := m.l1
		if l1 == "" {
			l1 = c.taxonomy.L1For(m.l2)
		}
		conf := roundConfidence(m.confidence)
		return Result{
			L2:          m.l2,
			L1:          l1,
			Source:      m.source,
			RuleID:      m.ruleID,
			Confidence:  conf,
			Stage:       st.Kind,
			NeedsReview: st.Kind == StageFallback || conf < c.reviewThreshold,
		}
	}

	// stage order always ends with the fallback; reached only with no stages
	return c.fallbackResult()
}

// Apply classifies item and writes the result onto it
func (c *Classifier) Apply(item *receipt.LineItem, origin receipt.Origin) Result {
	res := c.Classify(item, origin)

	item.CategoryL2 = res.L2
	item.CategoryL1 = res.L1
	item.ClassificationSource = res.Source
	item.ClassificationRuleID = res.RuleID
	item.ClassificationConfidence = res.Confidence

	switch {
	case res.Stage == StageFallback:
		item.AddReviewReason(ReasonUncategorized)
	case res.NeedsReview:
		item.AddReviewReason(fmt.Sprintf("low classification confidence %.2f (threshold %.2f)", res.Confidence, c.reviewThreshold))
	}

	c.logger.Debug("line item classified",
		slog.Int("index", item.Index),
		slog.String("l2", res.L2),
		slog.String("source", res.Source),
		slog.String("rule_id", res.RuleID),
	)
	return res
}

// Version returns the version string of the compiled rule table
func (c *Classifier) Version() string {
	return c.version
}

// ReviewThreshold returns the confidence below which items are flagged
func (c *Classifier) ReviewThreshold() float64 {
	return c.reviewThreshold
}

func (c *Classifier) evaluate(st Stage, item *receipt.LineItem, origin receipt.Origin) (match, bool) {
	switch st.Kind {
	case StageSourceMap:
		return st.sourceMap.match(item, origin)
	case StageVendorOverride:
		return st.vendor.match(item, origin)
	case StageKeyword:
		return st.keyword.match(item)
	case StageHeuristic:
		return st.heuristic.matchItem(item)
	case StageSpecialOverride:
		return st.special.match(item)
	case StageFallback:
		return match{l2: c.fallbackL2, source: "fallback", ruleID: "fallback", confidence: c.fallbackConf}, true
	default:
		c.logger.Error("unknown stage kind", slog.String("stage", st.Kind.String()))
		return match{}, false
	}
}

func (c *Classifier) fallbackResult() Result {
	return Result{
		L2:          c.fallbackL2,
		L1:          c.taxonomy.L1For(c.fallbackL2),
		Source:      "fallback",
		RuleID:      "fallback",
		Confidence:  roundConfidence(c.fallbackConf),
		Stage:       StageFallback,
		NeedsReview: true,
	}
}

func withConfidenceDefaults(c ConfidenceDefaults) ConfidenceDefaults {
	if c.SourceMap <= 0 {
		c.SourceMap = 0.95
	}
	if c.VendorOverride <= 0 {
		c.VendorOverride = 0.95
	}
	if c.Keyword <= 0 {
		c.Keyword = 0.80
	}
	if c.Heuristic <= 0 {
		c.Heuristic = 0.85
	}
	if c.Fallback <= 0 {
		c.Fallback = 0.20
	}
	return c
}

func roundConfidence(v float64) float64 {
	return math.Round(v*100) / 100
}
