package matching

import (
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
)

// Match strategies, in lookup order
const (
	StrategyBarcode     = "barcode"
	StrategyCatalogCode = "catalog_code"
	StrategyExact       = "exact"
	StrategyFuzzy       = "fuzzy"
	StrategyWord        = "word"
	StrategyFee         = "fee"
)

const wordMatchScore = 0.5

// Options configure a Matcher
type Options struct {
	// MinSimilarity is the lowest accepted fuzzy ratio; zero means the default.
	MinSimilarity float64
	// Aliases rewrite a receipt phrase to a catalog name before lookup.
	Aliases map[string]string
}

// Result describes how an item was matched
type Result struct {
	Matched   bool
	Strategy  string
	Score     float64
	ProductID string
	UoMID     string
	Entry     Entry
	Converted bool
}

// Matcher resolves line items to catalog products
type Matcher struct {
	catalog       *Catalog
	minSimilarity float64
	aliases       map[string]string
	logger        *slog.Logger
}

// NewMatcher creates a matcher over catalog
func NewMatcher(catalog *Catalog, opts Options, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}

	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = DefaultMinSimilarity
	}

	aliases := make(map[string]string, len(opts.Aliases))
	for from, to := range opts.Aliases {
		if key := NormalizeName(from); key != "" {
			aliases[key] = NormalizeName(to)
		}
	}

	return &Matcher{
		catalog:       catalog,
		minSimilarity: minSim,
		aliases:       aliases,
		logger:        logger,
	}
}

// Match looks item up without modifying it. The first strategy that finds
// an entry wins.
func (m *Matcher) Match(item *receipt.LineItem) Result {
	if item.IsFee {
		if item.FeeType == "" {
			return Result{}
		}
		if idx, ok := m.catalog.lookupFee(item.FeeType); ok {
			return m.result(idx, StrategyFee, 1)
		}
		return Result{}
	}

	if idx, ok := m.catalog.lookupBarcode(item.Barcode); ok {
		return m.result(idx, StrategyBarcode, 1)
	}
	if idx, ok := m.catalog.lookupCode(item.CatalogCode); ok {
		return m.result(idx, StrategyCatalogCode, 1)
	}

	query := m.query(item.Description())
	if query == "" {
		return Result{}
	}

	if idx, ok := m.catalog.lookupName(query); ok {
		return m.result(idx, StrategyExact, 1)
	}
	if idx, score, ok := m.catalog.bestFuzzy(query, m.minSimilarity); ok {
		return m.result(idx, StrategyFuzzy, score)
	}

	for _, word := range significantWords(query) {
		idx, ok, err := m.catalog.words.Lookup(word)
		if err != nil {
			m.logger.Warn("word index lookup failed", slog.String("word", word), slog.Any("error", err))
			break
		}
		if ok {
			return m.result(idx, StrategyWord, wordMatchScore)
		}
	}
	return Result{}
}

// Apply matches item and records the outcome on it, converting weight-based
// quantities when the matched entry declares a ratio. A miss leaves the
// product and UoM ids empty and flags the item for review. Fee lines without
// a fee product are left alone. A match resolves the no-match reason left by
// an earlier run over the same item, e.g. before a catalog refresh.
func (m *Matcher) Apply(item *receipt.LineItem) Result {
	res := m.Match(item)
	if !res.Matched {
		if !item.IsFee {
			item.AddReviewReason(NoMatchReason(item.Description()))
			m.logger.Debug("no catalog match",
				slog.Int("index", item.Index),
				slog.String("description", item.Description()),
			)
		}
		return res
	}

	item.CatalogProductID = res.ProductID
	item.MatchStrategy = res.Strategy
	item.MatchScore = res.Score
	item.ResolveReviewReason(NoMatchReason(item.Description()))

	if res.Strategy != StrategyFee {
		res.Converted = ApplyConversion(item, res.Entry.Ratio(), res.Entry.UoM)
		if res.Converted {
			m.logger.Debug("unit conversion applied",
				slog.Int("index", item.Index),
				slog.String("ratio", res.Entry.Ratio().String()),
				slog.String("quantity", item.Quantity.String()),
			)
		}

		res.UoMID = m.resolveUoM(res.Entry, item.UnitOfMeasure)
		if res.UoMID == "" {
			item.AddReviewReason(UnresolvedUoMReason(item.UnitOfMeasure, res.ProductID))
		} else {
			item.ResolveReviewReason(UnresolvedUoMReason(item.UnitOfMeasure, res.ProductID))
		}
	}
	item.CatalogUoMID = res.UoMID

	m.logger.Debug("line item matched",
		slog.Int("index", item.Index),
		slog.String("product_id", res.ProductID),
		slog.String("strategy", res.Strategy),
		slog.Float64("score", res.Score),
	)
	return res
}

// NoMatchReason is the review reason recorded for an unmatched description
func NoMatchReason(description string) string {
	return fmt.Sprintf("no catalog match for '%s'", description)
}

// UnresolvedUoMReason is the review reason recorded when a matched item's
// unit has no catalog UoM
func UnresolvedUoMReason(unit, productID string) string {
	return fmt.Sprintf("no catalog unit of measure for '%s' on product %s", unit, productID)
}

// resolveUoM picks the catalog UoM id for a matched item: the entry's own
// id, then the entry's unit name, then the item's unit token after any
// conversion.
func (m *Matcher) resolveUoM(e Entry, unit string) string {
	if e.UoMID != "" {
		return e.UoMID
	}
	if id, ok := m.catalog.LookupUoM(e.UoM); ok {
		return id
	}
	if id, ok := m.catalog.LookupUoM(unit); ok {
		return id
	}
	return ""
}

// MinSimilarity returns the configured fuzzy threshold
func (m *Matcher) MinSimilarity() float64 {
	return m.minSimilarity
}

func (m *Matcher) query(description string) string {
	q := NormalizeName(description)
	if alias, ok := m.aliases[q]; ok && alias != "" {
		return alias
	}
	return q
}

func (m *Matcher) result(idx int, strategy string, score float64) Result {
	e := m.catalog.Entry(idx)
	return Result{
		Matched:   true,
		Strategy:  strategy,
		Score:     score,
		ProductID: e.ProductID,
		UoMID:     e.UoMID,
		Entry:     e,
	}
}
