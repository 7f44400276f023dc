package reconcile

import (
	"regexp"
	"sort"
	"strings"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
	"github.com/shopspring/decimal"
)

// clusterKind ranks the evidence a cluster was keyed on
type clusterKind int

const (
	keyBarcode clusterKind = iota
	keyCatalogCode
	keyName
)

type clusterKey struct {
	kind  clusterKind
	value string
	uom   string
}

// cluster holds same-product lines of one receipt, in receipt order
type cluster struct {
	key     clusterKey
	members []int // positions in Receipt.Items
	median  decimal.Decimal
	hasMed  bool
}

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

	// vendor boilerplate and storage words that vary between duplicate rows
	nameNoise = map[string]bool{
		"rd": true, "restaurant": true, "depot": true,
		"frozen": true, "fz": true, "whl": true, "whole": true,
	}

	discountWords = []string{"discount", "coupon", "refund", "promo", "return"}
)

// normalizeName lowercases, drops punctuation and noise tokens, and sorts
// the remaining tokens so word order does not split a cluster.
func normalizeName(name string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(name), " ")
	tokens := strings.Fields(s)
	kept := tokens[:0]
	for _, t := range tokens {
		if !nameNoise[t] {
			kept = append(kept, t)
		}
	}
	sort.Strings(kept)
	return strings.Join(kept, " ")
}

func keyFor(item *receipt.LineItem) clusterKey {
	if b := strings.TrimSpace(item.Barcode); b != "" {
		return clusterKey{kind: keyBarcode, value: b}
	}
	if c := strings.TrimSpace(item.CatalogCode); c != "" {
		return clusterKey{kind: keyCatalogCode, value: c}
	}
	return clusterKey{kind: keyName, value: normalizeName(item.Description()), uom: strings.ToLower(strings.TrimSpace(item.UnitOfMeasure))}
}

func isDiscountLike(item *receipt.LineItem) bool {
	name := strings.ToLower(item.Description())
	for _, w := range discountWords {
		if strings.Contains(name, w) {
			return true
		}
	}
	return item.LineTotal.IsNegative()
}

// eligible lines take part in clustering
func eligible(item *receipt.LineItem) bool {
	return !item.IsFee && !isDiscountLike(item)
}

// buildClusters partitions eligible items. Clusters come back ordered by
// their first member so processing order never depends on map iteration.
func buildClusters(items []*receipt.LineItem) []*cluster {
	byKey := make(map[clusterKey]*cluster)
	var ordered []*cluster
	for i, it := range items {
		if !eligible(it) {
			continue
		}
		k := keyFor(it)
		c, ok := byKey[k]
		if !ok {
			c = &cluster{key: k}
			byKey[k] = c
			ordered = append(ordered, c)
		}
		c.members = append(c.members, i)
	}

	for _, c := range ordered {
		c.median, c.hasMed = medianUnitPrice(items, c.members)
	}
	return ordered
}

// derivedUnitPrice is the printed unit price, or total/quantity when the
// price is missing.
func derivedUnitPrice(item *receipt.LineItem) (decimal.Decimal, bool) {
	if item.UnitPrice.IsPositive() {
		return item.UnitPrice.Round(2), true
	}
	if item.Quantity.IsPositive() {
		up := item.LineTotal.Div(item.Quantity).Round(2)
		return up, up.IsPositive()
	}
	return decimal.Zero, false
}

func medianUnitPrice(items []*receipt.LineItem, members []int) (decimal.Decimal, bool) {
	vals := make([]decimal.Decimal, 0, len(members))
	for _, idx := range members {
		if up, ok := derivedUnitPrice(items[idx]); ok {
			vals = append(vals, up)
		}
	}
	if len(vals) == 0 {
		return decimal.Zero, false
	}

	sort.Slice(vals, func(i, j int) bool { return vals[i].LessThan(vals[j]) })
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid].Round(2), true
	}
	return vals[mid-1].Add(vals[mid]).Div(decimal.NewFromInt(2)).Round(2), true
}
