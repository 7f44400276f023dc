// Package receipt defines the line-item record threaded through every
// normalization stage, plus the receipt envelope that scopes reconciliation.
package receipt

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FixStatus records what the amount reconciler did to an item
type FixStatus string

const (
	FixNone    FixStatus = ""
	FixFixed   FixStatus = "fixed"
	FixFlagged FixStatus = "flagged"
	FixMerged  FixStatus = "merged"
)

// LineItem is one product or fee row from a receipt. Stages only add or
// normalize fields; RawDescription is never rewritten after creation.
type LineItem struct {
	ID    uuid.UUID `json:"id"`
	Index int       `json:"index"` // position in the source receipt

	RawDescription   string `json:"raw_description"`
	CleanDescription string `json:"clean_description"`
	Barcode          string `json:"barcode,omitempty"`
	CatalogCode      string `json:"catalog_code,omitempty"`
	SizeSpec         string `json:"size_spec,omitempty"`
	NoCharge         bool   `json:"no_charge,omitempty"`

	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	LineTotal     decimal.Decimal `json:"line_total"`
	UnitOfMeasure string          `json:"unit_of_measure"`

	IsFee   bool   `json:"is_fee"`
	FeeType string `json:"fee_type,omitempty"`

	// Source-channel metadata, populated by structured feeds only
	Department   string `json:"department,omitempty"`
	CategoryPath string `json:"category_path,omitempty"`
	Aisle        string `json:"aisle,omitempty"`
	Seller       string `json:"seller,omitempty"`

	CategoryL1               string  `json:"category_l1,omitempty"`
	CategoryL2               string  `json:"category_l2,omitempty"`
	ClassificationSource     string  `json:"classification_source,omitempty"`
	ClassificationRuleID     string  `json:"classification_rule_id,omitempty"`
	ClassificationConfidence float64 `json:"classification_confidence"`

	NeedsReview   bool     `json:"needs_review"`
	ReviewReasons []string `json:"review_reasons,omitempty"`

	CatalogProductID string  `json:"catalog_product_id,omitempty"`
	CatalogUoMID     string  `json:"catalog_uom_id,omitempty"`
	MatchStrategy    string  `json:"match_strategy,omitempty"`
	MatchScore       float64 `json:"match_score,omitempty"`

	UoMConversionApplied bool            `json:"uom_conversion_applied"`
	UoMConversionRatio   decimal.Decimal `json:"uom_conversion_ratio"`
	OriginalQuantity     decimal.Decimal `json:"original_quantity"`
	OriginalUnitPrice    decimal.Decimal `json:"original_unit_price"`
	OriginalUoM          string          `json:"original_uom,omitempty"`

	FixStatus         FixStatus       `json:"fix_status,omitempty"`
	FixReason         string          `json:"fix_reason,omitempty"`
	FixScorePct       float64         `json:"fix_score_pct,omitempty"`
	OriginalLineTotal decimal.Decimal `json:"original_line_total"`
	MergedFrom        []uuid.UUID     `json:"merged_from,omitempty"`
	ReconciledAt      *time.Time      `json:"reconciled_at,omitempty"`
}

// NewLineItem creates an item for one raw receipt row
func NewLineItem(index int, raw string, quantity, unitPrice, lineTotal decimal.Decimal, uom string) *LineItem {
	return &LineItem{
		ID:             uuid.New(),
		Index:          index,
		RawDescription: raw,
		Quantity:       quantity,
		UnitPrice:      unitPrice,
		LineTotal:      lineTotal,
		UnitOfMeasure:  uom,
	}
}

// Description returns the best available description for matching
func (li *LineItem) Description() string {
	if li.CleanDescription != "" {
		return li.CleanDescription
	}
	return strings.TrimSpace(li.RawDescription)
}

// AddReviewReason flags the item and appends reason unless it is already recorded.
func (li *LineItem) AddReviewReason(reason string) {
	li.NeedsReview = true
	if reason == "" || slices.Contains(li.ReviewReasons, reason) {
		return
	}
	li.ReviewReasons = append(li.ReviewReasons, reason)
}

// ResolveReviewReason removes exactly reason. The review flag stays set while
// any other reason remains.
func (li *LineItem) ResolveReviewReason(reason string) bool {
	idx := slices.Index(li.ReviewReasons, reason)
	if idx < 0 {
		return false
	}
	li.ReviewReasons = slices.Delete(li.ReviewReasons, idx, idx+1)
	li.NeedsReview = len(li.ReviewReasons) > 0
	return true
}

// Clone returns a deep copy
func (li *LineItem) Clone() *LineItem {
	cp := *li
	cp.ReviewReasons = slices.Clone(li.ReviewReasons)
	cp.MergedFrom = slices.Clone(li.MergedFrom)
	if li.ReconciledAt != nil {
		t := *li.ReconciledAt
		cp.ReconciledAt = &t
	}
	return &cp
}

// ReceiptTotals is read-only evidence for reconciliation
type ReceiptTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Origin identifies how a receipt arrived and who issued it
type Origin struct {
	Vendor string `json:"vendor"`
	Source string `json:"source"` // channel, e.g. "instacart", "amazon", "scan"
}

// Receipt is the unit of reconciliation. Items from different receipts are
// never clustered together.
type Receipt struct {
	ID     uuid.UUID     `json:"id"`
	Origin Origin        `json:"origin"`
	Items  []*LineItem   `json:"items"`
	Totals ReceiptTotals `json:"totals"`
}

// NewReceipt creates a receipt envelope
func NewReceipt(vendor, source string, items []*LineItem, totals ReceiptTotals) *Receipt {
	return &Receipt{
		ID:     uuid.New(),
		Origin: Origin{Vendor: vendor, Source: source},
		Items:  items,
		Totals: totals,
	}
}

// AssignIDs fills in missing receipt and item identifiers and drops nil
// items, e.g. after decoding receipts from an external feed.
func (r *Receipt) AssignIDs() {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.Items = slices.DeleteFunc(r.Items, func(item *LineItem) bool { return item == nil })
	for _, item := range r.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
	}
}
