package matching

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCatalog = errors.New("catalog has no usable entries")
	ErrInvalidRatio = errors.New("conversion ratio must be positive")
)

// Entry is one catalog product. ConversionRatio converts receipt units into
// catalog units (e.g. 4 bananas per lb); zero means no conversion.
type Entry struct {
	ProductID       string          `json:"product_id"`
	UoMID           string          `json:"uom_id,omitempty"`
	Name            string          `json:"name"`
	Aliases         []string        `json:"aliases,omitempty"`
	Barcode         string          `json:"barcode,omitempty"`
	CatalogCode     string          `json:"catalog_code,omitempty"`
	UoM             string          `json:"uom,omitempty"`
	ConversionRatio decimal.Decimal `json:"conversion_ratio"`
	FeeType         string          `json:"fee_type,omitempty"`
}

// Ratio returns the effective conversion ratio
func (e Entry) Ratio() decimal.Decimal {
	if e.ConversionRatio.IsZero() {
		return one
	}
	return e.ConversionRatio
}

type nameKey struct {
	name  string
	entry int
}

// Catalog is an indexed, read-only snapshot of catalog entries. Build it once
// per batch and share it between goroutines.
type Catalog struct {
	entries   []Entry
	keys      []nameKey // catalog order, used by the fuzzy scan
	byName    map[string]int
	byBarcode map[string]int
	byCode    map[string]int
	byFee     map[string]int
	uomIDs    map[string]string // canonical unit name to catalog UoM id
	uomNames  []string          // sorted keys of uomIDs
	words     *WordIndex
}

// NewCatalog indexes entries. When two entries claim the same name or
// identifier the first one wins.
func NewCatalog(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		byName:    make(map[string]int),
		byBarcode: make(map[string]int),
		byCode:    make(map[string]int),
		byFee:     make(map[string]int),
		uomIDs:    make(map[string]string),
	}

	wordDocs := make([][]string, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.ProductID) == "" {
			continue
		}
		if e.ConversionRatio.IsNegative() {
			return nil, fmt.Errorf("%w: product %s has ratio %s", ErrInvalidRatio, e.ProductID, e.ConversionRatio)
		}

		idx := len(c.entries)
		c.entries = append(c.entries, e)

		var words []string
		for _, raw := range append([]string{e.Name}, e.Aliases...) {
			name := NormalizeName(raw)
			if name == "" {
				continue
			}
			if _, exists := c.byName[name]; !exists {
				c.byName[name] = idx
				c.keys = append(c.keys, nameKey{name: name, entry: idx})
			}
			words = append(words, significantWords(name)...)
		}
		wordDocs = append(wordDocs, words)

		if key := barcodeKey(e.Barcode); key != "" {
			putFirst(c.byBarcode, key, idx)
		}
		if key := codeKey(e.CatalogCode); key != "" {
			putFirst(c.byCode, key, idx)
		}
		if e.FeeType != "" {
			putFirst(c.byFee, strings.ToLower(e.FeeType), idx)
		}
		if name := NormalizeUoM(e.UoM); name != "" && e.UoMID != "" {
			if _, exists := c.uomIDs[name]; !exists {
				c.uomIDs[name] = e.UoMID
				c.uomNames = append(c.uomNames, name)
			}
		}
	}
	sort.Strings(c.uomNames)

	if len(c.entries) == 0 {
		return nil, ErrEmptyCatalog
	}

	words, err := NewWordIndex(wordDocs)
	if err != nil {
		return nil, fmt.Errorf("failed to build word index: %w", err)
	}
	c.words = words
	return c, nil
}

// Len returns the number of indexed entries
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Entry returns the entry at idx
func (c *Catalog) Entry(idx int) Entry {
	return c.entries[idx]
}

// Close releases the word index
func (c *Catalog) Close() error {
	if c.words == nil {
		return nil
	}
	return c.words.Close()
}

func (c *Catalog) lookupBarcode(barcode string) (int, bool) {
	idx, ok := c.byBarcode[barcodeKey(barcode)]
	return idx, ok && barcode != ""
}

func (c *Catalog) lookupCode(code string) (int, bool) {
	idx, ok := c.byCode[codeKey(code)]
	return idx, ok && code != ""
}

func (c *Catalog) lookupName(normalized string) (int, bool) {
	idx, ok := c.byName[normalized]
	return idx, ok
}

func (c *Catalog) lookupFee(feeType string) (int, bool) {
	idx, ok := c.byFee[strings.ToLower(feeType)]
	return idx, ok
}

// LookupUoM resolves a receipt unit token to a catalog UoM id: the
// canonical name first, then a unit name contained in the token or the
// token contained in a unit name.
func (c *Catalog) LookupUoM(token string) (string, bool) {
	name := NormalizeUoM(token)
	if name == "" {
		return "", false
	}
	if id, ok := c.uomIDs[name]; ok {
		return id, true
	}
	if len(name) < 2 {
		return "", false
	}
	for _, known := range c.uomNames {
		if len(known) >= 2 && (strings.Contains(name, known) || strings.Contains(known, name)) {
			return c.uomIDs[known], true
		}
	}
	return "", false
}

// barcodeKey drops GTIN zero padding so UPC-A, EAN-13 and GTIN-14 forms of
// the same code collide.
func barcodeKey(barcode string) string {
	var b strings.Builder
	for _, r := range barcode {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), "0")
}

func codeKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func putFirst(m map[string]int, key string, idx int) {
	if _, exists := m[key]; !exists {
		m[key] = idx
	}
}
