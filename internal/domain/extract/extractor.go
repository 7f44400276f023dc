// Package extract pulls embedded identifiers out of free-text product
// descriptions and leaves a de-noised description for matching.
package extract

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
)

// Result holds everything found in one description
type Result struct {
	Barcode          string
	CatalogCode      string
	CleanDescription string
	SizeSpec         string
	NoCharge         bool
	IsFee            bool
	FeeType          string
}

// IdentifierPattern is a pattern whose first submatch is the identifier.
// Span is the submatch that gets removed from the description.
type IdentifierPattern struct {
	Name    string
	Pattern *regexp.Regexp
	Span    int
	Value   int
}

// Extractor recognizes barcodes, catalog codes, sizes and fee lines
type Extractor struct {
	barcodes []IdentifierPattern
	codes    []IdentifierPattern
	fees     []FeePattern
	logger   *slog.Logger
}

// NewExtractor creates an extractor with the default pattern set
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		barcodes: defaultBarcodePatterns(),
		codes:    defaultCodePatterns(),
		fees:     defaultFeePatterns(),
		logger:   logger,
	}
}

var (
	// <barcode 8-14 digits> <item number 5-8 digits> - description
	vendorLinePattern = regexp.MustCompile(`^\s*(\d{8,14})\s+(\d{5,8})\s*[-–—]?\s*`)
	sizePattern       = regexp.MustCompile(`(?i)(?:^|[^0-9A-Za-z.])(\d+(?:\.\d+)?)\s*(fl\.?\s?oz|oz|lbs?|ct|sgal|gal|kg|ml|pk|pc|g|l)\b`)
	noChargePattern   = regexp.MustCompile(`(?i)\bno\s*charge\b|\bn/c\b`)
	spacePattern      = regexp.MustCompile(`\s+`)
	separatorPattern  = regexp.MustCompile(`[\s\-]`)
	digitsPattern     = regexp.MustCompile(`^\d+$`)
	digitGroupPattern = regexp.MustCompile(`\d+`)
	sizeTokenPattern  = regexp.MustCompile(`(?i)^\d+(?:\.\d+)?(?:fl\.?oz|oz|lbs?|ct|sgal|gal|kg|ml|pk|pc|g|l)$`)
)

// minBarcodeGroups is the fewest printed groups a grouped barcode may keep
const minBarcodeGroups = 3

func defaultBarcodePatterns() []IdentifierPattern {
	return []IdentifierPattern{
		{
			Name:    "continuous",
			Pattern: regexp.MustCompile(`(?:^|[^0-9A-Za-z])(\d{12,14})(?:[^0-9]|$)`),
			Span:    1,
			Value:   1,
		},
		{
			// printed groups such as "0 12345 67890 5" or "01234-56789-05"
			Name:    "grouped",
			Pattern: regexp.MustCompile(`(?:^|[^0-9A-Za-z])(\d{1,6}(?:[ \-]\d{1,6}){2,4})(?:[^0-9]|$)`),
			Span:    1,
			Value:   1,
		},
	}
}

func defaultCodePatterns() []IdentifierPattern {
	return []IdentifierPattern{
		{
			Name:    "prefixed",
			Pattern: regexp.MustCompile(`(?i)\b((?:item\s*(?:no\.?|#|number|num\.?)?|sku|mfr|itm|rd)\s*[#:.]?\s*([A-Z0-9][A-Z0-9\-]{3,14}))\b`),
			Span:    1,
			Value:   2,
		},
		{
			Name:    "standalone",
			Pattern: regexp.MustCompile(`\b([A-Z]{2,}[0-9]{3,}[A-Z0-9]*|[0-9]{5,}[A-Z]{2,}[A-Z0-9]*)\b`),
			Span:    1,
			Value:   1,
		},
		{
			Name:    "line_start",
			Pattern: regexp.MustCompile(`^\s*([0-9]{5,10})\s+[A-Za-z]`),
			Span:    1,
			Value:   1,
		},
	}
}

// Extract scans a description. Identifiers found are removed and the search
// repeats on the remainder until nothing more is found, so extracting from
// an already clean description changes nothing.
func (e *Extractor) Extract(description string) Result {
	result := Result{}
	text := description

	// Every pass that finds something removes a span of at least four
	// characters, so the loop ends.
	for {
		text = cleanText(text)
		found := false

		if m := vendorLinePattern.FindStringSubmatchIndex(text); m != nil {
			if upc := text[m[2]:m[3]]; result.Barcode == "" && isValidBarcode(upc) {
				result.Barcode = upc
			}
			if result.CatalogCode == "" {
				result.CatalogCode = text[m[4]:m[5]]
			}
			text = text[m[1]:]
			found = true
		}

		if value, rest, ok := e.findBarcode(text); ok {
			if result.Barcode == "" {
				result.Barcode = value
			}
			text = rest
			found = true
		}

		if value, rest, ok := e.findCatalogCode(text); ok {
			if result.CatalogCode == "" {
				result.CatalogCode = value
			}
			text = rest
			found = true
		}

		if !found {
			break
		}
	}

	result.CleanDescription = text

	if m := sizePattern.FindStringSubmatch(result.CleanDescription); m != nil {
		unit := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(m[2], " ", ""), ".", ""))
		result.SizeSpec = m[1] + unit
	}

	result.NoCharge = noChargePattern.MatchString(description)

	if feeType, ok := e.detectFee(result.CleanDescription); ok {
		result.IsFee = true
		result.FeeType = feeType
	}

	return result
}

// Apply extracts from the item's raw description and fills derived fields.
// Identifiers already supplied by a structured feed are kept.
func (e *Extractor) Apply(item *receipt.LineItem) {
	res := e.Extract(item.RawDescription)

	item.CleanDescription = res.CleanDescription
	if item.Barcode == "" {
		item.Barcode = res.Barcode
	}
	if item.CatalogCode == "" {
		item.CatalogCode = res.CatalogCode
	}
	if item.SizeSpec == "" {
		item.SizeSpec = res.SizeSpec
	}
	item.NoCharge = item.NoCharge || res.NoCharge
	if res.IsFee && !item.IsFee {
		item.IsFee = true
		item.FeeType = res.FeeType
	}

	e.logger.Debug("entities extracted",
		slog.Int("index", item.Index),
		slog.String("barcode", item.Barcode),
		slog.String("catalog_code", item.CatalogCode),
		slog.Bool("is_fee", item.IsFee),
	)
}

func (e *Extractor) findBarcode(text string) (string, string, bool) {
	for _, p := range e.barcodes {
		for _, m := range p.Pattern.FindAllStringSubmatchIndex(text, -1) {
			start := m[2*p.Value]
			candidate, n, ok := barcodePrefix(text[start:m[2*p.Value+1]])
			if !ok {
				continue
			}
			return candidate, removeSpan(text, start, start+n), true
		}
	}
	return "", text, false
}

func (e *Extractor) findCatalogCode(text string) (string, string, bool) {
	for _, p := range e.codes {
		for _, m := range p.Pattern.FindAllStringSubmatchIndex(text, -1) {
			candidate := strings.Trim(text[m[2*p.Value]:m[2*p.Value+1]], "-")
			if !isValidCatalogCode(candidate) {
				continue
			}
			return candidate, removeSpan(text, m[2*p.Span], m[2*p.Span+1]), true
		}
	}
	return "", text, false
}

// barcodePrefix picks how many leading digit groups of span form the
// barcode. The longest prefix with a valid GTIN check digit wins, then the
// longest prefix of barcode length, so a trailing quantity such as the "2"
// in "0 12345 67890 5 2 PK" stays in the description. It returns the
// normalized barcode and the byte length of span it covers.
func barcodePrefix(span string) (string, int, bool) {
	groups := digitGroupPattern.FindAllStringIndex(span, -1)
	minGroups := min(minBarcodeGroups, len(groups))

	fallback, fallbackEnd := "", 0
	for k := len(groups); k >= minGroups && k > 0; k-- {
		end := groups[k-1][1]
		candidate := NormalizeBarcode(span[:end])
		if !isValidBarcode(candidate) {
			continue
		}
		if ValidCheckDigit(candidate) {
			return candidate, end, true
		}
		if fallback == "" {
			fallback, fallbackEnd = candidate, end
		}
	}
	return fallback, fallbackEnd, fallback != ""
}

// ValidCheckDigit reports whether a GTIN-12/13/14 carries a correct mod-10
// check digit.
func ValidCheckDigit(gtin string) bool {
	if !digitsPattern.MatchString(gtin) || len(gtin) < 2 {
		return false
	}
	sum := 0
	for i, pos := len(gtin)-2, 0; i >= 0; i, pos = i-1, pos+1 {
		digit := int(gtin[i] - '0')
		if pos%2 == 0 {
			digit *= 3
		}
		sum += digit
	}
	return (10-sum%10)%10 == int(gtin[len(gtin)-1]-'0')
}

// NormalizeBarcode removes spaces and hyphens
func NormalizeBarcode(s string) string {
	return separatorPattern.ReplaceAllString(s, "")
}

func isValidBarcode(s string) bool {
	return len(s) >= 12 && len(s) <= 14 && digitsPattern.MatchString(s)
}

// isValidCatalogCode accepts 4-15 characters with at least one digit. Long
// pure-digit runs belong to barcodes and tokens like "24oz" are sizes.
func isValidCatalogCode(s string) bool {
	if len(s) < 4 || len(s) > 15 {
		return false
	}
	if sizeTokenPattern.MatchString(s) {
		return false
	}
	if !strings.ContainsAny(s, "0123456789") {
		return false
	}
	if digitsPattern.MatchString(s) && len(s) >= 12 {
		return false
	}
	return true
}

func removeSpan(text string, start, end int) string {
	return text[:start] + " " + text[end:]
}

// cleanText collapses whitespace and strips leftover separators at the edges
func cleanText(text string) string {
	text = spacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = strings.TrimLeft(text, "-–—:# ")
	text = strings.TrimRight(text, "-–—:# ")
	return strings.TrimSpace(text)
}
