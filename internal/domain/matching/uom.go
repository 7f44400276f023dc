package matching

import (
	"strings"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
	"github.com/shopspring/decimal"
)

// Canonical units of measure
const (
	UoMEach     = "each"
	UoMPound    = "lb"
	UoMKilogram = "kg"
	UoMOunce    = "oz"
	UoMGram     = "g"
	UoMGallon   = "gal"
	UoMCase     = "case"
)

var uomVariations = map[string]string{
	"each": UoMEach, "unit": UoMEach, "units": UoMEach, "piece": UoMEach,
	"pieces": UoMEach, "pc": UoMEach, "pcs": UoMEach, "ct": UoMEach, "ea": UoMEach,

	"lb": UoMPound, "lbs": UoMPound, "pound": UoMPound, "pounds": UoMPound, "#": UoMPound,

	"kg": UoMKilogram, "kgs": UoMKilogram, "kilogram": UoMKilogram, "kilograms": UoMKilogram,

	"oz": UoMOunce, "ounce": UoMOunce, "ounces": UoMOunce,

	"g": UoMGram, "gram": UoMGram, "grams": UoMGram,

	"gal": UoMGallon, "gallon": UoMGallon, "gallons": UoMGallon,

	"cs": UoMCase, "case": UoMCase, "cases": UoMCase,
}

// weightUnits are the only units a conversion ratio may be applied to
var weightUnits = map[string]bool{
	UoMPound:    true,
	UoMKilogram: true,
}

// NormalizeUoM maps a vendor unit token to its canonical form. Unknown
// tokens come back lowercased and trimmed.
func NormalizeUoM(raw string) string {
	key := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), ".")))
	if canonical, ok := uomVariations[key]; ok {
		return canonical
	}
	return key
}

// IsWeightUnit reports whether raw names a weight unit
func IsWeightUnit(raw string) bool {
	return weightUnits[NormalizeUoM(raw)]
}

var one = decimal.NewFromInt(1)

// ApplyConversion rescales a weight-based item into catalog units:
// quantity*ratio, unit_price/ratio, line_total untouched. It reports whether
// anything changed. Items already converted, non-weight items and ratios of
// zero or one are left alone.
func ApplyConversion(item *receipt.LineItem, ratio decimal.Decimal, targetUoM string) bool {
	if item.UoMConversionApplied {
		return false
	}
	if !ratio.IsPositive() || ratio.Equal(one) {
		return false
	}
	if !IsWeightUnit(item.UnitOfMeasure) {
		return false
	}

	item.OriginalQuantity = item.Quantity
	item.OriginalUnitPrice = item.UnitPrice
	item.OriginalUoM = item.UnitOfMeasure

	item.Quantity = item.Quantity.Mul(ratio)
	item.UnitPrice = item.UnitPrice.Div(ratio)
	if targetUoM == "" {
		targetUoM = UoMEach
	}
	item.UnitOfMeasure = NormalizeUoM(targetUoM)

	item.UoMConversionApplied = true
	item.UoMConversionRatio = ratio
	return true
}
