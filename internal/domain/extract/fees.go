package extract

import "regexp"

// Fee types recognized on receipt lines
const (
	FeeBag              = "bag_fee"
	FeeTip              = "tip"
	FeeService          = "service_fee"
	FeeEnvironmental    = "environmental_fee"
	FeeCRV              = "crv"
	FeeDeposit          = "deposit"
	FeeDeliveryDiscount = "delivery_discount"
)

// FeePattern marks a description as a fee/surcharge line of a given type
type FeePattern struct {
	Type    string
	Pattern *regexp.Regexp
}

// Order matters: CRV/bottle deposit must win over the generic deposit pattern.
func defaultFeePatterns() []FeePattern {
	return []FeePattern{
		{FeeBag, regexp.MustCompile(`(?i)\b(?:checkout\s+)?bags?\s+(?:fee|charge)\b`)},
		{FeeTip, regexp.MustCompile(`(?i)^(?:(?:grocery|delivery|driver)\s+)?tip\b|\bgratuity\b`)},
		{FeeService, regexp.MustCompile(`(?i)\b(?:service|delivery)\s+fee\b`)},
		{FeeEnvironmental, regexp.MustCompile(`(?i)\benv(?:ironmental|iro)?\.?\s+fee\b`)},
		{FeeCRV, regexp.MustCompile(`(?i)\bcrv\b|\bcalifornia\s+redemption\s+value\b|\bbottle\s+deposit\b`)},
		{FeeDeposit, regexp.MustCompile(`(?i)\b(?:container\s+)?deposit\b`)},
		{FeeDeliveryDiscount, regexp.MustCompile(`(?i)\b(?:scheduled\s+)?delivery\s+discount\b`)},
	}
}

func (e *Extractor) detectFee(description string) (string, bool) {
	for _, p := range e.fees {
		if p.Pattern.MatchString(description) {
			return p.Type, true
		}
	}
	return "", false
}

// AddFeePattern registers an extra fee pattern, checked after the defaults
func (e *Extractor) AddFeePattern(feeType, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.fees = append(e.fees, FeePattern{Type: feeType, Pattern: re})
	return nil
}
