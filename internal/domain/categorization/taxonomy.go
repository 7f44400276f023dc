package categorization

// Sentinel category codes
const (
	FallbackL2      = "C99"
	UncategorizedL1 = "A99"
)

// Taxonomy maps specific L2 codes to their coarser L1 accounting group.
type Taxonomy map[string]string

// DefaultTaxonomy is the fixed L2→L1 table used when a rule table does not
// provide its own.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		"C01": "A01", // fresh fruit
		"C02": "A01", // frozen fruit
		"C03": "A01", // dairy & eggs
		"C04": "A01", // toppings & syrups
		"C05": "A01", // meat & poultry
		"C06": "A01", // seafood
		"C07": "A01", // dry goods
		"C08": "A02", // beverages
		"C10": "A01", // vegetables
		"C20": "A03", // cleaning & sanitation
		"C21": "A04", // paper & disposables
		"C30": "A05", // smallwares & equipment
		"C70": "A08", // sales tax
		"C80": "A09", // shipping & delivery
		"C85": "A08", // tips
		"C90": "A08", // service fees & surcharges
		"C95": "A10", // discounts
		"C99": UncategorizedL1,
	}
}

// L1For derives the L1 code for l2, defaulting to the uncategorized bucket.
func (t Taxonomy) L1For(l2 string) string {
	if l1, ok := t[l2]; ok && l1 != "" {
		return l1
	}
	return UncategorizedL1
}

// merge returns a copy of t with overrides applied
func (t Taxonomy) merge(overrides map[string]string) Taxonomy {
	out := make(Taxonomy, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
