package categorization

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	_ "embed"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyRuleTable = errors.New("rule table is empty")
	ErrInvalidPattern = errors.New("invalid rule pattern")
	ErrUnknownStage   = errors.New("unknown classification stage")
	ErrMissingL2      = errors.New("rule has no category_l2")
	// ErrInvalidConfidence is returned for a confidence outside (0,1] or a
	// review threshold outside [0,1]. Zero leaves a rule confidence unset.
	ErrInvalidConfidence = errors.New("confidence out of range")
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// RuleTable is the declarative, versionable classification configuration
// supplied by the caller. It is compiled once into a Classifier and treated
// as read-only afterwards.
type RuleTable struct {
	Version          string                     `yaml:"version"`
	ReviewThreshold  *float64                   `yaml:"review_threshold,omitempty"`
	FallbackL2       string                     `yaml:"fallback_l2,omitempty"`
	StageOrder       []string                   `yaml:"stage_order,omitempty"`
	Confidence       ConfidenceDefaults         `yaml:"confidence"`
	Taxonomy         map[string]string          `yaml:"taxonomy,omitempty"`
	SourceMaps       map[string][]SourceMapRule `yaml:"source_maps,omitempty"`
	VendorOverrides  []VendorOverrideSet        `yaml:"vendor_overrides,omitempty"`
	Keywords         []KeywordRule              `yaml:"keywords,omitempty"`
	Heuristics       []HeuristicRule            `yaml:"heuristics,omitempty"`
	SpecialOverrides []SpecialOverrideRule      `yaml:"special_overrides,omitempty"`
}

// ConfidenceDefaults apply to rules that do not declare their own confidence
type ConfidenceDefaults struct {
	SourceMap      float64 `yaml:"source_map"`
	VendorOverride float64 `yaml:"vendor_override"`
	Keyword        float64 `yaml:"keyword"`
	Heuristic      float64 `yaml:"heuristic"`
	Fallback       float64 `yaml:"fallback"`
}

// SourceMapRule matches structured feed metadata by equality/substring.
// All declared predicates must hold; a rule with Default set always matches.
type SourceMapRule struct {
	ID         string      `yaml:"id,omitempty"`
	Priority   int         `yaml:"priority"`
	Default    bool        `yaml:"default,omitempty"`
	Match      SourceMatch `yaml:"match"`
	L2         string      `yaml:"l2"`
	L1         string      `yaml:"l1,omitempty"`
	Confidence float64     `yaml:"confidence,omitempty"`
}

// SourceMatch holds the field predicates of a source-map rule
type SourceMatch struct {
	IsFee        *bool    `yaml:"is_fee,omitempty"`
	Department   string   `yaml:"department,omitempty"`
	CategoryPath string   `yaml:"category_path,omitempty"`
	Aisle        string   `yaml:"aisle,omitempty"`
	Seller       string   `yaml:"seller,omitempty"`
	TextContains []string `yaml:"text_contains,omitempty"` // any
	AndContains  []string `yaml:"and_contains,omitempty"`  // all
	TitleRegex   string   `yaml:"title_regex,omitempty"`
}

// VendorOverrideSet scopes weighted regex rules and token heuristics to a
// vendor and, optionally, a source channel.
type VendorOverrideSet struct {
	Vendor     string          `yaml:"vendor"`
	Source     string          `yaml:"source,omitempty"`
	Rules      []WeightedRule  `yaml:"rules,omitempty"`
	Heuristics []HeuristicRule `yaml:"heuristics,omitempty"`
}

// WeightedRule is one entry of a vendor override table. Highest weight wins;
// the first listed wins on a tie.
type WeightedRule struct {
	ID         string  `yaml:"id,omitempty"`
	Pattern    string  `yaml:"pattern"`
	Weight     float64 `yaml:"weight"`
	L2         string  `yaml:"l2"`
	L1         string  `yaml:"l1,omitempty"`
	Confidence float64 `yaml:"confidence,omitempty"`
}

// KeywordRule is an include/exclude regex pair over the cleaned name
type KeywordRule struct {
	ID         string  `yaml:"id,omitempty"`
	Priority   int     `yaml:"priority"`
	Include    string  `yaml:"include"`
	Exclude    string  `yaml:"exclude,omitempty"`
	L2         string  `yaml:"l2"`
	L1         string  `yaml:"l1,omitempty"`
	Confidence float64 `yaml:"confidence,omitempty"`
}

// HeuristicRule is a named token-set heuristic. Exceptions are regexes that,
// when any matches, make the heuristic decline.
type HeuristicRule struct {
	Name           string   `yaml:"name"`
	Tokens         []string `yaml:"tokens"`
	Exceptions     []string `yaml:"exceptions,omitempty"`
	FreezerMarkers []string `yaml:"freezer_markers,omitempty"`
	L2             string   `yaml:"l2,omitempty"`
	L2Frozen       string   `yaml:"l2_frozen,omitempty"`
	L1             string   `yaml:"l1,omitempty"`
	Confidence     float64  `yaml:"confidence,omitempty"`
}

// SpecialOverrideRule detects tax/discount/shipping/tip/fee lines
type SpecialOverrideRule struct {
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern,omitempty"`
	IsFee   bool   `yaml:"is_fee,omitempty"`
	L2      string `yaml:"l2"`
	L1      string `yaml:"l1,omitempty"`
}

// LoadRuleTable decodes a YAML rule table
func LoadRuleTable(r io.Reader) (*RuleTable, error) {
	var table RuleTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&table); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyRuleTable
		}
		return nil, fmt.Errorf("failed to decode rule table: %w", err)
	}
	if table.isEmpty() {
		return nil, ErrEmptyRuleTable
	}
	return &table, nil
}

// LoadRuleTableFile reads a YAML rule table from disk
func LoadRuleTableFile(path string) (*RuleTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule table %s: %w", path, err)
	}
	defer f.Close()

	table, err := LoadRuleTable(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule table %s: %w", path, err)
	}
	return table, nil
}

// DefaultRuleTable returns the built-in rule table
func DefaultRuleTable() *RuleTable {
	table, err := LoadRuleTable(bytes.NewReader(defaultRulesYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded rule table is invalid: %v", err))
	}
	return table
}

func (t *RuleTable) isEmpty() bool {
	return len(t.SourceMaps) == 0 && len(t.VendorOverrides) == 0 &&
		len(t.Keywords) == 0 && len(t.Heuristics) == 0 && len(t.SpecialOverrides) == 0
}

// validateConfidence rejects confidences a classification could not carry
func (t *RuleTable) validateConfidence() error {
	if t.ReviewThreshold != nil && (*t.ReviewThreshold < 0 || *t.ReviewThreshold > 1) {
		return fmt.Errorf("%w: review_threshold %v", ErrInvalidConfidence, *t.ReviewThreshold)
	}

	check := func(where string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s confidence %v", ErrInvalidConfidence, where, v)
		}
		return nil
	}

	d := t.Confidence
	for _, c := range []struct {
		where string
		v     float64
	}{
		{"default source_map", d.SourceMap},
		{"default vendor_override", d.VendorOverride},
		{"default keyword", d.Keyword},
		{"default heuristic", d.Heuristic},
		{"default fallback", d.Fallback},
	} {
		if err := check(c.where, c.v); err != nil {
			return err
		}
	}

	for channel, rules := range t.SourceMaps {
		for i, r := range rules {
			if err := check(fmt.Sprintf("%s rule %d", channel, i), r.Confidence); err != nil {
				return err
			}
		}
	}
	for _, set := range t.VendorOverrides {
		for i, r := range set.Rules {
			if err := check(fmt.Sprintf("vendor %s rule %d", set.Vendor, i), r.Confidence); err != nil {
				return err
			}
		}
		for _, h := range set.Heuristics {
			if err := check(fmt.Sprintf("vendor %s heuristic %s", set.Vendor, h.Name), h.Confidence); err != nil {
				return err
			}
		}
	}
	for i, r := range t.Keywords {
		if err := check(fmt.Sprintf("keyword rule %d", i), r.Confidence); err != nil {
			return err
		}
	}
	for _, h := range t.Heuristics {
		if err := check(fmt.Sprintf("heuristic %s", h.Name), h.Confidence); err != nil {
			return err
		}
	}
	return nil
}
