package categorization

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/receipt"
)

// ErrInvalidStageOrder is returned for duplicate stages or stages after the fallback
var ErrInvalidStageOrder = errors.New("invalid stage order")

// StageKind enumerates the classification stages
type StageKind int

const (
	StageSourceMap StageKind = iota
	StageVendorOverride
	StageKeyword
	StageHeuristic
	StageSpecialOverride
	StageFallback
)

var stageNames = [...]string{
	StageSourceMap:       "source_map",
	StageVendorOverride:  "vendor_override",
	StageKeyword:         "keyword",
	StageHeuristic:       "heuristic",
	StageSpecialOverride: "special_override",
	StageFallback:        "fallback",
}

func (k StageKind) String() string {
	if k < 0 || int(k) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(k))
	}
	return stageNames[k]
}

// ParseStageKind resolves a stage name from a rule table
func ParseStageKind(name string) (StageKind, error) {
	for i, n := range stageNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return StageKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// DefaultStageOrder lets explicit signals (feed metadata, vendor tables,
// tax/discount/shipping/tip lines) win over inferred ones.
var DefaultStageOrder = []StageKind{
	StageSourceMap,
	StageVendorOverride,
	StageSpecialOverride,
	StageKeyword,
	StageHeuristic,
	StageFallback,
}

// match is what a stage yields when it fires
type match struct {
	l2         string
	l1         string // explicit override, empty when derived
	source     string
	ruleID     string
	confidence float64
}

// Stage is a tagged variant: Kind selects which typed rule list is populated.
type Stage struct {
	Kind      StageKind
	sourceMap *sourceMapStage
	vendor    *vendorStage
	keyword   *keywordStage
	heuristic *heuristicSet
	special   *specialStage
}

// ============================================================================
// Source-channel map
// ============================================================================

type sourceMapRule struct {
	id         string
	priority   int
	isDefault  bool
	pred       SourceMatch
	titleRe    *regexp.Regexp
	l2, l1     string
	confidence float64
}

type sourceMapStage struct {
	channels map[string][]sourceMapRule
}

func (s *sourceMapStage) match(item *receipt.LineItem, origin receipt.Origin) (match, bool) {
	channel := strings.ToLower(origin.Source)
	rules := s.channels[channel]
	if len(rules) == 0 {
		return match{}, false
	}

	name := strings.ToLower(item.Description())
	for _, r := range rules {
		if !r.isDefault && !r.matches(item, name) {
			continue
		}
		return match{l2: r.l2, l1: r.l1, source: channel + "_map", ruleID: r.id, confidence: r.confidence}, true
	}
	return match{}, false
}

func (r sourceMapRule) matches(item *receipt.LineItem, name string) bool {
	p := r.pred
	if p.IsFee != nil && item.IsFee != *p.IsFee {
		return false
	}
	if p.Department != "" && !strings.EqualFold(item.Department, p.Department) {
		return false
	}
	if p.CategoryPath != "" && !containsFold(item.CategoryPath, p.CategoryPath) {
		return false
	}
	if p.Aisle != "" && !strings.EqualFold(item.Aisle, p.Aisle) {
		return false
	}
	if p.Seller != "" && !containsFold(item.Seller, p.Seller) {
		return false
	}
	if len(p.TextContains) > 0 {
		found := false
		for _, t := range p.TextContains {
			if strings.Contains(name, strings.ToLower(t)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, t := range p.AndContains {
		if !strings.Contains(name, strings.ToLower(t)) {
			return false
		}
	}
	if r.titleRe != nil && !r.titleRe.MatchString(name) {
		return false
	}
	return true
}

// ============================================================================
// Vendor overrides
// ============================================================================

type vendorRule struct {
	id         string
	pattern    *regexp.Regexp
	weight     float64
	l2, l1     string
	confidence float64
}

type vendorSet struct {
	vendor     string
	source     string
	rules      []vendorRule // sorted by weight desc, stable
	heuristics *heuristicSet
}

type vendorStage struct {
	sets []vendorSet // source-scoped sets first
}

func (s *vendorStage) match(item *receipt.LineItem, origin receipt.Origin) (match, bool) {
	name := item.Description()
	for _, set := range s.sets {
		if !strings.EqualFold(set.vendor, origin.Vendor) {
			continue
		}
		if set.source != "" && !strings.EqualFold(set.source, origin.Source) {
			continue
		}

		for _, r := range set.rules {
			if r.pattern.MatchString(name) {
				return match{l2: r.l2, l1: r.l1, source: "vendor_override", ruleID: r.id, confidence: r.confidence}, true
			}
		}

		// token heuristics assume physical goods
		if set.heuristics != nil && !item.IsFee {
			if m, ok := set.heuristics.match(name); ok {
				m.source = "vendor_override"
				m.ruleID = "vendor_" + m.ruleID
				return m, true
			}
		}
	}
	return match{}, false
}

// ============================================================================
// Keyword rules
// ============================================================================

type keywordRule struct {
	id               string
	include, exclude *regexp.Regexp
	l2, l1           string
	confidence       float64
}

type keywordStage struct {
	rules []keywordRule
}

func (s *keywordStage) match(item *receipt.LineItem) (match, bool) {
	if item.IsFee {
		return match{}, false
	}
	name := item.Description()
	for _, r := range s.rules {
		if !r.include.MatchString(name) {
			continue
		}
		if r.exclude != nil && r.exclude.MatchString(name) {
			continue
		}
		return match{l2: r.l2, l1: r.l1, source: "keyword", ruleID: r.id, confidence: r.confidence}, true
	}
	return match{}, false
}

// ============================================================================
// Heuristics
// ============================================================================

type heuristic struct {
	name         string
	tokenGroup   int
	freezerGroup int
	exceptions   []*regexp.Regexp
	l2, l2Frozen string
	l1           string
	confidence   float64
}

type heuristicSet struct {
	engine     *TokenEngine
	heuristics []heuristic
}

func (s *heuristicSet) match(name string) (match, bool) {
	hits := s.engine.Match(name)
	for _, h := range s.heuristics {
		if !hits.Hit(h.tokenGroup) {
			continue
		}
		if matchesAny(h.exceptions, name) {
			continue
		}

		l2 := h.l2
		if h.l2Frozen != "" && hits.Hit(h.freezerGroup) {
			l2 = h.l2Frozen
		}
		if l2 == "" {
			continue
		}
		return match{l2: l2, l1: h.l1, source: "heuristic", ruleID: h.name + "_heuristic", confidence: h.confidence}, true
	}
	return match{}, false
}

func (s *heuristicSet) matchItem(item *receipt.LineItem) (match, bool) {
	if item.IsFee {
		return match{}, false
	}
	return s.match(item.Description())
}

// ============================================================================
// Special overrides
// ============================================================================

type specialRule struct {
	kind    string
	pattern *regexp.Regexp
	isFee   bool
	l2, l1  string
}

type specialStage struct {
	rules []specialRule
}

func (s *specialStage) match(item *receipt.LineItem) (match, bool) {
	name := item.Description()
	for _, r := range s.rules {
		hit := (r.isFee && item.IsFee) || (r.pattern != nil && r.pattern.MatchString(name))
		if !hit {
			continue
		}
		return match{l2: r.l2, l1: r.l1, source: "override_" + r.kind, ruleID: r.kind + "_override", confidence: 1.0}, true
	}
	return match{}, false
}

// ============================================================================
// Compilation
// ============================================================================

// compiler turns a RuleTable into typed stages, sorting rule lists once.
type compiler struct {
	table    *RuleTable
	taxonomy Taxonomy
	conf     ConfidenceDefaults
	logger   *slog.Logger
}

func (c *compiler) stages() ([]Stage, error) {
	order, err := c.stageOrder()
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(order))
	for _, kind := range order {
		st := Stage{Kind: kind}
		switch kind {
		case StageSourceMap:
			st.sourceMap, err = c.sourceMap()
		case StageVendorOverride:
			st.vendor, err = c.vendorOverrides()
		case StageKeyword:
			st.keyword, err = c.keywords()
		case StageHeuristic:
			st.heuristic, err = c.heuristics("", c.table.Heuristics)
		case StageSpecialOverride:
			st.special, err = c.specialOverrides()
		case StageFallback:
		}
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s stage: %w", kind, err)
		}
		stages = append(stages, st)
	}
	return stages, nil
}

func (c *compiler) stageOrder() ([]StageKind, error) {
	if len(c.table.StageOrder) == 0 {
		return DefaultStageOrder, nil
	}

	seen := make(map[StageKind]bool)
	order := make([]StageKind, 0, len(c.table.StageOrder)+1)
	for _, name := range c.table.StageOrder {
		kind, err := ParseStageKind(name)
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidStageOrder, kind)
		}
		if seen[StageFallback] {
			return nil, fmt.Errorf("%w: %s after fallback", ErrInvalidStageOrder, kind)
		}
		seen[kind] = true
		order = append(order, kind)
	}
	if !seen[StageFallback] {
		order = append(order, StageFallback)
	}
	return order, nil
}

func (c *compiler) sourceMap() (*sourceMapStage, error) {
	s := &sourceMapStage{channels: make(map[string][]sourceMapRule, len(c.table.SourceMaps))}
	for channel, rules := range c.table.SourceMaps {
		channel = strings.ToLower(channel)
		compiled := make([]sourceMapRule, 0, len(rules))
		for i, r := range rules {
			if err := c.requireL2(r.L2, channel, i); err != nil {
				return nil, err
			}
			cr := sourceMapRule{
				id:         coalesce(r.ID, fmt.Sprintf("%s_rule_%d", channel, i)),
				priority:   r.Priority,
				isDefault:  r.Default,
				pred:       r.Match,
				l2:         r.L2,
				l1:         r.L1,
				confidence: confidenceOr(r.Confidence, c.conf.SourceMap),
			}
			if r.Match.TitleRegex != "" {
				re, err := compileFold(r.Match.TitleRegex)
				if err != nil {
					return nil, fmt.Errorf("%w: %s rule %d title_regex: %v", ErrInvalidPattern, channel, i, err)
				}
				cr.titleRe = re
			}
			c.checkL1(cr.id, cr.l2, cr.l1)
			compiled = append(compiled, cr)
		}
		sort.SliceStable(compiled, func(i, j int) bool {
			return compiled[i].priority > compiled[j].priority
		})
		s.channels[channel] = compiled
	}
	return s, nil
}

func (c *compiler) vendorOverrides() (*vendorStage, error) {
	s := &vendorStage{}
	for si, set := range c.table.VendorOverrides {
		if strings.TrimSpace(set.Vendor) == "" {
			return nil, fmt.Errorf("vendor override set %d has no vendor", si)
		}
		vs := vendorSet{vendor: set.Vendor, source: set.Source}
		for i, r := range set.Rules {
			if err := c.requireL2(r.L2, set.Vendor, i); err != nil {
				return nil, err
			}
			re, err := compileFold(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: vendor %s rule %d: %v", ErrInvalidPattern, set.Vendor, i, err)
			}
			vr := vendorRule{
				id:         coalesce(r.ID, fmt.Sprintf("%s_override_%d", strings.ToLower(set.Vendor), i)),
				pattern:    re,
				weight:     r.Weight,
				l2:         r.L2,
				l1:         r.L1,
				confidence: confidenceOr(r.Confidence, c.conf.VendorOverride),
			}
			c.checkL1(vr.id, vr.l2, vr.l1)
			vs.rules = append(vs.rules, vr)
		}
		sort.SliceStable(vs.rules, func(i, j int) bool {
			return vs.rules[i].weight > vs.rules[j].weight
		})

		if len(set.Heuristics) > 0 {
			hs, err := c.heuristics(set.Vendor, set.Heuristics)
			if err != nil {
				return nil, err
			}
			vs.heuristics = hs
		}
		s.sets = append(s.sets, vs)
	}
	sort.SliceStable(s.sets, func(i, j int) bool {
		return s.sets[i].source != "" && s.sets[j].source == ""
	})
	return s, nil
}

func (c *compiler) keywords() (*keywordStage, error) {
	rules := make([]KeywordRule, len(c.table.Keywords))
	copy(rules, c.table.Keywords)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	s := &keywordStage{rules: make([]keywordRule, 0, len(rules))}
	for idx, r := range rules {
		if err := c.requireL2(r.L2, "keyword", idx); err != nil {
			return nil, err
		}
		include, err := compileFold(r.Include)
		if err != nil || r.Include == "" {
			return nil, fmt.Errorf("%w: keyword rule %d include %q", ErrInvalidPattern, idx, r.Include)
		}
		kr := keywordRule{
			id:         coalesce(r.ID, fmt.Sprintf("keyword_rule_%d", idx)),
			include:    include,
			l2:         r.L2,
			l1:         r.L1,
			confidence: confidenceOr(r.Confidence, c.conf.Keyword),
		}
		if r.Exclude != "" {
			kr.exclude, err = compileFold(r.Exclude)
			if err != nil {
				return nil, fmt.Errorf("%w: keyword rule %d exclude %q: %v", ErrInvalidPattern, idx, r.Exclude, err)
			}
		}
		c.checkL1(kr.id, kr.l2, kr.l1)
		s.rules = append(s.rules, kr)
	}
	return s, nil
}

func (c *compiler) heuristics(scope string, rules []HeuristicRule) (*heuristicSet, error) {
	groups := make([]TokenGroup, 0, 2*len(rules))
	set := &heuristicSet{heuristics: make([]heuristic, 0, len(rules))}

	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("heuristic %d in %q has no name", i, scope)
		}
		if r.L2 == "" && r.L2Frozen == "" {
			return nil, fmt.Errorf("%w: heuristic %s", ErrMissingL2, r.Name)
		}

		h := heuristic{
			name:         r.Name,
			tokenGroup:   len(groups),
			freezerGroup: -1,
			l2:           r.L2,
			l2Frozen:     r.L2Frozen,
			l1:           r.L1,
			confidence:   confidenceOr(r.Confidence, c.conf.Heuristic),
		}
		groups = append(groups, TokenGroup{Name: r.Name, Tokens: r.Tokens})
		if len(r.FreezerMarkers) > 0 {
			h.freezerGroup = len(groups)
			groups = append(groups, TokenGroup{Name: r.Name + ".freezer", Tokens: r.FreezerMarkers})
		}
		for _, ex := range r.Exceptions {
			re, err := compileFold(ex)
			if err != nil {
				return nil, fmt.Errorf("%w: heuristic %s exception %q: %v", ErrInvalidPattern, r.Name, ex, err)
			}
			h.exceptions = append(h.exceptions, re)
		}
		c.checkL1(h.name+"_heuristic", h.l2, h.l1)
		set.heuristics = append(set.heuristics, h)
	}

	set.engine = NewTokenEngine(groups)
	return set, nil
}

func (c *compiler) specialOverrides() (*specialStage, error) {
	s := &specialStage{rules: make([]specialRule, 0, len(c.table.SpecialOverrides))}
	for i, r := range c.table.SpecialOverrides {
		if r.Kind == "" {
			return nil, fmt.Errorf("special override %d has no kind", i)
		}
		if err := c.requireL2(r.L2, r.Kind, i); err != nil {
			return nil, err
		}
		sr := specialRule{kind: r.Kind, isFee: r.IsFee, l2: r.L2, l1: r.L1}
		if r.Pattern != "" {
			re, err := compileFold(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %s override: %v", ErrInvalidPattern, r.Kind, err)
			}
			sr.pattern = re
		}
		if sr.pattern == nil && !sr.isFee {
			return nil, fmt.Errorf("%w: %s override has neither pattern nor is_fee", ErrInvalidPattern, r.Kind)
		}
		c.checkL1(r.Kind+"_override", sr.l2, sr.l1)
		s.rules = append(s.rules, sr)
	}
	return s, nil
}

func (c *compiler) requireL2(l2, scope string, idx int) error {
	if strings.TrimSpace(l2) == "" {
		return fmt.Errorf("%w: %s rule %d", ErrMissingL2, scope, idx)
	}
	return nil
}

// checkL1 warns when an explicit L1 disagrees with the taxonomy. The explicit
// value is kept.
func (c *compiler) checkL1(ruleID, l2, l1 string) {
	if l1 == "" || l2 == "" {
		return
	}
	if derived := c.taxonomy.L1For(l2); derived != l1 {
		c.logger.Warn("explicit L1 override disagrees with taxonomy",
			slog.String("rule_id", ruleID),
			slog.String("l2", l2),
			slog.String("l1_override", l1),
			slog.String("l1_derived", derived),
		)
	}
}

func compileFold(pattern string) (*regexp.Regexp, error) {
	if strings.HasPrefix(pattern, "(?i)") {
		return regexp.Compile(pattern)
	}
	return regexp.Compile("(?i)" + pattern)
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func confidenceOr(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
