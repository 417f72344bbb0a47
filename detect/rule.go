package detect

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"evtxhound/core"
)

// Supported field modifiers, written after the field name as "Field|mod".
const (
	ModifierContains   = "contains"
	ModifierStartsWith = "startswith"
	ModifierEndsWith   = "endswith"
	ModifierRegex      = "re"
	ModifierCIDR       = "cidr"
	ModifierWindash    = "windash"
	ModifierAll        = "all"

	ModifierGreaterThan        = "gt"
	ModifierGreaterThanOrEqual = "gte"
	ModifierLessThan           = "lt"
	ModifierLessThanOrEqual    = "lte"
)

// RuleSource is a decoded rule file before compilation.
type RuleSource struct {
	ID        string
	Title     string
	Level     core.Level
	Status    string
	Author    string
	Tags      []string
	Path      string
	Detection map[string]interface{}
}

// Rule is a compiled detection rule. Rules are immutable after compilation
// and shared read-only by every evaluation.
type Rule struct {
	ID          string
	Title       string
	Level       core.Level
	Status      string
	Author      string
	Tags        []string
	Path        string
	Enabled     bool
	Condition   Condition
	Aggregation *AggregationClause
	// Keys lists every field key the condition and aggregation read, sorted.
	Keys []string
}

// CompilerConfig configures rule compilation.
type CompilerConfig struct {
	RegexTimeout     time.Duration
	PatternCacheSize int
}

// Compiler turns RuleSources into Rules, sharing compiled patterns across rules.
type Compiler struct {
	patterns *patternCache
}

// NewCompiler creates a compiler.
func NewCompiler(cfg CompilerConfig) (*Compiler, error) {
	patterns, err := newPatternCache(cfg.PatternCacheSize, cfg.RegexTimeout)
	if err != nil {
		return nil, err
	}
	return &Compiler{patterns: patterns}, nil
}

// Compile builds a Rule from its decoded source.
func (c *Compiler) Compile(src RuleSource) (*Rule, error) {
	if src.ID == "" {
		return nil, fmt.Errorf("rule %q has no id", src.Path)
	}
	if len(src.Detection) == 0 {
		return nil, fmt.Errorf("rule %s has no detection section", src.ID)
	}

	condition, err := extractCondition(src.Detection)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", src.ID, err)
	}

	selections := make(map[string]Condition)
	for name, block := range src.Detection {
		if name == "condition" || name == "timeframe" {
			continue
		}
		sel, err := c.compileSelection(name, block)
		if err != nil {
			return nil, fmt.Errorf("rule %s: selection %q: %w", src.ID, name, err)
		}
		selections[name] = sel
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("rule %s defines no selections", src.ID)
	}

	boolean, aggregation := SplitCondition(condition)
	tree, err := NewConditionParser(selections).Parse(boolean)
	if err != nil {
		return nil, fmt.Errorf("rule %s: invalid condition %q: %w", src.ID, boolean, err)
	}

	rule := &Rule{
		ID:        src.ID,
		Title:     src.Title,
		Level:     src.Level,
		Status:    src.Status,
		Author:    src.Author,
		Tags:      src.Tags,
		Path:      src.Path,
		Enabled:   true,
		Condition: tree,
	}

	if aggregation != "" {
		clause, err := ParseAggregation(aggregation)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", src.ID, err)
		}
		if clause.Window == 0 {
			if tf, ok := src.Detection["timeframe"].(string); ok && tf != "" {
				window, err := ParseDuration(tf)
				if err != nil {
					return nil, fmt.Errorf("rule %s: invalid timeframe: %w", src.ID, err)
				}
				clause.Window = window
			}
		}
		rule.Aggregation = clause
	}

	keys := make(map[string]struct{})
	collectKeys(tree, keys)
	if rule.Aggregation != nil {
		for _, k := range rule.Aggregation.Keys() {
			keys[k] = struct{}{}
		}
	}
	rule.Keys = sortedKeys(keys)
	return rule, nil
}

// extractCondition returns the condition string. A list of conditions is
// combined with OR.
func extractCondition(detection map[string]interface{}) (string, error) {
	switch v := detection["condition"].(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("empty condition")
		}
		return v, nil
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("condition list entries must be strings")
			}
			if strings.Contains(s, "|") {
				return "", fmt.Errorf("aggregation is not allowed in a condition list")
			}
			parts = append(parts, "("+s+")")
		}
		if len(parts) == 0 {
			return "", fmt.Errorf("empty condition")
		}
		return strings.Join(parts, " or "), nil
	case nil:
		return "", fmt.Errorf("missing condition")
	default:
		return "", fmt.Errorf("condition must be a string, got %T", v)
	}
}

// compileSelection compiles one named selection. A map is an AND of its
// fields; a list of maps is an OR of those ANDs.
func (c *Compiler) compileSelection(name string, block interface{}) (Condition, error) {
	switch v := block.(type) {
	case map[string]interface{}:
		return c.compileFieldMap(v)
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty selection list")
		}
		children := make([]Condition, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("list entry %d is %T; keyword selections are not supported", i, item)
			}
			cond, err := c.compileFieldMap(m)
			if err != nil {
				return nil, err
			}
			children = append(children, cond)
		}
		if len(children) == 1 {
			return children[0], nil
		}
		return &OrNode{Children: children}, nil
	default:
		return nil, fmt.Errorf("unsupported selection type %T", block)
	}
}

func (c *Compiler) compileFieldMap(fields map[string]interface{}) (Condition, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty selection")
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	children := make([]Condition, 0, len(names))
	for _, name := range names {
		cond, err := c.compileField(name, fields[name])
		if err != nil {
			return nil, err
		}
		children = append(children, cond)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &AndNode{Children: children}, nil
}

// compileField compiles "Field|mod1|mod2: value(s)".
func (c *Compiler) compileField(key string, value interface{}) (Condition, error) {
	parts := strings.Split(key, "|")
	field := strings.TrimSpace(parts[0])
	if field == "" {
		return nil, fmt.Errorf("empty field name in %q", key)
	}

	var operator string
	allValues, windash := false, false
	for _, mod := range parts[1:] {
		switch mod = strings.ToLower(strings.TrimSpace(mod)); mod {
		case ModifierAll:
			allValues = true
		case ModifierWindash:
			windash = true
		case ModifierContains, ModifierStartsWith, ModifierEndsWith, ModifierRegex, ModifierCIDR,
			ModifierGreaterThan, ModifierGreaterThanOrEqual, ModifierLessThan, ModifierLessThanOrEqual:
			if operator != "" {
				return nil, fmt.Errorf("field %q combines modifiers %q and %q", field, operator, mod)
			}
			operator = mod
		default:
			return nil, &UnsupportedModifierError{Field: field, Modifier: mod}
		}
	}

	values, isList := value.([]interface{})
	if !isList {
		values = []interface{}{value}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("field %q has an empty value list", field)
	}

	matchers := make([]Matcher, 0, len(values))
	for _, v := range values {
		variants := []interface{}{v}
		if windash {
			variants = windashVariants(v)
		}
		for _, variant := range variants {
			m, err := c.compileMatcher(field, operator, variant)
			if err != nil {
				return nil, err
			}
			matchers = append(matchers, m)
		}
	}

	if allValues && len(values) > 1 {
		children := make([]Condition, len(matchers))
		for i, m := range matchers {
			children[i] = &SelectionNode{Key: field, Matcher: m}
		}
		return &AndNode{Children: children}, nil
	}
	if len(matchers) == 1 {
		return &SelectionNode{Key: field, Matcher: matchers[0]}, nil
	}
	return &SelectionNode{Key: field, Matcher: &OneOfMatcher{Matchers: matchers}}, nil
}

func (c *Compiler) compileMatcher(field, operator string, v interface{}) (Matcher, error) {
	if v == nil {
		return nil, fmt.Errorf("field %q: null values are not supported", field)
	}
	s, ok := core.ScalarString(v)
	if !ok {
		return nil, fmt.Errorf("field %q: unsupported value type %T", field, v)
	}

	switch operator {
	case "":
		if _, isString := v.(string); isString && hasWildcard(s) {
			return c.patterns.wildcard(s)
		}
		return NewExactMatcher(v)
	case ModifierContains:
		return c.patterns.wildcard("*" + s + "*")
	case ModifierStartsWith:
		return c.patterns.wildcard(s + "*")
	case ModifierEndsWith:
		return c.patterns.wildcard("*" + s)
	case ModifierRegex:
		return c.patterns.regex(s)
	case ModifierCIDR:
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("field %q: invalid CIDR %q: %w", field, s, err)
		}
		return &CIDRMatcher{Prefix: prefix.Masked()}, nil
	default:
		f, ok := core.ScalarFloat(v)
		if !ok {
			return nil, fmt.Errorf("field %q: %s requires a numeric value, got %q", field, operator, s)
		}
		return &NumericMatcher{Op: NumericOp(operator), Value: f}, nil
	}
}

// windashVariants expands a value so that a leading "-" on command line
// switches also matches "/".
func windashVariants(v interface{}) []interface{} {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "-") {
		return []interface{}{v}
	}
	return []interface{}{s, strings.ReplaceAll(s, "-", "/")}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
