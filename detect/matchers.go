package detect

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"evtxhound/core"
	"evtxhound/metrics"

	"github.com/dlclark/regexp2"
)

// Matcher tests one scalar record value. Values of an unsupported shape
// (maps, nil) never match.
type Matcher interface {
	Match(v interface{}) bool
	String() string
}

// ExactMatcher is case-sensitive equality on the string form of a value.
// When the rule value was numeric, numerically equal record values also match
// so that "0x3" or "3.0" equal 3.
type ExactMatcher struct {
	Value   string
	Numeric bool
	number  float64
}

// NewExactMatcher builds an exact matcher from a rule value.
func NewExactMatcher(v interface{}) (*ExactMatcher, error) {
	s, ok := core.ScalarString(v)
	if !ok {
		return nil, fmt.Errorf("unsupported value %v (%T) for exact match", v, v)
	}
	m := &ExactMatcher{Value: s}
	switch v.(type) {
	case int, int64, float64:
		m.number, m.Numeric = core.ScalarFloat(v)
	}
	return m, nil
}

func (m *ExactMatcher) Match(v interface{}) bool {
	s, ok := core.ScalarString(v)
	if !ok {
		return false
	}
	if s == m.Value {
		return true
	}
	if m.Numeric {
		if f, isNum := core.ScalarFloat(v); isNum {
			return f == m.number
		}
	}
	return false
}

func (m *ExactMatcher) String() string {
	return fmt.Sprintf("== %q", m.Value)
}

// WildcardMatcher matches a glob where * is any run of characters and ? is
// exactly one. The pattern is anchored at both ends.
type WildcardMatcher struct {
	Pattern string
	re      *regexp.Regexp
}

func (m *WildcardMatcher) Match(v interface{}) bool {
	s, ok := core.ScalarString(v)
	if !ok {
		return false
	}
	return m.re.MatchString(s)
}

func (m *WildcardMatcher) String() string {
	return fmt.Sprintf("glob %q", m.Pattern)
}

// hasWildcard reports whether s contains an unescaped * or ?.
func hasWildcard(s string) bool {
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*' || r == '?':
			return true
		}
	}
	return false
}

// wildcardToRegexp converts a glob to an anchored regular expression.
// A backslash escapes *, ? and itself; any other backslash is literal.
func wildcardToRegexp(glob string) string {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\\':
			if i+1 < len(runes) && (runes[i+1] == '*' || runes[i+1] == '?' || runes[i+1] == '\\') {
				b.WriteString(regexp.QuoteMeta(string(runes[i+1])))
				i++
				continue
			}
			b.WriteString(`\\`)
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	return b.String()
}

// RegexMatcher matches with a backtracking regular expression bounded by a
// match timeout. A timeout counts as a non-match.
type RegexMatcher struct {
	Pattern string
	re      *regexp2.Regexp
}

func (m *RegexMatcher) Match(v interface{}) bool {
	s, ok := core.ScalarString(v)
	if !ok {
		return false
	}
	matched, err := m.re.MatchString(s)
	if err != nil {
		metrics.RegexTimeouts.Inc()
		return false
	}
	return matched
}

func (m *RegexMatcher) String() string {
	return fmt.Sprintf("re %q", m.Pattern)
}

// NumericOp is a numeric comparison operator.
type NumericOp string

const (
	OpGreater      NumericOp = "gt"
	OpGreaterEqual NumericOp = "gte"
	OpLess         NumericOp = "lt"
	OpLessEqual    NumericOp = "lte"
)

// NumericMatcher compares a record value coerced to a number. Values that do
// not coerce never match.
type NumericMatcher struct {
	Op    NumericOp
	Value float64
}

func (m *NumericMatcher) Match(v interface{}) bool {
	f, ok := core.ScalarFloat(v)
	if !ok {
		return false
	}
	switch m.Op {
	case OpGreater:
		return f > m.Value
	case OpGreaterEqual:
		return f >= m.Value
	case OpLess:
		return f < m.Value
	case OpLessEqual:
		return f <= m.Value
	}
	return false
}

func (m *NumericMatcher) String() string {
	return fmt.Sprintf("%s %v", m.Op, m.Value)
}

// OneOfMatcher matches when any of its matchers does.
type OneOfMatcher struct {
	Matchers []Matcher
}

func (m *OneOfMatcher) Match(v interface{}) bool {
	for _, inner := range m.Matchers {
		if inner.Match(v) {
			return true
		}
	}
	return false
}

func (m *OneOfMatcher) String() string {
	parts := make([]string, len(m.Matchers))
	for i, inner := range m.Matchers {
		parts[i] = inner.String()
	}
	return fmt.Sprintf("in [%s]", strings.Join(parts, " | "))
}

// CIDRMatcher matches IP address values inside a network prefix.
type CIDRMatcher struct {
	Prefix netip.Prefix
}

func (m *CIDRMatcher) Match(v interface{}) bool {
	s, ok := core.ScalarString(v)
	if !ok {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return m.Prefix.Contains(addr.Unmap())
}

func (m *CIDRMatcher) String() string {
	return fmt.Sprintf("cidr %s", m.Prefix)
}
