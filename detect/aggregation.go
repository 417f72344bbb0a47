package detect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AggregationClause is the optional "| count(...) by ... op N within D"
// suffix of a rule condition.
type AggregationClause struct {
	// CountField selects count-distinct mode when set.
	CountField string
	GroupBy    string
	Operator   string
	Threshold  int64
	// Window is zero when the clause has no time bound.
	Window time.Duration
}

var aggregationPattern = regexp.MustCompile(
	`^(?i:count)\s*\(\s*([A-Za-z0-9_.\-]*)\s*\)` +
		`(?:\s+(?i:by)\s+([A-Za-z0-9_.\-]+))?` +
		`\s*(>=|<=|==|>|<)\s*(\d+)` +
		`(?:\s+(?i:within)\s+(\S+))?\s*$`)

// SplitCondition separates the boolean expression from an aggregation suffix.
func SplitCondition(condition string) (boolean, aggregation string) {
	idx := strings.Index(condition, "|")
	if idx < 0 {
		return strings.TrimSpace(condition), ""
	}
	return strings.TrimSpace(condition[:idx]), strings.TrimSpace(condition[idx+1:])
}

// ParseAggregation parses the text after the pipe of a rule condition.
func ParseAggregation(expr string) (*AggregationClause, error) {
	m := aggregationPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, &AggregationError{
			Pattern: expr,
			Reason:  "is not of the form count([field]) [by field] <op> <n> [within <duration>]",
		}
	}

	threshold, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return nil, &AggregationError{Pattern: expr, Reason: "has an invalid threshold"}
	}

	clause := &AggregationClause{
		CountField: m[1],
		GroupBy:    m[2],
		Operator:   m[3],
		Threshold:  threshold,
	}
	if m[5] != "" {
		window, err := ParseDuration(m[5])
		if err != nil {
			return nil, fmt.Errorf("invalid aggregation window: %w", err)
		}
		clause.Window = window
	}
	return clause, nil
}

// Satisfied reports whether count passes the clause's threshold comparison.
func (a *AggregationClause) Satisfied(count int64) bool {
	switch a.Operator {
	case ">":
		return count > a.Threshold
	case ">=":
		return count >= a.Threshold
	case "==":
		return count == a.Threshold
	case "<":
		return count < a.Threshold
	case "<=":
		return count <= a.Threshold
	}
	return false
}

// Keys returns the field keys the clause reads from contributing records.
func (a *AggregationClause) Keys() []string {
	var keys []string
	if a.CountField != "" {
		keys = append(keys, a.CountField)
	}
	if a.GroupBy != "" && a.GroupBy != a.CountField {
		keys = append(keys, a.GroupBy)
	}
	return keys
}

func (a *AggregationClause) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "count(%s)", a.CountField)
	if a.GroupBy != "" {
		fmt.Fprintf(&b, " by %s", a.GroupBy)
	}
	fmt.Fprintf(&b, " %s %d", a.Operator, a.Threshold)
	if a.Window > 0 {
		fmt.Fprintf(&b, " within %s", a.Window)
	}
	return b.String()
}

// ParseDuration parses durations such as "30s", "5m", "12h" and "2d".
// Anything time.ParseDuration accepts is also accepted.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}
