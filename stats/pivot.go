package stats

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"evtxhound/core"
)

// PivotKeyword maps one finding field into a named pivot category.
type PivotKeyword struct {
	Category string
	Field    string
}

// ParsePivotKeyword parses a "Category.Field" line.
func ParsePivotKeyword(line string) (PivotKeyword, error) {
	line = strings.TrimSpace(line)
	i := strings.IndexByte(line, '.')
	if i <= 0 || i == len(line)-1 {
		return PivotKeyword{}, fmt.Errorf("invalid pivot keyword %q: expected Category.Field", line)
	}
	return PivotKeyword{Category: line[:i], Field: line[i+1:]}, nil
}

// LoadPivotKeywords reads one keyword per line. Blank lines and lines
// starting with '#' are skipped.
func LoadPivotKeywords(path string) ([]PivotKeyword, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pivot keywords: %w", err)
	}
	defer f.Close()

	var out []PivotKeyword
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kw, err := ParsePivotKeyword(line)
		if err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pivot keywords: %w", err)
	}
	return out, nil
}

// PivotCollector gathers the distinct values of selected fields from the
// findings of a run, for follow-up searches.
type PivotCollector struct {
	keywords []PivotKeyword
	resolver *core.FieldResolver
	values   map[string]map[string]struct{}
}

// NewPivotCollector creates a collector. resolver reads fields that were not
// part of the finding's extracted values.
func NewPivotCollector(keywords []PivotKeyword, resolver *core.FieldResolver) *PivotCollector {
	return &PivotCollector{
		keywords: keywords,
		resolver: resolver,
		values:   make(map[string]map[string]struct{}),
	}
}

// Observe collects pivot values from one finding.
func (p *PivotCollector) Observe(f core.Finding) {
	for _, kw := range p.keywords {
		v, ok := f.Values[kw.Field]
		if !ok && f.Record != nil {
			v, ok = p.resolver.Lookup(f.Record.Raw, kw.Field)
		}
		if !ok {
			continue
		}
		s, ok := core.ScalarString(v)
		if !ok || s == "" || s == "-" {
			continue
		}
		set, exists := p.values[kw.Category]
		if !exists {
			set = make(map[string]struct{})
			p.values[kw.Category] = set
		}
		set[s] = struct{}{}
	}
}

// Values returns the sorted values per category.
func (p *PivotCollector) Values() map[string][]string {
	out := make(map[string][]string, len(p.values))
	for cat, set := range p.values {
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		out[cat] = vals
	}
	return out
}
