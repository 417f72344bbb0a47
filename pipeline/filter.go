package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"evtxhound/core"
)

// AllowSet is the set of event identifiers worth enriching.
type AllowSet struct {
	ids map[string]struct{}
}

// NewAllowSet builds an allow-set from identifiers.
func NewAllowSet(ids []string) *AllowSet {
	s := &AllowSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

// LoadAllowSet reads one identifier per line; '#' starts a comment. A
// missing file returns a nil set, which disables prefiltering.
func LoadAllowSet(path string) (*AllowSet, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open event id allow-list: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event id allow-list: %w", err)
	}
	return NewAllowSet(ids), nil
}

// Len returns the number of identifiers in the set.
func (s *AllowSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Contains reports whether id is in the set.
func (s *AllowSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Prefilter drops records whose event identifier is outside the allow-set,
// before any enrichment work is spent on them.
type Prefilter struct {
	allow    *AllowSet
	resolver *core.FieldResolver
	key      string
}

// NewPrefilter creates a prefilter reading the identifier at key. A nil or
// empty allow-set lets every record through.
func NewPrefilter(allow *AllowSet, resolver *core.FieldResolver, key string) *Prefilter {
	return &Prefilter{allow: allow, resolver: resolver, key: key}
}

// Allow reports whether rec should be processed. Records without a scalar
// identifier are kept.
func (p *Prefilter) Allow(rec core.RawRecord) bool {
	if p == nil || p.allow.Len() == 0 {
		return true
	}
	v, ok := p.resolver.Lookup(rec, p.key)
	if !ok {
		return true
	}
	id, ok := core.ScalarString(v)
	if !ok {
		return true
	}
	return p.allow.Contains(id)
}
