// Package stats keeps run-wide counters and the per-container timeline.
//
// Every type in this package is owned by the pipeline driver goroutine and
// is not safe for concurrent use.
package stats

import (
	"sort"

	"evtxhound/core"
)

// Category counts the distinct values of one field. When EventIDs is set,
// only records with one of those event identifiers count.
type Category struct {
	Name     string   `mapstructure:"name" yaml:"name" validate:"required"`
	Field    string   `mapstructure:"field" yaml:"field" validate:"required"`
	EventIDs []string `mapstructure:"event_ids" yaml:"event_ids"`
}

// Default category names.
const (
	CategoryEventID      = "event_id"
	CategoryLogonSuccess = "logon_success"
	CategoryLogonFailure = "logon_failure"
)

// DefaultCategories returns the event-count and logon-summary categories.
func DefaultCategories() []Category {
	return []Category{
		{Name: CategoryEventID, Field: "EventID"},
		{Name: CategoryLogonSuccess, Field: "TargetUserName", EventIDs: []string{"4624"}},
		{Name: CategoryLogonFailure, Field: "TargetUserName", EventIDs: []string{"4625"}},
	}
}

type category struct {
	Category
	eventIDs map[string]struct{}
	counts   map[string]int64
}

// Tracker counts field values per category across the whole run.
type Tracker struct {
	categories []*category
	eventIDKey string
	total      int64
}

// NewTracker creates a tracker. eventIDKey is the field consulted for
// category event-ID restrictions.
func NewTracker(categories []Category, eventIDKey string) *Tracker {
	t := &Tracker{eventIDKey: eventIDKey}
	for _, c := range categories {
		cat := &category{Category: c, counts: make(map[string]int64)}
		if len(c.EventIDs) > 0 {
			cat.eventIDs = make(map[string]struct{}, len(c.EventIDs))
			for _, id := range c.EventIDs {
				cat.eventIDs[id] = struct{}{}
			}
		}
		t.categories = append(t.categories, cat)
	}
	return t
}

// Keys returns the fields the tracker reads, for enrichment.
func (t *Tracker) Keys() []string {
	seen := map[string]struct{}{t.eventIDKey: {}}
	keys := []string{t.eventIDKey}
	for _, c := range t.categories {
		if _, ok := seen[c.Field]; !ok {
			seen[c.Field] = struct{}{}
			keys = append(keys, c.Field)
		}
	}
	sort.Strings(keys)
	return keys
}

// Observe counts one record.
func (t *Tracker) Observe(rec *core.EnrichedRecord) {
	t.total++
	var eventID string
	var hasEventID bool
	if v, ok := rec.Value(t.eventIDKey); ok {
		eventID, hasEventID = core.ScalarString(v)
	}

	for _, c := range t.categories {
		if c.eventIDs != nil {
			if !hasEventID {
				continue
			}
			if _, ok := c.eventIDs[eventID]; !ok {
				continue
			}
		}
		v, ok := rec.Value(c.Field)
		if !ok {
			continue
		}
		s, ok := core.ScalarString(v)
		if !ok || s == "" {
			continue
		}
		c.counts[s]++
	}
}

// Total returns the number of records observed.
func (t *Tracker) Total() int64 {
	return t.total
}

// Snapshot returns the counters, each category sorted by count descending
// then key ascending.
func (t *Tracker) Snapshot() core.StatsSnapshot {
	snap := core.StatsSnapshot{
		TotalRecords: t.total,
		Categories:   make(map[string][]core.CountEntry, len(t.categories)),
	}
	for _, c := range t.categories {
		entries := make([]core.CountEntry, 0, len(c.counts))
		for k, n := range c.counts {
			entries = append(entries, core.CountEntry{Key: k, Count: n})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Count != entries[j].Count {
				return entries[i].Count > entries[j].Count
			}
			return entries[i].Key < entries[j].Key
		})
		snap.Categories[c.Name] = entries
	}
	return snap
}
