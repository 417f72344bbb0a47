package core

// CountEntry is one counter value within a statistics category.
type CountEntry struct {
	Key   string `json:"key" msgpack:"key"`
	Count int64  `json:"count" msgpack:"count"`
}

// StatsSnapshot is the read-only summary produced by the statistics tracker.
// Category entries are sorted by count descending, then key ascending.
type StatsSnapshot struct {
	TotalRecords int64                   `json:"total_records" msgpack:"total_records"`
	Categories   map[string][]CountEntry `json:"categories" msgpack:"categories"`
}

// Count returns the counter for key within category, or zero.
func (s StatsSnapshot) Count(category, key string) int64 {
	for _, e := range s.Categories[category] {
		if e.Key == key {
			return e.Count
		}
	}
	return 0
}
