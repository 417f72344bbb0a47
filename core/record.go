package core

import (
	"time"
)

// RawRecord is one decoded log entry as a field-path tree. Values are
// strings, json.Number, bool, nil, []interface{} or nested maps.
type RawRecord map[string]interface{}

// EnrichedRecord wraps a RawRecord with the values of every field key the
// loaded rules reference, extracted once so rule evaluation never walks the tree.
type EnrichedRecord struct {
	Raw       RawRecord
	Origin    string
	Sequence  int
	Timestamp time.Time
	Values    map[string]interface{}
}

// Value returns the cached value for key. The second result is false when
// the key was not referenced or the record does not carry it.
func (r *EnrichedRecord) Value(key string) (interface{}, bool) {
	if r == nil || r.Values == nil {
		return nil, false
	}
	v, ok := r.Values[key]
	return v, ok
}
