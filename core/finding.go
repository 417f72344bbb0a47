package core

import (
	"time"

	"github.com/google/uuid"
)

// Finding is one emitted detection result, either attributed to a single
// record or summarizing an aggregated group.
type Finding struct {
	ID          string                 `json:"id" msgpack:"id"`
	RuleID      string                 `json:"rule_id" msgpack:"rule_id"`
	RuleTitle   string                 `json:"rule_title" msgpack:"rule_title"`
	Level       Level                  `json:"level" msgpack:"level"`
	Timestamp   time.Time              `json:"timestamp" msgpack:"timestamp"`
	Origin      string                 `json:"origin,omitempty" msgpack:"origin,omitempty"`
	Sequence    int                    `json:"sequence" msgpack:"sequence"`
	Values      map[string]interface{} `json:"values,omitempty" msgpack:"values,omitempty"`
	Aggregation *AggregationSummary    `json:"aggregation,omitempty" msgpack:"aggregation,omitempty"`

	// Record is the triggering record for per-record findings. Not serialized.
	Record *EnrichedRecord `json:"-" msgpack:"-"`
}

// AggregationSummary describes the bucket that produced an aggregated finding.
type AggregationSummary struct {
	GroupBy     string    `json:"group_by,omitempty" msgpack:"group_by,omitempty"`
	GroupValue  string    `json:"group_value,omitempty" msgpack:"group_value,omitempty"`
	CountField  string    `json:"count_field,omitempty" msgpack:"count_field,omitempty"`
	Count       int64     `json:"count" msgpack:"count"`
	Operator    string    `json:"operator" msgpack:"operator"`
	Threshold   int64     `json:"threshold" msgpack:"threshold"`
	WindowStart time.Time `json:"window_start" msgpack:"window_start"`
	WindowEnd   time.Time `json:"window_end" msgpack:"window_end"`
	Origins     []string  `json:"origins,omitempty" msgpack:"origins,omitempty"`
}

// IsAggregated reports whether the finding came from an aggregation flush.
func (f *Finding) IsAggregated() bool {
	return f.Aggregation != nil
}

// NewRecordFinding builds a finding attributed to rec. Values holds only the
// keys the rule referenced.
func NewRecordFinding(ruleID, title string, level Level, rec *EnrichedRecord, keys []string) Finding {
	values := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := rec.Value(k); ok {
			values[k] = v
		}
	}
	return Finding{
		ID:        uuid.New().String(),
		RuleID:    ruleID,
		RuleTitle: title,
		Level:     level,
		Timestamp: rec.Timestamp,
		Origin:    rec.Origin,
		Sequence:  rec.Sequence,
		Values:    values,
		Record:    rec,
	}
}

// NewAggregateFinding builds a finding summarizing one aggregation bucket.
func NewAggregateFinding(ruleID, title string, level Level, summary *AggregationSummary) Finding {
	return Finding{
		ID:          uuid.New().String(),
		RuleID:      ruleID,
		RuleTitle:   title,
		Level:       level,
		Timestamp:   summary.WindowStart,
		Sequence:    -1,
		Aggregation: summary,
	}
}
