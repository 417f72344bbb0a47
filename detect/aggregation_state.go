package detect

import (
	"fmt"
	"sort"
	"time"

	"evtxhound/core"
	"evtxhound/metrics"

	"go.uber.org/zap"
)

// WindowMode selects how aggregation time windows are placed.
type WindowMode string

const (
	// WindowAnchored opens a window at the first contributing match and
	// covers [start, start+window] inclusive.
	WindowAnchored WindowMode = "anchored"
	// WindowAligned uses fixed buckets [t.Truncate(window), +window) in UTC.
	WindowAligned WindowMode = "aligned"
)

// ParseWindowMode validates a window mode name. Empty selects WindowAnchored.
func ParseWindowMode(s string) (WindowMode, error) {
	switch WindowMode(s) {
	case "", WindowAnchored:
		return WindowAnchored, nil
	case WindowAligned:
		return WindowAligned, nil
	}
	return "", fmt.Errorf("invalid window mode %q: must be %q or %q", s, WindowAnchored, WindowAligned)
}

// Contribution is one contributing match forwarded by the engine.
type Contribution struct {
	GroupValue string
	// DistinctValue is the count field's value in count-distinct mode.
	DistinctValue string
	Timestamp     time.Time
	Origin        string
}

type bucketState int

const (
	bucketAccumulating bucketState = iota
	bucketFlushed
)

// bucket is the state of one (rule, group, window) instance.
type bucket struct {
	state    bucketState
	start    time.Time
	first    time.Time
	last     time.Time
	count    int64
	distinct map[string]struct{}
	origins  []string
	seen     map[string]struct{}
}

func newBucket(clause *AggregationClause, start time.Time) *bucket {
	b := &bucket{
		state: bucketAccumulating,
		start: start,
		seen:  make(map[string]struct{}),
	}
	if clause.CountField != "" {
		b.distinct = make(map[string]struct{})
	}
	return b
}

func (b *bucket) add(c Contribution, distinctMode bool) {
	if b.count == 0 || c.Timestamp.Before(b.first) {
		b.first = c.Timestamp
	}
	if b.count == 0 || c.Timestamp.After(b.last) {
		b.last = c.Timestamp
	}
	b.count++
	if distinctMode {
		b.distinct[c.DistinctValue] = struct{}{}
	}
	if _, ok := b.seen[c.Origin]; !ok && c.Origin != "" {
		b.seen[c.Origin] = struct{}{}
		b.origins = append(b.origins, c.Origin)
	}
}

func (b *bucket) value(distinctMode bool) int64 {
	if distinctMode {
		return int64(len(b.distinct))
	}
	return b.count
}

type groupKey struct {
	ruleID string
	group  string
}

// groupState holds everything one (rule, group) pair has seen. Aligned and
// unbounded clauses keep live buckets keyed by bucket start. Anchored windows
// depend on the earliest timestamp of the whole run, so their contributions
// are kept and cut into buckets at Flush.
type groupState struct {
	rule     *Rule
	value    string
	buckets  map[time.Time]*bucket
	anchored []Contribution
}

type pendingFinding struct {
	order   int
	group   string
	start   time.Time
	finding core.Finding
}

// Accumulator correlates contributing matches of aggregation rules across a
// whole run. Nothing is settled before Flush, so the result does not depend on
// the order in which containers or records arrive. It is not safe for
// concurrent use; the engine feeds it from a single goroutine.
type Accumulator struct {
	mode    WindowMode
	logger  *zap.SugaredLogger
	order   map[string]int
	groups  map[groupKey]*groupState
	pending []pendingFinding
	open    int
}

// NewAccumulator creates an accumulator. Flushed findings follow the order of rules.
func NewAccumulator(rules []*Rule, mode WindowMode, logger *zap.SugaredLogger) *Accumulator {
	order := make(map[string]int, len(rules))
	for i, r := range rules {
		order[r.ID] = i
	}
	return &Accumulator{
		mode:   mode,
		logger: logger,
		order:  order,
		groups: make(map[groupKey]*groupState),
	}
}

// Add records one contributing match for rule.
func (a *Accumulator) Add(rule *Rule, c Contribution) {
	clause := rule.Aggregation
	if clause == nil {
		return
	}
	key := groupKey{ruleID: rule.ID, group: c.GroupValue}
	gs, ok := a.groups[key]
	if !ok {
		gs = &groupState{rule: rule, value: c.GroupValue, buckets: make(map[time.Time]*bucket)}
		a.groups[key] = gs
	}

	if clause.Window > 0 && a.mode != WindowAligned {
		if len(gs.anchored) == 0 {
			a.opened()
		}
		gs.anchored = append(gs.anchored, c)
		return
	}

	var start time.Time
	if clause.Window > 0 {
		start = c.Timestamp.UTC().Truncate(clause.Window)
	}
	b, ok := gs.buckets[start]
	if !ok {
		b = newBucket(clause, start)
		gs.buckets[start] = b
		a.opened()
	}
	b.add(c, clause.CountField != "")
}

func (a *Accumulator) opened() {
	a.open++
	metrics.AggregationBucketsOpen.Inc()
}

func (a *Accumulator) closed() {
	a.open--
	metrics.AggregationBucketsOpen.Dec()
}

// cutAnchored orders the anchored contributions of gs by timestamp and settles
// one bucket per window: a bucket opens at its first match and covers
// [start, start+window] inclusive.
func (a *Accumulator) cutAnchored(gs *groupState) {
	clause := gs.rule.Aggregation
	distinctMode := clause.CountField != ""
	sort.SliceStable(gs.anchored, func(i, j int) bool {
		return gs.anchored[i].Timestamp.Before(gs.anchored[j].Timestamp)
	})

	var cur *bucket
	for _, c := range gs.anchored {
		if cur != nil && c.Timestamp.After(cur.start.Add(clause.Window)) {
			a.settle(gs, cur)
			cur = nil
		}
		if cur == nil {
			cur = newBucket(clause, c.Timestamp)
		}
		cur.add(c, distinctMode)
	}
	if cur != nil {
		a.settle(gs, cur)
	}
	gs.anchored = nil
}

// settle moves b to its terminal state, keeping a finding if the threshold holds.
func (a *Accumulator) settle(gs *groupState, b *bucket) {
	if b.state == bucketFlushed {
		return
	}
	b.state = bucketFlushed

	clause := gs.rule.Aggregation
	distinctMode := clause.CountField != ""
	count := b.value(distinctMode)
	if !clause.Satisfied(count) {
		a.logger.Debugw("Aggregation bucket discarded",
			"rule_id", gs.rule.ID,
			"group", gs.value,
			"count", count)
		return
	}

	summary := &core.AggregationSummary{
		GroupBy:     clause.GroupBy,
		GroupValue:  gs.value,
		CountField:  clause.CountField,
		Count:       count,
		Operator:    clause.Operator,
		Threshold:   clause.Threshold,
		WindowStart: b.first,
		WindowEnd:   b.last,
		Origins:     b.origins,
	}
	a.pending = append(a.pending, pendingFinding{
		order:   a.order[gs.rule.ID],
		group:   gs.value,
		start:   b.start,
		finding: core.NewAggregateFinding(gs.rule.ID, gs.rule.Title, gs.rule.Level, summary),
	})
	b.distinct = nil
	b.seen = nil
}

// OpenBuckets returns the number of buckets still accumulating. Anchored
// windows are only cut at Flush; until then each group counts as one.
func (a *Accumulator) OpenBuckets() int {
	return a.open
}

// Flush settles every bucket and returns all aggregated findings ordered by
// rule, group value and bucket start. The accumulator is empty afterwards.
func (a *Accumulator) Flush() []core.Finding {
	for _, gs := range a.groups {
		if len(gs.anchored) > 0 {
			a.cutAnchored(gs)
			a.closed()
		}
		for _, b := range gs.buckets {
			a.settle(gs, b)
			a.closed()
		}
		gs.buckets = nil
	}

	sort.SliceStable(a.pending, func(i, j int) bool {
		pi, pj := a.pending[i], a.pending[j]
		if pi.order != pj.order {
			return pi.order < pj.order
		}
		if pi.group != pj.group {
			return pi.group < pj.group
		}
		return pi.start.Before(pj.start)
	})

	findings := make([]core.Finding, len(a.pending))
	for i, p := range a.pending {
		findings[i] = p.finding
	}
	a.pending = nil
	a.groups = make(map[groupKey]*groupState)
	return findings
}
