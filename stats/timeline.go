package stats

import (
	"time"

	"evtxhound/core"
)

// ContainerSummary is the timeline entry for one container.
type ContainerSummary struct {
	Path       string    `json:"path"`
	Records    int64     `json:"records"`
	First      time.Time `json:"first"`
	Last       time.Time `json:"last"`
	OutOfOrder int64     `json:"out_of_order"`
	Findings   int64     `json:"findings"`
}

// Span returns the time covered by the container's records.
func (c ContainerSummary) Span() time.Duration {
	if c.First.IsZero() || c.Last.IsZero() {
		return 0
	}
	return c.Last.Sub(c.First)
}

// Timeline records, for each container in processing order, how many
// records it held and the time range they cover.
type Timeline struct {
	containers []ContainerSummary
	latest     time.Time
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// StartContainer opens a new entry; following records are attributed to it.
func (t *Timeline) StartContainer(path string) {
	t.containers = append(t.containers, ContainerSummary{Path: path})
	t.latest = time.Time{}
}

func (t *Timeline) current() *ContainerSummary {
	if len(t.containers) == 0 {
		t.StartContainer("")
	}
	return &t.containers[len(t.containers)-1]
}

// Observe adds one record. Records without a timestamp are counted but do
// not move the time range.
func (t *Timeline) Observe(rec *core.EnrichedRecord) {
	c := t.current()
	c.Records++
	ts := rec.Timestamp
	if ts.IsZero() {
		return
	}
	if c.First.IsZero() || ts.Before(c.First) {
		c.First = ts
	}
	if ts.After(c.Last) {
		c.Last = ts
	}
	if ts.Before(t.latest) {
		c.OutOfOrder++
	} else {
		t.latest = ts
	}
}

// ObserveFinding attributes a per-record finding to the current container.
func (t *Timeline) ObserveFinding(f core.Finding) {
	if f.IsAggregated() {
		return
	}
	t.current().Findings++
}

// Containers returns the entries in processing order.
func (t *Timeline) Containers() []ContainerSummary {
	out := make([]ContainerSummary, len(t.containers))
	copy(out, t.containers)
	return out
}

// Range returns the earliest and latest record time across all containers.
func (t *Timeline) Range() (first, last time.Time) {
	return Range(t.containers)
}

// Range returns the earliest and latest record time across entries.
func Range(entries []ContainerSummary) (first, last time.Time) {
	for _, c := range entries {
		if !c.First.IsZero() && (first.IsZero() || c.First.Before(first)) {
			first = c.First
		}
		if c.Last.After(last) {
			last = c.Last
		}
	}
	return first, last
}
