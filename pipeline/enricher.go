package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evtxhound/core"
	"evtxhound/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pending is a decoded record waiting for enrichment, with its position in
// the container.
type Pending struct {
	Raw      core.RawRecord
	Sequence int
}

// Enricher extracts the referenced field keys of every record in a batch.
type Enricher struct {
	keys         []string
	resolver     *core.FieldResolver
	timestampKey string
	logger       *zap.SugaredLogger
	// errs receives unparseable timestamps; the driver sets it to its error log.
	errs *core.ErrorLog

	// beforeUnit runs at the start of each unit; tests use it to reorder completion.
	beforeUnit func(i int)
}

// NewEnricher creates an enricher for the given keys. timestampKey names the
// field holding the record time.
func NewEnricher(keys []string, resolver *core.FieldResolver, timestampKey string, logger *zap.SugaredLogger) *Enricher {
	return &Enricher{keys: keys, resolver: resolver, timestampKey: timestampKey, logger: logger}
}

// Keys returns the keys extracted into every record's cache.
func (e *Enricher) Keys() []string {
	return e.keys
}

// Enrich runs one goroutine per record and returns the results in input
// order. A failing unit fails the whole batch.
func (e *Enricher) Enrich(ctx context.Context, origin string, batch []Pending) ([]*core.EnrichedRecord, error) {
	out := make([]*core.EnrichedRecord, len(batch))
	g, _ := errgroup.WithContext(ctx)

	for i := range batch {
		i := i
		g.Go(goroutine.Guard(fmt.Sprintf("enrich %s#%d", origin, batch[i].Sequence), e.logger, func() error {
			if e.beforeUnit != nil {
				e.beforeUnit(i)
			}
			out[i] = e.enrichOne(origin, batch[i])
			return nil
		}))
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("record enrichment failed for %s: %w", origin, err)
	}
	return out, nil
}

func (e *Enricher) enrichOne(origin string, p Pending) *core.EnrichedRecord {
	values := make(map[string]interface{}, len(e.keys))
	for _, key := range e.keys {
		if v, ok := e.resolver.Lookup(p.Raw, key); ok {
			values[key] = v
		}
	}

	rec := &core.EnrichedRecord{
		Raw:      p.Raw,
		Origin:   origin,
		Sequence: p.Sequence,
		Values:   values,
	}
	if v, ok := e.resolver.Lookup(p.Raw, e.timestampKey); ok {
		if s, isScalar := core.ScalarString(v); isScalar {
			ts, err := ParseTimestamp(s)
			if err != nil {
				e.timestampFailed(origin, p.Sequence, err)
			}
			rec.Timestamp = ts
		}
	}
	return rec
}

// timestampFailed reports a record that keeps the zero time.
func (e *Enricher) timestampFailed(origin string, seq int, err error) {
	source := fmt.Sprintf("%s#%d", origin, seq)
	e.logger.Debugw("Record timestamp not parsed", "record", source, "error", err)
	if e.errs != nil {
		e.errs.Add(core.ErrorKindTimestamp, source, err)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the time formats EVTX converters emit. Times
// without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
