// Package pipeline streams log containers through prefiltering, concurrent
// enrichment, statistics and detection, one bounded batch at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"evtxhound/core"
	"evtxhound/detect"
	"evtxhound/metrics"
	"evtxhound/source"
	"evtxhound/stats"

	"go.uber.org/zap"
)

// MaxBatchSize bounds the number of records held in memory per batch.
const MaxBatchSize = 5000

// Detector evaluates batches of enriched records. *detect.Engine implements it.
type Detector interface {
	Process(batch []*core.EnrichedRecord) []core.Finding
	Flush() []core.Finding
}

// Sink receives findings in emission order and the final statistics.
type Sink interface {
	Write(f core.Finding) error
	Close(snapshot core.StatsSnapshot) error
}

// Config wires the driver. Detector, Timeline, Pivots and Sink are optional.
type Config struct {
	BatchSize int
	Opener    source.Opener
	Prefilter *Prefilter
	Enricher  *Enricher
	Detector  Detector
	Tracker   *stats.Tracker
	Timeline  *stats.Timeline
	Pivots    *stats.PivotCollector
	Sink      Sink
	Errors    *core.ErrorLog
	Logger    *zap.SugaredLogger

	// OnContainer is called before each container is opened.
	OnContainer func(path string, index, total int)
}

// Result summarizes one run.
type Result struct {
	Containers         int
	SkippedContainers  int
	Records            int64
	Filtered           int64
	DecodeErrors       int64
	Batches            int
	Findings           int64
	AggregatedFindings int64
	LevelCounts        map[core.Level]int64
	Stats              core.StatsSnapshot
	Timeline           []stats.ContainerSummary
	Pivots             map[string][]string
	Errors             *core.ErrorLog
	Elapsed            time.Duration
}

// Driver runs containers sequentially through the pipeline.
type Driver struct {
	cfg Config
}

// NewDriver validates cfg and creates a driver.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Opener == nil {
		return nil, errors.New("pipeline: opener is required")
	}
	if cfg.Enricher == nil {
		return nil, errors.New("pipeline: enricher is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("pipeline: statistics tracker is required")
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Errors == nil {
		cfg.Errors = core.NewErrorLog()
	}
	if cfg.Enricher.errs == nil {
		cfg.Enricher.errs = cfg.Errors
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Driver{cfg: cfg}, nil
}

// ErrSinkClose marks a Run that failed while closing the sink. The sink has
// been closed in that case and must not be closed again.
var ErrSinkClose = errors.New("failed to close result sink")

// Run processes containers in the given order. Per-record and per-container
// failures are collected in the error log; Run only fails on cancellation,
// enrichment panics, or sink errors.
func (d *Driver) Run(ctx context.Context, containers []string) (*Result, error) {
	start := time.Now()
	res := &Result{
		Errors:      d.cfg.Errors,
		LevelCounts: make(map[core.Level]int64),
	}

	for i, path := range containers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan aborted: %w", err)
		}
		if d.cfg.OnContainer != nil {
			d.cfg.OnContainer(path, i, len(containers))
		}
		if err := d.runContainer(ctx, path, res); err != nil {
			return nil, err
		}
	}

	if d.cfg.Detector != nil {
		for _, f := range d.cfg.Detector.Flush() {
			if err := d.emit(f, res); err != nil {
				return nil, err
			}
		}
	}

	res.Stats = d.cfg.Tracker.Snapshot()
	if d.cfg.Timeline != nil {
		res.Timeline = d.cfg.Timeline.Containers()
	}
	if d.cfg.Pivots != nil {
		res.Pivots = d.cfg.Pivots.Values()
	}
	if d.cfg.Sink != nil {
		if err := d.cfg.Sink.Close(res.Stats); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSinkClose, err)
		}
	}
	res.Elapsed = time.Since(start)

	d.cfg.Logger.Infow("Scan complete",
		"containers", res.Containers,
		"skipped", res.SkippedContainers,
		"records", res.Records,
		"findings", res.Findings+res.AggregatedFindings,
		"errors", res.Errors.Len(),
		"elapsed", res.Elapsed)
	return res, nil
}

func (d *Driver) runContainer(ctx context.Context, path string, res *Result) error {
	src, err := d.cfg.Opener.Open(path)
	if err != nil {
		d.cfg.Errors.Add(core.ErrorKindContainer, path, err)
		d.cfg.Logger.Warnw("Skipping container", "path", path, "error", err)
		metrics.ContainersProcessed.WithLabelValues("skipped").Inc()
		res.SkippedContainers++
		return nil
	}
	defer src.Close()

	if d.cfg.Timeline != nil {
		d.cfg.Timeline.StartContainer(path)
	}
	d.cfg.Logger.Debugw("Processing container", "path", path)

	r := &batchReader{
		src:       src,
		path:      path,
		size:      d.cfg.BatchSize,
		prefilter: d.cfg.Prefilter,
		errs:      d.cfg.Errors,
		logger:    d.cfg.Logger,
	}
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan aborted: %w", err)
		}
		batch := r.next()
		if len(batch) == 0 {
			break
		}
		if err := d.processBatch(ctx, path, batch, res); err != nil {
			return err
		}
	}

	res.Containers++
	res.Records += r.decoded
	res.Filtered += r.filtered
	res.DecodeErrors += r.decodeErrors
	metrics.ContainersProcessed.WithLabelValues("ok").Inc()
	return nil
}

func (d *Driver) processBatch(ctx context.Context, path string, batch []Pending, res *Result) error {
	started := time.Now()
	enriched, err := d.cfg.Enricher.Enrich(ctx, path, batch)
	if err != nil {
		return err
	}
	metrics.BatchEnrichDuration.Observe(time.Since(started).Seconds())
	metrics.BatchesProcessed.Inc()
	res.Batches++

	for _, rec := range enriched {
		d.cfg.Tracker.Observe(rec)
		if d.cfg.Timeline != nil {
			d.cfg.Timeline.Observe(rec)
		}
	}
	if d.cfg.Detector == nil {
		return nil
	}
	for _, f := range d.cfg.Detector.Process(enriched) {
		if err := d.emit(f, res); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) emit(f core.Finding, res *Result) error {
	if f.IsAggregated() {
		res.AggregatedFindings++
	} else {
		res.Findings++
	}
	res.LevelCounts[f.Level]++
	if d.cfg.Timeline != nil {
		d.cfg.Timeline.ObserveFinding(f)
	}
	if d.cfg.Pivots != nil {
		d.cfg.Pivots.Observe(f)
	}
	if d.cfg.Sink == nil {
		return nil
	}
	if err := d.cfg.Sink.Write(f); err != nil {
		return fmt.Errorf("failed to write finding for rule %s: %w", f.RuleID, err)
	}
	return nil
}

// batchReader pulls records that pass the prefilter until a batch is full.
// Filtered records do not take batch space, so an empty batch means the
// source is exhausted.
type batchReader struct {
	src       source.RecordSource
	path      string
	size      int
	prefilter *Prefilter
	errs      *core.ErrorLog
	logger    *zap.SugaredLogger

	seq          int
	done         bool
	decoded      int64
	filtered     int64
	decodeErrors int64
}

func (r *batchReader) next() []Pending {
	if r.done {
		return nil
	}
	batch := make([]Pending, 0, r.size)
	for len(batch) < r.size {
		raw, err := r.src.Next()
		if err != nil {
			var decodeErr *source.DecodeError
			switch {
			case errors.Is(err, io.EOF):
				r.done = true
				return batch
			case errors.As(err, &decodeErr):
				r.decodeErrors++
				metrics.RecordsProcessed.WithLabelValues("decode_error").Inc()
				r.errs.Add(core.ErrorKindDecode, r.path, err)
				r.logger.Debugw("Skipping undecodable record", "path", r.path, "line", decodeErr.Line, "error", decodeErr.Err)
				continue
			default:
				r.done = true
				r.errs.Add(core.ErrorKindContainer, r.path, err)
				r.logger.Warnw("Container read failed, keeping records read so far", "path", r.path, "error", err)
				return batch
			}
		}

		seq := r.seq
		r.seq++
		r.decoded++
		if !r.prefilter.Allow(raw) {
			r.filtered++
			metrics.RecordsProcessed.WithLabelValues("filtered").Inc()
			continue
		}
		metrics.RecordsProcessed.WithLabelValues("decoded").Inc()
		batch = append(batch, Pending{Raw: raw, Sequence: seq})
	}
	return batch
}

// MergeKeys returns the sorted union of key sets, for building the
// enricher's key list from the engine and the tracker.
func MergeKeys(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range sets {
		for _, k := range set {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

var _ Detector = (*detect.Engine)(nil)
