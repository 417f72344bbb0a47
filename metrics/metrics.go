package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed counts records pulled from sources.
	// Labels:
	//   - outcome: "decoded", "decode_error" or "filtered"
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evtxhound",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Total number of records pulled from record sources",
		},
		[]string{"outcome"},
	)

	BatchesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evtxhound",
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Total number of record batches enriched and evaluated",
		},
	)

	BatchEnrichDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "evtxhound",
			Subsystem: "pipeline",
			Name:      "batch_enrich_duration_seconds",
			Help:      "Time taken to enrich one batch of records",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ContainersProcessed counts log containers.
	// Labels:
	//   - result: "ok" or "skipped"
	ContainersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evtxhound",
			Subsystem: "pipeline",
			Name:      "containers_total",
			Help:      "Total number of log containers processed or skipped",
		},
		[]string{"result"},
	)

	// FindingsEmitted counts findings by severity.
	// Labels:
	//   - level: rule level name
	//   - kind: "record" or "aggregate"
	FindingsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evtxhound",
			Subsystem: "detect",
			Name:      "findings_total",
			Help:      "Total number of findings emitted",
		},
		[]string{"level", "kind"},
	)

	AggregationBucketsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "evtxhound",
			Subsystem: "detect",
			Name:      "aggregation_buckets_open",
			Help:      "Number of aggregation buckets currently accumulating",
		},
	)

	RegexTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evtxhound",
			Subsystem: "detect",
			Name:      "regex_timeouts_total",
			Help:      "Total number of regex matches aborted by the match timeout",
		},
	)

	// RulesLoaded counts rules by load result.
	// Labels:
	//   - result: "loaded", "disabled", "filtered", "excluded" or "invalid"
	RulesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evtxhound",
			Subsystem: "rules",
			Name:      "rules_total",
			Help:      "Total number of rule files by load result",
		},
		[]string{"result"},
	)
)

// WriteTextfile writes every registered metric to path in the Prometheus
// text exposition format, for pickup by a node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
