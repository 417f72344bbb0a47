package detect

import (
	"fmt"
	"strings"

	"evtxhound/core"
	"evtxhound/metrics"

	"go.uber.org/zap"
)

// EngineConfig holds configuration options for the detection engine.
type EngineConfig struct {
	WindowMode WindowMode
}

// Engine evaluates enriched records against a rule corpus.
//
// Per-record rules produce findings immediately. Aggregation rules feed the
// Accumulator, whose findings are only known after Flush at end of run.
// Process and Flush must be called from one goroutine; the rules themselves
// are read-only.
type Engine struct {
	rules  []*Rule
	keys   []string
	acc    *Accumulator
	logger *zap.SugaredLogger

	ruleHits  map[string]int64
	levelHits map[core.Level]int64
	evaluated int64
}

// EngineSummary reports match counts gathered during a run.
type EngineSummary struct {
	RecordsEvaluated int64
	RuleHits         map[string]int64
	LevelHits        map[core.Level]int64
}

// NewEngine creates an engine over the enabled rules. It returns
// ErrEmptyCorpus when no enabled rule remains.
func NewEngine(rules []*Rule, cfg EngineConfig, logger *zap.SugaredLogger) (*Engine, error) {
	active := make([]*Rule, 0, len(rules))
	keys := make(map[string]struct{})
	for _, r := range rules {
		if r == nil || !r.Enabled {
			continue
		}
		active = append(active, r)
		for _, k := range r.Keys {
			keys[k] = struct{}{}
		}
	}
	if len(active) == 0 {
		return nil, ErrEmptyCorpus
	}

	mode, err := ParseWindowMode(string(cfg.WindowMode))
	if err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	logger.Infow("Detection engine ready",
		"rules", len(active),
		"referenced_keys", len(keys),
		"window_mode", mode)

	return &Engine{
		rules:     active,
		keys:      sortedKeys(keys),
		acc:       NewAccumulator(active, mode, logger),
		logger:    logger,
		ruleHits:  make(map[string]int64),
		levelHits: make(map[core.Level]int64),
	}, nil
}

// Keys returns the field keys referenced by any active rule, sorted.
func (e *Engine) Keys() []string {
	return e.keys
}

// Rules returns the active rules in corpus order.
func (e *Engine) Rules() []*Rule {
	return e.rules
}

// Process evaluates every record of a batch against every rule, in record
// order. It returns the immediate findings in that order.
func (e *Engine) Process(batch []*core.EnrichedRecord) []core.Finding {
	var findings []core.Finding
	for _, rec := range batch {
		e.evaluated++
		for _, rule := range e.rules {
			if !rule.Condition.Evaluate(rec) {
				continue
			}
			e.ruleHits[rule.ID]++
			if rule.Aggregation != nil {
				e.contribute(rule, rec)
				continue
			}
			e.levelHits[rule.Level]++
			metrics.FindingsEmitted.WithLabelValues(rule.Level.String(), "record").Inc()
			findings = append(findings, core.NewRecordFinding(rule.ID, rule.Title, rule.Level, rec, rule.Keys))
		}
	}
	return findings
}

func (e *Engine) contribute(rule *Rule, rec *core.EnrichedRecord) {
	clause := rule.Aggregation
	c := Contribution{Timestamp: rec.Timestamp, Origin: rec.Origin}
	if clause.GroupBy != "" {
		c.GroupValue = valueKey(rec, clause.GroupBy)
	}
	if clause.CountField != "" {
		v, ok := rec.Value(clause.CountField)
		if !ok {
			return
		}
		c.DistinctValue = formatValue(v)
	}
	e.acc.Add(rule, c)
}

// Flush settles all aggregation state and returns the aggregated findings.
// Call once, after the last batch of the run.
func (e *Engine) Flush() []core.Finding {
	findings := e.acc.Flush()
	for _, f := range findings {
		e.levelHits[f.Level]++
		metrics.FindingsEmitted.WithLabelValues(f.Level.String(), "aggregate").Inc()
	}
	e.logger.Infow("Aggregation state flushed", "findings", len(findings))
	return findings
}

// Summary returns a copy of the match counters.
func (e *Engine) Summary() EngineSummary {
	s := EngineSummary{
		RecordsEvaluated: e.evaluated,
		RuleHits:         make(map[string]int64, len(e.ruleHits)),
		LevelHits:        make(map[core.Level]int64, len(e.levelHits)),
	}
	for k, v := range e.ruleHits {
		s.RuleHits[k] = v
	}
	for k, v := range e.levelHits {
		s.LevelHits[k] = v
	}
	return s
}

func valueKey(rec *core.EnrichedRecord, key string) string {
	v, ok := rec.Value(key)
	if !ok {
		return ""
	}
	return formatValue(v)
}

func formatValue(v interface{}) string {
	if s, ok := core.ScalarString(v); ok {
		return s
	}
	if list, ok := v.([]interface{}); ok {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, formatValue(item))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("%v", v)
}
