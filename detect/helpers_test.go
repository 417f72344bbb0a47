package detect

import (
	"testing"
	"time"

	"evtxhound/core"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// testLogger creates a no-op logger for tests
func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler(CompilerConfig{})
	if err != nil {
		t.Fatalf("NewCompiler() error = %v", err)
	}
	return c
}

// compileYAML compiles a rule whose detection section is given as YAML.
func compileYAML(t *testing.T, id string, level core.Level, detection string) *Rule {
	t.Helper()
	var det map[string]interface{}
	if err := yaml.Unmarshal([]byte(detection), &det); err != nil {
		t.Fatalf("invalid detection YAML: %v", err)
	}
	rule, err := testCompiler(t).Compile(RuleSource{
		ID:        id,
		Title:     "Test rule " + id,
		Level:     level,
		Detection: det,
	})
	if err != nil {
		t.Fatalf("Compile(%s) error = %v", id, err)
	}
	return rule
}

func record(seq int, ts time.Time, values map[string]interface{}) *core.EnrichedRecord {
	return &core.EnrichedRecord{
		Origin:    "test.jsonl",
		Sequence:  seq,
		Timestamp: ts,
		Values:    values,
	}
}

var baseTime = time.Date(2023, 3, 14, 10, 0, 0, 0, time.UTC)
