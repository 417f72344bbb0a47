package detect

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"evtxhound/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCompile_LogonRule(t *testing.T) {
	rule := compileYAML(t, "logon-3", core.LevelMedium, `
selection:
  EventID: 4624
  LogonType: 3
filter:
  TargetUserName|endswith: '$'
condition: selection and not filter
`)

	assert.Equal(t, []string{"EventID", "LogonType", "TargetUserName"}, rule.Keys)
	assert.Nil(t, rule.Aggregation)
	assert.True(t, rule.Enabled)

	match := record(0, baseTime, map[string]interface{}{
		"EventID": json.Number("4624"), "LogonType": json.Number("3"), "TargetUserName": "alice",
	})
	machine := record(1, baseTime, map[string]interface{}{
		"EventID": json.Number("4624"), "LogonType": json.Number("3"), "TargetUserName": "HOST$",
	})
	interactive := record(2, baseTime, map[string]interface{}{
		"EventID": json.Number("4624"), "LogonType": json.Number("2"), "TargetUserName": "alice",
	})
	noUser := record(3, baseTime, map[string]interface{}{
		"EventID": json.Number("4624"), "LogonType": json.Number("3"),
	})

	assert.True(t, rule.Condition.Evaluate(match))
	assert.False(t, rule.Condition.Evaluate(machine))
	assert.False(t, rule.Condition.Evaluate(interactive))
	assert.True(t, rule.Condition.Evaluate(noUser), "absent filter field makes the filter false")
}

func TestCompile_Modifiers(t *testing.T) {
	rule := compileYAML(t, "mods", core.LevelHigh, `
selection_cmd:
  CommandLine|contains|all:
    - ' -enc '
    - 'powershell'
selection_img:
  - Image|endswith: '\rundll32.exe'
  - Image|re: '(?i)\\regsvr32\.exe$'
selection_pid:
  ProcessId|gte: 1000
condition: selection_cmd or (1 of selection_i* and selection_pid)
`)

	tests := []struct {
		name   string
		values map[string]interface{}
		want   bool
	}{
		{"all contains", map[string]interface{}{"CommandLine": "powershell -enc ZQBj"}, true},
		{"one contains missing", map[string]interface{}{"CommandLine": "powershell -nop"}, false},
		{"endswith and gte", map[string]interface{}{"Image": `C:\Windows\rundll32.exe`, "ProcessId": "4000"}, true},
		{"regex and gte", map[string]interface{}{"Image": `C:\Windows\REGSVR32.EXE`, "ProcessId": json.Number("1000")}, true},
		{"pid too low", map[string]interface{}{"Image": `C:\Windows\rundll32.exe`, "ProcessId": "12"}, false},
		{"pid not numeric", map[string]interface{}{"Image": `C:\Windows\rundll32.exe`, "ProcessId": "n/a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rule.Condition.Evaluate(record(0, baseTime, tt.values)))
		})
	}
}

func TestCompile_Windash(t *testing.T) {
	rule := compileYAML(t, "windash", core.LevelLow, `
selection:
  CommandLine|windash|contains: ' -decode '
condition: selection
`)
	assert.True(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"CommandLine": "certutil /decode a b"})))
	assert.True(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"CommandLine": "certutil -decode a b"})))
}

func TestCompile_ConditionList(t *testing.T) {
	rule := compileYAML(t, "list", core.LevelLow, `
a:
  EventID: 1
b:
  EventID: 2
condition:
  - a
  - b
`)
	assert.True(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"EventID": "2"})))
	assert.False(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"EventID": "3"})))
}

func TestCompile_Aggregation(t *testing.T) {
	rule := compileYAML(t, "brute", core.LevelHigh, `
selection:
  EventID: 4625
condition: selection | count(TargetUserName) by IpAddress >= 5
timeframe: 10m
`)
	require.NotNil(t, rule.Aggregation)
	assert.Equal(t, "TargetUserName", rule.Aggregation.CountField)
	assert.Equal(t, "IpAddress", rule.Aggregation.GroupBy)
	assert.Equal(t, ">=", rule.Aggregation.Operator)
	assert.Equal(t, int64(5), rule.Aggregation.Threshold)
	assert.Equal(t, 10*time.Minute, rule.Aggregation.Window)
	assert.Equal(t, []string{"EventID", "IpAddress", "TargetUserName"}, rule.Keys)

	within := compileYAML(t, "brute2", core.LevelHigh, `
selection:
  EventID: 4625
condition: selection | count() by IpAddress > 3 within 1h
timeframe: 10m
`)
	assert.Equal(t, time.Hour, within.Aggregation.Window, "within takes precedence over timeframe")
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name      string
		detection string
		target    error
	}{
		{"missing condition", "selection:\n  EventID: 1\n", nil},
		{"undefined selection", "selection:\n  EventID: 1\ncondition: other\n", &UndefinedIdentifierError{Identifier: "other"}},
		{"unsupported modifier", "selection:\n  Image|base64offset: abc\ncondition: selection\n", ErrUnsupportedModifier},
		{"keyword list", "keywords:\n  - mimikatz\ncondition: keywords\n", nil},
		{"null value", "selection:\n  Image: null\ncondition: selection\n", nil},
		{"bad aggregation", "selection:\n  EventID: 1\ncondition: selection | sum(x) > 1\n", nil},
		{"numeric modifier needs number", "selection:\n  Pid|gt: abc\ncondition: selection\n", nil},
		{"conflicting modifiers", "selection:\n  Image|contains|endswith: abc\ncondition: selection\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var det map[string]interface{}
			require.NoError(t, yaml.Unmarshal([]byte(tt.detection), &det))
			_, err := testCompiler(t).Compile(RuleSource{ID: "bad", Detection: det})
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}

	_, err := testCompiler(t).Compile(RuleSource{Detection: map[string]interface{}{"condition": "x"}})
	assert.Error(t, err, "rules need an id")
}

func TestParseAggregation(t *testing.T) {
	tests := []struct {
		expr    string
		want    AggregationClause
		wantErr bool
	}{
		{"count() > 5", AggregationClause{Operator: ">", Threshold: 5}, false},
		{"count() by IpAddress > 5 within 5m", AggregationClause{GroupBy: "IpAddress", Operator: ">", Threshold: 5, Window: 5 * time.Minute}, false},
		{"COUNT(User) BY Host == 2 WITHIN 2d", AggregationClause{CountField: "User", GroupBy: "Host", Operator: "==", Threshold: 2, Window: 48 * time.Hour}, false},
		{"count(x)<=1", AggregationClause{CountField: "x", Operator: "<=", Threshold: 1}, false},
		{"count() != 5", AggregationClause{}, true},
		{"count() > five", AggregationClause{}, true},
		{"count() > 5 within forever", AggregationClause{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseAggregation(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestAggregationClause_Satisfied(t *testing.T) {
	tests := []struct {
		op    string
		count int64
		want  bool
	}{
		{">", 6, true}, {">", 5, false},
		{">=", 5, true}, {">=", 4, false},
		{"==", 5, true}, {"==", 6, false},
		{"<", 4, true}, {"<", 5, false},
		{"<=", 5, true}, {"<=", 6, false},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		clause := &AggregationClause{Operator: tt.op, Threshold: 5}
		assert.Equal(t, tt.want, clause.Satisfied(tt.count), "%d %s 5", tt.count, tt.op)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseDuration("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	for _, bad := range []string{"", "0s", "-5m", "xd", "0d"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}
