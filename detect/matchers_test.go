package detect

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWildcardMatcher(t *testing.T) {
	c := testCompiler(t)

	tests := []struct {
		pattern string
		value   interface{}
		want    bool
	}{
		{"Proc*.exe", "Proc1.exe", true},
		{"Proc*.exe", "Processhost.exe", true},
		{"Proc*.exe", "xProc.exe", false},
		{"Proc*.exe", "Proc.exe", true},
		{"Proc*.exe", "proc1.exe", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"a?c", "abbc", false},
		{`C:\Windows\\*`, `C:\Windows\System32\cmd.exe`, true},
		{`C:\Windows\*`, `C:\Windows\System32\cmd.exe`, false},
		{`100\*`, "100*", true},
		{`100\*`, "1000", false},
		{"*.exe", "line1\nline2.exe", true},
		{"Proc*.exe", json.Number("1"), false},
		{"Proc*.exe", map[string]interface{}{"a": "b"}, false},
	}

	for _, tt := range tests {
		m, err := c.patterns.wildcard(tt.pattern)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.Match(tt.value), "pattern %q value %v", tt.pattern, tt.value)
	}
}

func TestHasWildcard(t *testing.T) {
	assert.True(t, hasWildcard("a*"))
	assert.True(t, hasWildcard("a?"))
	assert.False(t, hasWildcard(`a\*`))
	assert.False(t, hasWildcard("plain"))
}

func TestExactMatcher(t *testing.T) {
	str, err := NewExactMatcher("cmd.exe")
	require.NoError(t, err)
	assert.True(t, str.Match("cmd.exe"))
	assert.False(t, str.Match("CMD.EXE"), "exact match is case-sensitive")
	assert.False(t, str.Match(nil))

	num, err := NewExactMatcher(4624)
	require.NoError(t, err)
	assert.True(t, num.Match(json.Number("4624")))
	assert.True(t, num.Match("4624"))
	assert.True(t, num.Match(float64(4624)))
	assert.True(t, num.Match("0x1210"), "numeric rule values compare numerically")
	assert.False(t, num.Match("4625"))

	_, err = NewExactMatcher([]interface{}{"a"})
	assert.Error(t, err)
}

func TestNumericMatcher_FailsClosed(t *testing.T) {
	m := &NumericMatcher{Op: OpGreater, Value: 5}
	assert.True(t, m.Match(json.Number("6")))
	assert.True(t, m.Match("10"))
	assert.False(t, m.Match("5"))
	assert.False(t, m.Match("not a number"))
	assert.False(t, m.Match(true))
	assert.False(t, m.Match(map[string]interface{}{}))

	lte := &NumericMatcher{Op: OpLessEqual, Value: 5}
	assert.True(t, lte.Match(5))
	assert.False(t, lte.Match(6))
}

func TestRegexMatcher(t *testing.T) {
	c := testCompiler(t)
	m, err := c.patterns.regex(`(?i)^.*\\mimikatz\.exe$`)
	require.NoError(t, err)
	assert.True(t, m.Match(`C:\Temp\MIMIKATZ.exe`))
	assert.False(t, m.Match(`C:\Temp\notepad.exe`))

	// Same pattern is served from the cache
	again, err := c.patterns.regex(`(?i)^.*\\mimikatz\.exe$`)
	require.NoError(t, err)
	assert.Same(t, m.re, again.re)

	_, err = c.patterns.regex(`(unclosed`)
	assert.Error(t, err)
}

func TestRegexMatcher_TimeoutIsNonMatch(t *testing.T) {
	c, err := NewCompiler(CompilerConfig{RegexTimeout: time.Millisecond})
	require.NoError(t, err)
	m, err := c.patterns.regex(`^(a+)+$`)
	require.NoError(t, err)

	input := ""
	for i := 0; i < 40; i++ {
		input += "a"
	}
	input += "!"
	assert.False(t, m.Match(input))
}

func TestCIDRMatcher(t *testing.T) {
	rule := compileYAML(t, "cidr", 0, `
selection:
  IpAddress|cidr: 10.0.0.0/8
condition: selection
`)
	assert.True(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"IpAddress": "10.1.2.3"})))
	assert.True(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"IpAddress": "::ffff:10.1.2.3"})))
	assert.False(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"IpAddress": "192.168.1.1"})))
	assert.False(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"IpAddress": "-"})))
}

func TestOneOfMatcher(t *testing.T) {
	rule := compileYAML(t, "oneof", 0, `
selection:
  LogonType:
    - 3
    - 10
condition: selection
`)
	assert.True(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"LogonType": json.Number("10")})))
	assert.False(t, rule.Condition.Evaluate(record(0, baseTime, map[string]interface{}{"LogonType": json.Number("2")})))
}

func TestSelection_ArrayValues(t *testing.T) {
	sel := &SelectionNode{Key: "Data", Matcher: &ExactMatcher{Value: "needle"}}
	assert.True(t, sel.Evaluate(record(0, baseTime, map[string]interface{}{
		"Data": []interface{}{"hay", "needle"},
	})))
	assert.False(t, sel.Evaluate(record(0, baseTime, map[string]interface{}{
		"Data": []interface{}{"hay", map[string]interface{}{"needle": true}},
	})))
}

func TestSelection_KeyAbsence(t *testing.T) {
	present := &SelectionNode{Key: "EventID", Matcher: &ExactMatcher{Value: "4624"}}
	missing := &SelectionNode{Key: "CommandLine", Matcher: &ExactMatcher{Value: "whoami"}}
	rec := record(0, baseTime, map[string]interface{}{"EventID": json.Number("4624")})

	assert.False(t, missing.Evaluate(rec))
	assert.False(t, (&AndNode{Children: []Condition{present, missing}}).Evaluate(rec))
	assert.True(t, (&OrNode{Children: []Condition{missing, present}}).Evaluate(rec))
	assert.True(t, (&NotNode{Child: missing}).Evaluate(rec))
	assert.False(t, present.Evaluate(nil))
}

func TestAtLeastNode(t *testing.T) {
	yes := &SelectionNode{Key: "a", Matcher: &ExactMatcher{Value: "1"}}
	no := &SelectionNode{Key: "b", Matcher: &ExactMatcher{Value: "1"}}
	rec := record(0, baseTime, map[string]interface{}{"a": "1", "b": "0"})

	assert.True(t, (&AtLeastNode{N: 2, Children: []Condition{yes, no, yes}}).Evaluate(rec))
	assert.False(t, (&AtLeastNode{N: 2, Children: []Condition{yes, no, no}}).Evaluate(rec))
}
