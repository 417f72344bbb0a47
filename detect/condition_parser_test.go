package detect

import (
	"errors"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize("sel1 AND not (filter_* or 1 of them)")
	if err != nil {
		t.Fatalf("Tokenize() error = %v", err)
	}

	want := []TokenType{
		TokenIDENTIFIER, TokenAND, TokenNOT, TokenLPAREN, TokenIDENTIFIER,
		TokenOR, TokenNUMBER, TokenOF, TokenTHEM, TokenRPAREN, TokenEOF,
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, tt := range want {
		if tokens[i].Type != tt {
			t.Errorf("token %d = %s, want %s", i, tokens[i].Type, tt)
		}
	}
}

func TestTokenize_KeywordPrefixIsIdentifier(t *testing.T) {
	tokens, err := Tokenize("notation or android")
	if err != nil {
		t.Fatalf("Tokenize() error = %v", err)
	}
	if tokens[0].Type != TokenIDENTIFIER || tokens[2].Type != TokenIDENTIFIER {
		t.Errorf("keyword prefixes should tokenize as identifiers: %v", tokens)
	}
}

func TestTokenize_InvalidCharacter(t *testing.T) {
	_, err := Tokenize("sel1 & sel2")
	var tokErr *TokenizationError
	if !errors.As(err, &tokErr) {
		t.Fatalf("expected TokenizationError, got %v", err)
	}
	if tokErr.Position != 5 || tokErr.InvalidChar != '&' {
		t.Errorf("got position %d char %q", tokErr.Position, tokErr.InvalidChar)
	}
}

func namedSelections(names ...string) map[string]Condition {
	sels := make(map[string]Condition, len(names))
	for _, n := range names {
		sels[n] = &SelectionNode{Key: n, Matcher: &ExactMatcher{Value: "x"}}
	}
	return sels
}

func TestConditionParser_Structure(t *testing.T) {
	sels := namedSelections("a", "b", "c", "sel_1", "sel_2", "filter")

	tests := []struct {
		expr string
		want string
	}{
		{"a", `a == "x"`},
		{"a and b or c", `or(and(a == "x", b == "x"), c == "x")`},
		{"a and (b or c)", `and(a == "x", or(b == "x", c == "x"))`},
		{"a and b and c", `and(a == "x", b == "x", c == "x")`},
		{"not a and b", `and(not(a == "x"), b == "x")`},
		{"not not a", `not(not(a == "x"))`},
		{"1 of sel_*", `or(sel_1 == "x", sel_2 == "x")`},
		{"all of sel_*", `and(sel_1 == "x", sel_2 == "x")`},
		{"all of sel_* and not filter", `and(and(sel_1 == "x", sel_2 == "x"), not(filter == "x"))`},
		{"2 of them", `2-of(a == "x", b == "x", c == "x", filter == "x", sel_1 == "x", sel_2 == "x")`},
		{"any of filter", `filter == "x"`},
		{"A AND B", ""},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := NewConditionParser(sels).Parse(tt.expr)
			if tt.want == "" {
				if err == nil {
					t.Fatalf("expected error for %q (identifiers are case-sensitive)", tt.expr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.expr, err)
			}
			if got.String() != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.expr, got, tt.want)
			}
		})
	}
}

func TestConditionParser_Errors(t *testing.T) {
	sels := namedSelections("selection", "filter")

	tests := []struct {
		name  string
		expr  string
		check func(error) bool
	}{
		{"undefined identifier", "selection and missing", func(err error) bool {
			var e *UndefinedIdentifierError
			return errors.As(err, &e) && e.Identifier == "missing"
		}},
		{"dangling and", "selection and", func(err error) bool {
			var e *ParseError
			return errors.As(err, &e)
		}},
		{"unclosed paren", "(selection or filter", func(err error) bool {
			var e *ParseError
			return errors.As(err, &e) && e.Expected == "closing parenthesis ')'"
		}},
		{"stray close paren", "selection)", func(err error) bool {
			var e *ParseError
			return errors.As(err, &e)
		}},
		{"pattern matches nothing", "1 of nope_*", func(err error) bool {
			var e *AggregationError
			return errors.As(err, &e) && e.Reason == "matched no identifiers"
		}},
		{"quantifier too large", "3 of them", func(err error) bool {
			var e *AggregationError
			return errors.As(err, &e) && e.Reason == "insufficient matches"
		}},
		{"empty", "   ", func(err error) bool { return err != nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConditionParser(sels).Parse(tt.expr)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.expr)
			}
			if !tt.check(err) {
				t.Errorf("Parse(%q) returned unexpected error type: %v", tt.expr, err)
			}
		})
	}
}

func TestUndefinedIdentifierError_Suggestions(t *testing.T) {
	err := &UndefinedIdentifierError{
		Identifier:           "selecton",
		AvailableIdentifiers: []string{"selection", "filter"},
	}
	if got := err.Error(); !strings.Contains(got, "did you mean: selection") {
		t.Errorf("expected suggestion in %q", got)
	}
	if !errors.Is(err, &UndefinedIdentifierError{Identifier: "selecton"}) {
		t.Error("errors.Is should match on identifier")
	}
}

func TestGetMatchingIdentifiers(t *testing.T) {
	available := []string{"filter_main", "sel_proc_win", "sel_reg", "selection"}

	tests := []struct {
		pattern string
		want    []string
	}{
		{"them", available},
		{"sel_*", []string{"sel_proc_win", "sel_reg"}},
		{"*_win", []string{"sel_proc_win"}},
		{"sel*win", []string{"sel_proc_win"}},
		{"selection", []string{"selection"}},
		{"none", nil},
	}
	for _, tt := range tests {
		got := getMatchingIdentifiers(tt.pattern, available)
		if len(got) != len(tt.want) {
			t.Errorf("getMatchingIdentifiers(%q) = %v, want %v", tt.pattern, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("getMatchingIdentifiers(%q) = %v, want %v", tt.pattern, got, tt.want)
				break
			}
		}
	}
}
