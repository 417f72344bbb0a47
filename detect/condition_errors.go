package detect

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyCorpus is returned when a detection run has no rules to evaluate.
	ErrEmptyCorpus = errors.New("no rules were loaded")

	// ErrUnsupportedModifier is returned for field modifiers the compiler does not implement.
	ErrUnsupportedModifier = errors.New("unsupported modifier")
)

// UnsupportedModifierError provides context for unsupported modifiers
type UnsupportedModifierError struct {
	Field    string
	Modifier string
}

func (e *UnsupportedModifierError) Error() string {
	return fmt.Sprintf("unsupported modifier '%s' on field '%s'", e.Modifier, e.Field)
}

func (e *UnsupportedModifierError) Unwrap() error {
	return ErrUnsupportedModifier
}

// UndefinedIdentifierError is returned when a condition references a selection
// the rule does not define.
type UndefinedIdentifierError struct {
	Identifier           string
	Position             int
	AvailableIdentifiers []string
}

func (e *UndefinedIdentifierError) Error() string {
	if len(e.AvailableIdentifiers) == 0 {
		return fmt.Sprintf("undefined identifier '%s' at position %d (no identifiers available)",
			e.Identifier, e.Position)
	}

	suggestions := findSimilarIdentifiers(e.Identifier, e.AvailableIdentifiers, 3)
	if len(suggestions) > 0 {
		return fmt.Sprintf("undefined identifier '%s' at position %d (did you mean: %s? available: %v)",
			e.Identifier, e.Position, strings.Join(suggestions, ", "), e.AvailableIdentifiers)
	}
	return fmt.Sprintf("undefined identifier '%s' at position %d (available: %v)",
		e.Identifier, e.Position, e.AvailableIdentifiers)
}

// Is matches another UndefinedIdentifierError with the same identifier.
func (e *UndefinedIdentifierError) Is(target error) bool {
	t, ok := target.(*UndefinedIdentifierError)
	return ok && e.Identifier == t.Identifier
}

// ParseError is a syntax error in a condition expression.
type ParseError struct {
	Position   int
	Token      TokenType
	TokenValue string
	Expected   string
	Context    string
}

func (e *ParseError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("parse error at position %d: expected %s but got %s (%q) - %s",
			e.Position, e.Expected, e.Token, e.TokenValue, e.Context)
	}
	return fmt.Sprintf("parse error at position %d: expected %s but got %s (%q)",
		e.Position, e.Expected, e.Token, e.TokenValue)
}

// Is matches another ParseError at the same position.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && e.Position == t.Position
}

// TokenizationError is an invalid character in a condition expression.
type TokenizationError struct {
	Position    int
	InvalidChar rune
	Context     string
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("tokenization error at position %d: invalid character %q (context: %q)",
		e.Position, e.InvalidChar, e.Context)
}

// Is matches another TokenizationError at the same position.
func (e *TokenizationError) Is(target error) bool {
	t, ok := target.(*TokenizationError)
	return ok && e.Position == t.Position
}

// AggregationError covers both quantified selections ("all of sel_*") that
// match nothing and malformed count clauses after the pipe.
type AggregationError struct {
	Pattern              string
	Position             int
	Reason               string
	RequiredCount        int
	ActualCount          int
	AvailableIdentifiers []string
}

func (e *AggregationError) Error() string {
	if e.RequiredCount > 0 {
		return fmt.Sprintf("aggregation error at position %d: pattern %q %s (required: %d, found: %d, available: %v)",
			e.Position, e.Pattern, e.Reason, e.RequiredCount, e.ActualCount, e.AvailableIdentifiers)
	}
	if len(e.AvailableIdentifiers) > 0 {
		return fmt.Sprintf("aggregation error at position %d: pattern %q %s (available: %v)",
			e.Position, e.Pattern, e.Reason, e.AvailableIdentifiers)
	}
	return fmt.Sprintf("aggregation error at position %d: %q %s", e.Position, e.Pattern, e.Reason)
}

// Is matches another AggregationError with the same pattern and position.
func (e *AggregationError) Is(target error) bool {
	t, ok := target.(*AggregationError)
	return ok && e.Pattern == t.Pattern && e.Position == t.Position
}

// findSimilarIdentifiers suggests names sharing a three-character prefix with
// target, then names containing it or contained in it.
func findSimilarIdentifiers(target string, available []string, maxResults int) []string {
	if len(available) == 0 || target == "" {
		return nil
	}

	var suggestions []string
	seen := make(map[string]bool)
	targetLower := strings.ToLower(target)
	prefixLen := 3
	if len(targetLower) < prefixLen {
		prefixLen = len(targetLower)
	}
	prefix := targetLower[:prefixLen]

	for _, name := range available {
		if strings.HasPrefix(strings.ToLower(name), prefix) {
			suggestions = append(suggestions, name)
			seen[name] = true
			if len(suggestions) >= maxResults {
				return suggestions
			}
		}
	}

	for _, name := range available {
		if seen[name] {
			continue
		}
		lower := strings.ToLower(name)
		if strings.Contains(lower, targetLower) || strings.Contains(targetLower, lower) {
			suggestions = append(suggestions, name)
			if len(suggestions) >= maxResults {
				return suggestions
			}
		}
	}
	return suggestions
}
