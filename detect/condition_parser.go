package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// TokenType represents the type of a token in a condition expression.
type TokenType int

const (
	// TokenEOF represents end of input
	TokenEOF TokenType = iota
	TokenAND
	TokenOR
	TokenNOT
	TokenLPAREN
	TokenRPAREN
	// TokenOF is the OF keyword in quantified expressions ("1 of selection_*")
	TokenOF
	TokenALL
	TokenANY
	TokenONE
	TokenTHEM
	TokenNUMBER
	// TokenIDENTIFIER is a selection name, possibly with * wildcards
	TokenIDENTIFIER
)

// String returns the string representation of a token type.
func (tt TokenType) String() string {
	switch tt {
	case TokenEOF:
		return "EOF"
	case TokenAND:
		return "AND"
	case TokenOR:
		return "OR"
	case TokenNOT:
		return "NOT"
	case TokenLPAREN:
		return "LPAREN"
	case TokenRPAREN:
		return "RPAREN"
	case TokenOF:
		return "OF"
	case TokenALL:
		return "ALL"
	case TokenANY:
		return "ANY"
	case TokenONE:
		return "ONE"
	case TokenTHEM:
		return "THEM"
	case TokenNUMBER:
		return "NUMBER"
	case TokenIDENTIFIER:
		return "IDENTIFIER"
	default:
		return "UNKNOWN"
	}
}

// Token is a single lexical token with its byte offset for error reporting.
type Token struct {
	Type     TokenType
	Value    string
	Position int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at pos %d", t.Type, t.Value, t.Position)
}

type tokenPattern struct {
	Type    TokenType
	Pattern *regexp.Regexp
}

var (
	// Keywords come before identifiers so "and" is never read as a selection name.
	tokenPatterns = []tokenPattern{
		{TokenAND, regexp.MustCompile(`^(?i)and\b`)},
		{TokenOR, regexp.MustCompile(`^(?i)or\b`)},
		{TokenNOT, regexp.MustCompile(`^(?i)not\b`)},
		{TokenOF, regexp.MustCompile(`^(?i)of\b`)},
		{TokenALL, regexp.MustCompile(`^(?i)all\b`)},
		{TokenANY, regexp.MustCompile(`^(?i)any\b`)},
		{TokenONE, regexp.MustCompile(`^(?i)one\b`)},
		{TokenTHEM, regexp.MustCompile(`^(?i)them\b`)},
		{TokenNUMBER, regexp.MustCompile(`^\d+\b`)},
		{TokenLPAREN, regexp.MustCompile(`^\(`)},
		{TokenRPAREN, regexp.MustCompile(`^\)`)},
		{TokenIDENTIFIER, regexp.MustCompile(`^[a-zA-Z0-9_*\-]+`)},
	}

	whitespacePattern = regexp.MustCompile(`^\s+`)
)

// Tokenize converts a condition expression into tokens terminated by TokenEOF.
// Keywords are case-insensitive.
func Tokenize(expression string) ([]Token, error) {
	var tokens []Token
	position := 0

	for position < len(expression) {
		if match := whitespacePattern.FindString(expression[position:]); match != "" {
			position += len(match)
			continue
		}

		matched := false
		for _, pattern := range tokenPatterns {
			if match := pattern.Pattern.FindString(expression[position:]); match != "" {
				tokens = append(tokens, Token{Type: pattern.Type, Value: match, Position: position})
				position += len(match)
				matched = true
				break
			}
		}

		if !matched {
			start := position - 20
			if start < 0 {
				start = 0
			}
			end := position + 20
			if end > len(expression) {
				end = len(expression)
			}
			return nil, &TokenizationError{
				Position:    position,
				InvalidChar: rune(expression[position]),
				Context:     expression[start:end],
			}
		}
	}

	tokens = append(tokens, Token{Type: TokenEOF, Position: position})
	return tokens, nil
}

// ConditionParser is a recursive-descent parser that turns a condition
// expression into a Condition tree, substituting each selection name with
// its compiled selection.
//
// Grammar (lowest to highest precedence):
//
//	or_expr    := and_expr ("or" and_expr)*
//	and_expr   := not_expr ("and" not_expr)*
//	not_expr   := "not" not_expr | primary
//	primary    := "(" or_expr ")" | quantified | IDENTIFIER
//	quantified := ("all" | "any" | "one" | NUMBER) "of" ("them" | IDENTIFIER)
type ConditionParser struct {
	tokens     []Token
	position   int
	selections map[string]Condition
	names      []string
}

// NewConditionParser creates a parser over the given named selections.
func NewConditionParser(selections map[string]Condition) *ConditionParser {
	names := make([]string, 0, len(selections))
	for name := range selections {
		names = append(names, name)
	}
	sort.Strings(names)
	return &ConditionParser{selections: selections, names: names}
}

// Parse parses expression into a Condition tree.
func (p *ConditionParser) Parse(expression string) (Condition, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("cannot parse empty condition expression")
	}

	tokens, err := Tokenize(expression)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}
	p.tokens = tokens
	p.position = 0

	cond, err := p.parseOrExpression()
	if err != nil {
		return nil, err
	}

	if current := p.peek(); current.Type != TokenEOF {
		return nil, &ParseError{
			Position:   current.Position,
			Token:      current.Type,
			TokenValue: current.Value,
			Expected:   "end of expression",
			Context:    "unexpected tokens remain after parsing complete expression",
		}
	}
	return cond, nil
}

func (p *ConditionParser) parseOrExpression() (Condition, error) {
	left, err := p.parseAndExpression()
	if err != nil {
		return nil, err
	}

	var children []Condition
	for p.peek().Type == TokenOR {
		orToken := p.consume()
		right, err := p.parseAndExpression()
		if err != nil {
			return nil, p.operandError(orToken, "OR", err)
		}
		if children == nil {
			children = []Condition{left}
		}
		children = append(children, right)
	}

	if children == nil {
		return left, nil
	}
	return &OrNode{Children: children}, nil
}

func (p *ConditionParser) parseAndExpression() (Condition, error) {
	left, err := p.parseNotExpression()
	if err != nil {
		return nil, err
	}

	var children []Condition
	for p.peek().Type == TokenAND {
		andToken := p.consume()
		right, err := p.parseNotExpression()
		if err != nil {
			return nil, p.operandError(andToken, "AND", err)
		}
		if children == nil {
			children = []Condition{left}
		}
		children = append(children, right)
	}

	if children == nil {
		return left, nil
	}
	return &AndNode{Children: children}, nil
}

func (p *ConditionParser) parseNotExpression() (Condition, error) {
	if p.peek().Type == TokenNOT {
		notToken := p.consume()
		child, err := p.parseNotExpression()
		if err != nil {
			return nil, p.operandError(notToken, "NOT", err)
		}
		return &NotNode{Child: child}, nil
	}
	return p.parsePrimaryExpression()
}

// operandError reports a missing operand as a ParseError when input ended,
// otherwise wraps the underlying error.
func (p *ConditionParser) operandError(op Token, name string, err error) error {
	if p.peek().Type == TokenEOF {
		return &ParseError{
			Position:   op.Position,
			Token:      op.Type,
			TokenValue: op.Value,
			Expected:   "expression after " + name + " operator",
			Context:    name + " operator missing operand",
		}
	}
	return fmt.Errorf("expected expression after %s at position %d: %w", name, op.Position, err)
}

func (p *ConditionParser) parsePrimaryExpression() (Condition, error) {
	current := p.peek()

	switch current.Type {
	case TokenLPAREN:
		p.consume()
		expr, err := p.parseOrExpression()
		if err != nil {
			return nil, fmt.Errorf("invalid expression inside parentheses starting at position %d: %w",
				current.Position, err)
		}
		closeToken := p.peek()
		if closeToken.Type != TokenRPAREN {
			return nil, &ParseError{
				Position:   closeToken.Position,
				Token:      closeToken.Type,
				TokenValue: closeToken.Value,
				Expected:   "closing parenthesis ')'",
				Context:    fmt.Sprintf("unmatched opening parenthesis at position %d", current.Position),
			}
		}
		p.consume()
		return expr, nil

	case TokenIDENTIFIER:
		p.consume()
		sel, ok := p.selections[current.Value]
		if !ok {
			return nil, &UndefinedIdentifierError{
				Identifier:           current.Value,
				Position:             current.Position,
				AvailableIdentifiers: p.names,
			}
		}
		return sel, nil

	case TokenALL, TokenANY, TokenONE, TokenNUMBER:
		if p.peekAhead(1).Type == TokenOF {
			return p.parseQuantified()
		}
		return nil, fmt.Errorf("unexpected %s at position %d (did you mean '%s of <pattern>'?)",
			current.Type, current.Position, strings.ToLower(current.Value))

	case TokenEOF:
		return nil, &ParseError{
			Position: current.Position,
			Token:    TokenEOF,
			Expected: "identifier or expression",
			Context:  "unexpected end of expression",
		}

	case TokenRPAREN:
		return nil, &ParseError{
			Position:   current.Position,
			Token:      TokenRPAREN,
			TokenValue: current.Value,
			Expected:   "identifier or expression",
			Context:    "unmatched closing parenthesis",
		}

	case TokenAND, TokenOR:
		return nil, &ParseError{
			Position:   current.Position,
			Token:      current.Type,
			TokenValue: current.Value,
			Expected:   "identifier or expression",
			Context:    current.Type.String() + " operator missing left operand",
		}

	default:
		return nil, fmt.Errorf("unexpected token %s at position %d (expected identifier or parenthesized expression)",
			current.Type, current.Position)
	}
}

func (p *ConditionParser) parseQuantified() (Condition, error) {
	start := p.consume()
	count := 0
	switch start.Type {
	case TokenALL:
		count = -1
	case TokenANY, TokenONE:
		count = 1
	case TokenNUMBER:
		n, err := strconv.Atoi(start.Value)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid quantifier %q at position %d", start.Value, start.Position)
		}
		count = n
	}
	p.consume() // OF

	target := p.peek()
	var pattern string
	switch target.Type {
	case TokenTHEM:
		pattern = "them"
	case TokenIDENTIFIER:
		pattern = target.Value
	case TokenEOF:
		return nil, fmt.Errorf("unexpected end of expression after OF at position %d (expected THEM or pattern)",
			start.Position)
	default:
		return nil, fmt.Errorf("expected THEM or identifier pattern after OF at position %d, got %s",
			target.Position, target.Type)
	}
	p.consume()

	matched := getMatchingIdentifiers(pattern, p.names)
	if len(matched) == 0 {
		return nil, &AggregationError{
			Pattern:              pattern,
			Position:             target.Position,
			Reason:               "matched no identifiers",
			AvailableIdentifiers: p.names,
		}
	}
	if count > len(matched) {
		return nil, &AggregationError{
			Pattern:              pattern,
			Position:             start.Position,
			Reason:               "insufficient matches",
			RequiredCount:        count,
			ActualCount:          len(matched),
			AvailableIdentifiers: p.names,
		}
	}

	children := make([]Condition, len(matched))
	for i, name := range matched {
		children[i] = p.selections[name]
	}
	switch {
	case len(children) == 1:
		return children[0], nil
	case count == -1 || count == len(children):
		return &AndNode{Children: children}, nil
	case count == 1:
		return &OrNode{Children: children}, nil
	default:
		return &AtLeastNode{N: count, Children: children}, nil
	}
}

func (p *ConditionParser) peek() Token {
	return p.peekAhead(0)
}

func (p *ConditionParser) peekAhead(offset int) Token {
	target := p.position + offset
	if target >= len(p.tokens) || target < 0 {
		if len(p.tokens) > 0 {
			return p.tokens[len(p.tokens)-1]
		}
		return Token{Type: TokenEOF}
	}
	return p.tokens[target]
}

func (p *ConditionParser) consume() Token {
	token := p.peek()
	if p.position < len(p.tokens) {
		p.position++
	}
	return token
}

// getMatchingIdentifiers resolves "them", an exact name, or a * pattern
// against the available selection names. Names are already sorted.
func getMatchingIdentifiers(pattern string, available []string) []string {
	if strings.EqualFold(pattern, "them") {
		return available
	}
	if !strings.Contains(pattern, "*") {
		for _, name := range available {
			if name == pattern {
				return []string{name}
			}
		}
		return nil
	}

	segments := strings.Split(pattern, "*")
	var matches []string
	for _, name := range available {
		if matchesWildcardPattern(name, segments) {
			matches = append(matches, name)
		}
	}
	return matches
}

// matchesWildcardPattern checks name against the segments between * wildcards:
// the first segment is a prefix, the last a suffix, and the middle ones appear in order.
func matchesWildcardPattern(name string, segments []string) bool {
	if len(segments) == 1 {
		return name == segments[0]
	}
	first, last := segments[0], segments[len(segments)-1]
	if !strings.HasPrefix(name, first) {
		return false
	}
	position := len(first)
	for _, segment := range segments[1 : len(segments)-1] {
		if segment == "" {
			continue
		}
		idx := strings.Index(name[position:], segment)
		if idx == -1 {
			return false
		}
		position += idx + len(segment)
	}
	return len(name)-len(last) >= position && strings.HasSuffix(name, last)
}
