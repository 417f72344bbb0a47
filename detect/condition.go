package detect

import (
	"fmt"
	"strings"

	"evtxhound/core"
)

// Condition is a compiled boolean rule tree. Evaluation has no side effects,
// so one tree may be evaluated against many records concurrently.
type Condition interface {
	Evaluate(rec *core.EnrichedRecord) bool
	String() string
}

// AndNode is true when every child is true.
type AndNode struct {
	Children []Condition
}

func (n *AndNode) Evaluate(rec *core.EnrichedRecord) bool {
	for _, c := range n.Children {
		if !c.Evaluate(rec) {
			return false
		}
	}
	return true
}

func (n *AndNode) String() string {
	return joinConditions("and", n.Children)
}

// OrNode is true when any child is true.
type OrNode struct {
	Children []Condition
}

func (n *OrNode) Evaluate(rec *core.EnrichedRecord) bool {
	for _, c := range n.Children {
		if c.Evaluate(rec) {
			return true
		}
	}
	return false
}

func (n *OrNode) String() string {
	return joinConditions("or", n.Children)
}

// NotNode negates its child.
type NotNode struct {
	Child Condition
}

func (n *NotNode) Evaluate(rec *core.EnrichedRecord) bool {
	return !n.Child.Evaluate(rec)
}

func (n *NotNode) String() string {
	return fmt.Sprintf("not(%s)", n.Child)
}

// AtLeastNode is true when at least N children are true. It backs the
// "N of pattern" quantifier.
type AtLeastNode struct {
	N        int
	Children []Condition
}

func (n *AtLeastNode) Evaluate(rec *core.EnrichedRecord) bool {
	matched := 0
	for i, c := range n.Children {
		if c.Evaluate(rec) {
			matched++
			if matched >= n.N {
				return true
			}
		}
		if matched+len(n.Children)-i-1 < n.N {
			return false
		}
	}
	return false
}

func (n *AtLeastNode) String() string {
	return joinConditions(fmt.Sprintf("%d-of", n.N), n.Children)
}

// SelectionNode tests the cached value of one field key. A missing key is
// false. For array values the matcher is tried against each element.
type SelectionNode struct {
	Key     string
	Matcher Matcher
}

func (n *SelectionNode) Evaluate(rec *core.EnrichedRecord) bool {
	v, ok := rec.Value(n.Key)
	if !ok {
		return false
	}
	if list, isList := v.([]interface{}); isList {
		for _, item := range list {
			if n.Matcher.Match(item) {
				return true
			}
		}
		return false
	}
	return n.Matcher.Match(v)
}

func (n *SelectionNode) String() string {
	return fmt.Sprintf("%s %s", n.Key, n.Matcher)
}

func joinConditions(op string, children []Condition) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", op, strings.Join(parts, ", "))
}

// collectKeys appends every field key referenced by c to keys.
func collectKeys(c Condition, keys map[string]struct{}) {
	switch n := c.(type) {
	case *AndNode:
		for _, child := range n.Children {
			collectKeys(child, keys)
		}
	case *OrNode:
		for _, child := range n.Children {
			collectKeys(child, keys)
		}
	case *AtLeastNode:
		for _, child := range n.Children {
			collectKeys(child, keys)
		}
	case *NotNode:
		collectKeys(n.Child, keys)
	case *SelectionNode:
		keys[n.Key] = struct{}{}
	}
}
