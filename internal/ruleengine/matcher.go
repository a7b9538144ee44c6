package ruleengine

import (
	"context"
	"log/slog"
)

// DefaultMaxDependencyDepth bounds recursive dependency evaluation so a flag
// that depends on itself cannot recurse forever.
const DefaultMaxDependencyDepth = 10

// SegmentChecker answers segment-membership lookups for IN_SEGMENT matchers.
// Implementations must bound the lookup in time; errors count as no match.
type SegmentChecker interface {
	IsInSegment(ctx context.Context, segment, key string) (bool, error)
}

// DependencyEvaluator re-enters flag evaluation for IN_SPLIT_TREATMENT matchers.
// depth is the nesting level of the evaluation being requested.
type DependencyEvaluator interface {
	EvaluateDependency(ctx context.Context, key Key, flagName string, attrs Attributes, depth int) (string, error)
}

// Context carries everything a matcher may need besides its own value.
// A Context is created per evaluation and must not be shared across goroutines.
type Context struct {
	Ctx          context.Context
	Key          Key
	Attributes   Attributes
	Segments     SegmentChecker
	Dependencies DependencyEvaluator
	Logger       *slog.Logger
	// Depth is the dependency nesting level; top-level evaluations use 0.
	Depth    int
	MaxDepth int
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Context) context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// Leaf is a single predicate. It receives the value it applies to (an attribute
// or the key) and answers only for the kinds it understands.
type Leaf interface {
	Match(v Value, ec *Context) bool
}

// AttributeMatcher binds a Leaf to an attribute (or to the key when Attribute
// is empty) with optional negation.
type AttributeMatcher struct {
	Attribute string
	Negate    bool
	Leaf      Leaf
}

// Match resolves the value and applies the leaf. A named attribute that is
// absent never matches, whether negated or not.
func (m AttributeMatcher) Match(ec *Context) bool {
	if m.Attribute == "" {
		return m.Negate != m.Leaf.Match(KeyValue(ec.Key), ec)
	}

	raw, ok := ec.Attributes[m.Attribute]
	if !ok || raw == nil {
		return false
	}
	return m.Negate != m.Leaf.Match(ValueOf(raw), ec)
}

// CombiningMatcher is the AND of its children.
type CombiningMatcher struct {
	Matchers []AttributeMatcher
}

// Match returns true iff every child matches. It stops at the first miss.
func (c *CombiningMatcher) Match(ec *Context) bool {
	if c == nil || len(c.Matchers) == 0 {
		return false
	}
	for _, m := range c.Matchers {
		if !m.Match(ec) {
			return false
		}
	}
	return true
}
