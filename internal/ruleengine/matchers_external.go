package ruleengine

import "log/slog"

// InSegmentMatcher delegates to the segment storage. Lookup failures are
// logged and treated as "not in segment".
type InSegmentMatcher struct {
	Segment string
}

func (m *InSegmentMatcher) Match(v Value, ec *Context) bool {
	key, ok := v.AsString()
	if !ok || ec.Segments == nil {
		return false
	}

	found, err := ec.Segments.IsInSegment(ec.context(), m.Segment, key)
	if err != nil {
		ec.logger().Warn("segment lookup failed, treating as no match",
			slog.String("segment", m.Segment),
			slog.String("error", err.Error()),
		)
		return false
	}
	return found
}

// DependencyMatcher evaluates another flag for the same key and attributes
// and matches when the resulting treatment is in the allow-list.
// It records no telemetry of its own.
type DependencyMatcher struct {
	Flag       string
	treatments map[string]struct{}
}

func NewDependencyMatcher(flag string, treatments []string) *DependencyMatcher {
	return &DependencyMatcher{Flag: flag, treatments: toSet(treatments)}
}

func (m *DependencyMatcher) Match(_ Value, ec *Context) bool {
	if ec.Dependencies == nil {
		return false
	}

	maxDepth := ec.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDependencyDepth
	}
	if ec.Depth >= maxDepth {
		ec.logger().Warn("dependency depth exceeded, treating as no match",
			slog.String("dependency", m.Flag),
			slog.Int("depth", ec.Depth),
		)
		return false
	}

	treatment, err := ec.Dependencies.EvaluateDependency(ec.context(), ec.Key, m.Flag, ec.Attributes, ec.Depth+1)
	if err != nil {
		ec.logger().Warn("dependency evaluation failed, treating as no match",
			slog.String("dependency", m.Flag),
			slog.String("error", err.Error()),
		)
		return false
	}

	_, ok := m.treatments[treatment]
	return ok
}
