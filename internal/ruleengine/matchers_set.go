package ruleengine

// Set matchers operate on string-list attributes.

// EqualToSetMatcher matches when the attribute set equals the expected set.
type EqualToSetMatcher struct {
	expected map[string]struct{}
}

func NewEqualToSetMatcher(items []string) *EqualToSetMatcher {
	return &EqualToSetMatcher{expected: toSet(items)}
}

func (m *EqualToSetMatcher) Match(v Value, _ *Context) bool {
	if v.Kind() != KindStringList {
		return false
	}
	got := toSet(v.list)
	if len(got) != len(m.expected) {
		return false
	}
	for item := range got {
		if _, ok := m.expected[item]; !ok {
			return false
		}
	}
	return true
}

// PartOfSetMatcher matches a non-empty attribute set fully contained in the
// expected set.
type PartOfSetMatcher struct {
	expected map[string]struct{}
}

func NewPartOfSetMatcher(items []string) *PartOfSetMatcher {
	return &PartOfSetMatcher{expected: toSet(items)}
}

func (m *PartOfSetMatcher) Match(v Value, _ *Context) bool {
	if v.Kind() != KindStringList || len(v.list) == 0 {
		return false
	}
	for _, item := range v.list {
		if _, ok := m.expected[item]; !ok {
			return false
		}
	}
	return true
}

// ContainsAnyOfSetMatcher matches when the attribute shares at least one item
// with the expected set.
type ContainsAnyOfSetMatcher struct {
	expected map[string]struct{}
}

func NewContainsAnyOfSetMatcher(items []string) *ContainsAnyOfSetMatcher {
	return &ContainsAnyOfSetMatcher{expected: toSet(items)}
}

func (m *ContainsAnyOfSetMatcher) Match(v Value, _ *Context) bool {
	if v.Kind() != KindStringList {
		return false
	}
	for _, item := range v.list {
		if _, ok := m.expected[item]; ok {
			return true
		}
	}
	return false
}

// ContainsAllOfSetMatcher matches when the attribute contains every item of a
// non-empty expected set.
type ContainsAllOfSetMatcher struct {
	expected map[string]struct{}
}

func NewContainsAllOfSetMatcher(items []string) *ContainsAllOfSetMatcher {
	return &ContainsAllOfSetMatcher{expected: toSet(items)}
}

func (m *ContainsAllOfSetMatcher) Match(v Value, _ *Context) bool {
	if v.Kind() != KindStringList || len(m.expected) == 0 {
		return false
	}
	got := toSet(v.list)
	for item := range m.expected {
		if _, ok := got[item]; !ok {
			return false
		}
	}
	return true
}
