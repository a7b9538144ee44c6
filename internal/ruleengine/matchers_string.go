package ruleengine

import (
	"regexp"
	"strings"
)

// AllKeysMatcher matches everything, including missing values.
type AllKeysMatcher struct{}

func (AllKeysMatcher) Match(Value, *Context) bool { return true }

// WhitelistMatcher matches strings (or keys) contained in a fixed set.
type WhitelistMatcher struct {
	allowed map[string]struct{}
}

// NewWhitelistMatcher pre-compiles the list into a set for O(1) lookups.
func NewWhitelistMatcher(items []string) *WhitelistMatcher {
	return &WhitelistMatcher{allowed: toSet(items)}
}

func (m *WhitelistMatcher) Match(v Value, _ *Context) bool {
	s, ok := v.AsString()
	if !ok {
		return false
	}
	_, found := m.allowed[s]
	return found
}

// StartsWithMatcher matches strings starting with any of the prefixes.
type StartsWithMatcher struct {
	Prefixes []string
}

func (m *StartsWithMatcher) Match(v Value, _ *Context) bool {
	return anyString(v, m.Prefixes, strings.HasPrefix)
}

// EndsWithMatcher matches strings ending with any of the suffixes.
type EndsWithMatcher struct {
	Suffixes []string
}

func (m *EndsWithMatcher) Match(v Value, _ *Context) bool {
	return anyString(v, m.Suffixes, strings.HasSuffix)
}

// ContainsStringMatcher matches strings containing any of the substrings.
type ContainsStringMatcher struct {
	Substrings []string
}

func (m *ContainsStringMatcher) Match(v Value, _ *Context) bool {
	return anyString(v, m.Substrings, strings.Contains)
}

// RegexMatcher matches strings against a compiled regular expression.
type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher compiles pattern once at build time.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{re: re}, nil
}

func (m *RegexMatcher) Match(v Value, _ *Context) bool {
	s, ok := v.AsString()
	if !ok {
		return false
	}
	return m.re.MatchString(s)
}

// BooleanMatcher matches booleans, or strings spelling a boolean in any case.
type BooleanMatcher struct {
	Expected bool
}

func (m *BooleanMatcher) Match(v Value, _ *Context) bool {
	switch v.Kind() {
	case KindBool:
		return v.b == m.Expected
	case KindString:
		switch strings.ToLower(v.s) {
		case "true":
			return m.Expected
		case "false":
			return !m.Expected
		}
	}
	return false
}

func anyString(v Value, candidates []string, pred func(s, candidate string) bool) bool {
	s, ok := v.AsString()
	if !ok {
		return false
	}
	for _, c := range candidates {
		if pred(s, c) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
