package ruleengine

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Semantic version matchers parse attribute strings strictly (MAJOR.MINOR.PATCH
// with optional pre-release and build metadata). Strings that do not parse
// never match.

// EqualToSemverMatcher requires equal precedence and equal build metadata.
type EqualToSemverMatcher struct {
	target *semver.Version
}

// GreaterOrEqualSemverMatcher matches versions with precedence >= target.
type GreaterOrEqualSemverMatcher struct {
	target *semver.Version
}

// LessOrEqualSemverMatcher matches versions with precedence <= target.
type LessOrEqualSemverMatcher struct {
	target *semver.Version
}

// BetweenSemverMatcher matches versions in the inclusive range [start, end].
type BetweenSemverMatcher struct {
	start *semver.Version
	end   *semver.Version
}

// InListSemverMatcher matches versions equal to any listed version.
type InListSemverMatcher struct {
	targets []*semver.Version
}

func NewEqualToSemverMatcher(raw string) (*EqualToSemverMatcher, error) {
	v, err := parseSemver(raw)
	if err != nil {
		return nil, err
	}
	return &EqualToSemverMatcher{target: v}, nil
}

func NewGreaterOrEqualSemverMatcher(raw string) (*GreaterOrEqualSemverMatcher, error) {
	v, err := parseSemver(raw)
	if err != nil {
		return nil, err
	}
	return &GreaterOrEqualSemverMatcher{target: v}, nil
}

func NewLessOrEqualSemverMatcher(raw string) (*LessOrEqualSemverMatcher, error) {
	v, err := parseSemver(raw)
	if err != nil {
		return nil, err
	}
	return &LessOrEqualSemverMatcher{target: v}, nil
}

func NewBetweenSemverMatcher(start, end string) (*BetweenSemverMatcher, error) {
	s, err := parseSemver(start)
	if err != nil {
		return nil, err
	}
	e, err := parseSemver(end)
	if err != nil {
		return nil, err
	}
	return &BetweenSemverMatcher{start: s, end: e}, nil
}

func NewInListSemverMatcher(raw []string) (*InListSemverMatcher, error) {
	targets := make([]*semver.Version, 0, len(raw))
	for _, r := range raw {
		v, err := parseSemver(r)
		if err != nil {
			return nil, err
		}
		targets = append(targets, v)
	}
	return &InListSemverMatcher{targets: targets}, nil
}

func (m *EqualToSemverMatcher) Match(v Value, _ *Context) bool {
	got, ok := semverOperand(v)
	return ok && semverEqual(got, m.target)
}

func (m *GreaterOrEqualSemverMatcher) Match(v Value, _ *Context) bool {
	got, ok := semverOperand(v)
	return ok && got.Compare(m.target) >= 0
}

func (m *LessOrEqualSemverMatcher) Match(v Value, _ *Context) bool {
	got, ok := semverOperand(v)
	return ok && got.Compare(m.target) <= 0
}

func (m *BetweenSemverMatcher) Match(v Value, _ *Context) bool {
	got, ok := semverOperand(v)
	return ok && got.Compare(m.start) >= 0 && got.Compare(m.end) <= 0
}

func (m *InListSemverMatcher) Match(v Value, _ *Context) bool {
	got, ok := semverOperand(v)
	if !ok {
		return false
	}
	for _, t := range m.targets {
		if semverEqual(got, t) {
			return true
		}
	}
	return false
}

func semverEqual(a, b *semver.Version) bool {
	return a.Compare(b) == 0 && a.Metadata() == b.Metadata()
}

func semverOperand(v Value) (*semver.Version, bool) {
	s, ok := v.AsString()
	if !ok {
		return nil, false
	}
	parsed, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, false
	}
	return parsed, true
}

func parseSemver(raw string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid semantic version %q: %w", raw, err)
	}
	return v, nil
}
