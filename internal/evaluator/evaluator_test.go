package evaluator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/testsupport"
)

// fakeStorage is an in-memory FlagStorage and SegmentStorage with error injection.
type fakeStorage struct {
	mu        sync.Mutex
	flags     map[string]*ruleengine.Flag
	sets      map[string][]string
	segments  map[string]map[string]struct{}
	err       error
	broken    ruleengine.FlagErrors
	bulkReads int
}

func newFakeStorage(flags ...*ruleengine.Flag) *fakeStorage {
	s := &fakeStorage{
		flags:    make(map[string]*ruleengine.Flag),
		sets:     make(map[string][]string),
		segments: make(map[string]map[string]struct{}),
	}
	for _, f := range flags {
		s.flags[f.Name] = f
	}
	return s
}

func (s *fakeStorage) Flag(_ context.Context, name string) (*ruleengine.Flag, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.flags[name], nil
}

func (s *fakeStorage) Flags(_ context.Context, names []string) (map[string]*ruleengine.Flag, error) {
	s.mu.Lock()
	s.bulkReads++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]*ruleengine.Flag, len(names))
	failed := make(ruleengine.FlagErrors)
	for _, n := range names {
		if err, ok := s.broken[n]; ok {
			failed[n] = err
			continue
		}
		if f, ok := s.flags[n]; ok {
			out[n] = f
		}
	}
	if len(failed) > 0 {
		return out, failed
	}
	return out, nil
}

func (s *fakeStorage) FlagNamesBySets(_ context.Context, sets []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var names []string
	for _, set := range sets {
		names = append(names, s.sets[set]...)
	}
	return names, nil
}

func (s *fakeStorage) IsInSegment(_ context.Context, segment, key string) (bool, error) {
	_, ok := s.segments[segment][key]
	return ok, nil
}

type panicLeaf struct{}

func (panicLeaf) Match(ruleengine.Value, *ruleengine.Context) bool { panic("boom") }

func matchAll(leaf ruleengine.Leaf, attribute string) *ruleengine.CombiningMatcher {
	return &ruleengine.CombiningMatcher{Matchers: []ruleengine.AttributeMatcher{{Attribute: attribute, Leaf: leaf}}}
}

// simpleFlag returns a flag whose single rollout condition sends every key
// matched by leaf to treatment.
func simpleFlag(name, treatment string, leaf ruleengine.Leaf) *ruleengine.Flag {
	return &ruleengine.Flag{
		Name:              name,
		DefaultTreatment:  "off",
		TrafficAllocation: 100,
		Algorithm:         ruleengine.AlgorithmMurmur,
		ChangeNumber:      100,
		Conditions: []ruleengine.Condition{{
			Type:       ruleengine.ConditionRollout,
			Label:      "rule",
			Partitions: []ruleengine.Partition{{Treatment: treatment, Size: 100}},
			Matcher:    matchAll(leaf, ""),
		}},
	}
}

func TestNew_PanicsOnNilStorage(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	assert.Panics(t, func() { New(nil, nil, storage) })
	assert.Panics(t, func() { New(nil, storage, nil) })
	assert.NotPanics(t, func() { New(nil, storage, storage) })
}

func TestEvaluator_EvaluateOne(t *testing.T) {
	t.Parallel()

	key := ruleengine.NewKey("user-1")

	t.Run("Should evaluate an existing flag", func(t *testing.T) {
		t.Parallel()

		// Arrange
		flag := simpleFlag("checkout", "on", ruleengine.AllKeysMatcher{})
		flag.ImpressionsDisabled = true
		storage := newFakeStorage(flag)
		e := New(nil, storage, storage)

		// Act
		got := e.EvaluateOne(context.Background(), key, "checkout", nil)

		// Assert
		assert.Equal(t, Result{
			FlagName:            "checkout",
			Label:               "rule",
			Treatment:           "on",
			ChangeNumber:        100,
			ImpressionsDisabled: true,
		}, got)
	})

	t.Run("Should return control for a missing flag", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage()
		e := New(nil, storage, storage)

		got := e.EvaluateOne(context.Background(), key, "ghost", nil)

		assert.Equal(t, ruleengine.TreatmentControl, got.Treatment)
		assert.Equal(t, ruleengine.LabelDefinitionNotFound, got.Label)
		assert.Equal(t, "ghost", got.FlagName)
	})

	t.Run("Should return exception on storage failure", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage()
		storage.err = errors.New("redis: i/o timeout")
		e := New(nil, storage, storage)

		got := e.EvaluateOne(context.Background(), key, "checkout", nil)

		assert.Equal(t, ruleengine.TreatmentControl, got.Treatment)
		assert.Equal(t, ruleengine.LabelException, got.Label)
	})

	t.Run("Should contain panics raised during evaluation", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage(simpleFlag("fragile", "on", panicLeaf{}))
		e := New(nil, storage, storage)

		var got Result
		require.NotPanics(t, func() {
			got = e.EvaluateOne(context.Background(), key, "fragile", nil)
		})
		assert.Equal(t, ruleengine.TreatmentControl, got.Treatment)
		assert.Equal(t, ruleengine.LabelException, got.Label)
		assert.Equal(t, int64(100), got.ChangeNumber)
	})

	t.Run("Should consult segment storage", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage(simpleFlag("beta", "on", &ruleengine.InSegmentMatcher{Segment: "beta-testers"}))
		storage.segments["beta-testers"] = map[string]struct{}{"user-1": {}}
		e := New(nil, storage, storage)

		assert.Equal(t, "on", e.EvaluateOne(context.Background(), key, "beta", nil).Treatment)
		assert.Equal(t, "off", e.EvaluateOne(context.Background(), ruleengine.NewKey("user-2"), "beta", nil).Treatment)
	})
}

func TestEvaluator_EvaluateMany(t *testing.T) {
	t.Parallel()

	t.Run("Should isolate missing and failing flags from their siblings", func(t *testing.T) {
		t.Parallel()

		// Arrange
		storage := newFakeStorage(
			simpleFlag("a", "on", ruleengine.AllKeysMatcher{}),
			simpleFlag("boom", "on", panicLeaf{}),
			simpleFlag("c", "blue", ruleengine.AllKeysMatcher{}),
		)
		e := New(nil, storage, storage)

		// Act
		got := e.EvaluateMany(context.Background(), ruleengine.NewKey("user-1"), []string{"a", "missing", "boom", "c"}, nil)

		// Assert
		require.Len(t, got, 4)
		assert.Equal(t, "on", got[0].Treatment)
		assert.Equal(t, ruleengine.LabelDefinitionNotFound, got[1].Label)
		assert.Equal(t, ruleengine.LabelException, got[2].Label)
		assert.Equal(t, "blue", got[3].Treatment)
		assert.Equal(t, 1, storage.bulkReads, "flags must be fetched in one bulk read")
	})

	t.Run("Should mark every flag as exception when the bulk read fails", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage()
		storage.err = errors.New("connection refused")
		e := New(nil, storage, storage)

		got := e.EvaluateMany(context.Background(), ruleengine.NewKey("user-1"), []string{"a", "b"}, nil)

		require.Len(t, got, 2)
		for _, r := range got {
			assert.Equal(t, ruleengine.LabelException, r.Label)
			assert.Equal(t, ruleengine.TreatmentControl, r.Treatment)
		}
	})

	t.Run("Should mark only undecodable flags as exception", func(t *testing.T) {
		t.Parallel()

		// Arrange
		storage := newFakeStorage(
			simpleFlag("a", "on", ruleengine.AllKeysMatcher{}),
			simpleFlag("c", "blue", ruleengine.AllKeysMatcher{}),
		)
		storage.broken = ruleengine.FlagErrors{"corrupt": errors.New("invalid character")}
		e := New(nil, storage, storage)

		// Act
		got := e.EvaluateMany(context.Background(), ruleengine.NewKey("user-1"), []string{"a", "corrupt", "missing", "c"}, nil)

		// Assert
		require.Len(t, got, 4)
		assert.Equal(t, "on", got[0].Treatment)
		assert.Equal(t, Result{FlagName: "corrupt", Label: ruleengine.LabelException, Treatment: ruleengine.TreatmentControl}, got[1])
		assert.Equal(t, ruleengine.LabelDefinitionNotFound, got[2].Label)
		assert.Equal(t, "blue", got[3].Treatment)
	})

	t.Run("Should return nothing for an empty request", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage()
		e := New(nil, storage, storage)

		assert.Empty(t, e.EvaluateMany(context.Background(), ruleengine.NewKey("user-1"), nil, nil))
		assert.Zero(t, storage.bulkReads)
	})
}

func TestEvaluator_EvaluateBySets(t *testing.T) {
	t.Parallel()

	// Arrange
	storage := newFakeStorage(
		simpleFlag("a", "on", ruleengine.AllKeysMatcher{}),
		simpleFlag("b", "on", ruleengine.AllKeysMatcher{}),
	)
	storage.sets["web"] = []string{"a", "b"}
	storage.sets["mobile"] = []string{"b"}
	e := New(nil, storage, storage)

	// Act
	got := e.EvaluateBySets(context.Background(), ruleengine.NewKey("user-1"), []string{"web", "mobile", "unknown"}, nil)

	// Assert
	require.Len(t, got, 2, "flags shared between sets are evaluated once")
	assert.Equal(t, "a", got[0].FlagName)
	assert.Equal(t, "b", got[1].FlagName)
}

func TestEvaluator_Dependencies(t *testing.T) {
	t.Parallel()

	parentFor := func(treatment string) *ruleengine.Flag {
		return simpleFlag("parent", treatment, ruleengine.AllKeysMatcher{})
	}
	child := simpleFlag("child", "on", ruleengine.NewDependencyMatcher("parent", []string{"on"}))

	t.Run("Should match when the parent evaluates to an allowed treatment", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage(parentFor("on"), child)
		e := New(nil, storage, storage)

		got := e.EvaluateOne(context.Background(), ruleengine.NewKey("user-1"), "child", nil)

		assert.Equal(t, "on", got.Treatment)
		assert.Equal(t, "rule", got.Label)
	})

	t.Run("Should not match when the parent evaluates to another treatment", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage(parentFor("off"), child)
		e := New(nil, storage, storage)

		got := e.EvaluateOne(context.Background(), ruleengine.NewKey("user-1"), "child", nil)

		assert.Equal(t, "off", got.Treatment)
		assert.Equal(t, ruleengine.LabelDefaultRule, got.Label)
	})

	t.Run("Should terminate on self dependency", func(t *testing.T) {
		t.Parallel()

		// Arrange
		self := simpleFlag("ouroboros", "on", ruleengine.NewDependencyMatcher("ouroboros", []string{"on"}))
		storage := newFakeStorage(self)
		e := New(nil, storage, storage, WithMaxDepth(4))

		// Act
		got := e.EvaluateOne(context.Background(), ruleengine.NewKey("user-1"), "ouroboros", nil)

		// Assert
		assert.Equal(t, "off", got.Treatment)
		assert.Equal(t, ruleengine.LabelDefaultRule, got.Label)
	})

	t.Run("Should treat a missing parent as control", func(t *testing.T) {
		t.Parallel()

		storage := newFakeStorage(simpleFlag("orphan", "on", ruleengine.NewDependencyMatcher("parent", []string{ruleengine.TreatmentControl})))
		e := New(nil, storage, storage)

		got := e.EvaluateOne(context.Background(), ruleengine.NewKey("user-1"), "orphan", nil)

		assert.Equal(t, "on", got.Treatment)
	})
}

func TestEvaluator_RecordsOutcomeMetrics(t *testing.T) {
	storage := newFakeStorage(simpleFlag("a", "on", ruleengine.AllKeysMatcher{}))
	e := New(nil, storage, storage)

	testsupport.AssertMetricDelta(t, "bifrost_evaluator_evaluations_total", map[string]string{"outcome": "not_found"}, 2, func() {
		e.EvaluateMany(context.Background(), ruleengine.NewKey("user-1"), []string{"a", "x", "y"}, nil)
	})
}
