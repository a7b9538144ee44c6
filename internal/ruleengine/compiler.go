package ruleengine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rafaeljc/bifrost/internal/definition"
)

// ErrUnsupportedMatcher is returned for matcher types or combiners this
// engine does not know, and for matchers missing their data.
var ErrUnsupportedMatcher = errors.New("unsupported matcher")

// Compile turns a wire definition into an immutable Flag.
// This must be called after deserializing definitions from storage and before evaluation.
//
// A condition that cannot be compiled does not invalidate the flag: it is
// replaced by a whitelist condition matching every key and returning
// "control" with the label "unsupported matcher type".
func Compile(def *definition.Flag, logger *slog.Logger) *Flag {
	if logger == nil {
		logger = slog.Default()
	}

	trafficAllocation := int32(100)
	if def.TrafficAllocation != nil {
		trafficAllocation = *def.TrafficAllocation
	}

	algo := AlgorithmLegacy
	if def.Algo == definition.AlgoMurmur {
		algo = AlgorithmMurmur
	}

	flag := &Flag{
		Name:                  def.Name,
		Seed:                  def.Seed,
		TrafficAllocation:     trafficAllocation,
		TrafficAllocationSeed: def.TrafficAllocationSeed,
		Algorithm:             algo,
		Killed:                def.Killed,
		DefaultTreatment:      def.DefaultTreatment,
		Conditions:            make([]Condition, 0, len(def.Conditions)),
		Configurations:        def.Configurations,
		ChangeNumber:          def.ChangeNumber,
		Sets:                  toSet(def.Sets),
		ImpressionsDisabled:   def.ImpressionsDisabled,
	}

	for i := range def.Conditions {
		cond, err := compileCondition(&def.Conditions[i])
		if err != nil {
			logger.Warn("replacing condition that failed to compile",
				slog.String("flag", def.Name),
				slog.Int("condition", i),
				slog.String("error", err.Error()),
			)
			cond = unsupportedCondition()
		}
		flag.Conditions = append(flag.Conditions, cond)
	}

	return flag
}

// unsupportedCondition is the safe replacement for a condition that could not
// be compiled.
func unsupportedCondition() Condition {
	return Condition{
		Type:       ConditionWhitelist,
		Label:      LabelUnsupportedMatcher,
		Partitions: []Partition{{Treatment: TreatmentControl, Size: 100}},
		Matcher:    &CombiningMatcher{Matchers: []AttributeMatcher{{Leaf: AllKeysMatcher{}}}},
	}
}

func compileCondition(def *definition.Condition) (Condition, error) {
	if def.MatcherGroup.Combiner != "" && def.MatcherGroup.Combiner != "AND" {
		return Condition{}, fmt.Errorf("%w: combiner %q", ErrUnsupportedMatcher, def.MatcherGroup.Combiner)
	}

	condType := ConditionRollout
	if def.ConditionType == definition.ConditionTypeWhitelist {
		condType = ConditionWhitelist
	}

	matchers := make([]AttributeMatcher, 0, len(def.MatcherGroup.Matchers))
	for i := range def.MatcherGroup.Matchers {
		m := &def.MatcherGroup.Matchers[i]
		leaf, err := compileLeaf(m)
		if err != nil {
			return Condition{}, err
		}
		matchers = append(matchers, AttributeMatcher{
			Attribute: m.Attribute(),
			Negate:    m.Negate,
			Leaf:      leaf,
		})
	}

	partitions := make([]Partition, 0, len(def.Partitions))
	for _, p := range def.Partitions {
		partitions = append(partitions, Partition{Treatment: p.Treatment, Size: p.Size})
	}

	return Condition{
		Type:       condType,
		Label:      def.Label,
		Partitions: partitions,
		Matcher:    &CombiningMatcher{Matchers: matchers},
	}, nil
}

// compileLeaf builds the leaf for a single matcher definition.
func compileLeaf(m *definition.Matcher) (Leaf, error) {
	switch m.MatcherType {
	case definition.MatcherAllKeys:
		return AllKeysMatcher{}, nil

	case definition.MatcherInSegment:
		if m.UserDefinedSegmentMatcherData == nil {
			return nil, missingData(m)
		}
		return &InSegmentMatcher{Segment: m.UserDefinedSegmentMatcherData.SegmentName}, nil

	case definition.MatcherWhitelist:
		list, err := whitelistOf(m)
		if err != nil {
			return nil, err
		}
		return NewWhitelistMatcher(list), nil

	case definition.MatcherStartsWith, definition.MatcherEndsWith, definition.MatcherContainsString:
		list, err := whitelistOf(m)
		if err != nil {
			return nil, err
		}
		switch m.MatcherType {
		case definition.MatcherStartsWith:
			return &StartsWithMatcher{Prefixes: list}, nil
		case definition.MatcherEndsWith:
			return &EndsWithMatcher{Suffixes: list}, nil
		default:
			return &ContainsStringMatcher{Substrings: list}, nil
		}

	case definition.MatcherMatchesString:
		if m.StringMatcherData == nil {
			return nil, missingData(m)
		}
		return NewRegexMatcher(*m.StringMatcherData)

	case definition.MatcherEqualTo, definition.MatcherGreaterThanOrEqualTo, definition.MatcherLessThanOrEqualTo:
		if m.UnaryNumericMatcherData == nil {
			return nil, missingData(m)
		}
		dt, err := dataTypeOf(m.UnaryNumericMatcherData.DataType)
		if err != nil {
			return nil, err
		}
		value := m.UnaryNumericMatcherData.Value
		switch m.MatcherType {
		case definition.MatcherEqualTo:
			return &EqualToMatcher{DataType: dt, Value: value}, nil
		case definition.MatcherGreaterThanOrEqualTo:
			return &GreaterOrEqualMatcher{DataType: dt, Value: value}, nil
		default:
			return &LessOrEqualMatcher{DataType: dt, Value: value}, nil
		}

	case definition.MatcherBetween:
		if m.BetweenMatcherData == nil {
			return nil, missingData(m)
		}
		dt, err := dataTypeOf(m.BetweenMatcherData.DataType)
		if err != nil {
			return nil, err
		}
		return &BetweenMatcher{DataType: dt, Start: m.BetweenMatcherData.Start, End: m.BetweenMatcherData.End}, nil

	case definition.MatcherEqualToBoolean:
		if m.BooleanMatcherData == nil {
			return nil, missingData(m)
		}
		return &BooleanMatcher{Expected: *m.BooleanMatcherData}, nil

	case definition.MatcherEqualToSet, definition.MatcherPartOfSet,
		definition.MatcherContainsAnyOfSet, definition.MatcherContainsAllOfSet:
		list, err := whitelistOf(m)
		if err != nil {
			return nil, err
		}
		switch m.MatcherType {
		case definition.MatcherEqualToSet:
			return NewEqualToSetMatcher(list), nil
		case definition.MatcherPartOfSet:
			return NewPartOfSetMatcher(list), nil
		case definition.MatcherContainsAnyOfSet:
			return NewContainsAnyOfSetMatcher(list), nil
		default:
			return NewContainsAllOfSetMatcher(list), nil
		}

	case definition.MatcherEqualToSemver, definition.MatcherGreaterOrEqualSemver, definition.MatcherLessOrEqualSemver:
		if m.StringMatcherData == nil {
			return nil, missingData(m)
		}
		switch m.MatcherType {
		case definition.MatcherEqualToSemver:
			return NewEqualToSemverMatcher(*m.StringMatcherData)
		case definition.MatcherGreaterOrEqualSemver:
			return NewGreaterOrEqualSemverMatcher(*m.StringMatcherData)
		default:
			return NewLessOrEqualSemverMatcher(*m.StringMatcherData)
		}

	case definition.MatcherBetweenSemver:
		if m.BetweenStringMatcherData == nil {
			return nil, missingData(m)
		}
		return NewBetweenSemverMatcher(m.BetweenStringMatcherData.Start, m.BetweenStringMatcherData.End)

	case definition.MatcherInListSemver:
		list, err := whitelistOf(m)
		if err != nil {
			return nil, err
		}
		return NewInListSemverMatcher(list)

	case definition.MatcherInSplitTreatment:
		if m.DependencyMatcherData == nil {
			return nil, missingData(m)
		}
		return NewDependencyMatcher(m.DependencyMatcherData.Split, m.DependencyMatcherData.Treatments), nil

	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedMatcher, m.MatcherType)
	}
}

func whitelistOf(m *definition.Matcher) ([]string, error) {
	if m.WhitelistMatcherData == nil {
		return nil, missingData(m)
	}
	return m.WhitelistMatcherData.Whitelist, nil
}

func dataTypeOf(raw string) (DataType, error) {
	switch raw {
	case definition.DataTypeNumber, "":
		return DataTypeNumber, nil
	case definition.DataTypeDatetime:
		return DataTypeDatetime, nil
	default:
		return 0, fmt.Errorf("%w: data type %q", ErrUnsupportedMatcher, raw)
	}
}

func missingData(m *definition.Matcher) error {
	return fmt.Errorf("%w: %s without matcher data", ErrUnsupportedMatcher, m.MatcherType)
}
