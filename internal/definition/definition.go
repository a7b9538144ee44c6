// Package definition holds the wire representation of flag rule definitions as
// they are stored in the shared rule storage (JSON). These types are plain data:
// the ruleengine package compiles them into immutable evaluation trees.
package definition

// Condition types.
const (
	ConditionTypeWhitelist = "WHITELIST"
	ConditionTypeRollout   = "ROLLOUT"
)

// Flag status values.
const (
	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
)

// Algorithm identifiers used by the "algo" field.
const (
	AlgoLegacy = 1
	AlgoMurmur = 2
)

// Matcher types.
const (
	MatcherAllKeys              = "ALL_KEYS"
	MatcherInSegment            = "IN_SEGMENT"
	MatcherWhitelist            = "WHITELIST"
	MatcherEqualTo              = "EQUAL_TO"
	MatcherGreaterThanOrEqualTo = "GREATER_THAN_OR_EQUAL_TO"
	MatcherLessThanOrEqualTo    = "LESS_THAN_OR_EQUAL_TO"
	MatcherBetween              = "BETWEEN"
	MatcherEqualToSet           = "EQUAL_TO_SET"
	MatcherPartOfSet            = "PART_OF_SET"
	MatcherContainsAllOfSet     = "CONTAINS_ALL_OF_SET"
	MatcherContainsAnyOfSet     = "CONTAINS_ANY_OF_SET"
	MatcherStartsWith           = "STARTS_WITH"
	MatcherEndsWith             = "ENDS_WITH"
	MatcherContainsString       = "CONTAINS_STRING"
	MatcherInSplitTreatment     = "IN_SPLIT_TREATMENT"
	MatcherEqualToBoolean       = "EQUAL_TO_BOOLEAN"
	MatcherMatchesString        = "MATCHES_STRING"
	MatcherEqualToSemver        = "EQUAL_TO_SEMVER"
	MatcherGreaterOrEqualSemver = "GREATER_THAN_OR_EQUAL_TO_SEMVER"
	MatcherLessOrEqualSemver    = "LESS_THAN_OR_EQUAL_TO_SEMVER"
	MatcherBetweenSemver        = "BETWEEN_SEMVER"
	MatcherInListSemver         = "IN_LIST_SEMVER"
)

// Data types for numeric matchers.
const (
	DataTypeNumber   = "NUMBER"
	DataTypeDatetime = "DATETIME"
)

// Flag is a full rule definition for one feature flag.
type Flag struct {
	Name                  string            `json:"name"`
	TrafficTypeName       string            `json:"trafficTypeName,omitempty"`
	Seed                  int32             `json:"seed"`
	TrafficAllocation     *int32            `json:"trafficAllocation,omitempty"`
	TrafficAllocationSeed int32             `json:"trafficAllocationSeed"`
	Algo                  int               `json:"algo"`
	Killed                bool              `json:"killed"`
	Status                string            `json:"status"`
	DefaultTreatment      string            `json:"defaultTreatment"`
	ChangeNumber          int64             `json:"changeNumber"`
	Conditions            []Condition       `json:"conditions"`
	Configurations        map[string]string `json:"configurations,omitempty"`
	Sets                  []string          `json:"sets,omitempty"`
	ImpressionsDisabled   bool              `json:"impressionsDisabled,omitempty"`
}

// Condition is one targeting rule of a flag.
type Condition struct {
	ConditionType string       `json:"conditionType"`
	Label         string       `json:"label"`
	Partitions    []Partition  `json:"partitions"`
	MatcherGroup  MatcherGroup `json:"matcherGroup"`
}

// Partition assigns a percentage of the matching traffic to a treatment.
type Partition struct {
	Treatment string `json:"treatment"`
	Size      int32  `json:"size"`
}

// MatcherGroup combines matchers. Only "AND" is defined.
type MatcherGroup struct {
	Combiner string    `json:"combiner"`
	Matchers []Matcher `json:"matchers"`
}

// KeySelector names the attribute a matcher applies to; a nil selector or an
// empty attribute means the evaluation key itself.
type KeySelector struct {
	TrafficType string  `json:"trafficType,omitempty"`
	Attribute   *string `json:"attribute,omitempty"`
}

// Matcher is a single predicate. Exactly one of the *Data fields is expected
// to be populated, depending on MatcherType.
type Matcher struct {
	KeySelector                   *KeySelector        `json:"keySelector,omitempty"`
	MatcherType                   string              `json:"matcherType"`
	Negate                        bool                `json:"negate"`
	UserDefinedSegmentMatcherData *SegmentData        `json:"userDefinedSegmentMatcherData,omitempty"`
	WhitelistMatcherData          *WhitelistData      `json:"whitelistMatcherData,omitempty"`
	UnaryNumericMatcherData       *UnaryNumericData   `json:"unaryNumericMatcherData,omitempty"`
	BetweenMatcherData            *BetweenData        `json:"betweenMatcherData,omitempty"`
	BooleanMatcherData            *bool               `json:"booleanMatcherData,omitempty"`
	DependencyMatcherData         *DependencyData     `json:"dependencyMatcherData,omitempty"`
	StringMatcherData             *string             `json:"stringMatcherData,omitempty"`
	BetweenStringMatcherData      *BetweenStringsData `json:"betweenStringMatcherData,omitempty"`
}

// Attribute returns the attribute this matcher targets, or "" for the key.
func (m *Matcher) Attribute() string {
	if m.KeySelector == nil || m.KeySelector.Attribute == nil {
		return ""
	}
	return *m.KeySelector.Attribute
}

// SegmentData references a segment by name.
type SegmentData struct {
	SegmentName string `json:"segmentName"`
}

// WhitelistData holds a list of strings (whitelists, string and set matchers).
type WhitelistData struct {
	Whitelist []string `json:"whitelist"`
}

// UnaryNumericData holds a single numeric operand.
type UnaryNumericData struct {
	DataType string `json:"dataType"`
	Value    int64  `json:"value"`
}

// BetweenData holds an inclusive numeric range.
type BetweenData struct {
	DataType string `json:"dataType"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// BetweenStringsData holds an inclusive semantic version range.
type BetweenStringsData struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DependencyData references another flag and the treatments that satisfy it.
type DependencyData struct {
	Split      string   `json:"split"`
	Treatments []string `json:"treatments"`
}
