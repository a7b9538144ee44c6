// Package ruleengine provides the core logic for feature flag evaluation.
// A flag is an ordered list of conditions; each condition owns a matcher tree
// and a set of weighted partitions. Evaluation walks the conditions and uses
// deterministic hashing to pick a treatment from the first matching condition.
//
// Every type produced by Compile is immutable and safe for concurrent reads.
package ruleengine

// TreatmentControl is returned whenever a treatment cannot be computed.
const TreatmentControl = "control"

// Labels describing why a treatment was chosen.
const (
	LabelKilled                  = "killed"
	LabelDefaultRule             = "default rule"
	LabelTrafficAllocationFailed = "traffic allocation failed"
	LabelDefinitionNotFound      = "definition not found"
	LabelException               = "exception"
	LabelUnsupportedMatcher      = "unsupported matcher type"
)

// Algorithm selects the hash function used for bucketing.
type Algorithm int

const (
	// AlgorithmLegacy is a simple seeded string hash (Java-style hashCode).
	AlgorithmLegacy Algorithm = 1
	// AlgorithmMurmur is 32-bit MurmurHash3 (x86 variant).
	AlgorithmMurmur Algorithm = 2
)

// ConditionType distinguishes whitelist conditions (exempt from traffic
// allocation) from rollout conditions.
type ConditionType int

const (
	ConditionWhitelist ConditionType = iota + 1
	ConditionRollout
)

// Key identifies the entity being evaluated.
type Key struct {
	// MatchingKey is compared against whitelists and segments and is the key
	// recorded in impressions.
	MatchingKey string
	// BucketingKey feeds the hash functions. Empty means MatchingKey.
	BucketingKey string
}

// NewKey creates a key whose bucketing key equals the matching key.
func NewKey(matchingKey string) Key {
	return Key{MatchingKey: matchingKey}
}

// Bucketing returns the key used for hashing.
func (k Key) Bucketing() string {
	if k.BucketingKey == "" {
		return k.MatchingKey
	}
	return k.BucketingKey
}

// Partition assigns Size percent of matching traffic to Treatment.
type Partition struct {
	Treatment string
	Size      int32
}

// Condition is one compiled targeting rule.
type Condition struct {
	Type       ConditionType
	Label      string
	Partitions []Partition
	Matcher    *CombiningMatcher
}

// Flag is a compiled, immutable rule definition.
type Flag struct {
	Name                  string
	Seed                  int32
	TrafficAllocation     int32
	TrafficAllocationSeed int32
	Algorithm             Algorithm
	Killed                bool
	DefaultTreatment      string
	Conditions            []Condition
	Configurations        map[string]string
	ChangeNumber          int64
	Sets                  map[string]struct{}
	ImpressionsDisabled   bool
}

// InSet reports whether the flag belongs to the named flag set.
func (f *Flag) InSet(set string) bool {
	_, ok := f.Sets[set]
	return ok
}

// Result is the outcome of evaluating one flag.
type Result struct {
	Treatment    string
	Label        string
	ChangeNumber int64
	// Config is the configuration attached to Treatment, if any.
	Config *string
}
