package ruleengine

import (
	"log/slog"
)

// Engine walks a flag's conditions and decides the treatment.
// It holds no per-evaluation state and is safe for concurrent use.
type Engine struct {
	logger *slog.Logger // Dedicated logger instance (DI)
}

// New creates a new Engine.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{logger: logger}
}

// Evaluate computes the treatment of flag for the key carried by ec.
//
// Order of checks:
//  1. killed flags return the default treatment ("killed");
//  2. flags without conditions return the default treatment ("default rule");
//  3. whitelist conditions are evaluated freely; the traffic allocation bucket
//     is checked once, right before the first rollout condition;
//  4. the first matching condition picks a partition;
//  5. otherwise the default treatment ("default rule").
func (e *Engine) Evaluate(ec *Context, flag *Flag) Result {
	if flag.Killed {
		return e.defaultResult(flag, LabelKilled)
	}
	if len(flag.Conditions) == 0 {
		return e.defaultResult(flag, LabelDefaultRule)
	}

	if ec.Logger == nil {
		ec.Logger = e.logger
	}

	bucketingKey := ec.Key.Bucketing()
	allocationChecked := false

	for i := range flag.Conditions {
		cond := &flag.Conditions[i]

		if cond.Type == ConditionRollout && !allocationChecked {
			allocationChecked = true
			if flag.TrafficAllocation < 100 {
				bucket := Bucket(bucketingKey, flag.TrafficAllocationSeed, flag.Algorithm)
				if int32(bucket) >= flag.TrafficAllocation {
					e.logger.Debug("key outside traffic allocation",
						slog.String("flag", flag.Name),
						slog.Int("bucket", bucket),
						slog.Int("allocation", int(flag.TrafficAllocation)),
					)
					return e.defaultResult(flag, LabelTrafficAllocationFailed)
				}
			}
		}

		if !cond.Matcher.Match(ec) {
			continue
		}

		treatment := TreatmentFor(bucketingKey, flag.Seed, cond.Partitions, flag.Algorithm)
		return Result{
			Treatment:    treatment,
			Label:        cond.Label,
			ChangeNumber: flag.ChangeNumber,
			Config:       configFor(flag, treatment),
		}
	}

	return e.defaultResult(flag, LabelDefaultRule)
}

func (e *Engine) defaultResult(flag *Flag, label string) Result {
	return Result{
		Treatment:    flag.DefaultTreatment,
		Label:        label,
		ChangeNumber: flag.ChangeNumber,
		Config:       configFor(flag, flag.DefaultTreatment),
	}
}

func configFor(flag *Flag, treatment string) *string {
	cfg, ok := flag.Configurations[treatment]
	if !ok {
		return nil
	}
	return &cfg
}
