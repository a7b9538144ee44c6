// Package evaluator is the public evaluation entry point. It resolves flags
// through injected storage lookups and delegates the decision to the rule
// engine. It performs no I/O of its own.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// FlagStorage is the read side for compiled flags.
type FlagStorage interface {
	// Flag returns the named flag, or (nil, nil) when it does not exist.
	Flag(ctx context.Context, name string) (*ruleengine.Flag, error)
	// Flags bulk-reads flags. Missing names are absent from the map. Flags
	// that exist but cannot be loaded are reported as a ruleengine.FlagErrors
	// alongside the flags that did load.
	Flags(ctx context.Context, names []string) (map[string]*ruleengine.Flag, error)
	// FlagNamesBySets resolves flag sets to the names of their flags.
	FlagNamesBySets(ctx context.Context, sets []string) ([]string, error)
}

// SegmentStorage answers segment membership lookups.
type SegmentStorage interface {
	IsInSegment(ctx context.Context, segment, key string) (bool, error)
}

// Result is the outcome of evaluating one flag for one key.
type Result struct {
	FlagName            string
	Label               string
	Treatment           string
	Config              *string
	ChangeNumber        int64
	ImpressionsDisabled bool
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxDepth bounds nested dependency evaluation. Values <= 0 are ignored.
func WithMaxDepth(depth int) Option {
	return func(e *Evaluator) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// Evaluator is safe for concurrent use.
type Evaluator struct {
	logger   *slog.Logger
	flags    FlagStorage
	segments SegmentStorage
	engine   *ruleengine.Engine
	maxDepth int
}

// New creates an Evaluator. It panics if a storage dependency is nil.
func New(logger *slog.Logger, flags FlagStorage, segments SegmentStorage, opts ...Option) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertImplemented(flags, "evaluator: flag storage")
	validation.AssertImplemented(segments, "evaluator: segment storage")

	e := &Evaluator{
		logger:   logger,
		flags:    flags,
		segments: segments,
		engine:   ruleengine.New(logger),
		maxDepth: ruleengine.DefaultMaxDependencyDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateOne evaluates a single flag. It never fails: problems surface as the
// "control" treatment with an explanatory label.
func (e *Evaluator) EvaluateOne(ctx context.Context, key ruleengine.Key, flagName string, attrs ruleengine.Attributes) Result {
	defer observeDuration("one", time.Now())

	flag, err := e.flags.Flag(ctx, flagName)
	if err != nil {
		e.logger.Error("failed to fetch flag definition",
			slog.String("flag", flagName),
			slog.String("error", err.Error()),
		)
		return record(exceptionResult(flagName, 0))
	}
	if flag == nil {
		return record(notFoundResult(flagName))
	}

	return record(e.evaluateFlag(ctx, key, flag, attrs))
}

// EvaluateMany evaluates every named flag with a single bulk read. Results
// follow the order of flagNames.
func (e *Evaluator) EvaluateMany(ctx context.Context, key ruleengine.Key, flagNames []string, attrs ruleengine.Attributes) []Result {
	defer observeDuration("many", time.Now())
	return e.evaluateMany(ctx, key, flagNames, attrs)
}

// EvaluateBySets evaluates every flag belonging to any of the given sets.
func (e *Evaluator) EvaluateBySets(ctx context.Context, key ruleengine.Key, sets []string, attrs ruleengine.Attributes) []Result {
	defer observeDuration("by_sets", time.Now())

	names, err := e.flags.FlagNamesBySets(ctx, sets)
	if err != nil {
		e.logger.Error("failed to resolve flag sets",
			slog.Any("sets", sets),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return e.evaluateMany(ctx, key, dedupe(names), attrs)
}

// EvaluateDependency evaluates flagName on behalf of a dependency matcher.
// It produces no metrics and no telemetry. A missing flag yields "control".
func (e *Evaluator) EvaluateDependency(ctx context.Context, key ruleengine.Key, flagName string, attrs ruleengine.Attributes, depth int) (string, error) {
	flag, err := e.flags.Flag(ctx, flagName)
	if err != nil {
		return "", fmt.Errorf("failed to fetch dependency %q: %w", flagName, err)
	}
	if flag == nil {
		return ruleengine.TreatmentControl, nil
	}

	res := e.engine.Evaluate(e.newContext(ctx, key, attrs, depth), flag)
	return res.Treatment, nil
}

func (e *Evaluator) evaluateMany(ctx context.Context, key ruleengine.Key, flagNames []string, attrs ruleengine.Attributes) []Result {
	if len(flagNames) == 0 {
		return nil
	}

	results := make([]Result, 0, len(flagNames))

	flags, err := e.flags.Flags(ctx, flagNames)
	var failed ruleengine.FlagErrors
	if errors.As(err, &failed) {
		e.logger.Error("failed to load some flag definitions",
			slog.Int("failed", len(failed)),
			slog.String("error", err.Error()),
		)
	} else if err != nil {
		e.logger.Error("failed to fetch flag definitions",
			slog.Int("count", len(flagNames)),
			slog.String("error", err.Error()),
		)
		for _, name := range flagNames {
			results = append(results, record(exceptionResult(name, 0)))
		}
		return results
	}

	for _, name := range flagNames {
		if _, bad := failed[name]; bad {
			results = append(results, record(exceptionResult(name, 0)))
			continue
		}
		flag, ok := flags[name]
		if !ok || flag == nil {
			results = append(results, record(notFoundResult(name)))
			continue
		}
		results = append(results, record(e.evaluateFlag(ctx, key, flag, attrs)))
	}
	return results
}

// evaluateFlag runs the engine for one flag. A panic is contained here and
// turns into the "exception" result for this flag only.
func (e *Evaluator) evaluateFlag(ctx context.Context, key ruleengine.Key, flag *ruleengine.Flag, attrs ruleengine.Attributes) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while evaluating flag",
				slog.String("flag", flag.Name),
				slog.String("panic", fmt.Sprint(r)),
			)
			res = exceptionResult(flag.Name, flag.ChangeNumber)
		}
	}()

	out := e.engine.Evaluate(e.newContext(ctx, key, attrs, 0), flag)
	return Result{
		FlagName:            flag.Name,
		Label:               out.Label,
		Treatment:           out.Treatment,
		Config:              out.Config,
		ChangeNumber:        out.ChangeNumber,
		ImpressionsDisabled: flag.ImpressionsDisabled,
	}
}

func (e *Evaluator) newContext(ctx context.Context, key ruleengine.Key, attrs ruleengine.Attributes, depth int) *ruleengine.Context {
	return &ruleengine.Context{
		Ctx:          ctx,
		Key:          key,
		Attributes:   attrs,
		Segments:     e.segments,
		Dependencies: e,
		Logger:       e.logger,
		Depth:        depth,
		MaxDepth:     e.maxDepth,
	}
}

func notFoundResult(name string) Result {
	return Result{
		FlagName:  name,
		Label:     ruleengine.LabelDefinitionNotFound,
		Treatment: ruleengine.TreatmentControl,
	}
}

func exceptionResult(name string, changeNumber int64) Result {
	return Result{
		FlagName:     name,
		Label:        ruleengine.LabelException,
		Treatment:    ruleengine.TreatmentControl,
		ChangeNumber: changeNumber,
	}
}

// dedupe keeps the first occurrence of every name.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func record(res Result) Result {
	observability.EvaluationsTotal.WithLabelValues(outcomeOf(res.Label)).Inc()
	return res
}

// outcomeOf maps a label to a bounded metric label value. Condition labels
// are user-defined and must not become label values.
func outcomeOf(label string) string {
	switch label {
	case ruleengine.LabelKilled:
		return "killed"
	case ruleengine.LabelDefaultRule:
		return "default_rule"
	case ruleengine.LabelTrafficAllocationFailed:
		return "traffic_allocation_failed"
	case ruleengine.LabelDefinitionNotFound:
		return "not_found"
	case ruleengine.LabelException:
		return "exception"
	case ruleengine.LabelUnsupportedMatcher:
		return "unsupported"
	default:
		return "condition"
	}
}

func observeDuration(method string, start time.Time) {
	observability.EvaluationDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
