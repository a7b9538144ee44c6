// Package client is the entry point applications use to get treatments. It
// evaluates flags, turns every decision into telemetry and owns the background
// tasks that ship that telemetry.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rafaeljc/bifrost/internal/evaluator"
	"github.com/rafaeljc/bifrost/internal/impressions"
	"github.com/rafaeljc/bifrost/internal/logger"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/recorder"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/task"
	"github.com/rafaeljc/bifrost/internal/uniquekeys"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// ErrDestroyed is returned by Ready once Destroy has been called.
var ErrDestroyed = errors.New("client destroyed")

// Evaluator computes treatments. *evaluator.Evaluator satisfies it.
type Evaluator interface {
	EvaluateOne(ctx context.Context, key ruleengine.Key, flagName string, attrs ruleengine.Attributes) evaluator.Result
	EvaluateMany(ctx context.Context, key ruleengine.Key, flagNames []string, attrs ruleengine.Attributes) []evaluator.Result
	EvaluateBySets(ctx context.Context, key ruleengine.Key, sets []string, attrs ruleengine.Attributes) []evaluator.Result
}

// TreatmentResult is a treatment with its optional configuration.
type TreatmentResult struct {
	Treatment string
	Config    *string
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	taskOpts    []task.Option
	managerOpts []impressions.Option
}

// WithTaskOptions applies opts to every background task (tests inject tickers).
func WithTaskOptions(opts ...task.Option) Option {
	return func(o *options) {
		o.taskOpts = append(o.taskOpts, opts...)
	}
}

// WithManagerOptions applies opts to the impressions manager.
func WithManagerOptions(opts ...impressions.Option) Option {
	return func(o *options) {
		o.managerOpts = append(o.managerOpts, opts...)
	}
}

// Client evaluates flags and records impressions. It is safe for concurrent use.
type Client struct {
	logger    *slog.Logger
	evaluator Evaluator
	manager   *impressions.Manager
	tracker   *uniquekeys.Tracker

	// impressionsTask is nil in none mode.
	impressionsTask *task.Periodic
	countsTask      *task.Periodic
	uniqueKeysTask  *task.Periodic
	filterResetTask *task.Periodic

	// gate orders track against Destroy: no impression is queued once
	// Destroy has started waiting for pending tracks.
	gate        sync.RWMutex
	destroyed   atomic.Bool
	destroyOnce sync.Once
	destroyErr  error
}

// New wires a client. Background tasks are created stopped; call Start.
// It panics if eval or rec is nil.
func New(log *slog.Logger, eval Evaluator, rec recorder.Recorder, cfg Config, opts ...Option) (*Client, error) {
	validation.AssertImplemented(eval, "client: evaluator")
	validation.AssertImplemented(rec, "client: recorder")
	if log == nil {
		log = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{logger: logger.Component(log, "client"), evaluator: eval}

	tracker, err := uniquekeys.New(log, cfg.UniqueKeys, rec,
		uniquekeys.WithFullHook(func() { c.uniqueKeysTask.RequestFlush() }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unique keys tracker: %w", err)
	}
	c.tracker = tracker

	managerOpts := append([]impressions.Option{
		impressions.WithStats(observability.ImpressionStats{}),
		impressions.WithQueueFullHook(func() {
			if c.impressionsTask != nil {
				c.impressionsTask.RequestFlush()
			}
		}),
	}, o.managerOpts...)

	manager, err := impressions.NewManager(log, cfg.Impressions, rec, tracker, managerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create impressions manager: %w", err)
	}
	c.manager = manager

	if manager.Mode() != impressions.ModeNone {
		c.impressionsTask = task.NewPeriodic(log, "impressions", cfg.ImpressionsRefreshRate, manager.FlushImpressions, o.taskOpts...)
	}
	c.countsTask = task.NewPeriodic(log, "impression_counts", cfg.CountsRefreshRate, manager.FlushCounts, o.taskOpts...)
	c.uniqueKeysTask = task.NewPeriodic(log, "unique_keys", cfg.UniqueKeysRefreshRate, tracker.Flush, o.taskOpts...)
	c.filterResetTask = task.NewPeriodic(log, "unique_keys_filter_reset", cfg.FilterResetInterval,
		func(context.Context) error {
			tracker.ResetFilter()
			return nil
		}, o.taskOpts...)

	return c, nil
}

// Start launches the background flushers.
func (c *Client) Start() {
	if c.destroyed.Load() {
		return
	}
	for _, t := range c.tasks() {
		t.Start()
	}
	c.logger.Info("client started", slog.String("impressions_mode", string(c.manager.Mode())))
}

// Destroy stops every task, flushing pending telemetry one last time. Later
// calls are no-ops and later evaluations return control.
func (c *Client) Destroy(ctx context.Context) error {
	c.destroyOnce.Do(func() {
		c.gate.Lock()
		c.destroyed.Store(true)
		c.gate.Unlock()
		c.manager.Wait()

		// Impressions first: building them feeds the counter and unique keys.
		var errs []error
		if c.impressionsTask != nil {
			errs = append(errs, stopAndFlush(ctx, c.impressionsTask))
		}
		errs = append(errs,
			stopAndFlush(ctx, c.countsTask),
			stopAndFlush(ctx, c.uniqueKeysTask),
		)
		c.filterResetTask.Cancel()

		c.destroyErr = errors.Join(errs...)
		if c.destroyErr != nil {
			c.logger.Error("client destroyed with flush errors", slog.String("error", c.destroyErr.Error()))
			return
		}
		c.logger.Info("client destroyed")
	})
	return c.destroyErr
}

// Ready reports whether the client still accepts evaluations.
func (c *Client) Ready(context.Context) error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	return nil
}

// Treatment returns the treatment of one flag for key.
func (c *Client) Treatment(ctx context.Context, key ruleengine.Key, flagName string, attrs ruleengine.Attributes) string {
	return c.TreatmentWithConfig(ctx, key, flagName, attrs).Treatment
}

// TreatmentWithConfig returns the treatment of one flag and its configuration.
func (c *Client) TreatmentWithConfig(ctx context.Context, key ruleengine.Key, flagName string, attrs ruleengine.Attributes) TreatmentResult {
	flagName = strings.TrimSpace(flagName)
	if !c.usable(key) || flagName == "" {
		return TreatmentResult{Treatment: ruleengine.TreatmentControl}
	}

	res := c.evaluator.EvaluateOne(ctx, key, flagName, attrs)
	c.track(key, []evaluator.Result{res})
	return TreatmentResult{Treatment: res.Treatment, Config: res.Config}
}

// Treatments returns the treatment of each named flag.
func (c *Client) Treatments(ctx context.Context, key ruleengine.Key, flagNames []string, attrs ruleengine.Attributes) map[string]string {
	return treatmentsOnly(c.TreatmentsWithConfig(ctx, key, flagNames, attrs))
}

// TreatmentsWithConfig returns the treatment and configuration of each named flag.
func (c *Client) TreatmentsWithConfig(ctx context.Context, key ruleengine.Key, flagNames []string, attrs ruleengine.Attributes) map[string]TreatmentResult {
	return withConfig(c.Evaluations(ctx, key, flagNames, attrs))
}

// TreatmentsByFlagSets returns the treatment of every flag in the given sets.
func (c *Client) TreatmentsByFlagSets(ctx context.Context, key ruleengine.Key, sets []string, attrs ruleengine.Attributes) map[string]string {
	return treatmentsOnly(c.TreatmentsWithConfigByFlagSets(ctx, key, sets, attrs))
}

// TreatmentsWithConfigByFlagSets returns the treatment and configuration of
// every flag in the given sets.
func (c *Client) TreatmentsWithConfigByFlagSets(ctx context.Context, key ruleengine.Key, sets []string, attrs ruleengine.Attributes) map[string]TreatmentResult {
	return withConfig(c.EvaluationsBySets(ctx, key, sets, attrs))
}

// Evaluations returns the full results, labels included, for the named flags.
// Blank names are ignored and duplicates evaluated once.
func (c *Client) Evaluations(ctx context.Context, key ruleengine.Key, flagNames []string, attrs ruleengine.Attributes) []evaluator.Result {
	names := cleanNames(flagNames)
	if len(names) == 0 {
		return nil
	}
	if !c.usable(key) {
		return controlResults(names)
	}

	results := c.evaluator.EvaluateMany(ctx, key, names, attrs)
	c.track(key, results)
	return results
}

// EvaluationsBySets returns the full results for every flag in the given sets.
func (c *Client) EvaluationsBySets(ctx context.Context, key ruleengine.Key, sets []string, attrs ruleengine.Attributes) []evaluator.Result {
	sets = cleanNames(sets)
	if len(sets) == 0 || !c.usable(key) {
		return nil
	}

	results := c.evaluator.EvaluateBySets(ctx, key, sets, attrs)
	c.track(key, results)
	return results
}

func (c *Client) usable(key ruleengine.Key) bool {
	if c.destroyed.Load() {
		c.logger.Warn("evaluation requested on a destroyed client")
		return false
	}
	return strings.TrimSpace(key.MatchingKey) != ""
}

func (c *Client) track(key ruleengine.Key, results []evaluator.Result) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.destroyed.Load() {
		c.logger.Warn("dropping impressions of an evaluation that finished after destroy",
			slog.Int("results", len(results)),
		)
		return
	}

	imps := make([]*impressions.Impression, 0, len(results))
	for _, res := range results {
		if imp := c.manager.Build(res, key); imp != nil {
			imps = append(imps, imp)
		}
	}
	if len(imps) > 0 {
		c.manager.TrackAsync(imps)
	}
}

func (c *Client) tasks() []*task.Periodic {
	out := make([]*task.Periodic, 0, 4)
	if c.impressionsTask != nil {
		out = append(out, c.impressionsTask)
	}
	return append(out, c.countsTask, c.uniqueKeysTask, c.filterResetTask)
}

// stopAndFlush stops t with its final flush, flushing directly when t was
// never started.
func stopAndFlush(ctx context.Context, t *task.Periodic) error {
	if t.IsRunning() {
		return t.Stop(ctx)
	}
	return t.Flush(ctx)
}

func cleanNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func controlResults(names []string) []evaluator.Result {
	out := make([]evaluator.Result, len(names))
	for i, n := range names {
		out[i] = evaluator.Result{FlagName: n, Treatment: ruleengine.TreatmentControl}
	}
	return out
}

func withConfig(results []evaluator.Result) map[string]TreatmentResult {
	out := make(map[string]TreatmentResult, len(results))
	for _, res := range results {
		out[res.FlagName] = TreatmentResult{Treatment: res.Treatment, Config: res.Config}
	}
	return out
}

func treatmentsOnly(results map[string]TreatmentResult) map[string]string {
	out := make(map[string]string, len(results))
	for name, res := range results {
		out[name] = res.Treatment
	}
	return out
}
