package impressions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rafaeljc/bifrost/internal/batch"
	"github.com/rafaeljc/bifrost/internal/evaluator"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/recorder"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Stats receives pipeline activity counts.
type Stats interface {
	Queued(n int)
	Dropped(n int)
	Deduplicated(n int)
	Counted(n int)
	UniqueKeys(n int)
}

// UniqueKeyTracker records that a key was evaluated for a flag. It reports
// whether the pair was new.
type UniqueKeyTracker interface {
	Track(flag, key string) bool
}

type noopStats struct{}

func (noopStats) Queued(int)       {}
func (noopStats) Dropped(int)      {}
func (noopStats) Deduplicated(int) {}
func (noopStats) Counted(int)      {}
func (noopStats) UniqueKeys(int)   {}

// Config holds the Manager settings.
type Config struct {
	Mode           Mode
	QueueSize      int
	BulkSize       int
	DedupCacheSize int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithStats sets the activity sink.
func WithStats(stats Stats) Option {
	return func(m *Manager) {
		if stats != nil {
			m.stats = stats
		}
	}
}

// WithClock replaces the epoch-milliseconds clock (used by tests).
func WithClock(now func() int64) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithQueueFullHook registers a callback run when a push leaves the queue full.
func WithQueueFullHook(fn func()) Option {
	return func(m *Manager) {
		m.onQueueFull = fn
	}
}

// Manager builds and routes impressions. All methods are safe for concurrent use
// and never panic into the caller.
type Manager struct {
	logger      *slog.Logger
	mode        Mode
	bulkSize    int
	observer    *Observer
	counter     *Counter
	uniqueKeys  UniqueKeyTracker
	queue       *batch.Queue[Impression]
	recorder    recorder.Recorder
	stats       Stats
	now         func() int64
	onQueueFull func()

	pending sync.WaitGroup
}

// NewManager creates a Manager. It panics if rec or uniqueKeys is nil.
func NewManager(logger *slog.Logger, cfg Config, rec recorder.Recorder, uniqueKeys UniqueKeyTracker, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertImplemented(rec, "impressions: recorder")
	validation.AssertImplemented(uniqueKeys, "impressions: unique keys tracker")
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("impressions queue size must be positive, got %d", cfg.QueueSize)
	}

	m := &Manager{
		logger:     logger.With(slog.String("component", "impressions")),
		mode:       cfg.Mode,
		bulkSize:   cfg.BulkSize,
		counter:    NewCounter(),
		uniqueKeys: uniqueKeys,
		queue:      batch.NewQueue[Impression](cfg.QueueSize),
		recorder:   rec,
		stats:      noopStats{},
		now:        func() int64 { return time.Now().UnixMilli() },
	}

	if m.mode != ModeNone {
		observer, err := NewObserver(cfg.DedupCacheSize)
		if err != nil {
			return nil, err
		}
		m.observer = observer
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Mode returns the configured mode.
func (m *Manager) Mode() Mode { return m.mode }

// Build converts an evaluation result into an impression and updates the
// dedup history, counters and unique keys according to the mode. It returns
// nil for results that produce no telemetry.
func (m *Manager) Build(res evaluator.Result, key ruleengine.Key) (imp *Impression) {
	if res.Label == ruleengine.LabelDefinitionNotFound {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while building impression",
				slog.String("flag", res.FlagName),
				slog.String("panic", fmt.Sprint(r)),
			)
			imp = nil
		}
	}()

	imp = &Impression{
		MatchingKey:  key.MatchingKey,
		BucketingKey: key.BucketingKey,
		FlagName:     res.FlagName,
		Treatment:    res.Treatment,
		Label:        res.Label,
		Time:         m.now(),
		ChangeNumber: res.ChangeNumber,
		Disabled:     res.ImpressionsDisabled,
	}

	if m.mode == ModeNone || imp.Disabled {
		m.count(imp.FlagName, imp.Time)
		if m.uniqueKeys.Track(imp.FlagName, imp.MatchingKey) {
			m.stats.UniqueKeys(1)
		}
		return imp
	}

	prev, seen := m.observer.TestAndSet(imp)
	if seen {
		imp.PreviousTime = &prev
	}

	if m.mode == ModeDebug {
		imp.ShouldQueue = true
		return imp
	}

	if seen {
		m.count(imp.FlagName, imp.Time)
	}
	imp.ShouldQueue = !seen || TruncateTimeFrame(prev) != TruncateTimeFrame(imp.Time)
	return imp
}

// Track queues the eligible impressions for upload. Disabled impressions,
// suppressed duplicates and every impression in ModeNone are skipped.
func (m *Manager) Track(imps []*Impression) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while tracking impressions", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if m.mode == ModeNone || len(imps) == 0 {
		return
	}

	eligible := make([]Impression, 0, len(imps))
	suppressed := 0
	for _, imp := range imps {
		if imp == nil || imp.Disabled {
			continue
		}
		if !imp.ShouldQueue {
			suppressed++
			continue
		}
		eligible = append(eligible, *imp)
	}

	if suppressed > 0 {
		m.stats.Deduplicated(suppressed)
	}
	if len(eligible) == 0 {
		return
	}

	queued, dropped := m.queue.PushMany(eligible)
	m.stats.Queued(queued)
	if dropped > 0 {
		m.stats.Dropped(dropped)
		m.logger.Warn("impressions queue full, dropping impressions", slog.Int("dropped", dropped))
	}

	if m.queue.IsFull() && m.onQueueFull != nil {
		m.onQueueFull()
	}
}

// TrackAsync runs Track in the background. Wait blocks until every pending
// call has finished.
func (m *Manager) TrackAsync(imps []*Impression) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		m.Track(imps)
	}()
}

// Wait blocks until all TrackAsync calls have completed.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// QueueLen returns the number of impressions waiting for upload.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// FlushImpressions drains the queue and uploads it in chunks of the bulk size.
// A failed chunk is not retried.
func (m *Manager) FlushImpressions(ctx context.Context) error {
	items := m.queue.Drain()
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.FlushDuration.WithLabelValues("impressions").Observe(time.Since(start).Seconds())
	}()

	var errs []error
	for _, chunk := range batch.Chunk(items, m.bulkSize) {
		if err := m.recorder.RecordImpressions(ctx, groupByFlag(chunk)); err != nil {
			observability.FlushesTotal.WithLabelValues("impressions", "fail").Inc()
			errs = append(errs, fmt.Errorf("failed to record %d impressions: %w", len(chunk), err))
			continue
		}
		observability.FlushesTotal.WithLabelValues("impressions", "success").Inc()
	}
	return errors.Join(errs...)
}

// FlushCounts pops the counter and uploads it in chunks of the bulk size.
func (m *Manager) FlushCounts(ctx context.Context) error {
	counts := m.counter.Pop()
	if len(counts) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.FlushDuration.WithLabelValues("counts").Observe(time.Since(start).Seconds())
	}()

	entries := make([]recorder.ImpressionCount, 0, len(counts))
	for k, v := range counts {
		entries = append(entries, recorder.ImpressionCount{FlagName: k.FlagName, TimeFrame: k.TimeFrame, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FlagName != entries[j].FlagName {
			return entries[i].FlagName < entries[j].FlagName
		}
		return entries[i].TimeFrame < entries[j].TimeFrame
	})

	var errs []error
	for _, chunk := range batch.Chunk(entries, m.bulkSize) {
		if err := m.recorder.RecordImpressionCounts(ctx, recorder.ImpressionCountsPayload{PerFlag: chunk}); err != nil {
			observability.FlushesTotal.WithLabelValues("counts", "fail").Inc()
			errs = append(errs, fmt.Errorf("failed to record %d impression counts: %w", len(chunk), err))
			continue
		}
		observability.FlushesTotal.WithLabelValues("counts", "success").Inc()
	}
	return errors.Join(errs...)
}

func (m *Manager) count(flag string, ms int64) {
	m.counter.Inc(flag, ms, 1)
	m.stats.Counted(1)
}

// groupByFlag converts impressions to the upload shape, keeping the order in
// which flags first appear.
func groupByFlag(items []Impression) []recorder.ImpressionsDTO {
	index := make(map[string]int)
	out := make([]recorder.ImpressionsDTO, 0)
	for _, imp := range items {
		i, ok := index[imp.FlagName]
		if !ok {
			i = len(out)
			index[imp.FlagName] = i
			out = append(out, recorder.ImpressionsDTO{FlagName: imp.FlagName})
		}
		out[i].KeyImpressions = append(out[i].KeyImpressions, recorder.KeyImpression{
			KeyName:      imp.MatchingKey,
			Treatment:    imp.Treatment,
			Time:         imp.Time,
			ChangeNumber: imp.ChangeNumber,
			Label:        imp.Label,
			BucketingKey: imp.BucketingKey,
			PreviousTime: imp.PreviousTime,
		})
	}
	return out
}
