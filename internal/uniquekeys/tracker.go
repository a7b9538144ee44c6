// Package uniquekeys records which matching keys were evaluated for each flag.
// A bloom filter guards the accumulation so a (flag, key) pair is recorded once
// per filter window, no matter how often it is evaluated.
package uniquekeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/recorder"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Config holds the tracker settings.
type Config struct {
	// ExpectedElements and FalsePositiveRate size the bloom filter.
	ExpectedElements  uint
	FalsePositiveRate float64
	// MaxCacheSize is the number of buffered keys that triggers an early flush.
	MaxCacheSize int
	// BulkSize caps the number of keys per upload.
	BulkSize int
}

// Tracker is safe for concurrent use.
type Tracker struct {
	logger   *slog.Logger
	recorder recorder.Recorder
	maxSize  int
	bulkSize int

	mu     sync.Mutex
	filter *bloom.BloomFilter
	keys   map[string]map[string]struct{}
	size   int

	onFull func()
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithFullHook registers a callback run when the buffer reaches MaxCacheSize.
func WithFullHook(fn func()) Option {
	return func(t *Tracker) {
		t.onFull = fn
	}
}

// New creates a Tracker. It panics if rec is nil.
func New(logger *slog.Logger, cfg Config, rec recorder.Recorder, opts ...Option) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertImplemented(rec, "uniquekeys: recorder")
	if cfg.ExpectedElements == 0 {
		return nil, fmt.Errorf("unique keys filter expected elements must be positive")
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		return nil, fmt.Errorf("unique keys filter false positive rate must be in (0,1), got %v", cfg.FalsePositiveRate)
	}

	t := &Tracker{
		logger:   logger.With(slog.String("component", "unique_keys")),
		recorder: rec,
		maxSize:  cfg.MaxCacheSize,
		bulkSize: cfg.BulkSize,
		filter:   bloom.NewWithEstimates(cfg.ExpectedElements, cfg.FalsePositiveRate),
		keys:     make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Track records key for flag unless the filter has already seen the pair.
// It reports whether the key was recorded.
func (t *Tracker) Track(flag, key string) bool {
	t.mu.Lock()
	if t.filter.TestAndAddString(flag + "::" + key) {
		t.mu.Unlock()
		return false
	}

	set, ok := t.keys[flag]
	if !ok {
		set = make(map[string]struct{})
		t.keys[flag] = set
	}
	set[key] = struct{}{}
	t.size++
	full := t.maxSize > 0 && t.size >= t.maxSize
	t.mu.Unlock()

	if full && t.onFull != nil {
		t.onFull()
	}
	return true
}

// Pop returns the buffered keys and starts a new buffer. The filter is kept.
func (t *Tracker) Pop() map[string]map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.keys
	t.keys = make(map[string]map[string]struct{})
	t.size = 0
	return keys
}

// Len returns the number of buffered keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// ResetFilter clears the bloom filter so every pair can be recorded again.
func (t *Tracker) ResetFilter() {
	t.mu.Lock()
	t.filter.ClearAll()
	t.mu.Unlock()

	t.logger.Debug("unique keys filter cleared")
}

// Flush pops the buffer and uploads it in chunks of at most BulkSize keys.
// A failed chunk is not retried.
func (t *Tracker) Flush(ctx context.Context) error {
	keys := t.Pop()
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.FlushDuration.WithLabelValues("unique_keys").Observe(time.Since(start).Seconds())
	}()

	var errs []error
	for _, payload := range chunkKeys(keys, t.bulkSize) {
		if err := t.recorder.RecordUniqueKeys(ctx, payload); err != nil {
			observability.FlushesTotal.WithLabelValues("unique_keys", "fail").Inc()
			errs = append(errs, fmt.Errorf("failed to record unique keys: %w", err))
			continue
		}
		observability.FlushesTotal.WithLabelValues("unique_keys", "success").Inc()
	}
	return errors.Join(errs...)
}

// chunkKeys splits the snapshot into payloads of at most size keys. A flag
// with more keys than size spans several payloads. Flags and keys are sorted
// so uploads are deterministic.
func chunkKeys(keys map[string]map[string]struct{}, size int) []recorder.UniqueKeysPayload {
	flags := make([]string, 0, len(keys))
	for f := range keys {
		flags = append(flags, f)
	}
	sort.Strings(flags)

	var (
		out     []recorder.UniqueKeysPayload
		current recorder.UniqueKeysPayload
		count   int
	)
	emit := func() {
		if len(current.Keys) > 0 {
			out = append(out, current)
		}
		current = recorder.UniqueKeysPayload{}
		count = 0
	}

	for _, f := range flags {
		sorted := make([]string, 0, len(keys[f]))
		for k := range keys[f] {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)

		for len(sorted) > 0 {
			if size > 0 && count >= size {
				emit()
			}
			take := len(sorted)
			if size > 0 && take > size-count {
				take = size - count
			}
			current.Keys = append(current.Keys, recorder.UniqueKeys{FlagName: f, Keys: sorted[:take]})
			count += take
			sorted = sorted[take:]
		}
	}
	emit()
	return out
}
