package storage

import (
	"context"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
)

// FlagCache is the in-process L1 of compiled flags in front of Redis.
// Entries expire after a TTL so updates in Redis are picked up eventually.
type FlagCache struct {
	store otter.Cache[string, *ruleengine.Flag]
}

// NewFlagCache builds a cache bounded to capacity entries.
func NewFlagCache(capacity int, ttl time.Duration) (*FlagCache, error) {
	cache, err := otter.MustBuilder[string, *ruleengine.Flag](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &FlagCache{store: cache}, nil
}

// Get returns the compiled flag stored under name.
func (c *FlagCache) Get(name string) (*ruleengine.Flag, bool) {
	flag, ok := c.store.Get(name)
	if ok {
		observability.StorageCacheHits.Inc()
	} else {
		observability.StorageCacheMisses.Inc()
	}
	return flag, ok
}

// Set stores a compiled flag.
func (c *FlagCache) Set(name string, flag *ruleengine.Flag) {
	c.store.Set(name, flag)
}

// Len returns the number of cached flags.
func (c *FlagCache) Len() int {
	return c.store.Size()
}

// RunMetricsCollector publishes the cache size every interval until ctx is done.
func (c *FlagCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.StorageCacheUsage.Set(float64(c.Len()))
		}
	}
}

// Close stops the cache's background goroutines.
func (c *FlagCache) Close() {
	c.store.Close()
}
