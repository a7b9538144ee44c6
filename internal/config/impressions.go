package config

import (
	"fmt"
	"time"
)

// Impressions modes.
const (
	ImpressionsModeOptimized = "optimized"
	ImpressionsModeDebug     = "debug"
	ImpressionsModeNone      = "none"
)

// minOptimizedRefreshRate is the shortest impressions flush period allowed in
// optimized mode. Shorter configured values are raised to it.
const minOptimizedRefreshRate = 60 * time.Second

// ImpressionsConfig configures the impressions, counts and unique keys pipelines.
type ImpressionsConfig struct {
	Mode string `envconfig:"MODE" default:"optimized" validate:"oneof=optimized debug none"`

	// Impressions queue
	QueueSize      int           `envconfig:"QUEUE_SIZE" default:"10000" validate:"min=1"`
	RefreshRate    time.Duration `envconfig:"REFRESH_RATE" default:"60s"`
	BulkSize       int           `envconfig:"BULK_SIZE" default:"5000" validate:"min=1"`
	DedupCacheSize int           `envconfig:"DEDUP_CACHE_SIZE" default:"500000" validate:"min=1"`

	// Impression counts
	CountRefreshRate time.Duration `envconfig:"COUNT_REFRESH_RATE" default:"30m"`

	// Unique keys
	UniqueKeysRefreshRate   time.Duration `envconfig:"UNIQUE_KEYS_REFRESH_RATE" default:"15m"`
	UniqueKeysBulkSize      int           `envconfig:"UNIQUE_KEYS_BULK_SIZE" default:"5000" validate:"min=1"`
	UniqueKeysMaxCacheSize  int           `envconfig:"UNIQUE_KEYS_MAX_CACHE_SIZE" default:"30000" validate:"min=1"`
	FilterExpectedElements  uint          `envconfig:"FILTER_EXPECTED_ELEMENTS" default:"10000000" validate:"min=1"`
	FilterFalsePositiveRate float64       `envconfig:"FILTER_FALSE_POSITIVE_RATE" default:"0.01" validate:"gt=0,lt=1"`
	FilterResetInterval     time.Duration `envconfig:"FILTER_RESET_INTERVAL" default:"24h"`
}

// Validate checks ImpressionsConfig periods.
func (c *ImpressionsConfig) Validate() error {
	periods := []struct {
		name  string
		value time.Duration
	}{
		{"impressions refresh rate", c.RefreshRate},
		{"impression counts refresh rate", c.CountRefreshRate},
		{"unique keys refresh rate", c.UniqueKeysRefreshRate},
		{"filter reset interval", c.FilterResetInterval},
	}
	for _, p := range periods {
		if p.value < time.Second {
			return fmt.Errorf("%s must be at least 1s, got %s", p.name, p.value)
		}
	}
	return nil
}

// EffectiveRefreshRate returns the impressions flush period for the mode.
func (c *ImpressionsConfig) EffectiveRefreshRate() time.Duration {
	if c.Mode == ImpressionsModeOptimized && c.RefreshRate < minOptimizedRefreshRate {
		return minOptimizedRefreshRate
	}
	return c.RefreshRate
}
