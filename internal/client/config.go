package client

import (
	"time"

	"github.com/rafaeljc/bifrost/internal/config"
	"github.com/rafaeljc/bifrost/internal/impressions"
	"github.com/rafaeljc/bifrost/internal/uniquekeys"
)

// Config sizes the telemetry pipeline and its flush schedule.
type Config struct {
	Impressions impressions.Config
	UniqueKeys  uniquekeys.Config

	ImpressionsRefreshRate time.Duration
	CountsRefreshRate      time.Duration
	UniqueKeysRefreshRate  time.Duration
	FilterResetInterval    time.Duration
}

// ConfigFrom maps the environment configuration onto a client Config.
func ConfigFrom(cfg *config.ImpressionsConfig) (Config, error) {
	mode, err := impressions.ParseMode(cfg.Mode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Impressions: impressions.Config{
			Mode:           mode,
			QueueSize:      cfg.QueueSize,
			BulkSize:       cfg.BulkSize,
			DedupCacheSize: cfg.DedupCacheSize,
		},
		UniqueKeys: uniquekeys.Config{
			ExpectedElements:  cfg.FilterExpectedElements,
			FalsePositiveRate: cfg.FilterFalsePositiveRate,
			MaxCacheSize:      cfg.UniqueKeysMaxCacheSize,
			BulkSize:          cfg.UniqueKeysBulkSize,
		},
		ImpressionsRefreshRate: cfg.EffectiveRefreshRate(),
		CountsRefreshRate:      cfg.CountRefreshRate,
		UniqueKeysRefreshRate:  cfg.UniqueKeysRefreshRate,
		FilterResetInterval:    cfg.FilterResetInterval,
	}, nil
}
