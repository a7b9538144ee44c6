package recorder

import (
	"context"
	"log/slog"
)

// LogRecorder writes telemetry to the logger at debug level. It is the sink
// for deployments without a Redis to deliver to.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

// RecordImpressions logs one line per flag.
func (r *LogRecorder) RecordImpressions(ctx context.Context, impressions []ImpressionsDTO) error {
	for _, group := range impressions {
		r.logger.DebugContext(ctx, "impressions",
			slog.String("flag", group.FlagName),
			slog.Any("impressions", group.KeyImpressions),
		)
	}
	return nil
}

// RecordImpressionCounts logs the counts payload.
func (r *LogRecorder) RecordImpressionCounts(ctx context.Context, counts ImpressionCountsPayload) error {
	if len(counts.PerFlag) > 0 {
		r.logger.DebugContext(ctx, "impression counts", slog.Any("counts", counts.PerFlag))
	}
	return nil
}

// RecordUniqueKeys logs one line per flag.
func (r *LogRecorder) RecordUniqueKeys(ctx context.Context, keys UniqueKeysPayload) error {
	for _, uk := range keys.Keys {
		r.logger.DebugContext(ctx, "unique keys",
			slog.String("flag", uk.FlagName),
			slog.Int("count", len(uk.Keys)),
		)
	}
	return nil
}
