package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/validation"
)

// Redis keys of the shared telemetry layout.
const (
	ImpressionsKey      = "SPLITIO.impressions"
	ImpressionsCountKey = "SPLITIO.impressions.count"
	UniqueKeysKey       = "SPLITIO.uniquekeys"

	// keyTTL is set when a push creates the key, so abandoned data expires.
	keyTTL = time.Hour
)

// Metadata identifies the process producing the telemetry.
type Metadata struct {
	SDKVersion  string `json:"s"`
	MachineIP   string `json:"i"`
	MachineName string `json:"n"`
}

// NewMetadata fills unknown fields: the machine name defaults to the hostname
// (or a random instance id) and the IP to "NA".
func NewMetadata(sdkVersion, machineIP, machineName string) Metadata {
	if machineName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			machineName = host
		} else {
			machineName = "bifrost-" + uuid.NewString()
		}
	}
	if machineIP == "" {
		machineIP = "NA"
	}
	return Metadata{SDKVersion: sdkVersion, MachineIP: machineIP, MachineName: machineName}
}

// storedImpression is one list entry under ImpressionsKey.
type storedImpression struct {
	Metadata   Metadata            `json:"m"`
	Impression storedKeyImpression `json:"i"`
}

type storedKeyImpression struct {
	KeyName      string `json:"k"`
	BucketingKey string `json:"b,omitempty"`
	FlagName     string `json:"f"`
	Treatment    string `json:"t"`
	Label        string `json:"r"`
	ChangeNumber int64  `json:"c"`
	Time         int64  `json:"m"`
	PreviousTime *int64 `json:"pt,omitempty"`
}

// RedisRecorder pushes telemetry into Redis, where a synchronizer process
// picks it up and forwards it.
type RedisRecorder struct {
	logger   *slog.Logger
	client   *redis.Client
	prefix   string
	metadata Metadata
}

// NewRedisRecorder creates a recorder. prefix, when not empty, is prepended to
// every key as "prefix.". It panics if client is nil.
func NewRedisRecorder(logger *slog.Logger, client *redis.Client, prefix string, metadata Metadata) *RedisRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotNil(client, "recorder: redis client")
	return &RedisRecorder{
		logger:   logger,
		client:   client,
		prefix:   prefix,
		metadata: metadata,
	}
}

// RecordImpressions appends one entry per impression to the impressions list.
func (r *RedisRecorder) RecordImpressions(ctx context.Context, impressions []ImpressionsDTO) error {
	entries, err := encodeImpressions(r.metadata, impressions)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return r.push(ctx, r.key(ImpressionsKey), entries)
}

// RecordImpressionCounts increments the per flag and hour counters.
func (r *RedisRecorder) RecordImpressionCounts(ctx context.Context, counts ImpressionCountsPayload) error {
	if len(counts.PerFlag) == 0 {
		return nil
	}

	key := r.key(ImpressionsCountKey)
	pipe := r.client.TxPipeline()
	for _, c := range counts.PerFlag {
		pipe.HIncrBy(ctx, key, countField(c), c.Count)
	}
	hlen := pipe.HLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment impression counts: %w", err)
	}

	if hlen.Val() == int64(len(counts.PerFlag)) {
		r.expire(ctx, key)
	}
	return nil
}

// RecordUniqueKeys appends one entry per flag to the unique keys list.
func (r *RedisRecorder) RecordUniqueKeys(ctx context.Context, keys UniqueKeysPayload) error {
	entries, err := encodeUniqueKeys(keys)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return r.push(ctx, r.key(UniqueKeysKey), entries)
}

func (r *RedisRecorder) push(ctx context.Context, key string, entries []any) error {
	n, err := r.client.RPush(ctx, key, entries...).Result()
	if err != nil {
		return fmt.Errorf("failed to push %d entries to %q: %w", len(entries), key, err)
	}
	// The list did not exist before this push.
	if n == int64(len(entries)) {
		r.expire(ctx, key)
	}
	return nil
}

func (r *RedisRecorder) expire(ctx context.Context, key string) {
	if err := r.client.Expire(ctx, key, keyTTL).Err(); err != nil {
		r.logger.Warn("failed to set telemetry key ttl",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (r *RedisRecorder) key(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + "." + name
}

func countField(c ImpressionCount) string {
	return c.FlagName + "::" + strconv.FormatInt(c.TimeFrame, 10)
}

func encodeImpressions(meta Metadata, impressions []ImpressionsDTO) ([]any, error) {
	var entries []any
	for _, group := range impressions {
		for _, ki := range group.KeyImpressions {
			raw, err := json.Marshal(storedImpression{
				Metadata: meta,
				Impression: storedKeyImpression{
					KeyName:      ki.KeyName,
					BucketingKey: ki.BucketingKey,
					FlagName:     group.FlagName,
					Treatment:    ki.Treatment,
					Label:        ki.Label,
					ChangeNumber: ki.ChangeNumber,
					Time:         ki.Time,
					PreviousTime: ki.PreviousTime,
				},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode impression: %w", err)
			}
			entries = append(entries, string(raw))
		}
	}
	return entries, nil
}

func encodeUniqueKeys(keys UniqueKeysPayload) ([]any, error) {
	entries := make([]any, 0, len(keys.Keys))
	for _, uk := range keys.Keys {
		raw, err := json.Marshal(uk)
		if err != nil {
			return nil, fmt.Errorf("failed to encode unique keys: %w", err)
		}
		entries = append(entries, string(raw))
	}
	return entries, nil
}
