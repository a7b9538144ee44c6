// Package storage provides the rule storage adapters consumed by the
// evaluator: an in-memory store and a Redis store fronted by an otter L1.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/internal/definition"
	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/ruleengine"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Redis key layout shared with the synchronizer that populates the storage.
const (
	FlagKeyPrefix    = "SPLITIO.split."
	FlagSetKeyPrefix = "SPLITIO.flagSet."
	SegmentKeyPrefix = "SPLITIO.segment."
)

// DefaultLookupTimeout bounds a single Redis read when none is configured.
const DefaultLookupTimeout = 500 * time.Millisecond

// RedisOptions configures a RedisStorage.
type RedisOptions struct {
	// Prefix, when not empty, is prepended to every key as "prefix.".
	Prefix string
	// Cache is the L1 of compiled flags. Nil disables it.
	Cache *FlagCache
	// LookupTimeout bounds each Redis round trip.
	LookupTimeout time.Duration
}

// RedisStorage reads JSON flag definitions and segment sets from Redis and
// compiles flags on first use.
type RedisStorage struct {
	logger        *slog.Logger
	client        *redis.Client
	prefix        string
	cache         *FlagCache
	lookupTimeout time.Duration
}

// NewRedisStorage creates a storage over client. It panics if client is nil.
func NewRedisStorage(logger *slog.Logger, client *redis.Client, opts RedisOptions) *RedisStorage {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotNil(client, "storage: redis client")
	timeout := opts.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &RedisStorage{
		logger:        logger,
		client:        client,
		prefix:        opts.Prefix,
		cache:         opts.Cache,
		lookupTimeout: timeout,
	}
}

// Flag returns the compiled flag, or nil when it does not exist or is archived.
func (s *RedisStorage) Flag(ctx context.Context, name string) (*ruleengine.Flag, error) {
	if s.cache != nil {
		if flag, ok := s.cache.Get(name); ok {
			return flag, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(FlagKeyPrefix+name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		observability.StorageLookupErrors.WithLabelValues("flag").Inc()
		return nil, fmt.Errorf("failed to read flag %q: %w", name, err)
	}

	return s.compile(name, raw)
}

// Flags returns the existing flags among names with a single MGET for the
// ones missing from the L1. Flags that fail to decode are reported through a
// ruleengine.FlagErrors returned together with the others.
func (s *RedisStorage) Flags(ctx context.Context, names []string) (map[string]*ruleengine.Flag, error) {
	out := make(map[string]*ruleengine.Flag, len(names))

	missing := make([]string, 0, len(names))
	for _, name := range names {
		if s.cache != nil {
			if flag, ok := s.cache.Get(name); ok {
				out[name] = flag
				continue
			}
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return out, nil
	}

	keys := make([]string, len(missing))
	for i, name := range missing {
		keys[i] = s.key(FlagKeyPrefix + name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		observability.StorageLookupErrors.WithLabelValues("flags").Inc()
		return nil, fmt.Errorf("failed to read %d flags: %w", len(keys), err)
	}

	var failed ruleengine.FlagErrors
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		flag, err := s.compile(missing[i], raw)
		if err != nil {
			if failed == nil {
				failed = make(ruleengine.FlagErrors)
			}
			failed[missing[i]] = err
			continue
		}
		if flag != nil {
			out[missing[i]] = flag
		}
	}
	if len(failed) > 0 {
		return out, failed
	}
	return out, nil
}

// FlagNamesBySets returns the members of each flag set, in set order.
func (s *RedisStorage) FlagNamesBySets(ctx context.Context, sets []string) ([]string, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(sets))
	for i, set := range sets {
		cmds[i] = pipe.SMembers(ctx, s.key(FlagSetKeyPrefix+set))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		observability.StorageLookupErrors.WithLabelValues("flag_sets").Inc()
		return nil, fmt.Errorf("failed to read flag sets: %w", err)
	}

	var out []string
	for _, cmd := range cmds {
		names := cmd.Val()
		slices.Sort(names)
		out = append(out, names...)
	}
	return out, nil
}

// IsInSegment reports whether key is a member of segment.
func (s *RedisStorage) IsInSegment(ctx context.Context, segment, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	ok, err := s.client.SIsMember(ctx, s.key(SegmentKeyPrefix+segment), key).Result()
	if err != nil {
		observability.StorageLookupErrors.WithLabelValues("segment").Inc()
		return false, fmt.Errorf("failed to read segment %q: %w", segment, err)
	}
	return ok, nil
}

func (s *RedisStorage) compile(name, raw string) (*ruleengine.Flag, error) {
	var def definition.Flag
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		observability.StorageLookupErrors.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("failed to decode flag %q: %w", name, err)
	}
	if def.Status == definition.StatusArchived {
		return nil, nil
	}

	flag := ruleengine.Compile(&def, s.logger)
	if s.cache != nil {
		s.cache.Set(name, flag)
	}
	return flag, nil
}

func (s *RedisStorage) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "." + name
}
