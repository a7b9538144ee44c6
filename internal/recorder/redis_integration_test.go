//go:build integration

package recorder_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/recorder"
	"github.com/rafaeljc/bifrost/internal/testsupport"
)

func TestRedisRecorder_Integration(t *testing.T) {
	// 1. Infrastructure Setup
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	client := redisCtr.Client
	meta := recorder.Metadata{SDKVersion: "go-bifrost-test", MachineIP: "127.0.0.1", MachineName: "ci"}

	// System Under Test (SUT)
	rec := recorder.NewRedisRecorder(nil, client, "app", meta)

	// -------------------------------------------------------------------------
	// SCENARIO 1: Impressions are appended with metadata and a TTL
	// -------------------------------------------------------------------------
	t.Run("Should push one entry per impression", func(t *testing.T) {
		err := rec.RecordImpressions(ctx, []recorder.ImpressionsDTO{{
			FlagName: "checkout",
			KeyImpressions: []recorder.KeyImpression{
				{KeyName: "u1", Treatment: "on", Time: 1, ChangeNumber: 2, Label: "rule"},
				{KeyName: "u2", Treatment: "off", Time: 3, ChangeNumber: 2, Label: "rule"},
			},
		}})
		require.NoError(t, err)

		raw, err := client.LRange(ctx, "app."+recorder.ImpressionsKey, 0, -1).Result()
		require.NoError(t, err)
		require.Len(t, raw, 2)

		var entry struct {
			M recorder.Metadata `json:"m"`
			I map[string]any    `json:"i"`
		}
		require.NoError(t, json.Unmarshal([]byte(raw[0]), &entry))
		assert.Equal(t, meta, entry.M)
		assert.Equal(t, "checkout", entry.I["f"])
		assert.Equal(t, "u1", entry.I["k"])

		ttl, err := client.TTL(ctx, "app."+recorder.ImpressionsKey).Result()
		require.NoError(t, err)
		assert.Positive(t, ttl.Seconds())
	})

	// -------------------------------------------------------------------------
	// SCENARIO 2: Counts accumulate across calls
	// -------------------------------------------------------------------------
	t.Run("Should increment hash counters", func(t *testing.T) {
		payload := recorder.ImpressionCountsPayload{PerFlag: []recorder.ImpressionCount{
			{FlagName: "checkout", TimeFrame: 3_600_000, Count: 3},
		}}
		require.NoError(t, rec.RecordImpressionCounts(ctx, payload))
		require.NoError(t, rec.RecordImpressionCounts(ctx, payload))

		got, err := client.HGet(ctx, "app."+recorder.ImpressionsCountKey, "checkout::3600000").Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(6), got)
	})

	// -------------------------------------------------------------------------
	// SCENARIO 3: Unique keys
	// -------------------------------------------------------------------------
	t.Run("Should push one entry per flag", func(t *testing.T) {
		err := rec.RecordUniqueKeys(ctx, recorder.UniqueKeysPayload{Keys: []recorder.UniqueKeys{
			{FlagName: "checkout", Keys: []string{"u1", "u2"}},
		}})
		require.NoError(t, err)

		raw, err := client.LRange(ctx, "app."+recorder.UniqueKeysKey, 0, -1).Result()
		require.NoError(t, err)
		require.Len(t, raw, 1)
		assert.JSONEq(t, `{"f":"checkout","ks":["u1","u2"]}`, raw[0])
	})
}
