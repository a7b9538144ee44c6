package ruleengine

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

// generateRandomID returns a cryptographically random key so distribution
// tests are not biased by sequential patterns.
func generateRandomID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}

// TestHash_KnownVectors pins the hash output against reference values shared
// with other implementations.
func TestHash_KnownVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		key        string
		seed       int32
		algo       Algorithm
		wantHash   int64
		wantBucket int
	}{
		{name: "murmur reference vector", key: "hello", seed: 0, algo: AlgorithmMurmur, wantHash: 0x248bfa47, wantBucket: 51},
		{name: "murmur hash above int32 range", key: "user-123", seed: 0, algo: AlgorithmMurmur, wantHash: 2674956871, wantBucket: 71},
		{name: "murmur negative seed", key: "aaaaaaaa", seed: -1234567, algo: AlgorithmMurmur, wantHash: 3382152404, wantBucket: 4},
		{name: "murmur top bit set", key: "user-123", seed: 58, algo: AlgorithmMurmur, wantHash: 2782959178, wantBucket: 78},
		{name: "murmur large seed", key: "key", seed: 467569525, algo: AlgorithmMurmur, wantHash: 1484278420, wantBucket: 20},
		{name: "legacy negative hash", key: "user-123", seed: 0, algo: AlgorithmLegacy, wantHash: -267697872, wantBucket: 72},
		{name: "legacy email key", key: "pato@split.io", seed: 1, algo: AlgorithmLegacy, wantHash: 1163976207, wantBucket: 7},
		{name: "legacy short key", key: "ab", seed: 31, algo: AlgorithmLegacy, wantHash: 3134, wantBucket: 34},
		{name: "legacy uses utf16 code units", key: "日本", seed: 0, algo: AlgorithmLegacy, wantHash: 835047, wantBucket: 47},
		{name: "unknown algorithm falls back to legacy", key: "ab", seed: 31, algo: Algorithm(0), wantHash: 3134, wantBucket: 34},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.wantHash, Hash(tt.key, tt.seed, tt.algo))
			assert.Equal(t, tt.wantBucket, Bucket(tt.key, tt.seed, tt.algo))
		})
	}
}

func TestBucket_DeterministicAndInRange(t *testing.T) {
	t.Parallel()

	for range 5_000 {
		key := generateRandomID()
		for _, algo := range []Algorithm{AlgorithmLegacy, AlgorithmMurmur} {
			first := Bucket(key, 42, algo)
			second := Bucket(key, 42, algo)

			if first != second {
				t.Fatalf("bucket for %q is not deterministic: %d != %d", key, first, second)
			}
			if first < 0 || first > 99 {
				t.Fatalf("bucket for %q out of range: %d", key, first)
			}
		}
	}
}

func TestBucket_Distribution(t *testing.T) {
	t.Parallel()

	// Arrange
	const samples = 100_000
	counts := make([]int, 100)

	// Act
	for range samples {
		counts[Bucket(generateRandomID(), 7, AlgorithmMurmur)]++
	}

	// Assert: every bucket should hold roughly 1% of the traffic.
	for bucket, c := range counts {
		assert.InDelta(t, samples/100, c, 250, "bucket %d is skewed", bucket)
	}
}

func TestTreatmentFor(t *testing.T) {
	t.Parallel()

	t.Run("zero-sized first partition never wins", func(t *testing.T) {
		t.Parallel()

		partitions := []Partition{{Treatment: "off", Size: 0}, {Treatment: "on", Size: 100}}
		for range 2_000 {
			assert.Equal(t, "on", TreatmentFor(generateRandomID(), 99, partitions, AlgorithmMurmur))
		}
	})

	t.Run("zero-sized last partition never wins", func(t *testing.T) {
		t.Parallel()

		partitions := []Partition{{Treatment: "on", Size: 0}, {Treatment: "off", Size: 100}}
		for range 2_000 {
			assert.Equal(t, "off", TreatmentFor(generateRandomID(), 99, partitions, AlgorithmLegacy))
		}
	})

	t.Run("cumulative ranges follow the bucket", func(t *testing.T) {
		t.Parallel()

		// "user-123" with seed 0 and murmur lands in bucket 71.
		partitions := []Partition{{Treatment: "a", Size: 71}, {Treatment: "b", Size: 1}, {Treatment: "c", Size: 28}}
		assert.Equal(t, "b", TreatmentFor("user-123", 0, partitions, AlgorithmMurmur))

		partitions = []Partition{{Treatment: "a", Size: 72}, {Treatment: "b", Size: 28}}
		assert.Equal(t, "a", TreatmentFor("user-123", 0, partitions, AlgorithmMurmur))
	})

	t.Run("malformed partitions fall back to the last one", func(t *testing.T) {
		t.Parallel()

		partitions := []Partition{{Treatment: "a", Size: 10}, {Treatment: "b", Size: 10}}
		// bucket 71 is beyond the cumulative 20.
		assert.Equal(t, "b", TreatmentFor("user-123", 0, partitions, AlgorithmMurmur))
	})

	t.Run("no partitions yields control", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, TreatmentControl, TreatmentFor("user-123", 0, nil, AlgorithmMurmur))
	})
}

func TestKey_Bucketing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "m", NewKey("m").Bucketing())
	assert.Equal(t, "b", Key{MatchingKey: "m", BucketingKey: "b"}.Bucketing())
}
