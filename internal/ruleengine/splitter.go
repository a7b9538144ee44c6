package ruleengine

import (
	"unicode/utf16"

	"github.com/spaolacci/murmur3"
)

// The functions in this file must stay bit-identical with every other
// implementation sharing the same rule definitions. Do not change sign
// handling, rounding or hash constants.

// Hash computes the 32-bit hash of key for the given seed and algorithm,
// widened to int64. Murmur hashes are unsigned, legacy hashes are signed.
// Unknown algorithms fall back to AlgorithmLegacy, the wire default.
func Hash(key string, seed int32, algo Algorithm) int64 {
	if algo == AlgorithmMurmur {
		return int64(murmurHash(key, seed))
	}
	return int64(legacyHash(key, seed))
}

// Bucket maps key to an integer in [0, 99].
func Bucket(key string, seed int32, algo Algorithm) int {
	// 64-bit arithmetic keeps math.MinInt32 well defined.
	b := Hash(key, seed, algo) % 100
	if b < 0 {
		b = -b
	}
	return int(b)
}

// TreatmentFor picks the treatment whose cumulative range contains the key's
// bucket. If the partitions do not add up to 100 the last partition wins.
func TreatmentFor(key string, seed int32, partitions []Partition, algo Algorithm) string {
	if len(partitions) == 0 {
		return TreatmentControl
	}
	if len(partitions) == 1 && partitions[0].Size == 100 {
		return partitions[0].Treatment
	}

	bucket := Bucket(key, seed, algo)

	var cumulative int32
	for _, p := range partitions {
		cumulative += p.Size
		if int32(bucket) < cumulative {
			return p.Treatment
		}
	}

	return partitions[len(partitions)-1].Treatment
}

// murmurHash hashes the UTF-8 bytes of key with MurmurHash3 x86_32.
func murmurHash(key string, seed int32) uint32 {
	return murmur3.Sum32WithSeed([]byte(key), uint32(seed))
}

// legacyHash is the Java String.hashCode recurrence over UTF-16 code units,
// xor-ed with the seed. Overflow wraps at 32 bits.
func legacyHash(key string, seed int32) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(key)) {
		h = 31*h + int32(unit)
	}
	return h ^ seed
}
