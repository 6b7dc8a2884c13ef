package hash

import (
	"github.com/OneOfOne/xxhash"
	"github.com/dchest/siphash"
)

// bucketSeed - Seed for the bucket hash functions
const bucketSeed uint32 = 0x9747b28c

// fragmentKey0, fragmentKey1 - Fixed SipHash keys for the hash fragment
const (
	fragmentKey0 uint64 = 0x0706050403020100
	fragmentKey1 uint64 = 0x0f0e0d0c0b0a0908
)

// BucketHashAlgorithm - The internally used bucket selection algorithm.
// Bucket numbers are derived from a seeded Murmur32 hash over the key, or from a seeded 64-bit xxHash when the
// database uses 64-bit bucket slots, and applying bucket = hash % tableSize.
// The one byte hash fragment stored in each record cell is the low byte of a SipHash over the key, which keeps it
// independent of the bucket number.
type BucketHashAlgorithm struct {
	tableSize int64
	large     bool
}

// NewBucketHashAlgorithm - Returns a pointer to a new BucketHashAlgorithm instance
//   - tableSize is the number of buckets to distribute over
//   - large selects the 64-bit bucket hash
func NewBucketHashAlgorithm(tableSize int64, large bool) *BucketHashAlgorithm {
	return &BucketHashAlgorithm{tableSize: tableSize, large: large}
}

// SetTableSize - Sets the number of buckets to distribute over
func (B *BucketHashAlgorithm) SetTableSize(tableSize int64) {
	B.tableSize = tableSize
}

// GetTableSize - Returns the number of buckets distributed over
func (B *BucketHashAlgorithm) GetTableSize() int64 {
	return B.tableSize
}

// HashFunc1 - Given key it generates a bucket number between 0 and table size - 1
func (B *BucketHashAlgorithm) HashFunc1(key []byte) int64 {
	if B.tableSize <= 0 {
		return 0
	}

	if B.large {
		h := xxhash.NewS64(uint64(bucketSeed))
		_, _ = h.Write(key)
		return int64(h.Sum64() % uint64(B.tableSize))
	}

	return int64(uint64(Murmur32(key, bucketSeed)) % uint64(B.tableSize))
}

// HashFunc2 - Given key it generates the one byte hash fragment
func (B *BucketHashAlgorithm) HashFunc2(key []byte) uint8 {
	return uint8(siphash.Hash(fragmentKey0, fragmentKey1, key))
}
