//go:build unit

package hash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMurmur32(t *testing.T) {
	t.Run("matches reference values", func(t *testing.T) {
		// Execute and Check
		assert.Equal(t, uint32(0), Murmur32([]byte{}, 0), "empty input with zero seed")
		assert.Equal(t, uint32(0x514e28b7), Murmur32([]byte{}, 1), "empty input with seed one")
		assert.Equal(t, uint32(0x248bfa47), Murmur32([]byte("hello"), 0), "short input")
	})

	t.Run("handles every tail length", func(t *testing.T) {
		// Prepare
		data := []byte("abcdefgh")
		seen := make(map[uint32]bool)

		// Execute
		for i := 0; i <= len(data); i++ {
			seen[Murmur32(data[:i], bucketSeed)] = true
		}

		// Check
		assert.Equal(t, len(data)+1, len(seen), "distinct hash for each prefix")
	})
}

func TestBucketHashAlgorithm_GetTableSize(t *testing.T) {
	t.Run("returns the table size as given", func(t *testing.T) {
		// Prepare
		h := NewBucketHashAlgorithm(1031, false)

		// Execute
		tableSize := h.GetTableSize()

		// Check
		assert.Equal(t, int64(1031), tableSize, "correct tableSize value")
	})
}

func TestBucketHashAlgorithm_SetTableSize(t *testing.T) {
	t.Run("sets table size", func(t *testing.T) {
		// Prepare
		h := NewBucketHashAlgorithm(10, false)

		// Execute
		h.SetTableSize(131071)

		// Check
		assert.Equal(t, int64(131071), h.GetTableSize(), "correct tableSize value")
	})
}

func TestBucketHashAlgorithm_HashFunc1(t *testing.T) {
	for _, large := range []bool{false, true} {
		t.Run(fmt.Sprintf("creates valid and stable bucket numbers with large %t", large), func(t *testing.T) {
			// Prepare
			h := NewBucketHashAlgorithm(17, large)
			used := make(map[int64]bool)

			for i := 0; i < 1000; i++ {
				key := []byte(fmt.Sprintf("key-%d", i))

				// Execute
				bucketNo := h.HashFunc1(key)

				// Check
				assert.GreaterOrEqual(t, bucketNo, int64(0), "bucket number not negative")
				assert.Less(t, bucketNo, int64(17), "bucket number within table")
				assert.Equal(t, bucketNo, h.HashFunc1(key), "bucket number is stable")
				used[bucketNo] = true
			}

			assert.Equal(t, 17, len(used), "all buckets are used")
		})
	}
}

func TestBucketHashAlgorithm_HashFunc2(t *testing.T) {
	t.Run("creates a stable spread fragment", func(t *testing.T) {
		// Prepare
		h := NewBucketHashAlgorithm(17, false)
		used := make(map[uint8]bool)

		// Execute
		for i := 0; i < 4096; i++ {
			key := []byte(fmt.Sprintf("key-%d", i))
			used[h.HashFunc2(key)] = true
			assert.Equal(t, h.HashFunc2(key), h.HashFunc2(key), "fragment is stable")
		}

		// Check
		assert.Greater(t, len(used), 200, "fragments spread over the byte range")
	})
}
