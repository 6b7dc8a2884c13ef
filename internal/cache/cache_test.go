//go:build unit

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecords(t *testing.T) {
	t.Run("least recently used value is evicted", func(t *testing.T) {
		// Prepare
		R, err := NewRecords(2)
		require.NoError(t, err, "creates cache")
		R.Add([]byte("a"), []byte("1"))
		R.Add([]byte("b"), []byte("2"))
		_, _ = R.Get([]byte("a"))

		// Execute
		R.Add([]byte("c"), []byte("3"))

		// Check
		_, okA := R.Get([]byte("a"))
		_, okB := R.Get([]byte("b"))
		value, okC := R.Get([]byte("c"))
		assert.True(t, okA, "recently used kept")
		assert.False(t, okB, "least recently used evicted")
		assert.True(t, okC, "new value cached")
		assert.Equal(t, []byte("3"), value, "cached value")
	})

	t.Run("cached values do not share memory with callers", func(t *testing.T) {
		// Prepare
		R, err := NewRecords(2)
		require.NoError(t, err, "creates cache")
		value := []byte("value")
		R.Add([]byte("k"), value)

		// Execute
		value[0] = 'X'
		got, _ := R.Get([]byte("k"))
		got[1] = 'Y'
		again, _ := R.Get([]byte("k"))

		// Check
		assert.Equal(t, []byte("value"), again, "cached value unchanged")
	})

	t.Run("remove and purge", func(t *testing.T) {
		// Prepare
		R, err := NewRecords(4)
		require.NoError(t, err, "creates cache")
		R.Add([]byte("a"), []byte("1"))
		R.Add([]byte("b"), []byte("2"))

		// Execute
		R.Remove([]byte("a"))
		lenAfterRemove := R.Len()
		R.Purge()

		// Check
		assert.Equal(t, 1, lenAfterRemove, "one value removed")
		assert.Equal(t, 0, R.Len(), "all values purged")
	})

	t.Run("disabled cache holds nothing", func(t *testing.T) {
		// Prepare
		R, err := NewRecords(0)
		require.NoError(t, err, "creates cache")

		// Execute
		R.Add([]byte("a"), []byte("1"))
		_, ok := R.Get([]byte("a"))

		// Check
		assert.Equal(t, 0, R.Len(), "cache disabled")
		assert.False(t, ok, "nothing cached")
	})
}
