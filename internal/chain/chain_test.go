//go:build unit

package chain

import (
	"errors"
	"testing"

	"github.com/gostonefire/hashdb/internal/model"
	"github.com/stretchr/testify/assert"
)

func chainOf(next map[int64]int64) func(int64) (model.Record, error) {
	return func(offset int64) (model.Record, error) {
		n, ok := next[offset]
		if !ok {
			return model.Record{}, errors.New("no record")
		}
		return model.Record{Offset: offset, Next: n}, nil
	}
}

func TestRecords_Next(t *testing.T) {
	t.Run("walks chain in order", func(t *testing.T) {
		// Prepare
		records := NewRecords(chainOf(map[int64]int64{100: 300, 300: 200, 200: 0}), 100, 0)
		var offsets []int64
		var previous []int64

		// Execute
		for records.HasNext() {
			record, err := records.Next()
			assert.NoError(t, err, "gets record")
			offsets = append(offsets, record.Offset)
			previous = append(previous, records.Previous())
		}
		_, err := records.Next()

		// Check
		assert.Equal(t, []int64{100, 300, 200}, offsets, "chain order")
		assert.Equal(t, []int64{0, 100, 300}, previous, "predecessors")
		assert.True(t, errors.Is(err, errEndOfChain), "end of chain")
	})

	t.Run("empty chain", func(t *testing.T) {
		// Prepare
		records := NewRecords(chainOf(nil), 0, 0)

		// Execute
		_, err := records.Next()

		// Check
		assert.False(t, records.HasNext(), "nothing to fetch")
		assert.True(t, errors.Is(err, errEndOfChain), "end of chain")
	})

	t.Run("cycle is detected", func(t *testing.T) {
		// Prepare
		records := NewRecords(chainOf(map[int64]int64{100: 200, 200: 100}), 100, 5)

		// Execute
		var err error
		for i := 0; i < 10 && err == nil; i++ {
			_, err = records.Next()
		}

		// Check
		assert.True(t, errors.Is(err, ErrCycle), "cycle detected")
	})

	t.Run("read errors are passed on", func(t *testing.T) {
		// Prepare
		records := NewRecords(chainOf(map[int64]int64{100: 999}), 100, 0)

		// Execute
		_, err1 := records.Next()
		_, err2 := records.Next()

		// Check
		assert.NoError(t, err1, "first record read")
		assert.Error(t, err2, "broken link reported")
	})
}
