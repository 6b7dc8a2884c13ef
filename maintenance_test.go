//go:build integration

package hashdb

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gostonefire/hashdb/internal/conf"
	"github.com/gostonefire/hashdb/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putFixed - Stores n records whose cells all have the same size
func putFixed(t *testing.T, H *HashDB, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		require.NoError(t, H.Put([]byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("value-%04d", i))), "puts record")
	}
}

// checkFixed - Checks that the records stored by putFixed with an index accepted by keep are present and the others
// are not
func checkFixed(t *testing.T, H *HashDB, n int, keep func(i int) bool) {
	t.Helper()

	for i := 0; i < n; i++ {
		value, err := H.Get([]byte(fmt.Sprintf("key-%04d", i)))
		if !keep(i) {
			assert.ErrorIs(t, err, ErrNotFound, "record removed")
			continue
		}
		assert.NoError(t, err, "gets record")
		assert.Equal(t, []byte(fmt.Sprintf("value-%04d", i)), value, "correct value")
	}
}

func odd(i int) bool {
	return i%2 == 1
}

func TestVanish(t *testing.T) {
	t.Run("removes every record", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putKeys(t, H, 20)
		frec := H.storage.Layout().FRec

		// Execute
		err1 := H.Vanish()
		err2 := H.Vanish()

		// Check
		assert.NoError(t, err1, "vanishes database")
		assert.NoError(t, err2, "vanishes empty database")
		assert.Equal(t, int64(0), H.RNum(), "no records")
		assert.Equal(t, frec, H.FSiz(), "file size reset")
		assert.Equal(t, int64(0), H.BNumUsed(), "no buckets used")
		_, err := H.Get([]byte("key1"))
		assert.ErrorIs(t, err, ErrNotFound, "record gone")

		require.NoError(t, H.Put([]byte("key"), []byte("value")), "puts record after vanish")
		value, err := H.Get([]byte("key"))
		assert.NoError(t, err, "gets record")
		assert.Equal(t, []byte("value"), value, "correct value")
	})

	t.Run("clears fatal state", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		_ = H.setFatal()

		// Execute
		errPut := H.Put([]byte("key"), []byte("value"))
		errVanish := H.Vanish()

		// Check
		assert.ErrorIs(t, errPut, ErrFatal, "writes refused in fatal state")
		assert.NoError(t, errVanish, "vanishes database")
		assert.Zero(t, H.Flags()&conf.FlagFatal, "fatal flag cleared")
		assert.NoError(t, H.Put([]byte("key"), []byte("value")), "writes allowed again")
	})
}

func TestDefrag(t *testing.T) {
	t.Run("whole file", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 100)
		frec := H.storage.Layout().FRec
		cellSize := (H.FSiz() - frec) / 100
		for i := 0; i < 100; i += 2 {
			require.NoError(t, H.Out([]byte(fmt.Sprintf("key-%04d", i))), "removes record")
		}

		// Execute
		err := H.Defrag(0)

		// Check
		assert.NoError(t, err, "defragments")
		assert.Equal(t, frec+50*cellSize, H.FSiz(), "records packed")
		info, err := os.Stat(H.Path())
		assert.NoError(t, err, "stats file")
		assert.Equal(t, H.FSiz(), info.Size(), "file truncated")
		assert.Equal(t, int64(50), H.RNum(), "record count unchanged")

		stat, err := H.Stat(false)
		assert.NoError(t, err, "gets stat")
		assert.Equal(t, 0, stat.FreeBlocks, "no free blocks left")
		checkFixed(t, H, 100, odd)
	})

	t.Run("step by step", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 40)
		frec := H.storage.Layout().FRec
		cellSize := (H.FSiz() - frec) / 40
		for i := 0; i < 40; i += 2 {
			require.NoError(t, H.Out([]byte(fmt.Sprintf("key-%04d", i))), "removes record")
		}

		// Execute
		require.NoError(t, H.Defrag(1), "first step")
		fsizFirst := H.FSiz()
		for i := 0; i < 40; i++ {
			require.NoError(t, H.Defrag(1), "next step")
		}

		// Check
		assert.Equal(t, frec+40*cellSize, fsizFirst, "file size kept while free space is not at the end")
		assert.Equal(t, frec+20*cellSize, H.FSiz(), "records packed")
		checkFixed(t, H, 40, odd)
	})

	t.Run("merges one run of adjacent free blocks per step", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 12)
		frec := H.storage.Layout().FRec
		cellSize := (H.FSiz() - frec) / 12
		for _, i := range []int{0, 1, 4, 8} {
			require.NoError(t, H.Out([]byte(fmt.Sprintf("key-%04d", i))), "removes record")
		}

		// Execute
		err := H.Defrag(1)

		// Check
		require.NoError(t, err, "first step")
		assert.Equal(t, frec+12*cellSize, H.FSiz(), "file size kept")
		assert.ElementsMatch(t, []model.FreeBlock{
			{Offset: frec + 2*cellSize, Size: 2 * cellSize},
			{Offset: frec + 4*cellSize, Size: cellSize},
			{Offset: frec + 8*cellSize, Size: cellSize},
		}, H.pool.Blocks(), "only the first run merged")

		// Execute
		err = H.Defrag(2)

		// Check
		require.NoError(t, err, "second step")
		assert.Equal(t, frec+8*cellSize, H.FSiz(), "records packed")
		assert.Empty(t, H.pool.Blocks(), "no free blocks left")
		checkFixed(t, H, 12, func(i int) bool { return i != 0 && i != 1 && i != 4 && i != 8 })
	})

	t.Run("trailing free space only", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 10)
		frec := H.storage.Layout().FRec
		cellSize := (H.FSiz() - frec) / 10
		require.NoError(t, H.Out([]byte("key-0009")), "removes last record")

		// Execute
		err := H.Defrag(5)

		// Check
		assert.NoError(t, err, "defragments")
		assert.Equal(t, frec+9*cellSize, H.FSiz(), "trailing free block dropped")
		checkFixed(t, H, 10, func(i int) bool { return i != 9 })
	})

	t.Run("keeps iterator position", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 1})
		putFixed(t, H, 10)
		for i := 0; i < 10; i += 2 {
			require.NoError(t, H.Out([]byte(fmt.Sprintf("key-%04d", i))), "removes record")
		}
		require.NoError(t, H.IterInit(), "initializes iterator")
		key, err := H.IterNext()
		require.NoError(t, err, "gets first key")
		require.Equal(t, []byte("key-0001"), key, "first key")

		// Execute
		require.NoError(t, H.Defrag(0), "defragments")

		// Check
		var keys []string
		for {
			key, err := H.IterNext()
			if err != nil {
				assert.ErrorIs(t, err, ErrNotFound, "ends with not found")
				break
			}
			keys = append(keys, string(key))
		}
		assert.Equal(t, []string{"key-0003", "key-0005", "key-0007", "key-0009"}, keys, "iteration continues after moved records")
	})

	t.Run("automatic", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7, DFUnit: 2})
		putFixed(t, H, 30)
		frec := H.storage.Layout().FRec
		cellSize := (H.FSiz() - frec) / 30

		// Execute
		for i := 0; i < 30; i += 2 {
			require.NoError(t, H.Out([]byte(fmt.Sprintf("key-%04d", i))), "removes record")
		}

		// Check
		assert.Less(t, H.FSiz(), frec+30*cellSize, "file shrunk by automatic steps")
		assert.Equal(t, int64(2), H.DFUnit(), "defrag unit")
		checkFixed(t, H, 30, odd)
	})
}

func TestOptimize(t *testing.T) {
	t.Run("rebuilds with new tuning", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 100)
		for i := 0; i < 100; i += 2 {
			require.NoError(t, H.Out([]byte(fmt.Sprintf("key-%04d", i))), "removes record")
		}
		require.NoError(t, H.SetOpaque([]byte("opaque")), "sets opaque field")
		fsiz := H.FSiz()

		// Execute
		err := H.Optimize(Tuning{BNum: 211, APow: Pow(3), Opts: Options(TDeflate)})

		// Check
		require.NoError(t, err, "optimizes")
		assert.Equal(t, int64(211), H.BNum(), "new number of buckets")
		assert.Equal(t, int64(8), H.Align(), "new alignment")
		assert.Equal(t, TDeflate, H.Opts(), "new options")
		assert.Equal(t, int64(50), H.RNum(), "records copied")
		assert.Less(t, H.FSiz(), fsiz, "free space dropped")
		assert.Equal(t, []byte("opaque"), H.Opaque()[:6], "opaque field copied")
		checkFixed(t, H, 100, odd)

		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err), "temporary file gone")

		require.NoError(t, H.Close(), "closes database")
		H, err = Open(path, OReader, nil)
		require.NoError(t, err, "reopens database")
		assert.Equal(t, int64(211), H.BNum(), "new number of buckets persisted")
		checkFixed(t, H, 100, odd)

		// Clean up
		assert.NoError(t, H.Close(), "closes database")
	})

	t.Run("default bucket count", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 10)

		// Execute
		err := H.Optimize(Tuning{})

		// Check
		assert.NoError(t, err, "optimizes")
		assert.Equal(t, conf.MinOptimizeBNum, H.BNum(), "minimum bucket count")
		assert.Equal(t, int64(16), H.Align(), "alignment kept")
		checkFixed(t, H, 10, func(int) bool { return true })
		assert.NoError(t, H.Put([]byte("key"), []byte("value")), "writes after optimize")
	})

	t.Run("invalidates iterator", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 10)
		require.NoError(t, H.IterInit(), "initializes iterator")

		// Execute
		require.NoError(t, H.Optimize(Tuning{}), "optimizes")
		_, err := H.IterNext()

		// Check
		assert.ErrorIs(t, err, ErrStale, "stale iterator")
	})
}

func TestCopy(t *testing.T) {
	t.Run("copies database", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 20)
		dst := filepath.Join(t.TempDir(), "copy.hdb")

		// Execute
		err := H.Copy(dst)

		// Check
		require.NoError(t, err, "copies")
		C, err := Open(dst, OReader, nil)
		require.NoError(t, err, "opens copy")
		assert.Zero(t, C.Flags()&conf.FlagOpen, "copy not marked as open")
		assert.Equal(t, int64(20), C.RNum(), "records copied")
		checkFixed(t, C, 20, func(int) bool { return true })

		// Clean up
		assert.NoError(t, C.Close(), "closes copy")
	})

	t.Run("copy within transaction shows state before it", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		putFixed(t, H, 10)
		require.NoError(t, H.TranBegin(), "begins transaction")
		require.NoError(t, H.Out([]byte("key-0003")), "removes record")
		require.NoError(t, H.Put([]byte("new"), []byte("value")), "adds record")
		dst := filepath.Join(t.TempDir(), "copy.hdb")

		// Execute
		err := H.Copy(dst)

		// Check
		require.NoError(t, err, "copies")
		C, err := Open(dst, OWriter, nil)
		require.NoError(t, err, "opens copy")
		assert.Zero(t, C.Flags()&conf.FlagTran, "copy not marked as in transaction")
		assert.Equal(t, int64(10), C.RNum(), "record count before transaction")
		checkFixed(t, C, 10, func(int) bool { return true })
		_, err = C.Get([]byte("new"))
		assert.ErrorIs(t, err, ErrNotFound, "record added within transaction not copied")
		assert.NoError(t, C.Close(), "closes copy")

		assert.NotNil(t, H.tran, "transaction still active on original")
		_, err = H.Get([]byte("new"))
		assert.NoError(t, err, "record added within transaction still in original")
		assert.NoError(t, H.TranCommit(), "commits transaction")
	})

	t.Run("error when copying onto itself", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 7})

		// Execute
		err := H.Copy(path)

		// Check
		assert.ErrorIs(t, err, ErrInvalid, "invalid error")
	})
}

func TestStat(t *testing.T) {
	t.Run("counts records and buckets", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 1})
		putKeys(t, H, 5)
		require.NoError(t, H.Out([]byte("key2")), "removes record")

		// Execute
		stat, err := H.Stat(true)

		// Check
		assert.NoError(t, err, "gets stat")
		assert.Equal(t, int64(4), stat.Records, "records")
		assert.Equal(t, int64(1), stat.BucketsUsed, "buckets used")
		assert.Equal(t, int64(4), stat.LongestChain, "longest chain")
		assert.Equal(t, 1, stat.FreeBlocks, "free blocks")
		assert.Greater(t, stat.FreeSize, int64(0), "free size")
		assert.Equal(t, H.FSiz(), stat.FileSize, "file size")
		assert.Equal(t, []int64{4}, stat.BucketDistribution, "distribution")
	})
}

func TestSync(t *testing.T) {
	t.Run("persists pool and buffered writes", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 7})
		require.NoError(t, H.PutAsync([]byte("key"), []byte("value")), "buffers write")

		// Execute
		errMem := H.MemSync(false)
		errSync := H.Sync()

		// Check
		assert.NoError(t, errMem, "syncs memory")
		assert.NoError(t, errSync, "syncs to device")
		assert.Equal(t, int64(1), H.RNum(), "buffered write applied")
	})
}
