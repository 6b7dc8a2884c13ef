//go:build integration

package hashdb

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gostonefire/hashdb/internal/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTest - Creates a new database file in a temporary directory
func openTest(t *testing.T, tuning *Tuning) (H *HashDB, path string) {
	t.Helper()

	path = filepath.Join(t.TempDir(), "test.hdb")
	H, err := Open(path, OWriter|OCreat, tuning)
	require.NoError(t, err, "opens database")
	t.Cleanup(func() { _ = H.Close() })

	return
}

// crash - Drops the handle without any of the work Close does, as if the process died
func crash(t *testing.T, H *HashDB) {
	t.Helper()

	H.storage.SetJournal(nil)
	if H.tran != nil {
		require.NoError(t, H.tran.Close(), "closes log")
		H.tran = nil
	}
	require.NoError(t, H.storage.Close(), "closes file")
	H.isOpen = false
}

func TestOpen(t *testing.T) {
	t.Run("creates database with defaults", func(t *testing.T) {
		// Execute
		H, path := openTest(t, nil)

		// Check
		assert.Equal(t, path, H.Path(), "correct path")
		assert.Equal(t, conf.DefaultBNum, H.BNum(), "default number of buckets")
		assert.Equal(t, int64(16), H.Align(), "default alignment")
		assert.Equal(t, 1024, H.FBPMax(), "default free block pool size")
		assert.Equal(t, int64(0), H.RNum(), "no records")
		assert.Equal(t, Option(0), H.Opts(), "no options")
		assert.Equal(t, conf.TypeHash, H.Type(), "hash database type")
		assert.NotZero(t, H.Flags()&conf.FlagOpen, "marked as open by a writer")
		assert.NotZero(t, H.Inode(), "inode recorded")

		info, err := os.Stat(path)
		assert.NoError(t, err, "file exists")
		assert.Equal(t, H.FSiz(), info.Size(), "file size matches header")
	})

	t.Run("reopens with header parameters", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 17, APow: Pow(3), FPow: Pow(4), Opts: Options(TLarge)})
		require.NoError(t, H.Put([]byte("key"), []byte("value")), "puts record")
		require.NoError(t, H.Close(), "closes database")

		// Execute
		H, err := Open(path, OWriter, &Tuning{BNum: 1000})

		// Check
		require.NoError(t, err, "reopens database")
		assert.Equal(t, int64(17), H.BNum(), "number of buckets from header")
		assert.Equal(t, int64(8), H.Align(), "alignment from header")
		assert.Equal(t, 16, H.FBPMax(), "free block pool size from header")
		assert.Equal(t, TLarge, H.Opts(), "options from header")
		assert.Equal(t, int64(1), H.RNum(), "record count from header")

		value, err := H.Get([]byte("key"))
		assert.NoError(t, err, "gets record")
		assert.Equal(t, []byte("value"), value, "correct value")

		// Clean up
		assert.NoError(t, H.Close(), "closes database")
		assert.Zero(t, H.Path(), "path cleared")
	})

	t.Run("truncates existing database", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 17})
		require.NoError(t, H.Put([]byte("key"), []byte("value")), "puts record")
		require.NoError(t, H.Close(), "closes database")

		// Execute
		H, err := Open(path, OWriter|OTrunc, &Tuning{BNum: 31})

		// Check
		require.NoError(t, err, "reopens database")
		assert.Equal(t, int64(31), H.BNum(), "number of buckets from tuning")
		assert.Equal(t, int64(0), H.RNum(), "no records")

		// Clean up
		assert.NoError(t, H.Close(), "closes database")
	})

	t.Run("error when file is missing", func(t *testing.T) {
		// Execute
		_, err := Open(filepath.Join(t.TempDir(), "missing.hdb"), OWriter, nil)

		// Check
		assert.ErrorIs(t, err, ErrNotFound, "not found error")
	})

	t.Run("error on invalid arguments", func(t *testing.T) {
		// Prepare
		path := filepath.Join(t.TempDir(), "test.hdb")

		// Execute
		_, errMode := Open(path, OReader|OCreat, nil)
		_, errPath := Open("", OWriter|OCreat, nil)
		_, errPow := Open(path, OWriter|OCreat, &Tuning{APow: Pow(17)})
		_, errTCBS := Open(path, OWriter|OCreat, &Tuning{Opts: Options(TTCBS)})
		_, errCodec := Open(path, OWriter|OCreat, &Tuning{Opts: Options(TExCodec)})

		// Check
		assert.ErrorIs(t, errMode, ErrInvalid, "creation requires writer")
		assert.ErrorIs(t, errPath, ErrInvalid, "path required")
		assert.ErrorIs(t, errPow, ErrInvalid, "alignment power out of range")
		assert.ErrorIs(t, errTCBS, ErrInvalid, "TCBS not supported")
		assert.ErrorIs(t, errCodec, ErrInvalid, "custom codec required")
	})

	t.Run("error on bad header", func(t *testing.T) {
		// Prepare
		path := filepath.Join(t.TempDir(), "test.hdb")
		require.NoError(t, os.WriteFile(path, make([]byte, 1024), 0644), "writes garbage file")

		// Execute
		_, err := Open(path, OReader, nil)

		// Check
		assert.ErrorIs(t, err, ErrCorrupt, "corrupt error")
	})

	t.Run("error on hash algorithm mismatch", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 10})
		require.NoError(t, H.Close(), "closes database")

		// Execute
		_, err := Open(path, OWriter, &Tuning{HashAlgorithm: newModuloHash()})

		// Check
		assert.ErrorIs(t, err, ErrInvalid, "custom hash rejected for internal hash file")
	})
}

func TestLocking(t *testing.T) {
	t.Run("second writer would block", func(t *testing.T) {
		// Prepare
		_, path := openTest(t, &Tuning{BNum: 10})

		// Execute
		_, err := Open(path, OWriter|OLckNB, nil)

		// Check
		assert.ErrorIs(t, err, ErrWouldBlock, "would block error")
	})

	t.Run("no lock opens anyway", func(t *testing.T) {
		// Prepare
		_, path := openTest(t, &Tuning{BNum: 10})

		// Execute
		H, err := Open(path, OReader|ONoLck, nil)

		// Check
		assert.NoError(t, err, "opens without lock")

		// Clean up
		assert.NoError(t, H.Close(), "closes reader")
	})

	t.Run("readers share the file", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 10})
		require.NoError(t, H.Put([]byte("key"), []byte("value")), "puts record")
		require.NoError(t, H.Close(), "closes writer")

		// Execute
		R1, err1 := Open(path, OReader|OLckNB, nil)
		R2, err2 := Open(path, OReader|OLckNB, nil)

		// Check
		require.NoError(t, err1, "opens first reader")
		require.NoError(t, err2, "opens second reader")
		value, err := R2.Get([]byte("key"))
		assert.NoError(t, err, "reader gets record")
		assert.Equal(t, []byte("value"), value, "correct value")

		// Clean up
		assert.NoError(t, R1.Close(), "closes first reader")
		assert.NoError(t, R2.Close(), "closes second reader")
	})
}

func TestReadOnly(t *testing.T) {
	t.Run("reader can not write", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 10})
		require.NoError(t, H.Put([]byte("key"), []byte("value")), "puts record")
		require.NoError(t, H.Close(), "closes writer")

		R, err := Open(path, OReader, nil)
		require.NoError(t, err, "opens reader")
		defer func() { _ = R.Close() }()

		// Execute
		errPut := R.Put([]byte("key"), []byte("other"))
		errOut := R.Out([]byte("key"))
		errTran := R.TranBegin()
		errVanish := R.Vanish()

		// Check
		assert.ErrorIs(t, errPut, ErrReadOnly, "put refused")
		assert.ErrorIs(t, errOut, ErrReadOnly, "out refused")
		assert.ErrorIs(t, errTran, ErrReadOnly, "transaction refused")
		assert.ErrorIs(t, errVanish, ErrReadOnly, "vanish refused")
		assert.NoError(t, R.Sync(), "sync does nothing for a reader")

		value, err := R.Get([]byte("key"))
		assert.NoError(t, err, "gets record")
		assert.Equal(t, []byte("value"), value, "value unchanged")
	})
}

func TestClose(t *testing.T) {
	t.Run("closed handle refuses operations", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 10})
		require.NoError(t, H.Close(), "closes database")

		// Execute
		errClose := H.Close()
		_, errGet := H.Get([]byte("key"))
		errPut := H.Put([]byte("key"), []byte("value"))
		errIter := H.IterInit()

		// Check
		assert.NoError(t, errClose, "second close does nothing")
		assert.ErrorIs(t, errGet, ErrClosed, "get refused")
		assert.ErrorIs(t, errPut, ErrClosed, "put refused")
		assert.ErrorIs(t, errIter, ErrClosed, "iterator refused")
		assert.Equal(t, int64(0), H.RNum(), "no record count")
	})

	t.Run("clears open flag", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 10})
		require.NoError(t, H.Close(), "closes database")

		// Execute
		R, err := Open(path, OReader, nil)

		// Check
		require.NoError(t, err, "opens reader")
		assert.Zero(t, R.Flags()&conf.FlagOpen, "open flag cleared")

		// Clean up
		assert.NoError(t, R.Close(), "closes reader")
	})

	t.Run("free block pool survives close", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 10})
		for i := 0; i < 10; i++ {
			require.NoError(t, H.Put([]byte(fmt.Sprintf("key%d", i)), []byte("value")), "puts record")
		}
		require.NoError(t, H.Out([]byte("key3")), "removes record")
		fsiz := H.FSiz()
		require.NoError(t, H.Close(), "closes database")

		// Execute
		H, err := Open(path, OWriter, nil)
		require.NoError(t, err, "reopens database")
		err = H.Put([]byte("key3"), []byte("value"))

		// Check
		assert.NoError(t, err, "puts record again")
		assert.Equal(t, fsiz, H.FSiz(), "freed cell reused")

		// Clean up
		assert.NoError(t, H.Close(), "closes database")
	})
}

func TestOpaque(t *testing.T) {
	t.Run("stores opaque field", func(t *testing.T) {
		// Prepare
		H, path := openTest(t, &Tuning{BNum: 10})
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}

		// Execute
		err := H.SetOpaque(data)

		// Check
		assert.NoError(t, err, "sets opaque field")
		assert.Equal(t, data[:128], H.Opaque(), "opaque field cut at 128 bytes")

		require.NoError(t, H.Close(), "closes database")
		H, err = Open(path, OReader, nil)
		require.NoError(t, err, "reopens database")
		assert.Equal(t, data[:128], H.Opaque(), "opaque field persisted")

		// Clean up
		assert.NoError(t, H.Close(), "closes database")
	})
}

func TestSetMutex(t *testing.T) {
	t.Run("concurrent writers and readers", func(t *testing.T) {
		// Prepare
		H, _ := openTest(t, &Tuning{BNum: 101})
		H.SetMutex()
		done := make(chan error, 8)

		// Execute
		for w := 0; w < 8; w++ {
			go func(w int) {
				for i := 0; i < 50; i++ {
					key := []byte(fmt.Sprintf("w%d-%d", w, i))
					if err := H.Put(key, key); err != nil {
						done <- err
						return
					}
					if _, err := H.Get(key); err != nil {
						done <- err
						return
					}
				}
				done <- nil
			}(w)
		}

		// Check
		for w := 0; w < 8; w++ {
			assert.NoError(t, <-done, "worker succeeds")
		}
		assert.True(t, H.HasMutex(), "mutex enabled")
		assert.Equal(t, int64(400), H.RNum(), "all records stored")
	})
}
