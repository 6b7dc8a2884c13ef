package hashdb

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gostonefire/hashdb/codecfunc"
	"github.com/gostonefire/hashdb/hashfunc"
	"github.com/gostonefire/hashdb/internal/cache"
	"github.com/gostonefire/hashdb/internal/compress"
	"github.com/gostonefire/hashdb/internal/conf"
	"github.com/gostonefire/hashdb/internal/freepool"
	"github.com/gostonefire/hashdb/internal/hash"
	"github.com/gostonefire/hashdb/internal/model"
	"github.com/gostonefire/hashdb/internal/record"
	"github.com/gostonefire/hashdb/internal/storage"
	"github.com/gostonefire/hashdb/internal/wal"
)

// HashDB - A persistent hash database stored in a single file.
// A HashDB is not safe for concurrent use by multiple goroutines unless SetMutex has been called.
type HashDB struct {
	mu         sync.RWMutex
	useMutex   bool
	isOpen     bool
	path       string
	omode      OpenMode
	storage    *storage.Storage
	pool       *freepool.Pool
	codec      *record.Codec
	hashAlgo   hashfunc.HashAlgorithm
	customHash hashfunc.HashAlgorithm
	customCdc  codecfunc.Codec
	cache      *cache.Records
	rcnum      int
	xmsiz      int64
	dfunit     int64
	dfcur      int64
	dfcnt      int64
	fatal      bool
	tran       *wal.Log
	iter       cursor
	generation uint64
	async      asyncBuffer
}

// Open - Opens, and possibly creates, a database file.
// When a new file is created the bucket count, alignment, free block pool size and options come from tuning, for an
// existing file they are read from its header. A file created with a custom hash algorithm has to be opened with
// that same algorithm, and a file created with the internal one can not be opened with a custom one.
// If the file was left with an unfinished transaction, the transaction is rolled back before Open returns.
//   - path is the path to the database file
//   - mode is a combination of OReader, OWriter, OCreat, OTrunc, ONoLck, OLckNB and OTSync
//   - tuning is optional, nil selects defaults for everything
//
// It returns:
//   - H is a pointer to the opened HashDB
//   - err is of type *Error, KindNotFound if the file is missing and OCreat not given
func Open(path string, mode OpenMode, tuning *Tuning) (H *HashDB, err error) {
	if err = mode.validate(); err != nil {
		return nil, newError(KindInvalid, "open", err)
	}
	if path == "" {
		return nil, newError(KindInvalid, "open", fmt.Errorf("path can not be empty"))
	}

	t := Tuning{}
	if tuning != nil {
		t = *tuning
	}
	if err = t.validate(); err != nil {
		return nil, newError(KindInvalid, "open", err)
	}

	st, err := storage.OpenFile(path, mode&OWriter != 0, mode&OCreat != 0)
	if err != nil {
		return nil, toError("open", err)
	}

	H = &HashDB{
		path:    path,
		omode:   mode,
		storage: st,
		rcnum:   t.RCNum,
		xmsiz:   t.XMSiz,
		dfunit:  t.DFUnit,
	}

	if err = H.open(t); err != nil {
		_ = st.Close()
		return nil, toError("open", err)
	}

	hLog.Info(fmt.Sprintf("opened %s with %d records in %d buckets", path, H.storage.RNum(), H.storage.Header().BNum))

	return
}

// open - Locks, loads or initializes the file, and recovers it if needed
func (H *HashDB) open(t Tuning) (err error) {
	writer := H.omode&OWriter != 0

	if H.omode&ONoLck == 0 {
		if err = H.storage.Lock(writer, H.omode&OLckNB != 0); err != nil {
			return
		}
	}

	size, err := H.storage.Size()
	if err != nil {
		return
	}

	if writer && (H.omode&OTrunc != 0 || size == 0) {
		if err = removeIfExists(wal.FileName(H.path)); err != nil {
			return
		}
		header := storage.Header{
			BNum:         t.BNum,
			APow:         *t.APow,
			FPow:         *t.FPow,
			Opts:         uint8(*t.Opts),
			InternalHash: t.HashAlgorithm == nil,
		}
		if err = H.storage.Initialize(header); err != nil {
			return
		}
	} else if _, err = H.storage.Load(); err != nil {
		return
	}

	if err = H.setup(t.HashAlgorithm, t.Codec); err != nil {
		return
	}

	if writer {
		if err = H.recover(); err != nil {
			return
		}
		if err = H.markOpen(); err != nil {
			return
		}
	} else if exists, _ := wal.Exists(wal.FileName(H.path)); exists {
		hLog.Warn(fmt.Sprintf("%s has an unfinished transaction, open it as a writer to roll it back", H.path))
	}

	H.fatal = H.storage.Flags()&conf.FlagFatal != 0
	if H.fatal {
		hLog.Warn(fmt.Sprintf("%s is marked as needing repair, run Optimize or Vanish", H.path))
	}
	H.dfcur = H.storage.Layout().FRec
	H.iter = cursor{generation: H.generation}
	H.isOpen = true

	return
}

// setup - Prepares hash algorithm, codec, free block pool and cache from the loaded header
func (H *HashDB) setup(customHash hashfunc.HashAlgorithm, customCodec codecfunc.Codec) (err error) {
	header := H.storage.Header()

	if header.InternalHash && customHash != nil {
		return newError(KindInvalid, "", fmt.Errorf("file was created with the internal hash algorithm but a custom one was given"))
	}
	if !header.InternalHash && customHash == nil {
		return newError(KindInvalid, "", fmt.Errorf("file was created with a custom hash algorithm but none was given"))
	}

	H.customHash = customHash
	H.hashAlgo = customHash
	if H.hashAlgo == nil {
		H.hashAlgo = hash.NewBucketHashAlgorithm(header.BNum, header.Opts&model.OptLarge != 0)
	}
	H.hashAlgo.SetTableSize(header.BNum)
	if H.hashAlgo.GetTableSize() != header.BNum {
		return newError(KindInvalid, "", fmt.Errorf("hash algorithm table size %d does not match %d buckets", H.hashAlgo.GetTableSize(), header.BNum))
	}

	transform, err := compress.New(header.Opts, customCodec)
	if err != nil {
		return newError(KindInvalid, "", err)
	}
	H.customCdc = customCodec
	H.codec = record.NewCodec(transform, int64(1)<<header.APow)

	H.pool = freepool.NewPool(1 << header.FPow)
	if header.Flags&conf.FlagOpen == 0 {
		H.pool.Load(H.storage.ReadFreeBlocks())
	} else if H.omode&OWriter != 0 {
		hLog.Warn(fmt.Sprintf("%s was not closed properly, free block pool discarded", H.path))
	}

	if H.cache == nil {
		H.cache, err = cache.NewRecords(H.rcnum)
	} else {
		H.cache.Purge()
	}

	return
}

// recover - Rolls back a transaction left behind by a crashed writer and drops unreferenced trailing bytes
func (H *HashDB) recover() (err error) {
	walName := wal.FileName(H.path)
	exists, err := wal.Exists(walName)
	if err != nil {
		return
	}

	if exists {
		hLog.Warn(fmt.Sprintf("%s has an unfinished transaction, rolling it back", H.path))
		var entries int
		entries, err = wal.Replay(walName, H.storage)
		if err != nil {
			hLog.Error(fmt.Sprintf("rollback of %s failed: %s", H.path, err))
			_ = H.setFatal()
			return nil
		}
		if err = os.Remove(walName); err != nil {
			return
		}
		H.pool.Load(H.storage.ReadFreeBlocks())
		hLog.Info(fmt.Sprintf("rolled back %d writes in %s", entries, H.path))
	}

	if flags := H.storage.Flags(); flags&conf.FlagTran != 0 {
		if err = H.storage.SetFlags(flags &^ conf.FlagTran); err != nil {
			return
		}
	}

	size, err := H.storage.Size()
	if err != nil {
		return
	}
	if fsiz := H.storage.FSiz(); size > fsiz {
		hLog.Warn(fmt.Sprintf("%s has %d unreferenced trailing bytes, truncating", H.path, size-fsiz))
		err = H.storage.Truncate(fsiz)
	} else if size < fsiz {
		err = fmt.Errorf("%w: file size %d shorter than recorded size %d", record.ErrCorrupt, size, fsiz)
	}

	return
}

// markOpen - Flags the file as open by a writer and records its identity
func (H *HashDB) markOpen() (err error) {
	if err = H.storage.SetFlags(H.storage.Flags() | conf.FlagOpen); err != nil {
		return
	}

	inode, mtime, err := H.storage.Identity()
	if err != nil {
		return
	}

	return H.storage.SetIdentity(inode, mtime)
}

// setFatal - Latches the fatal state in memory and in the header
func (H *HashDB) setFatal() error {
	H.fatal = true
	_ = H.storage.SetFlags(H.storage.Flags() | conf.FlagFatal)

	return newError(KindFatal, "", fmt.Errorf("database marked as needing repair"))
}

// Close - Flushes buffered writes, aborts any active transaction, persists the free block pool and closes the file.
// Calling Close on a closed HashDB does nothing.
func (H *HashDB) Close() (err error) {
	defer H.lock()()

	if !H.isOpen {
		return nil
	}

	var errs []error
	if H.omode&OWriter != 0 {
		errs = append(errs, H.flushAsync())
		if H.tran != nil {
			errs = append(errs, H.tranAbort())
		}
		errs = append(errs, H.persistPool())
		errs = append(errs, H.storage.SetFlags(H.storage.Flags()&^conf.FlagOpen))
		errs = append(errs, H.storage.Sync(H.omode&OTSync != 0))
	}
	errs = append(errs, H.storage.Close())

	hLog.Info(fmt.Sprintf("closed %s", H.path))

	H.isOpen = false
	H.path = ""
	H.cache.Purge()
	H.async.reset()

	return toError("close", errors.Join(errs...))
}

// SetMutex - Makes the HashDB safe for concurrent use, readers share the handle and writers get it exclusively.
// It has to be called before the handle is shared between goroutines.
func (H *HashDB) SetMutex() {
	H.useMutex = true
}

// HasMutex - Returns true if SetMutex has been called
func (H *HashDB) HasMutex() bool {
	return H.useMutex
}

// lock - Takes the exclusive lock if the mutex is enabled, the returned function releases it
func (H *HashDB) lock() func() {
	if !H.useMutex {
		return func() {}
	}
	H.mu.Lock()

	return H.mu.Unlock
}

// rlock - Takes the shared lock if the mutex is enabled, the returned function releases it
func (H *HashDB) rlock() func() {
	if !H.useMutex {
		return func() {}
	}
	H.mu.RLock()

	return H.mu.RUnlock
}

// readable - Checks that the handle is open
func (H *HashDB) readable(op string) error {
	if !H.isOpen {
		return newError(KindClosed, op, nil)
	}

	return nil
}

// writable - Checks that the handle is open for writing and not in the fatal state
func (H *HashDB) writable(op string, allowFatal bool) error {
	if !H.isOpen {
		return newError(KindClosed, op, nil)
	}
	if H.omode&OWriter == 0 {
		return newError(KindReadOnly, op, nil)
	}
	if H.fatal && !allowFatal {
		return newError(KindFatal, op, nil)
	}

	return nil
}

// persistPool - Writes the free block pool to its region in the file
func (H *HashDB) persistPool() error {
	return H.storage.WriteFreeBlocks(H.pool.Blocks())
}

func removeIfExists(fileName string) error {
	if err := os.Remove(fileName); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// Path - Returns the path of the database file, empty once closed
func (H *HashDB) Path() string {
	defer H.rlock()()
	return H.path
}

// RNum - Returns the number of records, writes still buffered by PutAsync are not counted
func (H *HashDB) RNum() int64 {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.storage.RNum()
}

// FSiz - Returns the size of the database file
func (H *HashDB) FSiz() int64 {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.storage.FSiz()
}

// BNum - Returns the number of buckets
func (H *HashDB) BNum() int64 {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.storage.Header().BNum
}

// BNumUsed - Returns the number of buckets holding at least one record
func (H *HashDB) BNumUsed() int64 {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.storage.BucketsUsed()
}

// Align - Returns the cell alignment in bytes
func (H *HashDB) Align() int64 {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.codec.Align()
}

// FBPMax - Returns the maximum number of blocks in the free block pool
func (H *HashDB) FBPMax() int {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.pool.Max()
}

// Opts - Returns the options bitmask
func (H *HashDB) Opts() Option {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return Option(H.storage.Header().Opts)
}

// OMode - Returns the mode the file was opened with
func (H *HashDB) OMode() OpenMode {
	return H.omode
}

// Flags - Returns the additional flags from the header
func (H *HashDB) Flags() uint8 {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.storage.Flags()
}

// Inode - Returns the inode snapshot taken when a writer opened the file
func (H *HashDB) Inode() uint64 {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.storage.Header().Inode
}

// MTime - Returns the modification time snapshot (unix nanoseconds) taken when a writer opened the file
func (H *HashDB) MTime() int64 {
	defer H.rlock()()
	if !H.isOpen {
		return 0
	}
	return H.storage.Header().MTime
}

// Type - Returns the database type tag
func (H *HashDB) Type() uint8 {
	return conf.TypeHash
}

// DFUnit - Returns the number of freed cells that triggers an automatic defragmentation step
func (H *HashDB) DFUnit() int64 {
	return H.dfunit
}

// XMSiz - Returns the extra mapped memory size
func (H *HashDB) XMSiz() int64 {
	return H.xmsiz
}

// Opaque - Returns a copy of the 128 byte opaque user field in the header
func (H *HashDB) Opaque() []byte {
	defer H.rlock()()
	if !H.isOpen {
		return nil
	}
	return H.storage.Opaque()
}

// SetOpaque - Stores data in the opaque user field in the header, data beyond 128 bytes is cut
func (H *HashDB) SetOpaque(data []byte) (err error) {
	defer H.lock()()

	if err = H.writable("setopaque", false); err != nil {
		return
	}

	return toError("setopaque", H.storage.SetOpaque(data))
}
