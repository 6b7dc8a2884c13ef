package hashdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/gostonefire/hashdb/codecfunc"
	"github.com/gostonefire/hashdb/hashfunc"
	"github.com/gostonefire/hashdb/internal/chain"
	"github.com/gostonefire/hashdb/internal/conf"
	"github.com/gostonefire/hashdb/internal/model"
	"github.com/gostonefire/hashdb/internal/record"
	"github.com/gostonefire/hashdb/internal/storage"
	"github.com/gostonefire/hashdb/internal/wal"
)

// HashDBStat - Statistics on the overall usage and distribution over buckets
//   - Records is the total number of records stored
//   - BucketsUsed is the number of buckets holding at least one record
//   - LongestChain is the number of records in the longest bucket chain
//   - FreeBlocks is the number of blocks in the free block pool
//   - FreeSize is the total size of the blocks in the free block pool
//   - FileSize is the size of the database file
//   - BucketDistribution is the number of records stored in each bucket
type HashDBStat struct {
	Records            int64
	BucketsUsed        int64
	LongestChain       int64
	FreeBlocks         int
	FreeSize           int64
	FileSize           int64
	BucketDistribution []int64
}

// Stat - Walks through the entire set of buckets and produces a HashDBStat struct with information.
// For a big database this can take a considerable amount of time and the HashDBStat.BucketDistribution slice can be
// very memory heavy (there will be one entry per bucket).
//   - includeDistribution set to true will include a slice of length BNum with number of records per bucket, false will set HashDBStat.BucketDistribution to nil.
func (H *HashDB) Stat(includeDistribution bool) (stat *HashDBStat, err error) {
	defer H.lock()()

	if err = H.readable("stat"); err != nil {
		return
	}
	if err = H.flushAsync(); err != nil {
		return nil, toError("stat", err)
	}

	bnum := H.storage.Header().BNum
	hs := HashDBStat{
		FreeBlocks: H.pool.Len(),
		FreeSize:   H.pool.TotalSize(),
		FileSize:   H.storage.FSiz(),
	}
	if includeDistribution {
		hs.BucketDistribution = make([]int64, bnum)
	}

	for b := int64(0); b < bnum; b++ {
		var n int64
		records := chain.NewRecords(H.readHead, H.storage.BucketHead(b), H.maxChain())
		for records.HasNext() {
			if _, err = records.Next(); err != nil {
				return nil, toError("stat", err)
			}
			n++
		}

		hs.Records += n
		if n > 0 {
			hs.BucketsUsed++
		}
		if n > hs.LongestChain {
			hs.LongestChain = n
		}
		if includeDistribution {
			hs.BucketDistribution[b] = n
		}
	}

	return &hs, nil
}

// Sync - Applies buffered writes and forces everything to the device
func (H *HashDB) Sync() error {
	return H.MemSync(true)
}

// MemSync - Applies buffered writes and writes the free block pool and header to the file.
//   - phys also forces the file to the device
func (H *HashDB) MemSync(phys bool) (err error) {
	defer H.lock()()

	if err = H.readable("memsync"); err != nil {
		return
	}
	if H.omode&OWriter == 0 {
		return nil
	}
	if err = H.flushAsync(); err != nil {
		return toError("memsync", err)
	}
	if err = H.persistPool(); err != nil {
		return toError("memsync", err)
	}

	return toError("memsync", H.storage.Sync(phys))
}

// CacheClear - Drops every value from the record cache
func (H *HashDB) CacheClear() (err error) {
	defer H.lock()()

	if err = H.readable("cacheclear"); err != nil {
		return
	}
	H.cache.Purge()

	return
}

// Copy - Writes a consistent copy of the database file to path.
// If a transaction is active the copy reflects the state before the transaction began.
//   - path is the path of the copy, it is replaced if it exists
func (H *HashDB) Copy(path string) (err error) {
	defer H.lock()()

	if err = H.readable("copy"); err != nil {
		return
	}
	if path == H.path {
		return newError(KindInvalid, "copy", fmt.Errorf("can not copy a database onto itself"))
	}

	writer := H.omode&OWriter != 0
	if writer {
		if err = H.flushAsync(); err != nil {
			return toError("copy", err)
		}
		if err = H.persistPool(); err != nil {
			return toError("copy", err)
		}
		if err = H.storage.Sync(false); err != nil {
			return toError("copy", err)
		}
	}

	return toError("copy", H.copyTo(path, writer))
}

// copyTo - Copies the file, rolls the copy back when a transaction is active and clears the flags not valid for it
func (H *HashDB) copyTo(path string, writer bool) (err error) {
	dst, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error while creating copy: %s", err)
	}
	defer func() { err = errors.Join(err, dst.Close()) }()

	size, err := H.storage.Size()
	if err != nil {
		return
	}
	if err = H.storage.CopyTo(dst, size); err != nil {
		return
	}

	var clear uint8
	if writer {
		clear |= conf.FlagOpen
	}
	if H.tran != nil {
		if _, err = wal.Replay(wal.FileName(H.path), copyTarget{file: dst}); err != nil {
			return
		}
		clear |= conf.FlagTran
	}

	if clear != 0 {
		flags := make([]byte, 1)
		if _, err = dst.ReadAt(flags, conf.FlagsOffset); err != nil {
			return fmt.Errorf("error while reading flags of copy: %s", err)
		}
		flags[0] &^= clear
		if _, err = dst.WriteAt(flags, conf.FlagsOffset); err != nil {
			return fmt.Errorf("error while writing flags of copy: %s", err)
		}
	}

	return dst.Sync()
}

// copyTarget - Lets a log be rolled back onto a plain file
type copyTarget struct {
	file *os.File
}

// RestoreAt - Writes buf at offset
func (C copyTarget) RestoreAt(buf []byte, offset int64) (err error) {
	_, err = C.file.WriteAt(buf, offset)
	return
}

// Truncate - Sets the size of the file
func (C copyTarget) Truncate(size int64) error {
	return C.file.Truncate(size)
}

// Vanish - Removes every record. A database marked as needing repair is usable again afterwards.
func (H *HashDB) Vanish() (err error) {
	defer H.lock()()

	if err = H.writable("vanish", true); err != nil {
		return
	}
	if H.tran != nil {
		return newError(KindInvalid, "vanish", fmt.Errorf("not allowed within a transaction"))
	}

	return toError("vanish", H.vanish())
}

// vanish - Empties the directory, truncates the record region and resets counters, pool and cursor
func (H *HashDB) vanish() (err error) {
	H.async.reset()
	frec := H.storage.Layout().FRec

	if err = H.storage.ClearDirectory(); err != nil {
		return
	}
	if err = H.storage.SetFSiz(frec); err != nil {
		return
	}
	if err = H.storage.Truncate(frec); err != nil {
		return
	}
	if err = H.storage.SetRNum(0); err != nil {
		return
	}

	H.pool.Reset()
	if err = H.persistPool(); err != nil {
		return
	}
	if err = removeIfExists(wal.FileName(H.path)); err != nil {
		return
	}
	if err = H.storage.SetFlags(H.storage.Flags() &^ (conf.FlagFatal | conf.FlagTran)); err != nil {
		return
	}

	H.fatal = false
	H.cache.Purge()
	H.generation++
	H.dfcur = frec
	H.dfcnt = 0

	return
}

// Optimize - Rebuilds the database file, packing every record tightly, possibly with new tuning.
// The records are copied to a temporary file which then replaces the database file. A database marked as needing
// repair is usable again afterwards, records that can not be read are left out.
//   - tuning holds the new parameters, zero BNum selects twice the number of records and nil pointer fields as well
//     as a nil HashAlgorithm and Codec keep the current ones. RCNum, XMSiz and DFUnit are not used.
func (H *HashDB) Optimize(tuning Tuning) (err error) {
	defer H.lock()()

	if err = H.writable("optimize", true); err != nil {
		return
	}
	if H.tran != nil {
		return newError(KindInvalid, "optimize", fmt.Errorf("not allowed within a transaction"))
	}
	if err = H.flushAsync(); err != nil {
		return toError("optimize", err)
	}

	return toError("optimize", H.optimize(tuning))
}

// optimize - Rebuilds into <path>.tmp, renames it over the database file and reopens it
func (H *HashDB) optimize(tuning Tuning) (err error) {
	current := H.storage.Header()

	t := Tuning{
		BNum:          tuning.BNum,
		APow:          tuning.APow,
		FPow:          tuning.FPow,
		Opts:          tuning.Opts,
		HashAlgorithm: tuning.HashAlgorithm,
		Codec:         tuning.Codec,
	}
	if t.BNum <= 0 {
		t.BNum = H.storage.RNum() * 2
		if t.BNum < conf.MinOptimizeBNum {
			t.BNum = conf.MinOptimizeBNum
		}
	}
	if t.APow == nil {
		t.APow = Pow(current.APow)
	}
	if t.FPow == nil {
		t.FPow = Pow(current.FPow)
	}
	if t.Opts == nil {
		t.Opts = Options(Option(current.Opts))
	}
	if t.HashAlgorithm == nil {
		t.HashAlgorithm = H.customHash
	}
	if t.Codec == nil {
		t.Codec = H.customCdc
	}

	tmpPath := H.path + ".tmp"
	tmp, err := Open(tmpPath, OWriter|OCreat|OTrunc|ONoLck, &t)
	if err != nil {
		H.hashAlgo.SetTableSize(current.BNum)
		return
	}

	copied, skipped, err := H.copyRecords(tmp)
	if err == nil {
		err = tmp.storage.SetOpaque(current.Opaque)
	}
	err = errors.Join(err, tmp.Close())
	H.hashAlgo.SetTableSize(current.BNum)
	if err != nil {
		_ = os.Remove(tmpPath)
		return
	}

	if err = H.storage.Close(); err != nil {
		return
	}
	if err = os.Rename(tmpPath, H.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Join(err, H.reopen(H.customHash, H.customCdc))
	}
	if err = H.reopen(t.HashAlgorithm, t.Codec); err != nil {
		return
	}
	if err = removeIfExists(wal.FileName(H.path)); err != nil {
		return
	}

	H.fatal = false
	H.generation++
	H.dfcur = H.storage.Layout().FRec
	H.dfcnt = 0
	hLog.Info(fmt.Sprintf("optimized %s, %d records copied, %d unreadable records left out", H.path, copied, skipped))

	return
}

// copyRecords - Puts every readable record into another database, chains that can not be followed are cut short
func (H *HashDB) copyRecords(to *HashDB) (copied, skipped int64, err error) {
	bnum := H.storage.Header().BNum
	for b := int64(0); b < bnum; b++ {
		records := chain.NewRecords(H.readHead, H.storage.BucketHead(b), H.maxChain())
		for records.HasNext() {
			rec, nextErr := records.Next()
			if nextErr != nil {
				hLog.Warn(fmt.Sprintf("bucket %d of %s can not be followed: %s", b, H.path, nextErr))
				skipped++
				break
			}

			value, loadErr := H.loadValue(&rec)
			if loadErr != nil {
				hLog.Warn(fmt.Sprintf("record at %d of %s can not be read: %s", rec.Offset, H.path, loadErr))
				skipped++
				continue
			}

			if _, err = to.put(rec.Key, value, putOver); err != nil {
				return
			}
			copied++
		}
	}

	return
}

// reopen - Opens, locks and loads the database file again after it was replaced
func (H *HashDB) reopen(customHash hashfunc.HashAlgorithm, customCodec codecfunc.Codec) (err error) {
	st, err := storage.OpenFile(H.path, true, false)
	if err != nil {
		H.isOpen = false
		return
	}
	H.storage = st

	defer func() {
		if err != nil {
			H.isOpen = false
			_ = st.Close()
		}
	}()

	if H.omode&ONoLck == 0 {
		if err = st.Lock(true, H.omode&OLckNB != 0); err != nil {
			return
		}
	}
	if _, err = st.Load(); err != nil {
		return
	}
	if err = H.setup(customHash, customCodec); err != nil {
		return
	}

	return H.markOpen()
}

// Defrag - Moves records towards the start of the file, merging the free space between them.
// Each call continues where the previous one stopped and wraps around at the end of the file.
//   - step is the number of runs of free blocks to merge, 0 or less defragments the whole file
func (H *HashDB) Defrag(step int64) (err error) {
	defer H.lock()()

	if err = H.beginWrite("defrag"); err != nil {
		return
	}
	if H.tran != nil {
		return newError(KindInvalid, "defrag", fmt.Errorf("not allowed within a transaction"))
	}
	if step <= 0 {
		H.dfcur = H.storage.Layout().FRec
	}
	H.dfcnt = 0

	return toError("defrag", H.defrag(step))
}

// defrag - Scans cells from the defragmentation cursor, sliding records down over the free space in front of them
func (H *HashDB) defrag(step int64) (err error) {
	frec := H.storage.Layout().FRec
	if H.dfcur < frec || H.dfcur >= H.storage.FSiz() {
		H.dfcur = frec
	}

	var spanStart, spanSize, merged int64
	var lastFree bool
	offset := H.dfcur
	for offset < H.storage.FSiz() {
		var rec model.Record
		var free bool
		if rec, free, err = H.readCell(offset); err != nil {
			return
		}

		if free {
			if !lastFree {
				if step > 0 && merged >= step {
					break
				}
				merged++
			}
			if spanSize == 0 {
				spanStart = offset
			}
			spanSize += rec.Size
			H.pool.Splice(offset, offset+1)
			offset += rec.Size
			lastFree = true
			continue
		}

		lastFree = false
		if spanSize == 0 {
			offset += rec.Size
			continue
		}

		var moved bool
		var newSize int64
		if moved, newSize, err = H.moveRecord(rec, spanStart); err != nil {
			return
		}
		if moved {
			spanSize += rec.Size - newSize
			spanStart += newSize
		} else {
			spanSize += rec.Size
		}
		offset += rec.Size
	}

	if spanSize == 0 {
		H.dfcur = offset
		return
	}

	if spanStart+spanSize >= H.storage.FSiz() {
		if err = H.storage.SetFSiz(spanStart); err != nil {
			return
		}
		if err = H.storage.Truncate(spanStart); err != nil {
			return
		}
		H.dfcur = frec
		return
	}

	if err = H.release(spanStart, spanSize); err != nil {
		return
	}
	H.dfcur = spanStart

	return
}

// moveRecord - Rewrites a record at a lower offset with no more padding than alignment needs and relinks it.
// A record no chain leads to is left where it is and reported as not moved, its space is merged with the free space.
//
// It returns:
//   - moved is true if the record was moved
//   - newSize is the cell size at the new offset
//   - err is a standard error, if something went wrong
func (H *HashDB) moveRecord(rec model.Record, to int64) (moved bool, newSize int64, err error) {
	if err = H.loadStored(&rec); err != nil {
		return
	}

	bucketNo, err := H.bucketNo(rec.Key)
	if err != nil {
		return
	}

	prev, linked, err := H.predecessor(bucketNo, rec.Offset)
	if err != nil || !linked {
		if err == nil {
			hLog.Warn(fmt.Sprintf("record at %d of %s is not linked from any bucket, its space is freed", rec.Offset, H.path))
		}
		return
	}

	newSize = H.codec.CellSize(rec.KeySize, rec.ValueSize)
	buf, err := record.EncodeRecord(model.Record{Fragment: rec.Fragment, Next: rec.Next, Key: rec.Key, Value: rec.Value}, newSize)
	if err != nil {
		return
	}
	if err = H.storage.WriteAt(buf, to); err != nil {
		return
	}
	if err = H.relink(bucketNo, prev, to); err != nil {
		return
	}
	if H.iter.offset == rec.Offset {
		H.iter.offset = to
	}

	return true, newSize, nil
}

// predecessor - Finds the cell pointing at offset in the chain of bucketNo
//
// It returns:
//   - prev is the offset of the preceding cell, 0 if offset is first in the chain
//   - linked is false if the chain does not lead to offset
//   - err is a standard error, if something went wrong
func (H *HashDB) predecessor(bucketNo, offset int64) (prev int64, linked bool, err error) {
	records := chain.NewRecords(H.readHead, H.storage.BucketHead(bucketNo), H.maxChain())
	for records.HasNext() {
		var rec model.Record
		if rec, err = records.Next(); err != nil {
			return
		}
		if rec.Offset == offset {
			return records.Previous(), true, nil
		}
	}

	return
}
