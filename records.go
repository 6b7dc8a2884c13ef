package hashdb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gostonefire/hashdb/internal/chain"
	"github.com/gostonefire/hashdb/internal/freepool"
	"github.com/gostonefire/hashdb/internal/model"
	"github.com/gostonefire/hashdb/internal/record"
	"github.com/gostonefire/hashdb/internal/utils"
)

// location - Where a key lives in its bucket chain, or where it would be linked in
//   - bucketNo is the bucket of the key
//   - prev is the offset of the cell preceding the record, 0 if the record is first in the chain
//   - last is the offset of the last cell in the chain when the key was not found, 0 for an empty chain
type location struct {
	bucketNo int64
	prev     int64
	last     int64
	record   model.Record
	found    bool
}

// bucketNo - Returns the bucket of key, checking that the hash algorithm keeps within the table
func (H *HashDB) bucketNo(key []byte) (bucketNo int64, err error) {
	bucketNo = H.hashAlgo.HashFunc1(key)
	if bucketNo < 0 || bucketNo >= H.storage.Header().BNum {
		err = newError(KindInvalid, "", fmt.Errorf("bucket number %d out of range from hash algorithm", bucketNo))
	}

	return
}

// maxChain - Returns the number of cells no chain can exceed
func (H *HashDB) maxChain() int64 {
	return (H.storage.FSiz()-H.storage.Layout().FRec)/H.codec.MinCell() + 1
}

// readPrefix - Reads up to size bytes at offset, never past the logical end of file
func (H *HashDB) readPrefix(offset, size int64) (buf []byte, err error) {
	fsiz := H.storage.FSiz()
	if offset < H.storage.Layout().FRec || offset >= fsiz {
		err = fmt.Errorf("%w: cell offset %d outside record region", record.ErrCorrupt, offset)
		return
	}
	if offset+size > fsiz {
		size = fsiz - offset
	}

	buf = make([]byte, size)
	n, err := H.storage.ReadAt(buf, offset)
	if err == io.EOF {
		buf, err = buf[:n], nil
	}

	return
}

// readHead - Reads the head of the record cell at offset, the key is included if it is short enough
func (H *HashDB) readHead(offset int64) (rec model.Record, err error) {
	buf, err := H.readPrefix(offset, record.ReadAhead)
	if err != nil {
		return
	}

	rec, err = record.DecodeHead(buf, offset)
	if err != nil {
		return
	}
	if offset+rec.Size > H.storage.FSiz() {
		err = fmt.Errorf("%w: cell at %d reaches past end of file", record.ErrCorrupt, offset)
	}

	return
}

// readCell - Reads the head of whatever cell starts at offset, a record or a free block
func (H *HashDB) readCell(offset int64) (rec model.Record, free bool, err error) {
	buf, err := H.readPrefix(offset, record.ReadAhead)
	if err != nil {
		return
	}

	if record.IsFreeBlock(buf) {
		var size int64
		size, err = record.DecodeFreeBlock(buf, offset)
		rec = model.Record{Offset: offset, Size: size}
		free = true
		if err == nil && offset+size > H.storage.FSiz() {
			err = fmt.Errorf("%w: free block at %d reaches past end of file", record.ErrCorrupt, offset)
		}
		return
	}

	rec, err = H.readHead(offset)

	return
}

// loadKey - Fills in the key of a record read by readHead
func (H *HashDB) loadKey(rec *model.Record) (err error) {
	if rec.Key != nil {
		return
	}

	key := make([]byte, rec.KeySize)
	if _, err = H.storage.ReadAt(key, rec.Offset+rec.HeadSize); err != nil {
		return fmt.Errorf("error while reading key at %d: %w", rec.Offset, err)
	}
	rec.Key = key

	return
}

// loadStored - Fills in the stored value of a record read by readHead, verifying the checksum
func (H *HashDB) loadStored(rec *model.Record) (err error) {
	buf := make([]byte, rec.UsedSize())
	if _, err = H.storage.ReadAt(buf, rec.Offset); err != nil {
		return fmt.Errorf("error while reading record at %d: %w", rec.Offset, err)
	}

	full, err := record.DecodeRecord(buf, rec.Offset)
	if err != nil {
		return
	}
	rec.Key = full.Key
	rec.Value = full.Value

	return
}

// loadValue - Returns the user value of a record read by readHead
func (H *HashDB) loadValue(rec *model.Record) (value []byte, err error) {
	if err = H.loadStored(rec); err != nil {
		return
	}

	return H.codec.Unpack(rec.Value)
}

// locate - Walks the bucket chain of key, comparing hash fragments before keys
func (H *HashDB) locate(key []byte) (loc location, err error) {
	loc.bucketNo, err = H.bucketNo(key)
	if err != nil {
		return
	}

	fragment := H.hashAlgo.HashFunc2(key)
	records := chain.NewRecords(H.readHead, H.storage.BucketHead(loc.bucketNo), H.maxChain())
	for records.HasNext() {
		var rec model.Record
		rec, err = records.Next()
		if err != nil {
			return
		}

		if rec.Fragment == fragment && rec.KeySize == int64(len(key)) {
			if err = H.loadKey(&rec); err != nil {
				return
			}
			if utils.IsEqual(rec.Key, key) {
				loc.record = rec
				loc.prev = records.Previous()
				loc.found = true
				return
			}
		}
		loc.last = rec.Offset
	}

	return
}

// setNext - Points the cell at offset to the next cell in its chain
func (H *HashDB) setNext(offset, next int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(next))

	return H.storage.WriteAt(buf, offset+record.NextOffset)
}

// relink - Points the predecessor of a chain position, or the bucket itself, to offset
func (H *HashDB) relink(bucketNo, prev, offset int64) error {
	if prev == 0 {
		return H.storage.SetBucketHead(bucketNo, offset)
	}

	return H.setNext(prev, offset)
}

// allocate - Finds space for a cell of size bytes, from the free block pool or at the end of the file
//
// It returns:
//   - offset is where the cell goes
//   - cellSize is the size the cell should be written with, it can exceed size when a block is not worth splitting
//   - extend is true if the cell goes at the end of the file, the logical file size must be updated after writing it
//   - err is a standard error, if something went wrong
func (H *HashDB) allocate(size int64) (offset, cellSize int64, extend bool, err error) {
	if size > record.MaxCellSize {
		err = newError(KindInvalid, "", fmt.Errorf("record of %d bytes exceeds the max cell size", size))
		return
	}

	if block, ok := H.pool.Allocate(size); ok {
		offset, cellSize = block.Offset, block.Size
		if block.Size-size >= H.codec.MinCell() {
			if err = H.release(block.Offset+size, block.Size-size); err != nil {
				return
			}
			cellSize = size
		}
		return
	}

	offset = H.storage.FSiz()
	if offset > H.storage.MaxOffset() {
		err = newError(KindInvalid, "", fmt.Errorf("file size limit of the bucket slots reached, use TLarge"))
		return
	}
	cellSize = size
	extend = true

	return
}

// release - Turns a span of the record region into a free block and offers it to the pool
func (H *HashDB) release(offset, size int64) (err error) {
	if err = H.storage.WriteAt(record.EncodeFreeBlock(size), offset); err != nil {
		return
	}
	_ = H.pool.Free(model.FreeBlock{Offset: offset, Size: size})

	return
}

// free - Releases the cell of a removed or relocated record
func (H *HashDB) free(offset, size int64) (err error) {
	if err = H.release(offset, size); err != nil {
		return
	}
	H.dfcnt++

	return
}

// writeCell - Encodes a record into a cell of cellSize bytes at offset
func (H *HashDB) writeCell(rec model.Record, offset, cellSize int64, extend bool) (err error) {
	buf, err := record.EncodeRecord(rec, cellSize)
	if err != nil {
		return
	}
	if err = H.storage.WriteAt(buf, offset); err != nil {
		return
	}
	if extend {
		err = H.storage.SetFSiz(offset + cellSize)
	}

	return
}

// insert - Adds a new record at the tail of the chain found by locate
func (H *HashDB) insert(loc location, key, value []byte) (err error) {
	stored, err := H.codec.Pack(value)
	if err != nil {
		return
	}

	offset, cellSize, extend, err := H.allocate(H.codec.CellSize(int64(len(key)), int64(len(stored))))
	if err != nil {
		return
	}

	rec := model.Record{Fragment: H.hashAlgo.HashFunc2(key), Key: key, Value: stored}
	if err = H.writeCell(rec, offset, cellSize, extend); err != nil {
		return
	}
	if err = H.relink(loc.bucketNo, loc.last, offset); err != nil {
		return
	}

	return H.storage.SetRNum(H.storage.RNum() + 1)
}

// rewrite - Replaces the value of the record found by locate, in place when the new cell fits
func (H *HashDB) rewrite(loc location, key, value []byte) (err error) {
	stored, err := H.codec.Pack(value)
	if err != nil {
		return
	}

	old := loc.record
	need := H.codec.CellSize(int64(len(key)), int64(len(stored)))
	rec := model.Record{Fragment: old.Fragment, Next: old.Next, Key: key, Value: stored}

	if freepool.Reuse(old.Size, need) {
		cellSize := old.Size
		split := old.Size-need >= H.codec.MinCell()
		if split {
			cellSize = need
		}
		if err = H.writeCell(rec, old.Offset, cellSize, false); err != nil {
			return
		}
		if split {
			err = H.release(old.Offset+need, old.Size-need)
		}
		return
	}

	offset, cellSize, extend, err := H.allocate(need)
	if err != nil {
		return
	}
	if err = H.writeCell(rec, offset, cellSize, extend); err != nil {
		return
	}
	if err = H.relink(loc.bucketNo, loc.prev, offset); err != nil {
		return
	}
	if H.iter.offset == old.Offset {
		H.iter.offset = offset
	}

	return H.free(old.Offset, old.Size)
}

// remove - Unlinks the record found by locate and frees its cell
func (H *HashDB) remove(loc location) (err error) {
	old := loc.record
	if err = H.relink(loc.bucketNo, loc.prev, old.Next); err != nil {
		return
	}
	if H.iter.offset == old.Offset {
		H.iter.offset = old.Next
		if old.Next == 0 {
			H.iter.bucketNo = loc.bucketNo + 1
		}
	}
	if err = H.free(old.Offset, old.Size); err != nil {
		return
	}

	return H.storage.SetRNum(H.storage.RNum() - 1)
}
