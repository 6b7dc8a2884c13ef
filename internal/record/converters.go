package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/gostonefire/hashdb/internal/model"
)

// Magic - First byte of every record cell
const Magic uint8 = 0xC8

// FreeMagic - First byte of every free block
const FreeMagic uint8 = 0xB0

// FragmentOffset - Cell offset to the hash fragment - 1 byte
const FragmentOffset int64 = 1

// PaddingOffset - Cell offset to the padding size - 4 bytes
const PaddingOffset int64 = 2

// NextOffset - Cell offset to the offset of the next cell in the bucket chain - 8 bytes
const NextOffset int64 = 6

// fixedHeadLength - Length of the fixed part of a cell, before the variable length size fields
const fixedHeadLength int64 = 14

// checksumLength - Length of the checksum trailing the value
const checksumLength int64 = 4

// FreeBlockHeadLength - Length of a free block header, magic, 3 reserved bytes and a 4 byte size
const FreeBlockHeadLength int64 = 8

// MinCellSize - Smallest possible cell, an empty key with an empty value
const MinCellSize int64 = fixedHeadLength + 2 + checksumLength

// MaxCellSize - Largest possible cell, sizes of cells and free blocks are stored in 4 bytes
const MaxCellSize int64 = math.MaxUint32

// ReadAhead - Number of bytes read when only the head of a cell is wanted
const ReadAhead int64 = 256

// ErrCorrupt - Returned when a cell or free block does not decode
var ErrCorrupt = errors.New("corrupt cell")

// UsedSize - Returns the size of a cell holding key and stored value, not counting padding
func UsedSize(keySize, valueSize int64) int64 {
	return fixedHeadLength + uvarintSize(keySize) + uvarintSize(valueSize) + keySize + valueSize + checksumLength
}

// EncodeRecord - Converts a record to a cell of exactly cellSize bytes
//   - record is the record to convert, only Fragment, Next, Key and Value are used
//   - cellSize is the total size of the resulting cell, the space not used by the record becomes padding
//
// It returns:
//   - buf is the cell
//   - err is a standard error, if something went wrong
func EncodeRecord(record model.Record, cellSize int64) (buf []byte, err error) {
	keySize := int64(len(record.Key))
	valueSize := int64(len(record.Value))
	used := UsedSize(keySize, valueSize)
	if cellSize < used {
		err = fmt.Errorf("cell size %d too small for record of size %d", cellSize, used)
		return
	}
	if cellSize > MaxCellSize {
		err = fmt.Errorf("cell size %d exceeds max cell size", cellSize)
		return
	}

	buf = make([]byte, cellSize)
	buf[0] = Magic
	buf[FragmentOffset] = record.Fragment
	binary.LittleEndian.PutUint32(buf[PaddingOffset:], uint32(cellSize-used))
	binary.LittleEndian.PutUint64(buf[NextOffset:], uint64(record.Next))

	n := fixedHeadLength
	n += int64(binary.PutUvarint(buf[n:], uint64(keySize)))
	n += int64(binary.PutUvarint(buf[n:], uint64(valueSize)))
	n += int64(copy(buf[n:], record.Key))
	n += int64(copy(buf[n:], record.Value))
	binary.LittleEndian.PutUint32(buf[n:], checksum(record.Key, record.Value))

	return
}

// DecodeHead - Converts the beginning of a cell to a record
// The key is filled in if buf holds it in full, otherwise Key is left nil. The value is never filled in.
//   - buf is a prefix of the cell, at least the fixed head and the size fields
//   - offset is the position of the cell in the file
//
// It returns:
//   - record is the partially decoded record
//   - err is either of type ErrCorrupt or nil
func DecodeHead(buf []byte, offset int64) (record model.Record, err error) {
	if int64(len(buf)) < fixedHeadLength {
		err = fmt.Errorf("%w: short cell head at offset %d", ErrCorrupt, offset)
		return
	}
	if buf[0] != Magic {
		err = fmt.Errorf("%w: bad magic %#x at offset %d", ErrCorrupt, buf[0], offset)
		return
	}

	n := fixedHeadLength
	keySize, m := binary.Uvarint(buf[n:])
	if m <= 0 {
		err = fmt.Errorf("%w: bad key size at offset %d", ErrCorrupt, offset)
		return
	}
	n += int64(m)
	valueSize, m := binary.Uvarint(buf[n:])
	if m <= 0 {
		err = fmt.Errorf("%w: bad value size at offset %d", ErrCorrupt, offset)
		return
	}
	n += int64(m)

	if keySize > uint64(MaxCellSize) || valueSize > uint64(MaxCellSize) {
		err = fmt.Errorf("%w: record sizes out of range at offset %d", ErrCorrupt, offset)
		return
	}

	record.Offset = offset
	record.Fragment = buf[FragmentOffset]
	record.Padding = int64(binary.LittleEndian.Uint32(buf[PaddingOffset:]))
	record.Next = int64(binary.LittleEndian.Uint64(buf[NextOffset:]))
	record.HeadSize = n
	record.KeySize = int64(keySize)
	record.ValueSize = int64(valueSize)
	record.Size = n + record.KeySize + record.ValueSize + checksumLength + record.Padding
	if record.Size > MaxCellSize {
		err = fmt.Errorf("%w: cell size out of range at offset %d", ErrCorrupt, offset)
		return
	}

	if int64(len(buf)) >= n+record.KeySize {
		record.Key = make([]byte, record.KeySize)
		_ = copy(record.Key, buf[n:n+record.KeySize])
	}

	return
}

// DecodeRecord - Converts a complete cell to a record and verifies its checksum
//   - buf is the cell, at least the used part of it
//   - offset is the position of the cell in the file
//
// It returns:
//   - record is the decoded record with both key and stored value filled in
//   - err is either of type ErrCorrupt or nil
func DecodeRecord(buf []byte, offset int64) (record model.Record, err error) {
	record, err = DecodeHead(buf, offset)
	if err != nil {
		return
	}

	if int64(len(buf)) < record.UsedSize() {
		err = fmt.Errorf("%w: short cell at offset %d", ErrCorrupt, offset)
		return
	}

	valueStart := record.HeadSize + record.KeySize
	valueEnd := valueStart + record.ValueSize
	record.Value = make([]byte, record.ValueSize)
	_ = copy(record.Value, buf[valueStart:valueEnd])

	if binary.LittleEndian.Uint32(buf[valueEnd:]) != checksum(record.Key, record.Value) {
		err = fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorrupt, offset)
	}

	return
}

// EncodeFreeBlock - Returns the header of a free block of the given size
func EncodeFreeBlock(size int64) (buf []byte) {
	buf = make([]byte, FreeBlockHeadLength)
	buf[0] = FreeMagic
	binary.LittleEndian.PutUint32(buf[4:], uint32(size))

	return
}

// DecodeFreeBlock - Returns the size of the free block whose header starts buf
func DecodeFreeBlock(buf []byte, offset int64) (size int64, err error) {
	if int64(len(buf)) < FreeBlockHeadLength || buf[0] != FreeMagic {
		err = fmt.Errorf("%w: bad free block at offset %d", ErrCorrupt, offset)
		return
	}

	size = int64(binary.LittleEndian.Uint32(buf[4:]))
	if size < FreeBlockHeadLength {
		err = fmt.Errorf("%w: free block size %d out of range at offset %d", ErrCorrupt, size, offset)
	}

	return
}

// IsFreeBlock - Returns true if buf starts with a free block header
func IsFreeBlock(buf []byte) bool {
	return len(buf) > 0 && buf[0] == FreeMagic
}

func checksum(key, value []byte) uint32 {
	c := crc32.ChecksumIEEE(key)
	return crc32.Update(c, crc32.IEEETable, value)
}

func uvarintSize(v int64) int64 {
	var b [binary.MaxVarintLen64]byte
	return int64(binary.PutUvarint(b[:], uint64(v)))
}
