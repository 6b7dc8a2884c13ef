package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/gostonefire/hashdb/internal/conf"
	"github.com/gostonefire/hashdb/internal/model"
)

// ErrBadHeader - Returned when the file header does not describe a valid database file
var ErrBadHeader = errors.New("bad header")

// ErrWouldBlock - Returned when a non-blocking lock request finds the file locked
var ErrWouldBlock = errors.New("lock would block")

// ErrAddressRange - Returned when an offset can not be stored in a bucket slot
var ErrAddressRange = errors.New("offset out of addressable range")

// ErrReadOnly - Returned when writing through a storage opened for reading only
var ErrReadOnly = errors.New("storage opened for reading only")

// Journal - Receives the before-image of every write that touches bytes below its limit
type Journal interface {
	// Limit - Returns the file size when the journal was started, bytes at or above it are not journaled
	Limit() int64

	// Append - Stores the bytes at offset before they are overwritten
	Append(offset int64, before []byte) error
}

// Storage - The database file, with the header, the bucket directory and the free block pool region mapped
// into memory and the record region accessed through positional reads and writes
type Storage struct {
	file    *os.File
	writer  bool
	locked  bool
	region  mmap.MMap
	header  Header
	layout  Layout
	journal Journal
}

// OpenFile - Opens (and possibly creates) the database file without reading or mapping anything
//   - fileName is the path to the database file
//   - writer opens the file for both reading and writing
//   - create creates the file if it does not exist, only used together with writer
//
// It returns:
//   - S is a pointer to the new Storage instance
//   - err is a standard error, os.ErrNotExist is wrapped if the file is missing
func OpenFile(fileName string, writer, create bool) (S *Storage, err error) {
	flag := os.O_RDONLY
	if writer {
		flag = os.O_RDWR
		if create {
			flag |= os.O_CREATE
		}
	}

	file, err := os.OpenFile(fileName, flag, 0644)
	if err != nil {
		err = fmt.Errorf("error while opening database file: %w", err)
		return
	}

	S = &Storage{file: file, writer: writer}

	return
}

// Size - Returns the true size of the file
func (S *Storage) Size() (size int64, err error) {
	info, err := S.file.Stat()
	if err != nil {
		err = fmt.Errorf("error while getting file info: %s", err)
		return
	}
	size = info.Size()

	return
}

// Initialize - Truncates the file and writes a fresh header, empty directory and empty free block pool region
//   - header is the header to write, FRec and FSiz are set from the layout
//
// It returns:
//   - err is a standard error, if something went wrong
func (S *Storage) Initialize(header Header) (err error) {
	if !S.writer {
		return ErrReadOnly
	}

	S.unmap()

	layout := NewLayout(header.BNum, header.APow, header.FPow, header.Opts)
	header.Type = conf.TypeHash
	header.FRec = layout.FRec
	header.FSiz = layout.FRec

	if err = S.file.Truncate(0); err != nil {
		return fmt.Errorf("error while truncating database file: %s", err)
	}
	if err = S.file.Truncate(layout.FRec); err != nil {
		return fmt.Errorf("error while sizing database file: %s", err)
	}
	if err = SetHeader(S.file, header); err != nil {
		return fmt.Errorf("error while writing header: %s", err)
	}

	S.header = header
	S.layout = layout

	err = S.mapRegion()

	return
}

// Load - Reads and validates the header of an existing file and maps the fixed regions
//
// It returns:
//   - header is the header as found in the file
//   - err is a standard error, ErrBadHeader is wrapped if the file is not a valid database file
func (S *Storage) Load() (header Header, err error) {
	S.unmap()

	header, err = GetHeader(S.file)
	if err != nil {
		return
	}

	size, err := S.Size()
	if err != nil {
		return
	}
	if size < header.FRec {
		err = fmt.Errorf("%w: file size %d shorter than first record offset %d", ErrBadHeader, size, header.FRec)
		return
	}

	S.header = header
	S.layout = NewLayout(header.BNum, header.APow, header.FPow, header.Opts)

	err = S.mapRegion()

	return
}

// Header - Returns the header with the counters as currently mapped
func (S *Storage) Header() (header Header) {
	header = S.header
	header.Flags = S.Flags()
	header.RNum = S.RNum()
	header.FSiz = S.FSiz()
	header.FBPNum = S.getUint64(conf.FBPNumOffset)
	header.Inode = uint64(S.getUint64(conf.InodeOffset))
	header.MTime = S.getUint64(conf.MTimeOffset)
	header.Opaque = S.Opaque()

	return
}

// Layout - Returns the region layout of the file
func (S *Storage) Layout() Layout {
	return S.layout
}

// Flags - Returns the additional flags
func (S *Storage) Flags() uint8 {
	return S.region[conf.FlagsOffset]
}

// SetFlags - Sets the additional flags
func (S *Storage) SetFlags(flags uint8) error {
	return S.WriteAt([]byte{flags}, conf.FlagsOffset)
}

// RNum - Returns the number of records
func (S *Storage) RNum() int64 {
	return S.getUint64(conf.RNumOffset)
}

// SetRNum - Sets the number of records
func (S *Storage) SetRNum(rnum int64) error {
	return S.setUint64(conf.RNumOffset, rnum)
}

// FSiz - Returns the logical file size
func (S *Storage) FSiz() int64 {
	return S.getUint64(conf.FSizOffset)
}

// SetFSiz - Sets the logical file size
func (S *Storage) SetFSiz(fsiz int64) error {
	return S.setUint64(conf.FSizOffset, fsiz)
}

// Opaque - Returns a copy of the opaque user field
func (S *Storage) Opaque() (opaque []byte) {
	opaque = make([]byte, conf.OpaqueLength)
	_ = copy(opaque, S.region[conf.OpaqueOffset:conf.OpaqueOffset+conf.OpaqueLength])

	return
}

// SetOpaque - Sets the opaque user field, data longer than the field is cut and shorter data is zero padded
func (S *Storage) SetOpaque(data []byte) error {
	buf := make([]byte, conf.OpaqueLength)
	_ = copy(buf, data)

	return S.WriteAt(buf, conf.OpaqueOffset)
}

// SetIdentity - Records the inode and modification time snapshot of the file
func (S *Storage) SetIdentity(inode uint64, mtime int64) (err error) {
	if err = S.setUint64(conf.InodeOffset, int64(inode)); err != nil {
		return
	}
	err = S.setUint64(conf.MTimeOffset, mtime)

	return
}

// BucketHead - Returns the offset of the first cell in the bucket chain, 0 if the bucket is empty
func (S *Storage) BucketHead(bucketNo int64) int64 {
	pos := conf.HeaderLength + bucketNo*S.layout.Width
	if S.layout.Width == 4 {
		return int64(binary.LittleEndian.Uint32(S.region[pos:])) << S.header.APow
	}

	return int64(binary.LittleEndian.Uint64(S.region[pos:])) << S.header.APow
}

// SetBucketHead - Sets the offset of the first cell in the bucket chain, 0 empties the bucket
func (S *Storage) SetBucketHead(bucketNo, offset int64) error {
	if offset > S.MaxOffset() {
		return fmt.Errorf("%w: %d", ErrAddressRange, offset)
	}

	buf := make([]byte, S.layout.Width)
	slot := uint64(offset) >> S.header.APow
	if S.layout.Width == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(slot))
	} else {
		binary.LittleEndian.PutUint64(buf, slot)
	}

	return S.WriteAt(buf, conf.HeaderLength+bucketNo*S.layout.Width)
}

// MaxOffset - Returns the highest cell offset a bucket slot can address
func (S *Storage) MaxOffset() int64 {
	if S.layout.Width == 4 {
		return int64(math.MaxUint32) << S.header.APow
	}

	return math.MaxInt64
}

// ClearDirectory - Empties every bucket
func (S *Storage) ClearDirectory() error {
	return S.WriteAt(make([]byte, S.header.BNum*S.layout.Width), conf.HeaderLength)
}

// ReadFreeBlocks - Returns the free blocks persisted in the free block pool region
func (S *Storage) ReadFreeBlocks() (blocks []model.FreeBlock) {
	n := S.getUint64(conf.FBPNumOffset)
	capacity := (S.layout.FRec - S.layout.PoolOffset) / conf.FreeBlockEntryLength
	if n > capacity {
		n = capacity
	}

	blocks = make([]model.FreeBlock, 0, n)
	for i := int64(0); i < n; i++ {
		pos := S.layout.PoolOffset + i*conf.FreeBlockEntryLength
		blocks = append(blocks, model.FreeBlock{
			Offset: int64(binary.LittleEndian.Uint64(S.region[pos:])),
			Size:   int64(binary.LittleEndian.Uint64(S.region[pos+8:])),
		})
	}

	return
}

// WriteFreeBlocks - Persists free blocks in the free block pool region, blocks beyond its capacity are left out
func (S *Storage) WriteFreeBlocks(blocks []model.FreeBlock) (err error) {
	capacity := (S.layout.FRec - S.layout.PoolOffset) / conf.FreeBlockEntryLength
	if int64(len(blocks)) > capacity {
		blocks = blocks[:capacity]
	}

	buf := make([]byte, int64(len(blocks))*conf.FreeBlockEntryLength)
	for i, b := range blocks {
		pos := int64(i) * conf.FreeBlockEntryLength
		binary.LittleEndian.PutUint64(buf[pos:], uint64(b.Offset))
		binary.LittleEndian.PutUint64(buf[pos+8:], uint64(b.Size))
	}

	if len(buf) > 0 {
		if err = S.WriteAt(buf, S.layout.PoolOffset); err != nil {
			return
		}
	}
	err = S.setUint64(conf.FBPNumOffset, int64(len(blocks)))

	return
}

// SetJournal - Attaches a journal receiving before-images of overwritten bytes, nil detaches it
func (S *Storage) SetJournal(journal Journal) {
	S.journal = journal
}

// ReadAt - Reads len(buf) bytes at offset
// Reads reaching past the end of the file return the number of bytes read together with io.EOF.
func (S *Storage) ReadAt(buf []byte, offset int64) (n int, err error) {
	end := offset + int64(len(buf))
	if end <= S.layout.FRec {
		n = copy(buf, S.region[offset:end])
		return
	}

	n, err = S.file.ReadAt(buf, offset)

	return
}

// WriteAt - Writes buf at offset, passing the before-image to the journal first if one is attached
func (S *Storage) WriteAt(buf []byte, offset int64) (err error) {
	if !S.writer {
		return ErrReadOnly
	}

	if S.journal != nil && offset < S.journal.Limit() {
		n := int64(len(buf))
		if limit := S.journal.Limit() - offset; n > limit {
			n = limit
		}

		before := make([]byte, n)
		if _, err = S.ReadAt(before, offset); err != nil && err != io.EOF {
			return fmt.Errorf("error while reading before-image: %s", err)
		}
		if err = S.journal.Append(offset, before); err != nil {
			return fmt.Errorf("error while journaling write: %s", err)
		}
	}

	return S.RestoreAt(buf, offset)
}

// RestoreAt - Writes buf at offset bypassing any journal
func (S *Storage) RestoreAt(buf []byte, offset int64) (err error) {
	if !S.writer {
		return ErrReadOnly
	}

	end := offset + int64(len(buf))
	switch {
	case end <= S.layout.FRec:
		_ = copy(S.region[offset:end], buf)
	case offset >= S.layout.FRec:
		if _, err = S.file.WriteAt(buf, offset); err != nil {
			err = fmt.Errorf("error while writing to database file: %s", err)
		}
	default:
		err = fmt.Errorf("write at %d of %d bytes straddles the record region", offset, len(buf))
	}

	return
}

// Truncate - Sets the true size of the file
func (S *Storage) Truncate(size int64) (err error) {
	if !S.writer {
		return ErrReadOnly
	}
	if size < S.layout.FRec {
		return fmt.Errorf("can not truncate below first record offset %d", S.layout.FRec)
	}
	if err = S.file.Truncate(size); err != nil {
		err = fmt.Errorf("error while truncating database file: %s", err)
	}

	return
}

// Sync - Flushes the mapped regions to the file, and with phys also forces the file to the device
func (S *Storage) Sync(phys bool) (err error) {
	if !S.writer {
		return nil
	}
	if S.region != nil {
		if err = S.region.Flush(); err != nil {
			return fmt.Errorf("error while flushing mapped region: %s", err)
		}
	}
	if phys {
		if err = dataSync(S.file); err != nil {
			return fmt.Errorf("error while syncing database file: %s", err)
		}
	}

	return
}

// Identity - Returns the inode and modification time of the file
func (S *Storage) Identity() (inode uint64, mtime int64, err error) {
	return fileIdentity(S.file)
}

// CopyTo - Copies the first size bytes of the file to w
func (S *Storage) CopyTo(w io.Writer, size int64) (err error) {
	if _, err = io.Copy(w, io.NewSectionReader(S.file, 0, size)); err != nil {
		err = fmt.Errorf("error while copying database file: %s", err)
	}

	return
}

// Close - Unmaps the fixed regions, releases any lock and closes the file
func (S *Storage) Close() (err error) {
	S.unmap()
	if S.locked {
		_ = S.Unlock()
	}
	if err = S.file.Close(); err != nil {
		err = fmt.Errorf("error while closing database file: %s", err)
	}

	return
}

func (S *Storage) mapRegion() (err error) {
	prot := mmap.RDONLY
	if S.writer {
		prot = mmap.RDWR
	}

	S.region, err = mmap.MapRegion(S.file, int(S.layout.FRec), prot, 0, 0)
	if err != nil {
		err = fmt.Errorf("error while mapping database file: %s", err)
	}

	return
}

func (S *Storage) unmap() {
	if S.region != nil {
		_ = S.region.Unmap()
		S.region = nil
	}
}

func (S *Storage) getUint64(offset int64) int64 {
	return int64(binary.LittleEndian.Uint64(S.region[offset:]))
}

func (S *Storage) setUint64(offset, value int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(value))

	return S.WriteAt(buf, offset)
}

// BucketsUsed - Returns the number of buckets that are not empty
func (S *Storage) BucketsUsed() (used int64) {
	for i := int64(0); i < S.header.BNum; i++ {
		if S.BucketHead(i) != 0 {
			used++
		}
	}

	return
}
