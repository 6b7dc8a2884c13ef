package storage

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/gostonefire/hashdb/internal/conf"
	"github.com/gostonefire/hashdb/internal/model"
	"github.com/gostonefire/hashdb/internal/utils"
)

// Header - Represents the database file header data
type Header struct {
	Type         uint8
	Flags        uint8
	APow         uint8
	FPow         uint8
	Opts         uint8
	InternalHash bool
	BNum         int64
	RNum         int64
	FSiz         int64
	FRec         int64
	Inode        uint64
	MTime        int64
	FBPNum       int64
	Opaque       []byte
}

// Layout - Positions of the regions following the header, derived from the tuning parameters
type Layout struct {
	Width      int64
	PoolOffset int64
	FRec       int64
}

// NewLayout - Returns the region layout for the given tuning parameters
//   - bnum is the number of buckets
//   - apow is the alignment power
//   - fpow is the free block pool power
//   - opts is the options bitmask, OptLarge selects 8 byte bucket slots
func NewLayout(bnum int64, apow, fpow, opts uint8) (layout Layout) {
	layout.Width = 4
	if opts&model.OptLarge != 0 {
		layout.Width = 8
	}
	layout.PoolOffset = conf.HeaderLength + bnum*layout.Width
	layout.FRec = utils.AlignUp(layout.PoolOffset+(int64(1)<<fpow)*conf.FreeBlockEntryLength, int64(1)<<apow)

	return
}

// GetHeader - Reads header data from file, validates it and returns it as a Header struct
func GetHeader(file *os.File) (header Header, err error) {
	buf := make([]byte, conf.HeaderLength)
	_, err = file.ReadAt(buf, 0)
	if err != nil {
		err = fmt.Errorf("%w: error while reading header: %s", ErrBadHeader, err)
		return
	}

	header, err = bytesToHeader(buf)

	return
}

// SetHeader - Takes a Header struct and writes header data to file
func SetHeader(file *os.File, header Header) (err error) {
	_, err = file.WriteAt(headerToBytes(header), 0)

	return
}

// bytesToHeader - Converts a slice of bytes to a Header struct
func bytesToHeader(buf []byte) (header Header, err error) {
	if string(buf[conf.MagicOffset:conf.MagicOffset+int64(len(conf.MagicData))]) != conf.MagicData {
		err = fmt.Errorf("%w: not a hash database file", ErrBadHeader)
		return
	}

	header = Header{
		Type:         buf[conf.TypeOffset],
		Flags:        buf[conf.FlagsOffset],
		APow:         buf[conf.APowOffset],
		FPow:         buf[conf.FPowOffset],
		Opts:         buf[conf.OptsOffset],
		InternalHash: buf[conf.HashOffset] == 1,
		BNum:         int64(binary.LittleEndian.Uint64(buf[conf.BNumOffset:])),
		RNum:         int64(binary.LittleEndian.Uint64(buf[conf.RNumOffset:])),
		FSiz:         int64(binary.LittleEndian.Uint64(buf[conf.FSizOffset:])),
		FRec:         int64(binary.LittleEndian.Uint64(buf[conf.FRecOffset:])),
		Inode:        binary.LittleEndian.Uint64(buf[conf.InodeOffset:]),
		MTime:        int64(binary.LittleEndian.Uint64(buf[conf.MTimeOffset:])),
		FBPNum:       int64(binary.LittleEndian.Uint64(buf[conf.FBPNumOffset:])),
		Opaque:       utils.CopyBytes(buf[conf.OpaqueOffset : conf.OpaqueOffset+conf.OpaqueLength]),
	}

	if header.Type != conf.TypeHash {
		err = fmt.Errorf("%w: unknown database type %d", ErrBadHeader, header.Type)
		return
	}
	if header.BNum < 1 || header.APow > conf.MaxAPow || header.FPow > conf.MaxFPow {
		err = fmt.Errorf("%w: tuning parameters out of range", ErrBadHeader)
		return
	}
	if NewLayout(header.BNum, header.APow, header.FPow, header.Opts).FRec != header.FRec {
		err = fmt.Errorf("%w: first record offset %d does not match layout", ErrBadHeader, header.FRec)
		return
	}
	if header.FSiz < header.FRec || header.RNum < 0 || header.FBPNum < 0 {
		err = fmt.Errorf("%w: counters out of range", ErrBadHeader)
	}

	return
}

// headerToBytes - Converts a Header struct to a slice of bytes
func headerToBytes(header Header) (buf []byte) {
	buf = make([]byte, conf.HeaderLength)

	_ = copy(buf[conf.MagicOffset:conf.MagicOffset+conf.MagicLength], conf.MagicData)
	buf[conf.TypeOffset] = header.Type
	buf[conf.FlagsOffset] = header.Flags
	buf[conf.APowOffset] = header.APow
	buf[conf.FPowOffset] = header.FPow
	buf[conf.OptsOffset] = header.Opts
	if header.InternalHash {
		buf[conf.HashOffset] = 1
	}

	binary.LittleEndian.PutUint64(buf[conf.BNumOffset:], uint64(header.BNum))
	binary.LittleEndian.PutUint64(buf[conf.RNumOffset:], uint64(header.RNum))
	binary.LittleEndian.PutUint64(buf[conf.FSizOffset:], uint64(header.FSiz))
	binary.LittleEndian.PutUint64(buf[conf.FRecOffset:], uint64(header.FRec))
	binary.LittleEndian.PutUint64(buf[conf.InodeOffset:], header.Inode)
	binary.LittleEndian.PutUint64(buf[conf.MTimeOffset:], uint64(header.MTime))
	binary.LittleEndian.PutUint64(buf[conf.FBPNumOffset:], uint64(header.FBPNum))
	_ = copy(buf[conf.OpaqueOffset:conf.OpaqueOffset+conf.OpaqueLength], header.Opaque)

	return
}
