package record

import (
	"fmt"

	"github.com/gostonefire/hashdb/codecfunc"
	"github.com/gostonefire/hashdb/internal/compress"
	"github.com/gostonefire/hashdb/internal/model"
	"github.com/gostonefire/hashdb/internal/utils"
)

// Codec - Converts between user key/value pairs and aligned record cells, applying the value transform
type Codec struct {
	transform codecfunc.Codec
	align     int64
}

// NewCodec - Returns a pointer to a new Codec instance
//   - transform is the value transform, typically from compress.New
//   - align is the cell alignment in bytes, a power of 2
func NewCodec(transform codecfunc.Codec, align int64) *Codec {
	return &Codec{transform: transform, align: align}
}

// Align - Returns the cell alignment in bytes
func (C *Codec) Align() int64 {
	return C.align
}

// MinCell - Returns the smallest aligned cell size
func (C *Codec) MinCell() int64 {
	return utils.AlignUp(MinCellSize, C.align)
}

// CellSize - Returns the aligned cell size needed for a key and a stored value
func (C *Codec) CellSize(keySize, storedSize int64) int64 {
	return utils.AlignUp(UsedSize(keySize, storedSize), C.align)
}

// Pack - Applies the value transform to a value
func (C *Codec) Pack(value []byte) (stored []byte, err error) {
	stored, err = C.transform.Encode(value)
	if err != nil {
		err = fmt.Errorf("error while encoding value: %s", err)
	}

	return
}

// Unpack - Reverses the value transform for a stored value
func (C *Codec) Unpack(stored []byte) (value []byte, err error) {
	value, err = C.transform.Decode(stored)
	if err != nil {
		err = fmt.Errorf("%w: error while decoding value: %s", ErrCorrupt, err)
	}

	return
}

// Encode - Produces a complete aligned cell for key and value
//   - key is the record key
//   - value is the user value, the value transform is applied to it
//   - fragment is the hash fragment of the key
//
// It returns:
//   - buf is the cell, its length is a multiple of the alignment
//   - err is a standard error, if something went wrong
func (C *Codec) Encode(key, value []byte, fragment uint8) (buf []byte, err error) {
	stored, err := C.Pack(value)
	if err != nil {
		return
	}

	record := model.Record{Fragment: fragment, Key: key, Value: stored}
	buf, err = EncodeRecord(record, C.CellSize(int64(len(key)), int64(len(stored))))

	return
}

// Decode - Reverses Encode, verifying the checksum and removing the value transform
//   - buf is a complete cell
//
// It returns:
//   - key is the record key
//   - value is the user value
//   - err is either of type ErrCorrupt or nil
func (C *Codec) Decode(buf []byte) (key, value []byte, err error) {
	record, err := DecodeRecord(buf, 0)
	if err != nil {
		return
	}

	value, err = C.Unpack(record.Value)
	if err != nil {
		return
	}
	key = record.Key

	return
}

// Transparent - Returns true if values are stored without transformation
func (C *Codec) Transparent() bool {
	_, ok := C.transform.(compress.Identity)
	return ok
}
