package model

// OptLarge - Use 64-bit bucket slots (and a 64-bit bucket hash)
const OptLarge uint8 = 1 << 0

// OptDeflate - Compress each stored value with Deflate
const OptDeflate uint8 = 1 << 1

// OptBzip - Compress each stored value with BZIP2
const OptBzip uint8 = 1 << 2

// OptTCBS - Compress each stored value with TCBS (not supported, rejected when tuning)
const OptTCBS uint8 = 1 << 3

// OptExCodec - Transform each stored value with a custom codec
const OptExCodec uint8 = 1 << 4

// Record - Represents one record cell in the record region
//   - Offset is the position of the cell in the file
//   - Size is the total size of the cell including padding
//   - HeadSize is the number of bytes preceding the key
//   - ValueSize is the size of the stored (possibly compressed) value
type Record struct {
	Offset    int64
	Size      int64
	HeadSize  int64
	Fragment  uint8
	Padding   int64
	Next      int64
	KeySize   int64
	ValueSize int64
	Key       []byte
	Value     []byte
}

// UsedSize - Returns the number of bytes of the cell that are not padding
func (R Record) UsedSize() int64 {
	return R.Size - R.Padding
}

// FreeBlock - Represents a reclaimed span of the record region
type FreeBlock struct {
	Offset int64
	Size   int64
}
