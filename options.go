package hashdb

import (
	"fmt"

	"github.com/gostonefire/hashdb/codecfunc"
	"github.com/gostonefire/hashdb/hashfunc"
	"github.com/gostonefire/hashdb/internal/conf"
	"github.com/gostonefire/hashdb/internal/model"
)

// OpenMode - Bitmask given to Open selecting access, creation and locking behaviour
type OpenMode uint8

const (
	// OReader - Open for reading
	OReader OpenMode = 1 << iota
	// OWriter - Open for reading and writing
	OWriter
	// OCreat - Create the file if it does not exist, requires OWriter
	OCreat
	// OTrunc - Discard any existing content, requires OWriter
	OTrunc
	// ONoLck - Take no file lock
	ONoLck
	// OLckNB - Fail with KindWouldBlock instead of waiting for a conflicting file lock
	OLckNB
	// OTSync - Sync the file to the device on every transaction commit
	OTSync
)

// validate - Checks that the mode bits make sense together
func (O OpenMode) validate() error {
	if O&(OReader|OWriter) == 0 {
		return fmt.Errorf("open mode must include OReader or OWriter")
	}
	if O&(OCreat|OTrunc) != 0 && O&OWriter == 0 {
		return fmt.Errorf("OCreat and OTrunc require OWriter")
	}

	return nil
}

// Option - Bitmask of options fixed when a database file is created
type Option uint8

const (
	// TLarge - 64-bit bucket slots, lifting the 32-bit record region limit
	TLarge = Option(model.OptLarge)
	// TDeflate - Compress each value with Deflate
	TDeflate = Option(model.OptDeflate)
	// TBzip - Compress each value with BZIP2
	TBzip = Option(model.OptBzip)
	// TTCBS - Compress each value with TCBS, not supported and rejected
	TTCBS = Option(model.OptTCBS)
	// TExCodec - Transform each value with Tuning.Codec
	TExCodec = Option(model.OptExCodec)
)

// Tuning - Parameters for creating, opening and optimizing a database file.
// BNum, APow, FPow and Opts only take effect when a new file is created or on Optimize, for an existing file the
// values stored in its header are used. The pointer fields are optional, nil selects the default (or on Optimize
// keeps the current value).
//   - BNum is the number of buckets, 0 selects the default
//   - APow is the alignment power, cells start at multiples of 1<<APow
//   - FPow is the free block pool power, the pool holds at most 1<<FPow blocks
//   - Opts is the options bitmask
//   - RCNum is the number of values kept in the record cache, 0 disables it
//   - XMSiz is the extra mapped memory size, recorded only
//   - DFUnit is the number of freed cells that triggers an automatic defragmentation step, 0 disables it
//   - HashAlgorithm is an optional custom bucket selection algorithm
//   - Codec is the value transform used with TExCodec
type Tuning struct {
	BNum          int64
	APow          *uint8
	FPow          *uint8
	Opts          *Option
	RCNum         int
	XMSiz         int64
	DFUnit        int64
	HashAlgorithm hashfunc.HashAlgorithm
	Codec         codecfunc.Codec
}

// Pow - Returns a pointer to a power value, for use with Tuning.APow and Tuning.FPow
func Pow(pow uint8) *uint8 {
	return &pow
}

// Options - Returns a pointer to an options bitmask, for use with Tuning.Opts
func Options(opts Option) *Option {
	return &opts
}

// validate - Checks the tuning and fills in defaults for unset fields
func (T *Tuning) validate() error {
	if T.BNum < 0 {
		return fmt.Errorf("number of buckets can not be negative")
	}
	if T.BNum == 0 {
		T.BNum = conf.DefaultBNum
	}
	if T.APow == nil {
		T.APow = Pow(conf.DefaultAPow)
	}
	if T.FPow == nil {
		T.FPow = Pow(conf.DefaultFPow)
	}
	if T.Opts == nil {
		T.Opts = Options(0)
	}
	if *T.APow > conf.MaxAPow {
		return fmt.Errorf("alignment power can not exceed %d", conf.MaxAPow)
	}
	if *T.FPow > conf.MaxFPow {
		return fmt.Errorf("free block pool power can not exceed %d", conf.MaxFPow)
	}
	if *T.Opts&TTCBS != 0 {
		return fmt.Errorf("TTCBS compression is not supported")
	}
	if *T.Opts&TExCodec != 0 && T.Codec == nil {
		return fmt.Errorf("TExCodec requires a codec")
	}
	if T.RCNum < 0 || T.XMSiz < 0 || T.DFUnit < 0 {
		return fmt.Errorf("cache size, extra mapped memory and defrag unit can not be negative")
	}

	return nil
}
