package compress

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/gostonefire/hashdb/codecfunc"
	"github.com/gostonefire/hashdb/internal/model"
)

// New - Returns the value transform selected by the options bitmask
//   - opts is the options bitmask from the database header
//   - custom is the codec to use when the OptExCodec option is set
//
// It returns:
//   - codec is the selected transform, an identity transform if no compression option is set
//   - err is a standard error, if something went wrong
func New(opts uint8, custom codecfunc.Codec) (codec codecfunc.Codec, err error) {
	switch {
	case opts&model.OptTCBS != 0:
		err = fmt.Errorf("tcbs compression is not supported")
	case opts&model.OptExCodec != 0:
		if custom == nil {
			err = fmt.Errorf("custom codec option set but no codec given")
			return
		}
		codec = custom
	case opts&model.OptDeflate != 0:
		codec = Deflate{}
	case opts&model.OptBzip != 0:
		codec = Bzip2{}
	default:
		codec = Identity{}
	}

	return
}

// Identity - Stores values as they are
type Identity struct{}

// Encode - Returns value unchanged
func (I Identity) Encode(value []byte) ([]byte, error) {
	return value, nil
}

// Decode - Returns stored unchanged
func (I Identity) Decode(stored []byte) ([]byte, error) {
	return stored, nil
}

// Deflate - Compresses values with Deflate
type Deflate struct{}

// Encode - Compresses value
func (D Deflate) Encode(value []byte) (stored []byte, err error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("error while creating deflate writer: %s", err)
	}
	if _, err = w.Write(value); err != nil {
		return nil, fmt.Errorf("error while deflating value: %s", err)
	}
	if err = w.Close(); err != nil {
		return nil, fmt.Errorf("error while deflating value: %s", err)
	}

	return buf.Bytes(), nil
}

// Decode - Decompresses stored
func (D Deflate) Decode(stored []byte) (value []byte, err error) {
	r := flate.NewReader(bytes.NewReader(stored))
	defer func() { _ = r.Close() }()

	value, err = io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error while inflating value: %s", err)
	}

	return
}

// Bzip2 - Compresses values with BZIP2
type Bzip2 struct{}

// Encode - Compresses value
func (B Bzip2) Encode(value []byte) (stored []byte, err error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, nil)
	if err != nil {
		return nil, fmt.Errorf("error while creating bzip2 writer: %s", err)
	}
	if _, err = w.Write(value); err != nil {
		return nil, fmt.Errorf("error while compressing value: %s", err)
	}
	if err = w.Close(); err != nil {
		return nil, fmt.Errorf("error while compressing value: %s", err)
	}

	return buf.Bytes(), nil
}

// Decode - Decompresses stored
func (B Bzip2) Decode(stored []byte) (value []byte, err error) {
	r, err := bzip2.NewReader(bytes.NewReader(stored), nil)
	if err != nil {
		return nil, fmt.Errorf("error while creating bzip2 reader: %s", err)
	}
	defer func() { _ = r.Close() }()

	value, err = io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error while decompressing value: %s", err)
	}

	return
}
