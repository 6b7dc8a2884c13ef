package hashdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeInt - Returns the 4 byte little endian representation used by AddInt
func EncodeInt(num int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(num))

	return buf
}

// DecodeInt - Reverses EncodeInt, values of any other width fail with KindTypeMismatch
func DecodeInt(value []byte) (num int32, err error) {
	if len(value) != 4 {
		err = newError(KindTypeMismatch, "decodeint", fmt.Errorf("value is %d bytes, want 4", len(value)))
		return
	}
	num = int32(binary.LittleEndian.Uint32(value))

	return
}

// EncodeDouble - Returns the 8 byte little endian IEEE-754 representation used by AddDouble
func EncodeDouble(num float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(num))

	return buf
}

// DecodeDouble - Reverses EncodeDouble, values of any other width fail with KindTypeMismatch
func DecodeDouble(value []byte) (num float64, err error) {
	if len(value) != 8 {
		err = newError(KindTypeMismatch, "decodedouble", fmt.Errorf("value is %d bytes, want 8", len(value)))
		return
	}
	num = math.Float64frombits(binary.LittleEndian.Uint64(value))

	return
}
