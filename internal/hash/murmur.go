package hash

import "encoding/binary"

const (
	murmurC1 uint32 = 0xcc9e2d51
	murmurC2 uint32 = 0x1b873593
	murmurC3 uint32 = 0xe6546b64
	murmurF1 uint32 = 0x85ebca6b
	murmurF2 uint32 = 0xc2b2ae35
)

// Murmur32 - Returns the 32-bit MurmurHash3 of data using the given seed
func Murmur32(data []byte, seed uint32) uint32 {
	h := seed
	chunks := len(data) / 4

	for i := 0; i < chunks; i++ {
		k := binary.LittleEndian.Uint32(data[i*4:])
		h ^= mixChunk(k)
		h = (h << 13) | (h >> 19)
		h = h*5 + murmurC3
	}

	tail := data[chunks*4:]
	var k uint32
	switch len(tail) {
	case 3:
		k |= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k |= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k |= uint32(tail[0])
		h ^= mixChunk(k)
	}

	h ^= uint32(len(data))
	h ^= h >> 16
	h *= murmurF1
	h ^= h >> 13
	h *= murmurF2
	h ^= h >> 16

	return h
}

func mixChunk(k uint32) uint32 {
	k *= murmurC1
	k = (k << 15) | (k >> 17)
	k *= murmurC2
	return k
}
