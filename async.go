package hashdb

import (
	"github.com/gostonefire/hashdb/internal/utils"
)

// asyncLimit - Number of buffered key and value bytes that forces a flush of PutAsync writes
const asyncLimit int64 = 1 << 20

// asyncBuffer - Writes accepted by PutAsync and not yet applied, in the order they were given
type asyncBuffer struct {
	keys   []string
	values map[string][]byte
	size   int64
}

// add - Buffers a write, replacing any buffered write for the same key
func (A *asyncBuffer) add(key, value []byte) {
	if A.values == nil {
		A.values = make(map[string][]byte)
	}

	k := string(key)
	if old, ok := A.values[k]; ok {
		A.size -= int64(len(old))
	} else {
		A.keys = append(A.keys, k)
		A.size += int64(len(k))
	}
	A.values[k] = utils.CopyBytes(value)
	A.size += int64(len(value))
}

// get - Returns the buffered value for key
func (A *asyncBuffer) get(key []byte) (value []byte, ok bool) {
	value, ok = A.values[string(key)]
	if ok {
		value = utils.CopyBytes(value)
	}

	return
}

// pending - Returns the number of buffered writes
func (A *asyncBuffer) pending() int {
	return len(A.keys)
}

// reset - Drops every buffered write
func (A *asyncBuffer) reset() {
	A.keys = nil
	A.values = nil
	A.size = 0
}

// flushAsync - Applies every write buffered by PutAsync
func (H *HashDB) flushAsync() (err error) {
	if H.async.pending() == 0 {
		return nil
	}

	keys, values := H.async.keys, H.async.values
	H.async.reset()

	for _, k := range keys {
		key := []byte(k)
		if _, err = H.put(key, values[k], putOver); err != nil {
			return
		}
	}

	return
}
