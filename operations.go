package hashdb

import (
	"errors"
	"fmt"
	"math"

	"github.com/gostonefire/hashdb/internal/chain"
	"github.com/gostonefire/hashdb/internal/model"
	"github.com/gostonefire/hashdb/internal/utils"
)

// putMode - How put treats an existing record
type putMode int

const (
	putOver putMode = iota
	putKeep
	putCat
)

// Get - Gets the value stored for key.
//   - key is the identifier of a record
//
// It returns:
//   - value is the value of the matching record if found
//   - err is of type *Error, KindNotFound if there is no record for key
func (H *HashDB) Get(key []byte) (value []byte, err error) {
	defer H.rlock()()

	if err = H.readable("get"); err != nil {
		return
	}

	if v, ok := H.async.get(key); ok {
		return v, nil
	}
	if v, ok := H.cache.Get(key); ok {
		return v, nil
	}

	loc, err := H.locate(key)
	if err != nil {
		return nil, toError("get", err)
	}
	if !loc.found {
		return nil, newError(KindNotFound, "get", nil)
	}

	value, err = H.loadValue(&loc.record)
	if err != nil {
		return nil, toError("get", err)
	}
	H.cache.Add(key, value)

	return
}

// Put - Stores value for key, replacing any existing value.
// The record is rewritten in place when the new cell fits in the old one, otherwise it is moved and the old cell freed.
//   - key is the identifier of a record
//   - value is the value to store
//
// It returns:
//   - err is of type *Error, if something went wrong
func (H *HashDB) Put(key, value []byte) (err error) {
	defer H.lock()()

	if err = H.beginWrite("put"); err != nil {
		return
	}
	_, err = H.put(key, value, putOver)

	return H.endWrite("put", err)
}

// PutKeep - Stores value for key only if there is no record for key yet.
//
// It returns:
//   - stored is false if a record already existed, in which case nothing was changed
//   - err is of type *Error, if something went wrong
func (H *HashDB) PutKeep(key, value []byte) (stored bool, err error) {
	defer H.lock()()

	if err = H.beginWrite("putkeep"); err != nil {
		return
	}
	stored, err = H.put(key, value, putKeep)

	return stored, H.endWrite("putkeep", err)
}

// PutCat - Appends value to the value stored for key, or stores value if there is no record for key yet.
func (H *HashDB) PutCat(key, value []byte) (err error) {
	defer H.lock()()

	if err = H.beginWrite("putcat"); err != nil {
		return
	}
	_, err = H.put(key, value, putCat)

	return H.endWrite("putcat", err)
}

// PutAsync - Buffers a write of value for key.
// Buffered writes are applied before any other writing operation, on Sync, MemSync and Close and once the
// buffer grows past its limit. Get, VSiz and Has see buffered writes immediately.
func (H *HashDB) PutAsync(key, value []byte) (err error) {
	defer H.lock()()

	if err = H.writable("putasync", false); err != nil {
		return
	}

	H.async.add(key, value)
	if H.async.size > asyncLimit {
		err = H.flushAsync()
	}

	return H.endWrite("putasync", err)
}

// Out - Removes the record for key, its cell becomes a free block.
//
// It returns:
//   - err is of type *Error, KindNotFound if there is no record for key
func (H *HashDB) Out(key []byte) (err error) {
	defer H.lock()()

	if err = H.beginWrite("out"); err != nil {
		return
	}

	loc, err := H.locate(key)
	if err == nil && !loc.found {
		err = newError(KindNotFound, "out", nil)
	}
	if err == nil {
		err = H.remove(loc)
		H.cache.Remove(key)
	}

	return H.endWrite("out", err)
}

// AddInt - Adds num to the 4 byte integer stored for key, storing num if there is no record for key yet.
//
// It returns:
//   - sum is the value stored after the addition
//   - err is of type *Error, KindTypeMismatch if the stored value is not 4 bytes and KindOverflow if the sum
//     does not fit in 32 bits
func (H *HashDB) AddInt(key []byte, num int32) (sum int32, err error) {
	defer H.lock()()

	if err = H.beginWrite("addint"); err != nil {
		return
	}

	err = H.addNumber(key, func(current []byte) (next []byte, err error) {
		if current == nil {
			sum = num
			return EncodeInt(num), nil
		}
		cur, err := DecodeInt(current)
		if err != nil {
			return
		}
		total := int64(cur) + int64(num)
		if total > math.MaxInt32 || total < math.MinInt32 {
			return nil, newError(KindOverflow, "", fmt.Errorf("%d + %d does not fit in 32 bits", cur, num))
		}
		sum = int32(total)
		return EncodeInt(sum), nil
	})

	return sum, H.endWrite("addint", err)
}

// AddDouble - Adds num to the 8 byte floating point number stored for key, storing num if there is no record for
// key yet.
//
// It returns:
//   - sum is the value stored after the addition
//   - err is of type *Error, KindTypeMismatch if the stored value is not 8 bytes
func (H *HashDB) AddDouble(key []byte, num float64) (sum float64, err error) {
	defer H.lock()()

	if err = H.beginWrite("adddouble"); err != nil {
		return
	}

	err = H.addNumber(key, func(current []byte) (next []byte, err error) {
		if current == nil {
			sum = num
			return EncodeDouble(num), nil
		}
		cur, err := DecodeDouble(current)
		if err != nil {
			return
		}
		sum = cur + num
		return EncodeDouble(sum), nil
	})

	return sum, H.endWrite("adddouble", err)
}

// VSiz - Returns the size of the value stored for key.
// Without a value transform the size is read from the cell head without reading the value.
func (H *HashDB) VSiz(key []byte) (size int64, err error) {
	defer H.rlock()()

	if err = H.readable("vsiz"); err != nil {
		return
	}

	if v, ok := H.async.get(key); ok {
		return int64(len(v)), nil
	}
	if v, ok := H.cache.Get(key); ok {
		return int64(len(v)), nil
	}

	loc, err := H.locate(key)
	if err != nil {
		return 0, toError("vsiz", err)
	}
	if !loc.found {
		return 0, newError(KindNotFound, "vsiz", nil)
	}
	if H.codec.Transparent() {
		return loc.record.ValueSize, nil
	}

	value, err := H.loadValue(&loc.record)
	if err != nil {
		return 0, toError("vsiz", err)
	}

	return int64(len(value)), nil
}

// Has - Returns true if there is a record for key, without moving the iterator
func (H *HashDB) Has(key []byte) (found bool, err error) {
	defer H.rlock()()

	if err = H.readable("has"); err != nil {
		return
	}

	if _, ok := H.async.get(key); ok {
		return true, nil
	}

	loc, err := H.locate(key)
	if err != nil {
		return false, toError("has", err)
	}

	return loc.found, nil
}

// FwmKeys - Returns the keys starting with prefix, in bucket and then chain order.
//   - prefix is the leading bytes to match, an empty prefix matches every key
//   - max is the maximum number of keys returned, less than 0 means no limit
//
// It returns:
//   - keys is the matching keys, empty if none matched
//   - err is of type *Error, if something went wrong
func (H *HashDB) FwmKeys(prefix []byte, max int) (keys [][]byte, err error) {
	defer H.lock()()

	if err = H.readable("fwmkeys"); err != nil {
		return
	}
	if err = H.flushAsync(); err != nil {
		return nil, toError("fwmkeys", err)
	}

	keys = make([][]byte, 0)
	if max == 0 {
		return
	}

	err = H.walk(func(rec model.Record) (bool, error) {
		if err := H.loadKey(&rec); err != nil {
			return false, err
		}
		if utils.HasPrefix(rec.Key, prefix) {
			keys = append(keys, rec.Key)
		}
		return max < 0 || len(keys) < max, nil
	})

	return keys, toError("fwmkeys", err)
}

// beginWrite - Checks that the handle can be written and applies buffered writes
func (H *HashDB) beginWrite(op string) (err error) {
	if err = H.writable(op, false); err != nil {
		return
	}

	return toError(op, H.flushAsync())
}

// endWrite - Runs an automatic defragmentation step when due and classifies the error of a writing operation
func (H *HashDB) endWrite(op string, err error) error {
	if err == nil && H.dfunit > 0 && H.dfcnt > H.dfunit && H.tran == nil {
		H.dfcnt = 0
		err = H.defrag(H.dfunit*2 + 1)
	}

	return toError(op, err)
}

// put - Stores value for key according to mode
func (H *HashDB) put(key, value []byte, mode putMode) (stored bool, err error) {
	loc, err := H.locate(key)
	if err != nil {
		return
	}

	if !loc.found {
		if err = H.insert(loc, key, value); err != nil {
			return
		}
		H.cache.Remove(key)
		return true, nil
	}

	switch mode {
	case putKeep:
		return false, nil
	case putCat:
		var current []byte
		if current, err = H.loadValue(&loc.record); err != nil {
			return
		}
		value = append(current, value...)
	}

	if err = H.rewrite(loc, key, value); err != nil {
		return
	}
	H.cache.Remove(key)

	return true, nil
}

// addNumber - Replaces the value for key with the result of apply, apply receives nil if there is no record
func (H *HashDB) addNumber(key []byte, apply func(current []byte) ([]byte, error)) (err error) {
	loc, err := H.locate(key)
	if err != nil {
		return
	}

	var current []byte
	if loc.found {
		if current, err = H.loadValue(&loc.record); err != nil {
			return
		}
		if current == nil {
			current = []byte{}
		}
	}

	next, err := apply(current)
	if err != nil {
		// reported under the caller's operation
		var e *Error
		if errors.As(err, &e) {
			err = newError(e.Kind, "", e.Err)
		}
		return
	}

	if loc.found {
		err = H.rewrite(loc, key, next)
	} else {
		err = H.insert(loc, key, next)
	}
	H.cache.Remove(key)

	return
}

// walk - Visits the head of every record in bucket and then chain order until visit returns false
func (H *HashDB) walk(visit func(rec model.Record) (bool, error)) (err error) {
	bnum := H.storage.Header().BNum
	for b := int64(0); b < bnum; b++ {
		records := chain.NewRecords(H.readHead, H.storage.BucketHead(b), H.maxChain())
		for records.HasNext() {
			var rec model.Record
			if rec, err = records.Next(); err != nil {
				return
			}
			var more bool
			if more, err = visit(rec); err != nil || !more {
				return
			}
		}
	}

	return
}
