package hashdb

import (
	"errors"

	"github.com/gostonefire/hashdb/internal/model"
	"github.com/gostonefire/hashdb/internal/record"
)

// cursor - The iterator position shared by a handle
//   - bucketNo is the bucket being visited
//   - offset is the next cell to return, 0 means the head of bucketNo
//   - generation is the handle generation when the cursor was positioned
type cursor struct {
	bucketNo   int64
	offset     int64
	generation uint64
}

// IterInit - Positions the iterator before the first record
func (H *HashDB) IterInit() (err error) {
	defer H.lock()()

	if err = H.readable("iterinit"); err != nil {
		return
	}
	if err = H.flushAsync(); err != nil {
		return toError("iterinit", err)
	}

	H.iter = cursor{generation: H.generation}

	return
}

// IterInit2 - Positions the iterator at the record for key, so that the next call to IterNext returns key.
// If there is no record for key the iterator is positioned at the start of the bucket key belongs to.
//
// It returns:
//   - found is true if there is a record for key
//   - err is of type *Error, if something went wrong
func (H *HashDB) IterInit2(key []byte) (found bool, err error) {
	defer H.lock()()

	if err = H.readable("iterinit2"); err != nil {
		return
	}
	if err = H.flushAsync(); err != nil {
		return false, toError("iterinit2", err)
	}

	loc, err := H.locate(key)
	if err != nil {
		return false, toError("iterinit2", err)
	}

	H.iter = cursor{bucketNo: loc.bucketNo, generation: H.generation}
	if loc.found {
		H.iter.offset = loc.record.Offset
	}

	return loc.found, nil
}

// IterNext - Returns the key of the next record.
// Iteration is weakly consistent, records added or removed after IterInit may or may not be returned.
//
// It returns:
//   - key is the key of the next record
//   - err is of type *Error, KindNotFound when there are no more records and KindStale if the database was
//     emptied or rebuilt since the iterator was positioned
func (H *HashDB) IterNext() (key []byte, err error) {
	defer H.lock()()

	rec, err := H.iterNext("iternext")
	if err != nil {
		return
	}

	return rec.Key, nil
}

// IterNextKV - Returns the key and value of the next record, see IterNext.
func (H *HashDB) IterNextKV() (key, value []byte, err error) {
	defer H.lock()()

	rec, err := H.iterNext("iternext")
	if err != nil {
		return
	}

	value, err = H.loadValue(&rec)
	if err != nil {
		return nil, nil, toError("iternext", err)
	}

	return rec.Key, value, nil
}

// iterNext - Advances the shared cursor and returns the record it passed, with its key loaded
func (H *HashDB) iterNext(op string) (rec model.Record, err error) {
	if err = H.readable(op); err != nil {
		return
	}
	if err = H.flushAsync(); err != nil {
		err = toError(op, err)
		return
	}
	if H.iter.generation != H.generation {
		err = newError(KindStale, op, nil)
		return
	}

	bnum := H.storage.Header().BNum
	for {
		fromHead := false
		if H.iter.offset == 0 {
			for H.iter.bucketNo < bnum && H.storage.BucketHead(H.iter.bucketNo) == 0 {
				H.iter.bucketNo++
			}
			if H.iter.bucketNo >= bnum {
				err = newError(KindNotFound, op, nil)
				return
			}
			H.iter.offset = H.storage.BucketHead(H.iter.bucketNo)
			fromHead = true
		}

		rec, err = H.readHead(H.iter.offset)
		if err != nil {
			if !fromHead && errors.Is(err, record.ErrCorrupt) {
				H.iter.bucketNo++
				H.iter.offset = 0
				continue
			}
			err = toError(op, err)
			return
		}
		if err = H.loadKey(&rec); err != nil {
			err = toError(op, err)
			return
		}

		H.iter.offset = rec.Next
		if rec.Next == 0 {
			H.iter.bucketNo++
		}

		return
	}
}

// Foreach - Calls visitor with the key and value of every record in iteration order, until visitor returns false.
// Foreach does not use or move the shared iterator. With the mutex enabled, visitor must not call back into the
// handle.
func (H *HashDB) Foreach(visitor func(key, value []byte) bool) (err error) {
	defer H.lock()()

	if err = H.readable("foreach"); err != nil {
		return
	}
	if err = H.flushAsync(); err != nil {
		return toError("foreach", err)
	}

	err = H.walk(func(rec model.Record) (bool, error) {
		value, err := H.loadValue(&rec)
		if err != nil {
			return false, err
		}
		return visitor(rec.Key, value), nil
	})

	return toError("foreach", err)
}
