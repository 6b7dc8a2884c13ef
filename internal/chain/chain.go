package chain

import (
	"errors"
	"fmt"

	"github.com/gostonefire/hashdb/internal/model"
)

// errEndOfChain - Returned from Next when there are no more records in the chain
var errEndOfChain = errors.New("end of chain")

// ErrCycle - Returned from Next when the chain is longer than any valid chain can be
var ErrCycle = errors.New("bucket chain does not end")

// Records - Is used to iterate over the records of a bucket chain one by one.
type Records struct {
	getFunc  func(int64) (model.Record, error)
	address  int64
	last     int64
	previous int64
	steps    int64
	maxSteps int64
}

// NewRecords - Returns a pointer to a new Records struct
//   - getFunc reads the record cell at an offset, at least its head
//   - address is the offset of the first cell in the chain, 0 for an empty chain
//   - maxSteps is the number of records no chain can exceed, 0 or less for no limit
func NewRecords(getFunc func(int64) (model.Record, error), address, maxSteps int64) *Records {

	return &Records{
		getFunc:  getFunc,
		address:  address,
		maxSteps: maxSteps,
	}
}

// HasNext - Returns true if there are more records to be fetched from a call to Next.
func (C *Records) HasNext() bool {
	return C.address != 0
}

// Previous - Returns the offset of the record returned by the call to Next before the latest one, 0 if none
func (C *Records) Previous() int64 {
	return C.previous
}

// Next - Returns record.
// It returns:
//   - record is the next record in the chain.
//   - err is either a standard error or if there are no more records when calling this function errEndOfChain is returned.
func (C *Records) Next() (record model.Record, err error) {
	if C.address == 0 {
		err = errEndOfChain
		return
	}
	if C.maxSteps > 0 && C.steps >= C.maxSteps {
		err = fmt.Errorf("%w: more than %d records", ErrCycle, C.maxSteps)
		return
	}

	record, err = C.getFunc(C.address)
	if err != nil {
		err = fmt.Errorf("error while retrieving record from bucket chain: %w", err)
		return
	}

	C.steps++
	C.previous = C.last
	C.last = record.Offset
	C.address = record.Next

	return
}
