package cache

import (
	"fmt"

	"github.com/gostonefire/hashdb/internal/utils"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Records - A least recently used cache of decoded record values, keyed by record key.
// A Records created with size 0 caches nothing.
type Records struct {
	lru *lru.Cache[string, []byte]
}

// NewRecords - Returns a pointer to a new Records instance
//   - size is the maximum number of values cached, 0 or less disables caching
func NewRecords(size int) (R *Records, err error) {
	R = &Records{}
	if size <= 0 {
		return
	}

	R.lru, err = lru.New[string, []byte](size)
	if err != nil {
		err = fmt.Errorf("error while creating record cache: %s", err)
	}

	return
}

// Get - Returns a copy of the cached value for key
func (R *Records) Get(key []byte) (value []byte, ok bool) {
	if R.lru == nil {
		return
	}

	value, ok = R.lru.Get(string(key))
	if ok {
		value = utils.CopyBytes(value)
	}

	return
}

// Add - Caches a copy of value for key
func (R *Records) Add(key, value []byte) {
	if R.lru == nil {
		return
	}

	_ = R.lru.Add(string(key), utils.CopyBytes(value))
}

// Remove - Drops the cached value for key
func (R *Records) Remove(key []byte) {
	if R.lru == nil {
		return
	}

	_ = R.lru.Remove(string(key))
}

// Len - Returns the number of cached values
func (R *Records) Len() int {
	if R.lru == nil {
		return 0
	}

	return R.lru.Len()
}

// Purge - Drops every cached value
func (R *Records) Purge() {
	if R.lru == nil {
		return
	}

	R.lru.Purge()
}
