package freepool

import (
	"sort"

	"github.com/gostonefire/hashdb/internal/model"
)

// Pool - A bounded, best fit pool of free blocks, kept sorted by size and then by offset
type Pool struct {
	max    int
	blocks []model.FreeBlock
}

// NewPool - Returns a pointer to a new Pool instance
//   - max is the number of blocks the pool holds before dropping the smallest ones
func NewPool(max int) *Pool {
	if max < 1 {
		max = 1
	}

	return &Pool{max: max, blocks: make([]model.FreeBlock, 0)}
}

// Max - Returns the number of blocks the pool holds at most
func (P *Pool) Max() int {
	return P.max
}

// Len - Returns the number of blocks in the pool
func (P *Pool) Len() int {
	return len(P.blocks)
}

// Blocks - Returns a copy of all blocks in the pool, smallest first
func (P *Pool) Blocks() (blocks []model.FreeBlock) {
	blocks = make([]model.FreeBlock, len(P.blocks))
	_ = copy(blocks, P.blocks)

	return
}

// TotalSize - Returns the sum of all block sizes in the pool
func (P *Pool) TotalSize() (total int64) {
	for _, b := range P.blocks {
		total += b.Size
	}

	return
}

// Reset - Empties the pool
func (P *Pool) Reset() {
	P.blocks = P.blocks[:0]
}

// Load - Replaces the content of the pool with the given blocks
func (P *Pool) Load(blocks []model.FreeBlock) {
	P.Reset()
	for _, b := range blocks {
		_ = P.Free(b)
	}
}

// Allocate - Removes and returns the smallest block of at least size bytes, ties broken by lowest offset
//   - size is the number of bytes needed
//
// It returns:
//   - block is the allocated block, it may be bigger than asked for
//   - ok is false if no block in the pool is big enough
func (P *Pool) Allocate(size int64) (block model.FreeBlock, ok bool) {
	i := sort.Search(len(P.blocks), func(i int) bool {
		return P.blocks[i].Size >= size
	})
	if i == len(P.blocks) {
		return
	}

	block = P.blocks[i]
	P.blocks = append(P.blocks[:i], P.blocks[i+1:]...)
	ok = true

	return
}

// Free - Adds a block to the pool, when the pool overflows the smallest block is dropped
//   - block is the block to add
//
// It returns:
//   - dropped is true if a block had to be dropped to keep the pool within its bound
func (P *Pool) Free(block model.FreeBlock) (dropped bool) {
	i := sort.Search(len(P.blocks), func(i int) bool {
		return less(block, P.blocks[i])
	})

	P.blocks = append(P.blocks, model.FreeBlock{})
	_ = copy(P.blocks[i+1:], P.blocks[i:])
	P.blocks[i] = block

	if len(P.blocks) > P.max {
		P.blocks = append(P.blocks[:0], P.blocks[1:]...)
		dropped = true
	}

	return
}

// Splice - Removes every block starting within the span [from, to)
//
// It returns:
//   - removed is the number of blocks removed
func (P *Pool) Splice(from, to int64) (removed int) {
	kept := P.blocks[:0]
	for _, b := range P.blocks {
		if b.Offset >= from && b.Offset < to {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	P.blocks = kept

	return
}

// Reuse - Returns true if a cell of newSize bytes fits where a cell of oldSize bytes lives
func Reuse(oldSize, newSize int64) bool {
	return newSize <= oldSize
}

func less(a, b model.FreeBlock) bool {
	if a.Size != b.Size {
		return a.Size < b.Size
	}

	return a.Offset < b.Offset
}
