package exchange

import "sync/atomic"

// tripleBuffer is a wait-free single-writer/single-reader cell of a
// plain-data value type. Three slots plus an atomic index let a single
// writer publish without ever blocking the single reader, and vice
// versa: the reader always observes either a prior write in full or the
// most recent write in full, never a torn value.
//
// Correctness hinges on a release-store by the writer and an
// acquire-load by the reader of the index. Go's atomic.Uint32 Store/Load
// provide the sequentially-consistent ordering that subsumes
// release/acquire here; a plain memory read/write of an int carries no
// ordering guarantee at all and would tear the slot payload.
type tripleBuffer[T any] struct {
	slots [3]T
	index atomic.Uint32
}

func newTripleBuffer[T any]() *tripleBuffer[T] {
	return &tripleBuffer[T]{}
}

// write stores v into the next slot and publishes it. Wait-free: O(1),
// no locks, no allocation.
func (b *tripleBuffer[T]) write(v T) {
	current := b.index.Load()
	next := (current + 1) % 3
	b.slots[next] = v
	b.index.Store(next)
}

// read copies out the most recently published slot. Wait-free.
func (b *tripleBuffer[T]) read() T {
	idx := b.index.Load()
	return b.slots[idx]
}
