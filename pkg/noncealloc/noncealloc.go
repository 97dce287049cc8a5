// Package noncealloc allocates strictly monotonic global nonce indices.
// Derivation of the actual nonce keypair is the concern of pkg/cryptokeys;
// this package only guarantees that no index is ever handed out twice.
package noncealloc

import (
	"fmt"
	"sync/atomic"
)

// Allocator issues contiguous blocks of nonce indices. It never blocks: the
// single critical section is an atomic fetch-add.
type Allocator struct {
	current atomic.Uint32
}

// NewAllocator seeds the allocator with the index one past the highest
// index previously persisted.
func NewAllocator(seed uint32) *Allocator {
	a := &Allocator{}
	a.current.Store(seed)
	return a
}

// Allocate returns n strictly monotonic indices, [i, i+1, ..., i+n-1],
// where i is larger than any index previously returned by this allocator,
// even across concurrent callers. Overflow of the 32-bit counter is fatal.
func (a *Allocator) Allocate(n uint32) []uint32 {
	if n == 0 {
		return nil
	}
	start := a.current.Add(n) - n
	if start+n < start {
		panic(fmt.Sprintf("noncealloc: 32-bit nonce index counter overflowed allocating %d indices from %d", n, start))
	}
	indexes := make([]uint32, n)
	for i := range indexes {
		indexes[i] = start + uint32(i)
	}
	return indexes
}
