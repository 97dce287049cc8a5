package noncealloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateContiguous(t *testing.T) {
	a := NewAllocator(5)
	got := a.Allocate(3)
	assert.Equal(t, []uint32{5, 6, 7}, got)
	got2 := a.Allocate(2)
	assert.Equal(t, []uint32{8, 9}, got2)
}

func TestAllocateConcurrentNeverOverlaps(t *testing.T) {
	a := NewAllocator(0)
	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	results := make(chan uint32, goroutines*perGoroutine)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				for _, idx := range a.Allocate(1) {
					results <- idx
				}
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint32]bool)
	for idx := range results {
		require.False(t, seen[idx], "index %d allocated twice", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestAllocateZeroReturnsNil(t *testing.T) {
	a := NewAllocator(0)
	assert.Nil(t, a.Allocate(0))
}
