package frame

import (
	"fmt"
	"sync"

	"gitlab.com/oslab/vmcore/src/page"
)

// SimpleAllocator is the in-memory PhysAllocator used by tests and the demo
// harness in place of a real physical page allocator. Physical addresses
// are just arena offsets; "zeroed" is free since make([]byte, n) already
// zeroes.
type SimpleAllocator struct {
	mu       sync.Mutex
	pageSize int
	free     []uintptr
	next     uintptr
	arena    map[uintptr][]byte
}

// NewSimpleAllocator creates an allocator of page.PageSize-byte pages.
// capacity only sizes the internal map; the allocator enforces no limit
// and AllocZeroed never fails.
func NewSimpleAllocator(capacity int) *SimpleAllocator {
	return &SimpleAllocator{
		pageSize: page.PageSize,
		arena:    make(map[uintptr][]byte, capacity),
	}
}

func (a *SimpleAllocator) AllocZeroed() (uintptr, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var paddr uintptr
	if n := len(a.free); n > 0 {
		paddr = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.next += uintptr(a.pageSize)
		paddr = a.next
	}
	buf := make([]byte, a.pageSize)
	a.arena[paddr] = buf
	return paddr, buf, nil
}

func (a *SimpleAllocator) Free(paddr uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.arena[paddr]; !ok {
		panic(fmt.Sprintf("frame: double free of physical page %#x", paddr))
	}
	delete(a.arena, paddr)
	a.free = append(a.free, paddr)
}
