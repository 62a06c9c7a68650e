// Package frame owns the pool of user-mode physical frames: it hands out
// frames to the fault resolver and, when the pool is exhausted, evicts a
// victim using a second-chance clock policy. The overall shape -- a fixed
// array of slots, a free/occupied bitmap, and a pluggable eviction
// strategy -- is adapted from the teacher's BufferPool/Evictor pair, but
// eviction is specialised here to the clock-hand/reference-bit scan the
// spec requires rather than left pluggable, since the spec pins the policy.
package frame

import (
	"context"
	"fmt"
	"sync"

	"gitlab.com/oslab/vmcore/src/mmu"
	"gitlab.com/oslab/vmcore/src/page"
)

// PhysAllocator hands out and reclaims zeroed physical pages. It is the
// out-of-scope physical page allocator collaborator named in the spec.
type PhysAllocator interface {
	// AllocZeroed returns a fresh zeroed physical page and its address.
	AllocZeroed() (paddr uintptr, bytes []byte, err error)
	// Free returns a previously allocated page to the allocator.
	Free(paddr uintptr)
}

// Swapper is the subset of swap.Area the frame table needs during
// eviction, named as an interface to avoid an import cycle (frame sits
// below swap in terms of who calls whom conceptually, but swap.Area is
// passed in by the caller rather than imported).
type Swapper interface {
	Insert(ctx context.Context, p *page.Descriptor) error
}

// Entry is one physical user frame. Index is its stable identity; Occupant
// is the page descriptor currently using it, or nil if free.
type Entry struct {
	index    int
	paddr    uintptr
	bytes    []byte
	Occupant *page.Descriptor
}

func (e *Entry) Index() int       { return e.index }
func (e *Entry) PAddr() uintptr   { return e.paddr }
func (e *Entry) Bytes() []byte    { return e.bytes }

// Table owns the frame pool and drives second-chance clock eviction. All
// allocation and eviction is totally ordered by mu, matching the spec's
// "allocations and evictions against the frame pool are totally ordered by
// table_lock" invariant.
type Table struct {
	mu        sync.Mutex
	entries   []*Entry
	free      []bool
	clockHand int
	phys      PhysAllocator
	mmuDrv    mmu.Driver
	swap      Swapper
}

// New creates a frame table of the given pool size.
func New(poolSize int, phys PhysAllocator, mmuDrv mmu.Driver, sw Swapper) *Table {
	entries := make([]*Entry, poolSize)
	free := make([]bool, poolSize)
	for i := range entries {
		entries[i] = &Entry{index: i}
		free[i] = true
	}
	return &Table{
		entries: entries,
		free:    free,
		phys:    phys,
		mmuDrv:  mmuDrv,
		swap:    sw,
	}
}

// Size returns the pool's total frame count.
func (t *Table) Size() int {
	return len(t.entries)
}

// FreeCount returns the number of currently unallocated frames, for
// diagnostics and tests.
func (t *Table) FreeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.entries {
		if t.free[i] {
			n++
		}
	}
	return n
}

// Acquire returns a frame for the caller to populate. If the pool has a
// free slot it is zeroed and returned directly; otherwise Acquire runs one
// eviction pass and returns the frame it frees.
func (t *Table) Acquire(ctx context.Context) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.free[i] {
			paddr, bytes, err := t.phys.AllocZeroed()
			if err != nil {
				return nil, fmt.Errorf("frame: physical allocator: %w", err)
			}
			e := t.entries[i]
			e.paddr = paddr
			e.bytes = bytes
			e.Occupant = nil
			t.free[i] = false
			return e, nil
		}
	}

	return t.evict(ctx)
}

// evict runs one second-chance clock pass and returns the frame it frees.
// Must be called with mu held.
func (t *Table) evict(ctx context.Context) (*Entry, error) {
	n := len(t.entries)
	if n == 0 {
		return nil, fmt.Errorf("frame: pool has zero capacity")
	}

	maxScans := 2 * n
	for scans := 0; scans <= maxScans; scans++ {
		e := t.entries[t.clockHand]
		occ := e.Occupant
		if occ == nil {
			panic("frame: clock hand landed on an unoccupied entry with no free slots recorded -- free bitmap is inconsistent")
		}

		if t.mmuDrv.Accessed(occ.PageDir, occ.VAddr) {
			t.mmuDrv.ClearAccessed(occ.PageDir, occ.VAddr)
			t.advanceClock()
			continue
		}

		if !occ.Pin.TryLock() {
			t.advanceClock()
			continue
		}

		// Victim selected: occ.Pin is held.
		if err := t.swap.Insert(ctx, occ); err != nil {
			occ.Pin.Unlock()
			panic(fmt.Sprintf("frame: unable to reserve swap slot during eviction: %v", err))
		}
		occ.Frame = nil
		occ.Status = page.InSwap
		t.mmuDrv.Clear(occ.PageDir, occ.VAddr)
		occ.Pin.Unlock()

		e.Occupant = nil
		t.advanceClock()
		return e, nil
	}

	panic("frame: eviction scan exceeded 2x pool size without finding a victim")
}

func (t *Table) advanceClock() {
	t.clockHand++
	if t.clockHand >= len(t.entries) {
		t.clockHand = 0
	}
}

// Bind records that descriptor d now occupies frame e, the bidirectional
// link the fault resolver establishes before installing the MMU mapping.
func (t *Table) Bind(e *Entry, d *page.Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.Occupant = d
	d.Frame = e
}

// Release frees e: clears its MMU mapping, returns the physical page, and
// marks it free in the bitmap.
func (t *Table) Release(fr page.Frame) {
	e, ok := fr.(*Entry)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.Occupant != nil {
		t.mmuDrv.Clear(e.Occupant.PageDir, e.Occupant.VAddr)
		e.Occupant = nil
	}
	t.free[e.index] = true
	t.phys.Free(e.paddr)
	e.bytes = nil
	e.paddr = 0
}
