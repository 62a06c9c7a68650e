// Package page implements the per-process supplemental page table: the
// kernel's map from user virtual page number to a descriptor recording
// where the page's content lives and how to recreate it. It is independent
// of the hardware page directory, which is consulted only through mmu.Driver.
package page

import (
	"fmt"
	"sync"

	"gitlab.com/oslab/vmcore/src/fsio"
	"gitlab.com/oslab/vmcore/src/mmu"
)

// PageSize is the fixed page width this module assumes.
const PageSize = 4096

// NoSlot is the sentinel swap-slot value meaning "no slot reserved".
const NoSlot = -1

// Status describes where a page's authoritative content currently lives.
type Status int

const (
	// AllZero pages have never been touched; their content is defined to
	// be all-zero and materializes lazily on first fault.
	AllZero Status = iota
	// InFrame pages are resident: Frame is non-nil and the MMU resolves
	// VAddr to Frame's physical address.
	InFrame
	// InSwap pages have been evicted; SwapSlot names where their bytes
	// live on the swap device.
	InSwap
	// InFile pages have never been faulted in; File/Offset/ReadBytes name
	// where to read their initial content from.
	InFile
)

func (s Status) String() string {
	switch s {
	case AllZero:
		return "all-zero"
	case InFrame:
		return "in-frame"
	case InSwap:
		return "in-swap"
	case InFile:
		return "in-file"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Frame is the subset of frame.Entry the page package needs to know about.
// It is satisfied by *frame.Entry; the interface exists purely to avoid an
// import cycle between page and frame (frame.Entry.Occupant is a
// *Descriptor).
type Frame interface {
	PAddr() uintptr
	Index() int
	// Bytes returns the kernel-accessible view of the frame's physical
	// page, exactly PageSize bytes long.
	Bytes() []byte
}

// Descriptor is the kernel's metadata object for one user virtual page,
// matching struct page in the original source and the Descriptor contract
// from the spec.
type Descriptor struct {
	VAddr   uintptr
	PageDir mmu.PageDir

	// Status, guarded by Pin during materialization/eviction; readable
	// without the lock once a descriptor has quiesced (single-threaded
	// owner, evictor only touches it under Pin).
	Status Status

	Writable bool
	IsStack  bool

	File      fsio.Reader
	Offset    int64
	ReadBytes int

	Frame    Frame
	SwapSlot int

	// Pin prevents eviction of Frame while materialization is in
	// progress, and is acquired (blocking) by teardown to wait out any
	// in-flight eviction before destroying the descriptor.
	Pin sync.Mutex
}

// New creates a descriptor with no content source yet (AllZero), the shape
// stack growth produces immediately as InFrame instead -- callers set
// Status explicitly once they know which.
func New(pd mmu.PageDir, vaddr uintptr, writable bool) *Descriptor {
	return &Descriptor{
		PageDir:  pd,
		VAddr:    pageNo(vaddr),
		Writable: writable,
		Status:   AllZero,
		SwapSlot: NoSlot,
	}
}

func pageNo(vaddr uintptr) uintptr {
	return vaddr &^ (PageSize - 1)
}

// FrameReleaser frees a frame back to the pool; satisfied by
// (*frame.Table).Release.
type FrameReleaser interface {
	Release(f Frame)
}

// SlotFreer frees a swap slot without reading it; satisfied by
// (*swap.Area).Free.
type SlotFreer interface {
	Free(slot int)
}

// Table is a process's supplemental page table: a map keyed by page number,
// independent of the hardware page directory. No iteration order is
// exposed; Destroy is the only bulk operation.
type Table struct {
	mu    sync.RWMutex
	pages map[uintptr]*Descriptor
}

// NewTable creates an empty supplemental page table.
func NewTable() *Table {
	return &Table{pages: make(map[uintptr]*Descriptor)}
}

// Lookup returns the descriptor covering vaddr's page, ignoring the
// low-order in-page bits.
func (t *Table) Lookup(vaddr uintptr) (*Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.pages[pageNo(vaddr)]
	return d, ok
}

// Insert adds a new descriptor. The caller guarantees no duplicate exists
// for d.VAddr.
func (t *Table) Insert(d *Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages[d.VAddr] = d
}

// Pin looks up vaddr and, if found, locks its Pin mutex. Returns false if
// no descriptor exists.
func (t *Table) Pin(vaddr uintptr) bool {
	d, ok := t.Lookup(vaddr)
	if !ok {
		return false
	}
	d.Pin.Lock()
	return true
}

// Unpin releases the Pin mutex for vaddr's descriptor, if any.
func (t *Table) Unpin(vaddr uintptr) {
	if d, ok := t.Lookup(vaddr); ok {
		d.Pin.Unlock()
	}
}

// Count returns the number of descriptors currently tracked.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pages)
}

// Destroy tears down every descriptor in the table: for each, it acquires
// Pin (blocking out any in-flight eviction targeting it), releases its
// frame and/or swap slot, then drops it from the table. frames and slots
// are nil-able so Destroy can be used even for a table with purely AllZero
// descriptors that never touched a frame.
func (t *Table) Destroy(frames FrameReleaser, slots SlotFreer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for vaddr, d := range t.pages {
		d.Pin.Lock()
		if d.Frame != nil {
			if frames != nil {
				frames.Release(d.Frame)
			}
			d.Frame = nil
		}
		if d.SwapSlot != NoSlot {
			if slots != nil {
				slots.Free(d.SwapSlot)
			}
			d.SwapSlot = NoSlot
		}
		d.Pin.Unlock()
		delete(t.pages, vaddr)
	}
}
