// Package swap implements the swap area: persistent staging for evicted
// frames, backed by fixed-size sector I/O on a block device.
package swap

import (
	"context"
	"fmt"
	"sync"

	"gitlab.com/oslab/vmcore/src/block"
	"gitlab.com/oslab/vmcore/src/page"
)

// SectorsPerSlot is the number of 512 B sectors backing one page-sized
// swap slot (8 * 512 = 4096).
const SectorsPerSlot = page.PageSize / block.SectorSize

// DefaultSlots is the design default swap capacity: 1024 slots, 8 MiB.
const DefaultSlots = 1024

// Area owns the slot bitmap and serialises all block I/O under a single
// mutex, matching the spec's "global locks for swap and frames" design
// note.
type Area struct {
	mu    sync.Mutex
	dev   block.Device
	used  []bool
	slots int
}

// New creates a swap area of the given slot capacity backed by dev. dev
// must have at least slots*SectorsPerSlot sectors.
func New(dev block.Device, slots int) (*Area, error) {
	need := uint32(slots * SectorsPerSlot)
	if dev.SectorCount() < need {
		return nil, fmt.Errorf("swap: device has %d sectors, need %d for %d slots", dev.SectorCount(), need, slots)
	}
	return &Area{dev: dev, used: make([]bool, slots), slots: slots}, nil
}

// Insert picks any free slot, writes the page's current frame contents to
// it, and records the slot index on the descriptor. It is kernel-fatal (the
// caller should panic, matching the spec's "fails fatally if no slot is
// available") when no slot is free; Insert itself returns an error and
// leaves the panic decision to the caller, so tests can observe the
// failure without crashing the process.
func (a *Area) Insert(ctx context.Context, p *page.Descriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.Frame == nil {
		return fmt.Errorf("swap: insert called on descriptor with no frame")
	}

	slot := -1
	for i, inUse := range a.used {
		if !inUse {
			slot = i
			break
		}
	}
	if slot == -1 {
		return fmt.Errorf("swap: no free slot (capacity %d exhausted)", a.slots)
	}
	a.used[slot] = true

	data := p.Frame.Bytes()
	base := uint32(slot * SectorsPerSlot)
	for i := 0; i < SectorsPerSlot; i++ {
		sec := data[i*block.SectorSize : (i+1)*block.SectorSize]
		if err := a.dev.WriteSector(ctx, base+uint32(i), sec); err != nil {
			a.used[slot] = false
			return fmt.Errorf("swap: write sector %d: %w", base+uint32(i), err)
		}
	}
	p.SwapSlot = slot
	return nil
}

// Load reads the page's recorded slot into its currently-assigned frame,
// frees the slot, and clears the descriptor's slot reference.
func (a *Area) Load(ctx context.Context, p *page.Descriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.Frame == nil {
		return fmt.Errorf("swap: load called on descriptor with no frame")
	}
	if p.SwapSlot == page.NoSlot {
		return fmt.Errorf("swap: load called on descriptor with no swap slot")
	}
	slot := p.SwapSlot
	if slot < 0 || slot >= a.slots || !a.used[slot] {
		return fmt.Errorf("swap: slot %d not allocated", slot)
	}

	data := p.Frame.Bytes()
	base := uint32(slot * SectorsPerSlot)
	for i := 0; i < SectorsPerSlot; i++ {
		sec := data[i*block.SectorSize : (i+1)*block.SectorSize]
		if err := a.dev.ReadSector(ctx, base+uint32(i), sec); err != nil {
			return fmt.Errorf("swap: read sector %d: %w", base+uint32(i), err)
		}
	}
	a.used[slot] = false
	p.SwapSlot = page.NoSlot
	return nil
}

// Free marks slot free without reading it back, used by supplemental-table
// teardown for descriptors that are InSwap when the process exits.
func (a *Area) Free(slot int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot < 0 || slot >= a.slots {
		return
	}
	a.used[slot] = false
}

// Capacity returns the total number of slots.
func (a *Area) Capacity() int {
	return a.slots
}

// InUse returns the number of currently allocated slots, for diagnostics
// and tests.
func (a *Area) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.used {
		if b {
			n++
		}
	}
	return n
}
