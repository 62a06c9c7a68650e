package frame

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/oslab/vmcore/src/block"
	"gitlab.com/oslab/vmcore/src/mmu"
	"gitlab.com/oslab/vmcore/src/page"
	"gitlab.com/oslab/vmcore/src/swap"
)

func newHarness(t *testing.T, poolSize, swapSlots int) (*Table, *mmu.Simulated, *swap.Area) {
	t.Helper()
	dev := block.NewMemory(uint32(swapSlots * swap.SectorsPerSlot))
	area, err := swap.New(dev, swapSlots)
	require.NoError(t, err)
	phys := NewSimpleAllocator(poolSize)
	simMMU := mmu.NewSimulated()
	tbl := New(poolSize, phys, simMMU, area)
	return tbl, simMMU, area
}

func descriptorFor(mmuDrv *mmu.Simulated, pd mmu.PageDir, vaddr uintptr) *page.Descriptor {
	d := page.New(pd, vaddr, false)
	d.Status = page.InFile
	return d
}

func installed(t *testing.T, tbl *Table, m *mmu.Simulated, d *page.Descriptor) *Entry {
	t.Helper()
	e, err := tbl.Acquire(context.Background())
	require.NoError(t, err)
	tbl.Bind(e, d)
	ok := m.Install(d.PageDir, d.VAddr, e.PAddr(), d.Writable)
	require.True(t, ok)
	d.Status = page.InFrame
	return e
}

func TestAcquireFillsFreePoolBeforeEvicting(t *testing.T) {
	tbl, _, _ := newHarness(t, 2, DefaultTestSlots)

	e1, err := tbl.Acquire(context.Background())
	require.NoError(t, err)
	e2, err := tbl.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, e1.Index(), e2.Index())
	assert.Equal(t, 0, tbl.FreeCount())
}

func TestBackLinkInvariant(t *testing.T) {
	tbl, m, _ := newHarness(t, 2, DefaultTestSlots)
	pd := mmu.PageDir(1)
	d := descriptorFor(m, pd, 0x1000)
	e := installed(t, tbl, m, d)

	assert.Same(t, e, d.Frame)
	assert.Same(t, d, e.Occupant)
}

func TestReleaseClearsMMUAndFreesBitmap(t *testing.T) {
	tbl, m, _ := newHarness(t, 1, DefaultTestSlots)
	pd := mmu.PageDir(1)
	d := descriptorFor(m, pd, 0x1000)
	e := installed(t, tbl, m, d)

	tbl.Release(e)
	assert.Equal(t, 1, tbl.FreeCount())
	_, ok := m.Resolve(pd, 0x1000)
	assert.False(t, ok)
}

// TestForcedEviction reproduces scenario 5 from the spec: a 2-frame pool,
// three IN_FILE descriptors A, B, C. Faults resolve in order A, B, A (which
// sets A's accessed bit), then C. The clock hand should clear A's accessed
// bit and pick B as the victim, leaving A resident, B swapped out, and C
// resident.
func TestForcedEviction(t *testing.T) {
	tbl, m, sw := newHarness(t, 2, DefaultTestSlots)
	pd := mmu.PageDir(1)

	a := descriptorFor(m, pd, 0x1000)
	b := descriptorFor(m, pd, 0x2000)
	c := descriptorFor(m, pd, 0x3000)

	installed(t, tbl, m, a)
	installed(t, tbl, m, b)

	// Touch A again (access bit set), matching the "resolve A, B, A" order.
	m.Touch(pd, a.VAddr)

	// C's fault forces an eviction: pool is full.
	e, err := tbl.Acquire(context.Background())
	require.NoError(t, err)
	tbl.Bind(e, c)
	ok := m.Install(pd, c.VAddr, e.PAddr(), c.Writable)
	require.True(t, ok)
	c.Status = page.InFrame

	assert.Equal(t, page.InFrame, a.Status)
	assert.Equal(t, page.InSwap, b.Status)
	assert.Equal(t, page.InFrame, c.Status)
	assert.NotEqual(t, page.NoSlot, b.SwapSlot)
	assert.Equal(t, 1, sw.InUse())

	_, ok = m.Resolve(pd, b.VAddr)
	assert.False(t, ok, "evicted page's mapping must be cleared")
}

// TestPinnedFrameIsNotEvicted fills a 2-frame pool, pins one occupant, then
// forces a third fault. The clock must skip the pinned frame and victimize
// the other one instead of blocking or selecting the pinned frame.
func TestPinnedFrameIsNotEvicted(t *testing.T) {
	tbl, m, _ := newHarness(t, 2, DefaultTestSlots)
	pd := mmu.PageDir(1)

	a := descriptorFor(m, pd, 0x1000)
	b := descriptorFor(m, pd, 0x2000)
	c := descriptorFor(m, pd, 0x3000)

	installed(t, tbl, m, a)
	installed(t, tbl, m, b)

	require.True(t, a.Pin.TryLock())
	defer a.Pin.Unlock()

	e, err := tbl.Acquire(context.Background())
	require.NoError(t, err)
	tbl.Bind(e, c)
	ok := m.Install(pd, c.VAddr, e.PAddr(), c.Writable)
	require.True(t, ok)
	c.Status = page.InFrame

	assert.Equal(t, page.InFrame, a.Status, "pinned descriptor must not be evicted")
	assert.Equal(t, page.InSwap, b.Status)
}

const DefaultTestSlots = 8
