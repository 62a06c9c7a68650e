package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrame struct {
	idx   int
	paddr uintptr
	bytes []byte
}

func (f *fakeFrame) Index() int     { return f.idx }
func (f *fakeFrame) PAddr() uintptr { return f.paddr }
func (f *fakeFrame) Bytes() []byte  { return f.bytes }

type fakeFrames struct {
	released []Frame
}

func (f *fakeFrames) Release(fr Frame) { f.released = append(f.released, fr) }

type fakeSlots struct {
	freed []int
}

func (f *fakeSlots) Free(slot int) { f.freed = append(f.freed, slot) }

func TestTableLookupUsesPageNumber(t *testing.T) {
	tbl := NewTable()
	d := New(1, 0x1000, true)
	tbl.Insert(d)

	got, ok := tbl.Lookup(0x1000)
	require.True(t, ok)
	assert.Same(t, d, got)

	got, ok = tbl.Lookup(0x1abc)
	require.True(t, ok, "lookup should ignore in-page offset bits")
	assert.Same(t, d, got)

	_, ok = tbl.Lookup(0x2000)
	assert.False(t, ok)
}

func TestPinUnpin(t *testing.T) {
	tbl := NewTable()
	d := New(1, 0x3000, false)
	tbl.Insert(d)

	assert.True(t, tbl.Pin(0x3000))
	assert.False(t, d.Pin.TryLock(), "pin should be held after Pin")
	tbl.Unpin(0x3000)
	assert.True(t, d.Pin.TryLock(), "pin should be released after Unpin")
	d.Pin.Unlock()

	assert.False(t, tbl.Pin(0x4000), "pin on a missing descriptor reports false")
}

func TestDestroyReleasesFramesAndSlots(t *testing.T) {
	tbl := NewTable()

	withFrame := New(1, 0x1000, true)
	withFrame.Status = InFrame
	withFrame.Frame = &fakeFrame{idx: 0}
	tbl.Insert(withFrame)

	withSlot := New(1, 0x2000, true)
	withSlot.Status = InSwap
	withSlot.SwapSlot = 7
	tbl.Insert(withSlot)

	bare := New(1, 0x3000, true)
	tbl.Insert(bare)

	frames := &fakeFrames{}
	slots := &fakeSlots{}
	tbl.Destroy(frames, slots)

	assert.Len(t, frames.released, 1)
	assert.Equal(t, []int{7}, slots.freed)
	assert.Equal(t, 0, tbl.Count())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "all-zero", AllZero.String())
	assert.Equal(t, "in-frame", InFrame.String())
	assert.Equal(t, "in-swap", InSwap.String())
	assert.Equal(t, "in-file", InFile.String())
}
