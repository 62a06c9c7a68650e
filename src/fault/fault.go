// Package fault implements the page-fault resolver: on a trap, it
// classifies the fault and drives the supplemental page table, frame table,
// and swap area to make the access valid, or terminates the faulting
// process. This is the piece that turns the other three components into a
// working demand-paging/swapping VM core, grounded directly on userprog's
// page_fault handler in the original source.
package fault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gitlab.com/oslab/vmcore/src/mmu"
	"gitlab.com/oslab/vmcore/src/page"
	"gitlab.com/oslab/vmcore/src/proc"
)

// ErrUserFatal wraps any condition that terminates the faulting process
// without being a kernel bug: null/kernel-range addresses, wild accesses
// outside the stack window, a stack grown past its cap, a short file read,
// a write to a read-only page, or an MMU install failure on a file/swap
// page.
var ErrUserFatal = errors.New("fault: user-fatal")

// Trap carries everything the CPU's page-fault exception hands the kernel:
// the faulting address, the three error-code flags, and the saved user
// stack pointer.
type Trap struct {
	FaultAddr uintptr
	Present   bool
	Write     bool
	User      bool
	ESP       uintptr

	// FilesysLockHeld is set by the caller when it already holds
	// Process.FilesysLock on entry -- the case of a syscall handler
	// (e.g. read()) faulting on a user buffer while it already holds the
	// lock for its own filesystem access. Resolve must not lock a
	// non-reentrant mutex it already holds.
	FilesysLockHeld bool
}

// Config bundles the user-space layout constants the resolver needs.
type Config struct {
	UserTop          uintptr
	MaxStackPages    int
	StackFaultWindow uintptr // default 32, the PUSH/PUSHA tolerance either side of ESP
	IsKernelVAddr    func(uintptr) bool
}

// DefaultConfig matches the spec's literal values (page size 4096, user top
// 0xc0000000, 8 MiB stack cap, 32-byte PUSHA tolerance).
func DefaultConfig() Config {
	const userTop = 0xc0000000
	return Config{
		UserTop:          userTop,
		MaxStackPages:    2048,
		StackFaultWindow: 32,
		IsKernelVAddr: func(v uintptr) bool {
			return v >= userTop
		},
	}
}

// FrameAcquirer is the subset of frame.Table the resolver needs.
type FrameAcquirer interface {
	Acquire(ctx context.Context) (Frame, error)
	Bind(f Frame, d *page.Descriptor)
	// Release returns a frame acquired but never successfully installed
	// back to the pool, used to unwind a materialization that failed
	// partway through.
	Release(f Frame)
}

// Frame is the subset of frame.Entry the resolver needs to touch directly.
type Frame interface {
	Bytes() []byte
	PAddr() uintptr
}

// Swapper is the subset of swap.Area the resolver needs for swap-in.
type Swapper interface {
	Load(ctx context.Context, p *page.Descriptor) error
}

// Resolver resolves page faults for a single address space against a
// shared frame table and swap area.
type Resolver struct {
	Frames FrameAcquirer
	Swap   Swapper
	MMU    mmu.Driver
	Cfg    Config
}

// New creates a Resolver wired to the given collaborators.
func New(frames FrameAcquirer, sw Swapper, drv mmu.Driver, cfg Config) *Resolver {
	return &Resolver{Frames: frames, Swap: sw, MMU: drv, Cfg: cfg}
}

func pageNo(v uintptr) uintptr {
	return v &^ (page.PageSize - 1)
}

// Resolve classifies and resolves a single page fault trap for p. A nil
// return means the faulting instruction can be retried; a non-nil return
// means the caller must terminate the process (wrapping ErrUserFatal) or,
// for kernel-fatal conditions, the function panics directly instead of
// returning.
func (r *Resolver) Resolve(ctx context.Context, p *proc.Process, tr Trap) error {
	if tr.FaultAddr == 0 || r.Cfg.IsKernelVAddr(tr.FaultAddr) {
		return fmt.Errorf("%w: fault address %#x is null or in kernel space", ErrUserFatal, tr.FaultAddr)
	}

	d, ok := p.Table.Lookup(tr.FaultAddr)
	if !ok {
		return r.resolveAbsent(ctx, p, tr)
	}

	var err error
	switch d.Status {
	case page.InFile:
		err = r.resolveInFile(ctx, d, tr.FilesysLockHeld, p.FilesysLock)
	case page.InSwap:
		err = r.resolveInSwap(ctx, d)
	case page.InFrame:
		err = r.resolveRightsViolation(tr)
	case page.AllZero:
		err = r.resolveAllZero(ctx, d)
	default:
		err = fmt.Errorf("%w: descriptor %#x has unknown status %v", ErrUserFatal, d.VAddr, d.Status)
	}
	return err
}

// bindForMaterialization binds f to d and locks d.Pin, opening the critical
// section between "frame.occupant = p" and "status = IN_FRAME" the spec
// requires be atomic with respect to eviction: frame.Table.evict only ever
// victimizes a descriptor via occ.Pin.TryLock, so holding Pin here makes the
// evictor skip d until materialization finishes (or aborts) and unlocks it.
func (r *Resolver) bindForMaterialization(f Frame, d *page.Descriptor) {
	d.Pin.Lock()
	r.Frames.Bind(f, d)
}

// abortMaterialization unwinds a bindForMaterialization that failed before
// reaching Status = InFrame: it detaches the frame, returns it to the pool,
// and releases the pin, so the descriptor keeps its Status (AllZero/InFile/
// InSwap) with no frame, rather than leaking a frame or leaving Status and
// Frame out of sync. If a swap Load already succeeded, its slot has been
// freed and SwapSlot is NoSlot by the time the abort runs.
func (r *Resolver) abortMaterialization(f Frame, d *page.Descriptor) {
	d.Frame = nil
	r.Frames.Release(f)
	d.Pin.Unlock()
}

func (r *Resolver) resolveInFile(ctx context.Context, d *page.Descriptor, lockHeld bool, filesysLock sync.Locker) error {
	f, err := r.Frames.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("fault: acquire frame for file-backed page: %w", err)
	}
	r.bindForMaterialization(f, d)

	needsLock := filesysLock != nil && !lockHeld
	if needsLock {
		filesysLock.Lock()
	}
	n, err := d.File.ReadAt(ctx, f.Bytes()[:d.ReadBytes], d.Offset)
	if needsLock {
		filesysLock.Unlock()
	}
	if err != nil || n != d.ReadBytes {
		r.abortMaterialization(f, d)
		return fmt.Errorf("%w: short read loading page %#x (%d/%d bytes, err=%v)", ErrUserFatal, d.VAddr, n, d.ReadBytes, err)
	}

	buf := f.Bytes()
	for i := d.ReadBytes; i < len(buf); i++ {
		buf[i] = 0
	}

	if !r.MMU.Install(d.PageDir, d.VAddr, f.PAddr(), d.Writable) {
		r.abortMaterialization(f, d)
		return fmt.Errorf("%w: MMU install failed for file-backed page %#x", ErrUserFatal, d.VAddr)
	}
	d.Status = page.InFrame
	d.Pin.Unlock()
	return nil
}

func (r *Resolver) resolveInSwap(ctx context.Context, d *page.Descriptor) error {
	f, err := r.Frames.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("fault: acquire frame for swapped-out page: %w", err)
	}
	r.bindForMaterialization(f, d)

	if err := r.Swap.Load(ctx, d); err != nil {
		r.abortMaterialization(f, d)
		return fmt.Errorf("%w: swap load failed for page %#x: %v", ErrUserFatal, d.VAddr, err)
	}

	if !r.MMU.Install(d.PageDir, d.VAddr, f.PAddr(), d.Writable) {
		r.abortMaterialization(f, d)
		return fmt.Errorf("%w: MMU install failed for swapped-in page %#x", ErrUserFatal, d.VAddr)
	}
	d.Status = page.InFrame
	d.Pin.Unlock()
	return nil
}

func (r *Resolver) resolveAllZero(ctx context.Context, d *page.Descriptor) error {
	f, err := r.Frames.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("fault: acquire frame for zero-fill page: %w", err)
	}
	r.bindForMaterialization(f, d)

	// A frame handed back by eviction still holds the victim's bytes.
	buf := f.Bytes()
	for i := range buf {
		buf[i] = 0
	}

	if !r.MMU.Install(d.PageDir, d.VAddr, f.PAddr(), d.Writable) {
		r.abortMaterialization(f, d)
		return fmt.Errorf("%w: MMU install failed for zero-fill page %#x", ErrUserFatal, d.VAddr)
	}
	d.Status = page.InFrame
	d.Pin.Unlock()
	return nil
}

func (r *Resolver) resolveRightsViolation(tr Trap) error {
	if tr.Write {
		return fmt.Errorf("%w: write to read-only page at %#x", ErrUserFatal, tr.FaultAddr)
	}
	return fmt.Errorf("%w: spurious fault at %#x on a resident page", ErrUserFatal, tr.FaultAddr)
}

func (r *Resolver) resolveAbsent(ctx context.Context, p *proc.Process, tr Trap) error {
	stackFloor := r.Cfg.UserTop - uintptr(r.Cfg.MaxStackPages)*page.PageSize
	if tr.FaultAddr >= r.Cfg.UserTop || tr.FaultAddr < stackFloor {
		return fmt.Errorf("%w: fault at %#x outside the 8MiB stack window", ErrUserFatal, tr.FaultAddr)
	}
	lo := tr.ESP - r.Cfg.StackFaultWindow
	hi := tr.ESP + r.Cfg.StackFaultWindow
	if tr.FaultAddr < lo || tr.FaultAddr > hi {
		return fmt.Errorf("%w: fault at %#x is not a plausible stack-growth access (esp=%#x)", ErrUserFatal, tr.FaultAddr, tr.ESP)
	}

	currentBottom := r.Cfg.UserTop - uintptr(p.StackPages())*page.PageSize
	for newAddr := pageNo(tr.FaultAddr); newAddr < currentBottom; newAddr += page.PageSize {
		d := page.New(p.PageDir, newAddr, true)
		d.IsStack = true
		p.Table.Insert(d)

		if p.GrowStack() > r.Cfg.MaxStackPages {
			return fmt.Errorf("%w: stack grown past %d pages", ErrUserFatal, r.Cfg.MaxStackPages)
		}

		f, err := r.Frames.Acquire(ctx)
		if err != nil {
			panic(fmt.Sprintf("fault: unable to acquire frame for stack growth: %v", err))
		}
		// Link the newly created descriptor to the newly acquired frame
		// before installing the mapping -- the corrected contract from
		// DESIGN NOTES: the original source mistakenly links the stale
		// (nil) lookup result instead of the fresh descriptor. Pin stays
		// held across the install so a concurrent evictor can't pick this
		// frame before the mapping (and Status) is in place.
		r.bindForMaterialization(f, d)

		buf := f.Bytes()
		for i := range buf {
			buf[i] = 0
		}

		if !r.MMU.Install(d.PageDir, d.VAddr, f.PAddr(), d.Writable) {
			panic(fmt.Sprintf("fault: MMU install failed growing stack page %#x", d.VAddr))
		}
		d.Status = page.InFrame
		d.Pin.Unlock()
	}

	return nil
}
