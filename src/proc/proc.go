// Package proc supplies the minimal per-thread context the fault resolver
// needs: an owning page directory, a supplemental page table, and the
// current stack page count. The distilled spec treats this as an external
// thread/trap-layer collaborator; a Go module needs a concrete type to hand
// around, so this package gives it one.
package proc

import (
	"sync"

	"gitlab.com/oslab/vmcore/src/mmu"
	"gitlab.com/oslab/vmcore/src/page"
)

// Process bundles the address-space state one simulated user process needs
// to fault against: its page directory handle, its supplemental table, and
// its current stack size in pages.
type Process struct {
	Name    string
	PageDir mmu.PageDir
	Table   *page.Table

	mu         sync.Mutex
	stackPages int

	// FilesysLock stands in for the environment's single global
	// filesystem lock. fault.Resolve locks and unlocks it around a
	// file-backed page's read, unless the trap's FilesysLockHeld flag says
	// the caller already holds it (a syscall handler faulting on a user
	// buffer while mid-filesystem-call) -- in that case Resolve leaves it
	// alone rather than re-locking a non-reentrant mutex it doesn't own.
	FilesysLock sync.Locker

	terminated bool
	exitReason error
}

// New creates a process with an empty supplemental table and one resident
// stack page already accounted for (the spec's "current stack bottom"
// baseline before any growth fault).
func New(name string, pd mmu.PageDir, filesysLock sync.Locker) *Process {
	return &Process{
		Name:        name,
		PageDir:     pd,
		Table:       page.NewTable(),
		stackPages:  1,
		FilesysLock: filesysLock,
	}
}

// StackPages returns the current number of resident stack pages.
func (p *Process) StackPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stackPages
}

// GrowStack increments the stack page counter and returns the new count.
func (p *Process) GrowStack() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stackPages++
	return p.stackPages
}

// Terminate marks the process dead with the given reason. It never panics
// and never unwinds a goroutine by itself -- callers (the fault resolver,
// the demo harness) are responsible for stopping work on a terminated
// process.
func (p *Process) Terminate(reason error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.terminated {
		p.terminated = true
		p.exitReason = reason
	}
}

// Terminated reports whether Terminate has been called, and with what
// reason.
func (p *Process) Terminated() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.exitReason
}

// Exit tears the process down: destroys every supplemental-table
// descriptor, releasing frames and swap slots.
func (p *Process) Exit(frames page.FrameReleaser, slots page.SlotFreer) {
	p.Table.Destroy(frames, slots)
}
