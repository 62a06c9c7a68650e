// Package vmcore wires the swap area, frame table, supplemental page
// tables, and fault resolver into a single runnable system, and supplies
// the demo/test harness (cmd/vmcore and the scenario tests) use to drive
// scripted fault sequences end-to-end against an in-memory filesystem and
// swap device.
package vmcore

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gitlab.com/oslab/vmcore/src/block"
	"gitlab.com/oslab/vmcore/src/config"
	"gitlab.com/oslab/vmcore/src/diag"
	"gitlab.com/oslab/vmcore/src/fault"
	"gitlab.com/oslab/vmcore/src/frame"
	"gitlab.com/oslab/vmcore/src/mmu"
	"gitlab.com/oslab/vmcore/src/page"
	"gitlab.com/oslab/vmcore/src/proc"
	"gitlab.com/oslab/vmcore/src/swap"
)

// frameAcquirer adapts *frame.Table to fault.FrameAcquirer: frame.Table's
// methods return/accept the concrete *frame.Entry, which satisfies
// fault.Frame structurally, but Go requires the adapter because interface
// satisfaction needs identical method signatures, not just compatible
// concrete types.
type frameAcquirer struct {
	t *frame.Table
}

func (a frameAcquirer) Acquire(ctx context.Context) (fault.Frame, error) {
	e, err := a.t.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (a frameAcquirer) Bind(f fault.Frame, d *page.Descriptor) {
	e, ok := f.(*frame.Entry)
	if !ok {
		panic("vmcore: Bind called with a Frame not produced by this frame.Table")
	}
	a.t.Bind(e, d)
}

func (a frameAcquirer) Release(f fault.Frame) {
	e, ok := f.(*frame.Entry)
	if !ok {
		panic("vmcore: Release called with a Frame not produced by this frame.Table")
	}
	a.t.Release(e)
}

// System bundles one VM core instance: a shared frame table and swap area,
// a simulated MMU, and the fault resolver built on top of them. Multiple
// proc.Process values can fault against the same System concurrently.
type System struct {
	Frames *frame.Table
	Swap   *swap.Area
	MMU    *mmu.Simulated
	Phys   *frame.SimpleAllocator
	Cfg    config.Config

	resolver *fault.Resolver
	log      zerolog.Logger
}

// New builds a System from the given configuration, backed by in-memory
// block and physical-page devices.
func New(cfg config.Config, logger zerolog.Logger) (*System, error) {
	dev := block.NewMemory(uint32(cfg.SwapSlots * swap.SectorsPerSlot))
	area, err := swap.New(dev, cfg.SwapSlots)
	if err != nil {
		return nil, fmt.Errorf("vmcore: swap area: %w", err)
	}

	phys := frame.NewSimpleAllocator(cfg.FrameCount)
	simMMU := mmu.NewSimulated()
	frames := frame.New(cfg.FrameCount, phys, simMMU, area)

	faultCfg := fault.Config{
		UserTop:          uintptr(cfg.UserTop),
		MaxStackPages:    cfg.MaxStackPages,
		StackFaultWindow: uintptr(cfg.StackFaultWindow),
		IsKernelVAddr: func(v uintptr) bool {
			return v >= uintptr(cfg.UserTop)
		},
	}
	resolver := fault.New(frameAcquirer{t: frames}, area, simMMU, faultCfg)

	return &System{
		Frames:   frames,
		Swap:     area,
		MMU:      simMMU,
		Phys:     phys,
		Cfg:      cfg,
		resolver: resolver,
		log:      logger,
	}, nil
}

// NewLogger builds the zerolog.Logger this module's components and
// cmd/vmcore use, writing human-readable console output.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// NewProcess creates a process on a fresh page directory, ready to fault
// against this System.
func (s *System) NewProcess(name string) *proc.Process {
	pd := s.MMU.NewPageDir()
	return proc.New(name, pd, nil)
}

// Fault resolves one trap for p, logging the outcome and recording it in
// recent. A non-nil error means p should be considered terminated; Fault
// itself calls p.Terminate so callers don't have to duplicate that
// bookkeeping.
func (s *System) Fault(ctx context.Context, p *proc.Process, tr fault.Trap, recent *diag.Recent) error {
	err := s.resolver.Resolve(ctx, p, tr)
	outcome := "resolved"
	if err != nil {
		outcome = err.Error()
		p.Terminate(err)
		s.log.Warn().Str("process", p.Name).Uint64("vaddr", uint64(tr.FaultAddr)).Err(err).Msg("page fault terminated process")
	} else {
		s.log.Debug().Str("process", p.Name).Uint64("vaddr", uint64(tr.FaultAddr)).Msg("page fault resolved")
	}
	if recent != nil {
		recent.Push(tr.FaultAddr, outcome)
	}
	return err
}

// RunConcurrent replays each process's fault sequence in its own goroutine
// via errgroup, exercising the frame table's and swap area's real locking
// under concurrent pressure from multiple simulated processes rather than a
// single-threaded replay. It stops launching new faults for a process as
// soon as that process terminates, but other processes keep running.
func RunConcurrent(ctx context.Context, sys *System, sequences map[*proc.Process][]fault.Trap, recent *diag.Recent) error {
	g, ctx := errgroup.WithContext(ctx)
	for p, traps := range sequences {
		p, traps := p, traps
		g.Go(func() error {
			for _, tr := range traps {
				if done, _ := p.Terminated(); done {
					break
				}
				_ = sys.Fault(ctx, p, tr, recent)
			}
			return nil
		})
	}
	return g.Wait()
}
