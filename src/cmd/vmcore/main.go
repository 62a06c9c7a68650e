// Command vmcore is a small demo harness: it wires a frame table, swap
// area, and fault resolver together, loads a toy executable image, and
// replays a scripted sequence of page faults against it, logging each
// resolution and printing a final diagnostics report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gitlab.com/oslab/vmcore/src/config"
	"gitlab.com/oslab/vmcore/src/diag"
	"gitlab.com/oslab/vmcore/src/fault"
	"gitlab.com/oslab/vmcore/src/fsio"
	"gitlab.com/oslab/vmcore/src/page"
	"gitlab.com/oslab/vmcore/src/vmcore"
)

func main() {
	configFile := flag.String("config", "", "path to a vmcore config file (optional)")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vmcore:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := vmcore.NewLogger(cfg.LogLevel)
	sys, err := vmcore.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build vm core")
	}

	image := make([]byte, 8192)
	for i := range image {
		image[i] = byte(i)
	}
	reader := &fsio.File{Data: image}

	p := sys.NewProcess("demo")
	seg := page.New(p.PageDir, 0x08048000, false)
	seg.Status = page.InFile
	seg.File = reader
	seg.Offset = 0
	seg.ReadBytes = page.PageSize
	p.Table.Insert(seg)

	recent := diag.NewRecent(32)
	ctx := context.Background()

	faults := []fault.Trap{
		{FaultAddr: 0x08048010},
		{FaultAddr: 0xbfffefe0, ESP: 0xbfffefe0},
	}
	for _, tr := range faults {
		_ = sys.Fault(ctx, p, tr, recent)
	}

	fmt.Println("recent fault activity:")
	for _, e := range recent.Entries() {
		fmt.Printf("  vaddr=%#x outcome=%s\n", e.VAddr, e.Outcome)
	}
	fmt.Printf("frames free: %d/%d, swap slots in use: %d/%d\n",
		sys.Frames.FreeCount(), sys.Frames.Size(), sys.Swap.InUse(), sys.Swap.Capacity())
}
