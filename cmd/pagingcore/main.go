// Command pagingcore boots the paging core against a config file and
// runs a small demonstration workload: it maps a few anonymous stack
// pages and one file-backed page, then reports frame and swap usage and
// the counters. Five pages do not exhaust the default frame pool, so no
// eviction happens with the default config. It exists to exercise the wiring
// between config, blockdev, swap, frame, spt, procvm, and fault the way
// a standalone driver would, not as a production init process.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"pagingcore/src/blockdev"
	"pagingcore/src/config"
	"pagingcore/src/diag"
	"pagingcore/src/fault"
	"pagingcore/src/frame"
	"pagingcore/src/mmu"
	"pagingcore/src/palloc"
	"pagingcore/src/procvm"
	"pagingcore/src/spt"
	"pagingcore/src/swap"
	"sync"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (defaults are used if empty)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("pagingcore: %v", err)
		}
		cfg = loaded
	}
	diag.Enabled.Store(cfg.Diag.Enabled)

	pool := palloc.NewPool(cfg.Frames.Count, mmu.PageSize)
	dev := blockdev.NewMemDevice(cfg.Swap.Sectors)
	swapper := swap.New(dev)
	frames := frame.NewTable(pool, swapper)

	var fsLock sync.Mutex
	dir := mmu.New()
	table := spt.New(dir, frames, swapper, &fsLock)
	proc := procvm.New(dir, table, frames)
	proc.PhysBase = 0xC0000000
	proc.SetUserSP(0xC0000000 - 64)

	// A small file-backed page and several anonymous stack pages.
	backing := bytes.NewReader(bytes.Repeat([]byte{0x42}, mmu.PageSize))
	filePage := uintptr(0x08048000)
	if !table.Add(filePage, spt.InFile, backing, 0, mmu.PageSize, 0, false) {
		log.Fatal("pagingcore: failed to register file-backed page")
	}

	const stackPages = 4
	base := uintptr(0xC0000000) - mmu.PageSize*stackPages
	for i := 0; i < stackPages; i++ {
		addr := base + uintptr(i)*mmu.PageSize
		proc.SetUserSP(addr)
		if !fault.MapToFrame(proc, addr, proc.UserSP(), true) {
			log.Fatalf("pagingcore: failed to fault in stack page %d", i)
		}
		diag.Counters.StackGrowths.Inc()
	}

	if !fault.CheckAddr(proc, filePage) {
		log.Fatal("pagingcore: failed to validate file-backed page")
	}

	fmt.Printf("frames resident: %d, free: %d, swap slots used: %d\n",
		frames.Count()-frames.FreeCount(), frames.FreeCount(), swapSlotsUsed(swapper))
	if s := diag.String(); s != "" {
		fmt.Print(s)
	}

	proc.Terminate(0)
	os.Exit(0)
}

func swapSlotsUsed(a *swap.Allocator) int {
	n := 0
	for i := 0; i < a.Slots(); i++ {
		if a.Occupied(i) {
			n++
		}
	}
	return n
}
