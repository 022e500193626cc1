// Package swap is the swap slot allocator: it owns the block device and
// a bitmap of page-granular slots, grounded on the original
// vm/swap.c/vm/swap.h. Slot size is PageSize/SectorSize contiguous
// sectors (SectorsPerPage), matching SECTORS_PER_PAGE in the source.
//
// Per REDESIGN FLAG 9.4, Clear here actually frees the slot (sets its
// bit to the free value) instead of reproducing the original's
// bitmap_set(swap_table, idx, true) bug, which marks a cleared slot
// occupied.
package swap

import (
	"fmt"
	"sync"

	"pagingcore/src/blockdev"
	"pagingcore/src/mmu"
)

// SectorsPerPage is the number of device sectors backing one page-sized
// swap slot: PageSize / SectorSize.
const SectorsPerPage = mmu.PageSize / blockdev.SectorSize

const (
	slotFree     = false
	slotOccupied = true
)

// Allocator is the swap slot allocator. All three operations acquire mu
// and perform their I/O while holding it: the block device is already
// serialized end to end, so nothing is gained by releasing the lock
// mid-operation (spec §4.1).
type Allocator struct {
	sync.Mutex
	dev    blockdev.Device
	bitmap []bool
}

// New creates a swap allocator over dev. It panics if dev is nil or too
// small to hold one slot, mirroring init_swap_table's PANIC on a missing
// or malformed swap device. Sectors beyond the last whole slot are unused.
func New(dev blockdev.Device) *Allocator {
	if dev == nil {
		panic("swap: no swap device configured")
	}
	slots := dev.Size() / SectorsPerPage
	if slots <= 0 {
		panic("swap: device too small for one slot")
	}
	return &Allocator{
		dev:    dev,
		bitmap: make([]bool, slots),
	}
}

// Slots returns the total number of swap slots.
func (a *Allocator) Slots() int {
	return len(a.bitmap)
}

// Out atomically finds the first free slot, writes SectorsPerPage
// sectors of frame to it, and returns the slot index. frame must be
// exactly PageSize bytes. It panics if the bitmap is exhausted: swap
// exhaustion is unrecoverable (spec §7).
func (a *Allocator) Out(frame []byte) int {
	if len(frame) != mmu.PageSize {
		panic("swap: frame must be PageSize bytes")
	}
	a.Lock()
	defer a.Unlock()

	idx := -1
	for i, occupied := range a.bitmap {
		if occupied == slotFree {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic("swap: partition is full")
	}
	a.bitmap[idx] = slotOccupied

	base := idx * SectorsPerPage
	for i := 0; i < SectorsPerPage; i++ {
		sector := frame[i*blockdev.SectorSize : (i+1)*blockdev.SectorSize]
		a.dev.WriteSector(base+i, sector)
	}
	return idx
}

// In reads the slot at idx into frame and frees the slot. frame must be
// exactly PageSize bytes.
func (a *Allocator) In(idx int, frame []byte) {
	if len(frame) != mmu.PageSize {
		panic("swap: frame must be PageSize bytes")
	}
	a.Lock()
	defer a.Unlock()
	a.checkIdx(idx)

	base := idx * SectorsPerPage
	for i := 0; i < SectorsPerPage; i++ {
		sector := frame[i*blockdev.SectorSize : (i+1)*blockdev.SectorSize]
		a.dev.ReadSector(base+i, sector)
	}
	a.bitmap[idx] = slotFree
}

// Clear marks idx free without performing any I/O, used when an SPTE
// holding a swap slot is destroyed without ever being faulted back in.
func (a *Allocator) Clear(idx int) {
	a.Lock()
	defer a.Unlock()
	a.checkIdx(idx)
	a.bitmap[idx] = slotFree
}

// Occupied reports whether idx currently holds swapped-out data, used
// by tests checking invariant 5 (at most one SPTE per occupied slot).
func (a *Allocator) Occupied(idx int) bool {
	a.Lock()
	defer a.Unlock()
	a.checkIdx(idx)
	return a.bitmap[idx] == slotOccupied
}

func (a *Allocator) checkIdx(idx int) {
	if idx < 0 || idx >= len(a.bitmap) {
		panic(fmt.Sprintf("swap: slot %d out of range", idx))
	}
}
