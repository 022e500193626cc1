// Package spt is the supplemental page table: one per process, mapping
// each virtual page to an SPTE describing where its contents live and
// driving the INFILE/INSWAP/INFRAME/INSTACK state machine from spec §4.
// It is grounded on the original vm/page.c (page_add, page_find,
// load_page, grow_stack, page_unpin, spte_destroy_func) and backed by
// the teacher's hashtable package (hashtable/hashtable.go), adapted in
// pagingcore/src/hashtable, the way page.c backs the SPT with a
// Pintos hash table.
package spt

import (
	"io"
	"sync"

	"go.uber.org/atomic"

	"pagingcore/src/frame"
	"pagingcore/src/hashtable"
	"pagingcore/src/mmu"
	"pagingcore/src/palloc"
	"pagingcore/src/swap"
)

// Status is the SPTE state (spec §3).
type Status int

const (
	InFile Status = iota
	InSwap
	InFrame
	InStack
)

func (s Status) String() string {
	switch s {
	case InFile:
		return "INFILE"
	case InSwap:
		return "INSWAP"
	case InFrame:
		return "INFRAME"
	case InStack:
		return "INSTACK"
	default:
		return "INVALID"
	}
}

// noSwapSlot is the sentinel swap_idx value used when a page does not
// currently occupy a swap slot.
const noSwapSlot = -1

// Spte is one supplemental page table entry. Every field transition
// happens under mu (load_lock in the spec).
type Spte struct {
	mu sync.Mutex

	dir    *mmu.PageDir
	upage  uintptr
	status Status
	pin    atomic.Bool

	writable bool
	swapIdx  int

	file       io.ReaderAt
	ofs        int64
	readBytes  int
	zeroBytes  int

	frame palloc.Frame

	swapper *swap.Allocator
	fsLock  sync.Locker
}

// Upage returns the page-aligned virtual address this entry describes.
func (s *Spte) Upage() uintptr { return s.upage }

// Writable reports the protection bit stored for the eventual MMU mapping.
func (s *Spte) Writable() bool { return s.writable }

// Status returns the entry's current state.
func (s *Spte) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Pinned implements frame.Owner.
func (s *Spte) Pinned() bool { return s.pin.Load() }

// Frame returns the physical frame currently backing this entry, valid
// only while Status() == InFrame.
func (s *Spte) Frame() palloc.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Dir implements frame.Owner.
func (s *Spte) Dir() *mmu.PageDir { return s.dir }

// Lock implements frame.Owner: it is the SPTE's own load_lock.
func (s *Spte) Lock() { s.mu.Lock() }

// Unlock implements frame.Owner.
func (s *Spte) Unlock() { s.mu.Unlock() }

// MarkEvicted implements frame.Owner. Called by frame.Table with Lock
// held, transitioning INFRAME -> INSWAP (spec state machine §4.4).
func (s *Spte) MarkEvicted(swapIdx int) {
	s.status = InSwap
	s.swapIdx = swapIdx
	s.frame = palloc.NoFrame
}

// Table is a per-process supplemental page table.
type Table struct {
	ht      *hashtable.Table
	dir     *mmu.PageDir
	frames  *frame.Table
	swapper *swap.Allocator
	fsLock  sync.Locker
}

// New allocates an empty supplemental page table for one process
// (spt_init). dir is the process's page directory, frames is the shared
// frame table, swapper is the shared swap allocator, and fsLock is the
// single global filesystem lock (spec §5 lock order #1).
func New(dir *mmu.PageDir, frames *frame.Table, swapper *swap.Allocator, fsLock sync.Locker) *Table {
	return &Table{
		ht:      hashtable.New(64),
		dir:     dir,
		frames:  frames,
		swapper: swapper,
		fsLock:  fsLock,
	}
}

// Add inserts a new SPTE for upage (page_add). It returns false if
// upage is already present; upage must be page-aligned.
func (t *Table) Add(upage uintptr, status Status, file io.ReaderAt, ofs int64, readBytes, zeroBytes int, writable bool) bool {
	if upage != mmu.RoundDown(upage) {
		panic("spt: upage not page-aligned")
	}
	if readBytes+zeroBytes > mmu.PageSize {
		panic("spt: read_bytes + zero_bytes exceeds page size")
	}
	s := &Spte{
		dir:       t.dir,
		upage:     upage,
		status:    status,
		writable:  writable,
		swapIdx:   noSwapSlot,
		file:      file,
		ofs:       ofs,
		readBytes: readBytes,
		zeroBytes: zeroBytes,
		frame:     palloc.NoFrame,
		swapper:   t.swapper,
		fsLock:    t.fsLock,
	}
	_, inserted := t.ht.Set(upage, s)
	return inserted
}

// Find rounds va down to its page boundary and looks up the SPTE there
// (page_find).
func (t *Table) Find(va uintptr) (*Spte, bool) {
	page := mmu.RoundDown(va)
	v, ok := t.ht.Get(page)
	if !ok {
		return nil, false
	}
	return v.(*Spte), true
}

// LoadPage materializes s into a frame (load_page), following the
// sequence in spec §4.3: already-resident pages are a no-op; otherwise a
// frame is requested (possibly triggering eviction), populated from its
// source, and mapped with s.writable.
func (t *Table) LoadPage(s *Spte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pin.Store(true)
	if s.status == InFrame {
		return true
	}

	f, err := t.frames.Alloc(s)
	if err != nil {
		s.pin.Store(false)
		return false
	}
	buf := t.frames.Bytes(f)

	switch s.status {
	case InFile:
		t.fsLock.Lock()
		n, rerr := s.file.ReadAt(buf[:s.readBytes], s.ofs)
		t.fsLock.Unlock()
		if rerr != nil && rerr != io.EOF || n != s.readBytes {
			t.frames.Free(f)
			s.pin.Store(false)
			return false
		}
		for i := s.readBytes; i < s.readBytes+s.zeroBytes; i++ {
			buf[i] = 0
		}
	case InStack:
		for i := 0; i < s.zeroBytes; i++ {
			buf[i] = 0
		}
	case InSwap:
		t.swapper.In(s.swapIdx, buf)
		s.swapIdx = noSwapSlot
	}

	if !s.dir.SetPage(s.upage, uintptr(f)+1, s.writable) {
		t.frames.Free(f)
		s.pin.Store(false)
		return false
	}
	s.status = InFrame
	s.frame = f
	return true
}

// GrowStack adds an INSTACK SPTE at pg_round_down(va) and loads it
// (grow_stack). If an entry already exists at that address (a second
// thread raced to grow the same page), the existing entry is loaded
// instead, mirroring the original's page_add-then-page_find sequence.
func (t *Table) GrowStack(va uintptr, unpin bool) bool {
	page := mmu.RoundDown(va)
	t.Add(page, InStack, nil, 0, 0, mmu.PageSize, true)
	s, ok := t.Find(page)
	if !ok {
		return false
	}
	ok = t.LoadPage(s)
	if unpin {
		t.Unpin(page)
	}
	return ok
}

// Unpin clears the pin bit on the SPTE at upage if it is resident
// (page_unpin). It is idempotent (spec §8).
func (t *Table) Unpin(upage uintptr) {
	s, ok := t.Find(upage)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.status == InFrame {
		s.pin.Store(false)
	}
	s.mu.Unlock()
}

// Destroy releases every SPTE in the table (spt_destroy): resident pages
// return their frame and lose their MMU mapping, swapped pages free
// their slot, the rest are simply dropped.
func (t *Table) Destroy() {
	for _, p := range t.ht.Elems() {
		s := p.Value.(*Spte)
		s.mu.Lock()
		switch s.status {
		case InFrame:
			t.frames.Free(s.frame)
			t.dir.ClearPage(s.upage)
		case InSwap:
			t.swapper.Clear(s.swapIdx)
		}
		s.mu.Unlock()
		t.ht.Del(p.Key)
	}
}
