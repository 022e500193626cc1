// Package frame is the frame table: it owns every physical user frame
// and tracks which page occupies it, evicting via the clock algorithm
// described in spec §4.2. The free/resident list split and the use of
// container/list to hold them is grounded on the teacher's own
// BlkList_t (fs/blk.go), which wraps a container/list.List of cached
// blocks the same way; frame.Table wraps two such lists of frame table
// entries instead of disk blocks.
package frame

import (
	"container/list"
	"errors"
	"sync"

	"pagingcore/src/mmu"
	"pagingcore/src/palloc"
	"pagingcore/src/swap"
)

// ErrAllPinned is returned by Alloc when every resident frame is pinned
// and eviction cannot make progress — the sentinel called for by the
// open design question in spec §9.1.
var ErrAllPinned = errors.New("frame: all resident frames are pinned")

// Owner is implemented by whatever occupies a frame (an SPTE, in the
// paging core). The frame table never references the supplemental page
// table package directly, breaking what would otherwise be a frame<->spt
// import cycle — the same loose-coupling the teacher uses for
// Blockmem_i/Disk_i in fs/blk.go.
type Owner interface {
	// Pinned reports whether eviction must skip this page.
	Pinned() bool
	// Upage returns the page-aligned virtual address occupying the frame.
	Upage() uintptr
	// Dir returns the owning process's page directory.
	Dir() *mmu.PageDir
	// Lock acquires the owner's own serialization lock (load_lock).
	Lock()
	// Unlock releases the lock taken by Lock.
	Unlock()
	// MarkEvicted records that the page was written to swap slot idx.
	// Called with Lock held.
	MarkEvicted(swapIdx int)
}

type fte struct {
	frame      palloc.Frame
	owner      Owner
	clockDirty bool
}

// Table is the shared physical frame table (spec §4.2).
type Table struct {
	mu       sync.Mutex
	pool     *palloc.Pool
	swapper  *swap.Allocator
	free     *list.List // of *fte
	resident *list.List // of *fte
}

// NewTable drains pool into the free list, one FTE per frame, the way
// frame_init repeatedly calls palloc_get_page(PAL_USER) until it
// returns NULL. After construction the table never calls pool.Get again.
func NewTable(pool *palloc.Pool, swapper *swap.Allocator) *Table {
	t := &Table{
		pool:     pool,
		swapper:  swapper,
		free:     list.New(),
		resident: list.New(),
	}
	for {
		f := pool.Get()
		if f == palloc.NoFrame {
			break
		}
		t.free.PushBack(&fte{frame: f, clockDirty: true})
	}
	return t
}

// Count returns the total number of FTEs, which is constant for the
// life of the table (spec §8 invariant 4).
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.free.Len() + t.resident.Len()
}

// FreeCount returns the number of frames currently on the free list.
func (t *Table) FreeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.free.Len()
}

// Bytes returns the backing storage for a frame, for population by the
// supplemental page table's load_page.
func (t *Table) Bytes(f palloc.Frame) []byte {
	return t.pool.Bytes(f)
}

// Alloc returns a frame now resident on behalf of owner, evicting a
// victim first if the pool is exhausted. The frame table mutex is held
// across free-list/resident-list mutation but released across the
// victim's swap write, per spec §4.2/§5.
func (t *Table) Alloc(owner Owner) (palloc.Frame, error) {
	t.mu.Lock()
	for t.free.Len() == 0 {
		t.mu.Unlock()
		if err := t.evictOnce(); err != nil {
			return palloc.NoFrame, err
		}
		t.mu.Lock()
	}
	elem := t.free.Front()
	e := elem.Value.(*fte)
	t.free.Remove(elem)
	e.owner = owner
	e.clockDirty = true
	t.resident.PushBack(e)
	t.mu.Unlock()
	return e.frame, nil
}

// Free moves the FTE backing frame back onto the free list.
func (t *Table) Free(f palloc.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for elem := t.resident.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*fte)
		if e.frame == f {
			t.resident.Remove(elem)
			e.owner = nil
			e.clockDirty = false
			t.free.PushBack(e)
			return
		}
	}
}

// evictOnce selects one victim via the clock algorithm, writes it to
// swap, and returns its frame to the free list.
func (t *Table) evictOnce() error {
	t.mu.Lock()
	victimElem, err := t.selectVictimLocked()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.resident.Remove(victimElem)
	t.mu.Unlock()

	victim := victimElem.Value.(*fte)
	owner := victim.owner

	owner.Lock()
	owner.Dir().ClearPage(owner.Upage())
	data := t.pool.Bytes(victim.frame)
	idx := t.swapper.Out(data)
	owner.MarkEvicted(idx)
	owner.Unlock()

	t.mu.Lock()
	victim.owner = nil
	victim.clockDirty = false
	t.free.PushBack(victim)
	t.mu.Unlock()
	return nil
}

// selectVictimLocked runs the clock scan described in spec §4.2. Callers
// must hold t.mu. It wraps around the resident list, giving dirty pages
// a second chance and clearing accessed bits, until it finds an
// unpinned, unaccessed page, or determines that every resident frame is
// pinned (in which case it returns ErrAllPinned: no wrap count will ever
// produce a victim).
func (t *Table) selectVictimLocked() (*list.Element, error) {
	if t.resident.Len() == 0 {
		return nil, ErrAllPinned
	}
	// Two full laps bound the scan: they clear second-chance and accessed
	// bits and return the first unpinned entry found unaccessed. A page
	// that starts dirty and accessed needs a third visit, so the laps can
	// end without a victim; the fallback below then takes the first
	// unpinned entry.
	maxSteps := 2 * t.resident.Len()
	cur := t.resident.Front()
	sawUnpinned := false
	for step := 0; step < maxSteps; step++ {
		e := cur.Value.(*fte)
		if e.owner.Pinned() {
			cur = t.nextLocked(cur)
			continue
		}
		sawUnpinned = true
		upage := e.owner.Upage()
		dir := e.owner.Dir()
		if dir.IsDirty(upage) && e.clockDirty {
			e.clockDirty = false
			cur = t.nextLocked(cur)
			continue
		}
		if !dir.IsAccessed(upage) {
			return cur, nil
		}
		dir.SetAccessed(upage, false)
		cur = t.nextLocked(cur)
	}
	if !sawUnpinned {
		return nil, ErrAllPinned
	}
	// Every unpinned entry had its accessed bit freshly cleared; the very
	// next unpinned entry encountered is now guaranteed selectable.
	cur = t.resident.Front()
	for step := 0; step < t.resident.Len(); step++ {
		e := cur.Value.(*fte)
		if !e.owner.Pinned() {
			return cur, nil
		}
		cur = t.nextLocked(cur)
	}
	return nil, ErrAllPinned
}

func (t *Table) nextLocked(e *list.Element) *list.Element {
	n := e.Next()
	if n == nil {
		n = t.resident.Front()
	}
	return n
}
