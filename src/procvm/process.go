// Package procvm is the thin process/address-space glue the fault path
// needs: a page directory, a supplemental page table, the faulting
// thread's user stack pointer, and exit-status bookkeeping. The thread
// layer and scheduler themselves are external collaborators per spec §1
// and are not reproduced here; Process only carries what
// Vm_t/Proc_t would hand to the fault handler in the teacher.
package procvm

import (
	"sync"

	"pagingcore/src/frame"
	"pagingcore/src/mmu"
	"pagingcore/src/spt"
)

// DefaultPhysBase is the top of the simulated user address range
// (spec §6 PHYS_BASE) used when a process does not specify one.
const DefaultPhysBase uintptr = 1 << 32

// Process is one user process's address-space state.
type Process struct {
	Dir    *mmu.PageDir
	SPT    *spt.Table
	Frames *frame.Table

	// PhysBase is the top of this process's user address range.
	PhysBase uintptr

	mu       sync.Mutex
	userSP   uintptr
	exited   bool
	exitCode int
}

// New constructs a process sharing the given frame table and backed by
// its own page directory and supplemental page table.
func New(dir *mmu.PageDir, spt *spt.Table, frames *frame.Table) *Process {
	return &Process{
		Dir:      dir,
		SPT:      spt,
		Frames:   frames,
		PhysBase: DefaultPhysBase,
	}
}

// SetUserSP records the current user stack pointer, the way the
// syscall dispatcher stashes thread_current()->vsp on syscall entry.
func (p *Process) SetUserSP(sp uintptr) {
	p.mu.Lock()
	p.userSP = sp
	p.mu.Unlock()
}

// UserSP returns the last recorded user stack pointer.
func (p *Process) UserSP() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userSP
}

// ReadByte returns the byte currently mapped at addr. ok is false if
// addr is not backed by a resident page, which should not happen for an
// address that just passed a check_addr* call.
func (p *Process) ReadByte(addr uintptr) (byte, bool) {
	page := mmu.RoundDown(addr)
	s, ok := p.SPT.Find(page)
	if !ok || s.Status() != spt.InFrame {
		return 0, false
	}
	buf := p.Frames.Bytes(s.Frame())
	return buf[addr-page], true
}

// Terminate marks the process exited with the given status and tears
// down its supplemental page table (spt_destroy), returning every
// resident frame and swap slot it held.
func (p *Process) Terminate(code int) {
	p.mu.Lock()
	already := p.exited
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()
	if already {
		return
	}
	p.SPT.Destroy()
}

// Exited reports whether Terminate has run, and with what status.
func (p *Process) Exited() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exitCode
}
