// Package fault is the fault/validation path (spec §4.4): it converts
// page faults and syscall pointer checks into SPT lookups, stack growth
// decisions, or process termination, grounded on page_map_to_frame and
// the check_addr*/unpin_all_* family in the original userprog/syscall.c.
//
// Per the design note in spec §9 ("exit via panic/exit(-1) from inside
// helpers"), nothing in this package terminates a process directly.
// Every check returns a bool (or a byte slice and a bool); the caller —
// the simulated syscall dispatcher — is the single place that turns a
// false result into Process.Terminate(-1), which keeps every pin
// released along the way since validation never exits mid-loop holding
// a lock no one will release.
package fault

import (
	"bytes"

	"pagingcore/src/mmu"
	"pagingcore/src/procvm"
)

// StackThresh is the maximum distance below the user stack pointer at
// which a fault still counts as stack growth (spec §6).
const StackThresh = 32

// MaxStackSize bounds how far the stack may grow below PhysBase (spec §6).
const MaxStackSize = 8 * 1024 * 1024

// MaxStringLen bounds check_addr_string's scan, standing in for
// ENAMETOOLONG; a real syscall ABI would reject a string longer than
// this rather than scan forever on a malformed pointer.
const MaxStringLen = 1 << 20

// inStackWindow reports whether addr falls in the implicit stack-growth
// window: within StackThresh bytes below the current user stack
// pointer, and within MaxStackSize of PhysBase (spec §4.4).
func inStackWindow(p *procvm.Process, addr, userSP uintptr) bool {
	var lowThresh uintptr
	if userSP > StackThresh {
		lowThresh = userSP - StackThresh
	}
	if addr < lowThresh {
		return false
	}
	if addr >= p.PhysBase {
		return false
	}
	if p.PhysBase > MaxStackSize && addr < p.PhysBase-MaxStackSize {
		return false
	}
	return true
}

func isUserAddr(p *procvm.Process, addr uintptr) bool {
	return addr != 0 && addr < p.PhysBase
}

// MapToFrame resolves addr against the current SPT, growing the stack
// implicitly when addr lies in the growth window (page_map_to_frame).
// unpin controls whether the newly-resident page is released again
// immediately (used by check_addr's single-word reads) or left pinned
// for the caller to release later (used by buffer/string checks).
func MapToFrame(p *procvm.Process, addr, userSP uintptr, unpin bool) bool {
	if inStackWindow(p, addr, userSP) {
		return p.SPT.GrowStack(addr, unpin)
	}
	s, ok := p.SPT.Find(addr)
	if !ok {
		return false
	}
	if !p.SPT.LoadPage(s) {
		return false
	}
	if unpin {
		p.SPT.Unpin(mmu.RoundDown(addr))
	}
	return true
}

func checkAddrPin(p *procvm.Process, addr uintptr, unpin bool) bool {
	if !isUserAddr(p, addr) {
		return false
	}
	return MapToFrame(p, addr, p.UserSP(), unpin)
}

// CheckAddr validates a single user address for read/write access,
// pinning it resident only for the duration of the check (check_addr).
// An invalid address reports false; the dispatcher must terminate the
// process with exit code -1.
func CheckAddr(p *procvm.Process, addr uintptr) bool {
	return checkAddrPin(p, addr, true)
}

// CheckAddrBuffer validates every page touched by [addr, addr+size).
// If writing is true, every touched SPTE must be writable or the whole
// check fails (check_addr_buffer). Pages validated here stay pinned
// until the matching UnpinAllBuffer call.
func CheckAddrBuffer(p *procvm.Process, addr uintptr, size int, writing bool) bool {
	if size <= 0 {
		return true
	}
	if addr == 0 {
		return false
	}
	end := addr + uintptr(size)
	for page := mmu.RoundDown(addr); page < end; page += mmu.PageSize {
		if !checkAddrPin(p, page, false) {
			return false
		}
		if writing {
			s, ok := p.SPT.Find(page)
			if ok && !s.Writable() {
				return false
			}
		}
	}
	return true
}

// UnpinAllBuffer releases the pins taken by a prior CheckAddrBuffer over
// [addr, addr+size). Per REDESIGN FLAG §9.2, this unpins every page of
// the range rather than repeatedly unpinning addr+1.
func UnpinAllBuffer(p *procvm.Process, addr uintptr, size int) {
	if size <= 0 {
		return
	}
	end := addr + uintptr(size)
	for page := mmu.RoundDown(addr); page < end; page += mmu.PageSize {
		p.SPT.Unpin(page)
	}
}

// CheckAddrString validates pages starting at addr progressively until
// a NUL byte is read, returning the bytes read including the terminator
// (check_addr_string). Pages stay pinned until UnpinAllString.
func CheckAddrString(p *procvm.Process, addr uintptr) ([]byte, bool) {
	if addr == 0 {
		return nil, false
	}
	var out []byte
	cur := addr
	for {
		if !checkAddrPin(p, cur, false) {
			return nil, false
		}
		b, ok := p.ReadByte(cur)
		if !ok {
			return nil, false
		}
		out = append(out, b)
		if b == 0 {
			return out, true
		}
		cur++
		if len(out) > MaxStringLen {
			return nil, false
		}
	}
}

// UnpinAllString releases the pins taken by a prior CheckAddrString over
// the NUL-terminated string starting at addr and running for strlen
// bytes (not counting the terminator).
func UnpinAllString(p *procvm.Process, addr uintptr, strlen int) {
	UnpinAllBuffer(p, addr, strlen+1)
}

// MaxCommandLen bounds the exec command-line copy, standing in for the
// original's fixed-size command_cp[1024] buffer (exec in syscall.c).
const MaxCommandLen = 1024

// ValidateExecCommand implements the pointer-validation half of exec:
// checking and copying out the command line before it is handed to
// process loading, which is out of scope for this module. It checks the
// first byte with CheckAddr, the way the original's exec calls
// check_addr(command), then validates the whole string up to its NUL
// with CheckAddrString and copies up to MaxCommandLen bytes including
// the terminator, mirroring strlcpy(command_cp, command, 1024).
func ValidateExecCommand(p *procvm.Process, addr uintptr) (string, bool) {
	if !CheckAddr(p, addr) {
		return "", false
	}
	out, ok := CheckAddrString(p, addr)
	if !ok {
		return "", false
	}
	defer UnpinAllString(p, addr, len(out)-1)

	if len(out) > MaxCommandLen {
		out = out[:MaxCommandLen-1]
		out = append(out, 0)
	}
	return string(bytes.TrimRight(out, "\x00")), true
}
