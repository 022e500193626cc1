package fault

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagingcore/src/blockdev"
	"pagingcore/src/frame"
	"pagingcore/src/mmu"
	"pagingcore/src/palloc"
	"pagingcore/src/procvm"
	"pagingcore/src/spt"
	"pagingcore/src/swap"
)

func newTestProcess(t *testing.T, frames int) *procvm.Process {
	pool := palloc.NewPool(frames, mmu.PageSize)
	dev := blockdev.NewMemDevice(frames * swap.SectorsPerPage)
	swapper := swap.New(dev)
	ft := frame.NewTable(pool, swapper)
	dir := mmu.New()
	var fsLock sync.Mutex
	table := spt.New(dir, ft, swapper, &fsLock)
	p := procvm.New(dir, table, ft)
	p.PhysBase = 0x100000
	return p
}

func TestStackGrowsAtExactThreshold(t *testing.T) {
	p := newTestProcess(t, 2)
	sp := p.PhysBase - mmu.PageSize
	p.SetUserSP(sp)

	addr := sp - StackThresh // exactly at the boundary: still growth
	assert.True(t, MapToFrame(p, addr, sp, true))

	s, ok := p.SPT.Find(addr)
	require.True(t, ok)
	assert.Equal(t, spt.InStack, s.Status())
}

func TestAddressJustPastThresholdIsNotGrowth(t *testing.T) {
	p := newTestProcess(t, 2)
	sp := p.PhysBase - mmu.PageSize
	p.SetUserSP(sp)

	addr := sp - StackThresh - 1
	assert.False(t, CheckAddr(p, addr))
}

func TestAddressAboveMaxStackSizeRejected(t *testing.T) {
	p := newTestProcess(t, 2)
	// Put PHYS_BASE far enough above MaxStackSize that the stack has
	// nearly exhausted its growth budget, then fault just within
	// StackThresh of the stack pointer but past the MaxStackSize floor.
	p.PhysBase = MaxStackSize + 0x3000
	floor := p.PhysBase - MaxStackSize
	sp := floor + 16
	p.SetUserSP(sp)

	addr := sp - StackThresh // within the growth window, but past the floor
	require.Less(t, addr, floor)
	assert.False(t, CheckAddr(p, addr), "stack growth must not exceed MaxStackSize")
}

func TestCheckAddrBufferRejectsWriteToReadOnlyPage(t *testing.T) {
	p := newTestProcess(t, 2)
	content := bytes.Repeat([]byte{1}, mmu.PageSize)
	p.SPT.Add(0x1000, spt.InFile, bytes.NewReader(content), 0, mmu.PageSize, 0, false)

	assert.True(t, CheckAddrBuffer(p, 0x1000, 16, false), "reading a read-only page is fine")
	assert.False(t, CheckAddrBuffer(p, 0x1000, 16, true), "writing a read-only page must fail")
}

func TestCheckAddrBufferSpansMultiplePages(t *testing.T) {
	p := newTestProcess(t, 4)
	p.SPT.Add(0x1000, spt.InStack, nil, 0, 0, mmu.PageSize, true)
	p.SPT.Add(0x2000, spt.InStack, nil, 0, 0, mmu.PageSize, true)

	size := int(0x2000 - 0x1000 + 16)
	require.True(t, CheckAddrBuffer(p, 0x1000, size, true))

	s1, _ := p.SPT.Find(0x1000)
	s2, _ := p.SPT.Find(0x2000)
	assert.True(t, s1.Pinned())
	assert.True(t, s2.Pinned())
}

func TestUnpinAllBufferReleasesEveryPageNotJustOne(t *testing.T) {
	p := newTestProcess(t, 4)
	p.SPT.Add(0x1000, spt.InStack, nil, 0, 0, mmu.PageSize, true)
	p.SPT.Add(0x2000, spt.InStack, nil, 0, 0, mmu.PageSize, true)

	size := int(0x2000 - 0x1000 + 16)
	require.True(t, CheckAddrBuffer(p, 0x1000, size, false))

	UnpinAllBuffer(p, 0x1000, size)

	s1, _ := p.SPT.Find(0x1000)
	s2, _ := p.SPT.Find(0x2000)
	assert.False(t, s1.Pinned(), "every touched page must be unpinned, not just the first")
	assert.False(t, s2.Pinned(), "every touched page must be unpinned, not just the first")
}

func TestCheckAddrStringStopsAtNul(t *testing.T) {
	p := newTestProcess(t, 2)
	p.SPT.Add(0x1000, spt.InStack, nil, 0, 0, mmu.PageSize, true)

	s, _ := p.SPT.Find(0x1000)
	require.True(t, p.SPT.LoadPage(s))
	buf := frameBytes(t, p, s)
	copy(buf, []byte("hi\x00garbage"))
	p.SPT.Unpin(0x1000)

	out, ok := CheckAddrString(p, 0x1000)
	require.True(t, ok)
	assert.Equal(t, []byte("hi\x00"), out)
}

func TestValidateExecCommandCopiesAndUnpins(t *testing.T) {
	p := newTestProcess(t, 2)
	p.SPT.Add(0x1000, spt.InStack, nil, 0, 0, mmu.PageSize, true)

	s, _ := p.SPT.Find(0x1000)
	require.True(t, p.SPT.LoadPage(s))
	buf := frameBytes(t, p, s)
	copy(buf, []byte("myprog arg1\x00"))
	p.SPT.Unpin(0x1000)

	cmd, ok := ValidateExecCommand(p, 0x1000)
	require.True(t, ok)
	assert.Equal(t, "myprog arg1", cmd)
	assert.False(t, s.Pinned(), "the command string's page must be unpinned after the copy")
}

func TestValidateExecCommandRejectsBadPointer(t *testing.T) {
	p := newTestProcess(t, 2)
	_, ok := ValidateExecCommand(p, 0)
	assert.False(t, ok)
}

func TestPinBlocksEvictionThroughFaultPath(t *testing.T) {
	p := newTestProcess(t, 1)
	p.SPT.Add(0x1000, spt.InStack, nil, 0, 0, mmu.PageSize, true)
	p.SPT.Add(0x2000, spt.InStack, nil, 0, 0, mmu.PageSize, true)

	assert.True(t, CheckAddrBuffer(p, 0x1000, 16, false)) // leaves 0x1000 pinned
	assert.False(t, CheckAddr(p, 0x2000), "the only frame is pinned and cannot be evicted")
}

func frameBytes(t *testing.T, p *procvm.Process, s *spt.Spte) []byte {
	t.Helper()
	return p.Frames.Bytes(s.Frame())
}
