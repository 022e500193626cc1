// Package palloc is the physical allocator: a bump allocator of
// page-sized frames drawn from a fixed user pool, grounded on
// mem.Physmem_t's array-backed free list in the teacher (mem/mem.go),
// which keeps physical pages as indices into a flat slice rather than
// raw pointers. We follow the same shape: frames are identified by a
// small integer index, never a pointer, per the "manual ownership ->
// explicit discipline" design note.
package palloc

import "sync"

// Frame identifies one physical frame by index into the pool. It is the
// index-based stand-in for a raw kernel-virtual frame pointer.
type Frame int

// NoFrame is the sentinel returned when the pool is exhausted.
const NoFrame Frame = -1

// Pool is a fixed-size bump allocator of physical frames, draining a
// backing byte arena exactly once the way frame_init in the original
// drains palloc_get_page(PAL_USER) until it returns NULL.
type Pool struct {
	mu    sync.Mutex
	bytes [][]byte
	free  []Frame
}

// NewPool allocates count page-sized frames backed by real memory. This
// stands in for the boot-time palloc_get_page(PAL_USER) loop: after
// construction the pool never grows.
func NewPool(count, pageSize int) *Pool {
	p := &Pool{
		bytes: make([][]byte, count),
		free:  make([]Frame, count),
	}
	for i := 0; i < count; i++ {
		p.bytes[i] = make([]byte, pageSize)
		p.free[i] = Frame(count - 1 - i)
	}
	return p
}

// Get removes and returns a free frame, or NoFrame if the pool is empty.
// The underlying core never calls this directly after boot (spec §4.2);
// only frame.Table does, by drawing down this pool at frame_init time.
func (p *Pool) Get() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return NoFrame
	}
	f := p.free[n-1]
	p.free = p.free[:n-1]
	return f
}

// Bytes returns the backing storage for frame f.
func (p *Pool) Bytes(f Frame) []byte {
	return p.bytes[f]
}

// Count returns the total number of frames owned by the pool, used by
// tests checking invariant 4 (FTE count is constant for the system's life).
func (p *Pool) Count() int {
	return len(p.bytes)
}
