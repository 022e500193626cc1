// Package filesys is a minimal per-process open-file table, grounded on
// struct thread_file and the open/filesize/read/write/seek/tell/close
// family in the original userprog/syscall.c. The single global
// filesystem lock (spec §5 lock order #1) is not owned here: callers pass
// it in as fsLock, the same lock handed to every process's supplemental
// page table, so that a disk read during load_page and a read/write
// syscall never race on the same device.
//
// Per REDESIGN FLAG §9.3, filesize/seek/tell here report errs.EBADF for
// an unknown fd instead of reproducing the original's unchecked tf->fp
// dereference on a nil lookup result; close ignores an unknown fd.
package filesys

import (
	"io"
	"sync"

	"go.uber.org/multierr"

	"pagingcore/src/errs"
)

// File is the subset of file operations a descriptor needs: io.ReaderAt
// for load_page's direct reads, plus sequential read/write/seek/size for
// the read/write/seek/tell syscalls.
type File interface {
	io.ReaderAt
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Size() int64
	Close() error
}

type openFile struct {
	fd int
	f  File
}

// Table is one process's file descriptor table (the opened_files list on
// struct thread). fd 0 and 1 are reserved for stdin/stdout and never
// appear in the table itself.
type Table struct {
	mu     sync.Mutex
	nextFd int
	open   []*openFile
}

// NewTable returns an empty file descriptor table. The first descriptor
// handed out by Open is 2, leaving 0 and 1 for stdin/stdout.
func NewTable() *Table {
	return &Table{nextFd: 2}
}

// Open adds f to the table and returns its new descriptor (open).
func (t *Table) Open(f File) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.nextFd
	t.nextFd++
	t.open = append(t.open, &openFile{fd: fd, f: f})
	return fd
}

func (t *Table) find(fd int) (File, bool) {
	for _, of := range t.open {
		if of.fd == fd {
			return of.f, true
		}
	}
	return nil, false
}

// Filesize returns the size of the file open at fd (filesize). It
// returns errs.EBADF instead of the original's unchecked nil dereference
// when fd is not open.
func (t *Table) Filesize(fd int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.find(fd)
	if !ok {
		return 0, errs.EBADF
	}
	return f.Size(), nil
}

// Stdin and Stdout back file descriptors 0 and 1 when no File is
// registered for them, matching the original's fd==0/fd==1 special
// cases in read/write.
type Stdin interface {
	ReadByte() (byte, error)
}

type Stdout interface {
	Write(p []byte) (int, error)
}

// Read services the read syscall. fd 0 reads from in one byte at a time,
// matching input_getc's per-character behavior; any other fd is looked
// up in the table and, per the filesys lock order, read under fsLock.
func (t *Table) Read(fsLock sync.Locker, fd int, buf []byte, in Stdin) (int, error) {
	if fd == 0 {
		if in == nil {
			return 0, errs.EBADF
		}
		for i := range buf {
			b, err := in.ReadByte()
			if err != nil {
				return i, err
			}
			buf[i] = b
		}
		return len(buf), nil
	}
	t.mu.Lock()
	f, ok := t.find(fd)
	t.mu.Unlock()
	if !ok {
		return 0, errs.EBADF
	}
	fsLock.Lock()
	defer fsLock.Unlock()
	return f.Read(buf)
}

// Write services the write syscall. fd 1 writes to out directly
// (putbuf); any other fd is looked up and written under fsLock.
func (t *Table) Write(fsLock sync.Locker, fd int, buf []byte, out Stdout) (int, error) {
	if fd == 1 {
		if out == nil {
			return 0, errs.EBADF
		}
		return out.Write(buf)
	}
	t.mu.Lock()
	f, ok := t.find(fd)
	t.mu.Unlock()
	if !ok {
		return 0, errs.EBADF
	}
	fsLock.Lock()
	defer fsLock.Unlock()
	return f.Write(buf)
}

// Seek services the seek syscall (seek).
func (t *Table) Seek(fsLock sync.Locker, fd int, position int64) error {
	t.mu.Lock()
	f, ok := t.find(fd)
	t.mu.Unlock()
	if !ok {
		return errs.EBADF
	}
	fsLock.Lock()
	defer fsLock.Unlock()
	_, err := f.Seek(position, io.SeekStart)
	return err
}

// Tell services the tell syscall (tell).
func (t *Table) Tell(fsLock sync.Locker, fd int) (int64, error) {
	t.mu.Lock()
	f, ok := t.find(fd)
	t.mu.Unlock()
	if !ok {
		return 0, errs.EBADF
	}
	fsLock.Lock()
	defer fsLock.Unlock()
	return f.Seek(0, io.SeekCurrent)
}

// Close removes fd from the table and closes the underlying file
// (close). It is a no-op, not an error, if fd is unknown: the original
// silently does nothing in that case too (the loop simply never finds a
// matching element), which this preserves deliberately since close has
// no return value to report failure through.
func (t *Table) Close(fsLock sync.Locker, fd int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, of := range t.open {
		if of.fd == fd {
			fsLock.Lock()
			of.f.Close()
			fsLock.Unlock()
			t.open = append(t.open[:i], t.open[i+1:]...)
			return
		}
	}
}

// CloseAll closes every descriptor still open, used when a process exits
// without explicitly closing its files. Unlike the single-fd Close (which
// has no return channel, matching the original close syscall), CloseAll
// reports every failure: a process with a dozen open files should not
// have the ninth failure hide the tenth.
func (t *Table) CloseAll(fsLock sync.Locker) error {
	t.mu.Lock()
	open := t.open
	t.open = nil
	t.mu.Unlock()

	fsLock.Lock()
	defer fsLock.Unlock()
	var err error
	for _, of := range open {
		err = multierr.Append(err, of.f.Close())
	}
	return err
}
