//go:build linux

// Package shm wraps SysV shared memory segments. It is the Go analogue of
// the fuzzer's shm::SHM<T> primitive: a fixed-size segment that a parent
// creates and a child re-attaches by integer id passed through the
// environment.
package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ipcCreat  = 0o1000
	ipcExcl   = 0o2000
	ipcPrivat = 0
	ipcRmid   = 0
)

// Segment is an attached SysV shared memory segment of a fixed size.
// golang.org/x/sys/unix has no typed wrapper for shmget/shmat/shmdt/shmctl
// on every platform, so these go straight through unix.Syscall, the same
// way the teacher's uffd_linux.go calls unix.Syscall(unix.SYS_USERFAULTFD, ...)
// for a syscall lacking a typed helper.
type Segment struct {
	id    int
	addr  uintptr
	size  int
	owner bool // true if this process created (and should unlink) the segment
}

// New allocates and attaches a new segment of the given size, owned by the
// calling process: Close will both detach and unlink it.
func New(size int) (*Segment, error) {
	id, _, errno := unix.Syscall(unix.SYS_SHMGET, ipcPrivat, uintptr(size), ipcCreat|ipcExcl|0o600)
	if errno != 0 {
		return nil, fmt.Errorf("shmget: %w", errno)
	}
	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, id, 0, 0)
	if errno != 0 {
		unix.Syscall(unix.SYS_SHMCTL, id, ipcRmid, 0)
		return nil, fmt.Errorf("shmat: %w", errno)
	}
	return &Segment{id: int(id), addr: addr, size: size, owner: true}, nil
}

// FromID re-attaches an existing segment created by another process (the
// parent fuzzer), typically by parsing an env-var-supplied id in the child
// target. The child never unlinks — only the creator does.
func FromID(id, size int) (*Segment, error) {
	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, uintptr(id), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("shmat(id=%d): %w", id, errno)
	}
	return &Segment{id: id, addr: addr, size: size, owner: false}, nil
}

// ID returns the SysV identifier, passed to a child via environment
// variable so it can FromID back into the same segment.
func (s *Segment) ID() int { return s.id }

// Bytes returns the segment's backing memory as a byte slice. The slice is
// only valid for the lifetime of the Segment.
func (s *Segment) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(s.addr)), s.size)
}

// Zero clears the segment, matching the executor zeroing the bitmap SHM
// before every run.
func (s *Segment) Zero() {
	b := s.Bytes()
	for i := range b {
		b[i] = 0
	}
}

// Close detaches the segment. If this process created it, it also marks
// the segment for removal once the last attachment (the child's) drops.
func (s *Segment) Close() error {
	if s.addr == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_SHMDT, s.addr, 0, 0)
	s.addr = 0
	if s.owner {
		unix.Syscall(unix.SYS_SHMCTL, uintptr(s.id), ipcRmid, 0)
	}
	if errno != 0 {
		return fmt.Errorf("shmdt: %w", errno)
	}
	return nil
}
