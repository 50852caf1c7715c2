//go:build linux

// Package ipc implements the listen-semaphore: a counting semaphore the
// instrumented target posts to on entering a fuzz-relevant receive call,
// and the fuzzer drains between runs / waits on with a startup timeout.
//
// The original implementation used a POSIX sem_t placed in a SysV shared
// segment. Go has no libc sem_t FFI in the teacher's dependency stack, so
// this is reimplemented directly atop SysV semaphores (semget/semop/semctl),
// following the same "raw unix.Syscall for an IPC primitive with no typed
// wrapper" idiom the teacher uses for userfaultfd.
package ipc

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	semGetAll = 13 // GETALL
	semSetVal = 16 // SETVAL
	ipcRmid   = 0
)

// sembuf mirrors struct sembuf from <sys/sem.h>.
type sembuf struct {
	num uint16
	op  int16
	flg int16
}

const (
	sembufIPCNoWait = 0o4000
)

// Semaphore is a single-value SysV semaphore standing in for the target's
// listen-semaphore.
type Semaphore struct {
	id    int
	owner bool
}

// New creates a semaphore initialized to zero, owned by this process.
func New() (*Semaphore, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, 0 /* IPC_PRIVATE */, 1, unix.IPC_CREAT|0o600)
	if errno != 0 {
		return nil, fmt.Errorf("semget: %w", errno)
	}
	if _, _, errno := unix.Syscall6(unix.SYS_SEMCTL, id, 0, semSetVal, 0, 0, 0); errno != 0 {
		// fourth arg (semun.val) is 0: initialize to zero
		unix.Syscall(unix.SYS_SEMCTL, id, 0, ipcRmid)
		return nil, fmt.Errorf("semctl(SETVAL): %w", errno)
	}
	return &Semaphore{id: int(id), owner: true}, nil
}

// FromID attaches to an existing semaphore set by id (as handed to the
// target via ANGORA_LISTEN_SEM_ID).
func FromID(id int) *Semaphore {
	return &Semaphore{id: id, owner: false}
}

// ID returns the SysV semaphore set id.
func (s *Semaphore) ID() int { return s.id }

func (s *Semaphore) op(buf sembuf) error {
	_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(s.id), uintptr(unsafe.Pointer(&buf)), 1)
	if errno != 0 {
		return errno
	}
	return nil
}

// Post increments the semaphore — called by the target on entry to a
// fuzz-relevant receive/select/poll.
func (s *Semaphore) Post() error {
	return s.op(sembuf{num: 0, op: 1, flg: 0})
}

// TryWait attempts to decrement without blocking; returns true on success.
func (s *Semaphore) TryWait() bool {
	return s.op(sembuf{num: 0, op: -1, flg: sembufIPCNoWait}) == nil
}

// Drain consumes all currently-pending posts, leaving the semaphore at
// zero. Called by the fuzzer immediately before each run.
func (s *Semaphore) Drain() {
	for s.TryWait() {
	}
}

// WaitTimeout blocks until posted or the timeout elapses, returning true
// iff it was posted in time. Used for the "listen-ready" startup gate: a
// target that never posts within the timeout is a startup-timeout.
func (s *Semaphore) WaitTimeout(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	const poll = 500 * time.Microsecond
	for {
		if s.TryWait() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(poll)
	}
}

// Close removes the semaphore set if this process created it.
func (s *Semaphore) Close() error {
	if !s.owner {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_SEMCTL, uintptr(s.id), 0, ipcRmid)
	if errno != 0 {
		return fmt.Errorf("semctl(IPC_RMID): %w", errno)
	}
	return nil
}
