//go:build linux

package executor

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cispa/ampfuzz/internal/bytecount"
)

// stopPipe is the worker's process-global stop signal (spec §4.8): one
// pipe pair is created once per Executor and reused by every run's
// listener, since no two executions ever overlap on a single worker.
type stopPipe struct {
	r, w *os.File
}

func newStopPipe() (*stopPipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	return &stopPipe{r: r, w: w}, nil
}

func (p *stopPipe) close() {
	p.r.Close()
	p.w.Close()
}

// replyListener accumulates UDP reply datagram lengths for the lifetime
// of one target execution.
type replyListener struct {
	stop   *stopPipe
	result chan bytecount.UdpByteCount
}

// startReplyListener begins draining conn in a background goroutine,
// multiplexed against the shared stop pipe via a select over both raw
// fds — the Go equivalent of recv_thread.rs's pselect-on-two-fds loop.
// Assumes a 64-bit unix.FdSet word, true on linux/amd64.
func startReplyListener(conn *net.UDPConn, stop *stopPipe) (*replyListener, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var sockFD int
	if ctrlErr := rc.Control(func(fd uintptr) { sockFD = int(fd) }); ctrlErr != nil {
		return nil, ctrlErr
	}

	l := &replyListener{stop: stop, result: make(chan bytecount.UdpByteCount, 1)}
	go l.run(sockFD)
	return l, nil
}

func (l *replyListener) run(sockFD int) {
	var total bytecount.UdpByteCount
	buf := make([]byte, 65536)
	stopFD := int(l.stop.r.Fd())

	for {
		var rfds unix.FdSet
		fdZero(&rfds)
		fdSet(&rfds, sockFD)
		fdSet(&rfds, stopFD)
		nfd := sockFD
		if stopFD > nfd {
			nfd = stopFD
		}

		if _, err := unix.Select(nfd+1, &rfds, nil, nil, nil); err != nil {
			if err == unix.EINTR {
				continue
			}
			break
		}

		if fdIsSet(&rfds, sockFD) {
			total = drainUDP(sockFD, buf, total)
		}
		if fdIsSet(&rfds, stopFD) {
			drainPipe(stopFD, buf)
			break
		}
	}

	total = drainUDP(sockFD, buf, total)
	l.result <- total
}

func drainUDP(fd int, buf []byte, total bytecount.UdpByteCount) bytecount.UdpByteCount {
	for {
		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			return total
		}
		total = total.AddLen(n)
	}
}

func drainPipe(fd int, buf []byte) {
	for {
		n, err := unix.Read(fd, buf)
		if err != nil || n <= 0 {
			return
		}
	}
}

// stopAndCollect signals the listener and waits for its final tally.
func (l *replyListener) stopAndCollect() bytecount.UdpByteCount {
	l.stop.w.Write([]byte{0})
	return <-l.result
}

func fdZero(set *unix.FdSet) {
	for i := range set.Bits {
		set.Bits[i] = 0
	}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
