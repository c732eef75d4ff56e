package poller

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Waker interrupts a blocked Wait from another goroutine.
// Its read end is registered with the poller like any other descriptor.
type Waker struct {
	rfd, wfd int
	pending  atomic.Bool
}

// NewWaker creates a waker and registers its read end for readability
func NewWaker(p Poller) (*Waker, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, fmt.Errorf("set nonblock: %w", err)
		}
	}

	w := &Waker{rfd: fds[0], wfd: fds[1]}
	if err := p.Add(w.rfd, Readable); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Fd returns the descriptor that becomes readable after Wake
func (w *Waker) Fd() int { return w.rfd }

// Wake makes the next (or current) Wait return. Safe for concurrent use.
func (w *Waker) Wake() error {
	if !w.pending.CompareAndSwap(false, true) {
		return nil
	}
	_, err := unix.Write(w.wfd, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Drain consumes pending wake-ups. Called from the loop goroutine before it
// collects whatever the wakers queued for it.
func (w *Waker) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.rfd, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	w.pending.Store(false)
}

// Close closes both ends of the pipe
func (w *Waker) Close() error {
	err := unix.Close(w.rfd)
	if werr := unix.Close(w.wfd); err == nil {
		err = werr
	}
	return err
}
