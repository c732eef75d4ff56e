package poller

import "errors"

// Interest is the set of readiness kinds a descriptor is watched for
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event is one ready descriptor returned by Wait
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Hangup is set on peer shutdown or socket error. The owner should still
	// attempt a read to drain buffered bytes.
	Hangup bool
}

// ErrClosed is returned by operations on a closed poller
var ErrClosed = errors.New("poller: closed")

// Poller is the I/O multiplexing interface
type Poller interface {
	Add(fd int, interest Interest) error
	Modify(fd int, interest Interest) error
	Remove(fd int) error
	// Wait blocks for at most timeout milliseconds (-1 blocks forever).
	// The returned slice is reused by the next call.
	Wait(timeout int) ([]Event, error)
	Close() error
}

// Registrar is the subset of Poller needed to (de)register descriptors
type Registrar interface {
	Add(fd int, interest Interest) error
	Remove(fd int) error
}
