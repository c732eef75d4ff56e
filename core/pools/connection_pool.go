package pools

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/searchktools/fast-edge/core/poller"
)

// Default pool limits
const (
	DefaultMaxConnections = 1024
	DefaultIdleTimeout    = 300 * time.Second
)

var (
	// ErrPoolFull is returned by Acquire when every slot is occupied
	ErrPoolFull = errors.New("pools: connection pool is full")
	// ErrConnNotFound is returned by Release for a connection the pool does not hold
	ErrConnNotFound = errors.New("pools: connection not found")
)

// ConnectionPoolable is what the pool needs from a connection
type ConnectionPoolable interface {
	comparable
	Fd() int
	LastActive() time.Time
	// Close closes the socket and frees the buffers the connection owns
	Close() error
}

// ConnectionPool is a bounded slot array of live connections.
//
// Every occupied slot holds one connection whose descriptor is registered
// with the poller. The pool is owned by the event loop goroutine and is not
// safe for concurrent mutation; Stats may be read from anywhere.
type ConnectionPool[T ConnectionPoolable] struct {
	slots    []T
	occupied []bool
	free     []int       // stack of empty slot indexes
	index    map[int]int // fd -> slot
	timeout  time.Duration
	reg      poller.Registrar
	newConn  func(fd int) T

	active   atomic.Int64
	acquired atomic.Uint64
	released atomic.Uint64
	rejected atomic.Uint64
	expired  atomic.Uint64
}

// NewConnectionPool creates a pool with capacity slots. newConn builds the
// connection object for an accepted descriptor.
func NewConnectionPool[T ConnectionPoolable](capacity int, timeout time.Duration, reg poller.Registrar, newConn func(fd int) T) *ConnectionPool[T] {
	if capacity <= 0 {
		capacity = DefaultMaxConnections
	}
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}

	cp := &ConnectionPool[T]{
		slots:    make([]T, capacity),
		occupied: make([]bool, capacity),
		free:     make([]int, capacity),
		index:    make(map[int]int, capacity),
		timeout:  timeout,
		reg:      reg,
		newConn:  newConn,
	}
	// pop order hands out slot 0 first
	for i := range cp.free {
		cp.free[i] = capacity - 1 - i
	}
	return cp
}

// Acquire builds a connection for fd, registers it for readability and
// stores it in a free slot. On ErrPoolFull nothing is allocated and the
// caller still owns fd.
func (cp *ConnectionPool[T]) Acquire(fd int) (T, error) {
	var zero T
	if len(cp.free) == 0 {
		cp.rejected.Add(1)
		return zero, ErrPoolFull
	}
	if _, dup := cp.index[fd]; dup {
		return zero, fmt.Errorf("pools: fd %d already pooled", fd)
	}

	conn := cp.newConn(fd)
	if err := cp.reg.Add(fd, poller.Readable); err != nil {
		conn.Close()
		return zero, fmt.Errorf("register fd %d: %w", fd, err)
	}

	slot := cp.free[len(cp.free)-1]
	cp.free = cp.free[:len(cp.free)-1]
	cp.slots[slot] = conn
	cp.occupied[slot] = true
	cp.index[fd] = slot

	cp.active.Add(1)
	cp.acquired.Add(1)
	return conn, nil
}

// Release deregisters and closes conn and frees its slot
func (cp *ConnectionPool[T]) Release(conn T) error {
	fd := conn.Fd()
	slot, ok := cp.index[fd]
	if !ok || cp.slots[slot] != conn {
		return ErrConnNotFound
	}
	cp.releaseSlot(slot)
	return nil
}

func (cp *ConnectionPool[T]) releaseSlot(slot int) {
	var zero T
	conn := cp.slots[slot]
	fd := conn.Fd()

	// the descriptor may already be gone from the poller after a hangup
	_ = cp.reg.Remove(fd)
	conn.Close()

	delete(cp.index, fd)
	cp.slots[slot] = zero
	cp.occupied[slot] = false
	cp.free = append(cp.free, slot)

	cp.active.Add(-1)
	cp.released.Add(1)
}

// SweepTimeouts releases every connection idle for longer than the timeout
// and returns how many were released.
func (cp *ConnectionPool[T]) SweepTimeouts(now time.Time) int {
	cleaned := 0
	for slot, used := range cp.occupied {
		if !used {
			continue
		}
		if now.Sub(cp.slots[slot].LastActive()) > cp.timeout {
			cp.releaseSlot(slot)
			cleaned++
		}
	}
	if cleaned > 0 {
		cp.expired.Add(uint64(cleaned))
	}
	return cleaned
}

// Get returns the connection registered for fd
func (cp *ConnectionPool[T]) Get(fd int) (T, bool) {
	slot, ok := cp.index[fd]
	if !ok {
		var zero T
		return zero, false
	}
	return cp.slots[slot], true
}

// Range calls fn for each live connection until fn returns false
func (cp *ConnectionPool[T]) Range(fn func(T) bool) {
	for slot, used := range cp.occupied {
		if used && !fn(cp.slots[slot]) {
			return
		}
	}
}

// Len returns the number of live connections
func (cp *ConnectionPool[T]) Len() int { return int(cp.active.Load()) }

// Cap returns the slot count
func (cp *ConnectionPool[T]) Cap() int { return len(cp.slots) }

// Timeout returns the idle timeout
func (cp *ConnectionPool[T]) Timeout() time.Duration { return cp.timeout }

// Close releases every live connection
func (cp *ConnectionPool[T]) Close() int {
	n := 0
	for slot, used := range cp.occupied {
		if used {
			cp.releaseSlot(slot)
			n++
		}
	}
	return n
}

// ConnectionPoolStats contains connection pool statistics
type ConnectionPoolStats struct {
	Capacity int    `json:"capacity"`
	Active   int    `json:"active"`
	Acquired uint64 `json:"acquired"`
	Released uint64 `json:"released"`
	Rejected uint64 `json:"rejected"`
	TimedOut uint64 `json:"timed_out"`
}

// Stats returns pool statistics
func (cp *ConnectionPool[T]) Stats() ConnectionPoolStats {
	return ConnectionPoolStats{
		Capacity: len(cp.slots),
		Active:   int(cp.active.Load()),
		Acquired: cp.acquired.Load(),
		Released: cp.released.Load(),
		Rejected: cp.rejected.Load(),
		TimedOut: cp.expired.Load(),
	}
}
