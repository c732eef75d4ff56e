package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/searchktools/fast-edge/core/buffer"
	"github.com/searchktools/fast-edge/core/http"
	"github.com/searchktools/fast-edge/core/pools"
	"github.com/searchktools/fast-edge/core/sock"
)

// State is the lifecycle state of a client connection
type State uint8

const (
	StateAccepting State = iota
	StateReading
	StateProcessing
	StateSendingResponse
	StateKeepAlive
	StateClosing
	StateClosed
	StateError
)

var stateNames = [...]string{
	StateAccepting:       "accepting",
	StateReading:         "reading",
	StateProcessing:      "processing",
	StateSendingResponse: "sending_response",
	StateKeepAlive:       "keep_alive",
	StateClosing:         "closing",
	StateClosed:          "closed",
	StateError:           "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Connection is the per-client state owned by the event loop
type Connection struct {
	id    uuid.UUID
	fd    int
	state State

	buf     *buffer.Buffer
	request *http.Request
	// bytes of buf the current request occupies
	consumed int
	// the request was handed to a worker and must not be recycled here
	inFlight bool

	keepAlive       bool
	peerClosed      bool
	requestsHandled int
	lastActive      time.Time
	createdAt       time.Time

	out          *[]byte // serialized response not yet fully written
	outPos       int
	waitingWrite bool

	requests *pools.SmartPool[*http.Request]
	log      zerolog.Logger
}

func newConnection(fd, initialSize, maxSize int, requests *pools.SmartPool[*http.Request], log zerolog.Logger) *Connection {
	now := time.Now()
	id := uuid.New()
	return &Connection{
		id:         id,
		fd:         fd,
		state:      StateAccepting,
		buf:        buffer.New(pools.GetBytes(initialSize), maxSize),
		lastActive: now,
		createdAt:  now,
		requests:   requests,
		log:        log.With().Str("conn", id.String()).Int("fd", fd).Logger(),
	}
}

// ID returns the connection's unique id
func (c *Connection) ID() uuid.UUID { return c.id }

// Fd returns the socket descriptor
func (c *Connection) Fd() int { return c.fd }

// State returns the current state
func (c *Connection) State() State { return c.state }

// LastActive returns the time of the last read or completed response
func (c *Connection) LastActive() time.Time { return c.lastActive }

// RequestsHandled returns how many responses were sent on this connection
func (c *Connection) RequestsHandled() int { return c.requestsHandled }

// KeepAlive reports whether the last request asked to keep the connection
func (c *Connection) KeepAlive() bool { return c.keepAlive }

// Buffered returns the number of unprocessed bytes
func (c *Connection) Buffered() int { return c.buf.Len() }

func (c *Connection) touch(now time.Time) { c.lastActive = now }

func (c *Connection) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug().Stringer("from", c.state).Stringer("to", s).Msg("connection state")
	c.state = s
}

// acquireRequest returns the request being parsed, taking one from the pool
// when none is in progress.
func (c *Connection) acquireRequest(maxHeaders int) *http.Request {
	if c.request == nil {
		c.request = c.requests.Get()
		c.request.MaxHeaders = maxHeaders
	}
	return c.request
}

// releaseRequest drops the current request, recycling it unless a worker
// may still hold it.
func (c *Connection) releaseRequest() {
	if c.request == nil {
		return
	}
	if !c.inFlight {
		c.requests.Put(c.request)
	}
	c.request = nil
	c.inFlight = false
	c.consumed = 0
}

func (c *Connection) releaseOut() {
	if c.out != nil {
		pools.ReleaseBuffer(c.out)
		c.out = nil
	}
	c.outPos = 0
}

// resetForKeepAlive prepares the connection for the next request: the
// finished request is dropped and its bytes are removed from the buffer.
// Pipelined bytes that follow stay in place.
func (c *Connection) resetForKeepAlive(now time.Time) {
	c.buf.Consume(c.consumed)
	c.releaseRequest()
	c.releaseOut()
	c.touch(now)
}

// Close closes the socket and frees the buffers. The pool calls it after
// removing the descriptor from the poller.
func (c *Connection) Close() error {
	if c.state == StateClosed {
		return nil
	}
	err := sock.Close(c.fd)

	c.releaseRequest()
	c.releaseOut()
	if c.buf != nil {
		pools.PutBytes(c.buf.Release())
	}

	c.log.Debug().
		Int("requests", c.requestsHandled).
		Dur("age", time.Since(c.createdAt)).
		Msg("connection closed")
	c.setState(StateClosed)
	return err
}
