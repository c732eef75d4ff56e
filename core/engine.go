package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/searchktools/fast-edge/core/buffer"
	"github.com/searchktools/fast-edge/core/http"
	"github.com/searchktools/fast-edge/core/logging"
	"github.com/searchktools/fast-edge/core/observability"
	"github.com/searchktools/fast-edge/core/poller"
	"github.com/searchktools/fast-edge/core/pools"
	"github.com/searchktools/fast-edge/core/router"
	"github.com/searchktools/fast-edge/core/sock"
)

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	Addr              string
	Backlog           int
	MaxConnections    int
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	InitialBufferSize int
	MaxBufferSize     int
	MaxHeaders        int
	// ProxyWorkers is the number of goroutines running blocking routes.
	// A negative value runs them inline on the event loop.
	ProxyWorkers   int
	ProxyQueueSize int
	PollTimeout    int // ms
	// RequestPoolWarmup pre-allocates parsed request objects
	RequestPoolWarmup int

	Logger  zerolog.Logger
	Monitor *observability.Monitor
	// Tracer records syscall latency and client byte counts when enabled
	Tracer *observability.SyscallTracer
}

func (o *Options) setDefaults() {
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if o.Backlog <= 0 {
		o.Backlog = sock.DefaultBacklog
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = pools.DefaultMaxConnections
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = pools.DefaultIdleTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.InitialBufferSize <= 0 {
		o.InitialBufferSize = buffer.DefaultInitialSize
	}
	if o.MaxBufferSize <= 0 {
		o.MaxBufferSize = buffer.DefaultMaxSize
	}
	if o.MaxBufferSize < o.InitialBufferSize {
		o.MaxBufferSize = o.InitialBufferSize
	}
	if o.MaxHeaders <= 0 {
		o.MaxHeaders = http.DefaultMaxHeaders
	}
	if o.ProxyWorkers == 0 {
		o.ProxyWorkers = DefaultProxyWorkers
	}
	if o.ProxyQueueSize <= 0 {
		o.ProxyQueueSize = DefaultProxyQueueSize
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
}

// result is a response produced by a worker for a connection that is
// parked off the poller.
type result struct {
	fd    int
	id    uuid.UUID
	route string
	resp  *http.Response
	took  time.Duration
}

// Engine is a single-threaded event loop HTTP/1.1 server.
//
// All connection state is owned by the goroutine running Run. Blocking
// routes run on the worker pool and hand their responses back through a
// queue and a waker.
type Engine struct {
	opts    Options
	router  *router.Router
	log     zerolog.Logger
	monitor *observability.Monitor
	tracer  *observability.SyscallTracer

	poller   poller.Poller
	waker    *poller.Waker
	listener *sock.Listener
	conns    *pools.ConnectionPool[*Connection]
	requests *pools.SmartPool[*http.Request]
	workers  *pools.WorkerPool

	resultsMu sync.Mutex
	results   []result
	spare     []result

	mu       sync.Mutex // guards started and waker against Shutdown
	started  bool
	shutdown atomic.Bool
	ready    chan struct{}
	done     chan struct{}

	startTime time.Time
	lastSweep time.Time
	// acceptPaused is when a failing accept took the listener off the poller
	acceptPaused time.Time

	stats struct {
		accepted     atomic.Uint64
		rejected     atomic.Uint64
		requests     atomic.Uint64
		parseErrors  atomic.Uint64
		oversized    atomic.Uint64
		offloaded    atomic.Uint64
		overloaded   atomic.Uint64
		discarded    atomic.Uint64
		writeErrors  atomic.Uint64
		acceptErrors atomic.Uint64
		bytesRead    atomic.Uint64
		bytesWritten atomic.Uint64
	}
}

// NewEngine creates an engine that dispatches through r
func NewEngine(r *router.Router, opts Options) *Engine {
	opts.setDefaults()
	e := &Engine{
		opts:    opts,
		router:  r,
		log:     logging.Component(opts.Logger, "engine"),
		monitor: opts.Monitor,
		tracer:  opts.Tracer,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}

	e.requests = pools.NewSmartPool(pools.SmartPoolConfig[*http.Request]{
		New:        http.NewRequest,
		Reset:      (*http.Request).Reset,
		WarmupSize: opts.RequestPoolWarmup,
	})
	return e
}

// Ready is closed once the engine is listening
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Done is closed after Run returns
func (e *Engine) Done() <-chan struct{} { return e.done }

// Addr returns the bound listen address, or nil before Ready
func (e *Engine) Addr() net.Addr {
	select {
	case <-e.ready:
		return e.listener.Addr()
	default:
		return nil
	}
}

// Run binds the listener and serves until Shutdown is called. Setup
// failures are returned; Wait errors are logged and only a run of them
// ends the loop with an error.
func (e *Engine) Run() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrEngineRunning
	}
	e.started = true
	e.mu.Unlock()
	defer close(e.done)

	if err := e.setup(); err != nil {
		e.teardown()
		return err
	}

	e.startTime = time.Now()
	e.lastSweep = e.startTime
	close(e.ready)

	e.log.Info().
		Str("addr", e.listener.Addr().String()).
		Int("max_connections", e.opts.MaxConnections).
		Dur("idle_timeout", e.opts.IdleTimeout).
		Int("proxy_workers", e.opts.ProxyWorkers).
		Msg("server listening")

	err := e.loop()
	e.teardown()
	e.log.Info().Uint64("requests", e.stats.requests.Load()).Msg("server stopped")
	return err
}

func (e *Engine) setup() error {
	var err error
	if e.poller, err = poller.NewPoller(); err != nil {
		return fmt.Errorf("create poller: %w", err)
	}
	waker, err := poller.NewWaker(e.poller)
	if err != nil {
		return fmt.Errorf("create waker: %w", err)
	}
	e.mu.Lock()
	e.waker = waker
	e.mu.Unlock()
	if e.listener, err = sock.Listen(e.opts.Addr, e.opts.Backlog); err != nil {
		return err
	}
	if err = e.poller.Add(e.listener.Fd(), poller.Readable); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}

	e.conns = pools.NewConnectionPool(e.opts.MaxConnections, e.opts.IdleTimeout, e.poller, e.newConnection)
	if e.opts.ProxyWorkers > 0 {
		e.workers = pools.NewWorkerPool(e.opts.ProxyWorkers, e.opts.ProxyQueueSize)
	}
	return nil
}

func (e *Engine) newConnection(fd int) *Connection {
	return newConnection(fd, e.opts.InitialBufferSize, e.opts.MaxBufferSize, e.requests, e.log)
}

// teardown stops the workers first so no result is queued after the
// waker is gone.
func (e *Engine) teardown() {
	if e.workers != nil {
		e.workers.Close()
	}
	if e.conns != nil {
		if n := e.conns.Close(); n > 0 {
			e.log.Info().Int("connections", n).Msg("closed open connections")
		}
	}
	if e.listener != nil {
		e.listener.Close()
	}
	e.mu.Lock()
	if e.waker != nil {
		e.waker.Close()
		e.waker = nil
	}
	e.mu.Unlock()
	if e.poller != nil {
		e.poller.Close()
	}
}

// Shutdown stops the loop and waits until it has released every
// connection or ctx is done. It may be called more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shutdown.Store(true)
	started := e.started
	// the waker only exists between setup and teardown
	if e.waker != nil {
		e.waker.Wake()
	}
	e.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) loop() error {
	lfd, wfd := e.listener.Fd(), e.waker.Fd()
	failures := 0

	for !e.shutdown.Load() {
		start := e.traceStart()
		events, err := e.poller.Wait(e.opts.PollTimeout)
		e.traceEnd("epoll_wait", start, err)
		if err != nil {
			failures++
			e.log.Error().Err(err).Int("consecutive", failures).Msg("poller wait failed")
			if failures >= maxWaitErrors || errors.Is(err, poller.ErrClosed) {
				return fmt.Errorf("poller wait: %w", err)
			}
			continue
		}
		failures = 0
		now := time.Now()
		e.resumeAccept(now)

		for _, ev := range events {
			switch ev.Fd {
			case lfd:
				e.acceptAll(now)
			case wfd:
				e.waker.Drain()
				e.deliverResults(now)
			default:
				e.handleEvent(ev, now)
			}
		}

		if now.Sub(e.lastSweep) >= e.opts.SweepInterval {
			e.lastSweep = now
			if n := e.conns.SweepTimeouts(now); n > 0 {
				e.log.Debug().Int("connections", n).Msg("idle connections closed")
			}
		}
	}
	return nil
}

func (e *Engine) acceptAll(now time.Time) {
	for {
		start := e.traceStart()
		fd, err := e.listener.Accept()
		e.traceEnd("accept", start, err)
		if errors.Is(err, sock.ErrWouldBlock) {
			return
		}
		if err != nil {
			e.pauseAccept(now, err)
			return
		}

		c, err := e.conns.Acquire(fd)
		if errors.Is(err, pools.ErrPoolFull) {
			e.stats.rejected.Add(1)
			e.log.Warn().Int("fd", fd).Msg("connection pool full, rejecting client")
			sock.Close(fd)
			continue
		}
		if err != nil {
			// the pool closed the descriptor
			e.log.Error().Err(err).Int("fd", fd).Msg("failed to register connection")
			continue
		}
		e.stats.accepted.Add(1)
		e.tracer.TraceNetwork(PeerClient, 0, 0, true)
		c.touch(now)
		c.setState(StateReading)
	}
}

// pauseAccept deregisters the listener after an accept error such as
// EMFILE. The listener stays readable while the backlog is full, so leaving
// it registered would spin the loop on the same error.
func (e *Engine) pauseAccept(now time.Time, cause error) {
	e.stats.acceptErrors.Add(1)
	if err := e.poller.Remove(e.listener.Fd()); err != nil {
		e.log.Error().Err(err).Msg("failed to pause accepting")
		return
	}
	e.acceptPaused = now
	e.log.Error().Err(cause).Dur("backoff", acceptBackoff).Msg("accept failed, pausing listener")
}

// resumeAccept registers the listener again once the backoff has passed
func (e *Engine) resumeAccept(now time.Time) {
	if e.acceptPaused.IsZero() || now.Sub(e.acceptPaused) < acceptBackoff {
		return
	}
	if err := e.poller.Add(e.listener.Fd(), poller.Readable); err != nil {
		e.log.Error().Err(err).Msg("failed to resume accepting")
		e.acceptPaused = now
		return
	}
	e.acceptPaused = time.Time{}
	e.log.Info().Msg("listener resumed")
}

func (e *Engine) handleEvent(ev poller.Event, now time.Time) {
	c, ok := e.conns.Get(ev.Fd)
	if !ok {
		return
	}

	switch c.state {
	case StateSendingResponse:
		if ev.Writable || ev.Hangup {
			e.flush(c, now)
			// requests pipelined behind the reply are already buffered and
			// no further readiness will announce them
			if c.state == StateReading {
				e.process(c, now)
			}
		}
	case StateReading:
		if ev.Readable || ev.Hangup {
			e.onReadable(c, now)
		}
	}
}

// onReadable drains the socket into the connection buffer and processes
// whatever complete requests it now holds.
func (e *Engine) onReadable(c *Connection, now time.Time) {
	full := false
	for {
		if len(c.buf.Free()) == 0 {
			if err := c.buf.Grow(1); err != nil {
				full = true
				break
			}
		}
		start := e.traceStart()
		n, err := sock.Read(c.fd, c.buf.Free())
		e.traceEnd("read", start, err)
		if errors.Is(err, sock.ErrWouldBlock) {
			break
		}
		if err != nil {
			c.log.Debug().Err(err).Msg("read failed")
			e.close(c, StateError)
			return
		}
		if n == 0 {
			c.peerClosed = true
			break
		}
		c.buf.Commit(n)
		c.touch(now)
		e.stats.bytesRead.Add(uint64(n))
		e.tracer.TraceNetwork(PeerClient, 0, uint64(n), false)
	}

	if c.peerClosed && c.buf.Len() == 0 {
		e.close(c, StateClosing)
		return
	}

	e.process(c, now)

	if full && c.state == StateReading && c.buf.Len() == c.buf.Cap() {
		e.stats.oversized.Add(1)
		e.reject(c, http.StatusRequestTooLarge, ErrRequestTooLarge)
	}
}

// process parses and answers buffered requests until the buffer runs dry,
// a response is left pending, or the connection closes.
func (e *Engine) process(c *Connection, now time.Time) {
	for c.state == StateReading && c.buf.Len() > 0 {
		req := c.acquireRequest(e.opts.MaxHeaders)
		n, err := req.Parse(c.buf.Bytes())
		if errors.Is(err, http.ErrIncomplete) {
			if req.State == http.StateBody && req.Consumed()+req.ContentLength() > c.buf.Max() {
				e.stats.oversized.Add(1)
				e.reject(c, http.StatusRequestTooLarge, ErrRequestTooLarge)
				return
			}
			if c.peerClosed {
				c.log.Debug().Err(ErrPeerClosed).Int("buffered", c.buf.Len()).Msg("incomplete request dropped")
				e.close(c, StateClosing)
			}
			return
		}
		if err != nil {
			e.stats.parseErrors.Add(1)
			c.log.Debug().Err(err).Msg("malformed request")
			e.reject(c, http.StatusBadRequest, err)
			return
		}

		c.consumed = n
		c.setState(StateProcessing)
		m := e.router.Lookup(req.URI())

		if m.Blocking && e.workers != nil {
			e.offload(c, m, now)
			return
		}

		start := time.Now()
		resp := m.Responder.Respond(req)
		e.monitor.Record(m.Name, time.Since(start), resp.StatusCode)
		e.respond(c, resp, now)
	}

	if c.state == StateReading && c.peerClosed && c.buf.Len() == 0 {
		e.close(c, StateClosing)
	}
}

// offload parks the connection off the poller and runs the responder on
// a worker. The request is detached from the connection buffer first.
func (e *Engine) offload(c *Connection, m router.Match, now time.Time) {
	req := c.request
	req.Detach()

	if err := e.poller.Remove(c.fd); err != nil {
		c.log.Error().Err(err).Msg("failed to park connection")
		e.close(c, StateError)
		return
	}
	c.inFlight = true
	c.touch(now)

	fd, id, route := c.fd, c.id, m.Name
	ok := e.workers.Submit(func() {
		start := time.Now()
		resp := m.Responder.Respond(req)
		e.pushResult(result{fd: fd, id: id, route: route, resp: resp, took: time.Since(start)})
	})
	if !ok {
		c.inFlight = false
		e.stats.overloaded.Add(1)
		c.log.Warn().Str("route", route).Msg("worker pool saturated")
		if err := e.poller.Add(c.fd, poller.Readable); err != nil {
			e.close(c, StateError)
			return
		}
		e.respond(c, http.ErrorResponse(http.StatusServiceUnavailable), now)
		e.process(c, now)
		return
	}
	e.stats.offloaded.Add(1)
}

func (e *Engine) pushResult(r result) {
	e.resultsMu.Lock()
	e.results = append(e.results, r)
	e.resultsMu.Unlock()
	e.waker.Wake()
}

// deliverResults writes worker responses to connections that are still
// waiting for them. A connection closed in the meantime may have its
// descriptor reused; the id check drops results meant for it.
func (e *Engine) deliverResults(now time.Time) {
	e.resultsMu.Lock()
	batch := e.results
	e.results = e.spare[:0]
	e.resultsMu.Unlock()

	for i := range batch {
		r := &batch[i]
		e.monitor.Record(r.route, r.took, r.resp.StatusCode)

		c, ok := e.conns.Get(r.fd)
		if !ok || c.id != r.id || c.state != StateProcessing {
			e.stats.discarded.Add(1)
			e.log.Debug().Int("fd", r.fd).Str("route", r.route).Msg("result for closed connection discarded")
			continue
		}
		c.inFlight = false
		if err := e.poller.Add(c.fd, poller.Readable); err != nil {
			c.log.Error().Err(err).Msg("failed to resume connection")
			e.close(c, StateError)
			continue
		}
		e.respond(c, r.resp, now)
		e.process(c, now)
	}

	clear(batch)
	e.spare = batch[:0]
}

// respond serializes resp and starts writing it
func (e *Engine) respond(c *Connection, resp *http.Response, now time.Time) {
	req := c.request
	c.keepAlive = req.KeepAlive() && !c.peerClosed
	if c.keepAlive {
		resp.AddHeader(HeaderConnection, "keep-alive")
	} else {
		resp.AddHeader(HeaderConnection, "close")
	}
	if req.Method == http.MethodHead {
		resp.OmitBody = true
	}

	out := pools.AcquireBuffer(resp.Size())
	*out = resp.AppendTo((*out)[:0])
	c.out = out
	c.outPos = 0
	c.setState(StateSendingResponse)

	c.log.Debug().
		Str("method", req.Method.String()).
		Str("uri", req.URI()).
		Int("status", resp.StatusCode).
		Int("bytes", len(*out)).
		Msg("request handled")

	e.flush(c, now)
}

// flush writes pending output. A short write switches the descriptor to
// writability and resumes on the next event.
func (e *Engine) flush(c *Connection, now time.Time) {
	pending := (*c.out)[c.outPos:]
	start := e.traceStart()
	n, err := sock.Write(c.fd, pending)
	e.traceEnd("write", start, err)
	c.outPos += n
	if n > 0 {
		c.touch(now)
	}
	e.stats.bytesWritten.Add(uint64(n))
	e.tracer.TraceNetwork(PeerClient, uint64(n), 0, false)

	if errors.Is(err, sock.ErrWouldBlock) {
		if !c.waitingWrite {
			if err := e.poller.Modify(c.fd, poller.Writable); err != nil {
				e.close(c, StateError)
				return
			}
			c.waitingWrite = true
		}
		return
	}
	if err != nil {
		e.stats.writeErrors.Add(1)
		c.log.Debug().Err(err).Msg("write failed")
		e.close(c, StateError)
		return
	}

	if c.waitingWrite {
		c.waitingWrite = false
		if err := e.poller.Modify(c.fd, poller.Readable); err != nil {
			e.close(c, StateError)
			return
		}
	}
	e.finish(c, now)
}

// finish completes a request: the connection either waits for the next one
// or closes.
func (e *Engine) finish(c *Connection, now time.Time) {
	c.requestsHandled++
	e.stats.requests.Add(1)

	if !c.keepAlive {
		e.close(c, StateClosing)
		return
	}
	c.setState(StateKeepAlive)
	c.resetForKeepAlive(now)
	c.setState(StateReading)
}

// reject answers with an error status on a best-effort single write and
// closes the connection.
func (e *Engine) reject(c *Connection, status int, cause error) {
	c.setState(StateError)
	resp := http.ErrorResponse(status)
	resp.AddHeader(HeaderConnection, "close")

	out := pools.AcquireBuffer(resp.Size())
	*out = resp.AppendTo((*out)[:0])
	n, _ := sock.Write(c.fd, *out)
	pools.ReleaseBuffer(out)
	e.stats.bytesWritten.Add(uint64(n))

	c.log.Debug().Int("status", status).Err(cause).Msg("request rejected")
	e.monitor.Record(router.RouteRejected, 0, status)
	e.close(c, StateError)
}

func (e *Engine) close(c *Connection, state State) {
	c.setState(state)
	if err := e.conns.Release(c); err != nil {
		c.log.Error().Err(err).Msg("release failed")
	}
}
