package core

import (
	"errors"
	"time"

	"github.com/searchktools/fast-edge/core/observability"
	"github.com/searchktools/fast-edge/core/sock"
)

// PeerClient is the tracer's network class for downstream connections
const PeerClient = "client"

// traceStart returns the zero time when tracing is off so traceEnd skips it
func (e *Engine) traceStart() time.Time {
	if !e.tracer.Enabled() {
		return time.Time{}
	}
	return time.Now()
}

// traceEnd records a syscall started at start. EAGAIN is not an error.
func (e *Engine) traceEnd(name string, start time.Time, err error) {
	if start.IsZero() {
		return
	}
	if errors.Is(err, sock.ErrWouldBlock) {
		err = nil
	}
	e.tracer.TraceSystemCall(name, time.Since(start), err)
}

// Tracer returns the syscall tracer, which may be nil
func (e *Engine) Tracer() *observability.SyscallTracer { return e.tracer }
