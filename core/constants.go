package core

import (
	"errors"
	"time"
)

// Engine defaults
const (
	DefaultAddr           = ":8080"
	DefaultPollTimeout    = 100 // ms
	DefaultSweepInterval  = time.Second
	DefaultProxyWorkers   = 4
	DefaultProxyQueueSize = 256

	// maxWaitErrors consecutive poller failures end the loop
	maxWaitErrors = 16

	// acceptBackoff keeps the listener off the poller after an accept error
	acceptBackoff = 100 * time.Millisecond
)

// Header names the engine writes
const (
	HeaderConnection = "Connection"
)

// Error definitions
var (
	// ErrEngineRunning is returned by Run on an engine that already started
	ErrEngineRunning = errors.New("engine: already running")
	// ErrRequestTooLarge is reported when a request cannot fit in the receive buffer
	ErrRequestTooLarge = errors.New("engine: request exceeds receive buffer limit")
	// ErrPeerClosed is reported when the client goes away mid-request
	ErrPeerClosed = errors.New("engine: peer closed connection")
)
