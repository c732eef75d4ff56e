// Package middleware wraps route responders with cross-cutting behaviour.
// Middlewares run on whichever goroutine runs the route: the event loop for
// static files, a proxy worker for blocking routes.
package middleware

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/searchktools/fast-edge/core/http"
	"github.com/searchktools/fast-edge/core/router"
)

// HeaderRequestID carries the request id set by RequestID
const HeaderRequestID = "X-Request-ID"

// Middleware decorates a responder
type Middleware func(router.Responder) router.Responder

// Chain composes middlewares; the first one is the outermost
func Chain(mws ...Middleware) Middleware {
	return func(next router.Responder) router.Responder {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Recovery turns a panicking responder into a 500 so one bad request cannot
// take down the event loop.
func Recovery(log zerolog.Logger) Middleware {
	return func(next router.Responder) router.Responder {
		return router.ResponderFunc(func(req *http.Request) (resp *http.Response) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Str("uri", req.URI()).
						Str("panic", fmt.Sprint(err)).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")
					resp = http.ErrorResponse(http.StatusInternalServerError)
				}
			}()
			return next.Respond(req)
		})
	}
}

// RequestID echoes the client's X-Request-ID or assigns a new UUID
func RequestID() Middleware {
	return func(next router.Responder) router.Responder {
		return router.ResponderFunc(func(req *http.Request) *http.Response {
			id := ""
			if v, ok := req.Header(HeaderRequestID); ok && len(v) > 0 && len(v) <= 128 {
				id = string(v)
			} else {
				id = uuid.NewString()
			}
			resp := next.Respond(req)
			if err := resp.AddHeader(HeaderRequestID, id); err != nil {
				resp.AddHeader(HeaderRequestID, uuid.NewString())
			}
			return resp
		})
	}
}

// CORS adds permissive CORS headers and answers preflight requests itself
func CORS() Middleware {
	return func(next router.Responder) router.Responder {
		return router.ResponderFunc(func(req *http.Request) *http.Response {
			var resp *http.Response
			if req.Method == http.MethodOptions {
				resp = http.NewResponse(http.StatusNoContent, "", nil, "")
			} else {
				resp = next.Respond(req)
			}
			resp.AddHeader("Access-Control-Allow-Origin", "*")
			resp.AddHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			resp.AddHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")
			return resp
		})
	}
}

// RateLimiter allows requestsPerSecond requests per one second window and
// answers the rest with 429.
func RateLimiter(requestsPerSecond int) Middleware {
	var (
		mu         sync.Mutex
		tokens     = requestsPerSecond
		lastRefill = time.Now()
	)

	allow := func() bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastRefill) >= time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}
		if tokens > 0 {
			tokens--
			return true
		}
		return false
	}

	return func(next router.Responder) router.Responder {
		return router.ResponderFunc(func(req *http.Request) *http.Response {
			if !allow() {
				resp := http.ErrorResponse(http.StatusTooManyRequests)
				resp.AddHeader("Retry-After", "1")
				return resp
			}
			return next.Respond(req)
		})
	}
}
