/*
Package fastedge is a single-threaded, event-driven HTTP/1.1 edge server for
Linux. One goroutine owns every client connection: it waits on epoll,
accepts, reads, parses and writes without blocking. Files under a static
prefix are served from disk and requests under a proxy prefix are forwarded
to a round-robin list of backends on a small worker pool.

Quick Start

	package main

	import (
	    "github.com/searchktools/fast-edge/app"
	    "github.com/searchktools/fast-edge/config"
	)

	func main() {
	    cfg := config.New() // flags, FAST_EDGE_* env, -config file
	    if err := app.New(cfg).Run(); err != nil {
	        panic(err)
	    }
	}

Modules

  - app: wiring of config, logging, routes and the engine; signal handling
  - config: layered configuration (defaults, INI or JSON file, env, flags)
  - core: the event loop engine and connection state machine
  - core/buffer: growable per-connection read buffer
  - core/http: incremental request parser and response serializer
  - core/router: prefix router with static file and reverse proxy responders
  - core/middleware: responder middlewares (recovery, request id, CORS, rate limit)
  - core/pools: connection pool, worker pool, byte and object pools, GC tuning
  - core/poller: epoll (kqueue on darwin) readiness and the loop waker
  - core/sock: non-blocking socket helpers
  - core/logging: zerolog setup
  - core/observability: per-route latency monitor and syscall tracer
*/
package fastedge
