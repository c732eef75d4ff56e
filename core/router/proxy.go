package router

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"

	"github.com/searchktools/fast-edge/core/http"
	"github.com/searchktools/fast-edge/core/observability"
	"github.com/searchktools/fast-edge/core/pools"
)

// Proxy defaults
const (
	DefaultDialTimeout     = 2 * time.Second
	DefaultBackendTimeout  = 10 * time.Second
	DefaultMaxProxyPayload = 64 * 1024

	// PeerBackend is the tracer's network class for upstream connections
	PeerBackend = "backend"
)

var (
	// ErrBackendUnavailable wraps every connect, write or read failure
	ErrBackendUnavailable = errors.New("router: backend unavailable")
	// ErrNoBackends is returned when no backend is configured
	ErrNoBackends = errors.New("router: no backends configured")
)

// ProxyResponder forwards requests under Prefix to a backend over a fresh
// TCP connection and relays the backend's body as a 200 text/html response.
// Backend status and headers are not passed through.
type ProxyResponder struct {
	Prefix         string
	DialTimeout    time.Duration
	BackendTimeout time.Duration
	MaxPayload     int
	Logger         zerolog.Logger
	// Tracer, when set, records dial latency and backend byte counts
	Tracer *observability.SyscallTracer

	backends []string
	next     atomic.Uint64
}

// NewProxyResponder creates a proxy over the backend list (host:port entries)
func NewProxyResponder(prefix string, backends []string, log zerolog.Logger) *ProxyResponder {
	return &ProxyResponder{
		Prefix:         prefix,
		DialTimeout:    DefaultDialTimeout,
		BackendTimeout: DefaultBackendTimeout,
		MaxPayload:     DefaultMaxProxyPayload,
		Logger:         log,
		backends:       append([]string(nil), backends...),
	}
}

// Backends returns the configured backend addresses
func (p *ProxyResponder) Backends() []string { return p.backends }

// pick returns the next backend round-robin
func (p *ProxyResponder) pick() (string, error) {
	if len(p.backends) == 0 {
		return "", ErrNoBackends
	}
	n := p.next.Add(1) - 1
	return p.backends[n%uint64(len(p.backends))], nil
}

// Respond forwards req and wraps the answer. Any backend failure is a 502.
func (p *ProxyResponder) Respond(req *http.Request) *http.Response {
	backend, err := p.pick()
	if err != nil {
		p.Logger.Warn().Err(err).Msg("proxy request dropped")
		return http.ErrorResponse(http.StatusBadGateway)
	}

	body, err := p.Forward(backend, req)
	if err != nil {
		p.Logger.Warn().Str("backend", backend).Err(err).Msg("proxy request failed")
		return http.ErrorResponse(http.StatusBadGateway)
	}
	p.Logger.Debug().Str("backend", backend).Int("bytes", len(body)).Msg("proxy response received")

	resp := http.NewResponse(http.StatusOK, "", body, "text/html")
	if req.Method == http.MethodHead {
		resp.OmitBody = true
	}
	return resp
}

// BuildRequest synthesizes the backend request for req
func (p *ProxyResponder) BuildRequest(req *http.Request, backend string) []byte {
	target := strings.TrimPrefix(req.URI(), p.Prefix)
	if target == "" || target[0] != '/' {
		target = "/" + target
	}

	host, _, err := net.SplitHostPort(backend)
	if err != nil || !httpguts.ValidHostHeader(host) {
		host = "localhost"
	}

	body := req.Body()
	out := make([]byte, 0, 128+len(target)+len(body))
	out = append(out, req.Method.String()...)
	out = append(out, ' ')
	out = append(out, target...)
	out = append(out, " HTTP/1.1\r\nHost: "...)
	out = append(out, host...)
	out = append(out, "\r\nContent-Length: "...)
	out = strconv.AppendInt(out, int64(len(body)), 10)
	out = append(out, "\r\nConnection: close\r\n\r\n"...)
	out = append(out, body...)
	return out
}

// Forward performs one round trip to backend and returns the bytes after
// the first blank line of the answer (the whole answer when there is none).
func (p *ProxyResponder) Forward(backend string, req *http.Request) ([]byte, error) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", backend, p.DialTimeout)
	p.Tracer.TraceSystemCall("dial", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrBackendUnavailable, backend, err)
	}
	defer conn.Close()

	if p.BackendTimeout > 0 {
		conn.SetDeadline(time.Now().Add(p.BackendTimeout))
	}

	out := p.BuildRequest(req, backend)
	if _, err := conn.Write(out); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrBackendUnavailable, backend, err)
	}

	limit := p.MaxPayload
	if limit <= 0 {
		limit = DefaultMaxProxyPayload
	}
	buf := pools.GetBytes(limit)
	defer pools.PutBytes(buf)

	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrBackendUnavailable, backend, err)
		}
	}

	p.Tracer.TraceNetwork(PeerBackend, uint64(len(out)), uint64(n), true)

	payload := buf[:n]
	if i := bytes.Index(payload, []byte("\r\n\r\n")); i >= 0 {
		payload = payload[i+4:]
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	return body, nil
}
