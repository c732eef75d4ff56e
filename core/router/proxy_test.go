package router

import (
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/searchktools/fast-edge/core/http"
	"github.com/searchktools/fast-edge/core/logging"
	"github.com/searchktools/fast-edge/core/observability"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.paths = append(r.paths, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func newBackend(t *testing.T, name string) (addr string, seen *recorder) {
	t.Helper()
	seen = &recorder{}

	r := chi.NewRouter()
	r.Get("/foo", func(w nethttp.ResponseWriter, req *nethttp.Request) {
		seen.add(req.URL.RequestURI())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"backend":"` + name + `"}`))
	})
	r.Get("/", func(w nethttp.ResponseWriter, req *nethttp.Request) {
		seen.add(req.URL.RequestURI())
		w.Write([]byte("root:" + name))
	})
	r.Post("/echo", func(w nethttp.ResponseWriter, req *nethttp.Request) {
		body, _ := io.ReadAll(req.Body)
		seen.add(req.URL.RequestURI() + " " + req.Host)
		w.WriteHeader(nethttp.StatusCreated)
		w.Write(body)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://"), seen
}

// closedAddr returns an address nothing listens on
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestProxyForwards(t *testing.T) {
	addr, seen := newBackend(t, "a")
	p := NewProxyResponder("/api", []string{addr}, logging.Nop())

	resp := p.Respond(mustParse(t, "GET /api/foo HTTP/1.1\r\nHost: edge\r\n\r\n"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.ContentType != "text/html" {
		t.Errorf("Expected text/html, got %s", resp.ContentType)
	}
	if string(resp.Body()) != `{"backend":"a"}` {
		t.Errorf("Expected backend body, got %q", resp.Body())
	}
	if got := seen.get(); len(got) != 1 || got[0] != "/foo" {
		t.Errorf("Expected backend to see /foo, got %v", got)
	}
}

func TestProxyTracesBackendTraffic(t *testing.T) {
	addr, _ := newBackend(t, "a")
	p := NewProxyResponder("/api", []string{addr, closedAddr(t)}, logging.Nop())
	p.Tracer = observability.NewSyscallTracer(true)

	p.Respond(mustParse(t, "GET /api/foo HTTP/1.1\r\n\r\n"))
	p.Respond(mustParse(t, "GET /api/foo HTTP/1.1\r\n\r\n"))

	dial := p.Tracer.GetSyscallStats()["dial"]
	if dial.Count != 2 || dial.Errors != 1 {
		t.Errorf("Expected 2 dials with 1 error, got %+v", dial)
	}
	backend := p.Tracer.GetNetworkStats()[PeerBackend]
	if backend.Connections != 1 || backend.BytesSent == 0 || backend.BytesRecv == 0 {
		t.Errorf("Unexpected backend stats %+v", backend)
	}
}

func TestProxyEmptyRemainderMapsToRoot(t *testing.T) {
	addr, seen := newBackend(t, "a")
	p := NewProxyResponder("/api", []string{addr}, logging.Nop())

	resp := p.Respond(mustParse(t, "GET /api HTTP/1.1\r\n\r\n"))
	if string(resp.Body()) != "root:a" {
		t.Errorf("Expected root response, got %q", resp.Body())
	}
	if got := seen.get(); len(got) != 1 || got[0] != "/" {
		t.Errorf("Expected backend to see /, got %v", got)
	}
}

func TestProxyForwardsBody(t *testing.T) {
	addr, seen := newBackend(t, "a")
	p := NewProxyResponder("/api", []string{addr}, logging.Nop())

	resp := p.Respond(mustParse(t, "POST /api/echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"))
	// backend status is not passed through
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body()) != "hello" {
		t.Errorf("Expected echoed body, got %q", resp.Body())
	}
	if got := seen.get(); len(got) != 1 || got[0] != "/echo 127.0.0.1" {
		t.Errorf("Expected Host to name the backend, got %v", got)
	}
}

func TestProxyBackendUnreachable(t *testing.T) {
	p := NewProxyResponder("/api", []string{closedAddr(t)}, logging.Nop())

	resp := p.Respond(mustParse(t, "GET /api/foo HTTP/1.1\r\nHost: x\r\n\r\n"))
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", resp.StatusCode)
	}
}

func TestProxyNoBackends(t *testing.T) {
	p := NewProxyResponder("/api", nil, logging.Nop())
	resp := p.Respond(mustParse(t, "GET /api/foo HTTP/1.1\r\n\r\n"))
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", resp.StatusCode)
	}
}

func TestProxyRoundRobin(t *testing.T) {
	a, _ := newBackend(t, "a")
	b, _ := newBackend(t, "b")
	p := NewProxyResponder("/api", []string{a, b}, logging.Nop())

	var got []string
	for i := 0; i < 4; i++ {
		resp := p.Respond(mustParse(t, "GET /api HTTP/1.1\r\n\r\n"))
		got = append(got, string(resp.Body()))
	}
	want := "root:a,root:b,root:a,root:b"
	if strings.Join(got, ",") != want {
		t.Errorf("Expected %s, got %s", want, strings.Join(got, ","))
	}
}

func TestProxyBuildRequest(t *testing.T) {
	p := NewProxyResponder("/api", nil, logging.Nop())
	req := mustParse(t, "PUT /api/items/7?x=1 HTTP/1.1\r\nHost: edge\r\nContent-Length: 2\r\n\r\nok")

	got := string(p.BuildRequest(req, "backend.local:8002"))
	want := "PUT /items/7?x=1 HTTP/1.1\r\n" +
		"Host: backend.local\r\n" +
		"Content-Length: 2\r\n" +
		"Connection: close\r\n" +
		"\r\n" +
		"ok"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestProxyRawBackendWithoutHeaders(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 1024)
		c.Read(buf)
		c.Write([]byte("just bytes"))
		c.Close()
	}()

	p := NewProxyResponder("/api", []string{l.Addr().String()}, logging.Nop())
	body, err := p.Forward(l.Addr().String(), mustParse(t, "GET /api/x HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if string(body) != "just bytes" {
		t.Errorf("Expected the whole payload without a blank line, got %q", body)
	}
}
