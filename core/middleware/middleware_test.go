package middleware

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/searchktools/fast-edge/core/http"
	"github.com/searchktools/fast-edge/core/router"
)

func parse(t testing.TB, raw string) *http.Request {
	t.Helper()
	req := http.NewRequest()
	if _, err := req.Parse([]byte(raw)); err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return req
}

func header(resp *http.Response, name string) (string, bool) {
	prefix := name + ": "
	for _, h := range resp.Headers() {
		if strings.HasPrefix(h, prefix) {
			return h[len(prefix):], true
		}
	}
	return "", false
}

var ok = router.ResponderFunc(func(*http.Request) *http.Response {
	return http.NewResponse(http.StatusOK, "", []byte("ok"), "text/plain")
})

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next router.Responder) router.Responder {
			return router.ResponderFunc(func(req *http.Request) *http.Response {
				order = append(order, name)
				return next.Respond(req)
			})
		}
	}

	h := Chain(mark("a"), mark("b"), mark("c"))(ok)
	h.Respond(parse(t, "GET / HTTP/1.1\r\n\r\n"))

	if got := strings.Join(order, ","); got != "a,b,c" {
		t.Errorf("Expected a,b,c, got %s", got)
	}
}

func TestChainEmpty(t *testing.T) {
	resp := Chain()(ok).Respond(parse(t, "GET / HTTP/1.1\r\n\r\n"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestRecovery(t *testing.T) {
	panicky := router.ResponderFunc(func(*http.Request) *http.Response {
		panic("boom")
	})

	resp := Recovery(zerolog.Nop())(panicky).Respond(parse(t, "GET /x HTTP/1.1\r\n\r\n"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
	if string(resp.Body()) != "<h1>500 Internal Server Error</h1>" {
		t.Errorf("Unexpected body %q", resp.Body())
	}

	resp = Recovery(zerolog.Nop())(ok).Respond(parse(t, "GET /x HTTP/1.1\r\n\r\n"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 without panic, got %d", resp.StatusCode)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	h := RequestID()(ok)

	first, found := header(h.Respond(parse(t, "GET / HTTP/1.1\r\n\r\n")), HeaderRequestID)
	if !found {
		t.Fatal("Expected X-Request-ID header")
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("Expected a UUID, got %q", first)
	}

	second, _ := header(h.Respond(parse(t, "GET / HTTP/1.1\r\n\r\n")), HeaderRequestID)
	if first == second {
		t.Errorf("Expected distinct ids, got %q twice", first)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	resp := RequestID()(ok).Respond(parse(t, "GET / HTTP/1.1\r\nX-Request-ID: abc-123\r\n\r\n"))
	if id, _ := header(resp, HeaderRequestID); id != "abc-123" {
		t.Errorf("Expected abc-123, got %q", id)
	}
}

func TestCORS(t *testing.T) {
	called := false
	next := router.ResponderFunc(func(req *http.Request) *http.Response {
		called = true
		return ok(req)
	})
	h := CORS()(next)

	resp := h.Respond(parse(t, "OPTIONS /api/x HTTP/1.1\r\n\r\n"))
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", resp.StatusCode)
	}
	if called {
		t.Error("Preflight should not reach the route")
	}
	if v, _ := header(resp, "Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Expected allow-origin *, got %q", v)
	}

	resp = h.Respond(parse(t, "GET /api/x HTTP/1.1\r\n\r\n"))
	if resp.StatusCode != http.StatusOK || !called {
		t.Errorf("Expected GET to reach the route, got %d", resp.StatusCode)
	}
	if _, found := header(resp, "Access-Control-Allow-Methods"); !found {
		t.Error("Expected allow-methods header")
	}
}

func TestRateLimiter(t *testing.T) {
	h := RateLimiter(3)(ok)
	req := parse(t, "GET / HTTP/1.1\r\n\r\n")

	for i := 0; i < 3; i++ {
		if resp := h.Respond(req); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: Expected 200, got %d", i, resp.StatusCode)
		}
	}
	resp := h.Respond(req)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", resp.StatusCode)
	}
	if v, _ := header(resp, "Retry-After"); v != "1" {
		t.Errorf("Expected Retry-After 1, got %q", v)
	}
}

func TestRateLimiterConcurrent(t *testing.T) {
	const limit = 50
	h := RateLimiter(limit)(ok)
	req := parse(t, "GET / HTTP/1.1\r\n\r\n")

	var (
		mu      sync.Mutex
		allowed int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if h.Respond(req).StatusCode == http.StatusOK {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// all 160 calls land well inside one window
	if allowed != limit {
		t.Errorf("Expected %d allowed, got %d", limit, allowed)
	}
}

func BenchmarkChain(b *testing.B) {
	h := Chain(Recovery(zerolog.Nop()), CORS())(ok)
	req := parse(b, "GET / HTTP/1.1\r\n\r\n")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Respond(req)
	}
}
