package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/searchktools/fast-edge/core/http"
	"github.com/searchktools/fast-edge/core/logging"
)

func newStaticFixture(t *testing.T) (*StaticResponder, string) {
	t.Helper()
	root := t.TempDir()
	write := func(name, content string) {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("index.html", "<html><body>hi</body></html>")
	write("css/site.css", "body{}")
	write("blob", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	return NewStaticResponder(root, "/static", logging.Nop()), root
}

func TestStaticServesFile(t *testing.T) {
	s, _ := newStaticFixture(t)

	resp := s.Respond(mustParse(t, "GET /static/index.html HTTP/1.1\r\nHost: x\r\n\r\n"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.ContentType != "text/html" {
		t.Errorf("Expected text/html, got %s", resp.ContentType)
	}
	if string(resp.Body()) != "<html><body>hi</body></html>" {
		t.Errorf("Unexpected body %q", resp.Body())
	}

	resp = s.Respond(mustParse(t, "GET /static/css/site.css?v=3 HTTP/1.1\r\n\r\n"))
	if resp.StatusCode != http.StatusOK || resp.ContentType != "text/css" {
		t.Errorf("Expected 200 text/css with query stripped, got %d %s", resp.StatusCode, resp.ContentType)
	}
}

// The responder can also be mounted at the root, serving "/index.html"
func TestStaticRootMount(t *testing.T) {
	s, root := newStaticFixture(t)
	s.Prefix = ""

	resp := s.Respond(mustParse(t, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"))
	want, _ := os.ReadFile(filepath.Join(root, "index.html"))
	if resp.StatusCode != http.StatusOK || resp.ContentType != "text/html" || string(resp.Body()) != string(want) {
		t.Errorf("Expected 200 text/html with file bytes, got %d %s %q", resp.StatusCode, resp.ContentType, resp.Body())
	}
}

func TestStaticNotFound(t *testing.T) {
	s, _ := newStaticFixture(t)

	for _, uri := range []string{"/static/missing.html", "/static/css", "/static", "/static/../index.html/x"} {
		resp := s.Respond(mustParse(t, "GET "+uri+" HTTP/1.1\r\n\r\n"))
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", uri, resp.StatusCode)
		}
	}
}

func TestStaticNoTraversal(t *testing.T) {
	s, root := newStaticFixture(t)

	got := s.Resolve("/static/../../etc/passwd")
	if got != filepath.Join(root, "etc", "passwd") {
		t.Errorf("Expected path to stay below root, got %s", got)
	}
}

func TestStaticForbidden(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	s, root := newStaticFixture(t)
	secret := filepath.Join(root, "secret.html")
	if err := os.WriteFile(secret, []byte("x"), 0o000); err != nil {
		t.Fatal(err)
	}

	resp := s.Respond(mustParse(t, "GET /static/secret.html HTTP/1.1\r\n\r\n"))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}
}

func TestStaticHead(t *testing.T) {
	s, _ := newStaticFixture(t)
	resp := s.Respond(mustParse(t, "HEAD /static/index.html HTTP/1.1\r\n\r\n"))
	if !resp.OmitBody {
		t.Error("Expected HEAD response to omit the body")
	}
}

func TestStaticSniffMime(t *testing.T) {
	s, _ := newStaticFixture(t)
	req := mustParse(t, "GET /static/blob HTTP/1.1\r\n\r\n")

	if ct := s.Respond(req).ContentType; ct != http.DefaultMimeType {
		t.Errorf("Expected %s without sniffing, got %s", http.DefaultMimeType, ct)
	}
	s.SniffMime = true
	if ct := s.Respond(req).ContentType; ct != "image/png" {
		t.Errorf("Expected sniffed image/png, got %s", ct)
	}
}
