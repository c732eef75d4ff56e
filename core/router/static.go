package router

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/searchktools/fast-edge/core/http"
)

// StaticResponder serves files below Root for URIs under Prefix
type StaticResponder struct {
	Root   string
	Prefix string
	// SniffMime falls back to content detection when the extension is unknown
	SniffMime bool
	Logger    zerolog.Logger
}

// NewStaticResponder creates a static responder for prefix serving root
func NewStaticResponder(root, prefix string, log zerolog.Logger) *StaticResponder {
	return &StaticResponder{Root: root, Prefix: prefix, Logger: log}
}

// Resolve maps a request target to a file below Root. The query string is
// dropped and ".." segments cannot climb above Root.
func (s *StaticResponder) Resolve(uri string) string {
	rel, _ := stripPrefix(uri, s.Prefix)
	rel = path.Clean("/" + rel)
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// Respond reads the whole file into the response
func (s *StaticResponder) Respond(req *http.Request) *http.Response {
	file := s.Resolve(req.URI())

	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.Logger.Debug().Str("file", file).Msg("static file not readable")
			return http.ErrorResponse(http.StatusForbidden)
		}
		s.Logger.Debug().Str("file", file).Err(err).Msg("static file not found")
		return http.ErrorResponse(http.StatusNotFound)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		return http.ErrorResponse(http.StatusNotFound)
	}

	size := st.Size()
	data := make([]byte, size)
	n, err := io.ReadFull(f, data)
	if err != nil || int64(n) != size {
		s.Logger.Error().Str("file", file).Int("read", n).Int64("size", size).Err(err).Msg("failed to read static file")
		return http.ErrorResponse(http.StatusInternalServerError)
	}
	s.Logger.Debug().Str("file", file).Int("bytes", n).Msg("static file read")

	resp := http.NewResponse(http.StatusOK, "", data, s.contentType(file, data))
	if req.Method == http.MethodHead {
		resp.OmitBody = true
	}
	return resp
}

func (s *StaticResponder) contentType(file string, data []byte) string {
	ct := http.MimeFor(file)
	if ct == http.DefaultMimeType && s.SniffMime {
		ct = mimetype.Detect(data).String()
	}
	return ct
}
