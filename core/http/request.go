package http

import (
	"bytes"

	"golang.org/x/net/http/httpguts"
)

// DefaultMaxHeaders caps the number of header lines per request
const DefaultMaxHeaders = 50

// ParseState tracks how far a request has been parsed
type ParseState uint8

const (
	StateRequestLine ParseState = iota
	StateHeaders
	StateBody
	StateComplete
	StateError
)

func (s ParseState) String() string {
	switch s {
	case StateRequestLine:
		return "request-line"
	case StateHeaders:
		return "headers"
	case StateBody:
		return "body"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Span is a byte range inside the parsed buffer
type Span struct {
	Off int
	Len int
}

func (s Span) of(b []byte) []byte {
	return b[s.Off : s.Off+s.Len : s.Off+s.Len]
}

// Header is one header line as spans into the buffer
type Header struct {
	Name  Span
	Value Span
}

// Request is an incrementally parsed HTTP/1.1 request.
//
// URI, version, header fields and body are spans into the buffer handed to
// Parse; nothing is copied. The accessors are only valid while that buffer is
// unchanged. Call Detach when the request must outlive the buffer.
type Request struct {
	Method Method
	State  ParseState

	// MaxHeaders caps the header count; zero means DefaultMaxHeaders
	MaxHeaders int

	uri           Span
	proto         Span
	headers       []Header
	body          Span
	contentLength int
	hasLength     bool

	raw         []byte
	pos         int
	headersDone bool // a line without a colon ended header collection
	err         error
}

// NewRequest returns an empty request with preallocated header storage
func NewRequest() *Request {
	return &Request{headers: make([]Header, 0, 16)}
}

// Reset clears the request for reuse (header storage is kept)
func (r *Request) Reset() {
	r.Method = MethodUnknown
	r.State = StateRequestLine
	r.uri = Span{}
	r.proto = Span{}
	r.headers = r.headers[:0]
	r.body = Span{}
	r.contentLength = 0
	r.hasLength = false
	r.raw = nil
	r.pos = 0
	r.headersDone = false
	r.err = nil
}

// Complete reports whether a full message has been parsed
func (r *Request) Complete() bool { return r.State == StateComplete }

// Consumed returns the number of buffer bytes the message occupies so far
func (r *Request) Consumed() int { return r.pos }

// Err returns the parse error, if any
func (r *Request) Err() error { return r.err }

// URIBytes returns the raw request target
func (r *Request) URIBytes() []byte { return r.uri.of(r.raw) }

// URI returns the raw request target as a string
func (r *Request) URI() string { return string(r.URIBytes()) }

// Path returns the request target without its query string
func (r *Request) Path() string {
	uri := r.URIBytes()
	if i := bytes.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	return string(uri)
}

// Proto returns the protocol version token, e.g. "HTTP/1.1"
func (r *Request) Proto() string { return string(r.proto.of(r.raw)) }

// HeaderCount returns the number of parsed headers
func (r *Request) HeaderCount() int { return len(r.headers) }

// HeaderAt returns the i-th header in arrival order
func (r *Request) HeaderAt(i int) (name, value []byte) {
	h := r.headers[i]
	return h.Name.of(r.raw), h.Value.of(r.raw)
}

// Header returns the first value of the named header (case-insensitive)
func (r *Request) Header(name string) ([]byte, bool) {
	for _, h := range r.headers {
		if bytes.EqualFold(h.Name.of(r.raw), []byte(name)) {
			return h.Value.of(r.raw), true
		}
	}
	return nil, false
}

// HasHeader reports whether the named header is present
func (r *Request) HasHeader(name string) bool {
	_, ok := r.Header(name)
	return ok
}

// ContentLength returns the declared body length, -1 when undeclared
func (r *Request) ContentLength() int {
	if !r.hasLength {
		return -1
	}
	return r.contentLength
}

// Body returns the request body
func (r *Request) Body() []byte { return r.body.of(r.raw) }

// BodyLength returns the body length
func (r *Request) BodyLength() int { return r.body.Len }

// KeepAlive reports whether the client asked to keep the connection open:
// the Connection header must carry the keep-alive token (case-insensitive).
func (r *Request) KeepAlive() bool {
	v, ok := r.Header("Connection")
	if !ok {
		return false
	}
	return httpguts.HeaderValuesContainsToken([]string{string(v)}, "keep-alive")
}

// Detach copies the consumed bytes so the request no longer aliases the
// connection buffer.
func (r *Request) Detach() {
	if r.raw == nil {
		return
	}
	owned := make([]byte, r.pos)
	copy(owned, r.raw[:r.pos])
	r.raw = owned
}
