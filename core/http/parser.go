package http

import (
	"bytes"

	"golang.org/x/net/http/httpguts"
)

// Parse parses the request held at the start of buf.
//
// Parse is resumable: when it returns ErrIncomplete the request keeps its
// progress, and the caller calls Parse again with the same buffer after more
// bytes were appended to it. On success it returns the number of bytes the
// message occupies; anything after that belongs to the next pipelined request.
// buf is never modified.
func (r *Request) Parse(buf []byte) (int, error) {
	switch r.State {
	case StateComplete:
		return r.pos, nil
	case StateError:
		return 0, r.err
	}
	r.raw = buf

	for {
		switch r.State {
		case StateRequestLine:
			start := r.pos
			end, next, ok := nextLine(buf, start)
			if !ok {
				return 0, ErrIncomplete
			}
			r.pos = next
			if end == start {
				// empty lines before the request line are ignored
				continue
			}
			if err := r.parseRequestLine(buf, start, end); err != nil {
				return r.fail(err)
			}
			r.State = StateHeaders

		case StateHeaders:
			start := r.pos
			end, next, ok := nextLine(buf, start)
			if !ok {
				return 0, ErrIncomplete
			}
			r.pos = next
			if end == start {
				r.State = StateBody
				continue
			}
			if r.headersDone {
				continue
			}
			if err := r.parseHeader(buf, start, end); err != nil {
				return r.fail(err)
			}

		case StateBody:
			n := r.contentLength
			if len(buf)-r.pos < n {
				return 0, ErrIncomplete
			}
			r.body = Span{Off: r.pos, Len: n}
			r.pos += n
			r.State = StateComplete

		case StateComplete:
			return r.pos, nil
		}
	}
}

func (r *Request) fail(err error) (int, error) {
	r.State = StateError
	r.err = err
	return 0, err
}

// nextLine finds the line starting at off. end excludes the line terminator
// (CRLF or a bare LF), next is the offset of the following line.
func nextLine(buf []byte, off int) (end, next int, ok bool) {
	i := bytes.IndexByte(buf[off:], '\n')
	if i < 0 {
		return 0, 0, false
	}
	end = off + i
	next = end + 1
	if end > off && buf[end-1] == '\r' {
		end--
	}
	return end, next, true
}

func (r *Request) parseRequestLine(buf []byte, start, end int) error {
	line := buf[start:end]

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrInvalidRequestLine
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 || sp2 == len(rest)-1 {
		return ErrInvalidRequestLine
	}
	proto := rest[sp2+1:]
	if bytes.IndexByte(proto, ' ') >= 0 {
		return ErrInvalidRequestLine
	}

	m := ParseMethod(line[:sp1])
	if m == MethodUnknown {
		return ErrInvalidMethod
	}
	if rest[0] != '/' {
		return ErrInvalidPath
	}

	r.Method = m
	r.uri = Span{Off: start + sp1 + 1, Len: sp2}
	r.proto = Span{Off: start + sp1 + 1 + sp2 + 1, Len: len(proto)}
	return nil
}

func (r *Request) parseHeader(buf []byte, start, end int) error {
	line := buf[start:end]

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		// Lenient: a line without a colon ends header collection. The
		// message still ends at the blank line.
		r.headersDone = true
		return nil
	}
	if colon == 0 || !httpguts.ValidHeaderFieldName(string(line[:colon])) {
		return ErrInvalidHeaders
	}

	limit := r.MaxHeaders
	if limit <= 0 {
		limit = DefaultMaxHeaders
	}
	if len(r.headers) >= limit {
		return ErrTooManyHeaders
	}

	vs := colon + 1
	for vs < len(line) && (line[vs] == ' ' || line[vs] == '\t') {
		vs++
	}
	ve := len(line)
	for ve > vs && (line[ve-1] == ' ' || line[ve-1] == '\t') {
		ve--
	}

	h := Header{
		Name:  Span{Off: start, Len: colon},
		Value: Span{Off: start + vs, Len: ve - vs},
	}
	r.headers = append(r.headers, h)

	if bytes.EqualFold(line[:colon], []byte("Content-Length")) {
		n, ok := parseContentLength(line[vs:ve])
		if !ok {
			return ErrInvalidBody
		}
		if r.hasLength && r.contentLength != n {
			return ErrInvalidBody
		}
		r.contentLength = n
		r.hasLength = true
	}
	return nil
}

// maxContentLength keeps the decimal parse from overflowing
const maxContentLength = 1 << 40

func parseContentLength(v []byte) (int, bool) {
	if len(v) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > maxContentLength {
			return 0, false
		}
	}
	return n, true
}
