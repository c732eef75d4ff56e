package http

import (
	"strconv"

	"golang.org/x/net/http/httpguts"
)

// serializeInitialSize is the starting capacity of a serialized response
const serializeInitialSize = 4096

// Response is an HTTP/1.1 response ready to be serialized
type Response struct {
	StatusCode  int
	Reason      string
	Proto       string
	ContentType string

	// OmitBody drops the body on the wire while keeping Content-Length,
	// as required for HEAD.
	OmitBody bool

	headers []string
	body    []byte
}

// NewResponse builds a response that owns a copy of body. Content-Type and
// Content-Length header lines are added. An empty reason uses StatusText.
func NewResponse(status int, reason string, body []byte, contentType string) *Response {
	if reason == "" {
		reason = StatusText(status)
	}
	r := &Response{
		StatusCode:  status,
		Reason:      reason,
		Proto:       "HTTP/1.1",
		ContentType: contentType,
		headers:     make([]string, 0, 4),
	}
	if len(body) > 0 {
		r.body = make([]byte, len(body))
		copy(r.body, body)
	}
	if contentType != "" {
		r.headers = append(r.headers, "Content-Type: "+contentType)
	}
	r.headers = append(r.headers, "Content-Length: "+strconv.Itoa(len(r.body)))
	return r
}

// ErrorResponse builds a small HTML error page, e.g. "<h1>404 Not Found</h1>"
func ErrorResponse(status int) *Response {
	reason := StatusText(status)
	body := make([]byte, 0, 32+len(reason))
	body = append(body, "<h1>"...)
	body = appendInt(body, status)
	body = append(body, ' ')
	body = append(body, reason...)
	body = append(body, "</h1>"...)
	return NewResponse(status, reason, body, "text/html")
}

// AddHeader appends a "key: value" header line
func (r *Response) AddHeader(key, value string) error {
	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return ErrInvalidHeader
	}
	r.headers = append(r.headers, key+": "+value)
	return nil
}

// Headers returns the header lines in insertion order
func (r *Response) Headers() []string { return r.headers }

// Body returns the owned body
func (r *Response) Body() []byte { return r.body }

// Size returns the exact serialized length
func (r *Response) Size() int {
	n := len(r.Proto) + 1 + len(strconv.Itoa(r.StatusCode)) + 1 + len(r.Reason) + 2
	for _, h := range r.headers {
		n += len(h) + 2
	}
	n += 2
	if !r.OmitBody {
		n += len(r.body)
	}
	return n
}

// AppendTo appends the wire form to dst
func (r *Response) AppendTo(dst []byte) []byte {
	dst = append(dst, r.Proto...)
	dst = append(dst, ' ')
	dst = appendInt(dst, r.StatusCode)
	dst = append(dst, ' ')
	dst = append(dst, r.Reason...)
	dst = append(dst, "\r\n"...)
	for _, h := range r.headers {
		dst = append(dst, h...)
		dst = append(dst, "\r\n"...)
	}
	dst = append(dst, "\r\n"...)
	if !r.OmitBody {
		dst = append(dst, r.body...)
	}
	return dst
}

// Serialize returns the wire form in a new buffer
func (r *Response) Serialize() []byte {
	size := serializeInitialSize
	if n := r.Size(); n > size {
		size = n
	}
	return r.AppendTo(make([]byte, 0, size))
}
