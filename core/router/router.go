// Package router dispatches parsed requests by URI prefix to the static file
// responder or the reverse proxy responder.
package router

import (
	"strings"

	"github.com/searchktools/fast-edge/core/http"
)

// Route names reported to the monitor
const (
	RouteStatic   = "static"
	RouteProxy    = "proxy"
	RouteNotFound = "not_found"
	// RouteRejected covers requests answered before routing (400, 413)
	RouteRejected = "rejected"
)

// Responder turns a request into a response. It never returns nil.
type Responder interface {
	Respond(req *http.Request) *http.Response
}

// ResponderFunc adapts a function to Responder
type ResponderFunc func(req *http.Request) *http.Response

// Respond calls f(req)
func (f ResponderFunc) Respond(req *http.Request) *http.Response { return f(req) }

// Match is the outcome of a route lookup
type Match struct {
	Name      string
	Responder Responder
	// Blocking marks responders that do network I/O and should run off
	// the event loop when a worker pool is available.
	Blocking bool
}

type route struct {
	prefix string
	match  Match
}

// Router is an ordered prefix table. The first matching prefix wins.
type Router struct {
	routes   []route
	notFound Match
}

// New creates an empty router that answers 404 to everything
func New() *Router {
	return &Router{
		notFound: Match{
			Name: RouteNotFound,
			Responder: ResponderFunc(func(*http.Request) *http.Response {
				return http.ErrorResponse(http.StatusNotFound)
			}),
		},
	}
}

// Handle registers a non-blocking responder for prefix
func (r *Router) Handle(prefix, name string, res Responder) {
	r.routes = append(r.routes, route{prefix: prefix, match: Match{Name: name, Responder: res}})
}

// HandleBlocking registers a responder that may block on the network
func (r *Router) HandleBlocking(prefix, name string, res Responder) {
	r.routes = append(r.routes, route{prefix: prefix, match: Match{Name: name, Responder: res, Blocking: true}})
}

// Lookup finds the route for a request target. A prefix matches when the
// target equals it or continues with '/' or '?'.
func (r *Router) Lookup(uri string) Match {
	if uri == "" || uri[0] != '/' {
		return r.notFound
	}
	for _, rt := range r.routes {
		if hasPathPrefix(uri, rt.prefix) {
			return rt.match
		}
	}
	return r.notFound
}

// Route looks the request up and runs the responder inline
func (r *Router) Route(req *http.Request) *http.Response {
	return r.Lookup(req.URI()).Responder.Respond(req)
}

func hasPathPrefix(uri, prefix string) bool {
	if !strings.HasPrefix(uri, prefix) {
		return false
	}
	if len(uri) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	c := uri[len(prefix)]
	return c == '/' || c == '?'
}

// stripPrefix removes prefix and the query string from uri
func stripPrefix(uri, prefix string) (path, query string) {
	path = strings.TrimPrefix(uri, prefix)
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i:]
	}
	return path, query
}
