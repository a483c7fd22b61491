// Package router maps an inbound request path to a backend ServiceRoute.
//
// Adapted from the teacher's host+path ingress matcher (pkg/ingress/router.go):
// this gateway dispatches on a single leading path segment rather than
// host + longest-prefix path, per spec.md §4.1.
package router

import (
	"net/http"
	"strings"
)

// ServiceRoute is an immutable mapping entry known at startup (spec.md §3).
//
// Protected routes are not protected on every method: spec.md §6 resolves
// "library: some write paths protected" as "non-idempotent methods require
// a token, GET/HEAD/OPTIONS don't" (SPEC_FULL.md §C.1). RequiresAuth is the
// single place that rule is evaluated.
type ServiceRoute struct {
	Name      string
	BaseURL   string
	Protected bool
}

// idempotentMethods are exempt from a Protected route's admission check.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// RequiresAuth reports whether a request with the given method must carry
// a valid admin token to reach this route.
func (r ServiceRoute) RequiresAuth(method string) bool {
	return r.Protected && !idempotentMethods[method]
}

// Router resolves "/<service>/<rest>" against a fixed, immutable table of
// ServiceRoutes. The table never changes after construction; there is no
// UpdateRoutes method because the gateway's routes come from configuration
// fixed at process start, not a reconciled store.
type Router struct {
	byName map[string]ServiceRoute
}

// New builds a Router from the given routes. Routes is copied; later
// mutation of the slice passed in does not affect the Router.
func New(routes []ServiceRoute) *Router {
	byName := make(map[string]ServiceRoute, len(routes))
	for _, r := range routes {
		byName[r.Name] = r
	}
	return &Router{byName: byName}
}

// Route splits the request path into its leading segment and the
// remainder, and looks up the segment in the route table. ok is false if
// the first segment doesn't name a configured service.
//
// "/meds" and "/meds/" both resolve to the meds route with an empty
// pathTail; "/meds/x" resolves with pathTail "/x".
func (r *Router) Route(path string) (route ServiceRoute, pathTail string, ok bool) {
	name, tail := splitFirstSegment(path)
	route, ok = r.byName[name]
	return route, tail, ok
}

// FirstSegment returns the leading path segment, the same way Route does,
// so callers can report it in an error body even when it names no
// configured service.
func FirstSegment(path string) string {
	name, _ := splitFirstSegment(path)
	return name
}

// splitFirstSegment returns the first path segment (service name, matched
// case-sensitively) and everything after it, keeping the leading slash.
func splitFirstSegment(path string) (segment, rest string) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", ""
	}
	idx := strings.IndexByte(path, '/')
	if idx == -1 {
		return path, ""
	}
	rest = path[idx:]
	if rest == "/" {
		rest = ""
	}
	return path[:idx], rest
}
