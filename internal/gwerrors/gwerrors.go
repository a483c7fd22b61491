// Package gwerrors defines the gateway's error taxonomy and the mapping
// from an error to the JSON response a caller sees.
//
// Every error the gateway returns to a caller is one of ClientError,
// UpstreamError, GatewayInternalError, or Cancelled. Handlers convert Go
// errors into one of these before writing a response; nothing below the
// HTTP layer writes directly to a ResponseWriter.
package gwerrors

import (
	"encoding/json"
	"net/http"
)

// Kind classifies an error for status-code and logging purposes.
type Kind string

const (
	KindClient   Kind = "client"
	KindUpstream Kind = "upstream"
	KindInternal Kind = "internal"
	KindCanceled Kind = "canceled"
)

// Error is a gateway error carrying the HTTP status and JSON slug a caller
// should see, plus optional structured context merged into the response
// body (route-specific fields such as "service" or "attempts").
type Error struct {
	Kind    Kind
	Status  int
	Slug    string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Slug + ": " + e.cause.Error()
	}
	return e.Slug
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches an underlying cause without changing the slug or status.
func (e *Error) Wrap(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// With returns a copy of e with an additional context field, for chaining:
// gwerrors.RouteNotFound.With("service", name).
func (e *Error) With(key string, value any) *Error {
	clone := *e
	clone.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		clone.Context[k] = v
	}
	clone.Context[key] = value
	return &clone
}

// Common errors named by spec.md. Handlers clone these via With() to
// attach request-specific context before writing the response.
var (
	RouteNotFound = &Error{Kind: KindClient, Status: http.StatusNotFound, Slug: "unknown service"}
	Forbidden     = &Error{Kind: KindClient, Status: http.StatusForbidden, Slug: "forbidden"}
	NotFound      = &Error{Kind: KindClient, Status: http.StatusNotFound, Slug: "not found"}
	BadRequest    = &Error{Kind: KindClient, Status: http.StatusBadRequest, Slug: "bad request"}
	MethodNotAllowed = &Error{Kind: KindClient, Status: http.StatusMethodNotAllowed, Slug: "method not allowed"}

	UpstreamUnavailable = &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Slug: "upstream unavailable"}
	DeadlineExceeded     = &Error{Kind: KindUpstream, Status: http.StatusGatewayTimeout, Slug: "deadline exceeded"}
	BackendOverloaded    = &Error{Kind: KindClient, Status: http.StatusServiceUnavailable, Slug: "backend overloaded"}
	TooManyRequests      = &Error{Kind: KindClient, Status: http.StatusTooManyRequests, Slug: "too many requests"}

	Internal = &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Slug: "internal error"}
)

// WriteJSON writes the fixed-shape error body spec.md §7 mandates:
// {"error": string, "detail"?: string, ...context}. detail is never set
// from err directly for internal errors, to avoid leaking stack traces.
func WriteJSON(w http.ResponseWriter, e *Error) {
	body := map[string]any{"error": e.Slug}
	for k, v := range e.Context {
		body[k] = v
	}
	if e.Kind != KindInternal && e.cause != nil {
		body["detail"] = e.cause.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// As extracts a *Error from err, falling back to a generic internal error
// so callers always have something writable.
func As(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return Internal.Wrap(err)
}
