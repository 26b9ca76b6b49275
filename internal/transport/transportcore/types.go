// Package transportcore provides core types, interfaces, and primitives for the transport layer.
// This package exists to break import cycles between the transport package and its internal subpackages.
package transportcore

import (
	"context"
	"net/http"
	"time"

	"github.com/jamesprial/admanager-gateway/internal/envelope"
)

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Dispatcher turns one request envelope into exactly one response envelope.
// It never returns an error: every failure is already an error envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *envelope.Request) envelope.Response
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req *envelope.Request) envelope.Response

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, req *envelope.Request) envelope.Response {
	return f(ctx, req)
}

// Server manages the HTTP server lifecycle.
// Implementations must support graceful shutdown and provide
// access to the bound address after startup.
type Server interface {
	// Start begins serving HTTP requests on the configured address.
	// This is a blocking call that returns when the server stops
	// or encounters an error during startup.
	Start() error

	// Shutdown gracefully shuts down the server without interrupting
	// active connections.
	Shutdown(ctx context.Context) error

	// Addr returns the address the server is listening on.
	Addr() string
}

// Router handles HTTP request routing and middleware composition.
// *chi.Mux satisfies it.
type Router interface {
	http.Handler

	// Handle registers a handler for every method on pattern.
	Handle(pattern string, handler http.Handler)

	// Method registers a handler for one method on pattern.
	Method(method, pattern string, handler http.Handler)

	// Use appends middleware to the stack. It must be called before any route is registered.
	Use(middlewares ...func(http.Handler) http.Handler)
}

// ErrorResponder writes envelopes, and the error envelopes produced outside
// the router, to HTTP clients.
type ErrorResponder interface {
	// Write sends resp as the HTTP status, headers, and encoded envelope body.
	Write(w http.ResponseWriter, resp envelope.Response)

	// BadRequest sends a 400 DECODE_ERROR envelope describing err.
	BadRequest(w http.ResponseWriter, err error)

	// InternalError sends a 500 INTERNAL_ERROR envelope with an opaque reference.
	InternalError(w http.ResponseWriter, err error)

	// TooManyRequests sends a 429 RATE_LIMITED envelope with Retry-After.
	TooManyRequests(w http.ResponseWriter, retryAfter time.Duration)
}
