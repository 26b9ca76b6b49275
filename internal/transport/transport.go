// Package transport exposes the gateway's request envelopes over HTTP.
package transport

import (
	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// Re-export types from transportcore so callers outside the transport tree
// do not import it directly.

// Middleware is a function that wraps an http.Handler.
type Middleware = transportcore.Middleware

// Dispatcher turns one request envelope into one response envelope.
// *router.Router satisfies it.
type Dispatcher = transportcore.Dispatcher

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc = transportcore.DispatcherFunc

// Server manages the HTTP server lifecycle.
type Server = transportcore.Server

// Router handles HTTP request routing and middleware composition.
type Router = transportcore.Router

// ErrorResponder writes envelopes to HTTP clients.
type ErrorResponder = transportcore.ErrorResponder
