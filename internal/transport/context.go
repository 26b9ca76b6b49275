package transport

import (
	"context"

	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// RequestIDContextKey is the context key for the per-request identifier.
const RequestIDContextKey = transportcore.RequestIDContextKey

// RequestIDFromContext extracts the request identifier assigned by the
// request id middleware. Returns "" and false if none is present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return transportcore.RequestIDFromContext(ctx)
}

// ContextWithRequestID returns a copy of ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return transportcore.ContextWithRequestID(ctx, id)
}
