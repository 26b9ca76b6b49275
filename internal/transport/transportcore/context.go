package transportcore

import (
	"context"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDContextKey is the context key for the per-request identifier.
	RequestIDContextKey contextKey = "request_id"
)

// RequestIDFromContext extracts the request identifier from ctx.
// Returns "" and false if none is present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(RequestIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithRequestID returns a copy of ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, RequestIDContextKey, id)
}
