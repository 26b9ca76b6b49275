// Package mocks provides mock implementations for testing the transport layer.
package mocks

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jamesprial/admanager-gateway/internal/envelope"
	"github.com/jamesprial/admanager-gateway/internal/ratelimit"
)

// Dispatcher is a mock transportcore.Dispatcher that records every request.
type Dispatcher struct {
	DispatchFunc func(ctx context.Context, req *envelope.Request) envelope.Response

	mu       sync.Mutex
	requests []*envelope.Request
}

// Dispatch records req and calls DispatchFunc, or echoes the request when it is nil.
func (m *Dispatcher) Dispatch(ctx context.Context, req *envelope.Request) envelope.Response {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, req)
	}
	return envelope.JSON(http.StatusOK, map[string]any{
		"method": req.Method,
		"path":   req.Path,
		"query":  req.Query,
		"body":   req.Body,
	})
}

// Requests returns the recorded requests.
func (m *Dispatcher) Requests() []*envelope.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*envelope.Request(nil), m.requests...)
}

// ErrorResponder is a mock transportcore.ErrorResponder that records its calls
// and writes plain status codes.
type ErrorResponder struct {
	mu sync.Mutex

	Written           []envelope.Response
	BadRequestErrs    []error
	InternalErrs      []error
	TooManyRequestsAt []time.Duration
}

// Write records resp and writes its status.
func (m *ErrorResponder) Write(w http.ResponseWriter, resp envelope.Response) {
	m.mu.Lock()
	m.Written = append(m.Written, resp)
	m.mu.Unlock()
	w.WriteHeader(resp.Status)
}

// BadRequest records err and writes a 400.
func (m *ErrorResponder) BadRequest(w http.ResponseWriter, err error) {
	m.mu.Lock()
	m.BadRequestErrs = append(m.BadRequestErrs, err)
	m.mu.Unlock()
	w.WriteHeader(http.StatusBadRequest)
}

// InternalError records err and writes a 500.
func (m *ErrorResponder) InternalError(w http.ResponseWriter, err error) {
	m.mu.Lock()
	m.InternalErrs = append(m.InternalErrs, err)
	m.mu.Unlock()
	w.WriteHeader(http.StatusInternalServerError)
}

// TooManyRequests records retryAfter and writes a 429.
func (m *ErrorResponder) TooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	m.mu.Lock()
	m.TooManyRequestsAt = append(m.TooManyRequestsAt, retryAfter)
	m.mu.Unlock()
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
}

// Calls returns how many times InternalError, BadRequest, and TooManyRequests were called.
func (m *ErrorResponder) Calls() (internal, badRequest, tooMany int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InternalErrs), len(m.BadRequestErrs), len(m.TooManyRequestsAt)
}

// Limiter is a mock ratelimit.Limiter.
type Limiter struct {
	AllowFunc func(ctx context.Context, key string) ratelimit.Decision

	mu   sync.Mutex
	keys []string
}

// Allow records key and calls AllowFunc, or allows everything when it is nil.
func (m *Limiter) Allow(ctx context.Context, key string) ratelimit.Decision {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()

	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key)
	}
	return ratelimit.Decision{Allowed: true, Limit: 100, Remaining: 99, ResetAt: time.Now().Add(time.Minute)}
}

// Keys returns the recorded keys.
func (m *Limiter) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}
