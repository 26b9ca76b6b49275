// Package errors provides the error taxonomy shared by every transport of the
// gateway. Kinds are sentinel errors; DomainError attaches the subsystem and
// operation that produced them.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds. Every failure that reaches a client is classified as
// exactly one of these.
var (
	// ErrDecode indicates the incoming request could not be decoded into an envelope.
	ErrDecode = errors.New("decode error")

	// ErrRouteNotFound indicates no route pattern matched the request path.
	ErrRouteNotFound = errors.New("route not found")

	// ErrMethodNotAllowed indicates the path matched but the method did not.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrAuth indicates token acquisition failed or upstream rejected the credential.
	ErrAuth = errors.New("authentication failed")

	// ErrValidationFault indicates the upstream rejected the request as invalid.
	ErrValidationFault = errors.New("validation fault")

	// ErrPermissionDenied indicates the upstream refused the operation for the caller.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the requested upstream resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable indicates transient upstream failures outlasted the retry budget.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited indicates the caller exceeded the request budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrInternal indicates an unexpected failure inside the gateway.
	ErrInternal = errors.New("internal error")
)

// Stable machine-readable codes carried in error envelopes.
const (
	CodeDecode              = "DECODE_ERROR"
	CodeRouteNotFound       = "ROUTE_NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeAuth                = "AUTH_ERROR"
	CodeValidationFault     = "VALIDATION_FAULT"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeNotFound            = "NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
)

type kindInfo struct {
	status int
	code   string
}

var kinds = map[error]kindInfo{
	ErrDecode:              {http.StatusBadRequest, CodeDecode},
	ErrRouteNotFound:       {http.StatusNotFound, CodeRouteNotFound},
	ErrMethodNotAllowed:    {http.StatusMethodNotAllowed, CodeMethodNotAllowed},
	ErrAuth:                {http.StatusUnauthorized, CodeAuth},
	ErrValidationFault:     {http.StatusUnprocessableEntity, CodeValidationFault},
	ErrPermissionDenied:    {http.StatusForbidden, CodePermissionDenied},
	ErrNotFound:            {http.StatusNotFound, CodeNotFound},
	ErrUpstreamUnavailable: {http.StatusBadGateway, CodeUpstreamUnavailable},
	ErrRateLimited:         {http.StatusTooManyRequests, CodeRateLimited},
	ErrInternal:            {http.StatusInternalServerError, CodeInternal},
}

// DomainError represents a domain-specific error with context.
// It wraps an underlying error and provides additional metadata
// about the domain, operation, and contextual information.
type DomainError struct {
	// Domain identifies the subsystem where the error occurred (e.g., "auth", "soap").
	Domain string

	// Op identifies the operation that failed (e.g., "GetValidToken", "Invoke").
	Op string

	// Kind is the sentinel error that categorizes this error.
	Kind error

	// Err is the underlying wrapped error, if any.
	Err error

	// Context provides additional key-value pairs for debugging.
	Context map[string]interface{}
}

// New creates a new DomainError.
func New(domain, op string, kind, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Err:     err,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %v: %v", e.Domain, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Domain, e.Op, e.Kind)
}

// Unwrap returns the underlying wrapped error.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error.
// It checks both the Kind field and the wrapped error chain.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// WithContext adds a key-value pair to the error's context and returns the error.
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// KindOf returns the taxonomy kind of err. Errors that carry no known kind
// are internal.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	// Order matters: a DomainError wrapping a more specific kind is
	// classified by the outermost kind that matches first in this list.
	for _, k := range []error{
		ErrDecode, ErrRouteNotFound, ErrMethodNotAllowed, ErrAuth,
		ErrValidationFault, ErrPermissionDenied, ErrNotFound,
		ErrUpstreamUnavailable, ErrRateLimited, ErrInternal,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// StatusFor returns the envelope status for a taxonomy kind.
func StatusFor(kind error) int {
	if info, ok := kinds[kind]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// CodeFor returns the machine-readable code for a taxonomy kind.
func CodeFor(kind error) string {
	if info, ok := kinds[kind]; ok {
		return info.code
	}
	return CodeInternal
}
