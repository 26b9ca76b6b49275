package errors

import (
	"fmt"
	"strings"

	pkgoauth "github.com/jamesprial/admanager-gateway/pkg/oauth"
)

// OAuth error codes returned by token endpoints (RFC 6749 Section 5.2) and
// used in Bearer challenges (RFC 6750 Section 3.1).
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidToken         = "invalid_token"

	// ErrorCodeServerError is used when the identity provider could not be
	// reached or answered with something that is not an OAuth error document.
	ErrorCodeServerError = "server_error"
)

// OAuthError describes a failed exchange with the identity provider, or a
// credential the upstream refused. It also renders the Bearer challenge that
// accompanies 401 envelopes.
type OAuthError struct {
	// ErrorCode is the OAuth error code (e.g., "invalid_client").
	ErrorCode string

	// ErrorDescription is a human-readable description of the error.
	ErrorDescription string

	// ErrorURI is an optional URI for additional error information.
	ErrorURI string

	// StatusCode is the HTTP status the identity provider answered with, if any.
	StatusCode int

	// Scope is the scope that was requested.
	Scope string

	// Realm is the protection space for the WWW-Authenticate header.
	Realm string
}

// Error implements the error interface.
func (e *OAuthError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("%s: %s", e.ErrorCode, e.ErrorDescription)
	}
	return e.ErrorCode
}

// NewOAuthError creates a new OAuthError with the given error code and description.
func NewOAuthError(errorCode, errorDescription string) *OAuthError {
	return &OAuthError{
		ErrorCode:        errorCode,
		ErrorDescription: errorDescription,
	}
}

// WithScope sets the scope field and returns the error for chaining.
func (e *OAuthError) WithScope(scope string) *OAuthError {
	e.Scope = scope
	return e
}

// WithStatus records the identity provider's HTTP status and returns the error for chaining.
func (e *OAuthError) WithStatus(status int) *OAuthError {
	e.StatusCode = status
	return e
}

// WWWAuthenticate formats the OAuthError as a WWW-Authenticate header value
// per RFC 6750.
//
// Example output:
//
//	Bearer realm="admanager-gateway", error="invalid_client", error_description="client authentication failed"
func (e *OAuthError) WWWAuthenticate() string {
	var parts []string

	if e.Realm != "" {
		parts = append(parts, fmt.Sprintf(`realm="%s"`, escapeQuotes(e.Realm)))
	}
	if e.ErrorCode != "" {
		parts = append(parts, fmt.Sprintf(`error="%s"`, escapeQuotes(e.ErrorCode)))
	}
	if e.ErrorDescription != "" {
		parts = append(parts, fmt.Sprintf(`error_description="%s"`, escapeQuotes(e.ErrorDescription)))
	}
	if e.ErrorURI != "" {
		parts = append(parts, fmt.Sprintf(`error_uri="%s"`, escapeQuotes(e.ErrorURI)))
	}
	if e.Scope != "" {
		parts = append(parts, fmt.Sprintf(`scope="%s"`, escapeQuotes(e.Scope)))
	}

	if len(parts) == 0 {
		return pkgoauth.TokenTypeBearer
	}
	return pkgoauth.BearerAuthorization(strings.Join(parts, ", "))
}

// escapeQuotes escapes double quotes in strings for use in header values.
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
