// Package autherr builds the domain errors returned by the token manager.
package autherr

import (
	"errors"

	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
)

const domainAuth = "auth"

var (
	ErrMissingCredentials = errors.New("missing client credentials")
	ErrExchangeFailed     = errors.New("token exchange failed")
)

// NewMissingCredentialsError creates an error for an absent client id or secret.
func NewMissingCredentialsError(op string) *ierrors.DomainError {
	return ierrors.New(domainAuth, op, ierrors.ErrAuth, ErrMissingCredentials).
		WithContext("oauth_error", ierrors.ErrorCodeInvalidRequest)
}

// NewExchangeError wraps a failed exchange. The OAuth error code, when the
// provider returned one, is kept in the context under "oauth_error".
func NewExchangeError(op, clientID string, err error) *ierrors.DomainError {
	code := ierrors.ErrorCodeServerError
	var oe *ierrors.OAuthError
	if errors.As(err, &oe) {
		code = oe.ErrorCode
	}
	return ierrors.New(domainAuth, op, ierrors.ErrAuth, errors.Join(ErrExchangeFailed, err)).
		WithContext("oauth_error", code).
		WithContext("client_id", clientID)
}

// OAuthCode returns the OAuth error code recorded on err, or "" if none.
func OAuthCode(err error) string {
	var de *ierrors.DomainError
	if errors.As(err, &de) {
		if code, ok := de.Context["oauth_error"].(string); ok {
			return code
		}
	}
	return ""
}
