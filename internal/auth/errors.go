package auth

import "github.com/jamesprial/admanager-gateway/internal/auth/autherr"

// Sentinel errors for token acquisition.
var (
	// ErrMissingCredentials indicates no client id or secret was supplied.
	ErrMissingCredentials = autherr.ErrMissingCredentials

	// ErrExchangeFailed indicates the identity provider refused or failed the exchange.
	ErrExchangeFailed = autherr.ErrExchangeFailed
)
