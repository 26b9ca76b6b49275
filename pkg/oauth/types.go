// Package oauth provides shared OAuth 2.0 and wire constants for the gateway
// and its clients.
package oauth

// ScopeAdManager is the scope granting access to the Ad Manager API.
const ScopeAdManager = "https://www.googleapis.com/auth/dfp"

// Token type constants as defined in RFC 6750.
const (
	// TokenTypeBearer is the OAuth Bearer token type.
	TokenTypeBearer = "Bearer"
)

// Grant types as defined in RFC 6749.
const (
	// GrantTypeClientCredentials is the only grant the gateway uses.
	GrantTypeClientCredentials = "client_credentials"
)

// HTTP header names.
const (
	// HeaderAuthorization is the Authorization HTTP header name.
	HeaderAuthorization = "Authorization"

	// HeaderWWWAuthenticate is the WWW-Authenticate HTTP header name.
	HeaderWWWAuthenticate = "WWW-Authenticate"

	// HeaderContentType is the Content-Type HTTP header name.
	HeaderContentType = "Content-Type"

	// HeaderSOAPAction is required by SOAP 1.1 endpoints.
	HeaderSOAPAction = "SOAPAction"
)

// Content type constants.
const (
	// ContentTypeJSON is the application/json content type.
	ContentTypeJSON = "application/json"

	// ContentTypeFormURLEncoded is the application/x-www-form-urlencoded content type.
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"

	// ContentTypeSOAP is the SOAP 1.1 request content type.
	ContentTypeSOAP = "text/xml; charset=utf-8"
)

// BearerAuthorization formats an Authorization header value for token.
func BearerAuthorization(token string) string {
	return TokenTypeBearer + " " + token
}
