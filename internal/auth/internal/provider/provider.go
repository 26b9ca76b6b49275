// Package provider exchanges client credentials for access tokens at an
// OAuth2 token endpoint.
package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
)

// Result is a freshly issued access token.
type Result struct {
	AccessToken string
	TokenType   string
	Scope       string
	ExpiresAt   time.Time
	IssuedAt    time.Time
}

// ClientCredentials performs the client-credentials grant.
type ClientCredentials struct {
	tokenURL   string
	httpClient *http.Client
	defaultTTL time.Duration
	now        func() time.Time
}

// NewClientCredentials creates a provider for the given token endpoint.
// Each exchange is bounded by timeout. defaultTTL applies when neither the
// response nor the token itself carries an expiry.
func NewClientCredentials(tokenURL string, timeout, defaultTTL time.Duration) *ClientCredentials {
	return &ClientCredentials{
		tokenURL: tokenURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Exchange requests a token for clientID and scope. Failures are returned as
// *ierrors.OAuthError carrying the endpoint's error code when it sent one.
func (c *ClientCredentials) Exchange(ctx context.Context, clientID, clientSecret, scope string) (*Result, error) {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     c.tokenURL,
		Scopes:       strings.Fields(scope),
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	issuedAt := c.now()

	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, toOAuthError(err, scope)
	}
	if tok.AccessToken == "" {
		return nil, ierrors.NewOAuthError(ierrors.ErrorCodeServerError, "token endpoint returned no access_token").WithScope(scope)
	}

	res := &Result{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		Scope:       scope,
		ExpiresAt:   tok.Expiry,
		IssuedAt:    issuedAt,
	}
	if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
		res.Scope = granted
	}

	if res.ExpiresAt.IsZero() {
		if claims, ok := parseClaims(tok.AccessToken); ok {
			res.ExpiresAt = claims.expiresAt
			if claims.scope != "" && res.Scope == scope {
				res.Scope = claims.scope
			}
		}
	}
	if res.ExpiresAt.IsZero() {
		res.ExpiresAt = issuedAt.Add(c.defaultTTL)
	}

	return res, nil
}

func toOAuthError(err error, scope string) *ierrors.OAuthError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		code := re.ErrorCode
		if code == "" {
			code = ierrors.ErrorCodeServerError
			if status == http.StatusUnauthorized {
				code = ierrors.ErrorCodeInvalidClient
			}
		}
		desc := re.ErrorDescription
		if desc == "" && status != 0 {
			desc = "token endpoint returned " + http.StatusText(status)
		}
		oe := ierrors.NewOAuthError(code, desc).WithScope(scope).WithStatus(status)
		oe.ErrorURI = re.ErrorURI
		return oe
	}

	return ierrors.NewOAuthError(ierrors.ErrorCodeServerError, "token endpoint unreachable").WithScope(scope)
}
