package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jamesprial/admanager-gateway/internal/ratelimit"
	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// NewRateLimitMiddleware rejects callers that exceed limiter's budget with a
// 429 envelope. Callers are keyed by the remote IP address. onLimited, if not
// nil, is called once per rejected request.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, responder transportcore.ErrorResponder, onLimited func()) transportcore.Middleware {
	if limiter == nil {
		panic("limiter cannot be nil")
	}
	if responder == nil {
		panic("responder cannot be nil")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Allow(r.Context(), clientKey(r))

			h := w.Header()
			h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
			h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				if onLimited != nil {
					onLimited()
				}
				responder.TooManyRequests(w, time.Until(d.ResetAt))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}
