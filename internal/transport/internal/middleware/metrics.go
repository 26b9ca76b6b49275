package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// NewMetricsMiddleware reports the status of every HTTP response, including
// those that never reach dispatch.
func NewMetricsMiddleware(observe func(method string, status int)) transportcore.Middleware {
	if observe == nil {
		panic("observer cannot be nil")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			observe(r.Method, statusOf(ww))
		})
	}
}
