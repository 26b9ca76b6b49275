package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// HeaderRequestID carries the request identifier in both directions.
const HeaderRequestID = "X-Request-Id"

// Client-supplied ids are kept only if they are short and printable.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewRequestIDMiddleware assigns every request an identifier, reusing a valid
// X-Request-Id from the client, stores it in the context, and echoes it back.
func NewRequestIDMiddleware() transportcore.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if !validRequestID.MatchString(id) {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(transportcore.ContextWithRequestID(r.Context(), id)))
		})
	}
}
