package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jamesprial/admanager-gateway/internal/envelope"
	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// NewRouter creates a chi router whose own 404 and 405 answers are envelopes,
// so clients see one error format whether or not a request reached dispatch.
func NewRouter(responder transportcore.ErrorResponder) *chi.Mux {
	if responder == nil {
		panic("responder cannot be nil")
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		responder.Write(w, envelope.Error(http.StatusNotFound, ierrors.CodeRouteNotFound, "no route matches the request path"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		responder.Write(w, envelope.Error(http.StatusMethodNotAllowed, ierrors.CodeMethodNotAllowed, "method not allowed for this path"))
	})
	return r
}
