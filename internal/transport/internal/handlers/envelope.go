// Package handlers provides the HTTP handlers that feed requests to the dispatcher.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jamesprial/admanager-gateway/internal/envelope"
	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 4 << 20

// envelopeHandler converts HTTP requests into request envelopes.
type envelopeHandler struct {
	dispatcher transportcore.Dispatcher
	responder  transportcore.ErrorResponder
	logger     *slog.Logger
	maxBody    int64
	raw        bool
}

// NewEnvelopeHandler creates a handler that builds an envelope from the HTTP
// method, path, query, and body, dispatches it, and writes the result.
// If logger is nil, it uses the default slog logger.
func NewEnvelopeHandler(d transportcore.Dispatcher, responder transportcore.ErrorResponder, maxBody int64, logger *slog.Logger) http.Handler {
	return newEnvelopeHandler(d, responder, maxBody, logger, false)
}

// NewRawEnvelopeHandler creates a handler whose HTTP body is a complete
// request envelope document, as used by the line transport.
func NewRawEnvelopeHandler(d transportcore.Dispatcher, responder transportcore.ErrorResponder, maxBody int64, logger *slog.Logger) http.Handler {
	return newEnvelopeHandler(d, responder, maxBody, logger, true)
}

func newEnvelopeHandler(d transportcore.Dispatcher, responder transportcore.ErrorResponder, maxBody int64, logger *slog.Logger, raw bool) *envelopeHandler {
	if d == nil {
		panic("dispatcher cannot be nil")
	}
	if responder == nil {
		panic("responder cannot be nil")
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &envelopeHandler{
		dispatcher: d,
		responder:  responder,
		logger:     logger,
		maxBody:    maxBody,
		raw:        raw,
	}
}

// ServeHTTP decodes, dispatches, and writes one envelope. Nothing is written
// if the client has gone away by the time dispatch returns.
func (h *envelopeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = transportcore.ErrBodyTooLarge
		}
		h.responder.BadRequest(w, err)
		return
	}

	req, err := h.decode(r, body)
	if err != nil {
		h.responder.Write(w, envelope.DecodeErrorResponse(err))
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), req)

	if err := r.Context().Err(); err != nil {
		h.logger.Debug("client gone before response",
			"method", req.Method,
			"path", req.Path,
			"status", resp.Status,
			"error", err,
		)
		return
	}
	h.responder.Write(w, resp)
}

func (h *envelopeHandler) decode(r *http.Request, body []byte) (*envelope.Request, error) {
	if h.raw {
		return envelope.Decode(body)
	}
	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return envelope.NewRequest(r.Method, path, body)
}
