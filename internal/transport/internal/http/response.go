package http

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamesprial/admanager-gateway/internal/envelope"
	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// Header names set by the responder.
const (
	HeaderContentType = "Content-Type"
	HeaderRetryAfter  = "Retry-After"
)

// errorResponder implements transportcore.ErrorResponder.
type errorResponder struct {
	logger *slog.Logger
}

// NewErrorResponder creates an envelope responder.
// If logger is nil, it uses the default slog logger.
func NewErrorResponder(logger *slog.Logger) transportcore.ErrorResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &errorResponder{logger: logger}
}

// Write copies the envelope headers, then writes its status and encoded body.
// The full envelope is the HTTP body so HTTP and line clients parse one format.
func (e *errorResponder) Write(w http.ResponseWriter, resp envelope.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set(HeaderContentType, "application/json")

	status := resp.Status
	if status < 100 || status > 999 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)

	body := envelope.Encode(resp)
	body = append(body, '\n')
	if _, err := w.Write(body); err != nil {
		e.logger.Warn("failed to write response", "status", status, "error", err)
	}
}

// BadRequest sends a 400 envelope. Oversized bodies name the body field.
func (e *errorResponder) BadRequest(w http.ResponseWriter, err error) {
	if errors.Is(err, transportcore.ErrBodyTooLarge) {
		err = &envelope.DecodeError{Field: "body", Reason: "too large"}
	}
	e.logger.Warn("bad request", "error", err)
	e.Write(w, envelope.DecodeErrorResponse(err))
}

// InternalError sends a 500 envelope carrying an opaque reference. The cause is
// logged with the reference and never sent to the client.
func (e *errorResponder) InternalError(w http.ResponseWriter, err error) {
	ref := uuid.NewString()
	e.logger.Error("internal server error", "reference", ref, "error", err)
	e.Write(w, envelope.JSON(http.StatusInternalServerError, envelope.ErrorBody{
		Error: envelope.ErrorDetail{
			Code:      ierrors.CodeInternal,
			Message:   "internal error",
			Reference: ref,
		},
	}))
}

// TooManyRequests sends a 429 envelope. Retry-After is whole seconds, at least 1.
func (e *errorResponder) TooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	resp := envelope.Error(http.StatusTooManyRequests, ierrors.CodeRateLimited, "rate limit exceeded").
		WithHeader(strings.ToLower(HeaderRetryAfter), strconv.Itoa(secs))
	e.Write(w, resp)
}
