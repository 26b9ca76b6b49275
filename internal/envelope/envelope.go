// Package envelope converts between the JSON documents exchanged with clients
// and the transport-agnostic request and response envelopes the router works on.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
)

// Supported request methods.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

var supportedMethods = []string{MethodGet, MethodPost, MethodPut, MethodDelete}

// HeaderContentType is set on every response envelope.
const HeaderContentType = "content-type"

// Request is a decoded client request.
type Request struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`

	// Query holds parameters split off a path of the form "/x?k=v".
	Query url.Values `json:"-"`
}

// Response is the single result of handling one Request.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// ErrorBody is the body of every error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and a message safe to show clients.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Reference string `json:"reference,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// DecodeError reports which part of a raw request could not be decoded.
type DecodeError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "decode request: " + e.Reason
	}
	return fmt.Sprintf("decode request: %s: %s", e.Field, e.Reason)
}

// Unwrap classifies every DecodeError as ierrors.ErrDecode.
func (e *DecodeError) Unwrap() error {
	return ierrors.ErrDecode
}

// Decode parses a raw request document. It never panics; anything that is
// not a well-formed request yields a *DecodeError.
func Decode(raw []byte) (*Request, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty request"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Reason: "request must be a JSON object"}
	}
	if fields == nil {
		return nil, &DecodeError{Reason: "request must be a JSON object"}
	}

	method, err := stringField(fields, "method")
	if err != nil {
		return nil, err
	}
	path, err := stringField(fields, "path")
	if err != nil {
		return nil, err
	}

	req, err := NewRequest(method, path, nil)
	if err != nil {
		return nil, err
	}

	if body, ok := fields["body"]; ok && !isNull(body) {
		req.Body = body
	}
	return req, nil
}

// NewRequest validates method and path and builds a Request. Transports that
// already hold a parsed method and path use it instead of Decode.
func NewRequest(method, path string, body []byte) (*Request, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if !slices.Contains(supportedMethods, method) {
		return nil, &DecodeError{Field: "method", Reason: fmt.Sprintf("unsupported method %q", method)}
	}

	if !strings.HasPrefix(path, "/") {
		return nil, &DecodeError{Field: "path", Reason: "must start with /"}
	}

	req := &Request{Method: method, Path: path}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		q, err := url.ParseQuery(path[i+1:])
		if err != nil {
			return nil, &DecodeError{Field: "path", Reason: "malformed query string"}
		}
		req.Path = path[:i]
		req.Query = q
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		if !json.Valid(body) {
			return nil, &DecodeError{Field: "body", Reason: "must be valid JSON"}
		}
		if !isNull(body) {
			req.Body = json.RawMessage(body)
		}
	}
	return req, nil
}

// BindBody unmarshals the request body into v. An absent body leaves v untouched.
func (r *Request) BindBody(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &DecodeError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", &DecodeError{Field: name, Reason: "is required"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &DecodeError{Field: name, Reason: "must be a string"}
	}
	if s == "" {
		return "", &DecodeError{Field: name, Reason: "is required"}
	}
	return s, nil
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// JSON builds a response envelope with a JSON body.
func JSON(status int, body any) Response {
	return Response{
		Status:  status,
		Headers: map[string]string{HeaderContentType: "application/json"},
		Body:    body,
	}
}

// Error builds an error envelope.
func Error(status int, code, message string) Response {
	return JSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// DecodeErrorResponse renders a decode failure as a 400 envelope.
func DecodeErrorResponse(err error) Response {
	detail := ErrorDetail{Code: ierrors.CodeDecode, Message: err.Error()}
	var de *DecodeError
	if errors.As(err, &de) {
		detail.Field = de.Field
		detail.Message = de.Error()
	}
	return JSON(http.StatusBadRequest, ErrorBody{Error: detail})
}

// WithHeader returns a copy of r with the header set.
func (r Response) WithHeader(key, value string) Response {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers[strings.ToLower(key)] = value
	r.Headers = headers
	return r
}

// Encode serializes a response envelope. It does not fail: body values that
// cannot be represented in JSON are replaced by a placeholder string.
func Encode(resp Response) []byte {
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}

	out, err := json.Marshal(resp)
	if err == nil {
		return out
	}

	slog.Warn("response body not serializable, substituting placeholders",
		"status", resp.Status,
		"error", err,
	)
	resp.Body = sanitize(resp.Body)
	out, err = json.Marshal(resp)
	if err != nil {
		// sanitize only leaves JSON-safe values, so this is unreachable in practice.
		out, _ = json.Marshal(Response{Status: resp.Status, Headers: resp.Headers, Body: placeholder(resp.Body)})
	}
	return out
}

// DecodeResponse parses an encoded response envelope.
func DecodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func sanitize(v any) any {
	if _, err := json.Marshal(v); err == nil {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sanitize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitize(val)
		}
		return out
	default:
		return placeholder(v)
	}
}

func placeholder(v any) string {
	return fmt.Sprintf("<unserializable: %T>", v)
}
