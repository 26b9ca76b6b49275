// Package router maps request envelopes onto handlers through a fixed,
// ordered route table and turns every outcome into exactly one response
// envelope.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamesprial/admanager-gateway/internal/auth"
	"github.com/jamesprial/admanager-gateway/internal/envelope"
	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
	"github.com/jamesprial/admanager-gateway/internal/soap"
	pkgoauth "github.com/jamesprial/admanager-gateway/pkg/oauth"
)

// Params holds the values of named path segments.
type Params map[string]string

// HandlerFunc serves one matched route.
type HandlerFunc func(ctx context.Context, req *envelope.Request, params Params) (envelope.Response, error)

// Route is one entry of the route table.
type Route struct {
	Method  string
	Pattern string
	Name    string

	segments []string
	handler  HandlerFunc
}

// match reports whether segs fit the pattern and extracts its parameters.
func (rt *Route) match(segs []string) (Params, bool) {
	if len(segs) != len(rt.segments) {
		return nil, false
	}
	var params Params
	for i, s := range rt.segments {
		if name, ok := paramName(s); ok {
			if segs[i] == "" {
				return nil, false
			}
			if params == nil {
				params = Params{}
			}
			params[name] = segs[i]
			continue
		}
		if s != segs[i] {
			return nil, false
		}
	}
	return params, true
}

func paramName(seg string) (string, bool) {
	if len(seg) > 2 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Credentials are the configured client credentials used for business routes.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func (c Credentials) configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Statuses overrides the envelope status for upstream fault kinds. Zero
// fields keep the default.
type Statuses struct {
	Validation  int
	Permission  int
	NotFound    int
	Unavailable int
}

// Router dispatches request envelopes.
type Router struct {
	routes   []*Route
	tokens   auth.TokenManager
	invoker  soap.Invoker
	creds    Credentials
	statuses Statuses
	logger   *slog.Logger
	now      func() time.Time
	observe  func(route string, status int, elapsed time.Duration)
	realm    string
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithStatuses overrides fault status mapping.
func WithStatuses(s Statuses) Option {
	return func(r *Router) { r.statuses = s }
}

// WithDispatchObserver registers a callback invoked once per dispatched request.
// route is the matched route name, or "unmatched".
func WithDispatchObserver(fn func(route string, status int, elapsed time.Duration)) Option {
	return func(r *Router) { r.observe = fn }
}

// WithRealm sets the realm reported in www-authenticate headers.
func WithRealm(realm string) Option {
	return func(r *Router) { r.realm = realm }
}

// New creates a router with the gateway's route table.
func New(tokens auth.TokenManager, invoker soap.Invoker, creds Credentials, opts ...Option) *Router {
	if tokens == nil {
		panic("token manager cannot be nil")
	}
	if invoker == nil {
		panic("invoker cannot be nil")
	}

	r := &Router{
		tokens:  tokens,
		invoker: invoker,
		creds:   creds,
		logger:  slog.Default(),
		now:     time.Now,
		observe: func(string, int, time.Duration) {},
		realm:   "admanager-gateway",
	}
	for _, opt := range opts {
		opt(r)
	}

	h := &handlers{router: r}
	r.routes = []*Route{
		newRoute(http.MethodGet, "/health", "health", h.health),
		newRoute(http.MethodPost, "/auth/token", "auth.token.issue", h.issueToken),
		newRoute(http.MethodDelete, "/auth/token", "auth.token.revoke", h.revokeToken),
		newRoute(http.MethodGet, "/auth/status", "auth.status", h.authStatus),
		newRoute(http.MethodPost, "/campaigns", "campaigns.create", h.createCampaign),
		newRoute(http.MethodGet, "/campaigns", "campaigns.list", h.listCampaigns),
		newRoute(http.MethodGet, "/campaigns/{id}", "campaigns.get", h.getCampaign),
		newRoute(http.MethodPut, "/campaigns/{id}", "campaigns.update", h.updateCampaign),
		newRoute(http.MethodPost, "/campaigns/{id}/pause", "campaigns.pause", h.campaignAction("pause", "PauseOrders")),
		newRoute(http.MethodPost, "/campaigns/{id}/resume", "campaigns.resume", h.campaignAction("resume", "ResumeOrders")),
		newRoute(http.MethodPost, "/campaigns/{id}/archive", "campaigns.archive", h.campaignAction("archive", "ArchiveOrders")),
		newRoute(http.MethodPost, "/orders", "orders.create", h.createOrder),
		newRoute(http.MethodGet, "/reports/{type}", "reports.run", h.runReport),
	}
	return r
}

func newRoute(method, pattern, name string, h HandlerFunc) *Route {
	return &Route{
		Method:   method,
		Pattern:  pattern,
		Name:     name,
		segments: splitPath(pattern),
		handler:  h,
	}
}

// Routes returns a copy of the route table in match order.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	for i, rt := range r.routes {
		out[i] = Route{Method: rt.Method, Pattern: rt.Pattern, Name: rt.Name}
	}
	return out
}

// Dispatch routes req and returns its response. It never panics and always
// returns a well-formed envelope.
func (r *Router) Dispatch(ctx context.Context, req *envelope.Request) envelope.Response {
	start := r.now()
	name := "unmatched"
	resp := r.dispatch(ctx, req, &name)
	r.observe(name, resp.Status, r.now().Sub(start))
	return resp
}

func (r *Router) dispatch(ctx context.Context, req *envelope.Request, name *string) envelope.Response {
	if req == nil {
		return envelope.DecodeErrorResponse(&envelope.DecodeError{Reason: "empty request"})
	}

	segs := splitPath(req.Path)
	var allowed []string
	for _, rt := range r.routes {
		params, ok := rt.match(segs)
		if !ok {
			continue
		}
		if rt.Method != req.Method {
			allowed = appendUnique(allowed, rt.Method)
			continue
		}
		*name = rt.Name
		return r.invoke(ctx, rt, req, params)
	}

	if len(allowed) > 0 {
		return envelope.Error(http.StatusMethodNotAllowed, ierrors.CodeMethodNotAllowed,
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.Path)).
			WithHeader("allow", strings.Join(allowed, ", "))
	}
	return envelope.Error(http.StatusNotFound, ierrors.CodeRouteNotFound,
		fmt.Sprintf("no route for %s", req.Path))
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func (r *Router) invoke(ctx context.Context, rt *Route, req *envelope.Request, params Params) (resp envelope.Response) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("panic recovered",
				"panic", recovered,
				"route", rt.Name,
				"stack", string(debug.Stack()),
			)
			resp = r.internalError(rt, fmt.Errorf("panic: %v", recovered))
		}
	}()

	resp, err := rt.handler(ctx, req, params)
	if err != nil {
		return r.errorResponse(rt, err)
	}
	return resp
}

// errorResponse maps err onto the shared taxonomy.
func (r *Router) errorResponse(rt *Route, err error) envelope.Response {
	if errors.Is(err, context.DeadlineExceeded) {
		err = ierrors.New("router", rt.Name, ierrors.ErrUpstreamUnavailable, err)
	}

	kind := ierrors.KindOf(err)
	switch kind {
	case ierrors.ErrDecode:
		return envelope.DecodeErrorResponse(err)

	case ierrors.ErrAuth:
		r.logger.Warn("request unauthorized", "route", rt.Name, "error", err)
		return r.authError(err)

	case ierrors.ErrValidationFault, ierrors.ErrPermissionDenied, ierrors.ErrNotFound, ierrors.ErrUpstreamUnavailable:
		r.logger.Warn("request failed", "route", rt.Name, "kind", kind, "error", err)
		return r.faultError(kind, err)
	}

	return r.internalError(rt, err)
}

func (r *Router) authError(err error) envelope.Response {
	detail := envelope.ErrorDetail{Code: ierrors.CodeAuth, Message: "authentication failed"}

	challenge := ierrors.NewOAuthError(ierrors.ErrorCodeInvalidToken, "")
	var oe *ierrors.OAuthError
	var f *soap.Fault
	switch {
	case errors.As(err, &oe):
		c := *oe
		challenge = &c
		detail.Details = map[string]any{"oauth_error": oe.ErrorCode}
	case errors.As(err, &f):
		detail.Details = map[string]any{"fault_code": f.Code}
	case errors.Is(err, auth.ErrMissingCredentials):
		challenge = ierrors.NewOAuthError(ierrors.ErrorCodeInvalidRequest, "client credentials are required")
		detail.Message = "client credentials are required"
	}
	challenge.Realm = r.realm

	return envelope.JSON(http.StatusUnauthorized, envelope.ErrorBody{Error: detail}).
		WithHeader(pkgoauth.HeaderWWWAuthenticate, challenge.WWWAuthenticate())
}

func (r *Router) faultError(kind error, err error) envelope.Response {
	status := r.statusFor(kind)
	detail := envelope.ErrorDetail{Code: ierrors.CodeFor(kind), Message: kind.Error()}

	var f *soap.Fault
	if errors.As(err, &f) {
		detail.Message = f.Message
		if detail.Message == "" {
			detail.Message = f.Code
		}
		details := map[string]any{"fault_code": f.Code}
		if f.Attempts > 0 {
			details["attempts"] = f.Attempts
		}
		detail.Details = details
	} else {
		var de *ierrors.DomainError
		if errors.As(err, &de) && de.Err != nil {
			detail.Message = de.Err.Error()
		}
	}
	return envelope.JSON(status, envelope.ErrorBody{Error: detail})
}

func (r *Router) statusFor(kind error) int {
	var override int
	switch kind {
	case ierrors.ErrValidationFault:
		override = r.statuses.Validation
	case ierrors.ErrPermissionDenied:
		override = r.statuses.Permission
	case ierrors.ErrNotFound:
		override = r.statuses.NotFound
	case ierrors.ErrUpstreamUnavailable:
		override = r.statuses.Unavailable
	}
	if override != 0 {
		return override
	}
	return ierrors.StatusFor(kind)
}

// internalError logs err in full and returns only an opaque reference.
func (r *Router) internalError(rt *Route, err error) envelope.Response {
	ref := uuid.NewString()
	r.logger.Error("internal error",
		"route", rt.Name,
		"reference", ref,
		"error", fmt.Sprintf("%+v", err),
	)
	return envelope.JSON(http.StatusInternalServerError, envelope.ErrorBody{Error: envelope.ErrorDetail{
		Code:      ierrors.CodeInternal,
		Message:   "internal error",
		Reference: ref,
	}})
}
