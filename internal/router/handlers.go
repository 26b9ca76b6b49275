package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/jamesprial/admanager-gateway/internal/auth"
	"github.com/jamesprial/admanager-gateway/internal/envelope"
	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
	"github.com/jamesprial/admanager-gateway/internal/soap"
)

const (
	domainName = "router"

	defaultPageSize = 50
	maxPageSize     = 500
	lineItemLimit   = 500
)

var (
	numericID = regexp.MustCompile(`^[0-9]{1,19}$`)
	enumValue = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

// handlers implements the route table entries.
type handlers struct {
	router *Router
}

func (h *handlers) health(context.Context, *envelope.Request, Params) (envelope.Response, error) {
	return envelope.JSON(http.StatusOK, map[string]any{"status": "healthy"}), nil
}

// tokenMetadata is returned by POST /auth/token. The access token itself is
// never part of it.
type tokenMetadata struct {
	TokenType string    `json:"token_type"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
	ClientID  string    `json:"client_id"`
}

type credentialsBody struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (h *handlers) issueToken(ctx context.Context, req *envelope.Request, _ Params) (envelope.Response, error) {
	var body credentialsBody
	if err := req.BindBody(&body); err != nil {
		return envelope.Response{}, err
	}

	tok, err := h.router.tokens.GetValidToken(ctx, body.ClientID, body.ClientSecret)
	if err != nil {
		return envelope.Response{}, err
	}

	return envelope.JSON(http.StatusOK, tokenMetadata{
		TokenType: tok.TokenType,
		Scope:     tok.Scope,
		ExpiresAt: tok.ExpiresAt.UTC(),
		ExpiresIn: int64(tok.ExpiresIn(h.router.now()).Seconds()),
		ClientID:  body.ClientID,
	}), nil
}

func (h *handlers) revokeToken(ctx context.Context, req *envelope.Request, _ Params) (envelope.Response, error) {
	var body credentialsBody
	if err := req.BindBody(&body); err != nil {
		return envelope.Response{}, err
	}
	clientID := body.ClientID
	if clientID == "" {
		clientID = h.router.creds.ClientID
	}
	if clientID == "" {
		return envelope.Response{}, &envelope.DecodeError{Field: "client_id", Reason: "is required"}
	}

	if err := h.router.tokens.Invalidate(ctx, clientID, ""); err != nil {
		return envelope.Response{}, pkgerrors.Wrap(err, "invalidate token")
	}
	return envelope.JSON(http.StatusOK, map[string]any{
		"client_id": clientID,
		"revoked":   true,
	}), nil
}

func (h *handlers) authStatus(ctx context.Context, _ *envelope.Request, _ Params) (envelope.Response, error) {
	creds := h.router.creds
	state := auth.StateUnissued
	if creds.configured() {
		state = h.router.tokens.State(ctx, creds.ClientID)
	}
	return envelope.JSON(http.StatusOK, map[string]any{
		"configured": creds.configured(),
		"client_id":  creds.ClientID,
		"scope":      h.router.tokens.Scope(),
		"state":      state,
	}), nil
}

type campaignBody struct {
	Order     map[string]any   `json:"order"`
	LineItems []map[string]any `json:"line_items"`
}

func (h *handlers) createCampaign(ctx context.Context, req *envelope.Request, _ Params) (envelope.Response, error) {
	var body campaignBody
	if err := bindJSON(req, &body); err != nil {
		return envelope.Response{}, err
	}
	if body.Order == nil {
		return envelope.Response{}, &envelope.DecodeError{Field: "order", Reason: "is required"}
	}

	return h.withUpstream(ctx, "createCampaign", func(ctx context.Context, token string) (envelope.Response, error) {
		res, err := h.router.invoker.Invoke(ctx, soap.OpCreateOrders, token, map[string]any{"orders": body.Order})
		if err != nil {
			return envelope.Response{}, err
		}
		order := res.First()
		if order == nil {
			return envelope.Response{}, pkgerrors.New("createOrders returned no order")
		}

		lineItems := []any{}
		if len(body.LineItems) > 0 {
			items := make([]any, len(body.LineItems))
			for i, li := range body.LineItems {
				item := make(map[string]any, len(li)+1)
				for k, v := range li {
					item[k] = v
				}
				item["orderId"] = order["id"]
				items[i] = item
			}
			res, err := h.router.invoker.Invoke(ctx, soap.OpCreateLineItems, token, map[string]any{"lineItems": items})
			if err != nil {
				return envelope.Response{}, err
			}
			lineItems = res.Values()
		}

		return envelope.JSON(http.StatusCreated, map[string]any{
			"order":      order,
			"line_items": lineItems,
		}), nil
	})
}

func (h *handlers) listCampaigns(ctx context.Context, req *envelope.Request, _ Params) (envelope.Response, error) {
	fields, err := queryFields(req)
	if err != nil {
		return envelope.Response{}, err
	}
	limit, err := intField(fields, "limit", defaultPageSize, 1, maxPageSize)
	if err != nil {
		return envelope.Response{}, err
	}
	offset, err := intField(fields, "offset", 0, 0, -1)
	if err != nil {
		return envelope.Response{}, err
	}
	status, err := enumField(fields, "status")
	if err != nil {
		return envelope.Response{}, err
	}

	query := "ORDER BY id ASC"
	if status != "" {
		query = fmt.Sprintf("WHERE status = '%s' %s", status, query)
	}

	return h.withUpstream(ctx, "listCampaigns", func(ctx context.Context, token string) (envelope.Response, error) {
		res, err := h.router.invoker.Invoke(ctx, soap.OpGetOrdersByStatement, token, map[string]any{
			"filterStatement": soap.Statement(query, limit, offset),
		})
		if err != nil {
			return envelope.Response{}, err
		}
		results := res.Page()
		return envelope.JSON(http.StatusOK, map[string]any{
			"results": results,
			"total":   totalOf(res, len(results)),
			"limit":   limit,
			"offset":  offset,
		}), nil
	})
}

func (h *handlers) getCampaign(ctx context.Context, _ *envelope.Request, params Params) (envelope.Response, error) {
	id, err := orderID(params)
	if err != nil {
		return envelope.Response{}, err
	}

	return h.withUpstream(ctx, "getCampaign", func(ctx context.Context, token string) (envelope.Response, error) {
		res, err := h.router.invoker.Invoke(ctx, soap.OpGetOrdersByStatement, token, map[string]any{
			"filterStatement": soap.Statement("WHERE id = "+id, 1, 0),
		})
		if err != nil {
			return envelope.Response{}, err
		}
		orders := res.Page()
		if len(orders) == 0 {
			return envelope.Response{}, notFound("getCampaign", "campaign "+id+" not found")
		}

		res, err = h.router.invoker.Invoke(ctx, soap.OpGetLineItemsByStatement, token, map[string]any{
			"filterStatement": soap.Statement("WHERE orderId = "+id+" ORDER BY id ASC", lineItemLimit, 0),
		})
		if err != nil {
			return envelope.Response{}, err
		}

		return envelope.JSON(http.StatusOK, map[string]any{
			"order":      orders[0],
			"line_items": res.Page(),
		}), nil
	})
}

func (h *handlers) updateCampaign(ctx context.Context, req *envelope.Request, params Params) (envelope.Response, error) {
	id, err := orderID(params)
	if err != nil {
		return envelope.Response{}, err
	}
	var order map[string]any
	if err := bindJSON(req, &order); err != nil {
		return envelope.Response{}, err
	}
	order["id"] = id

	return h.withUpstream(ctx, "updateCampaign", func(ctx context.Context, token string) (envelope.Response, error) {
		res, err := h.router.invoker.Invoke(ctx, soap.OpUpdateOrders, token, map[string]any{"orders": order})
		if err != nil {
			return envelope.Response{}, err
		}
		updated := res.First()
		if updated == nil {
			return envelope.Response{}, notFound("updateCampaign", "campaign "+id+" not found")
		}
		return envelope.JSON(http.StatusOK, updated), nil
	})
}

func (h *handlers) campaignAction(action, actionType string) HandlerFunc {
	return func(ctx context.Context, _ *envelope.Request, params Params) (envelope.Response, error) {
		id, err := orderID(params)
		if err != nil {
			return envelope.Response{}, err
		}

		return h.withUpstream(ctx, action+"Campaign", func(ctx context.Context, token string) (envelope.Response, error) {
			res, err := h.router.invoker.Invoke(ctx, soap.OpPerformOrderAction, token, map[string]any{
				"orderAction":     map[string]any{"@xsi:type": "ns:" + actionType},
				"filterStatement": soap.Statement("WHERE id = "+id, 0, 0),
			})
			if err != nil {
				return envelope.Response{}, err
			}

			changes := 0
			if first := res.First(); first != nil {
				changes, _ = strconv.Atoi(fmt.Sprint(first["numChanges"]))
			}
			if changes == 0 {
				return envelope.Response{}, notFound(action+"Campaign", "campaign "+id+" not found or already in the requested state")
			}
			return envelope.JSON(http.StatusOK, map[string]any{
				"id":      id,
				"action":  action,
				"changes": changes,
			}), nil
		})
	}
}

func (h *handlers) createOrder(ctx context.Context, req *envelope.Request, _ Params) (envelope.Response, error) {
	var order map[string]any
	if err := bindJSON(req, &order); err != nil {
		return envelope.Response{}, err
	}

	return h.withUpstream(ctx, "createOrder", func(ctx context.Context, token string) (envelope.Response, error) {
		res, err := h.router.invoker.Invoke(ctx, soap.OpCreateOrders, token, map[string]any{"orders": order})
		if err != nil {
			return envelope.Response{}, err
		}
		created := res.First()
		if created == nil {
			return envelope.Response{}, pkgerrors.New("createOrders returned no order")
		}
		return envelope.JSON(http.StatusCreated, created), nil
	})
}

func (h *handlers) runReport(ctx context.Context, req *envelope.Request, params Params) (envelope.Response, error) {
	def, ok := reportDefinitions[params["type"]]
	if !ok {
		return envelope.Response{}, notFound("runReport", fmt.Sprintf("unknown report type %q", params["type"]))
	}
	fields, err := queryFields(req)
	if err != nil {
		return envelope.Response{}, err
	}
	query, err := def.query(fields)
	if err != nil {
		return envelope.Response{}, err
	}

	return h.withUpstream(ctx, "runReport", func(ctx context.Context, token string) (envelope.Response, error) {
		res, err := h.router.invoker.Invoke(ctx, soap.OpRunReportJob, token, map[string]any{
			"reportJob": map[string]any{"reportQuery": query},
		})
		if err != nil {
			return envelope.Response{}, err
		}
		return envelope.JSON(http.StatusOK, map[string]any{
			"report_type": params["type"],
			"report_job":  res.First(),
		}), nil
	})
}

// withUpstream runs op with a token for the configured client. If the
// upstream rejects the token, the cached token is invalidated and op runs
// exactly once more with a fresh one.
func (h *handlers) withUpstream(ctx context.Context, op string, fn func(ctx context.Context, token string) (envelope.Response, error)) (envelope.Response, error) {
	creds := h.router.creds
	if !creds.configured() {
		return envelope.Response{}, ierrors.New(domainName, op, ierrors.ErrAuth, auth.ErrMissingCredentials)
	}

	run := func() (envelope.Response, error) {
		tok, err := h.router.tokens.GetValidToken(ctx, creds.ClientID, creds.ClientSecret)
		if err != nil {
			return envelope.Response{}, err
		}
		return fn(ctx, tok.AccessToken)
	}

	resp, err := run()
	var f *soap.Fault
	if err == nil || !errors.As(err, &f) || !f.IsAuth() {
		return resp, err
	}

	h.router.logger.Warn("upstream rejected token, retrying with a fresh one",
		"op", op,
		"client_id", creds.ClientID,
		"fault_code", f.Code,
	)
	if err := h.router.tokens.Invalidate(ctx, creds.ClientID, ""); err != nil {
		return envelope.Response{}, pkgerrors.Wrap(err, "invalidate token")
	}
	return run()
}

func notFound(op, msg string) error {
	return ierrors.New(domainName, op, ierrors.ErrNotFound, errors.New(msg))
}

func orderID(params Params) (string, error) {
	id := params["id"]
	if !numericID.MatchString(id) {
		return "", &envelope.DecodeError{Field: "id", Reason: "must be a numeric identifier"}
	}
	return id, nil
}

// bindJSON decodes a required JSON object body. Numbers keep their exact text.
func bindJSON(req *envelope.Request, v any) error {
	if len(req.Body) == 0 {
		return &envelope.DecodeError{Field: "body", Reason: "is required"}
	}
	if !isObject(req.Body) {
		return &envelope.DecodeError{Field: "body", Reason: "must be a JSON object"}
	}
	dec := json.NewDecoder(bytes.NewReader(req.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &envelope.DecodeError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// queryFields merges query parameters with an optional JSON object body.
// Body fields win.
func queryFields(req *envelope.Request) (map[string]any, error) {
	fields := make(map[string]any, len(req.Query))
	for k, v := range req.Query {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	if len(req.Body) == 0 {
		return fields, nil
	}

	var body map[string]any
	if err := bindJSON(req, &body); err != nil {
		return nil, err
	}
	for k, v := range body {
		fields[k] = v
	}
	return fields, nil
}

// intField reads an integer within [lo, hi]; hi < 0 means unbounded.
func intField(fields map[string]any, name string, def, lo, hi int) (int, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return def, nil
	}

	var n int
	var err error
	switch v := raw.(type) {
	case string:
		n, err = strconv.Atoi(v)
	case json.Number:
		var i int64
		i, err = v.Int64()
		n = int(i)
	default:
		err = fmt.Errorf("unexpected %T", raw)
	}
	if err != nil || n < lo || (hi >= 0 && n > hi) {
		reason := fmt.Sprintf("must be an integer >= %d", lo)
		if hi >= 0 {
			reason = fmt.Sprintf("must be an integer between %d and %d", lo, hi)
		}
		return 0, &envelope.DecodeError{Field: name, Reason: reason}
	}
	return n, nil
}

// enumField reads an optional upper-case enum value such as an order status.
func enumField(fields map[string]any, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok || !enumValue.MatchString(s) {
		return "", &envelope.DecodeError{Field: name, Reason: "must be an upper-case enum value"}
	}
	return s, nil
}

func totalOf(res soap.Result, fallback int) int {
	if page := res.First(); page != nil {
		if n, err := strconv.Atoi(fmt.Sprint(page["totalResultSetSize"])); err == nil {
			return n
		}
	}
	return fallback
}
