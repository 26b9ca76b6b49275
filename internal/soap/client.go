package soap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	pkgoauth "github.com/jamesprial/admanager-gateway/pkg/oauth"
)

const (
	maxResponseBytes = 16 << 20

	// OutcomeOK is reported to the observer for a successful attempt.
	OutcomeOK = "ok"

	publisherNamespace = "https://www.google.com/apis/ads/publisher/"
)

// Config holds the client settings.
type Config struct {
	// Endpoint is the versioned API base, e.g.
	// https://ads.google.com/apis/ads/publisher/v202308.
	Endpoint string

	// Namespace overrides the XML namespace derived from the endpoint version.
	Namespace string

	NetworkCode     string
	ApplicationName string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// MaxAttempts bounds attempts per Invoke, including the first.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Jitter is the backoff randomization factor in [0, 1].
	Jitter float64

	// Rules are consulted before DefaultRules when classifying faults.
	Rules []Rule

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Observer is called after every attempt with OutcomeOK or the fault class.
	Observer func(op Operation, outcome string)
}

// Client invokes SOAP operations with retry on transient faults.
type Client struct {
	endpoint    string
	namespace   string
	header      header
	timeout     time.Duration
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	jitter      float64
	policy      *Policy
	httpClient  *http.Client
	logger      *slog.Logger
	observe     func(Operation, string)
}

var _ Invoker = (*Client)(nil)

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid SOAP endpoint %q", cfg.Endpoint)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		return nil, fmt.Errorf("jitter must be within [0, 1], got %v", cfg.Jitter)
	}

	c := &Client{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		namespace:   cfg.Namespace,
		header:      header{NetworkCode: cfg.NetworkCode, ApplicationName: cfg.ApplicationName},
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		initial:     cfg.InitialBackoff,
		max:         cfg.MaxBackoff,
		jitter:      cfg.Jitter,
		policy:      NewPolicy(cfg.Rules...),
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
		observe:     cfg.Observer,
	}
	if c.namespace == "" {
		c.namespace = publisherNamespace + path.Base(u.Path)
	}
	if c.initial <= 0 {
		c.initial = 300 * time.Millisecond
	}
	if c.max < c.initial {
		c.max = c.initial
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.observe == nil {
		c.observe = func(Operation, string) {}
	}
	return c, nil
}

// Invoke performs op with payload as its body. Transient faults are retried
// up to the attempt budget; every other fault is returned immediately. The
// returned error is a *Fault for upstream failures, ctx.Err() when the caller
// gave up, or a wrapped internal error.
func (c *Client) Invoke(ctx context.Context, op Operation, accessToken string, payload map[string]any) (Result, error) {
	body, err := buildEnvelope(c.namespace, c.header, op.Method, payload)
	if err != nil {
		return nil, &Fault{
			Code:    "RequestEncoding",
			Message: "payload cannot be encoded as XML",
			Class:   ClassMalformed,
			cause:   err,
		}
	}

	attempts := 0
	operation := func() (Result, error) {
		attempts++
		res, err := c.attempt(ctx, op, accessToken, body)
		if err == nil {
			c.observe(op, OutcomeOK)
			return res, nil
		}

		var f *Fault
		if errors.As(err, &f) {
			c.observe(op, string(f.Class))
			if f.Retryable() {
				return nil, f
			}
		}
		return nil, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying upstream call",
			"operation", op.String(),
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxAttempts-1)), ctx)
	res, err := backoff.RetryNotifyWithData(operation, b, notify)
	if err == nil {
		return res, nil
	}

	var f *Fault
	if errors.As(err, &f) {
		f.Attempts = attempts
		f.Exhausted = f.Retryable()
		if f.Exhausted {
			c.logger.Error("upstream retries exhausted",
				"operation", op.String(),
				"attempts", attempts,
				"code", f.Code,
			)
		}
		return nil, f
	}
	return nil, err
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.max
	b.RandomizationFactor = c.jitter
	b.MaxElapsedTime = 0
	return b
}

// attempt performs one HTTP exchange under its own timeout.
func (c *Client) attempt(ctx context.Context, op Operation, accessToken string, body []byte) (Result, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, c.endpoint+"/"+op.Service, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build SOAP request")
	}
	req.Header.Set(pkgoauth.HeaderContentType, pkgoauth.ContentTypeSOAP)
	req.Header.Set(pkgoauth.HeaderSOAPAction, `""`)
	req.Header.Set(pkgoauth.HeaderAuthorization, pkgoauth.BearerAuthorization(accessToken))

	c.logger.Debug("upstream call", "operation", op.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportFault(actx, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
	}()

	res, sf, err := parseResponse(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if actx.Err() != nil {
			return nil, transportFault(actx, err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, statusFault(resp.StatusCode, err)
		}
		return nil, &Fault{
			Code:       "MalformedResponse",
			Message:    "upstream returned a document that is not a SOAP envelope",
			Class:      ClassMalformed,
			HTTPStatus: resp.StatusCode,
			cause:      err,
		}
	}

	if sf != nil {
		return nil, &Fault{
			Code:       sf.code,
			Message:    sf.message,
			Class:      c.policy.Classify(sf.code),
			HTTPStatus: resp.StatusCode,
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusFault(resp.StatusCode, nil)
	}
	return res, nil
}

func transportFault(actx context.Context, err error) *Fault {
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return &Fault{Code: "Timeout", Message: "upstream attempt timed out", Class: ClassTransient, cause: err}
	}
	return &Fault{Code: "NetworkError", Message: "upstream unreachable", Class: ClassTransient, cause: err}
}

func statusFault(status int, cause error) *Fault {
	return &Fault{
		Code:       fmt.Sprintf("HTTP_%d", status),
		Message:    http.StatusText(status),
		Class:      classifyStatus(status),
		HTTPStatus: status,
		cause:      cause,
	}
}
