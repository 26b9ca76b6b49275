package soap

import (
	"fmt"
	"net/http"
	"strings"

	ierrors "github.com/jamesprial/admanager-gateway/internal/errors"
)

// FaultClass groups upstream failures by how the gateway reacts to them.
type FaultClass string

const (
	// ClassTransient failures are retried with backoff.
	ClassTransient FaultClass = "transient"

	// ClassAuth failures mean the upstream refused the access token.
	ClassAuth FaultClass = "auth"

	// ClassValidation failures mean the upstream rejected the request content.
	ClassValidation FaultClass = "validation"

	// ClassPermission failures mean the credential may not perform the operation.
	ClassPermission FaultClass = "permission"

	// ClassMalformed failures mean the request or response could not be parsed.
	ClassMalformed FaultClass = "malformed"

	// ClassNotFound failures mean the addressed entity does not exist.
	ClassNotFound FaultClass = "not_found"
)

// Fault is a classified upstream failure.
type Fault struct {
	// Code is the upstream error string, e.g. "AuthenticationError.GOOGLE_ACCOUNT_ALREADY_ASSOCIATED_WITH_NETWORK",
	// or a gateway-assigned code such as "HTTP_503" or "Timeout".
	Code string

	// Message is a human-readable description.
	Message string

	// Class decides retry and status mapping.
	Class FaultClass

	// HTTPStatus is the upstream HTTP status, 0 if no response arrived.
	HTTPStatus int

	// Attempts is how many upstream attempts were made for the call.
	Attempts int

	// Exhausted is set when a transient fault outlasted the retry budget.
	Exhausted bool

	cause error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	msg := fmt.Sprintf("soap fault [%s] %s", f.Class, f.Code)
	if f.Message != "" && f.Message != f.Code {
		msg += ": " + f.Message
	}
	if f.cause != nil {
		msg += ": " + f.cause.Error()
	}
	return msg
}

// Unwrap exposes the taxonomy kind for the class and the underlying cause.
func (f *Fault) Unwrap() []error {
	errs := []error{f.Kind()}
	if f.cause != nil {
		errs = append(errs, f.cause)
	}
	return errs
}

// Retryable reports whether another attempt could succeed.
func (f *Fault) Retryable() bool {
	return f.Class == ClassTransient
}

// IsAuth reports whether the upstream rejected the credential.
func (f *Fault) IsAuth() bool {
	return f.Class == ClassAuth
}

// Kind maps the class onto the shared error taxonomy.
func (f *Fault) Kind() error {
	switch f.Class {
	case ClassTransient:
		return ierrors.ErrUpstreamUnavailable
	case ClassAuth:
		return ierrors.ErrAuth
	case ClassValidation, ClassMalformed:
		return ierrors.ErrValidationFault
	case ClassPermission:
		return ierrors.ErrPermissionDenied
	case ClassNotFound:
		return ierrors.ErrNotFound
	default:
		return ierrors.ErrInternal
	}
}

// Rule assigns Class to any fault code starting with Prefix.
type Rule struct {
	Prefix string
	Class  FaultClass
}

// DefaultRules is the built-in classification table. More specific prefixes
// come first.
func DefaultRules() []Rule {
	return []Rule{
		{"AuthenticationError", ClassAuth},
		{"QuotaError", ClassTransient},
		{"ServerError", ClassTransient},
		{"InternalApiError", ClassTransient},
		{"PermissionError", ClassPermission},
		{"ParseError", ClassMalformed},
		{"TypeError", ClassMalformed},
		{"CommonError.NOT_FOUND", ClassNotFound},
		{"RequiredError", ClassValidation},
		{"StringLengthError", ClassValidation},
		{"UniqueError", ClassValidation},
		{"NotNullError", ClassValidation},
		{"RangeError", ClassValidation},
		{"CommonError", ClassValidation},
	}
}

// Policy classifies fault codes. Custom rules are consulted before the defaults.
type Policy struct {
	rules []Rule
}

// NewPolicy creates a policy with custom rules ahead of DefaultRules.
func NewPolicy(custom ...Rule) *Policy {
	rules := make([]Rule, 0, len(custom)+len(DefaultRules()))
	rules = append(rules, custom...)
	rules = append(rules, DefaultRules()...)
	return &Policy{rules: rules}
}

// Classify returns the class of a fault code. Unknown codes are treated as
// validation faults: the upstream understood the request and refused it.
func (p *Policy) Classify(code string) FaultClass {
	for _, r := range p.rules {
		if strings.HasPrefix(code, r.Prefix) {
			return r.Class
		}
	}
	return ClassValidation
}

// classifyStatus classifies an HTTP response that carried no SOAP fault.
func classifyStatus(status int) FaultClass {
	switch {
	case status == http.StatusUnauthorized:
		return ClassAuth
	case status == http.StatusForbidden:
		return ClassPermission
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return ClassTransient
	default:
		return ClassMalformed
	}
}
