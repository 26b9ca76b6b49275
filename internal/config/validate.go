package config

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
)

// Validate checks that the configuration is valid and complete.
// It returns an error if required fields are missing or values are invalid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateServer(cfg); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := validateOAuth(cfg); err != nil {
		return fmt.Errorf("invalid oauth config: %w", err)
	}

	if err := validateSOAP(cfg); err != nil {
		return fmt.Errorf("invalid soap config: %w", err)
	}

	if err := validatePolicy(cfg.Policy); err != nil {
		return fmt.Errorf("invalid policy file: %w", err)
	}

	if err := validateLimits(cfg); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	return nil
}

// isLocalhost returns true if the host is localhost or a loopback address.
// It handles bare hostnames and host:port combinations.
func isLocalhost(host string) bool {
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}

	if len(host) > len("localhost:") && host[:len("localhost:")] == "localhost:" {
		return true
	}
	if len(host) > len("127.0.0.1:") && host[:len("127.0.0.1:")] == "127.0.0.1:" {
		return true
	}

	return false
}

// validateEndpoint requires an absolute http(s) URL, https unless the host is local.
func validateEndpoint(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}

	if !parsedURL.IsAbs() {
		return fmt.Errorf("%s must be an absolute URL", name)
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return fmt.Errorf("%s must use http or https scheme", name)
	}

	if parsedURL.Scheme == "http" && !isLocalhost(parsedURL.Host) {
		return fmt.Errorf("%s must use https scheme for non-localhost hosts", name)
	}

	return nil
}

// validateServer validates the server-related fields.
func validateServer(cfg *Config) error {
	if cfg.Addr == "" {
		return fmt.Errorf("SERVER_ADDR is required")
	}

	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("SERVER_READ_TIMEOUT must be positive")
	}

	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("SERVER_WRITE_TIMEOUT must be positive")
	}

	// 0 means no idle timeout
	if cfg.IdleTimeout < 0 {
		return fmt.Errorf("SERVER_IDLE_TIMEOUT must be non-negative")
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	return nil
}

// validateOAuth validates the OAuth-related fields.
func validateOAuth(cfg *Config) error {
	if err := validateEndpoint("OAUTH_TOKEN_URL", cfg.TokenURL); err != nil {
		return err
	}

	if (cfg.ClientID == "") != (cfg.ClientSecret == "") {
		return fmt.Errorf("OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET must be set together")
	}

	if cfg.Scope == "" {
		return fmt.Errorf("OAUTH_SCOPE is required")
	}

	if cfg.SafetyMargin < 0 {
		return fmt.Errorf("OAUTH_SAFETY_MARGIN must be non-negative")
	}

	if cfg.DefaultTokenTTL <= cfg.SafetyMargin {
		return fmt.Errorf("OAUTH_DEFAULT_TOKEN_TTL must exceed OAUTH_SAFETY_MARGIN")
	}

	if cfg.OAuthTimeout <= 0 {
		return fmt.Errorf("OAUTH_TIMEOUT must be positive")
	}

	return nil
}

// validateSOAP validates the upstream and retry fields.
func validateSOAP(cfg *Config) error {
	if err := validateEndpoint("SOAP_ENDPOINT", cfg.SOAPEndpoint); err != nil {
		return err
	}

	if cfg.SOAPTimeout <= 0 {
		return fmt.Errorf("SOAP_TIMEOUT must be positive")
	}

	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("SOAP_MAX_ATTEMPTS must be at least 1")
	}

	if cfg.InitialBackoff <= 0 {
		return fmt.Errorf("SOAP_INITIAL_BACKOFF must be positive")
	}

	if cfg.MaxBackoff < cfg.InitialBackoff {
		return fmt.Errorf("SOAP_MAX_BACKOFF must not be less than SOAP_INITIAL_BACKOFF")
	}

	if cfg.BackoffJitter < 0 || cfg.BackoffJitter > 1 {
		return fmt.Errorf("SOAP_BACKOFF_JITTER must be between 0 and 1")
	}

	return nil
}

func validatePolicy(p *Policy) error {
	if p == nil {
		return nil
	}

	for i, rule := range p.Faults {
		if rule.Prefix == "" {
			return fmt.Errorf("faults[%d]: prefix is required", i)
		}
		if !slices.Contains(FaultClasses, rule.Class) {
			return fmt.Errorf("faults[%d]: unknown class %q", i, rule.Class)
		}
	}

	for name, status := range map[string]int{
		"validation":  p.Statuses.Validation,
		"permission":  p.Statuses.Permission,
		"not_found":   p.Statuses.NotFound,
		"unavailable": p.Statuses.Unavailable,
	} {
		if status != 0 && (status < http.StatusBadRequest || status > 599) {
			return fmt.Errorf("statuses.%s must be a 4xx or 5xx status", name)
		}
	}

	return nil
}

func validateLimits(cfg *Config) error {
	if cfg.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must be non-negative")
	}

	if cfg.RateLimitMaxRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be non-negative")
	}

	if cfg.RateLimitMaxRequests > 0 && cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	return nil
}
