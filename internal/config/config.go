// Package config provides configuration management for the Ad Manager gateway.
// Configuration is loaded from environment variables with sensible defaults,
// optionally refined by a YAML policy file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pkgoauth "github.com/jamesprial/admanager-gateway/pkg/oauth"
)

// Config holds the complete gateway configuration in a flat structure.
type Config struct {
	// Server settings
	// Addr is the address to bind the HTTP server (e.g., ":8080").
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum duration to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// OAuth settings
	// TokenURL is the identity provider's token endpoint.
	TokenURL string

	// ClientID and ClientSecret are the credentials used for business routes.
	// Both may be empty, in which case those routes answer 401.
	ClientID     string
	ClientSecret string

	// Scope is requested on every client-credentials exchange.
	Scope string

	// SafetyMargin is subtracted from a token's expiry when deciding freshness.
	SafetyMargin time.Duration

	// DefaultTokenTTL applies when the identity provider reports no lifetime.
	DefaultTokenTTL time.Duration

	// OAuthTimeout bounds a single token exchange.
	OAuthTimeout time.Duration

	// SOAP settings
	// SOAPEndpoint is the base URL of the SOAP API; the service name is appended.
	SOAPEndpoint string

	// NetworkCode and ApplicationName populate the SOAP RequestHeader.
	NetworkCode     string
	ApplicationName string

	// SOAPTimeout bounds a single upstream attempt.
	SOAPTimeout time.Duration

	// MaxAttempts is the total number of upstream attempts per call, including the first.
	MaxAttempts int

	// InitialBackoff and MaxBackoff bound the exponential delay between attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackoffJitter is the randomization factor applied to each delay, in [0, 1].
	BackoffJitter float64

	// PolicyFile is the optional YAML policy path; Policy holds its parsed content.
	PolicyFile string
	Policy     *Policy

	// Redis settings
	// RedisAddr enables the shared token store and distributed rate limiter when set.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Rate limit settings
	// RateLimitMaxRequests of 0 disables rate limiting.
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
}

// Load reads configuration from environment variables and returns a Config.
// It sets default values for optional fields, applies the policy file when
// one is configured, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:     getEnvWithDefault("SERVER_ADDR", ":8080"),
		LogLevel: strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),

		TokenURL:     getEnvWithDefault("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		Scope:        getEnvWithDefault("OAUTH_SCOPE", pkgoauth.ScopeAdManager),

		SOAPEndpoint:    getEnvWithDefault("SOAP_ENDPOINT", "https://ads.google.com/apis/ads/publisher/v202308"),
		NetworkCode:     os.Getenv("SOAP_NETWORK_CODE"),
		ApplicationName: getEnvWithDefault("SOAP_APPLICATION_NAME", "admanager-gateway"),

		PolicyFile: os.Getenv("GATEWAY_POLICY_FILE"),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisKeyPrefix: getEnvWithDefault("REDIS_KEY_PREFIX", "gaas:"),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", "30s", &cfg.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", "30s", &cfg.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", "120s", &cfg.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", "30s", &cfg.ShutdownTimeout},
		{"OAUTH_SAFETY_MARGIN", "60s", &cfg.SafetyMargin},
		{"OAUTH_DEFAULT_TOKEN_TTL", "1h", &cfg.DefaultTokenTTL},
		{"OAUTH_TIMEOUT", "10s", &cfg.OAuthTimeout},
		{"SOAP_TIMEOUT", "30s", &cfg.SOAPTimeout},
		{"SOAP_INITIAL_BACKOFF", "300ms", &cfg.InitialBackoff},
		{"SOAP_MAX_BACKOFF", "5s", &cfg.MaxBackoff},
		{"RATE_LIMIT_WINDOW", "60s", &cfg.RateLimitWindow},
	}
	for _, d := range durations {
		v, err := parseDurationWithDefault(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	var err error
	if cfg.MaxAttempts, err = parseIntWithDefault("SOAP_MAX_ATTEMPTS", 3); err != nil {
		return nil, fmt.Errorf("invalid SOAP_MAX_ATTEMPTS: %w", err)
	}
	if cfg.RedisDB, err = parseIntWithDefault("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.RateLimitMaxRequests, err = parseIntWithDefault("RATE_LIMIT_MAX_REQUESTS", 100); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_MAX_REQUESTS: %w", err)
	}
	if cfg.BackoffJitter, err = parseFloatWithDefault("SOAP_BACKOFF_JITTER", 0.5); err != nil {
		return nil, fmt.Errorf("invalid SOAP_BACKOFF_JITTER: %w", err)
	}

	if cfg.PolicyFile != "" {
		policy, err := LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.applyPolicy(policy)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// HasCredentials reports whether both client credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// getEnvWithDefault returns the environment variable value or the default if not set.
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDurationWithDefault parses a duration from an environment variable.
// If the variable is not set, it uses the default value.
// Returns an error if the value is set but cannot be parsed.
func parseDurationWithDefault(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		duration, err := time.ParseDuration(defaultValue)
		if err != nil {
			return 0, fmt.Errorf("invalid default duration %q: %w", defaultValue, err)
		}
		return duration, nil
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("cannot parse duration %q: %w", value, err)
	}

	return duration, nil
}

func parseIntWithDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("cannot parse integer %q: %w", value, err)
	}
	return n, nil
}

func parseFloatWithDefault(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse number %q: %w", value, err)
	}
	return f, nil
}

// String returns a string representation of the configuration (for debugging).
// Credentials are redacted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Addr: %s, ReadTimeout: %v, WriteTimeout: %v, IdleTimeout: %v, TokenURL: %s, ClientID: %s, ClientSecret: %s, Scope: %s, SafetyMargin: %v, SOAPEndpoint: %s, NetworkCode: %s, MaxAttempts: %d, InitialBackoff: %v, MaxBackoff: %v, PolicyFile: %s, RedisAddr: %s, RedisPassword: %s, RateLimit: %d/%v}",
		c.Addr, c.ReadTimeout, c.WriteTimeout, c.IdleTimeout,
		c.TokenURL, c.ClientID, redact(c.ClientSecret), c.Scope, c.SafetyMargin,
		c.SOAPEndpoint, c.NetworkCode, c.MaxAttempts, c.InitialBackoff, c.MaxBackoff,
		c.PolicyFile, c.RedisAddr, redact(c.RedisPassword),
		c.RateLimitMaxRequests, c.RateLimitWindow)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}
