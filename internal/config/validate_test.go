package config

import (
	"strings"
	"testing"
	"time"
)

// validConfig returns a valid configuration for testing.
// Tests can override specific fields as needed.
func validConfig() *Config {
	return &Config{
		Addr:                 ":8080",
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         30 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		LogLevel:             "info",
		TokenURL:             "https://oauth2.googleapis.com/token",
		Scope:                "https://www.googleapis.com/auth/dfp",
		SafetyMargin:         time.Minute,
		DefaultTokenTTL:      time.Hour,
		OAuthTimeout:         10 * time.Second,
		SOAPEndpoint:         "https://ads.google.com/apis/ads/publisher/v202308",
		SOAPTimeout:          30 * time.Second,
		MaxAttempts:          3,
		InitialBackoff:       300 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
		BackoffJitter:        0.5,
		RateLimitWindow:      time.Minute,
		RateLimitMaxRequests: 100,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(c *Config)
		errContains string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty addr", mutate: func(c *Config) { c.Addr = "" }, errContains: "SERVER_ADDR"},
		{name: "zero read timeout", mutate: func(c *Config) { c.ReadTimeout = 0 }, errContains: "SERVER_READ_TIMEOUT"},
		{name: "negative idle timeout", mutate: func(c *Config) { c.IdleTimeout = -time.Second }, errContains: "SERVER_IDLE_TIMEOUT"},
		{name: "zero idle timeout allowed", mutate: func(c *Config) { c.IdleTimeout = 0 }},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, errContains: "LOG_LEVEL"},
		{name: "relative token url", mutate: func(c *Config) { c.TokenURL = "/token" }, errContains: "absolute"},
		{name: "ftp token url", mutate: func(c *Config) { c.TokenURL = "ftp://idp.example.com/token" }, errContains: "http or https"},
		{name: "secret without id", mutate: func(c *Config) { c.ClientSecret = "x" }, errContains: "set together"},
		{name: "ttl not above margin", mutate: func(c *Config) { c.DefaultTokenTTL = time.Minute }, errContains: "OAUTH_DEFAULT_TOKEN_TTL"},
		{name: "empty soap endpoint", mutate: func(c *Config) { c.SOAPEndpoint = "" }, errContains: "SOAP_ENDPOINT"},
		{name: "localhost soap endpoint over http", mutate: func(c *Config) { c.SOAPEndpoint = "http://localhost:8081/apis" }},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }, errContains: "SOAP_MAX_ATTEMPTS"},
		{name: "max backoff below initial", mutate: func(c *Config) { c.MaxBackoff = time.Millisecond }, errContains: "SOAP_MAX_BACKOFF"},
		{name: "jitter above one", mutate: func(c *Config) { c.BackoffJitter = 1.5 }, errContains: "SOAP_BACKOFF_JITTER"},
		{name: "negative rate limit", mutate: func(c *Config) { c.RateLimitMaxRequests = -1 }, errContains: "RATE_LIMIT_MAX_REQUESTS"},
		{name: "disabled rate limit ignores window", mutate: func(c *Config) { c.RateLimitMaxRequests = 0; c.RateLimitWindow = 0 }},
		{
			name: "policy status out of range",
			mutate: func(c *Config) {
				c.Policy = &Policy{Statuses: StatusPolicy{Permission: 200}}
			},
			errContains: "statuses.permission",
		},
		{
			name: "policy rule without prefix",
			mutate: func(c *Config) {
				c.Policy = &Policy{Faults: []FaultRule{{Class: "transient"}}}
			},
			errContains: "prefix is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.errContains)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Validate() error = %q, want to contain %q", err.Error(), tt.errContains)
			}
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	t.Parallel()

	if err := Validate(nil); err == nil {
		t.Error("Validate(nil) should return error")
	}
}

func TestIsLocalhost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"localhost:8080", true},
		{"127.0.0.1", true},
		{"127.0.0.1:9000", true},
		{"example.com", false},
		{"localhost.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			t.Parallel()
			if got := isLocalhost(tt.host); got != tt.want {
				t.Errorf("isLocalhost(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}
