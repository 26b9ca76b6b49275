package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy tunes upstream fault handling without a rebuild.
type Policy struct {
	Retry    RetryPolicy  `yaml:"retry"`
	Faults   []FaultRule  `yaml:"faults"`
	Statuses StatusPolicy `yaml:"statuses"`
}

// RetryPolicy overrides the SOAP_* retry variables. Zero values leave the
// environment setting in place.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Jitter         *float64      `yaml:"jitter"`
}

// FaultRule maps a fault reason prefix to a fault class. Rules are consulted
// before the built-in table, in file order.
type FaultRule struct {
	Prefix string `yaml:"prefix"`
	Class  string `yaml:"class"`
}

// StatusPolicy overrides the envelope status used for each fault class.
// Zero values keep the defaults.
type StatusPolicy struct {
	Validation  int `yaml:"validation"`
	Permission  int `yaml:"permission"`
	NotFound    int `yaml:"not_found"`
	Unavailable int `yaml:"unavailable"`
}

// FaultClasses lists the class names a FaultRule may use.
var FaultClasses = []string{"transient", "auth", "validation", "permission", "malformed", "not_found"}

// LoadPolicy reads and parses a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return &p, nil
}

func (c *Config) applyPolicy(p *Policy) {
	c.Policy = p
	if p.Retry.MaxAttempts != 0 {
		c.MaxAttempts = p.Retry.MaxAttempts
	}
	if p.Retry.InitialBackoff != 0 {
		c.InitialBackoff = p.Retry.InitialBackoff
	}
	if p.Retry.MaxBackoff != 0 {
		c.MaxBackoff = p.Retry.MaxBackoff
	}
	if p.Retry.Jitter != nil {
		c.BackoffJitter = *p.Retry.Jitter
	}
}
