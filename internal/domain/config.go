package domain

import (
	"time"

	"dario.cat/mergo"
)

type Config struct {
	NodeID string

	// OperationTimeout is the default time budget applied to operations that
	// arrive without an explicit expiration.
	OperationTimeout time.Duration

	Transport TransportConfig
	Retry     RetryConfig
}

type TransportConfig struct {
	Scheme         string
	RequestTimeout time.Duration
	MaxIdleConns   int
}

type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultConfig() *Config {
	return &Config{
		OperationTimeout: 60 * time.Second,
		Transport: TransportConfig{
			Scheme:         "http",
			RequestTimeout: 10 * time.Second,
			MaxIdleConns:   64,
		},
		Retry: RetryConfig{
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
		},
	}
}

// WithDefaults returns a copy of c with unset fields filled from
// DefaultConfig.
func (c *Config) WithDefaults() (*Config, error) {
	out := &Config{}
	if c != nil {
		*out = *c
	}
	if err := mergo.Merge(out, DefaultConfig()); err != nil {
		return nil, Error{Type: ErrorTypeValidation, Message: "config defaults: " + err.Error()}
	}
	return out, nil
}
