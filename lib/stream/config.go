package stream

import "time"

// Default configuration values.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 60 * time.Second
	DefaultMaxAttempts       = 10
)

// Config tunes the connection. Zero values take the defaults.
type Config struct {
	HeartbeatInterval time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`
	ConnectTimeout    time.Duration `json:"connectTimeout" yaml:"connectTimeout"`
	BaseDelay         time.Duration `json:"baseDelay" yaml:"baseDelay"`
	MaxDelay          time.Duration `json:"maxDelay" yaml:"maxDelay"`
	MaxAttempts       int           `json:"maxAttempts" yaml:"maxAttempts"`
}

func (c *Config) init() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}

	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}

	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Backoff returns min(BaseDelay * 2^attempt, MaxDelay).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return c.BaseDelay
	}

	// 2^31 seconds is far beyond any sane MaxDelay; stop shifting before overflow.
	if attempt > 30 { //nolint:gomnd // see above
		return c.MaxDelay
	}

	d := c.BaseDelay * time.Duration(1<<attempt)
	if d > c.MaxDelay || d <= 0 {
		return c.MaxDelay
	}

	return d
}
