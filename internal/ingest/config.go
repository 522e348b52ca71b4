package ingest

import (
	"context"
	"errors"
	"time"
)

// Default values for WebSocket reconnection configuration.
const (
	DefaultBaseDelay        = 100 * time.Millisecond
	DefaultMaxDelay         = 30 * time.Second
	DefaultJitterFactor     = 0.5 // 50% jitter
	DefaultMaxRetryAttempts = 5   // Attempts before escalating to error logs
)

// Configuration errors.
var (
	ErrEmptyURL        = errors.New("firehose URL cannot be empty")
	ErrInvalidDelay    = errors.New("base delay must be positive")
	ErrInvalidMaxDelay = errors.New("max delay must be >= base delay")
	ErrInvalidJitter   = errors.New("jitter factor must be between 0 and 1")
	ErrInvalidRetries  = errors.New("max retry attempts cannot be negative")
)

// Config holds configuration for the firehose WebSocket client.
type Config struct {
	// URL is the firehose WebSocket endpoint URL.
	URL string

	// BaseDelay is the initial delay before the first reconnect attempt.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between reconnect attempts.
	MaxDelay time.Duration

	// JitterFactor is the fraction of delay to randomize (0.0 to 1.0).
	// A value of 0.5 means the actual delay will be in [delay*0.75, delay*1.25].
	JitterFactor float64

	// MaxRetryAttempts is the number of consecutive reconnection attempts
	// after which failures are logged at error level instead of warning.
	// The client never stops retrying. Set to 0 to disable the escalation.
	MaxRetryAttempts int64

	// CursorFunc optionally supplies the resume cursor appended to the
	// dial URL as a "cursor" query parameter on every connection attempt,
	// so the upstream replays from the last applied position. A cursor of
	// zero or below dials the plain URL.
	CursorFunc func(ctx context.Context) (int64, error)
}

// DefaultConfig returns a Config with sensible default values.
// The URL must be provided by the caller.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		BaseDelay:        DefaultBaseDelay,
		MaxDelay:         DefaultMaxDelay,
		JitterFactor:     DefaultJitterFactor,
		MaxRetryAttempts: DefaultMaxRetryAttempts,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.URL == "" {
		return ErrEmptyURL
	}
	if c.BaseDelay <= 0 {
		return ErrInvalidDelay
	}
	if c.MaxDelay < c.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidJitter
	}
	if c.MaxRetryAttempts < 0 {
		return ErrInvalidRetries
	}
	return nil
}
