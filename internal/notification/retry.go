package notification

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig defines the configuration for retry operations
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries)
	MaxRetries int
	// InitialBackoff is the backoff before the first retry
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff between retries
	MaxBackoff time.Duration
	// BackoffMultiplier grows the backoff after each retry
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the retry configuration used for deliveries
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// withRetry calls fn until it succeeds, retries are exhausted or ctx ends
func withRetry(ctx context.Context, cfg RetryConfig, log *zap.SugaredLogger, fn func(ctx context.Context) error) error {
	backoff := cfg.InitialBackoff
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		log.Debugw("delivery attempt failed, retrying",
			"attempt", attempt+1,
			"maxRetries", cfg.MaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * multiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return err
}
