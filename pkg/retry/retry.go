// Package retry provides retry logic with exponential backoff for cache operations
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/objectfs/tiercache/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`

	// Jitter spreads delays by ±20%
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists codes retried even when the error is not flagged retryable
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry runs after a failed attempt and before the wait for the next one.
	// Returning an error aborts the loop with that error.
	OnRetry func(ctx context.Context, attempt int, err error) error `yaml:"-" json:"-"`
}

// DefaultConfig returns the configuration used for durable medium calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeConnectionTimeout,
			errors.ErrCodeConnectionFailed,
			errors.ErrCodeServiceUnavailable,
			errors.ErrCodeOperationTimeout,
		},
	}
}

// PersistWriteConfig retries a failed persistent write exactly once.
// The caller supplies OnRetry to free space before the second attempt.
func PersistWriteConfig(onRetry func(ctx context.Context, attempt int, err error) error) Config {
	return Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodePersistenceWrite,
			errors.ErrCodeQuotaExceeded,
		},
		OnRetry: onRetry,
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 50 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 2 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// Do executes fn until it succeeds, returns a non-retryable error, or
// attempts run out. The final error wraps the last failure.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("operation canceled after %d attempts: %w", attempt-1, lastErr)
			}
			return fmt.Errorf("operation canceled: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		if r.config.OnRetry != nil {
			if hookErr := r.config.OnRetry(ctx, attempt, err); hookErr != nil {
				return hookErr
			}
		}

		timer := time.NewTimer(r.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

// shouldRetry determines if an error is retryable
func (r *Retryer) shouldRetry(err error) bool {
	var cacheErr *errors.CacheError
	if !stderr.As(err, &cacheErr) {
		return false
	}
	if cacheErr.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if cacheErr.Code == code {
			return true
		}
	}
	return false
}

// calculateDelay returns initialDelay * multiplier^(attempt-1), capped and jittered.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// MaxAttempts reports the configured attempt limit.
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}
