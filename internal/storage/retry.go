package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"
)

type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
	// CallTimeout bounds each individual attempt; zero means no
	// per-call deadline.
	CallTimeout time.Duration
	OnRetry     func(attempt int, err error, nextDelay time.Duration)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.1,
		CallTimeout:   10 * time.Minute,
	}
}

var retryableErrors = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"no such host",
	"TLS handshake timeout",
	"i/o timeout",
	"EOF",
	"broken pipe",
	"SlowDown",
	"InternalError",
	"ServiceUnavailable",
}

var nonRetryableErrors = []string{
	"access denied",
	"AccessDenied",
	"InvalidAccessKeyId",
	"SignatureDoesNotMatch",
	"NoSuchBucket",
	"InvalidBucketName",
	"forbidden",
	"unauthorized",
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errLower := strings.ToLower(err.Error())

	for _, pattern := range nonRetryableErrors {
		if strings.Contains(errLower, strings.ToLower(pattern)) {
			return false
		}
	}

	for _, pattern := range retryableErrors {
		if strings.Contains(errLower, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := float64(cfg.InitialDelay)
		for i := 1; i < attempt; i++ {
			delay *= cfg.BackoffFactor
		}
		if delay > float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
		}

		if cfg.Jitter > 0 {
			jitter := delay * cfg.Jitter * (rand.Float64()*2 - 1)
			delay += jitter
		}

		nextDelay := time.Duration(delay)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, nextDelay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(nextDelay):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// RetryingProvider decorates a Provider with retry-with-backoff on
// transient failures. Uploads retry only when the payload reader can be
// rewound, so callers should pass an io.ReadSeeker for retryable uploads.
type RetryingProvider struct {
	Provider Provider
	Config   RetryConfig
}

func NewRetryingProvider(p Provider, cfg RetryConfig) *RetryingProvider {
	return &RetryingProvider{
		Provider: p,
		Config:   cfg,
	}
}

// attempt runs a single call under the per-call deadline, if one is
// configured. Backoff between attempts still runs against the parent
// context.
func (r *RetryingProvider) attempt(ctx context.Context, fn func(context.Context) error) error {
	if r.Config.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.Config.CallTimeout)
	defer cancel()
	err := fn(callCtx)
	// A tripped per-call deadline is a slow call, not caller
	// cancellation; rewrap it so it stays retryable.
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("call timeout after %s: %v", r.Config.CallTimeout, err)
	}
	return err
}

func (r *RetryingProvider) Upload(ctx context.Context, key string, data io.Reader, metadata map[string]string) error {
	seeker, rewindable := data.(io.ReadSeeker)
	if !rewindable {
		return r.attempt(ctx, func(ctx context.Context) error {
			return r.Provider.Upload(ctx, key, data, metadata)
		})
	}

	return WithRetry(ctx, r.Config, func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind upload payload: %w", err)
		}
		return r.attempt(ctx, func(ctx context.Context) error {
			return r.Provider.Upload(ctx, key, seeker, metadata)
		})
	})
}

func (r *RetryingProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var result []ObjectInfo

	err := WithRetry(ctx, r.Config, func() error {
		return r.attempt(ctx, func(ctx context.Context) error {
			var err error
			result, err = r.Provider.List(ctx, prefix)
			return err
		})
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RetryingProvider) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	var result *ObjectInfo

	err := WithRetry(ctx, r.Config, func() error {
		return r.attempt(ctx, func(ctx context.Context) error {
			var err error
			result, err = r.Provider.Head(ctx, key)
			return err
		})
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RetryingProvider) Delete(ctx context.Context, key string) error {
	return WithRetry(ctx, r.Config, func() error {
		return r.attempt(ctx, func(ctx context.Context) error {
			return r.Provider.Delete(ctx, key)
		})
	})
}
