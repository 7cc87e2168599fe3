package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ChatCore/internal/backend"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig controls the retrying decorator
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
}

// retryableStatus carries a response whose status is worth another attempt
type retryableStatus struct {
	resp Response
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("status %d", e.resp.StatusCode)
}

// WithRetry wraps next with exponential backoff. Network failures, 429 and
// 5xx responses are retried; configuration errors and cancellation are not.
// When retries run out on a status, the last response is returned as data.
func WithRetry(next Transport, cfg RetryConfig) Transport {
	if cfg.MaxRetries <= 0 {
		return next
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return Func(func(ctx context.Context, body backend.ChatRequestBody) (Response, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialInterval
		b.MaxInterval = cfg.MaxInterval

		attempt := 0
		operation := func() (Response, error) {
			attempt++
			resp, err := next.Send(ctx, body)
			if err != nil {
				if ctx.Err() != nil || backend.IsConfigurationError(err) {
					return Response{}, backoff.Permanent(err)
				}
				return Response{}, err
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return resp, &retryableStatus{resp: resp}
			}
			return resp, nil
		}
		notify := func(err error, wait time.Duration) {
			logger.Warn("retrying chat completion", "attempt", attempt, "error", err, "wait", wait.String())
		}

		resp, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(b),
			backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
			backoff.WithNotify(notify),
		)
		var rs *retryableStatus
		if errors.As(err, &rs) {
			return rs.resp, nil
		}
		if err != nil {
			return Response{}, err
		}
		return resp, nil
	})
}
