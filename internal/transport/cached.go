package transport

import (
	"context"
	"log/slog"

	"ChatCore/internal/backend"
	"ChatCore/internal/cache"
)

// WithCache serves repeated identical requests from c. Only 2xx responses
// are stored.
func WithCache(next Transport, c *cache.Cache, logger *slog.Logger) Transport {
	if c == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Func(func(ctx context.Context, body backend.ChatRequestBody) (Response, error) {
		cacheKey := cache.GenerateCacheKey(body)
		if cached, ok := c.Get(cacheKey); ok {
			logger.Info("cache hit", "key", cacheKey[:16])
			return Response{StatusCode: cached.StatusCode, Body: cached.Body}, nil
		}

		resp, err := next.Send(ctx, body)
		if err != nil {
			return resp, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.Put(cacheKey, resp.StatusCode, resp.Body)
			logger.Info("cached response", "key", cacheKey[:16])
		}
		return resp, nil
	})
}
