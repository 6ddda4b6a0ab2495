package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRateLimitConfig configures the shared fixed-window limiter.
type RedisRateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	KeyPrefix         string
}

// RedisRateLimitWithKey returns rate limiting middleware backed by a shared
// Redis counter, so the per-token budget holds across replicas. The window is
// a fixed-window INCR+EXPIRE counter. Redis failures fail open with a logged
// warning: losing the shared budget briefly is better than taking the
// signing surface down with it.
func RedisRateLimitWithKey(rdb *redis.Client, cfg RedisRateLimitConfig, key KeyFunc, log zerolog.Logger) echo.MiddlewareFunc {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			k := key(c)
			if k == "" {
				return next(c)
			}

			ctx := c.Request().Context()
			window := time.Now().Unix() / int64(cfg.Window.Seconds())
			redisKey := fmt.Sprintf("%s:%s:%d", cfg.KeyPrefix, k, window)

			pipe := rdb.TxPipeline()
			count := pipe.Incr(ctx, redisKey)
			pipe.Expire(ctx, redisKey, cfg.Window)
			if _, err := pipe.Exec(ctx); err != nil {
				log.Warn().Err(err).Msg("redis rate limiter unavailable; failing open")
				return next(c)
			}

			if count.Val() > int64(cfg.RequestsPerWindow) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			remaining := int64(cfg.RequestsPerWindow) - count.Val()
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			return next(c)
		}
	}
}
