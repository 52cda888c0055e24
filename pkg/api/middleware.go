package api

import (
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestLogger logs one structured line per request.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			status := 0
			if res, resErr := echo.UnwrapResponse(c.Response()); resErr == nil {
				status = res.Status
			}
			logger.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"elapsed_ms", time.Since(start).Milliseconds(),
				"user", extractUser(c))
			return err
		}
	}
}

// RateLimiter decides whether a user may make another request. The default
// allows everything; deployments plug their own.
type RateLimiter interface {
	Allow(user string) bool
}

// rateLimit rejects over-limit callers with 429.
func rateLimit(limiter RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if limiter != nil && !limiter.Allow(extractUser(c)) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
