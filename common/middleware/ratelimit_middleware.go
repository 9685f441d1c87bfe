package middleware

import (
	"context"
	"net/http"

	"github.com/hellocng/deepstack-sub002/common/ratelimit"
	"github.com/labstack/echo/v4"
)

// UserKey is the echo context key holding the authenticated user id
const UserKey = "username"

// UserLimiter is the part of ratelimit.RateLimiter the middleware needs
type UserLimiter interface {
	CheckUserLimit(ctx context.Context, roomID, userID string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error)
}

// UserRateLimitMiddleware limits mutations per user and room.
// Requires the user id in context (set by the identity middleware).
// Fails open when the limiter errors.
func UserRateLimitMiddleware(limiter UserLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username, ok := c.Get(UserKey).(string)
			if !ok || username == "" {
				return next(c)
			}

			roomID := c.Param("room")
			result, err := limiter.CheckUserLimit(c.Request().Context(), roomID, username, limit, ratelimit.DefaultWindowSeconds)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "user_rate_limit_exceeded",
					"message": "You have exceeded your request quota. Please wait before trying again.",
					"details": map[string]interface{}{
						"username":            username,
						"room":                roomID,
						"limit":               result.Limit,
						"window":              "60 seconds",
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
