package middleware

import (
	"context"
	"net/http"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/models"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/service"
	commonmw "github.com/hellocng/deepstack-sub002/common/middleware"
	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UsernameKey is the context key for storing the authenticated user id
	UsernameKey ContextKey = commonmw.UserKey

	// RoleKey is the context key for the user's role in the addressed room
	RoleKey ContextKey = "room_role"
)

// RoleResolver looks up a user's role in a room
type RoleResolver interface {
	Role(ctx context.Context, roomID, userID string) (models.Role, error)
}

// ExtractUsernameStrict requires the X-User-ID header and stores it in the
// echo context and, as the acting user, in the request context.
//
// Usage:
//
//	rooms := e.Group("/rooms/:room")
//	rooms.Use(middleware.ExtractUsernameStrict())
//
// Accessing in handlers:
//
//	username := middleware.GetUsername(c)
func ExtractUsernameStrict() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username := c.Request().Header.Get("X-User-ID")

			if username == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-User-ID header is required",
				})
			}

			c.Set(string(UsernameKey), username)
			req := c.Request()
			c.SetRequest(req.WithContext(service.WithActor(req.Context(), username)))

			return next(c)
		}
	}
}

// ResolveRoomRole looks up the caller's role in the :room path parameter.
// Must run after ExtractUsernameStrict.
func ResolveRoomRole(resolver RoleResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			username := GetUsername(c)
			if username == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "authentication required (X-User-ID header missing)",
				})
			}

			role, err := resolver.Role(c.Request().Context(), c.Param("room"), username)
			if err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
					"error": "failed to resolve room access",
				})
			}

			c.Set(string(RoleKey), role)
			return next(c)
		}
	}
}

// RequireStaff rejects callers without a staff role in the room
func RequireStaff() echo.MiddlewareFunc {
	return requireRole(func(r models.Role) bool { return r.IsStaff() })
}

// RequireAdmin rejects callers that are not room admins
func RequireAdmin() echo.MiddlewareFunc {
	return requireRole(func(r models.Role) bool { return r == models.RoleAdmin })
}

func requireRole(allowed func(models.Role) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed(GetRole(c)) {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"error": "not allowed in this room",
				})
			}
			return next(c)
		}
	}
}

// GetUsername retrieves the username from the request context
// Returns empty string if not set
func GetUsername(c echo.Context) string {
	username, _ := c.Get(string(UsernameKey)).(string)
	return username
}

// GetRole returns the caller's role in the addressed room, player when unresolved
func GetRole(c echo.Context) models.Role {
	role, ok := c.Get(string(RoleKey)).(models.Role)
	if !ok {
		return models.RolePlayer
	}
	return role
}
