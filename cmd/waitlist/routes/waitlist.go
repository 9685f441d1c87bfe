package routes

import (
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/container"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/handlers"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/middleware"
	commonmw "github.com/hellocng/deepstack-sub002/common/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterWaitlistRoutes registers the room-scoped waitlist routes
func RegisterWaitlistRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWaitlistHandler(c.WaitlistService, c.Components.Logger)

	rooms := roomGroup(e, c)

	// Mutations are rate limited per user when Redis is available
	mutate := mutationMiddleware(c)
	staff := append([]echo.MiddlewareFunc{middleware.RequireStaff()}, mutate...)

	wl := rooms.Group("/waitlist")
	{
		wl.GET("", h.List)                              // GET /rooms/aria/waitlist?gameId=nlh-2-5
		wl.POST("", h.Join, mutate...)                  // POST /rooms/aria/waitlist
		wl.POST("/cancel", h.Cancel, mutate...)         // POST /rooms/aria/waitlist/cancel {entryId}
		wl.GET("/:id", h.Get)                           // GET /rooms/aria/waitlist/{id}
		wl.GET("/:id/history", h.History)               // GET /rooms/aria/waitlist/{id}/history
		wl.POST("/:id/move-up", h.MoveUp, staff...)     // POST /rooms/aria/waitlist/{id}/move-up
		wl.POST("/:id/move-down", h.MoveDown, staff...) // POST /rooms/aria/waitlist/{id}/move-down
		wl.POST("/:id/call-in", h.CallIn, staff...)     // POST /rooms/aria/waitlist/{id}/call-in
		wl.POST("/:id/notify", h.Notify, staff...)      // POST /rooms/aria/waitlist/{id}/notify
		wl.POST("/:id/seat", h.Seat, staff...)          // POST /rooms/aria/waitlist/{id}/seat
	}
}

// RegisterStaffRoutes registers room staff management, admins only
func RegisterStaffRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewStaffHandler(c.AccessService, c.Components.Logger)

	st := roomGroup(e, c).Group("/staff")
	st.Use(middleware.RequireAdmin())
	{
		st.GET("", h.List)            // GET /rooms/aria/staff
		st.PUT("/:user", h.Grant)     // PUT /rooms/aria/staff/{user} {role}
		st.DELETE("/:user", h.Revoke) // DELETE /rooms/aria/staff/{user}
	}
}

// roomGroup identifies the caller and resolves their role in :room
func roomGroup(e *echo.Echo, c *container.Container) *echo.Group {
	rooms := e.Group("/rooms/:room")
	rooms.Use(middleware.ExtractUsernameStrict())
	rooms.Use(middleware.ResolveRoomRole(c.AccessService))
	return rooms
}

func mutationMiddleware(c *container.Container) []echo.MiddlewareFunc {
	if c.RateLimiter == nil {
		return nil
	}
	limit := int64(c.Components.Config.RateLimit.PerMinute)
	return []echo.MiddlewareFunc{commonmw.UserRateLimitMiddleware(c.RateLimiter, limit)}
}
