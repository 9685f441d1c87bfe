package handlers

import (
	"net/http"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/models"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/service"
	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/labstack/echo/v4"
)

// StaffHandler manages who may operate a room's waitlists
type StaffHandler struct {
	access *service.AccessService
	log    *logger.Logger
}

// NewStaffHandler creates a new staff handler
func NewStaffHandler(access *service.AccessService, log *logger.Logger) *StaffHandler {
	return &StaffHandler{
		access: access,
		log:    log,
	}
}

// List returns the room's staff grants
// GET /rooms/:room/staff
func (h *StaffHandler) List(c echo.Context) error {
	staff, err := h.access.ListStaff(c.Request().Context(), c.Param("room"))
	if err != nil {
		h.log.Error("failed to list room staff", "room_id", c.Param("room"), "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "failed to list room staff",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"staff":   staff,
		"count":   len(staff),
	})
}

// Grant gives a user a staff role in the room
// PUT /rooms/:room/staff/:user
func (h *StaffHandler) Grant(c echo.Context) error {
	var req struct {
		Role string `json:"role"`
	}

	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	role := models.Role(req.Role)
	if !role.IsStaff() {
		return badRequest(c, "role must be one of dealer, floor, admin")
	}

	if err := h.access.Grant(c.Request().Context(), c.Param("room"), c.Param("user"), role); err != nil {
		h.log.Error("failed to grant room role", "room_id", c.Param("room"), "user_id", c.Param("user"), "error", err)
		return c.JSON(StatusFor(err), map[string]interface{}{
			"success": false,
			"error":   "failed to grant room role",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"role":    role,
	})
}

// Revoke removes a user's staff role in the room
// DELETE /rooms/:room/staff/:user
func (h *StaffHandler) Revoke(c echo.Context) error {
	if err := h.access.Revoke(c.Request().Context(), c.Param("room"), c.Param("user")); err != nil {
		h.log.Error("failed to revoke room role", "room_id", c.Param("room"), "user_id", c.Param("user"), "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "failed to revoke room role",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
