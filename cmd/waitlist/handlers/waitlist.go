package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hellocng/deepstack-sub002/cmd/waitlist/middleware"
	"github.com/hellocng/deepstack-sub002/cmd/waitlist/service"
	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/labstack/echo/v4"
)

// WaitlistHandler handles waitlist requests scoped to a room
type WaitlistHandler struct {
	waitlist *service.WaitlistService
	log      *logger.Logger
}

// NewWaitlistHandler creates a new waitlist handler
func NewWaitlistHandler(waitlist *service.WaitlistService, log *logger.Logger) *WaitlistHandler {
	return &WaitlistHandler{
		waitlist: waitlist,
		log:      log,
	}
}

// Join adds a player to a game's waitlist
// POST /rooms/:room/waitlist
func (h *WaitlistHandler) Join(c echo.Context) error {
	var req struct {
		GameID   string `json:"gameId"`
		PlayerID string `json:"playerId"`
	}

	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// Players join as themselves; staff may queue someone else
	caller := middleware.GetUsername(c)
	playerID := req.PlayerID
	if playerID == "" {
		playerID = caller
	}
	if playerID != caller && !middleware.GetRole(c).IsStaff() {
		return forbidden(c)
	}

	entry, err := h.waitlist.Join(c.Request().Context(), c.Param("room"), req.GameID, playerID)
	if err != nil {
		return h.writeError(c, "join", err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}

// List returns a game's active waitlist in queue order
// GET /rooms/:room/waitlist?gameId=nlh-2-5
func (h *WaitlistHandler) List(c echo.Context) error {
	gameID := c.QueryParam("gameId")
	if gameID == "" {
		return badRequest(c, "gameId is required")
	}

	entries, err := h.waitlist.ListPartition(c.Request().Context(), c.Param("room"), gameID)
	if err != nil {
		return h.writeError(c, "list", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
		"count":   len(entries),
	})
}

// Get returns one entry
// GET /rooms/:room/waitlist/:id
func (h *WaitlistHandler) Get(c echo.Context) error {
	entry, err := h.entryInRoom(c, c.Param("id"))
	if err != nil {
		return h.writeError(c, "get", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}

// History returns an entry's recorded mutations with a snapshot after each
// GET /rooms/:room/waitlist/:id/history
func (h *WaitlistHandler) History(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	entry, err := h.entryInRoom(c, id)
	if err != nil {
		return h.writeError(c, "history", err)
	}
	if !ownsOrStaff(c, entry) {
		return forbidden(c)
	}

	steps, err := h.waitlist.History(ctx, id)
	if err != nil {
		return h.writeError(c, "history", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"history": steps,
		"count":   len(steps),
	})
}

// MoveUp swaps an entry with the one ahead of it
// POST /rooms/:room/waitlist/:id/move-up
func (h *WaitlistHandler) MoveUp(c echo.Context) error {
	return h.move(c, "move_up", h.waitlist.MoveUp)
}

// MoveDown swaps an entry with the one behind it
// POST /rooms/:room/waitlist/:id/move-down
func (h *WaitlistHandler) MoveDown(c echo.Context) error {
	return h.move(c, "move_down", h.waitlist.MoveDown)
}

func (h *WaitlistHandler) move(c echo.Context, op string, fn func(ctx context.Context, id string) (bool, error)) error {
	id := c.Param("id")

	if _, err := h.entryInRoom(c, id); err != nil {
		return h.writeError(c, op, err)
	}

	moved, err := fn(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, op, err)
	}

	// A move at the edge of the queue is a successful no-op
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"moved":   moved,
	})
}

// Cancel removes an entry from the queue. Staff may cancel any entry,
// players only their own.
// POST /rooms/:room/waitlist/cancel
func (h *WaitlistHandler) Cancel(c echo.Context) error {
	var req struct {
		EntryID string `json:"entryId"`
	}

	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.EntryID == "" {
		return badRequest(c, "entryId is required")
	}

	entry, err := h.entryInRoom(c, req.EntryID)
	if err != nil {
		return h.writeError(c, "cancel", err)
	}
	if !ownsOrStaff(c, entry) {
		return forbidden(c)
	}

	cancelled, err := h.waitlist.Cancel(c.Request().Context(), req.EntryID, middleware.GetUsername(c))
	if err != nil {
		return h.writeError(c, "cancel", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"entry":   cancelled,
	})
}

// CallIn marks an entry as called in
// POST /rooms/:room/waitlist/:id/call-in
func (h *WaitlistHandler) CallIn(c echo.Context) error {
	return h.transition(c, "call_in", h.waitlist.CallIn)
}

// Notify marks an entry as notified that a seat is open
// POST /rooms/:room/waitlist/:id/notify
func (h *WaitlistHandler) Notify(c echo.Context) error {
	return h.transition(c, "notify", h.waitlist.Notify)
}

// Seat marks a notified entry as seated
// POST /rooms/:room/waitlist/:id/seat
func (h *WaitlistHandler) Seat(c echo.Context) error {
	return h.transition(c, "seat", h.waitlist.Seat)
}

func (h *WaitlistHandler) transition(c echo.Context, op string, fn func(ctx context.Context, id string) (*models.WaitlistEntry, error)) error {
	id := c.Param("id")

	if _, err := h.entryInRoom(c, id); err != nil {
		return h.writeError(c, op, err)
	}

	entry, err := fn(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, op, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}

// entryInRoom loads an entry and hides entries of other rooms
func (h *WaitlistHandler) entryInRoom(c echo.Context, id string) (*models.WaitlistEntry, error) {
	entry, err := h.waitlist.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if entry.RoomID != c.Param("room") {
		return nil, fmt.Errorf("%w: %s", service.ErrNotFound, id)
	}
	return entry, nil
}

func ownsOrStaff(c echo.Context, entry *models.WaitlistEntry) bool {
	return middleware.GetRole(c).IsStaff() || entry.PlayerID == middleware.GetUsername(c)
}

// StatusFor maps service errors onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrIllegalTransition),
		errors.Is(err, service.ErrNotActive),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyQueued),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrStoreFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *WaitlistHandler) writeError(c echo.Context, op string, err error) error {
	status := StatusFor(err)

	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		h.log.WithContext(c.Request().Context()).Error("waitlist request failed", "op", op, "error", err)
		message = "internal error"
	case http.StatusServiceUnavailable:
		message = service.ErrStoreFailure.Error()
	}

	return c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, map[string]interface{}{
		"success": false,
		"error":   "not allowed in this room",
	})
}
