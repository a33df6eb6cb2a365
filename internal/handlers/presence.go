package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// OnlineLister is the part of the presence registry the handler reads.
type OnlineLister interface {
	OnlineUsers() []string
}

// PresenceHandler handles presence-related HTTP requests
type PresenceHandler struct {
	presence OnlineLister
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(presence OnlineLister) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// GetPresence returns the current online users as JSON
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	if h.presence == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence service not available"})
	}
	users := h.presence.OnlineUsers()
	return c.JSON(http.StatusOK, PresenceResponse{OnlineUsers: users, Count: len(users)})
}
