package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/middleware"
)

// ServerErrorMessage is the body text of every 5xx response.
const ServerErrorMessage = "Server error"

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// NewUserResponse creates a UserResponse from a domain.User.
func NewUserResponse(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{ID: u.ID, Username: u.Username}
}

// PresenceResponse lists online users.
type PresenceResponse struct {
	OnlineUsers []string `json:"online_users"`
	Count       int      `json:"count"`
}

// WriteError maps a domain error to its HTTP response. Errors without a
// domain kind are returned unchanged so the server's error handler logs them
// with a stack trace.
func WriteError(c echo.Context, err error) error {
	logger := middleware.FromContext(c.Request().Context())
	var derr *domain.Error
	message := err.Error()
	if errors.As(err, &derr) && derr.Message != "" {
		message = derr.Message
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: "validation_failed"})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: message, Code: "not_found"})
	case errors.Is(err, domain.ErrConflict):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: message, Code: "conflict"})
	case errors.Is(err, domain.ErrStoreUnavailable):
		logger.Error("Store unavailable", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ServerErrorMessage})
	}
	return err
}
