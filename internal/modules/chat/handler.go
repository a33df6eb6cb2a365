package chat

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/handlers"
)

// Handler holds dependencies for the chat module's HTTP handlers.
type Handler struct {
	svc      *Service
	validate *handlers.CustomValidator
}

// NewHandler creates a new chat handler with its dependencies.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: handlers.NewValidator()}
}

// SendMessage persists a message and pushes it to both participants.
func (h *Handler) SendMessage(c echo.Context) error {
	var req handlers.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return handlers.WriteError(c, domain.Validationf("chat.send", "malformed request body"))
	}
	if err := h.validate.Validate(&req); err != nil {
		return handlers.WriteError(c, err)
	}

	msg, err := h.svc.Send(c.Request().Context(), req.SenderID, req.ReceiverID, req.Content)
	if err != nil {
		return handlers.WriteError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// GetConversation returns the history between two users, oldest first.
func (h *Handler) GetConversation(c echo.Context) error {
	msgs, err := h.svc.History(c.Request().Context(), c.Param("senderId"), c.Param("receiverId"))
	if err != nil {
		return handlers.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, msgs)
}

// ListUsers returns every user as {id, username}.
func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.svc.ListUsers(c.Request().Context())
	if err != nil {
		return handlers.WriteError(c, err)
	}
	out := make([]*handlers.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, handlers.NewUserResponse(&users[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// GetUser returns the user, or null when the id is unknown.
func (h *Handler) GetUser(c echo.Context) error {
	u, err := h.svc.GetUser(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return handlers.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, handlers.NewUserResponse(u))
}

// CreateUser provisions a user with a unique username.
func (h *Handler) CreateUser(c echo.Context) error {
	var req handlers.CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return handlers.WriteError(c, domain.Validationf("chat.create_user", "malformed request body"))
	}
	if err := h.validate.Validate(&req); err != nil {
		return handlers.WriteError(c, err)
	}

	u, err := h.svc.CreateUser(c.Request().Context(), req.Username)
	if err != nil {
		return handlers.WriteError(c, err)
	}
	return c.JSON(http.StatusCreated, handlers.NewUserResponse(u))
}
