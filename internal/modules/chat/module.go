package chat

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/middleware"
	"github.com/nfrund/duochat/internal/module"
	"github.com/nfrund/duochat/internal/registry"
)

var (
	_ module.Module  = (*ChatModule)(nil)
	_ module.Drainer = (*ChatModule)(nil)
)

// ServiceKey exposes the chat service to other modules and the CLI.
var ServiceKey = registry.Key[*Service]("chat.service")

// ChatModule mounts the message and user routes and drains in-flight pushes
// at shutdown.
type ChatModule struct {
	svc      *Service
	activity *ActivitySubscriber
}

// New creates a new instance of the ChatModule.
func New() *ChatModule {
	return &ChatModule{}
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// Register builds the chat service from the core services.
func (m *ChatModule) Register(reg *registry.Registry) error {
	store := registry.MustGet(reg, registry.StoreKey)
	router := registry.MustGet(reg, registry.RouterKey)
	publisher, _ := registry.Get(reg, registry.PublisherKey)

	m.svc = NewService(store, store, router, publisher)
	return registry.Provide(reg, ServiceKey, m.svc)
}

// Boot sets up the routes and starts background services for the chat module.
// The server mounts us under /api.
func (m *ChatModule) Boot(ctx context.Context, g *echo.Group, reg *registry.Registry) error {
	if subscriber, ok := registry.Get(reg, registry.SubscriberKey); ok && subscriber != nil {
		m.activity = NewActivitySubscriber(subscriber)
		if err := m.activity.Start(ctx); err != nil {
			return err
		}
	}

	sendRate := 0.0
	if cfg := reg.Config(); cfg != nil {
		sendRate = cfg.GetSendRate()
	}

	slog.Info("Booting ChatModule: Setting up routes...")
	handler := NewHandler(m.svc)

	g.POST("/messages", handler.SendMessage, middleware.RateLimiter(sendRate))
	g.GET("/messages/:senderId/:receiverId", handler.GetConversation)

	g.GET("/users", handler.ListUsers)
	g.POST("/users", handler.CreateUser)
	g.GET("/users/:userId", handler.GetUser)
	return nil
}

// Drain waits for in-flight pushes to settle.
func (m *ChatModule) Drain(ctx context.Context) error {
	slog.Info("Shutting down ChatModule...")
	if m.svc == nil {
		return nil
	}
	return m.svc.Drain(ctx)
}
