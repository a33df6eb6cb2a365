package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/handlers"
	"github.com/nfrund/duochat/internal/metrics"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
}

// RegisterRoutes sets up the routes that do not belong to a module.
func (s *Server) RegisterRoutes() {
	presenceHandler := handlers.NewPresenceHandler(s.Deps.Presence)

	s.E.GET("/ws", s.Gateway.Handler())
	s.E.GET("/api/presence", presenceHandler.GetPresence)
	s.E.GET("/health", s.health)
	s.E.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

func (s *Server) health(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Store: "ok", Sessions: s.Gateway.Sessions()}

	if p, ok := s.Deps.Store.(interface {
		Ping(ctx context.Context) error
	}); ok {
		if err := p.Ping(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
