// Package server assembles the HTTP surface: REST routes mounted by the
// application modules, the real-time gateway, presence, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/duochat/internal/app"
	"github.com/nfrund/duochat/internal/config"
	"github.com/nfrund/duochat/internal/connection"
	"github.com/nfrund/duochat/internal/gateway"
	"github.com/nfrund/duochat/internal/handlers"
	"github.com/nfrund/duochat/internal/middleware"
	"github.com/nfrund/duochat/internal/module"
	"github.com/nfrund/duochat/internal/registry"
	"golang.org/x/time/rate"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	E        *echo.Echo
	Cfg      config.Provider
	Deps     *app.Dependencies
	Gateway  *gateway.Gateway
	Registry *registry.Registry

	modules []module.Module
	cancel  context.CancelFunc
}

// New creates the echo instance, installs the global middleware and builds
// the gateway. Call InitModules and RegisterRoutes before serving.
func New(deps *app.Dependencies) *Server {
	cfg := deps.Config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.GetAllowedOrigin()},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
	setupErrorHandling(e)

	gw := gateway.New(deps.Presence, deps.Bus, gateway.Options{
		OriginPatterns: cfg.OriginPatterns(),
		Connection: connection.Options{
			PushTimeout: cfg.GetPushTimeout(),
			SendBuffer:  cfg.GetSendBuffer(),
		},
		FrameRate:    rate.Limit(cfg.GetFrameRate()),
		FrameBurst:   cfg.GetFrameBurst(),
		PingInterval: cfg.GetPingInterval(),
	})

	reg := registry.New(cfg)
	deps.Populate(reg)

	return &Server{
		E:        e,
		Cfg:      cfg,
		Deps:     deps,
		Gateway:  gw,
		Registry: reg,
	}
}

// InitModules runs the Register phase of every module and then the Boot
// phase, mounting module routes under /api. Background work started by a
// module lives until Shutdown.
func (s *Server) InitModules(ctx context.Context, modules []module.Module) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.modules = modules

	for _, m := range modules {
		slog.Info("Registering module", "module", m.Name())
		if err := m.Register(s.Registry); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}
	slog.Debug("Services registered", "services", s.Registry.Names())

	api := s.E.Group("/api")
	for _, m := range modules {
		if err := m.Boot(ctx, api, s.Registry); err != nil {
			return fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
	}
	return nil
}

// setupErrorHandling maps errors that escaped a handler. echo's own HTTP
// errors keep their status; anything else is logged with a stack trace and
// answered with a generic 500.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		if he, ok := err.(*echo.HTTPError); ok {
			msg := http.StatusText(he.Code)
			if m, ok := he.Message.(string); ok {
				msg = m
			}
			_ = c.JSON(he.Code, handlers.ErrorResponse{Error: msg})
			return
		}

		logger := middleware.FromContext(c.Request().Context())
		logger.Error("Internal Server Error (Unhandled)",
			"error", err,
			"stack_trace", string(debug.Stack()),
		)
		_ = c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{Error: handlers.ServerErrorMessage})
	}
}
