package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nfrund/duochat/internal/module"
)

// Start serves on the configured address until ctx is canceled, then shuts
// down within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.Cfg.GetListenAddr())
		if err := s.E.Start(s.Cfg.GetListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Cfg.GetShutdownTimeout())
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting sessions and requests, closes live sessions with
// a going-away status, lets modules drain and finally closes the core
// services.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.Gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := module.Drain(ctx, s.modules); err != nil {
		errs = append(errs, err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.Deps.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
	} else {
		slog.Info("Shutdown complete")
	}
	return err
}
