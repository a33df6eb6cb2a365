// Package module defines the lifecycle of the feature modules the server
// mounts under /api.
package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/registry"
)

// Module is a feature mounted on the server. Register runs for every module
// before any Boot, so Boot may rely on services another module provided.
type Module interface {
	Name() string
	Register(reg *registry.Registry) error
	Boot(ctx context.Context, api *echo.Group, reg *registry.Registry) error
}

// Drainer is implemented by modules that still hold in-flight work when the
// listener and the gateway have stopped.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Drain drains every module that implements Drainer, last booted first, and
// joins their errors.
func Drain(ctx context.Context, modules []Module) error {
	var errs []error
	for i := len(modules) - 1; i >= 0; i-- {
		d, ok := modules[i].(Drainer)
		if !ok {
			continue
		}
		if err := d.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("module %s: %w", modules[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}
