package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/duochat/internal/config"
	"github.com/nfrund/duochat/internal/database"
	"github.com/nfrund/duochat/internal/delivery"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/presence"
	"github.com/nfrund/duochat/internal/pubsub"
	"github.com/nfrund/duochat/internal/registry"
	"github.com/nfrund/duochat/internal/storage"
)

// Dependencies holds the core services that are required by the application's modules.
// It is built once by the entrypoint and handed to the server.
type Dependencies struct {
	Config   config.Provider
	Store    domain.Store
	Bus      pubsub.Bus
	Presence *presence.Registry
	Router   *delivery.Router

	shutdownTracing func(context.Context) error
}

// NewDependencies opens the configured store and builds the event bus,
// presence registry and delivery router on top of it.
func NewDependencies(ctx context.Context, cfg config.Provider) (*Dependencies, error) {
	tracer, shutdownTracing, err := pubsub.SetupOTel(ctx, pubsub.TracingConfig{
		Enabled:     cfg.GetTracingEnabled(),
		ServiceName: cfg.GetTracingServiceName(),
		ZipkinURL:   cfg.GetZipkinURL(),
	})
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	bus := pubsub.NewWatermillBridge(pubsub.WithTracer(tracer))
	pres := presence.NewRegistry(bus, presence.WithShards(cfg.GetPresenceShards()))

	return &Dependencies{
		Config:          cfg,
		Store:           store,
		Bus:             bus,
		Presence:        pres,
		Router:          delivery.NewRouter(pres, bus),
		shutdownTracing: shutdownTracing,
	}, nil
}

// OpenStore opens the backend named by the store driver setting and wraps it
// in a circuit breaker.
func OpenStore(ctx context.Context, cfg config.Provider) (*storage.BreakerStore, error) {
	var backend domain.Store
	switch cfg.GetStoreDriver() {
	case config.DriverSurreal:
		s, err := database.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open surreal store: %w", err)
		}
		backend = s
	case config.DriverBadger:
		s, err := storage.Open(storage.Options{
			Dir:              cfg.GetDataDir(),
			MaxContentLength: cfg.GetMaxContentLength(),
		})
		if err != nil {
			return nil, err
		}
		backend = s
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.GetStoreDriver())
	}

	return storage.NewBreakerStore(backend, cfg.GetStoreDriver(), storage.BreakerSettings{
		MaxFailures: cfg.GetBreakerMaxFailures(),
		Cooldown:    cfg.GetBreakerCooldown(),
	}), nil
}

// Populate registers the core services under the shared registry keys.
func (d *Dependencies) Populate(reg *registry.Registry) {
	registry.Set(reg, registry.StoreKey, d.Store)
	registry.Set(reg, registry.PublisherKey, pubsub.Publisher(d.Bus))
	registry.Set(reg, registry.SubscriberKey, pubsub.Subscriber(d.Bus))
	registry.Set(reg, registry.PresenceKey, d.Presence)
	registry.Set(reg, registry.RouterKey, d.Router)
}

// Close releases the bus, the store and the tracer, in that order.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.Bus != nil {
		if err := d.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if d.shutdownTracing != nil {
		if err := d.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("Core services closed")
	return nil
}
