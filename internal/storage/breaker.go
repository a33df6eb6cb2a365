package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nfrund/duochat/internal/domain"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker around a store.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive backend failures that opens the breaker.
	MaxFailures uint32
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

// BreakerStore fails fast with ErrStoreUnavailable while the wrapped backend
// is failing. Validation, not-found and conflict errors are caller mistakes
// and never count against the backend.
type BreakerStore struct {
	next domain.Store
	cb   *gobreaker.CircuitBreaker
}

var _ domain.Store = (*BreakerStore)(nil)

// NewBreakerStore wraps next.
func NewBreakerStore(next domain.Store, name string, settings BreakerSettings) *BreakerStore {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 10 * time.Second
	}
	logger := slog.Default().With("service", "storage", "breaker", name)

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Store circuit breaker changed state", "from", from.String(), "to", to.String())
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// State exposes the breaker state for health reporting.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func run[T any](b *BreakerStore, op string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, domain.Unavailable(op, err)
	}
	if err != nil {
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

func (b *BreakerStore) Append(ctx context.Context, sender, receiver, content string) (*domain.Message, error) {
	return run(b, "storage.append", func() (*domain.Message, error) {
		return b.next.Append(ctx, sender, receiver, content)
	})
}

func (b *BreakerStore) ListConversation(ctx context.Context, a, c string) ([]domain.Message, error) {
	return run(b, "storage.list_conversation", func() ([]domain.Message, error) {
		return b.next.ListConversation(ctx, a, c)
	})
}

func (b *BreakerStore) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	return run(b, "storage.create_user", func() (*domain.User, error) {
		return b.next.CreateUser(ctx, username)
	})
}

func (b *BreakerStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return run(b, "storage.get_user", func() (*domain.User, error) {
		return b.next.GetUser(ctx, id)
	})
}

func (b *BreakerStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return run(b, "storage.find_user", func() (*domain.User, error) {
		return b.next.FindUserByUsername(ctx, username)
	})
}

func (b *BreakerStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	return run(b, "storage.list_users", func() ([]domain.User, error) {
		return b.next.ListUsers(ctx)
	})
}

func (b *BreakerStore) Close() error {
	return b.next.Close()
}

// Ping checks the wrapped backend through the breaker. Backends without a
// Ping are reported healthy.
func (b *BreakerStore) Ping(ctx context.Context) error {
	p, ok := b.next.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	_, err := run(b, "storage.ping", func() (struct{}, error) {
		return struct{}{}, p.Ping(ctx)
	})
	return err
}
