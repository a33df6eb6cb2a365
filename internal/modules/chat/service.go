package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nfrund/duochat/internal/delivery"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/events"
	"github.com/nfrund/duochat/internal/metrics"
	"github.com/nfrund/duochat/internal/pubsub"
)

// Router is the fan-out side of a send.
type Router interface {
	Route(ctx context.Context, msg *domain.Message) *delivery.Delivery
}

// Service is the send/history use case: persist first, then push.
type Service struct {
	messages  domain.MessageStore
	users     domain.UserStore
	router    Router
	publisher pubsub.Publisher
	logger    *slog.Logger

	locks    domain.ConversationLocks
	inflight sync.WaitGroup
}

// NewService wires a Service. publisher may be nil.
func NewService(messages domain.MessageStore, users domain.UserStore, router Router, publisher pubsub.Publisher) *Service {
	return &Service{
		messages:  messages,
		users:     users,
		router:    router,
		publisher: publisher,
		logger:    slog.Default().With("service", "chat"),
	}
}

// Send appends a message and routes it to the live connections of both
// participants. The append and the enqueue of its pushes happen under the
// conversation's lock, so pushes reach every connection in persisted order.
// Push outcomes settle in the background and never fail Send.
func (s *Service) Send(ctx context.Context, sender, receiver, content string) (*domain.Message, error) {
	if err := domain.ValidateParticipants(sender, receiver); err != nil {
		metrics.AppendFailures.WithLabelValues(errorKind(err)).Inc()
		return nil, err
	}

	mu := s.locks.For(domain.NewConversationKey(sender, receiver))
	mu.Lock()
	msg, err := s.messages.Append(ctx, sender, receiver, content)
	if err != nil {
		mu.Unlock()
		metrics.AppendFailures.WithLabelValues(errorKind(err)).Inc()
		return nil, err
	}
	d := s.router.Route(ctx, msg)
	mu.Unlock()

	metrics.MessagesAppended.Inc()
	s.logger.DebugContext(ctx, "Message stored", "message_id", msg.ID, "sender", sender, "receiver", receiver)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		report := d.Wait(context.WithoutCancel(ctx))
		if report.Attempted() > 0 {
			s.logger.Debug("Message pushed", "message_id", msg.ID, "delivered", report.Delivered, "failed", len(report.Failures))
		}
	}()

	if s.publisher != nil {
		if err := pubsub.Publish(ctx, s.publisher, events.MessageStored, sender, *msg); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish stored message event", "message_id", msg.ID, "error", err)
		}
	}
	return msg, nil
}

// History returns the conversation between a and b, oldest first.
func (s *Service) History(ctx context.Context, a, b string) ([]domain.Message, error) {
	if err := domain.ValidateParticipants(a, b); err != nil {
		return nil, err
	}
	return s.messages.ListConversation(ctx, a, b)
}

// CreateUser provisions a user.
func (s *Service) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	return s.users.CreateUser(ctx, username)
}

// GetUser returns nil without error when the user does not exist.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListUsers(ctx)
}

// EnsureUsers creates each username that does not exist yet.
func (s *Service) EnsureUsers(ctx context.Context, usernames []string) ([]domain.User, error) {
	out := make([]domain.User, 0, len(usernames))
	for _, name := range usernames {
		u, err := s.users.FindUserByUsername(ctx, name)
		if errors.Is(err, domain.ErrNotFound) {
			u, err = s.users.CreateUser(ctx, name)
		}
		if err != nil {
			return out, err
		}
		out = append(out, *u)
	}
	return out, nil
}

// Drain waits until every background push settles or ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	}
	return "other"
}
