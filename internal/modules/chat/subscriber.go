package chat

import (
	"context"
	"log/slog"

	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/events"
	"github.com/nfrund/duochat/internal/metrics"
	"github.com/nfrund/duochat/internal/pubsub"
)

// ActivitySubscriber listens to the bus and records chat activity in the
// log and in metrics.
type ActivitySubscriber struct {
	subscriber pubsub.Subscriber
	logger     *slog.Logger
}

// NewActivitySubscriber creates a new subscriber service for the chat module.
func NewActivitySubscriber(sub pubsub.Subscriber) *ActivitySubscriber {
	return &ActivitySubscriber{
		subscriber: sub,
		logger:     slog.Default().With("service", "chat.activity"),
	}
}

// Start subscribes to every activity topic. Handlers run until ctx is
// canceled or the bus closes.
func (a *ActivitySubscriber) Start(ctx context.Context) error {
	a.logger.Info("Starting chat activity subscriber")

	if err := pubsub.Subscribe(ctx, a.subscriber, events.MessageStored, a.handleMessageStored); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, a.subscriber, events.SessionOpened, a.handleSessionOpened); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, a.subscriber, events.SessionClosed, a.handleSessionClosed); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, a.subscriber, events.UserOnline, a.handlePresence); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, a.subscriber, events.UserOffline, a.handlePresence); err != nil {
		return err
	}
	return pubsub.Subscribe(ctx, a.subscriber, events.DeliveryFailed, a.handleDeliveryFailed)
}

func (a *ActivitySubscriber) handleMessageStored(ctx context.Context, userID string, msg domain.Message) error {
	a.logger.InfoContext(ctx, "Message stored", "message_id", msg.ID, "sender", msg.Sender, "receiver", msg.Receiver)
	return nil
}

func (a *ActivitySubscriber) handleSessionOpened(ctx context.Context, userID string, s events.Session) error {
	a.logger.InfoContext(ctx, "User joined", "user_id", s.UserID, "session_id", s.SessionID, "remote_addr", s.RemoteAddr)
	return nil
}

func (a *ActivitySubscriber) handleSessionClosed(ctx context.Context, userID string, s events.Session) error {
	reason := s.Reason
	if reason == "" {
		reason = "unknown"
	}
	metrics.Sessions.WithLabelValues(reason).Inc()
	a.logger.InfoContext(ctx, "User disconnected", "user_id", s.UserID, "session_id", s.SessionID, "reason", reason)
	return nil
}

func (a *ActivitySubscriber) handlePresence(ctx context.Context, userID string, p events.PresenceChanged) error {
	a.logger.InfoContext(ctx, "Presence changed", "user_id", p.UserID, "status", p.Status)
	return nil
}

func (a *ActivitySubscriber) handleDeliveryFailed(ctx context.Context, userID string, f events.PushFailed) error {
	a.logger.WarnContext(ctx, "Push not delivered", "message_id", f.MessageID, "user_id", f.UserID, "conn_id", f.ConnectionID, "reason", f.Reason)
	return nil
}
