// Package delivery fans persisted messages out to live connections.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/duochat/internal/connection"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/events"
	"github.com/nfrund/duochat/internal/metrics"
	"github.com/nfrund/duochat/internal/pubsub"
	"github.com/samber/lo"
)

// FrameTypeNewMessage is the push frame type clients listen for.
const FrameTypeNewMessage = "newMessage"

// Frame is the payload written to each connection.
type Frame struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message"`
}

// Presence is the lookup side of the presence registry.
type Presence interface {
	LiveConnections(userID string) []*connection.Conn
}

// Router computes recipients for a message and pushes it to each of them.
type Router struct {
	presence  Presence
	publisher pubsub.Publisher
	logger    *slog.Logger
}

// NewRouter creates a router. publisher may be nil.
func NewRouter(presence Presence, publisher pubsub.Publisher) *Router {
	return &Router{
		presence:  presence,
		publisher: publisher,
		logger:    slog.Default().With("service", "delivery"),
	}
}

// Failure describes one push that did not reach its connection.
type Failure struct {
	ConnectionID string
	UserID       string
	Err          error
}

// Report is the settled outcome of a delivery.
type Report struct {
	MessageID uint64
	Delivered int
	Failures  []Failure
}

// Attempted is the number of connections a push was attempted on.
func (r Report) Attempted() int {
	return r.Delivered + len(r.Failures)
}

// Delivery tracks the pushes of one routed message.
type Delivery struct {
	router  *Router
	msg     *domain.Message
	started time.Time
	pending []*connection.Pending
	early   []Failure

	once   sync.Once
	report Report
}

// Route enqueues msg on every live connection of its sender and receiver.
// It only enqueues, so calls made in persisted order reach each connection
// in that order. Enqueue failures are recorded, never returned; the message
// is already durable and offline or failing recipients catch up through
// history.
func (r *Router) Route(ctx context.Context, msg *domain.Message) *Delivery {
	d := &Delivery{router: r, msg: msg, started: time.Now()}

	recipients := r.recipients(msg)
	if len(recipients) == 0 {
		return d
	}

	frame, err := json.Marshal(Frame{Type: FrameTypeNewMessage, Message: msg})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to encode push frame", "message_id", msg.ID, "error", err)
		for _, c := range recipients {
			d.early = append(d.early, Failure{ConnectionID: c.ID(), UserID: c.UserID(), Err: err})
		}
		return d
	}

	for _, c := range recipients {
		p, err := c.Enqueue(frame)
		if err != nil {
			d.early = append(d.early, Failure{ConnectionID: c.ID(), UserID: c.UserID(), Err: err})
			continue
		}
		d.pending = append(d.pending, p)
	}
	return d
}

// recipients is the union of both participants' live sets. The sender's own
// connections are included so every session of the sender sees the message.
func (r *Router) recipients(msg *domain.Message) []*connection.Conn {
	conns := r.presence.LiveConnections(msg.Sender)
	if msg.Receiver != msg.Sender {
		conns = append(conns, r.presence.LiveConnections(msg.Receiver)...)
	}
	return lo.UniqBy(conns, func(c *connection.Conn) string { return c.ID() })
}

// Message returns the routed message.
func (d *Delivery) Message() *domain.Message {
	return d.msg
}

// Wait blocks until every push has settled and returns the outcome. Each
// push is bounded by its connection's push timeout, so Wait returns even
// with a background context. Failures are logged and reported once.
func (d *Delivery) Wait(ctx context.Context) Report {
	d.once.Do(func() {
		d.report = d.settle(ctx)
	})
	return d.report
}

func (d *Delivery) settle(ctx context.Context) Report {
	report := Report{MessageID: d.msg.ID}
	report.Failures = append(report.Failures, d.early...)

	for _, p := range d.pending {
		if err := p.Wait(ctx); err != nil {
			report.Failures = append(report.Failures, Failure{
				ConnectionID: p.Conn().ID(),
				UserID:       p.Conn().UserID(),
				Err:          err,
			})
			continue
		}
		report.Delivered++
	}

	if report.Attempted() > 0 {
		metrics.RouteDuration.Observe(time.Since(d.started).Seconds())
	}
	metrics.Pushes.WithLabelValues(metrics.OutcomeDelivered).Add(float64(report.Delivered))
	metrics.Pushes.WithLabelValues(metrics.OutcomeFailed).Add(float64(len(report.Failures)))

	for _, f := range report.Failures {
		d.router.reportFailure(ctx, d.msg, f)
	}
	return report
}

func (r *Router) reportFailure(ctx context.Context, msg *domain.Message, f Failure) {
	level := slog.LevelWarn
	if errors.Is(f.Err, domain.ErrConnectionClosed) {
		level = slog.LevelDebug
	}
	r.logger.Log(ctx, level, "Push failed",
		"message_id", msg.ID,
		"conn_id", f.ConnectionID,
		"user_id", f.UserID,
		"error", f.Err,
	)

	if r.publisher == nil {
		return
	}
	payload := events.PushFailed{
		MessageID:    msg.ID,
		ConnectionID: f.ConnectionID,
		UserID:       f.UserID,
		Reason:       f.Err.Error(),
	}
	if err := pubsub.Publish(context.WithoutCancel(ctx), r.publisher, events.DeliveryFailed, f.UserID, payload); err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish delivery failure", "message_id", msg.ID, "error", err)
	}
}
