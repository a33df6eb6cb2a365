// Package gateway accepts real-time websocket sessions, binds each to the
// user it claims with a join frame and keeps the presence registry in step
// with the session lifecycle.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/connection"
	"github.com/nfrund/duochat/internal/events"
	"github.com/nfrund/duochat/internal/middleware"
	"github.com/nfrund/duochat/internal/pubsub"
	"golang.org/x/time/rate"
)

// DefaultReadLimit caps a single inbound frame.
const DefaultReadLimit = 4096

// Presence is the registry side the gateway drives.
type Presence interface {
	Register(ctx context.Context, userID string, conn *connection.Conn) error
	Unregister(ctx context.Context, userID string, conn *connection.Conn)
}

// Options configures a Gateway. Zero values fall back to defaults.
type Options struct {
	// OriginPatterns are the host patterns allowed to open a session. Requests
	// without an Origin header are always accepted.
	OriginPatterns []string
	Connection     connection.Options
	FrameRate      rate.Limit
	FrameBurst     int
	// PingInterval is the heartbeat period; zero disables heartbeats.
	PingInterval time.Duration
	ReadLimit    int64
}

// Gateway is the websocket endpoint.
type Gateway struct {
	presence  Presence
	publisher pubsub.Publisher
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	closing  bool
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

// New creates a gateway. publisher may be nil.
func New(presence Presence, publisher pubsub.Publisher, opts Options) *Gateway {
	if opts.FrameRate <= 0 {
		opts.FrameRate = 20
	}
	if opts.FrameBurst <= 0 {
		opts.FrameBurst = 40
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	return &Gateway{
		presence:  presence,
		publisher: publisher,
		opts:      opts,
		logger:    slog.Default().With("service", "gateway"),
		sessions:  make(map[*session]struct{}),
	}
}

// Handler returns the echo handler for the websocket upgrade. It blocks for
// the lifetime of the session.
func (g *Gateway) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		g.mu.Lock()
		if g.closing {
			g.mu.Unlock()
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server shutting down"})
		}
		g.wg.Add(1)
		g.mu.Unlock()
		defer g.wg.Done()

		ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			OriginPatterns: g.opts.OriginPatterns,
		})
		if err != nil {
			// Accept has already written the error response.
			g.logger.Warn("Failed to upgrade connection to WebSocket", "remote_addr", c.RealIP(), "error", err)
			return nil
		}
		ws.SetReadLimit(g.opts.ReadLimit)

		conn := connection.New(&wsTransport{ws: ws}, g.opts.Connection)
		s := &session{
			gw:         g,
			ws:         ws,
			conn:       conn,
			limiter:    rate.NewLimiter(g.opts.FrameRate, g.opts.FrameBurst),
			remoteAddr: c.RealIP(),
			logger:     middleware.FromContext(c.Request().Context()).With("service", "gateway", "session_id", conn.ID()),
		}

		if !g.track(s) {
			_ = conn.Close(connection.ReasonShutdown, "server shutting down")
			return nil
		}
		defer g.untrack(s)

		s.logger.Debug("Session connected", "remote_addr", s.remoteAddr)
		s.run(c.Request().Context())
		return nil
	}
}

func (g *Gateway) track(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.sessions[s] = struct{}{}
	return true
}

func (g *Gateway) untrack(s *session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
}

// Sessions returns the number of open sessions.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown stops accepting sessions, closes every open one with a going-away
// status and waits for their cleanup or ctx.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	open := make([]*session, 0, len(g.sessions))
	for s := range g.sessions {
		open = append(open, s)
	}
	g.mu.Unlock()

	g.logger.Info("Closing sessions", "count", len(open))
	for _, s := range open {
		go s.conn.Close(connection.ReasonShutdown, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) publish(ctx context.Context, event pubsub.Event[events.Session], userID string, payload events.Session) {
	if g.publisher == nil {
		return
	}
	if err := pubsub.Publish(ctx, g.publisher, event, userID, payload); err != nil {
		g.logger.ErrorContext(ctx, "Failed to publish session event", "topic", event.Name(), "error", err)
	}
}
