package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/nfrund/duochat/internal/connection"
	"github.com/nfrund/duochat/internal/events"
	"golang.org/x/time/rate"
)

// State is the lifecycle position of a session.
type State int

const (
	StateConnecting State = iota
	StateIdentified
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// violation ends a session with a policy violation close.
type violation struct {
	text string
}

func (v *violation) Error() string { return v.text }

var errLeave = errors.New("client left")

// session drives one websocket from handshake to close. Only the read loop
// changes state before close, so the mutex guards against Shutdown and the
// heartbeat.
type session struct {
	gw         *Gateway
	ws         *websocket.Conn
	conn       *connection.Conn
	limiter    *rate.Limiter
	remoteAddr string
	logger     *slog.Logger

	mu     sync.Mutex
	state  State
	userID string
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// run reads frames until the transport drops, the client leaves or breaks
// protocol. It always leaves the session closed and unregistered.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.gw.opts.PingInterval > 0 {
		go s.heartbeat(ctx)
	}

	reason, text := connection.ReasonNormal, "client disconnected"
	for {
		typ, data, err := s.ws.Read(ctx)
		if err != nil {
			if s.conn.Closed() {
				reason, text = s.conn.CloseReason(), "closed by server"
			} else if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Debug("WebSocket read error", "error", err)
			}
			break
		}

		err = s.handle(ctx, typ, data)
		if errors.Is(err, errLeave) {
			text = "client left"
			break
		}
		var v *violation
		if errors.As(err, &v) {
			s.logger.Warn("Protocol violation, closing session", "reason", v.text)
			reason, text = connection.ReasonProtocolViolation, v.text
			break
		}
	}
	s.close(ctx, reason, text)
}

func (s *session) handle(ctx context.Context, typ websocket.MessageType, data []byte) error {
	if !s.limiter.Allow() {
		return &violation{text: "rate limit exceeded"}
	}
	if typ != websocket.MessageText {
		return &violation{text: "binary frames are not supported"}
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return &violation{text: "malformed frame"}
	}

	switch f.Type {
	case FrameJoin:
		return s.join(ctx, f.UserID)
	case FrameLeave:
		return errLeave
	}
	return &violation{text: fmt.Sprintf("unknown frame type %q", f.Type)}
}

// join binds the claimed identity. The id is taken at face value.
func (s *session) join(ctx context.Context, userID string) error {
	if s.State() != StateConnecting {
		return &violation{text: "session already joined"}
	}
	if userID == "" {
		return &violation{text: "join requires userId"}
	}
	if err := s.conn.Bind(userID); err != nil {
		return &violation{text: err.Error()}
	}
	s.mu.Lock()
	s.state = StateIdentified
	s.userID = userID
	s.mu.Unlock()

	// The ack is queued before registration so it precedes every push.
	if _, err := s.conn.Enqueue(encodeFrame(Frame{Type: FrameJoined, UserID: userID})); err != nil {
		return &violation{text: "session closed during join"}
	}
	if err := s.gw.presence.Register(ctx, userID, s.conn); err != nil {
		return &violation{text: err.Error()}
	}
	s.setState(StateActive)
	s.logger.Info("User joined", "user_id", userID)

	s.gw.publish(ctx, events.SessionOpened, userID, events.Session{
		SessionID:  s.conn.ID(),
		UserID:     userID,
		RemoteAddr: s.remoteAddr,
		At:         time.Now().UTC(),
	})
	return nil
}

func (s *session) close(ctx context.Context, reason connection.Reason, text string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	userID := s.userID
	s.mu.Unlock()

	_ = s.conn.Close(reason, text)
	if userID != "" {
		s.gw.presence.Unregister(context.WithoutCancel(ctx), userID, s.conn)
	}
	s.logger.Info("Session closed", "user_id", userID, "reason", reason.String(), "text", text)

	s.gw.publish(context.WithoutCancel(ctx), events.SessionClosed, userID, events.Session{
		SessionID:  s.conn.ID(),
		UserID:     userID,
		RemoteAddr: s.remoteAddr,
		Reason:     reason.String(),
		At:         time.Now().UTC(),
	})
}

func (s *session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.gw.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.conn.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.gw.opts.PingInterval)
			err := s.ws.Ping(pingCtx)
			cancel()
			if err != nil && !s.conn.Closed() && ctx.Err() == nil {
				s.logger.Warn("Heartbeat failed, closing session", "error", err)
				_ = s.conn.Close(connection.ReasonWriteFailed, "heartbeat failed")
				return
			}
		}
	}
}
