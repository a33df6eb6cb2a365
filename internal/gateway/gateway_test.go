package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/delivery"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/events"
	"github.com/nfrund/duochat/internal/gateway"
	"github.com/nfrund/duochat/internal/presence"
	"github.com/nfrund/duochat/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mu       sync.Mutex
	messages []pubsub.Message
}

func (m *mockPublisher) Publish(_ context.Context, msg pubsub.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Topic == topic {
			n++
		}
	}
	return n
}

type testServer struct {
	url      string
	gw       *gateway.Gateway
	registry *presence.Registry
	router   *delivery.Router
	pub      *mockPublisher
}

func newTestServer(t *testing.T, opts gateway.Options) *testServer {
	t.Helper()
	pub := &mockPublisher{}
	reg := presence.NewRegistry(pub)
	gw := gateway.New(reg, pub, opts)

	e := echo.New()
	e.GET("/ws", gw.Handler())
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
		srv.Close()
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		gw:       gw,
		registry: reg,
		router:   delivery.NewRouter(reg, pub),
		pub:      pub,
	}
}

func (ts *testServer) dial(t *testing.T) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(ts.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *gorilla.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func join(t *testing.T, conn *gorilla.Conn, userID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(gateway.Frame{Type: gateway.FrameJoin, UserID: userID}))
	frame := readFrame(t, conn)
	assert.JSONEq(t, `"joined"`, string(frame["type"]))
}

// waitOnline waits for n registered connections. The join ack is queued
// just before registration, so it can arrive first.
func waitOnline(t *testing.T, ts *testServer, userID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(ts.registry.LiveConnections(userID)) == n }, 5*time.Second, 10*time.Millisecond)
}

func expectClose(t *testing.T, conn *gorilla.Conn, code int) *gorilla.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *gorilla.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		assert.Equal(t, code, ce.Code)
		return ce
	}
}

func TestGateway_JoinRegistersAndReceivesPushes(t *testing.T) {
	ts := newTestServer(t, gateway.Options{})
	conn := ts.dial(t)
	join(t, conn, "1")
	waitOnline(t, ts, "1", 1)

	msg := &domain.Message{ID: 9, Sender: "2", Receiver: "1", Content: "hey", Timestamp: time.Now().UTC()}
	report := ts.router.Route(context.Background(), msg).Wait(context.Background())
	assert.Equal(t, 1, report.Delivered)

	frame := readFrame(t, conn)
	assert.JSONEq(t, `"newMessage"`, string(frame["type"]))
	var got domain.Message
	require.NoError(t, json.Unmarshal(frame["message"], &got))
	assert.Equal(t, uint64(9), got.ID)
	assert.Equal(t, "hey", got.Content)

	assert.Eventually(t, func() bool { return ts.pub.count(events.SessionOpened.Name()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestGateway_DisconnectUnregisters(t *testing.T) {
	ts := newTestServer(t, gateway.Options{})
	conn := ts.dial(t)
	join(t, conn, "1")
	waitOnline(t, ts, "1", 1)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return !ts.registry.IsOnline("1") }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return ts.pub.count(events.SessionClosed.Name()) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_LeaveClosesNormally(t *testing.T) {
	ts := newTestServer(t, gateway.Options{})
	conn := ts.dial(t)
	join(t, conn, "1")

	require.NoError(t, conn.WriteJSON(gateway.Frame{Type: gateway.FrameLeave}))
	expectClose(t, conn, gorilla.CloseNormalClosure)

	assert.Eventually(t, func() bool { return !ts.registry.IsOnline("1") }, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_ProtocolViolations(t *testing.T) {
	tests := []struct {
		name   string
		frames []string
		joined bool
	}{
		{"second join", []string{`{"type":"join","userId":"2"}`}, true},
		{"unknown type", []string{`{"type":"dance"}`}, false},
		{"malformed json", []string{`{"type":`}, false},
		{"join without user", []string{`{"type":"join"}`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, gateway.Options{})
			conn := ts.dial(t)
			if tt.joined {
				join(t, conn, "1")
			}
			for _, f := range tt.frames {
				require.NoError(t, conn.WriteMessage(gorilla.TextMessage, []byte(f)))
			}
			expectClose(t, conn, gorilla.ClosePolicyViolation)

			assert.Eventually(t, func() bool { return len(ts.registry.OnlineUsers()) == 0 }, 5*time.Second, 10*time.Millisecond)
		})
	}
}

func TestGateway_FrameRateLimit(t *testing.T) {
	ts := newTestServer(t, gateway.Options{FrameRate: 0.001, FrameBurst: 1})
	conn := ts.dial(t)
	join(t, conn, "1")

	require.NoError(t, conn.WriteJSON(gateway.Frame{Type: gateway.FrameLeave}))
	ce := expectClose(t, conn, gorilla.ClosePolicyViolation)
	assert.Equal(t, "rate limit exceeded", ce.Text)
}

func TestGateway_MultipleSessionsSameUser(t *testing.T) {
	ts := newTestServer(t, gateway.Options{})
	a := ts.dial(t)
	b := ts.dial(t)
	join(t, a, "1")
	join(t, b, "1")

	waitOnline(t, ts, "1", 2)

	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool { return len(ts.registry.LiveConnections("1")) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, ts.registry.IsOnline("1"))
}

func TestGateway_ShutdownClosesSessions(t *testing.T) {
	ts := newTestServer(t, gateway.Options{})
	conn := ts.dial(t)
	join(t, conn, "1")
	waitOnline(t, ts, "1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go ts.gw.Shutdown(ctx)

	expectClose(t, conn, gorilla.CloseGoingAway)
	assert.Eventually(t, func() bool { return ts.gw.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, ts.registry.IsOnline("1"))

	_, resp, err := gorilla.DefaultDialer.Dial(ts.url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}

func TestGateway_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, gateway.Options{OriginPatterns: []string{"chat.example.com"}})

	header := http.Header{"Origin": []string{"http://evil.example.org"}}
	_, resp, err := gorilla.DefaultDialer.Dial(ts.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
