package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/duochat/internal/app"
	"github.com/nfrund/duochat/internal/config"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/handlers"
	"github.com/nfrund/duochat/internal/server"
	"github.com/nfrund/duochat/internal/testutils"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushFrame struct {
	Type    string          `json:"type"`
	UserID  string          `json:"userId"`
	Message *domain.Message `json:"message"`
}

// setupServer boots the full stack on a badger store in a temp dir.
func setupServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()

	t.Setenv("DUOCHAT_STORE", config.DriverBadger)
	t.Setenv("DUOCHAT_DATA_DIR", t.TempDir())
	t.Setenv("DUOCHAT_ALLOWED_ORIGIN", "*")
	t.Setenv("DUOCHAT_PING_INTERVAL", "0s")
	t.Setenv("DUOCHAT_SEND_RATE", "1000")
	t.Setenv("OTEL_ENABLED", "false")

	cfg := testutils.ConfigForTests(t)

	ctx := context.Background()
	deps, err := app.NewDependencies(ctx, cfg)
	require.NoError(t, err)

	s := server.New(deps)
	require.NoError(t, s.InitModules(ctx, app.NewModules()))
	s.RegisterRoutes()

	ts := httptest.NewServer(s.E)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		ts.Close()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(r).Decode(&v))
	return v
}

func createUser(t *testing.T, ts *httptest.Server, name string) handlers.UserResponse {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/users", map[string]string{"username": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[handlers.UserResponse](t, resp.Body)
}

func joinAs(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "join", "userId": userID}))
	ack := readPush(t, ws)
	require.Equal(t, "joined", ack.Type)
	require.Equal(t, userID, ack.UserID)
	return ws
}

func readPush(t *testing.T, ws *websocket.Conn) pushFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f pushFrame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func waitOnline(t *testing.T, ts *httptest.Server, userIDs ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/presence")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var p handlers.PresenceResponse
		if json.NewDecoder(resp.Body).Decode(&p) != nil {
			return false
		}
		for _, id := range userIDs {
			if !lo.Contains(p.OnlineUsers, id) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendPushesAndPersists(t *testing.T) {
	_, ts := setupServer(t)

	alice := createUser(t, ts, "alice")
	bob := createUser(t, ts, "bob")
	assert.Equal(t, "1", alice.ID)
	assert.Equal(t, "2", bob.ID)

	aliceWS := joinAs(t, ts, alice.ID)
	waitOnline(t, ts, alice.ID)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]string{
		"senderId": alice.ID, "receiverId": bob.ID, "content": "hi",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[domain.Message](t, resp.Body)
	assert.Equal(t, "hi", sent.Content)

	push := readPush(t, aliceWS)
	assert.Equal(t, "newMessage", push.Type)
	require.NotNil(t, push.Message)
	assert.Equal(t, sent.ID, push.Message.ID)

	hist, err := http.Get(ts.URL + "/api/messages/" + bob.ID + "/" + alice.ID)
	require.NoError(t, err)
	defer hist.Body.Close()
	require.Equal(t, http.StatusOK, hist.StatusCode)
	messages := decode[[]domain.Message](t, hist.Body)
	require.Len(t, messages, 1)
	assert.Equal(t, sent.ID, messages[0].ID)
}

func TestFanOutToEverySession(t *testing.T) {
	_, ts := setupServer(t)
	alice := createUser(t, ts, "alice")
	bob := createUser(t, ts, "bob")

	sockets := []*websocket.Conn{
		joinAs(t, ts, alice.ID), joinAs(t, ts, alice.ID),
		joinAs(t, ts, bob.ID), joinAs(t, ts, bob.ID),
	}
	waitOnline(t, ts, alice.ID, bob.ID)

	resp := postJSON(t, ts.URL+"/api/messages", map[string]string{
		"senderId": bob.ID, "receiverId": alice.ID, "content": "to all of you",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, ws := range sockets {
		push := readPush(t, ws)
		require.NotNil(t, push.Message)
		assert.Equal(t, "to all of you", push.Message.Content)
	}
}

func TestOrderedPushes(t *testing.T) {
	_, ts := setupServer(t)
	alice := createUser(t, ts, "alice")
	bob := createUser(t, ts, "bob")
	bobWS := joinAs(t, ts, bob.ID)
	waitOnline(t, ts, bob.ID)

	const n = 20
	for i := 0; i < n; i++ {
		resp := postJSON(t, ts.URL+"/api/messages", map[string]string{
			"senderId": alice.ID, "receiverId": bob.ID, "content": string(rune('a' + i)),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	var last uint64
	for i := 0; i < n; i++ {
		push := readPush(t, bobWS)
		require.NotNil(t, push.Message)
		assert.Greater(t, push.Message.ID, last)
		last = push.Message.ID
	}
}

func TestRESTErrors(t *testing.T) {
	_, ts := setupServer(t)
	alice := createUser(t, ts, "alice")

	resp := postJSON(t, ts.URL+"/api/messages", map[string]string{
		"senderId": alice.ID, "receiverId": alice.ID + "9", "content": "hi",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/messages", map[string]string{"senderId": alice.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/users", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	missing, err := http.Get(ts.URL + "/api/users/404")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusOK, missing.StatusCode)
	body, _ := io.ReadAll(missing.Body)
	assert.Equal(t, "null", strings.TrimSpace(string(body)))

	unknown, err := http.Get(ts.URL + "/api/nope")
	require.NoError(t, err)
	defer unknown.Body.Close()
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := setupServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[server.HealthResponse](t, resp.Body)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Store)

	m, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer m.Body.Close()
	body, _ := io.ReadAll(m.Body)
	assert.Contains(t, string(body), "duochat_messages_appended_total")
}

func TestShutdownClosesSessions(t *testing.T) {
	s, ts := setupServer(t)
	alice := createUser(t, ts, "alice")
	ws := joinAs(t, ts, alice.ID)
	waitOnline(t, ts, alice.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Gateway.Shutdown(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
