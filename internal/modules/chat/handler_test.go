package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/delivery"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/domain/mocks"
	"github.com/nfrund/duochat/internal/handlers"
	"github.com/nfrund/duochat/internal/presence"
	"github.com/nfrund/duochat/internal/registry"
	"github.com/nfrund/duochat/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func bootModule(t *testing.T, store domain.Store) *echo.Echo {
	t.Helper()
	e := echo.New()
	reg := registry.New(nil)
	registry.Set(reg, registry.StoreKey, store)
	registry.Set(reg, registry.RouterKey, delivery.NewRouter(presence.NewRegistry(nil), nil))

	m := New()
	require.NoError(t, m.Register(reg))
	require.NoError(t, m.Boot(context.Background(), e.Group("/api"), reg))
	t.Cleanup(func() { m.Drain(context.Background()) })
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SendAndHistory(t *testing.T) {
	store := testutils.NewBadgerStore(t)
	testutils.SeedUsers(t, store, "alice", "bob")
	e := bootModule(t, store)

	rec := do(e, http.MethodPost, "/api/messages", `{"senderId":"1","receiverId":"2","content":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "1", created.Sender)
	assert.Equal(t, "2", created.Receiver)
	assert.Equal(t, "hi", created.Content)
	assert.NotZero(t, created.ID)

	rec = do(e, http.MethodGet, "/api/messages/2/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ID)
}

func TestHandler_EmptyHistoryIsArray(t *testing.T) {
	store := testutils.NewBadgerStore(t)
	e := bootModule(t, store)

	rec := do(e, http.MethodGet, "/api/messages/1/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandler_SendErrors(t *testing.T) {
	store := testutils.NewBadgerStore(t)
	testutils.SeedUsers(t, store, "alice", "bob")
	e := bootModule(t, store)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed json", `{"senderId":`, http.StatusBadRequest},
		{"missing receiver", `{"senderId":"1","content":"hi"}`, http.StatusBadRequest},
		{"empty content", `{"senderId":"1","receiverId":"2","content":""}`, http.StatusBadRequest},
		{"too long", `{"senderId":"1","receiverId":"2","content":"` + strings.Repeat("x", domain.DefaultMaxContentLength+1) + `"}`, http.StatusBadRequest},
		{"unknown receiver", `{"senderId":"1","receiverId":"404","content":"hi"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/messages", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

type mockStore struct {
	*mocks.MockMessageStore
	*mocks.MockUserStore
}

func (mockStore) Close() error { return nil }

func TestHandler_StoreUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mockStore{mocks.NewMockMessageStore(ctrl), mocks.NewMockUserStore(ctrl)}
	store.MockMessageStore.EXPECT().
		Append(gomock.Any(), "1", "2", "hi").
		Return(nil, domain.Unavailable("store.append", errors.New("connection refused")))
	e := bootModule(t, store)

	rec := do(e, http.MethodPost, "/api/messages", `{"senderId":"1","receiverId":"2","content":"hi"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Server error"}`, rec.Body.String())
}

func TestHandler_Users(t *testing.T) {
	store := testutils.NewBadgerStore(t)
	e := bootModule(t, store)

	rec := do(e, http.MethodPost, "/api/users", `{"username":"alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"1","username":"alice"}`, rec.Body.String())

	rec = do(e, http.MethodPost, "/api/users", `{"username":"alice"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(e, http.MethodPost, "/api/users", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"1","username":"alice"}]`, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/users/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"1","username":"alice"}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/users/999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestHandler_ErrorBodyShape(t *testing.T) {
	store := testutils.NewBadgerStore(t)
	e := bootModule(t, store)

	rec := do(e, http.MethodPost, "/api/messages", `{"senderId":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_failed", body.Code)
	assert.NotEmpty(t, body.Error)
}
