package handlers_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"validation", domain.Validationf("op", "content must not be empty"), http.StatusBadRequest, "content must not be empty"},
		{"not found", domain.NotFoundf("op", "user 9 not found"), http.StatusNotFound, "user 9 not found"},
		{"conflict", &domain.Error{Op: "op", Kind: domain.ErrConflict, Message: "username taken"}, http.StatusConflict, "username taken"},
		{"unavailable", domain.Unavailable("op", errors.New("disk on fire")), http.StatusInternalServerError, handlers.ServerErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			require.NoError(t, handlers.WriteError(c, tt.err))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body handlers.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Error)
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		})
	}
}

func TestWriteError_UnknownIsReturned(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	boom := errors.New("boom")
	assert.Equal(t, boom, handlers.WriteError(c, boom))
}

func TestValidator(t *testing.T) {
	v := handlers.NewValidator()

	err := v.Validate(&handlers.SendMessageRequest{SenderID: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "ReceiverID")

	assert.NoError(t, v.Validate(&handlers.SendMessageRequest{SenderID: "1", ReceiverID: "2", Content: "hi"}))
}
