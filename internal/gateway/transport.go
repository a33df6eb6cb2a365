package gateway

import (
	"context"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/nfrund/duochat/internal/connection"
)

// wsTransport adapts a websocket connection to connection.Transport.
type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.ws.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(reason connection.Reason, text string) error {
	if reason == connection.ReasonWriteFailed {
		return t.ws.CloseNow()
	}
	return t.ws.Close(statusFor(reason), truncateReason(text))
}

// maxReasonBytes is the close reason limit of a websocket control frame.
const maxReasonBytes = 123

func truncateReason(text string) string {
	if len(text) <= maxReasonBytes {
		return text
	}
	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func statusFor(reason connection.Reason) websocket.StatusCode {
	switch reason {
	case connection.ReasonProtocolViolation:
		return websocket.StatusPolicyViolation
	case connection.ReasonShutdown:
		return websocket.StatusGoingAway
	case connection.ReasonWriteFailed:
		return websocket.StatusInternalError
	}
	return websocket.StatusNormalClosure
}
