//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks github.com/nfrund/duochat/internal/domain MessageStore,UserStore
package domain

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxContentLength is the content limit used when none is configured.
const DefaultMaxContentLength = 2000

// Message is an immutable chat message. IDs increase strictly in creation order.
type Message struct {
	ID        uint64    `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation returns the key of the conversation the message belongs to.
func (m Message) Conversation() ConversationKey {
	return NewConversationKey(m.Sender, m.Receiver)
}

// ConversationKey is the unordered pair of participants. Low <= High always holds,
// so swapping the arguments to NewConversationKey yields an equal key.
type ConversationKey struct {
	Low  string
	High string
}

// NewConversationKey normalizes a pair of user ids into a key.
func NewConversationKey(a, b string) ConversationKey {
	if b < a {
		a, b = b, a
	}
	return ConversationKey{Low: a, High: b}
}

func (k ConversationKey) String() string {
	return k.Low + ":" + k.High
}

// Includes reports whether user participates in the conversation.
func (k ConversationKey) Includes(user string) bool {
	return k.Low == user || k.High == user
}

// NormalizeContent applies NFC normalization and enforces the length limit,
// counted in runes. A limit <= 0 falls back to DefaultMaxContentLength.
func NormalizeContent(content string, limit int) (string, error) {
	const op = "message.content"
	if limit <= 0 {
		limit = DefaultMaxContentLength
	}
	if !utf8.ValidString(content) {
		return "", Validationf(op, "content is not valid UTF-8")
	}
	content = norm.NFC.String(content)
	if len(content) == 0 {
		return "", Validationf(op, "content must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > limit {
		return "", Validationf(op, "content is %d characters, limit is %d", n, limit)
	}
	return content, nil
}

// ValidateParticipants checks the sender and receiver ids before any lookup.
func ValidateParticipants(sender, receiver string) error {
	const op = "message.participants"
	if sender == "" || receiver == "" {
		return Validationf(op, "sender and receiver are required")
	}
	return nil
}

// MessageStore is the durable, append-only message log.
type MessageStore interface {
	// Append validates and durably stores a message. It returns ErrValidation for
	// bad content, ErrNotFound for unknown users and ErrStoreUnavailable when the
	// backend cannot be written.
	Append(ctx context.Context, sender, receiver, content string) (*Message, error)
	// ListConversation returns the conversation between a and b ordered by
	// timestamp then id. It never fails for an empty conversation.
	ListConversation(ctx context.Context, a, b string) ([]Message, error)
}

// Store bundles both store contracts, which every backend implements.
type Store interface {
	MessageStore
	UserStore
	Close() error
}

// String is used in logs.
func (m Message) String() string {
	return fmt.Sprintf("message %d %s->%s", m.ID, m.Sender, m.Receiver)
}
