// Package events declares every topic published on the event bus and its payload.
package events

import (
	"time"

	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/pubsub"
	"github.com/nfrund/duochat/internal/topicmgr"
)

// PresenceChanged is published when a user's first connection registers or
// last connection unregisters.
type PresenceChanged struct {
	UserID      string    `json:"userID"`
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	At          time.Time `json:"at"`
}

// Session describes a real-time session lifecycle transition.
type Session struct {
	SessionID  string    `json:"sessionID"`
	UserID     string    `json:"userID,omitempty"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// PushFailed reports one undelivered push.
type PushFailed struct {
	MessageID    uint64 `json:"messageID"`
	ConnectionID string `json:"connectionID"`
	UserID       string `json:"userID"`
	Reason       string `json:"reason"`
}

var (
	UserOnline = pubsub.NewEvent[PresenceChanged](topicmgr.DefineFramework(topicmgr.TopicConfig{
		Name:        "presence.user.online",
		Description: "Published when a user goes from zero to one live connection",
		Example:     `{"userID":"1","status":"online","connections":1,"at":"2024-01-01T00:00:00Z"}`,
	}))

	UserOffline = pubsub.NewEvent[PresenceChanged](topicmgr.DefineFramework(topicmgr.TopicConfig{
		Name:        "presence.user.offline",
		Description: "Published when a user's last live connection goes away",
		Example:     `{"userID":"1","status":"offline","connections":0,"at":"2024-01-01T00:00:00Z"}`,
	}))

	SessionOpened = pubsub.NewEvent[Session](topicmgr.DefineFramework(topicmgr.TopicConfig{
		Name:        "session.opened",
		Description: "Published when a real-time session binds a user with a join signal",
		Example:     `{"sessionID":"6f1c...","userID":"1","remoteAddr":"127.0.0.1:5000","at":"2024-01-01T00:00:00Z"}`,
	}))

	SessionClosed = pubsub.NewEvent[Session](topicmgr.DefineFramework(topicmgr.TopicConfig{
		Name:        "session.closed",
		Description: "Published when a real-time session reaches the closed state",
		Example:     `{"sessionID":"6f1c...","userID":"1","reason":"client disconnected","at":"2024-01-01T00:00:00Z"}`,
	}))

	DeliveryFailed = pubsub.NewEvent[PushFailed](topicmgr.DefineFramework(topicmgr.TopicConfig{
		Name:        "delivery.push.failed",
		Description: "Published for every push that could not be written to a live connection",
		Example:     `{"messageID":1001,"connectionID":"6f1c...","userID":"2","reason":"push timed out"}`,
	}))

	MessageStored = pubsub.NewEvent[domain.Message](topicmgr.DefineModule(topicmgr.TopicConfig{
		Name:        "chat.message.stored",
		Module:      "chat",
		Description: "Published after a message has been durably appended",
		Example:     `{"id":1001,"sender":"1","receiver":"2","content":"hi","timestamp":"2024-01-01T00:00:00Z"}`,
	}))
)
