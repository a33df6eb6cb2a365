package gateway

import (
	"encoding/json"
)

// Inbound frame types.
const (
	FrameJoin  = "join"
	FrameLeave = "leave"
)

// Outbound frame types other than the message push.
const (
	FrameJoined = "joined"
)

// Frame is the envelope of every client frame.
type Frame struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
}

func encodeFrame(f Frame) []byte {
	data, _ := json.Marshal(f)
	return data
}
