package testutils

import (
	"context"
	"sync"

	"github.com/nfrund/duochat/internal/connection"
)

// Transport is an in-memory connection.Transport that records every frame.
type Transport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	Err    error
}

func (t *Transport) Write(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.frames = append(t.frames, append([]byte(nil), data...))
	return nil
}

func (t *Transport) Close(connection.Reason, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Frames returns a copy of the frames written so far.
func (t *Transport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.frames...)
}

// Closed reports whether the connection closed the transport.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
