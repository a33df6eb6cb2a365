package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nfrund/duochat/internal/connection"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/events"
	"github.com/nfrund/duochat/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) Write(context.Context, []byte) error   { return nil }
func (nopTransport) Close(connection.Reason, string) error { return nil }

// mockPublisher records published messages.
type mockPublisher struct {
	mu       sync.Mutex
	messages []pubsub.Message
	err      error
}

func (m *mockPublisher) Publish(_ context.Context, msg pubsub.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.err
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, msg.Topic)
	}
	return out
}

func boundConn(t *testing.T, userID string) *connection.Conn {
	t.Helper()
	c := connection.New(nopTransport{}, connection.Options{})
	t.Cleanup(func() { c.Close(connection.ReasonNormal, "test done") })
	require.NoError(t, c.Bind(userID))
	return c
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	r := NewRegistry(pub)

	c1 := boundConn(t, "u1")
	c2 := boundConn(t, "u1")

	require.NoError(t, r.Register(ctx, "u1", c1))
	require.NoError(t, r.Register(ctx, "u1", c2))

	live := r.LiveConnections("u1")
	assert.Len(t, live, 2)
	assert.ElementsMatch(t, []*connection.Conn{c1, c2}, live)
	assert.True(t, r.IsOnline("u1"))
	assert.Equal(t, []string{"u1"}, r.OnlineUsers())

	// Only the first connection announces the user.
	assert.Equal(t, []string{events.UserOnline.Name()}, pub.topics())
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	r := NewRegistry(pub)
	c := boundConn(t, "u1")

	require.NoError(t, r.Register(ctx, "u1", c))
	require.NoError(t, r.Register(ctx, "u1", c))

	assert.Len(t, r.LiveConnections("u1"), 1)
	assert.Len(t, pub.topics(), 1)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	err := r.Register(ctx, "", boundConn(t, "u1"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = r.Register(ctx, "u1", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = r.Register(ctx, "u2", boundConn(t, "u1"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	unbound := connection.New(nopTransport{}, connection.Options{})
	defer unbound.Close(connection.ReasonNormal, "")
	err = r.Register(ctx, "u1", unbound)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Empty(t, r.OnlineUsers())
}

func TestRegistry_Unregister(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	r := NewRegistry(pub)
	c1 := boundConn(t, "u1")
	c2 := boundConn(t, "u1")
	require.NoError(t, r.Register(ctx, "u1", c1))
	require.NoError(t, r.Register(ctx, "u1", c2))

	r.Unregister(ctx, "u1", c1)
	assert.Equal(t, []*connection.Conn{c2}, r.LiveConnections("u1"))
	assert.True(t, r.IsOnline("u1"))

	// Second removal of the same handle is a no-op.
	r.Unregister(ctx, "u1", c1)
	assert.Len(t, r.LiveConnections("u1"), 1)

	r.Unregister(ctx, "u1", c2)
	assert.Empty(t, r.LiveConnections("u1"))
	assert.False(t, r.IsOnline("u1"))
	assert.Empty(t, r.OnlineUsers())

	assert.Equal(t, []string{events.UserOnline.Name(), events.UserOffline.Name()}, pub.topics())
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := NewRegistry(nil)
	c := boundConn(t, "ghost")
	assert.NotPanics(t, func() {
		r.Unregister(context.Background(), "ghost", c)
		r.Unregister(context.Background(), "", nil)
	})
}

func TestRegistry_LookupUnknownUserIsEmpty(t *testing.T) {
	r := NewRegistry(nil)
	live := r.LiveConnections("nobody")
	assert.NotNil(t, live)
	assert.Empty(t, live)
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	c1 := boundConn(t, "u1")
	require.NoError(t, r.Register(ctx, "u1", c1))

	snap := r.LiveConnections("u1")
	r.Unregister(ctx, "u1", c1)

	assert.Len(t, snap, 1)
	assert.Empty(t, r.LiveConnections("u1"))
}

func TestRegistry_PublishErrorDoesNotFailRegister(t *testing.T) {
	pub := &mockPublisher{err: errors.New("bus down")}
	r := NewRegistry(pub)
	require.NoError(t, r.Register(context.Background(), "u1", boundConn(t, "u1")))
	assert.True(t, r.IsOnline("u1"))
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, WithShards(4))

	const users = 20
	const perUser = 10
	var wg sync.WaitGroup
	conns := make([][]*connection.Conn, users)
	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%d", u)
		for i := 0; i < perUser; i++ {
			conns[u] = append(conns[u], boundConn(t, userID))
		}
	}

	for u := 0; u < users; u++ {
		for _, c := range conns[u] {
			wg.Add(1)
			go func(userID string, c *connection.Conn) {
				defer wg.Done()
				assert.NoError(t, r.Register(ctx, userID, c))
			}(fmt.Sprintf("user-%d", u), c)
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		assert.Len(t, r.LiveConnections(fmt.Sprintf("user-%d", u)), perUser)
	}
	assert.Len(t, r.OnlineUsers(), users)

	for u := 0; u < users; u++ {
		for _, c := range conns[u] {
			wg.Add(1)
			go func(userID string, c *connection.Conn) {
				defer wg.Done()
				r.Unregister(ctx, userID, c)
			}(fmt.Sprintf("user-%d", u), c)
		}
	}
	wg.Wait()
	assert.Empty(t, r.OnlineUsers())
}
