// Package presence tracks which users hold live connections and through
// which handles.
//
// The registry is split into shards keyed by a hash of the user id. All
// operations for one user go through the same shard lock, so they are atomic
// with respect to each other, while users on different shards never contend.
package presence

import (
	"context"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nfrund/duochat/internal/connection"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/events"
	"github.com/nfrund/duochat/internal/metrics"
	"github.com/nfrund/duochat/internal/pubsub"
	"github.com/samber/lo"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DefaultShards is used when no shard count is configured.
const DefaultShards = 32

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]*connection.Conn // userID -> connID -> conn
}

// Registry is the presence registry.
type Registry struct {
	shards    []*shard
	publisher pubsub.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option is a function that configures a Registry.
type Option func(*Registry)

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = newShards(n)
		}
	}
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry. publisher may be nil, in which case
// no presence events are emitted.
func NewRegistry(publisher pubsub.Publisher, opts ...Option) *Registry {
	r := &Registry{
		shards:    newShards(DefaultShards),
		publisher: publisher,
		logger:    slog.Default().With("service", "presence"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{users: make(map[string]map[string]*connection.Conn)}
	}
	return shards
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register adds conn to the user's live set. Registering the same handle
// twice is a no-op. conn must already be bound to userID.
func (r *Registry) Register(ctx context.Context, userID string, conn *connection.Conn) error {
	const op = "presence.register"
	if userID == "" || conn == nil {
		return domain.Validationf(op, "user id and connection are required")
	}
	if bound := conn.UserID(); bound != userID {
		return domain.Validationf(op, "connection %s is bound to %q, not %q", conn.ID(), bound, userID)
	}

	s := r.shardFor(userID)
	s.mu.Lock()
	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]*connection.Conn)
		s.users[userID] = conns
	}
	_, dup := conns[conn.ID()]
	conns[conn.ID()] = conn
	count := len(conns)
	s.mu.Unlock()

	if dup {
		return nil
	}
	metrics.LiveConnections.Inc()
	r.logger.DebugContext(ctx, "Connection registered", "user_id", userID, "conn_id", conn.ID(), "connections", count)
	if count == 1 {
		metrics.OnlineUsers.Inc()
		r.publish(ctx, events.UserOnline, userID, StatusOnline, count)
	}
	return nil
}

// Unregister removes conn from the user's live set. Removing an absent
// handle is a no-op, so duplicate disconnect signals are harmless.
func (r *Registry) Unregister(ctx context.Context, userID string, conn *connection.Conn) {
	if userID == "" || conn == nil {
		return
	}

	s := r.shardFor(userID)
	s.mu.Lock()
	conns, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, present := conns[conn.ID()]; !present {
		s.mu.Unlock()
		return
	}
	delete(conns, conn.ID())
	count := len(conns)
	if count == 0 {
		delete(s.users, userID)
	}
	s.mu.Unlock()

	metrics.LiveConnections.Dec()
	r.logger.DebugContext(ctx, "Connection unregistered", "user_id", userID, "conn_id", conn.ID(), "connections", count)
	if count == 0 {
		metrics.OnlineUsers.Dec()
		r.publish(ctx, events.UserOffline, userID, StatusOffline, 0)
	}
}

// LiveConnections returns a snapshot of the user's live set, ordered by
// connection id. Unknown users yield an empty slice.
func (r *Registry) LiveConnections(userID string) []*connection.Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	conns := lo.Values(s.users[userID])
	s.mu.RUnlock()

	slices.SortFunc(conns, func(a, b *connection.Conn) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return conns
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// OnlineUsers returns the sorted ids of users with live connections.
func (r *Registry) OnlineUsers() []string {
	var users []string
	for _, s := range r.shards {
		s.mu.RLock()
		users = append(users, lo.Keys(s.users)...)
		s.mu.RUnlock()
	}
	slices.Sort(users)
	if users == nil {
		users = []string{}
	}
	return users
}

func (r *Registry) publish(ctx context.Context, event pubsub.Event[events.PresenceChanged], userID string, status Status, count int) {
	if r.publisher == nil {
		return
	}
	payload := events.PresenceChanged{
		UserID:      userID,
		Status:      string(status),
		Connections: count,
		At:          r.now().UTC(),
	}
	if err := pubsub.Publish(ctx, r.publisher, event, userID, payload); err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish presence event", "topic", event.Name(), "user_id", userID, "error", err)
	}
}
