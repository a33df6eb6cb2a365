package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nfrund/duochat/internal/config"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/surrealdb/surrealdb.go"
)

const schema = `
DEFINE TABLE IF NOT EXISTS user SCHEMALESS;
DEFINE INDEX IF NOT EXISTS user_username ON user FIELDS username_lower UNIQUE;
DEFINE INDEX IF NOT EXISTS user_seq ON user FIELDS seq UNIQUE;
DEFINE TABLE IF NOT EXISTS message SCHEMALESS;
DEFINE INDEX IF NOT EXISTS message_conversation ON message FIELDS conv, ts, msg_id;
DEFINE TABLE IF NOT EXISTS counter SCHEMALESS;
`

type userRow struct {
	Seq       uint64 `json:"seq"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:        strconv.FormatUint(r.Seq, 10),
		Username:  r.Username,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}

type messageRow struct {
	MsgID    uint64 `json:"msg_id"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
	TS       int64  `json:"ts"`
}

func (r messageRow) toDomain() domain.Message {
	return domain.Message{
		ID:        r.MsgID,
		Sender:    r.Sender,
		Receiver:  r.Receiver,
		Content:   r.Content,
		Timestamp: time.Unix(0, r.TS).UTC(),
	}
}

type counterRow struct {
	Value uint64 `json:"value"`
}

// SurrealStore implements domain.Store on SurrealDB. Durability is the
// server's: a statement is acknowledged once SurrealDB has committed it.
type SurrealStore struct {
	conn           *connection
	queryTimeout   time.Duration
	executeTimeout time.Duration
	maxLen         int
	clock          *domain.MonotonicClock
	logger         *slog.Logger

	// locks keep id order and timestamp order in step per conversation.
	locks domain.ConversationLocks
}

var _ domain.Store = (*SurrealStore)(nil)

// Open connects, applies the schema and starts connection monitoring.
func Open(ctx context.Context, cfg config.Provider) (*SurrealStore, error) {
	conn := newConnection(cfg)
	if err := conn.open(ctx); err != nil {
		return nil, err
	}

	s := &SurrealStore{
		conn:           conn,
		queryTimeout:   cfg.GetDBQueryTimeout(),
		executeTimeout: cfg.GetDBExecuteTimeout(),
		maxLen:         cfg.GetMaxContentLength(),
		clock:          domain.NewMonotonicClock(nil),
		logger:         slog.Default().With("service", "storage", "driver", "surreal"),
	}

	if err := s.migrate(ctx); err != nil {
		conn.close(context.WithoutCancel(ctx))
		return nil, err
	}
	go conn.monitor()
	s.logger.Info("SurrealDB store opened", "db_url", redactDBURL(cfg.GetDBURL()), "namespace", cfg.GetDBNs(), "database", cfg.GetDBDb())
	return s, nil
}

func (s *SurrealStore) migrate(ctx context.Context) error {
	if err := s.execute(ctx, schema, nil); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	last, err := queryOne[messageRow](ctx, s, "SELECT ts FROM message ORDER BY ts DESC", nil)
	if err != nil {
		return fmt.Errorf("failed to read latest message: %w", err)
	}
	if last != nil {
		s.clock.Observe(time.Unix(0, last.TS))
	}
	return nil
}

// Close shuts down monitoring and the connection.
func (s *SurrealStore) Close() error {
	return s.conn.close(context.Background())
}

// Ping checks the connection.
func (s *SurrealStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.queryTimeout, queryTimeoutKey)
	defer cancel()
	return s.conn.checkHealth(ctx)
}

func query[T any](ctx context.Context, s *SurrealStore, q string, params map[string]any) ([]T, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout, queryTimeoutKey)
	defer cancel()

	var rows []T
	err := s.conn.run(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[T](ctx, db, q, params)
		return err
	})
	return rows, err
}

func queryOne[T any](ctx context.Context, s *SurrealStore, q string, params map[string]any) (*T, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout, queryTimeoutKey)
	defer cancel()

	var row *T
	err := s.conn.run(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[T](ctx, db, q, params)
		return err
	})
	return row, err
}

func (s *SurrealStore) execute(ctx context.Context, q string, params map[string]any) error {
	ctx, cancel := withTimeout(ctx, s.executeTimeout, executeTimeoutKey)
	defer cancel()
	return s.conn.run(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, q, params)
	})
}

func (s *SurrealStore) nextValue(ctx context.Context, name string) (uint64, error) {
	row, err := queryOne[counterRow](ctx, s, "UPSERT type::thing('counter', $name) SET value += 1", map[string]any{"name": name})
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, NewDBError(ErrQueryFailed, "counter upsert returned no rows")
	}
	return row.Value, nil
}

// Append validates content, checks both users and creates the message.
func (s *SurrealStore) Append(ctx context.Context, sender, receiver, content string) (*domain.Message, error) {
	const op = "surreal.append"
	if err := domain.ValidateParticipants(sender, receiver); err != nil {
		return nil, err
	}
	content, err := domain.NormalizeContent(content, s.maxLen)
	if err != nil {
		return nil, err
	}
	for _, id := range []string{sender, receiver} {
		if _, err := s.GetUser(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.NotFoundf(op, "user %s not found", id)
			}
			return nil, err
		}
	}

	mu := s.locks.For(domain.NewConversationKey(sender, receiver))
	mu.Lock()
	defer mu.Unlock()

	id, err := s.nextValue(ctx, "message")
	if err != nil {
		return nil, toDomain(op, err)
	}
	msg := &domain.Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: s.clock.Next(),
	}
	err = s.execute(ctx, "CREATE type::thing('message', $id) CONTENT $row", map[string]any{
		"id": id,
		"row": map[string]any{
			"msg_id":   msg.ID,
			"sender":   msg.Sender,
			"receiver": msg.Receiver,
			"conv":     domain.NewConversationKey(sender, receiver).String(),
			"content":  msg.Content,
			"ts":       msg.Timestamp.UnixNano(),
		},
	})
	if err != nil {
		return nil, toDomain(op, err)
	}
	return msg, nil
}

// ListConversation returns the conversation ordered by timestamp then id.
func (s *SurrealStore) ListConversation(ctx context.Context, a, b string) ([]domain.Message, error) {
	rows, err := query[messageRow](ctx, s,
		"SELECT msg_id, sender, receiver, content, ts FROM message WHERE conv = $conv ORDER BY ts ASC, msg_id ASC",
		map[string]any{"conv": domain.NewConversationKey(a, b).String()})
	if err != nil {
		return nil, toDomain("surreal.list_conversation", err)
	}
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// CreateUser stores a user with the next numeric id.
func (s *SurrealStore) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	const op = "surreal.create_user"
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.Validationf(op, "username is required")
	}
	if _, err := s.FindUserByUsername(ctx, username); err == nil {
		return nil, &domain.Error{Op: op, Kind: domain.ErrConflict, Message: fmt.Sprintf("username %q is taken", username)}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	seq, err := s.nextValue(ctx, "user")
	if err != nil {
		return nil, toDomain(op, err)
	}
	row := userRow{Seq: seq, Username: username, CreatedAt: time.Now().UTC().UnixNano()}
	err = s.execute(ctx, "CREATE type::thing('user', $seq) CONTENT $row", map[string]any{
		"seq": seq,
		"row": map[string]any{
			"seq":            row.Seq,
			"username":       row.Username,
			"username_lower": strings.ToLower(row.Username),
			"created_at":     row.CreatedAt,
		},
	})
	if err != nil {
		return nil, toDomain(op, err)
	}
	return row.toDomain(), nil
}

// GetUser returns ErrNotFound for unknown or non-numeric ids.
func (s *SurrealStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	const op = "surreal.get_user"
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, domain.NotFoundf(op, "user %s not found", id)
	}
	row, err := queryOne[userRow](ctx, s, "SELECT seq, username, created_at FROM user WHERE seq = $seq", map[string]any{"seq": seq})
	if err != nil {
		return nil, toDomain(op, err)
	}
	if row == nil {
		return nil, domain.NotFoundf(op, "user %s not found", id)
	}
	return row.toDomain(), nil
}

// FindUserByUsername matches case-insensitively.
func (s *SurrealStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const op = "surreal.find_user"
	row, err := queryOne[userRow](ctx, s, "SELECT seq, username, created_at FROM user WHERE username_lower = $name",
		map[string]any{"name": strings.ToLower(strings.TrimSpace(username))})
	if err != nil {
		return nil, toDomain(op, err)
	}
	if row == nil {
		return nil, domain.NotFoundf(op, "user %q not found", username)
	}
	return row.toDomain(), nil
}

// ListUsers returns users ordered by id.
func (s *SurrealStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := query[userRow](ctx, s, "SELECT seq, username, created_at FROM user ORDER BY seq ASC", nil)
	if err != nil {
		return nil, toDomain("surreal.list_users", err)
	}
	out := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toDomain())
	}
	return out, nil
}
