package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/nfrund/duochat/internal/domain"
)

// conversationPrefix returns "msg/{low}\x00{high}\x00". The NUL separators keep
// one pair's prefix from matching another pair whose ids share a prefix.
func conversationPrefix(key domain.ConversationKey) []byte {
	return []byte("msg/" + key.Low + "\x00" + key.High + "\x00")
}

// messageKey appends the zero padded timestamp and id to the conversation
// prefix, so a prefix scan yields messages ordered by timestamp then id.
func messageKey(msg *domain.Message) []byte {
	suffix := fmt.Sprintf("%019d/%020d", msg.Timestamp.UnixNano(), msg.ID)
	return append(conversationPrefix(msg.Conversation()), suffix...)
}

// messageKeySuffixLen is the length of the "%019d/%020d" suffix.
const messageKeySuffixLen = 19 + 1 + 20

// latestMessageTime returns the newest timestamp stored in any conversation,
// or the zero time for an empty database. Only keys are read.
func (s *BadgerStore) latestMessageTime() (time.Time, error) {
	var latest int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("msg/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if len(key) < messageKeySuffixLen {
				continue
			}
			suffix := key[len(key)-messageKeySuffixLen:]
			ts, err := strconv.ParseInt(string(suffix[:19]), 10, 64)
			if err != nil {
				return fmt.Errorf("malformed message key %q: %w", key, err)
			}
			if ts > latest {
				latest = ts
			}
		}
		return nil
	})
	if err != nil || latest == 0 {
		return time.Time{}, err
	}
	return unixNano(latest), nil
}

// Append validates the content, checks that both users exist, assigns the
// next id and timestamp and commits synchronously.
func (s *BadgerStore) Append(ctx context.Context, sender, receiver, content string) (*domain.Message, error) {
	const op = "storage.append"

	if err := domain.ValidateParticipants(sender, receiver); err != nil {
		return nil, err
	}
	content, err := domain.NormalizeContent(content, s.maxLen)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable(op, err)
	}

	conv := domain.NewConversationKey(sender, receiver)
	mu := s.locks.For(conv)
	mu.Lock()
	defer mu.Unlock()

	var msg *domain.Message
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, id := range []string{sender, receiver} {
			if _, err := txn.Get(userKey(id)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return domain.NotFoundf(op, "user %q does not exist", id)
				}
				return err
			}
		}

		seq, err := s.msgSeq.Next()
		if err != nil {
			return err
		}
		msg = &domain.Message{
			ID:        seq + 1,
			Sender:    sender,
			Receiver:  receiver,
			Content:   content,
			Timestamp: s.clock.Next(),
		}
		value, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return txn.Set(messageKey(msg), value)
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	s.logger.DebugContext(ctx, "Message appended", "id", msg.ID, "conversation", conv.String())
	return msg, nil
}

// ListConversation scans the conversation prefix. An empty conversation
// yields an empty, non-nil slice.
func (s *BadgerStore) ListConversation(ctx context.Context, a, b string) ([]domain.Message, error) {
	const op = "storage.list_conversation"

	messages := make([]domain.Message, 0)
	prefix := conversationPrefix(domain.NewConversationKey(a, b))

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var msg domain.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	return messages, nil
}
