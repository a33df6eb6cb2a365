// Package storage is the default persistence backend: an embedded badger
// database opened with synchronous writes, so an acknowledged append survives
// a process restart.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/nfrund/duochat/internal/domain"
)

const (
	messageSeqKey = "seq/message"
	userSeqKey    = "seq/user"
	seqBandwidth  = 64
)

// Options configures a BadgerStore.
type Options struct {
	// Dir is the badger directory. Empty means an in-memory database, which is
	// only suitable for tests because it is not durable.
	Dir string
	// MaxContentLength bounds message content, in characters.
	MaxContentLength int
	// Now overrides the wall clock.
	Now func() time.Time
}

// BadgerStore implements domain.Store on top of badger.
type BadgerStore struct {
	db      *badger.DB
	msgSeq  *badger.Sequence
	userSeq *badger.Sequence
	clock   *domain.MonotonicClock
	maxLen  int
	logger  *slog.Logger

	// locks serialize appends per conversation so that id order and
	// timestamp order agree inside a conversation.
	locks domain.ConversationLocks

	closeOnce sync.Once
}

var _ domain.Store = (*BadgerStore)(nil)

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Dir).
		WithSyncWrites(true).
		WithLoggingLevel(badger.WARNING)
	if opts.Dir == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", opts.Dir, err)
	}

	msgSeq, err := db.GetSequence([]byte(messageSeqKey), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to lease message sequence: %w", err)
	}
	userSeq, err := db.GetSequence([]byte(userSeqKey), seqBandwidth)
	if err != nil {
		msgSeq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to lease user sequence: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &BadgerStore{
		db:      db,
		msgSeq:  msgSeq,
		userSeq: userSeq,
		clock:   domain.NewMonotonicClock(now),
		maxLen:  opts.MaxContentLength,
		logger:  slog.Default().With("service", "storage", "driver", "badger"),
	}

	last, err := s.latestMessageTime()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to read latest message time: %w", err)
	}
	s.clock.Observe(last)

	s.logger.Info("Badger store opened", "dir", opts.Dir, "in_memory", opts.Dir == "")
	return s, nil
}

// Close releases the sequences and closes the database. It is safe to call
// more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.msgSeq.Release(), s.userSeq.Release(), s.db.Close())
		s.logger.Info("Badger store closed")
	})
	return err
}

// Ping reports whether the database still accepts reads.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return domain.Unavailable("storage.ping", badger.ErrDBClosed)
	}
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

// storeErr maps badger failures onto the domain taxonomy. Domain errors pass
// through untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	return domain.Unavailable(op, err)
}
