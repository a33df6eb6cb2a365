package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/nfrund/duochat/internal/domain"
)

func userKey(id string) []byte {
	return []byte("user/" + id)
}

func usernameKey(username string) []byte {
	return []byte("username/" + strings.ToLower(username))
}

// CreateUser stores a user under the next numeric id. Usernames are unique
// case-insensitively.
func (s *BadgerStore) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	const op = "storage.create_user"

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.Validationf(op, "username must not be empty")
	}

	var user *domain.User
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(usernameKey(username)); err == nil {
			return &domain.Error{Op: op, Kind: domain.ErrConflict, Message: "username " + strconv.Quote(username) + " is taken"}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seq, err := s.userSeq.Next()
		if err != nil {
			return err
		}
		user = &domain.User{
			ID:        strconv.FormatUint(seq+1, 10),
			Username:  username,
			CreatedAt: s.clock.Next(),
		}
		value, err := json.Marshal(storedUser{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt.UnixNano()})
		if err != nil {
			return err
		}
		if err := txn.Set(userKey(user.ID), value); err != nil {
			return err
		}
		return txn.Set(usernameKey(username), []byte(user.ID))
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, &domain.Error{Op: op, Kind: domain.ErrConflict, Message: "concurrent create for " + strconv.Quote(username)}
	}
	if err != nil {
		return nil, storeErr(op, err)
	}

	s.logger.InfoContext(ctx, "User created", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// GetUser loads a user by id.
func (s *BadgerStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	const op = "storage.get_user"

	var user *domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		u, err := readUser(txn, id)
		user = u
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NotFoundf(op, "user %q does not exist", id)
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return user, nil
}

// FindUserByUsername resolves the username index.
func (s *BadgerStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const op = "storage.find_user"

	var user *domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(strings.TrimSpace(username)))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		user, err = readUser(txn, string(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NotFoundf(op, "no user named %q", username)
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return user, nil
}

// ListUsers returns every user ordered by numeric id.
func (s *BadgerStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	const op = "storage.list_users"

	users := make([]domain.User, 0)
	prefix := []byte("user/")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var su storedUser
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &su)
			}); err != nil {
				return err
			}
			users = append(users, su.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	// Keys sort lexically ("10" < "2"), ids are numeric.
	sortUsersByID(users)
	return users, nil
}

type storedUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
}

func (su storedUser) toDomain() domain.User {
	return domain.User{ID: su.ID, Username: su.Username, CreatedAt: unixNano(su.CreatedAt)}
}

func readUser(txn *badger.Txn, id string) (*domain.User, error) {
	item, err := txn.Get(userKey(id))
	if err != nil {
		return nil, err
	}
	var su storedUser
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &su)
	}); err != nil {
		return nil, err
	}
	u := su.toDomain()
	return &u, nil
}
