package testutils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/nfrund/duochat/internal/config"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/storage"
)

// ProjectRoot walks up from the working directory to the directory holding go.mod.
func ProjectRoot(t *testing.T) string {
	t.Helper()
	path, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}
}

// ConfigForTests applies .env.test from the project root with t.Setenv and
// returns the resulting configuration.
func ConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	env, err := godotenv.Read(filepath.Join(ProjectRoot(t), ".env.test"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to load .env.test file: %v", err)
	}
	for key, value := range env {
		t.Setenv(key, value)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}
	return cfg
}

// NewBadgerStore opens an in-memory store closed at test cleanup.
func NewBadgerStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	s, err := storage.Open(storage.Options{})
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedUsers creates users in order, so in a fresh badger store they get ids
// "1", "2", ...
func SeedUsers(t *testing.T, store domain.UserStore, usernames ...string) []*domain.User {
	t.Helper()
	users := make([]*domain.User, 0, len(usernames))
	for _, name := range usernames {
		u, err := store.CreateUser(context.Background(), name)
		if err != nil {
			t.Fatalf("failed to create user %q: %v", name, err)
		}
		users = append(users, u)
	}
	return users
}
