package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.GetListenAddr())
	assert.Equal(t, DriverBadger, cfg.GetStoreDriver())
	assert.Equal(t, 2000, cfg.GetMaxContentLength())
	assert.Equal(t, 5*time.Second, cfg.GetPushTimeout())
	assert.Equal(t, 256, cfg.GetSendBuffer())
	assert.Equal(t, 32, cfg.GetPresenceShards())
	assert.Equal(t, uint32(5), cfg.GetBreakerMaxFailures())
	assert.False(t, cfg.GetTracingEnabled())
	assert.Empty(t, cfg.GetSeedUsers())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DUOCHAT_ADDR", "127.0.0.1:9000")
	t.Setenv("DUOCHAT_PUSH_TIMEOUT", "250ms")
	t.Setenv("DUOCHAT_SEED_USERS", "alice, bob,,")
	t.Setenv("DUOCHAT_ALLOWED_ORIGIN", "https://chat.example.com")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.GetListenAddr())
	assert.Equal(t, 250*time.Millisecond, cfg.GetPushTimeout())
	assert.Equal(t, []string{"alice", "bob"}, cfg.GetSeedUsers())
	assert.Equal(t, []string{"chat.example.com"}, cfg.OriginPatterns())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown driver", "DUOCHAT_STORE", "sqlite"},
		{"non-positive length", "DUOCHAT_MAX_CONTENT_LENGTH", "0"},
		{"relative origin", "DUOCHAT_ALLOWED_ORIGIN", "localhost"},
		{"unparsable duration", "DUOCHAT_PUSH_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_SurrealRequiresURL(t *testing.T) {
	t.Setenv("DUOCHAT_STORE", DriverSurreal)
	t.Setenv("SURREAL_URL", "")
	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SURREAL_URL")

	t.Setenv("SURREAL_URL", "ws://localhost:8000")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000", cfg.GetDBURL())
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DUOCHAT_SEND_BUFFER=17\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DUOCHAT_SEND_BUFFER") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 17, cfg.GetSendBuffer())
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestOriginPatterns_Wildcard(t *testing.T) {
	cfg := &Config{AllowedOrigin: "*"}
	assert.Equal(t, []string{"*"}, cfg.OriginPatterns())
}
