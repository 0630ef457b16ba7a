package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/courier/internal/config"
	"github.com/memohai/courier/internal/threads"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.Equal(t, 0, execute(cmd))
	assert.True(t, strings.HasPrefix(out.String(), "courier "))
}

func TestTokenCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[auth]
jwt_secret = "cli-secret"

[storage]
driver = "memory"

[accounts]
source = "file"
`), 0o600))

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--config", path, "token", "--subject", "ops"})
	require.Equal(t, 0, execute(cmd))
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), "."))
	assert.Contains(t, errOut.String(), "expires at")
}

func TestMemoryStorage(t *testing.T) {
	s, err := openStorage(context.Background(), config.Config{Storage: config.StorageConfig{Driver: "memory"}})
	require.NoError(t, err)
	defer s.Close()

	store, err := s.threadStore()
	require.NoError(t, err)
	_, ok := store.(*threads.MemoryStore)
	assert.True(t, ok)

	_, err = s.accountsStore()
	assert.Error(t, err)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSQLiteStorage(t *testing.T) {
	cfg := config.Config{Storage: config.StorageConfig{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "courier.db"),
	}}
	s, err := openStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.threadStore()
	require.NoError(t, err)
	_, err = s.accountsStore()
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
}
