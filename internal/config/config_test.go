package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
  max_open_conns: 25
  statement_timeout: 3s
drafts:
  backend: sqlite
  sqlite_path: /tmp/drafts.db
storage:
  bucket: field-images
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 3*time.Second, cfg.Database.StatementTimeout)
	assert.Equal(t, "sqlite", cfg.Drafts.Backend)
	assert.Equal(t, "field-images", cfg.Storage.Bucket)

	// defaults fill what the file leaves out
	assert.Equal(t, 5, cfg.Database.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Database.RetryInitialInterval)
	assert.Equal(t, 10*time.Second, cfg.Database.RetryMaxInterval)
	assert.Equal(t, 85, cfg.Storage.JPEGQuality)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, "fieldsync.events", cfg.Sync.EventsChannel)
}

func TestSecretsFromEnvironment(t *testing.T) {
	t.Setenv("FIELDSYNC_DB_PASSWORD", "s3cret")
	t.Setenv("FIELDSYNC_JWT_SECRET", "signing-key")
	t.Setenv("FIELDSYNC_SPACES_KEY", "AKIA")

	cfg, err := LoadFile(writeConfig(t, "database:\n  password: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "signing-key", cfg.JWT.Secret)
	assert.Equal(t, "AKIA", cfg.Storage.AccessKey)
}

func TestValidate(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "drafts:\n  backend: browser\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `drafts.backend "browser"`)

	_, err = LoadFile(writeConfig(t, "database:\n  retry_initial_interval: 20s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_max_interval")
}

func TestValidateTimeouts(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "storage:\n  bucket: b\n"))
	require.NoError(t, err)
	assert.Less(t, cfg.Sync.SubmitBudget, cfg.Server.RequestTimeout)
	assert.GreaterOrEqual(t, cfg.Server.SyncTimeout, cfg.Sync.DraftTimeout)
	assert.Greater(t, cfg.Server.WriteTimeout, cfg.Server.SyncTimeout)

	_, err = LoadFile(writeConfig(t, "sync:\n  submit_budget: 90s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.submit_budget")

	_, err = LoadFile(writeConfig(t, "server:\n  sync_timeout: 1m\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.sync_timeout")

	_, err = LoadFile(writeConfig(t, "server:\n  write_timeout: 90s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.write_timeout")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
