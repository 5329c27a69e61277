package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StorageFile, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join("data", "tasks.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 5, cfg.Auth.MaxCodeAttempts)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
storage:
  driver: sqlite
  data_dir: /var/lib/ticklist
auth:
  session_ttl: 12h
  code_ttl: 5m
  allow_guest: true
  oauth:
    public_url: https://tasks.example.com/
    google:
      client_id: g-id
      client_secret: g-secret
    github:
      client_id: gh-id
`), 0o644))

	t.Setenv("TICKLIST_COOKIE_NAME", "tl")
	t.Setenv("TICKLIST_COOKIE_SECURE", "false")
	t.Setenv("TICKLIST_CODE_MAX_ATTEMPTS", "3")
	t.Setenv("TICKLIST_CORS_ORIGINS", "http://localhost:3000, https://app.example.com")
	t.Setenv("TICKLIST_GOOGLE_CLIENT_SECRET", "g-env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join("/var/lib/ticklist", "tasks.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.CodeTTL)
	assert.True(t, cfg.Auth.AllowGuest)
	assert.Equal(t, "tl", cfg.Auth.CookieName)
	require.NotNil(t, cfg.Auth.CookieSecure)
	assert.False(t, *cfg.Auth.CookieSecure)
	assert.Equal(t, 3, cfg.Auth.MaxCodeAttempts)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.Server.CORSOrigins)

	assert.Equal(t, "https://tasks.example.com/", cfg.Auth.OAuth.PublicURL)
	assert.Equal(t, "g-env-secret", cfg.Auth.OAuth.Google.ClientSecret)
	assert.True(t, cfg.Auth.OAuth.Google.Enabled())
	assert.False(t, cfg.Auth.OAuth.GitHub.Enabled(), "secret missing")
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("bad driver", func(t *testing.T) {
		t.Setenv("TICKLIST_STORAGE", "mongo")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("TICKLIST_SESSION_TTL_HOURS", "soon")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("bad public url", func(t *testing.T) {
		t.Setenv("TICKLIST_PUBLIC_URL", "tasks.example.com")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadClient_CreatesDefaultsThenReadsEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", DefaultClientFileName)

	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, filepath.Join(dir, "nested", DefaultSessionName), cfg.SessionFile)
	assert.Equal(t, 5*time.Second, cfg.UndoWindow())
	assert.FileExists(t, path)

	require.NoError(t, os.WriteFile(path, []byte("api_url = \"https://tasks.example.com\"\ntimeout_seconds = 15\n"), 0o644))
	cfg, err = LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "https://tasks.example.com", cfg.APIURL)
	assert.Equal(t, 15*time.Second, cfg.Timeout())
	assert.Equal(t, "q", cfg.Keys.Quit)

	t.Setenv("TICKLIST_API_URL", "http://127.0.0.1:1")
	cfg, err = LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1", cfg.APIURL)
}
