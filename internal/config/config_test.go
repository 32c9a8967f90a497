package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishanraja/mindmaker-sub000/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	p := cfg.Backoff.Generic.Policy()
	assert.Equal(t, time.Second, p.Initial)
	assert.Equal(t, 30*time.Second, p.Max)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 0.2, p.JitterFrac)

	n := cfg.Backoff.Notify.Policy()
	assert.Equal(t, 500*time.Millisecond, n.Initial)
	assert.Equal(t, 4*time.Second, n.Max)
	assert.True(t, cfg.Enrich.Coalesce)
}

func TestBackoffPolicy_FillsUnsetFields(t *testing.T) {
	p := config.Backoff{MaxRetries: 5}.Policy()
	assert.Equal(t, time.Second, p.Initial)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 30*time.Second, p.Max)
	assert.Equal(t, 5, p.MaxRetries)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":9000"
workers: 4
backoff:
  generic:
    initial: 2s
    multiplier: 3
    max: 1m
    max_retries: 5
enrich:
  provider: gemini
  cache: redis
gemini:
  api_key: from-file
redis:
  url: redis://localhost:6379/0
`)
	t.Setenv("WORKERS", "8")
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("BACKOFF_GENERIC_MAX_RETRIES", "1")
	t.Setenv("ENRICH_COALESCE", "false")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "gemini", cfg.Enrich.Provider)
	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, 2*time.Second, cfg.Backoff.Generic.Initial)
	assert.Equal(t, 3.0, cfg.Backoff.Generic.Multiplier)
	assert.Equal(t, time.Minute, cfg.Backoff.Generic.Max)
	assert.Equal(t, 1, cfg.Backoff.Generic.MaxRetries)
	assert.False(t, cfg.Enrich.Coalesce)
	// Untouched keys keep defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff.Notify.Initial)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	require.NoError(t, cfg.ValidateEnrich())
}

func TestLoad_UnknownFileKey(t *testing.T) {
	path := writeFile(t, "listen_adr: \":1\"\n")
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_adr")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("WORKERS", "many")
	_, err := config.Load("")
	assert.Error(t, err)
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0
	cfg.Enrich.Provider = "openai"
	cfg.Notify.Sender = "pigeon"
	cfg.Backoff.Notify.JitterFrac = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalid))
	for _, want := range []string{"workers", "enrich.provider", "notify.sender", "backoff.notify"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateEnrich(t *testing.T) {
	cfg := config.Default()
	err := cfg.ValidateEnrich()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VERTEX_PROJECT")
	assert.Contains(t, err.Error(), "CREDENTIAL_KEY_FILE")

	cfg.Vertex.Project = "proj"
	cfg.Credential.KeyFile = "/secrets/sa.json"
	assert.NoError(t, cfg.ValidateEnrich())

	cfg.Enrich.Cache = "tiered"
	assert.ErrorContains(t, cfg.ValidateEnrich(), "REDIS_URL")
}

func TestValidateNotify(t *testing.T) {
	cfg := config.Default()
	err := cfg.ValidateNotify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOTIFY_OWNER_EMAIL")
	assert.Contains(t, err.Error(), "RESEND_API_KEY")

	cfg.Notify.OwnerEmail = "owner@example.com"
	cfg.Notify.Sender = "log"
	assert.NoError(t, cfg.ValidateNotify())

	cfg.Notify.Sender = "shoutrrr"
	assert.ErrorContains(t, cfg.ValidateNotify(), "NOTIFY_SHOUTRRR_URL")
}
