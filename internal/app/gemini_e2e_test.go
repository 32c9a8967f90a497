//go:build gemini_e2e

package app_test

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishanraja/mindmaker-sub000/internal/app"
	"github.com/krishanraja/mindmaker-sub000/internal/config"
	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
)

func TestRunLocal_RealGemini_EndToEnd(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}

	cfg := config.Default()
	cfg.Enrich.Provider = "gemini"
	cfg.Gemini.APIKey = apiKey
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		cfg.Gemini.Model = model
	}
	cfg.Gemini.BaseURL = os.Getenv("GEMINI_BASE_URL")
	cfg.Workers = 2

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, false)
	require.NoError(t, err)
	defer a.Close()

	baseDir := t.TempDir()
	if artifactDir := os.Getenv("GEMINI_E2E_ARTIFACT_DIR"); artifactDir != "" {
		require.NoError(t, os.MkdirAll(artifactDir, 0o755))
		baseDir = artifactDir
	}
	in := filepath.Join(baseDir, "input.csv")
	out := filepath.Join(baseDir, "enriched.csv")
	// Well-known public domains only.
	require.NoError(t, os.WriteFile(in, []byte("domain\ngoogle.com\nstripe.com\n"), 0o644))

	require.NoError(t, a.RunLocal(ctx, in, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	for _, r := range records[1:] {
		assert.Equal(t, "ok", r[10])
		assert.False(t, enrich.IsPlaceholder(r[2]), "company_name %q", r[2])
		assert.False(t, enrich.IsPlaceholder(r[3]), "industry %q", r[3])
	}
}
