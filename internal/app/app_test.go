package app_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/csv"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishanraja/mindmaker-sub000/internal/app"
	"github.com/krishanraja/mindmaker-sub000/internal/batch"
	"github.com/krishanraja/mindmaker-sub000/internal/config"
	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
	"github.com/krishanraja/mindmaker-sub000/internal/mockprovider"
)

type harness struct {
	mock *mockprovider.Server
	ts   *httptest.Server
	cfg  config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mock := mockprovider.New(3600)
	mock.RequireEmailKey("re_test")
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	sa, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "mock-project",
		"private_key_id": "kid-1",
		"private_key":    string(pemKey),
		"client_email":   "svc@mock-project.iam.gserviceaccount.com",
		"token_uri":      ts.URL + "/token",
	})
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(keyFile, sa, 0o600))

	cfg := config.Default()
	cfg.Enrich.Provider = "vertex"
	cfg.Enrich.Cache = "memory"
	cfg.Enrich.AttemptTimeout = 2 * time.Second
	cfg.Vertex.Project = "mock-project"
	cfg.Vertex.BaseURL = ts.URL
	cfg.Credential.KeyFile = keyFile
	cfg.Notify.Sender = "resend"
	cfg.Notify.From = "bot@example.com"
	cfg.Notify.OwnerEmail = "owner@example.com"
	cfg.Resend.APIKey = "re_test"
	cfg.Resend.BaseURL = ts.URL
	cfg.Workers = 2
	require.NoError(t, cfg.Validate())

	return &harness{mock: mock, ts: ts, cfg: cfg}
}

func (h *harness) build(t *testing.T, withNotify bool) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), h.cfg, app.Deps{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry:   prometheus.NewRegistry(),
		HTTPClient: h.ts.Client(),
		Sleeper:    func(context.Context, time.Duration) error { return nil },
	}, withNotify)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestResolve_ProviderThenCache(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := h.build(t, false)
	ctx := context.Background()

	rec := a.Resolve(ctx, "https://www.acme.com/about")
	assert.Equal(t, enrich.SourceProvider, rec.Source)
	assert.Equal(t, "acme.com", rec.SubjectKey)
	assert.Equal(t, "Acme", rec.CompanyName)

	rec = a.Resolve(ctx, "ACME.com")
	assert.Equal(t, enrich.SourceCache, rec.Source)

	assert.Equal(t, 1, h.mock.Count(mockprovider.EndpointToken))
	assert.Equal(t, 1, h.mock.Count(mockprovider.EndpointGenerate))
}

func TestResolve_TransientExhaustionFallsBackToDefault(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for range 4 {
		h.mock.Script(mockprovider.EndpointGenerate, mockprovider.Step{Status: http.StatusServiceUnavailable})
	}
	a := h.build(t, false)

	rec := a.Resolve(context.Background(), "flaky.io")
	assert.Equal(t, enrich.SourceDefault, rec.Source)
	assert.Equal(t, enrich.ConfidenceLow, rec.Confidence)
	assert.Equal(t, 4, h.mock.Count(mockprovider.EndpointGenerate), "initial attempt plus three retries")

	rec = a.Resolve(context.Background(), "flaky.io")
	assert.Equal(t, enrich.SourceCache, rec.Source, "default records are cached too")
	assert.Equal(t, 4, h.mock.Count(mockprovider.EndpointGenerate))
}

func TestResolve_RevokedCredentialRecovers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := h.build(t, false)
	ctx := context.Background()

	require.Equal(t, enrich.SourceProvider, a.Resolve(ctx, "one.com").Source)
	h.mock.RevokeTokens()
	require.Equal(t, enrich.SourceProvider, a.Resolve(ctx, "two.com").Source)

	assert.Equal(t, 2, h.mock.Count(mockprovider.EndpointToken))
}

func TestHandler_LeadAndContact(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := h.build(t, true)
	api := httptest.NewServer(a.Handler())
	defer api.Close()

	resp, err := http.Post(api.URL+"/v1/leads", "application/json",
		strings.NewReader(`{"email":"jane@acme.com","name":"Jane","message":"pricing?"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"notified":true`)

	h.mock.Script(mockprovider.EndpointEmail,
		mockprovider.Step{Status: http.StatusUnprocessableEntity, Body: `{"name":"validation_error"}`})
	resp, err = http.Post(api.URL+"/v1/contact", "application/json",
		strings.NewReader(`{"email":"jane@acme.com","name":"Jane","message":"call me"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, err = http.Get(api.URL + "/metrics")
	require.NoError(t, err)
	metricsBody, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(metricsBody), "enricher_resolves_total")

	assert.Equal(t, 2, h.mock.Count(mockprovider.EndpointEmail), "permanent failures are not retried")
}

func TestRunLocal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := h.build(t, false)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("name,domain\nA,acme.com\nB,beta.io\nC,\nD,www.acme.com\n"), 0o600))

	require.NoError(t, a.RunLocal(context.Background(), in, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)

	statuses := map[string]int{}
	for _, r := range records[1:] {
		statuses[r[10]]++
	}
	assert.Equal(t, 3, statuses["ok"])
	assert.Equal(t, 1, statuses["error"])
	assert.LessOrEqual(t, h.mock.Count(mockprovider.EndpointGenerate), 2)
}

func TestRunLocal_NoRowsWritesHeader(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := h.build(t, false)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("domain\n"), 0o600))

	require.NoError(t, a.RunLocal(context.Background(), in, out))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, batch.Header(), records[0])
	assert.Zero(t, h.mock.Count(mockprovider.EndpointGenerate))
}

func TestNew_ValidatesProviderSettings(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Enrich.Provider = "vertex"
	_, err := app.New(context.Background(), cfg, app.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, false)
	require.ErrorIs(t, err, config.ErrInvalid)
}
