package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
	"github.com/krishanraja/mindmaker-sub000/internal/fault"
	"github.com/krishanraja/mindmaker-sub000/internal/notify"
	"github.com/krishanraja/mindmaker-sub000/internal/server"
)

type fakeResolver struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeResolver) Resolve(_ context.Context, key string) enrich.Record {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	rec := enrich.DefaultRecord(enrich.NormalizeKey(key))
	rec.Industry = "Software"
	return rec
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func newServer(t *testing.T, n *fakeNotifier, opts server.Options) (http.Handler, *fakeResolver) {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	res := &fakeResolver{}
	return server.New(res, n, opts).Handler(), res
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestEnrich(t *testing.T) {
	t.Parallel()
	h, res := newServer(t, &fakeNotifier{}, server.Options{})

	rr := do(t, h, http.MethodPost, "/v1/enrich", `{"domain":"https://www.acme.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec enrich.Record
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, "acme.com", rec.SubjectKey)
	assert.Equal(t, "Software", rec.Industry)
	assert.Equal(t, []string{"https://www.acme.com"}, res.keys)
	assert.NotEmpty(t, rr.Header().Get(server.HeaderRequestID))
}

func TestEnrich_BadRequests(t *testing.T) {
	t.Parallel()
	h, res := newServer(t, &fakeNotifier{}, server.Options{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty domain", body: `{"domain":"  "}`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"domain":"acme.com","x":1}`, want: http.StatusBadRequest},
		{name: "not json", body: `domain=acme.com`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/enrich", tt.body)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
	assert.Empty(t, res.keys)
}

func TestLead_NotifiesOwner(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	h, res := newServer(t, n, server.Options{OwnerEmail: "owner@example.com"})

	rr := do(t, h, http.MethodPost, "/v1/leads", `{"email":"jane@acme.com","name":"Jane","message":"hi"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var body struct {
		Record   enrich.Record `json:"record"`
		Notified bool          `json:"notified"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.True(t, body.Notified)
	assert.Equal(t, "acme.com", body.Record.SubjectKey)
	assert.Equal(t, []string{"jane@acme.com"}, res.keys, "falls back to the email domain")

	require.Len(t, n.sent, 1)
	assert.Equal(t, []string{"owner@example.com"}, n.sent[0].To)
	assert.Equal(t, "jane@acme.com", n.sent[0].ReplyTo)
	assert.Contains(t, n.sent[0].Text, "Software")
}

func TestLead_NotificationFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{err: fault.New(fault.KindTransient, "notify.resend", errors.New("gateway"))}
	h, _ := newServer(t, n, server.Options{OwnerEmail: "owner@example.com"})

	rr := do(t, h, http.MethodPost, "/v1/leads", `{"email":"jane@acme.com","company_domain":"acme.io"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), `"notified":false`)
	assert.Contains(t, rr.Body.String(), `"subject_key":"acme.io"`)
}

func TestLead_InvalidEmail(t *testing.T) {
	t.Parallel()
	h, res := newServer(t, &fakeNotifier{}, server.Options{})

	rr := do(t, h, http.MethodPost, "/v1/leads", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, res.keys)
}

func TestContact(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	h, _ := newServer(t, n, server.Options{OwnerEmail: "owner@example.com", ConfirmContact: true})

	rr := do(t, h, http.MethodPost, "/v1/contact", `{"email":"jane@acme.com","name":"Jane","message":"call me"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, n.sent, 2)
	assert.Equal(t, []string{"owner@example.com"}, n.sent[0].To)
	assert.Contains(t, n.sent[0].Text, "call me")
	assert.Equal(t, []string{"jane@acme.com"}, n.sent[1].To)
}

func TestContact_DeliveryFailureIsFatal(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{err: fault.New(fault.KindPermanent, "notify.resend", errors.New("rejected"))}
	h, _ := newServer(t, n, server.Options{OwnerEmail: "owner@example.com", ConfirmContact: true})

	rr := do(t, h, http.MethodPost, "/v1/contact", `{"email":"jane@acme.com","message":"call me"}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "delivery_failed")
	assert.Len(t, n.sent, 1, "no confirmation after a failed notification")
}

func TestContact_Validation(t *testing.T) {
	t.Parallel()
	h, _ := newServer(t, &fakeNotifier{}, server.Options{OwnerEmail: "owner@example.com"})

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/contact", `{"email":"jane@acme.com"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/contact", `{"message":"x"}`).Code)

	unconfigured, _ := newServer(t, &fakeNotifier{}, server.Options{})
	assert.Equal(t, http.StatusServiceUnavailable,
		do(t, unconfigured, http.MethodPost, "/v1/contact", `{"email":"jane@acme.com","message":"x"}`).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h, _ := newServer(t, &fakeNotifier{}, server.Options{Gatherer: reg})

	rr := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "test_total 1")
}

func TestRequestID_PropagatesValidHeader(t *testing.T) {
	t.Parallel()
	h, _ := newServer(t, &fakeNotifier{}, server.Options{})

	const id = "8f14e45f-ceea-467f-a7f6-b6a8e7d0c9a1"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(server.HeaderRequestID, id)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, id, rr.Header().Get(server.HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(server.HeaderRequestID, "not-a-uuid")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.NotEqual(t, "not-a-uuid", rr.Header().Get(server.HeaderRequestID))
}
