// Package mockprovider serves a local stand-in for the token endpoint, the
// Vertex generateContent API and the Resend email API.
package mockprovider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/krishanraja/mindmaker-sub000/internal/credential"
	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
)

// Endpoint names one of the mocked APIs.
type Endpoint string

const (
	EndpointToken    Endpoint = "token"
	EndpointGenerate Endpoint = "generate"
	EndpointEmail    Endpoint = "email"
)

// Call records a request made to the mock service.
type Call struct {
	Endpoint Endpoint
	Method   string
	Path     string
	Status   int

	// Subject is the assertion issuer for token calls, the prompt's domain for
	// generate calls and the first recipient for email calls.
	Subject        string
	IdempotencyKey string
}

// Step overrides the next response from an endpoint.
type Step struct {
	Status int
	Body   string

	// Hang blocks until the client gives up.
	Hang bool
}

// Server implements the mocked APIs. The zero value is not usable; call New.
type Server struct {
	mu sync.Mutex

	calls   []Call
	scripts map[Endpoint][]Step

	tokenTTL int64
	issued   int
	valid    map[string]bool

	emailKey  string
	emails    map[string]string
	companies map[string]enrich.Fields
}

// New constructs a mock server issuing tokens that last tokenTTL seconds.
func New(tokenTTL int64) *Server {
	if tokenTTL <= 0 {
		tokenTTL = 3600
	}
	return &Server{
		scripts:   make(map[Endpoint][]Step),
		tokenTTL:  tokenTTL,
		valid:     make(map[string]bool),
		emails:    make(map[string]string),
		companies: make(map[string]enrich.Fields),
	}
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /v1/projects/{project}/locations/{location}/publishers/google/models/{model}", s.handleGenerate)
	mux.HandleFunc("POST /emails", s.handleEmail)
	return mux
}

// Script queues steps for ep; they are consumed one per request before
// normal handling resumes.
func (s *Server) Script(ep Endpoint, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[ep] = append(s.scripts[ep], steps...)
}

// SetCompany fixes the fields returned for a domain.
func (s *Server) SetCompany(domain string, f enrich.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[enrich.NormalizeKey(domain)] = f
}

// RequireEmailKey enforces the email API key. Empty disables the check.
func (s *Server) RequireEmailKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emailKey = strings.TrimSpace(key)
}

// RevokeTokens invalidates every issued access token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.valid)
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Count returns how many calls hit ep.
func (s *Server) Count(ep Endpoint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Endpoint == ep {
			n++
		}
	}
	return n
}

func (s *Server) record(ep Endpoint, r *http.Request, status int, subject, idem string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{
		Endpoint:       ep,
		Method:         r.Method,
		Path:           r.URL.Path,
		Status:         status,
		Subject:        subject,
		IdempotencyKey: idem,
	})
}

// scripted serves the next queued step for ep, if any.
func (s *Server) scripted(ep Endpoint, w http.ResponseWriter, r *http.Request, subject string) bool {
	s.mu.Lock()
	q := s.scripts[ep]
	if len(q) == 0 {
		s.mu.Unlock()
		return false
	}
	step := q[0]
	s.scripts[ep] = q[1:]
	s.mu.Unlock()

	if step.Hang {
		s.record(ep, r, 0, subject, r.Header.Get("Idempotency-Key"))
		<-r.Context().Done()
		return true
	}
	status := step.Status
	if status == 0 {
		status = http.StatusOK
	}
	s.record(ep, r, status, subject, r.Header.Get("Idempotency-Key"))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, step.Body)
	return true
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.record(EndpointToken, r, http.StatusBadRequest, "", "")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	issuer := assertionIssuer(r.PostForm.Get("assertion"))
	if s.scripted(EndpointToken, w, r, issuer) {
		return
	}
	if r.PostForm.Get("grant_type") != credential.GrantType || issuer == "" {
		s.record(EndpointToken, r, http.StatusBadRequest, issuer, "")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	s.mu.Lock()
	s.issued++
	tok := fmt.Sprintf("mock-access-token-%d", s.issued)
	s.valid[tok] = true
	ttl := s.tokenTTL
	s.mu.Unlock()

	s.record(EndpointToken, r, http.StatusOK, issuer, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tok,
		"expires_in":   ttl,
		"token_type":   "Bearer",
	})
}

// assertionIssuer reads iss without verifying the signature; the mock has no
// access to the public key.
func assertionIssuer(assertion string) string {
	if assertion == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, claims); err != nil {
		return ""
	}
	iss, _ := claims.GetIssuer()
	return iss
}

type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	model, method, ok := strings.Cut(r.PathValue("model"), ":")
	if !ok || method != "generateContent" || model == "" {
		s.record(EndpointGenerate, r, http.StatusNotFound, "", "")
		http.NotFound(w, r)
		return
	}

	var req generateRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req)
	domain := promptDomain(req)

	if !s.authorized(r) {
		s.record(EndpointGenerate, r, http.StatusUnauthorized, domain, "")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": 401, "status": "UNAUTHENTICATED"}})
		return
	}
	if s.scripted(EndpointGenerate, w, r, domain) {
		return
	}

	fields := s.company(domain)
	text, _ := json.Marshal(struct {
		enrich.Fields
		Confidence string `json:"confidence"`
	}{Fields: fields, Confidence: "high"})

	s.record(EndpointGenerate, r, http.StatusOK, domain, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]string{{"text": string(text)}},
			},
			"finishReason": "STOP",
		}},
	})
}

func (s *Server) authorized(r *http.Request) bool {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid[tok]
}

func promptDomain(req generateRequest) string {
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if d, ok := strings.CutPrefix(strings.TrimSpace(p.Text), "Domain:"); ok {
				return strings.TrimSpace(d)
			}
		}
	}
	return ""
}

func (s *Server) company(domain string) enrich.Fields {
	s.mu.Lock()
	f, ok := s.companies[domain]
	s.mu.Unlock()
	if ok {
		return f
	}
	name := domain
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return enrich.Fields{
		CompanyName: name,
		Industry:    "Software",
		CompanySize: "11-50",
		Region:      "Europe",
		Description: name + " builds software products.",
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	idem := r.Header.Get("Idempotency-Key")

	var req emailRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.record(EndpointEmail, r, http.StatusUnprocessableEntity, "", idem)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"name": "validation_error", "message": "invalid body"})
		return
	}
	to := ""
	if len(req.To) > 0 {
		to = req.To[0]
	}

	s.mu.Lock()
	want := s.emailKey
	s.mu.Unlock()
	if want != "" && r.Header.Get("Authorization") != "Bearer "+want {
		s.record(EndpointEmail, r, http.StatusUnauthorized, to, idem)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"name": "missing_api_key", "message": "invalid api key"})
		return
	}
	if s.scripted(EndpointEmail, w, r, to) {
		return
	}
	if to == "" || req.Subject == "" {
		s.record(EndpointEmail, r, http.StatusUnprocessableEntity, to, idem)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"name": "validation_error", "message": "to and subject are required"})
		return
	}

	s.mu.Lock()
	id, seen := s.emails[idem]
	if !seen || idem == "" {
		id = fmt.Sprintf("mock-email-%d", len(s.emails)+1)
		if idem != "" {
			s.emails[idem] = id
		}
	}
	s.mu.Unlock()

	s.record(EndpointEmail, r, http.StatusOK, to, idem)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Emails returns delivered (non-duplicate) email ids keyed by idempotency key.
func (s *Server) Emails() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.emails))
	for k, v := range s.emails {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
