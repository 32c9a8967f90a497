// Package resend delivers email through the Resend HTTP API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/krishanraja/mindmaker-sub000/internal/fault"
	"github.com/krishanraja/mindmaker-sub000/internal/notify"
	"github.com/krishanraja/mindmaker-sub000/internal/version"
)

const (
	DefaultBaseURL = "https://api.resend.com"
	op             = "resend.send"
)

type Config struct {
	APIKey  string
	From    string
	BaseURL string

	HTTPClient *http.Client
}

type Sender struct {
	apiKey  string
	from    string
	baseURL string
	http    *http.Client
}

func New(cfg Config) (*Sender, error) {
	var errs []error
	if strings.TrimSpace(cfg.APIKey) == "" {
		errs = append(errs, errors.New("RESEND_API_KEY is required"))
	}
	if strings.TrimSpace(cfg.From) == "" {
		errs = append(errs, errors.New("notify from address is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Sender{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		from:    strings.TrimSpace(cfg.From),
		baseURL: base,
		http:    hc,
	}, nil
}

func (s *Sender) Name() string { return "resend" }

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// Deliver posts one email. The idempotency key is forwarded so the provider can
// drop a duplicate after a retried attempt.
func (s *Sender) Deliver(ctx context.Context, msg notify.Message) error {
	body, err := json.Marshal(emailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return fault.New(fault.KindPermanent, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fault.New(fault.KindPermanent, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fault.FromTransport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return fault.FromTransport(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fault.FromStatus(op, resp, raw)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fault.New(fault.KindMalformedResponse, op, fmt.Errorf("decode response: %w", err))
	}
	if out.ID == "" {
		return fault.Newf(fault.KindMalformedResponse, op, "response has no email id")
	}
	return nil
}
