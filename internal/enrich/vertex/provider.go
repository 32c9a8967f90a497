// Package vertex calls Vertex AI generateContent with a service-account bearer
// token.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
	"github.com/krishanraja/mindmaker-sub000/internal/fault"
	"github.com/krishanraja/mindmaker-sub000/internal/version"
)

const (
	op              = "vertex.generate"
	maxResponseBody = 4 << 20
)

// TokenSource hands out bearer tokens. *credential.Manager satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceToken(ctx context.Context) (string, error)
	Invalidate()
}

type Config struct {
	Project  string
	Location string
	Model    string

	// BaseURL defaults to https://{location}-aiplatform.googleapis.com.
	BaseURL string

	Temperature float64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Provider struct {
	endpoint    string
	model       string
	temperature float64
	tokens      TokenSource
	http        *http.Client
	log         *slog.Logger
}

func New(cfg Config, tokens TokenSource) (*Provider, error) {
	var errs []error
	if strings.TrimSpace(cfg.Project) == "" {
		errs = append(errs, errors.New("vertex project is required"))
	}
	if strings.TrimSpace(cfg.Model) == "" {
		errs = append(errs, errors.New("vertex model is required"))
	}
	if tokens == nil {
		errs = append(errs, errors.New("vertex token source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	loc := strings.TrimSpace(cfg.Location)
	if loc == "" {
		loc = "us-central1"
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://" + loc + "-aiplatform.googleapis.com"
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid vertex base url: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	model := strings.TrimSpace(cfg.Model)
	return &Provider{
		endpoint: fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
			base, url.PathEscape(strings.TrimSpace(cfg.Project)), url.PathEscape(loc), url.PathEscape(model)),
		model:       model,
		temperature: cfg.Temperature,
		tokens:      tokens,
		http:        hc,
		log:         lg,
	}, nil
}

func (p *Provider) Name() string { return "vertex" }

// Generate sends one request. A 401 invalidates the cached credential and the
// request is repeated once with a freshly exchanged token.
func (p *Provider) Generate(ctx context.Context, prompt enrich.Prompt) (string, error) {
	tok, err := p.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	text, err := p.call(ctx, tok, prompt)
	if !fault.Is(err, fault.KindAuthenticationFailed) {
		return text, err
	}

	p.log.Info("vertex rejected credential, refreshing", "model", p.model)
	p.tokens.Invalidate()
	tok, err = p.tokens.ForceToken(ctx)
	if err != nil {
		return "", err
	}
	return p.call(ctx, tok, prompt)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	CandidateCount   int     `json:"candidateCount"`
	ResponseMIMEType string  `json:"responseMimeType"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

var blockedFinish = map[string]bool{
	"SAFETY":             true,
	"BLOCKLIST":          true,
	"PROHIBITED_CONTENT": true,
	"SPII":               true,
	"RECITATION":         true,
}

func (p *Provider) call(ctx context.Context, token string, prompt enrich.Prompt) (string, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt.User}}}},
		GenerationConfig: generationConfig{
			Temperature:      p.temperature,
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
		},
	}
	if prompt.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: prompt.System}}}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", fault.New(fault.KindPermanent, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", fault.New(fault.KindPermanent, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fault.FromTransport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fault.FromTransport(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fault.FromStatus(op, resp, raw)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fault.New(fault.KindMalformedResponse, op, fmt.Errorf("decode response: %w", err))
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return "", fault.Newf(fault.KindMalformedResponse, op, "prompt blocked: %s", gr.PromptFeedback.BlockReason)
	}
	if len(gr.Candidates) == 0 {
		return "", fault.New(fault.KindMalformedResponse, op, errors.New("no candidates"))
	}
	c := gr.Candidates[0]
	if blockedFinish[c.FinishReason] {
		return "", fault.Newf(fault.KindMalformedResponse, op, "response blocked: %s", c.FinishReason)
	}
	var sb strings.Builder
	for _, pt := range c.Content.Parts {
		sb.WriteString(pt.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fault.New(fault.KindMalformedResponse, op, errors.New("empty response"))
	}
	return text, nil
}
