// Package gemini calls the Gemini API with an API key.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
	"github.com/krishanraja/mindmaker-sub000/internal/fault"
	"github.com/krishanraja/mindmaker-sub000/internal/redact"
)

const op = "gemini.generate"

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	HTTPClient *http.Client
}

type Provider struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

func (p *Provider) Name() string { return "gemini" }

var outputSchema = func() *genai.Schema {
	s := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{},
	}
	for _, name := range append(append([]string(nil), enrich.FieldNames...), "confidence") {
		s.Properties[name] = &genai.Schema{Type: genai.TypeString}
		s.Required = append(s.Required, name)
	}
	s.Properties["confidence"].Enum = []string{"low", "medium", "high"}
	return s
}()

func (p *Provider) Generate(ctx context.Context, prompt enrich.Prompt) (string, error) {
	cfg := &genai.GenerateContentConfig{
		CandidateCount:   1,
		ResponseMIMEType: "application/json",
		ResponseSchema:   outputSchema,
	}
	if prompt.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: prompt.System}}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt.User), cfg)
	if err != nil {
		return "", classifyErr(err)
	}
	if reason := blockReason(resp); reason != "" {
		return "", fault.Newf(fault.KindMalformedResponse, op, "response blocked: %s", reason)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fault.New(fault.KindMalformedResponse, op, errors.New("empty response"))
	}
	return text, nil
}

func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return "no response"
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	switch fr := resp.Candidates[0].FinishReason; fr {
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
		return string(fr)
	}
	return ""
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &fault.Error{
			Kind:       fault.KindForStatus(apiErr.Code),
			Op:         op,
			StatusCode: apiErr.Code,
			Snippet:    redact.Truncate([]byte(apiErr.Message), 256),
		}
	}
	return fault.FromTransport(op, err)
}
