package enrich

import (
	"context"
	"strings"
	"time"
)

// Confidence is the self-reported (or demoted) certainty of a record.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps free text onto a tier. Anything unrecognized is low.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Source records where a returned record came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceProvider Source = "provider"
	SourceDefault  Source = "default"
)

// Fields is the fixed schema asked of the provider.
type Fields struct {
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
	CompanySize string `json:"company_size"`
	Region      string `json:"region"`
	Description string `json:"description"`
}

// FieldNames lists the schema keys in prompt order.
var FieldNames = []string{"company_name", "industry", "company_size", "region", "description"}

// Record is a resolved enrichment result. No field is ever empty or "unknown".
type Record struct {
	SubjectKey string `json:"subject_key"`
	Fields
	Confidence Confidence `json:"confidence"`
	Source     Source     `json:"source"`
	Provider   string     `json:"provider,omitempty"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

// Prompt is a provider-agnostic request.
type Prompt struct {
	System string
	User   string
}

// Provider turns a prompt into raw text. Implementations tag failures with
// fault kinds; they do not retry (except the one forced-refresh retry after a 401).
type Provider interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Cache stores records by normalized key. Errors are best effort: the pipeline
// logs them and carries on.
type Cache interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error
}
