package enrich

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/krishanraja/mindmaker-sub000/internal/fault"
)

// Response is the provider's answer before validation.
type Response struct {
	Fields
	Confidence string `json:"confidence"`
}

type parseStrategy struct {
	name    string
	extract func(string) (string, bool)
}

// Tried in order; the first candidate that decodes wins.
var parseStrategies = []parseStrategy{
	{name: "strict", extract: func(s string) (string, bool) { return s, true }},
	{name: "fenced", extract: stripFence},
	{name: "braces", extract: braceSpan},
}

// ParseResponse decodes provider text into a Response.
func ParseResponse(text string) (Response, error) {
	const op = "enrich.parse"

	text = strings.TrimSpace(text)
	if text == "" {
		return Response{}, fault.New(fault.KindMalformedResponse, op, errors.New("empty response"))
	}

	var lastErr error
	for _, st := range parseStrategies {
		candidate, ok := st.extract(text)
		if !ok {
			continue
		}
		var r Response
		if err := json.Unmarshal([]byte(candidate), &r); err != nil {
			lastErr = err
			continue
		}
		return r, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no json object found")
	}
	return Response{}, fault.New(fault.KindMalformedResponse, op, lastErr)
}

// stripFence returns the body of the first ``` block, with or without a
// language tag.
func stripFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{}") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// braceSpan returns the text from the first '{' to the last '}'.
func braceSpan(s string) (string, bool) {
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j <= i {
		return "", false
	}
	return s[i : j+1], true
}
