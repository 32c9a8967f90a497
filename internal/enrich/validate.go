package enrich

import (
	"strings"
	"unicode"

	"github.com/krishanraja/mindmaker-sub000/internal/fault"
)

const (
	fallbackIndustry    = "Business Services"
	fallbackCompanySize = "1-50"
	fallbackRegion      = "Global"
)

var placeholders = map[string]bool{
	"":              true,
	"-":             true,
	"n/a":           true,
	"na":            true,
	"none":          true,
	"null":          true,
	"nil":           true,
	"not available": true,
	"not found":     true,
	"unspecified":   true,
	"tbd":           true,
}

// IsPlaceholder reports whether v carries no information.
func IsPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return placeholders[v] || v == "unknown" || strings.HasPrefix(v, "unknown ") || strings.HasPrefix(v, "(unknown")
}

// Validate rewrites placeholder fields with generic best guesses. Any rewrite
// forces confidence to low. A response with no usable field at all is a
// malformed response.
func Validate(key string, r Response) (Fields, Confidence, error) {
	conf := ParseConfidence(r.Confidence)
	f := r.Fields

	slots := []*string{&f.CompanyName, &f.Industry, &f.CompanySize, &f.Region, &f.Description}
	usable := 0
	for _, p := range slots {
		*p = strings.TrimSpace(*p)
		if !IsPlaceholder(*p) {
			usable++
		}
	}
	if usable == 0 {
		return Fields{}, ConfidenceLow, fault.Newf(fault.KindMalformedResponse, "enrich.validate", "no usable fields for %q", key)
	}

	fb := fallbackFields(key)
	rewritten := false
	fill := func(dst *string, v string) {
		if IsPlaceholder(*dst) {
			*dst = v
			rewritten = true
		}
	}
	fill(&f.CompanyName, fb.CompanyName)
	fill(&f.Industry, fb.Industry)
	fill(&f.CompanySize, fb.CompanySize)
	fill(&f.Region, fb.Region)
	if IsPlaceholder(f.Description) {
		f.Description = describe(f.CompanyName, key)
		rewritten = true
	}
	if rewritten {
		conf = ConfidenceLow
	}
	return f, conf, nil
}

func fallbackFields(key string) Fields {
	name := companyFromKey(key)
	return Fields{
		CompanyName: name,
		Industry:    fallbackIndustry,
		CompanySize: fallbackCompanySize,
		Region:      fallbackRegion,
		Description: describe(name, key),
	}
}

func describe(name, key string) string {
	if key == "" || strings.EqualFold(name, key) {
		return name + " is an organization with an online presence."
	}
	return name + " is an organization operating at " + key + "."
}

// companyFromKey guesses a display name from the first host label:
// "acme-corp.co.uk" -> "Acme Corp".
func companyFromKey(key string) string {
	label, _, _ := strings.Cut(key, ".")
	words := strings.FieldsFunc(label, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	name := strings.Join(words, " ")
	if IsPlaceholder(name) {
		if IsPlaceholder(key) {
			return "Unnamed Organization"
		}
		return key
	}
	return name
}

// DefaultRecord is the record returned when the provider cannot answer.
func DefaultRecord(key string) Record {
	name := key
	if IsPlaceholder(name) {
		name = "Unnamed Organization"
	}
	f := fallbackFields(key)
	f.CompanyName = name
	f.Description = describe(name, key)
	return Record{
		SubjectKey: key,
		Fields:     f,
		Confidence: ConfidenceLow,
		Source:     SourceDefault,
	}
}
