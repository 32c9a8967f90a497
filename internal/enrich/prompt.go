package enrich

import "strings"

const systemPrompt = `You are a B2B data enrichment tool. Given a company domain, describe the organization behind it.

Return ONLY a single JSON object with these keys:
- company_name (string)
- industry (string)
- company_size (string; an employee range such as "11-50")
- region (string; primary headquarters region)
- description (string; one or two sentences)
- confidence (string; one of: low, medium, high)

Rules:
- Never answer "unknown", "n/a" or an empty string. If unsure, give your best guess and set confidence to low.
- Do not include extra keys.
- Do not wrap the object in prose.`

// BuildPrompt asks for the fixed schema for one normalized key.
func BuildPrompt(key string) Prompt {
	return Prompt{
		System: systemPrompt,
		User:   "Domain: " + strings.TrimSpace(key),
	}
}

// Text joins system and user parts for providers without a system slot.
func (p Prompt) Text() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}
