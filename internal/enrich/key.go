package enrich

import "strings"

// NormalizeKey reduces a domain, URL or email address to a bare lowercase host.
//
//	"Jane@Acme.COM"                 -> "acme.com"
//	"https://www.acme.com/about?x"  -> "acme.com"
func NormalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.Trim(s, ". ")
}
