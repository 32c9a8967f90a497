// Package version carries the release version, overridable at link time with
// -ldflags "-X github.com/krishanraja/mindmaker-sub000/internal/version.Current=1.2.3".
package version

// Current is the release version without a v prefix.
var Current = "0.3.0"

// UserAgent is sent on outbound requests.
func UserAgent() string {
	return "mindmaker-enricher/" + Current
}
