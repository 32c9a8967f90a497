// Package fault tags outbound-call failures with an explicit kind at the point
// they happen, so retry and fallback decisions are a tag match rather than text
// parsing of error messages.
package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/krishanraja/mindmaker-sub000/internal/redact"
)

// Kind is the normalized failure taxonomy for provider, credential and email calls.
type Kind string

const (
	// KindTransient covers network timeouts, connection resets and 429/5xx-class
	// gateway failures. Retryable up to the policy limit.
	KindTransient Kind = "transient"

	// KindAuthenticationFailed is a 401 from a provider; callers invalidate the
	// credential that produced it.
	KindAuthenticationFailed Kind = "authentication_failed"

	// KindRateLimited is a 429. Retryable at policy level, but call sites paying
	// per request may treat it as terminal.
	KindRateLimited Kind = "rate_limited"

	// KindQuotaExceeded is a 402 or an explicit quota rejection.
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindMalformedResponse means a response arrived but could not be used
	// (empty, blocked by safety filtering, unparseable).
	KindMalformedResponse Kind = "malformed_response"

	// KindPermanent covers every other 4xx and all validation/business errors.
	KindPermanent Kind = "permanent"

	// KindCredentialExchangeFailed is a non-success response from the token endpoint.
	KindCredentialExchangeFailed Kind = "credential_exchange_failed"
)

// maxSnippet bounds how much of an error body is kept; bodies can carry PII or tokens.
const maxSnippet = 256

// Error is a classified outbound failure.
//
// Do not put raw response bodies here; Snippet is redacted and truncated.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Snippet    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "outbound error"
	}
	parts := []string{fmt.Sprintf("%s: kind=%s", strings.TrimSpace(e.Op), e.Kind)}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Err != nil {
		parts = append(parts, "err="+redact.Secrets(e.Err.Error()))
	}
	if e.Snippet != "" {
		parts = append(parts, "body="+e.Snippet)
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New tags err with kind. A nil err still yields a usable error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindForStatus maps an HTTP status code onto the taxonomy.
func KindForStatus(code int) Kind {
	switch code {
	case http.StatusUnauthorized:
		return KindAuthenticationFailed
	case http.StatusPaymentRequired:
		return KindQuotaExceeded
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return KindTransient
	default:
		return KindPermanent
	}
}

// FromStatus builds a classified error for a non-2xx response.
func FromStatus(op string, resp *http.Response, body []byte) *Error {
	e := &Error{Op: op, Kind: KindPermanent}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Kind = KindForStatus(resp.StatusCode)
	}
	e.Snippet = redact.Truncate(body, maxSnippet)
	return e
}

// FromTransport classifies an error returned by http.Client.Do or a body read.
//
// Cancellation of the caller's own context is returned untouched so retry loops
// can stop on it; deadlines and network failures become transient.
func FromTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isNetworkFailure(err) {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

func isNetworkFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// KindOf returns the kind tagged on err. Untagged deadline and network errors
// are transient; anything else untagged is permanent. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if isNetworkFailure(err) {
		return KindTransient
	}
	return KindPermanent
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the HTTP status recorded on err, or 0.
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
