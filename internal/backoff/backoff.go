// Package backoff holds the pure retry decision: whether an error is worth
// another attempt and how long to wait before it.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/krishanraja/mindmaker-sub000/internal/fault"
)

// Policy is an exponential backoff with a cap.
//
// NextDelay is deterministic; Delay applies JitterFrac on top of it so retries
// from concurrent callers do not line up.
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	MaxRetries int

	// JitterFrac applies +/- jitter to Delay (0.2 = +/-20%). Zero disables it.
	JitterFrac float64

	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

// Outcome is the decision for one failed attempt. Terminal outcomes carry no delay.
type Outcome struct {
	Attempt  int
	Err      error
	Delay    time.Duration
	Terminal bool
}

// Default is the policy for generic provider calls.
func Default() Policy {
	return Policy{
		Initial:    1 * time.Second,
		Multiplier: 2,
		Max:        30 * time.Second,
		MaxRetries: 3,
	}
}

// Notify is the policy for transactional email. Caps are small because a user
// is usually waiting on the response.
func Notify() Policy {
	return Policy{
		Initial:    500 * time.Millisecond,
		Multiplier: 2,
		Max:        4 * time.Second,
		MaxRetries: 3,
	}
}

// WithDefaults fills zero fields from Default.
func (p Policy) WithDefaults() Policy {
	d := Default()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.JitterFrac < 0 {
		p.JitterFrac = 0
	}
	return p
}

// Retryable reports whether err is worth another attempt. Only transient and
// rate-limited failures qualify; auth, quota, malformed responses, other 4xx
// and validation errors do not.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch fault.KindOf(err) {
	case fault.KindTransient, fault.KindRateLimited:
		return true
	default:
		return false
	}
}

// NextDelay returns min(Initial * Multiplier^attempt, Max).
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 0) || math.IsNaN(d)) {
		return p.Max
	}
	return time.Duration(d)
}

// Delay is NextDelay with jitter applied, never above Max.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.NextDelay(attempt)
	if p.JitterFrac <= 0 {
		return base
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	j := 1 + (r()*2-1)*p.JitterFrac
	d := time.Duration(float64(base) * j)
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Decide classifies the failure of attempt (0-based).
func (p Policy) Decide(attempt int, err error) Outcome {
	out := Outcome{Attempt: attempt, Err: err}
	if !p.Retryable(err) || attempt >= p.MaxRetries {
		out.Terminal = true
		return out
	}
	out.Delay = p.Delay(attempt)
	return out
}
